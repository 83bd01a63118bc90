// Package ttb holds the TTB standards-of-identity reference data and
// the pure label validation helpers built on it.
//
// Based on 27 CFR Part 5 (Distilled Spirits), Part 4 (Wine), and
// Part 7 (Malt Beverages).
package ttb

import (
	"strings"

	"github.com/xrash/smetrics"
)

// ClassMatchThreshold is the minimum similarity for a class/type to be
// considered a valid TTB designation.
const ClassMatchThreshold = 0.88

// misspellingThreshold triggers a spelling correction when the input is
// nearly identical to a known misspelling.
const misspellingThreshold = 0.95

// JaroWinkler scores string similarity in [0,1]. The same scorer is
// used for every fuzzy comparison in the service so that thresholds
// stay comparable.
func JaroWinkler(a, b string) float64 {
	return smetrics.JaroWinkler(a, b, 0.7, 4)
}

// ── Distilled Spirits (27 CFR 5.22) ──────────────────────────

// DistilledSpiritsTypes are the standard spirits designations.
var DistilledSpiritsTypes = []string{
	// Whiskey types
	"Bourbon Whiskey",
	"Straight Bourbon Whiskey",
	"Kentucky Straight Bourbon Whiskey",
	"Tennessee Whiskey",
	"Rye Whiskey",
	"Straight Rye Whiskey",
	"Corn Whiskey",
	"Wheat Whiskey",
	"Malt Whiskey",
	"Blended Whiskey",
	"Light Whiskey",
	"Spirit Whiskey",
	"Scotch Whisky",
	"Irish Whiskey",
	"Canadian Whisky",
	"Whiskey",
	"Whisky",
	// Vodka
	"Vodka",
	// Gin
	"Gin",
	"Distilled Gin",
	"London Dry Gin",
	// Rum
	"Rum",
	"Light Rum",
	"Dark Rum",
	"Gold Rum",
	"Aged Rum",
	"Spiced Rum",
	// Brandy
	"Brandy",
	"Grape Brandy",
	"Cognac",
	"Armagnac",
	"Pisco",
	"Calvados",
	"Apple Brandy",
	"Applejack",
	// Tequila / Mezcal
	"Tequila",
	"Tequila Blanco",
	"Tequila Reposado",
	"Tequila Anejo",
	"Mezcal",
	// Liqueurs / Cordials
	"Liqueur",
	"Cordial",
	"Triple Sec",
	"Amaretto",
	"Schnapps",
	// Other spirits
	"Absinthe",
	"Aquavit",
	"Bitters",
	"Grappa",
	"Shochu",
	"Soju",
	"Baijiu",
	"Cachaca",
	"Neutral Spirits",
	"Grain Spirits",
	"Distilled Spirits Specialty",
}

// ── Wine (27 CFR 4.21) ───────────────────────────────────────

// WineTypes are the standard wine designations plus common varietals.
var WineTypes = []string{
	"Grape Wine",
	"Table Wine",
	"Red Wine",
	"White Wine",
	"Rose Wine",
	"Rosé",
	"Sparkling Wine",
	"Champagne",
	"Prosecco",
	"Cava",
	"Dessert Wine",
	"Sherry",
	"Port",
	"Madeira",
	"Marsala",
	"Vermouth",
	"Saké",
	"Sake",
	"Fruit Wine",
	"Apple Wine",
	"Cider",
	"Hard Cider",
	"Mead",
	"Honey Wine",
	"Retsina",
	"Natural Wine",
	"Fortified Wine",
	"Aperitif Wine",
	// Varietals (common)
	"Cabernet Sauvignon",
	"Merlot",
	"Pinot Noir",
	"Chardonnay",
	"Sauvignon Blanc",
	"Riesling",
	"Pinot Grigio",
	"Pinot Gris",
	"Zinfandel",
	"Syrah",
	"Shiraz",
	"Malbec",
	"Tempranillo",
	"Sangiovese",
	"Moscato",
	"Gewurztraminer",
}

// ── Malt Beverages (27 CFR 7.24) ─────────────────────────────

// MaltBeverageTypes are the standard malt beverage designations.
var MaltBeverageTypes = []string{
	"Beer",
	"Ale",
	"Lager",
	"Stout",
	"Porter",
	"Pilsner",
	"Pilsener",
	"India Pale Ale",
	"IPA",
	"Pale Ale",
	"Wheat Beer",
	"Hefeweizen",
	"Kolsch",
	"Kölsch",
	"Saison",
	"Bock",
	"Doppelbock",
	"Dunkel",
	"Marzen",
	"Oktoberfest",
	"Amber Ale",
	"Brown Ale",
	"Cream Ale",
	"Blonde Ale",
	"Golden Ale",
	"Red Ale",
	"Scotch Ale",
	"Barleywine",
	"Sour Beer",
	"Gose",
	"Berliner Weisse",
	"Lambic",
	"Malt Liquor",
	"Malt Beverage",
	"Hard Seltzer",
	"Flavored Malt Beverage",
}

// commonMisspellings maps frequent label misspellings to the correct
// TTB term.
var commonMisspellings = []struct{ wrong, right string }{
	{"burbon", "Bourbon"},
	{"bourban", "Bourbon"},
	{"whisky", "Whiskey"},
	{"vodca", "Vodka"},
	{"votka", "Vodka"},
	{"tequlia", "Tequila"},
	{"tequilla", "Tequila"},
	{"liqeur", "Liqueur"},
	{"liquer", "Liqueur"},
	{"liquor", "Liqueur"},
	{"cognack", "Cognac"},
	{"champaign", "Champagne"},
	{"champange", "Champagne"},
	{"cabernet sauvingon", "Cabernet Sauvignon"},
	{"cabernet savignon", "Cabernet Sauvignon"},
	{"chardonay", "Chardonnay"},
	{"chardanay", "Chardonnay"},
	{"rieseling", "Riesling"},
	{"merlo", "Merlot"},
	{"pinot nior", "Pinot Noir"},
	{"zinfandal", "Zinfandel"},
	{"pils", "Pilsner"},
	{"hefeweisen", "Hefeweizen"},
}

// Classification is the outcome of matching a class/type designation
// against the TTB standards of identity.
type Classification struct {
	// Input is the trimmed designation as extracted from the label.
	Input string
	// IsValid reports whether the designation matches a known standard.
	IsValid bool
	// MatchedStandard is the closest standard term, set when valid.
	MatchedStandard *string
	// Similarity is the score against the matched standard.
	Similarity float64
	// Category is "spirits", "wine", or "malt_beverage", set when valid.
	Category *string
	// IsFlavored reports a "<flavor> flavored <base>" designation.
	IsFlavored bool
	// SpellingCorrection is the corrected term when the input matches a
	// known misspelling.
	SpellingCorrection *string
	// RequiresCompositionStatement flags fanciful names that need a
	// statement of composition under 27 CFR.
	RequiresCompositionStatement bool
}

// ValidateClassification matches a class/type designation against the
// TTB standards of identity.
func ValidateClassification(classType string) Classification {
	input := strings.TrimSpace(classType)
	lower := strings.ToLower(input)

	correction := checkMisspelling(lower)
	isFlavored, baseType := checkFlavored(lower)

	matchTerm := lower
	if correction != nil {
		matchTerm = strings.ToLower(*correction)
	} else if isFlavored {
		matchTerm = baseType
	}

	bestMatch, bestScore, category := findBestMatch(matchTerm)
	isValid := bestScore >= ClassMatchThreshold

	// Anything that matches no standard and carries no flavored
	// designation is treated as a fanciful name.
	requiresComposition := !isValid && lower != "" && !isFlavored

	c := Classification{
		Input:                        input,
		IsValid:                      isValid,
		Similarity:                   bestScore,
		IsFlavored:                   isFlavored,
		SpellingCorrection:           correction,
		RequiresCompositionStatement: requiresComposition,
	}
	if isValid {
		c.MatchedStandard = &bestMatch
		c.Category = &category
	}
	return c
}

// checkMisspelling matches the whole input and then each word against
// the misspelling map. A word that "corrects" to itself is not a
// misspelling.
func checkMisspelling(input string) *string {
	words := strings.Fields(input)
	for _, m := range commonMisspellings {
		if input != strings.ToLower(m.right) &&
			(input == m.wrong || JaroWinkler(input, m.wrong) > misspellingThreshold) {
			right := m.right
			return &right
		}
		for _, word := range words {
			if word == strings.ToLower(m.right) {
				continue
			}
			if word == m.wrong || JaroWinkler(word, m.wrong) > misspellingThreshold {
				right := m.right
				return &right
			}
		}
	}
	return nil
}

// checkFlavored detects "<flavor> flavored <base>" and
// "<flavor>-flavored <base>" designations, returning the base type.
func checkFlavored(input string) (bool, string) {
	for _, marker := range []string{"flavored", "-flavored"} {
		if idx := strings.Index(input, marker); idx >= 0 {
			base := strings.TrimSpace(input[idx+len(marker):])
			if base != "" {
				return true, base
			}
		}
	}
	return false, input
}

func findBestMatch(input string) (match string, score float64, category string) {
	vocabularies := []struct {
		terms    []string
		category string
	}{
		{DistilledSpiritsTypes, "spirits"},
		{WineTypes, "wine"},
		{MaltBeverageTypes, "malt_beverage"},
	}

	for _, v := range vocabularies {
		for _, term := range v.terms {
			if s := JaroWinkler(input, strings.ToLower(term)); s > score {
				match, score, category = term, s, v.category
			}
		}
	}
	return match, score, category
}
