package ttb

import "strings"

var wineKeywords = []string{
	"wine", "cabernet", "merlot", "chardonnay", "pinot", "sauvignon",
	"riesling", "zinfandel", "malbec", "syrah", "shiraz", "prosecco",
	"champagne",
}

var spiritsKeywords = []string{
	"whiskey", "whisky", "bourbon", "scotch", "vodka", "gin", "rum",
	"tequila", "brandy", "cognac", "liqueur",
}

var maltKeywords = []string{
	"beer", "ale", "lager", "ipa", "stout", "porter", "pilsner", "malt",
}

// InferCategory maps a class/type string to a beverage category used by
// the category ABV rules. Returns "" when no keyword matches; callers
// skip the range check rather than guessing a category.
func InferCategory(classType string) string {
	lower := strings.ToLower(classType)
	for _, kw := range wineKeywords {
		if strings.Contains(lower, kw) {
			return "wine"
		}
	}
	for _, kw := range spiritsKeywords {
		if strings.Contains(lower, kw) {
			return "distilled_spirits"
		}
	}
	for _, kw := range maltKeywords {
		if strings.Contains(lower, kw) {
			return "malt_beverage"
		}
	}
	return ""
}
