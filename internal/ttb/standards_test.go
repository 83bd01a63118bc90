package ttb

import "testing"

func TestValidateClassificationBourbon(t *testing.T) {
	result := ValidateClassification("Kentucky Straight Bourbon Whiskey")
	if !result.IsValid {
		t.Fatal("expected valid classification")
	}
	if result.Category == nil || *result.Category != "spirits" {
		t.Errorf("Category = %v, want spirits", result.Category)
	}
}

func TestValidateClassificationVodka(t *testing.T) {
	result := ValidateClassification("Vodka")
	if !result.IsValid {
		t.Fatal("expected valid classification")
	}
	if result.MatchedStandard == nil || *result.MatchedStandard != "Vodka" {
		t.Errorf("MatchedStandard = %v, want Vodka", result.MatchedStandard)
	}
	if result.Similarity < 0.999 {
		t.Errorf("Similarity = %v, want 1.0 for exact match", result.Similarity)
	}
}

func TestValidateClassificationWine(t *testing.T) {
	result := ValidateClassification("Cabernet Sauvignon")
	if !result.IsValid {
		t.Fatal("expected valid classification")
	}
	if result.Category == nil || *result.Category != "wine" {
		t.Errorf("Category = %v, want wine", result.Category)
	}
}

func TestValidateClassificationMaltBeverage(t *testing.T) {
	result := ValidateClassification("India Pale Ale")
	if !result.IsValid {
		t.Fatal("expected valid classification")
	}
	if result.Category == nil || *result.Category != "malt_beverage" {
		t.Errorf("Category = %v, want malt_beverage", result.Category)
	}
}

func TestValidateClassificationMisspelling(t *testing.T) {
	result := ValidateClassification("Burbon Whiskey")
	if result.SpellingCorrection == nil {
		t.Fatal("expected spelling correction for 'Burbon'")
	}
	if *result.SpellingCorrection != "Bourbon" {
		t.Errorf("SpellingCorrection = %q, want Bourbon", *result.SpellingCorrection)
	}
}

func TestValidateClassificationFlavored(t *testing.T) {
	result := ValidateClassification("Chocolate Flavored Brandy")
	if !result.IsFlavored {
		t.Fatal("expected flavored designation")
	}
	if !result.IsValid {
		t.Error("base type Brandy should still validate")
	}
	if result.RequiresCompositionStatement {
		t.Error("flavored designations do not require a composition statement")
	}
}

func TestValidateClassificationFancifulName(t *testing.T) {
	result := ValidateClassification("Mystic Dragon Fire")
	if result.IsValid {
		t.Error("fanciful name should not validate")
	}
	if !result.RequiresCompositionStatement {
		t.Error("fanciful name must require a statement of composition")
	}
	if result.MatchedStandard != nil {
		t.Errorf("MatchedStandard = %v, want nil for invalid input", result.MatchedStandard)
	}
}

func TestValidateClassificationEmpty(t *testing.T) {
	result := ValidateClassification("   ")
	if result.IsValid {
		t.Error("empty input should not validate")
	}
	if result.RequiresCompositionStatement {
		t.Error("empty input should not require a composition statement")
	}
}

func TestValidateNetContents(t *testing.T) {
	cases := []struct {
		input   string
		valid   bool
		valueML float64
		unit    string
	}{
		{"750 mL", true, 750, "mL"},
		{"750ml", true, 750, "mL"},
		{"1.75 L", true, 1750, "L"},
		{"1 liter", true, 1000, "L"},
		{"12 oz", true, 12 * 29.5735, "fl oz"},
		{"750", true, 750, "mL"},   // bare number ≥ 10 → mL
		{"1.5", true, 1500, "L"},   // bare number < 10 → L
		{"375 milliliters", true, 375, "mL"},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got := ValidateNetContents(tc.input)
			if got.IsValid != tc.valid {
				t.Fatalf("IsValid = %v, want %v", got.IsValid, tc.valid)
			}
			if got.ValueML == nil || *got.ValueML != tc.valueML {
				t.Errorf("ValueML = %v, want %v", got.ValueML, tc.valueML)
			}
			if got.Unit == nil || *got.Unit != tc.unit {
				t.Errorf("Unit = %v, want %q", got.Unit, tc.unit)
			}
		})
	}
}

func TestValidateNetContentsUnparseable(t *testing.T) {
	for _, input := range []string{"", "no numbers here", "mL"} {
		got := ValidateNetContents(input)
		if got.IsValid {
			t.Errorf("ValidateNetContents(%q).IsValid = true, want false", input)
		}
	}
}

func TestInferCategory(t *testing.T) {
	cases := []struct {
		classType string
		want      string
	}{
		{"Cabernet Sauvignon", "wine"},
		{"Red Wine", "wine"},
		{"Chardonnay", "wine"},
		{"Bourbon Whiskey", "distilled_spirits"},
		{"Vodka", "distilled_spirits"},
		{"Tequila", "distilled_spirits"},
		{"IPA", "malt_beverage"},
		{"Lager Beer", "malt_beverage"},
		{"Stout", "malt_beverage"},
		{"Mystic Dragon Fire", ""},
	}
	for _, tc := range cases {
		if got := InferCategory(tc.classType); got != tc.want {
			t.Errorf("InferCategory(%q) = %q, want %q", tc.classType, got, tc.want)
		}
	}
}
