package ttb

import (
	"strconv"
	"strings"
	"unicode"
)

// StandardSizesML are the standard-of-fill container sizes.
var StandardSizesML = []float64{50, 100, 200, 375, 500, 750, 1000, 1750}

const mlPerFlOz = 29.5735

// NetContents is the parsed form of a net-contents statement.
type NetContents struct {
	IsValid bool
	ValueML *float64
	Unit    *string
}

// ValidateNetContents parses a net-contents statement like "750 mL" or
// "1.75 L" and normalizes it to milliliters. A bare number below 10 is
// assumed to be liters, otherwise milliliters.
func ValidateNetContents(netContents string) NetContents {
	cleaned := strings.ToLower(strings.TrimSpace(netContents))

	var num, unitStr strings.Builder
	foundDigit := false
	for _, ch := range cleaned {
		switch {
		case unicode.IsDigit(ch) || ch == '.':
			num.WriteRune(ch)
			foundDigit = true
		case foundDigit && !unicode.IsSpace(ch):
			unitStr.WriteRune(ch)
		}
	}

	value, err := strconv.ParseFloat(num.String(), 64)
	if err != nil {
		return NetContents{}
	}

	var unit string
	switch unitStr.String() {
	case "ml", "milliliters", "millilitres":
		unit = "mL"
	case "l", "liter", "liters", "litre", "litres":
		unit = "L"
	case "oz", "floz", "fl.oz.", "fl.oz":
		unit = "fl oz"
	default:
		if value < 10 {
			unit = "L"
		} else {
			unit = "mL"
		}
	}

	valueML := value
	switch unit {
	case "L":
		valueML = value * 1000
	case "fl oz":
		valueML = value * mlPerFlOz
	}

	return NetContents{IsValid: valueML > 0, ValueML: &valueML, Unit: &unit}
}
