// Package verify implements the label verification engine: TTB
// standards-of-identity checks, ABV tolerance checks, and reference
// matching against the cached beverage catalog with a read-through to
// the COLA public registry on cache miss.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/labelproof/labelproof/internal/store"
	"github.com/labelproof/labelproof/internal/ttb"
	"github.com/labelproof/labelproof/pkg/models"
)

const (
	// fuzzyMatchThreshold is the minimum Jaro-Winkler score for a brand
	// or class/type to match its expected value.
	fuzzyMatchThreshold = 0.85

	// abvTolerance is the TTB-mandated labeling tolerance per 27 CFR,
	// in percentage points.
	abvTolerance = 0.3

	// stalenessDays is how long a cached registry row stays fresh.
	stalenessDays = 30

	// ABV deviation tolerances against reference rows, widening as the
	// match gets weaker.
	abvExactTolerance    = 1.0
	abvFuzzyTolerance    = 2.0
	abvRegistryTolerance = 3.0

	// registryBrandThreshold gates which registry records count as a
	// brand match.
	registryBrandThreshold = 0.80

	// registrySearchLimit caps records pulled per read-through.
	registrySearchLimit = 20
)

// RegistrySearcher is the slice of the COLA client the engine needs.
type RegistrySearcher interface {
	SearchByBrand(ctx context.Context, brandName, category string, limit int) ([]models.RegistryRecord, error)
}

// Engine verifies extracted label fields. The zero-dependency checks
// live in Verify; VerifyWithReference adds catalog and registry
// matching when a store is configured.
type Engine struct {
	beverages store.BeverageStore
	registry  RegistrySearcher
}

// New builds an engine backed by the beverage catalog. registry may be
// nil, in which case cache misses skip the registry read-through.
func New(beverages store.BeverageStore, registry RegistrySearcher) *Engine {
	return &Engine{beverages: beverages, registry: registry}
}

// Verify runs the pure label checks: fuzzy matching against expected
// values, TTB standards of identity, ABV tolerance, net contents
// format, mandatory field presence, and the same-field-of-vision rule.
// Checks append in a fixed order; Passed is the conjunction of every
// check and ConfidenceScore the mean of their similarity scores.
func Verify(extracted models.ExtractedLabelFields, expectedBrand, expectedClass *string, expectedABV *float64) models.VerificationResult {
	var checks []models.FieldVerification

	if expectedBrand != nil {
		score := ttb.JaroWinkler(strings.ToLower(extracted.BrandName), strings.ToLower(*expectedBrand))
		checks = append(checks, models.FieldVerification{
			FieldName:       "brand_name",
			Expected:        expectedBrand,
			Extracted:       extracted.BrandName,
			Matches:         score >= fuzzyMatchThreshold,
			SimilarityScore: score,
		})
	}

	if expectedClass != nil {
		score := ttb.JaroWinkler(strings.ToLower(extracted.ClassType), strings.ToLower(*expectedClass))
		checks = append(checks, models.FieldVerification{
			FieldName:       "class_type",
			Expected:        expectedClass,
			Extracted:       extracted.ClassType,
			Matches:         score >= fuzzyMatchThreshold,
			SimilarityScore: score,
		})
	}

	if extracted.ClassType != "" {
		classification := ttb.ValidateClassification(extracted.ClassType)

		expected := "Valid TTB designation"
		if classification.MatchedStandard != nil {
			expected = *classification.MatchedStandard
		}
		checks = append(checks, models.FieldVerification{
			FieldName:       "class_type_ttb_valid",
			Expected:        &expected,
			Extracted:       extracted.ClassType,
			Matches:         classification.IsValid,
			SimilarityScore: classification.Similarity,
		})

		if classification.SpellingCorrection != nil {
			checks = append(checks, models.FieldVerification{
				FieldName:       "class_type_spelling",
				Expected:        classification.SpellingCorrection,
				Extracted:       extracted.ClassType,
				Matches:         false,
				SimilarityScore: classification.Similarity,
			})
		}

		if classification.RequiresCompositionStatement {
			expected := "Statement of composition required for fanciful names"
			checks = append(checks, models.FieldVerification{
				FieldName:       "composition_statement_required",
				Expected:        &expected,
				Extracted:       extracted.ClassType,
				Matches:         false,
				SimilarityScore: 0.0,
			})
		}
	}

	if expectedABV != nil {
		diff := abs(extracted.ABV - *expectedABV)
		within := diff <= abvTolerance
		score := 1.0
		if !within {
			score = max0(1.0 - diff/100.0)
		}
		expected := fmt.Sprintf("%.1f%%", *expectedABV)
		checks = append(checks, models.FieldVerification{
			FieldName:       "abv",
			Expected:        &expected,
			Extracted:       fmt.Sprintf("%.1f%%", extracted.ABV),
			Matches:         within,
			SimilarityScore: score,
		})
	}

	if extracted.NetContents != "" {
		nc := ttb.ValidateNetContents(extracted.NetContents)
		detail := "Could not parse"
		if nc.ValueML != nil && nc.Unit != nil {
			detail = fmt.Sprintf("%.0f mL (parsed as %s %s)", *nc.ValueML, extracted.NetContents, *nc.Unit)
		}
		expected := "Valid volume with unit (mL or L)"
		score := 0.0
		if nc.IsValid {
			score = 1.0
		}
		checks = append(checks, models.FieldVerification{
			FieldName:       "net_contents_format",
			Expected:        &expected,
			Extracted:       detail,
			Matches:         nc.IsValid,
			SimilarityScore: score,
		})
	}

	checks = append(checks, presenceChecks(extracted)...)

	hasBrand := extracted.BrandName != ""
	hasClass := extracted.ClassType != ""
	hasABV := extracted.ABV > 0
	sameFOV := hasBrand && hasClass && hasABV
	fovExpected := "Brand, class/type, and ABV in same view"
	fovScore := 0.0
	if sameFOV {
		fovScore = 1.0
	}
	checks = append(checks, models.FieldVerification{
		FieldName: "same_field_of_vision",
		Expected:  &fovExpected,
		Extracted: fmt.Sprintf("brand=%s, class=%s, abv=%s",
			yesNo(hasBrand), yesNo(hasClass), yesNo(hasABV)),
		Matches:         sameFOV,
		SimilarityScore: fovScore,
	})

	result := models.VerificationResult{
		FieldResults: checks,
		MatchType:    models.MatchNone,
		Warnings:     []string{},
	}
	result.Passed = allMatch(checks)
	result.ConfidenceScore = meanScore(checks)
	return result
}

// presenceChecks flags empty mandatory fields, one check per missing
// field.
func presenceChecks(extracted models.ExtractedLabelFields) []models.FieldVerification {
	var checks []models.FieldVerification
	required := "Required"

	if extracted.BrandName == "" {
		checks = append(checks, models.FieldVerification{
			FieldName: "brand_name_present", Expected: &required,
		})
	}
	if extracted.ClassType == "" {
		checks = append(checks, models.FieldVerification{
			FieldName: "class_type_present", Expected: &required,
		})
	}
	if extracted.ABV <= 0 {
		expected := "Required (> 0%)"
		checks = append(checks, models.FieldVerification{
			FieldName: "abv_present", Expected: &expected,
			Extracted: fmt.Sprintf("%.1f%%", extracted.ABV),
		})
	}
	if extracted.NetContents == "" {
		checks = append(checks, models.FieldVerification{
			FieldName: "net_contents_present", Expected: &required,
		})
	}
	return checks
}

// VerifyWithReference runs Verify and then matches the label against
// the beverage catalog: exact lookup first, registry read-through on
// miss, then fuzzy brand-only, then the category ABV rule. A match
// history row is recorded for the job.
func (e *Engine) VerifyWithReference(ctx context.Context, jobID uuid.UUID, extracted models.ExtractedLabelFields, expectedBrand, expectedClass *string, expectedABV *float64) (models.VerificationResult, error) {
	result := Verify(extracted, expectedBrand, expectedClass, expectedABV)

	matched, err := e.matchExact(ctx, extracted, &result)
	if err != nil {
		return result, err
	}
	if !matched {
		matched, err = e.matchRegistry(ctx, extracted, &result)
		if err != nil {
			return result, err
		}
	}
	if !matched {
		if err := e.matchFuzzy(ctx, extracted, &result); err != nil {
			return result, err
		}
	}

	if err := e.applyCategoryRule(ctx, extracted, &result); err != nil {
		return result, err
	}

	appendConsistencyCheck(extracted, &result)

	result.Passed = result.Passed && allMatch(result.FieldResults)
	result.ConfidenceScore = meanScore(result.FieldResults)

	history := models.MatchHistory{
		JobID:             jobID,
		MatchedBeverageID: result.MatchedBeverageID,
		MatchType:         result.MatchType,
		ABVDeviation:      result.ABVDeviation,
	}
	if result.MatchType != models.MatchNone {
		confidence := result.MatchConfidence
		history.MatchConfidence = &confidence
	}
	if err := e.beverages.RecordMatch(ctx, history); err != nil {
		return result, fmt.Errorf("record match history: %w", err)
	}
	return result, nil
}

// matchExact looks up the catalog by brand and class/type. On a hit
// the ABV deviation is checked against the tight exact-match
// tolerance.
func (e *Engine) matchExact(ctx context.Context, extracted models.ExtractedLabelFields, result *models.VerificationResult) (bool, error) {
	if extracted.BrandName == "" || extracted.ClassType == "" {
		return false, nil
	}

	ref, isStale, err := e.beverages.FindWithStaleness(ctx, extracted.BrandName, extracted.ClassType, stalenessDays)
	if err != nil {
		return false, fmt.Errorf("exact reference lookup: %w", err)
	}
	if ref == nil {
		return false, nil
	}

	id := ref.ID
	result.MatchedBeverageID = &id
	result.MatchType = models.MatchExact
	result.MatchConfidence = 1.0

	if isStale {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"Database cache entry is older than %d days. Consider refreshing TTB COLA data for brand '%s' (source: %s).",
			stalenessDays, ref.BrandName, ref.Source))
	}

	diff := abs(extracted.ABV - ref.ABV)
	result.ABVDeviation = &diff

	expected := fmt.Sprintf("%.1f%%", ref.ABV)
	check := models.FieldVerification{
		FieldName: "abv_database_match",
		Expected:  &expected,
		Extracted: fmt.Sprintf("%.1f%%", extracted.ABV),
	}
	if diff > abvExactTolerance {
		check.SimilarityScore = max0(1.0 - diff/100.0)
		result.Passed = false
	} else {
		check.Matches = true
		check.SimilarityScore = 1.0 - diff/100.0
	}
	result.FieldResults = append(result.FieldResults, check)
	return true, nil
}

// matchRegistry reads through to the COLA registry on a cache miss,
// writes every record into the catalog, and scores the best candidate
// by weighted brand and class similarity. Registry failures degrade to
// a warning; they never fail the job.
func (e *Engine) matchRegistry(ctx context.Context, extracted models.ExtractedLabelFields, result *models.VerificationResult) (bool, error) {
	if e.registry == nil || extracted.BrandName == "" {
		return false, nil
	}

	records, err := e.registry.SearchByBrand(ctx, extracted.BrandName, "", registrySearchLimit)
	if err != nil {
		log.Warn().Err(err).Str("brand", extracted.BrandName).Msg("registry lookup failed")
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("TTB COLA registry lookup failed for brand '%s': %v", extracted.BrandName, err))
		return false, nil
	}
	if len(records) == 0 {
		return false, nil
	}

	cached, err := e.beverages.UpsertBeverages(ctx, records)
	if err != nil {
		return false, fmt.Errorf("write registry records through: %w", err)
	}

	best, bestScore, brandScore := pickBestRecord(extracted, records)
	if best == nil {
		return false, nil
	}

	result.MatchType = models.MatchRegistry
	result.MatchConfidence = bestScore
	for i := range cached {
		if strings.EqualFold(cached[i].BrandName, best.BrandName) && strings.EqualFold(cached[i].ClassType, best.ClassTypeDesc) {
			id := cached[i].ID
			result.MatchedBeverageID = &id
			break
		}
	}

	expected := best.ClassTypeDesc
	result.FieldResults = append(result.FieldResults, models.FieldVerification{
		FieldName:       "ttb_cola_reference",
		Expected:        &expected,
		Extracted:       fmt.Sprintf("%s / %s", extracted.BrandName, extracted.ClassType),
		Matches:         brandScore >= registryBrandThreshold,
		SimilarityScore: bestScore,
	})

	if best.InferredABV != nil {
		diff := abs(extracted.ABV - *best.InferredABV)
		result.ABVDeviation = &diff
		expected := fmt.Sprintf("%.1f%% (inferred from %s)", *best.InferredABV, best.ClassTypeDesc)
		check := models.FieldVerification{
			FieldName: "abv_ttb_cola_reference",
			Expected:  &expected,
			Extracted: fmt.Sprintf("%.1f%%", extracted.ABV),
		}
		if diff > abvRegistryTolerance {
			check.SimilarityScore = max0(1.0 - diff/100.0)
			result.Passed = false
		} else {
			check.Matches = true
			check.SimilarityScore = 1.0 - diff/100.0
		}
		result.FieldResults = append(result.FieldResults, check)
	}
	return true, nil
}

// pickBestRecord scores records by 0.7*brand + 0.3*class similarity,
// considering only records whose brand similarity clears the gate.
func pickBestRecord(extracted models.ExtractedLabelFields, records []models.RegistryRecord) (*models.RegistryRecord, float64, float64) {
	var best *models.RegistryRecord
	var bestScore, bestBrand float64

	for i := range records {
		brandScore := ttb.JaroWinkler(strings.ToLower(extracted.BrandName), strings.ToLower(records[i].BrandName))
		if brandScore < registryBrandThreshold {
			continue
		}
		classScore := ttb.JaroWinkler(strings.ToLower(extracted.ClassType), strings.ToLower(records[i].ClassTypeDesc))
		weighted := 0.7*brandScore + 0.3*classScore
		if weighted > bestScore {
			best = &records[i]
			bestScore = weighted
			bestBrand = brandScore
		}
	}
	return best, bestScore, bestBrand
}

// matchFuzzy falls back to a brand-only catalog lookup with a wider
// ABV tolerance. The ABV check only appends when the tolerance is
// exceeded.
func (e *Engine) matchFuzzy(ctx context.Context, extracted models.ExtractedLabelFields, result *models.VerificationResult) error {
	if extracted.BrandName == "" {
		return nil
	}

	matches, err := e.beverages.FindByBrand(ctx, extracted.BrandName)
	if err != nil {
		return fmt.Errorf("fuzzy reference lookup: %w", err)
	}
	if len(matches) == 0 {
		return nil
	}

	ref := matches[0]
	id := ref.ID
	result.MatchedBeverageID = &id
	result.MatchType = models.MatchFuzzy
	result.MatchConfidence = ttb.JaroWinkler(strings.ToLower(extracted.ClassType), strings.ToLower(ref.ClassType))

	diff := abs(extracted.ABV - ref.ABV)
	result.ABVDeviation = &diff

	if diff > abvFuzzyTolerance {
		expected := fmt.Sprintf("%.1f%% (from similar product: %s)", ref.ABV, ref.ClassType)
		result.FieldResults = append(result.FieldResults, models.FieldVerification{
			FieldName:       "abv_database_fuzzy_match",
			Expected:        &expected,
			Extracted:       fmt.Sprintf("%.1f%%", extracted.ABV),
			SimilarityScore: max0(1.0 - diff/100.0),
		})
		result.Passed = false
	}
	return nil
}

// applyCategoryRule checks the extracted ABV against the hard bounds
// for the category inferred from the class/type, and against the
// typical range when inside the hard bounds.
func (e *Engine) applyCategoryRule(ctx context.Context, extracted models.ExtractedLabelFields, result *models.VerificationResult) error {
	rule, err := e.beverages.CategoryRuleFor(ctx, extracted.ClassType)
	if err != nil {
		return fmt.Errorf("category rule lookup: %w", err)
	}
	if rule == nil {
		return nil
	}

	applied := fmt.Sprintf("%s (%.1f-%.1f%% ABV)", rule.Category, rule.MinABV, rule.MaxABV)
	result.CategoryRuleApplied = &applied

	if extracted.ABV < rule.MinABV || extracted.ABV > rule.MaxABV {
		cfr := "27 CFR"
		if rule.CFRReference != nil {
			cfr = *rule.CFRReference
		}
		expected := fmt.Sprintf("%.1f-%.1f%% (%s, per %s)", rule.MinABV, rule.MaxABV, rule.Category, cfr)
		result.FieldResults = append(result.FieldResults, models.FieldVerification{
			FieldName: "abv_category_range",
			Expected:  &expected,
			Extracted: fmt.Sprintf("%.1f%%", extracted.ABV),
		})
		result.Passed = false
		if result.MatchType == models.MatchNone {
			result.MatchType = models.MatchCategoryOnly
		}
		return nil
	}

	if rule.TypicalMinABV != nil && rule.TypicalMaxABV != nil &&
		(extracted.ABV < *rule.TypicalMinABV || extracted.ABV > *rule.TypicalMaxABV) {
		expected := fmt.Sprintf("%.1f-%.1f%% (typical for %s)", *rule.TypicalMinABV, *rule.TypicalMaxABV, rule.Category)
		result.FieldResults = append(result.FieldResults, models.FieldVerification{
			FieldName:       "abv_category_typical_range",
			Expected:        &expected,
			Extracted:       fmt.Sprintf("%.1f%% (unusual but valid)", extracted.ABV),
			Matches:         true,
			SimilarityScore: 0.7,
		})
	}
	return nil
}

// appendConsistencyCheck summarizes any failed reference or category
// ABV checks into a single logical-consistency finding.
func appendConsistencyCheck(extracted models.ExtractedLabelFields, result *models.VerificationResult) {
	inconsistent := false
	for _, f := range result.FieldResults {
		if !f.Matches && (strings.Contains(f.FieldName, "abv_database") ||
			strings.Contains(f.FieldName, "abv_ttb_cola") || strings.Contains(f.FieldName, "abv_category")) {
			inconsistent = true
			break
		}
	}
	if !inconsistent {
		return
	}
	expected := fmt.Sprintf("%s with appropriate ABV for category", extracted.ClassType)
	result.FieldResults = append(result.FieldResults, models.FieldVerification{
		FieldName: "logical_consistency",
		Expected:  &expected,
		Extracted: fmt.Sprintf("%s with %.1f%% ABV (inconsistent)", extracted.ClassType, extracted.ABV),
	})
}

// ── Helpers ──────────────────────────────────────────────────

func allMatch(checks []models.FieldVerification) bool {
	for _, c := range checks {
		if !c.Matches {
			return false
		}
	}
	return true
}

func meanScore(checks []models.FieldVerification) float64 {
	if len(checks) == 0 {
		return 0.0
	}
	var sum float64
	for _, c := range checks {
		sum += c.SimilarityScore
	}
	return sum / float64(len(checks))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
