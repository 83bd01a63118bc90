// Package models defines the shared data types for the label verification
// service: verification jobs, queue payloads, extracted label fields,
// verification results, and the reference catalog of known beverages.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ── Job Lifecycle ────────────────────────────────────────────

// JobStatus is the lifecycle state of a verification job.
// Transitions: pending → processing → {completed, failed};
// failed → pending while the retry budget is not exhausted.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// VerificationJob is a durable job row. Created by intake, mutated only
// by the worker, never deleted.
type VerificationJob struct {
	ID                    uuid.UUID           `json:"id"`
	Status                JobStatus           `json:"status"`
	ImageKey              string              `json:"image_key"`
	UserID                *string             `json:"user_id,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
	ProcessingStartedAt   *time.Time          `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time          `json:"processing_completed_at,omitempty"`
	RetryCount            int                 `json:"retry_count"`
	Error                 *string             `json:"error,omitempty"`
	ExtractedFields       *ExtractedLabelFields `json:"extracted_fields,omitempty"`
	Result                *VerificationResult `json:"verification_result,omitempty"`
}

// QueuedJob is the payload carried on the Redis queue. Two payloads are
// equal iff their JSON serializations are byte-identical; the queue's
// Complete relies on this to remove the in-flight copy.
type QueuedJob struct {
	JobID         uuid.UUID `json:"job_id"`
	ImageKey      string    `json:"image_key"`
	ExpectedBrand *string   `json:"expected_brand"`
	ExpectedClass *string   `json:"expected_class"`
	ExpectedABV   *float64  `json:"expected_abv"`
}

// ── Extracted Label Fields ───────────────────────────────────

// ExtractedLabelFields holds the structured fields the vision model
// reads off a label image.
type ExtractedLabelFields struct {
	BrandName         string  `json:"brand_name" validate:"min=1,max=200"`
	ClassType         string  `json:"class_type" validate:"min=1,max=200"`
	ABV               float64 `json:"abv" validate:"gte=0,lte=100"`
	NetContents       string  `json:"net_contents" validate:"min=1,max=100"`
	CountryOfOrigin   *string `json:"country_of_origin,omitempty"`
	GovernmentWarning *string `json:"government_warning,omitempty"`
}

// ── Verification Results ─────────────────────────────────────

// Match types for a verification result, ordered roughly by strength.
const (
	MatchNone         = "no_match"
	MatchCategoryOnly = "category_only"
	MatchFuzzy        = "fuzzy"
	MatchExact        = "exact"
	MatchRegistry     = "registry_lookup"
)

// FieldVerification is one check performed by the verification engine.
type FieldVerification struct {
	FieldName       string  `json:"field_name"`
	Expected        *string `json:"expected,omitempty"`
	Extracted       string  `json:"extracted"`
	Matches         bool    `json:"matches"`
	SimilarityScore float64 `json:"similarity_score"`
}

// VerificationResult is the engine's verdict on one label.
//
// FieldResults preserve evaluation order; Passed is the conjunction of
// every Matches flag and ConfidenceScore the mean of every
// SimilarityScore.
type VerificationResult struct {
	Passed              bool                `json:"passed"`
	FieldResults        []FieldVerification `json:"field_results"`
	ConfidenceScore     float64             `json:"confidence_score"`
	MatchType           string              `json:"match_type"`
	MatchConfidence     float64             `json:"match_confidence"`
	MatchedBeverageID   *uuid.UUID          `json:"matched_beverage_id,omitempty"`
	ABVDeviation        *float64            `json:"abv_deviation,omitempty"`
	CategoryRuleApplied *string             `json:"category_rule_applied,omitempty"`
	Warnings            []string            `json:"warnings"`
}

// ── Reference Catalog ────────────────────────────────────────

// Beverage categories per 27 CFR Parts 4, 5, and 7.
const (
	CategoryWine             = "wine"
	CategoryDistilledSpirits = "distilled_spirits"
	CategoryMaltBeverage     = "malt_beverage"
)

// KnownBeverage is a cached reference row, typically seeded from the
// TTB COLA public registry. Uniqueness key is
// (lower(brand_name), lower(class_type), source).
type KnownBeverage struct {
	ID               uuid.UUID `json:"id"`
	BrandName        string    `json:"brand_name"`
	ProductName      *string   `json:"product_name,omitempty"`
	ClassType        string    `json:"class_type"`
	BeverageCategory string    `json:"beverage_category"`
	ABV              float64   `json:"abv"`
	StandardSizeML   *int      `json:"standard_size_ml,omitempty"`
	CountryOfOrigin  *string   `json:"country_of_origin,omitempty"`
	Producer         *string   `json:"producer,omitempty"`
	IsVerified       bool      `json:"is_verified"`
	Source           string    `json:"source"`
	SourceURL        *string   `json:"source_url,omitempty"`
	Notes            *string   `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CategoryRule is the permitted ABV range for a beverage category.
// Min/Max are hard bounds; the typical range is informational only.
type CategoryRule struct {
	ID            int       `json:"id"`
	Category      string    `json:"category"`
	MinABV        float64   `json:"min_abv"`
	MaxABV        float64   `json:"max_abv"`
	TypicalMinABV *float64  `json:"typical_min_abv,omitempty"`
	TypicalMaxABV *float64  `json:"typical_max_abv,omitempty"`
	CFRReference  *string   `json:"cfr_reference,omitempty"`
	Description   *string   `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// MatchHistory is an append-only analytics row recording which catalog
// entry a job matched and how confidently.
type MatchHistory struct {
	ID                uuid.UUID  `json:"id"`
	JobID             uuid.UUID  `json:"job_id"`
	MatchedBeverageID *uuid.UUID `json:"matched_beverage_id,omitempty"`
	MatchType         string     `json:"match_type"`
	MatchConfidence   *float64   `json:"match_confidence,omitempty"`
	ABVDeviation      *float64   `json:"abv_deviation,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ── TTB COLA Registry ────────────────────────────────────────

// RegistryRecord is one row scraped from the TTB COLA public search.
// COLA results carry no ABV; InferredABV is derived from the class/type
// description using the regulatory ranges in 27 CFR.
type RegistryRecord struct {
	TTBID            string     `json:"ttb_id"`
	PermitNo         string     `json:"permit_no"`
	SerialNumber     string     `json:"serial_number"`
	CompletedDate    *time.Time `json:"completed_date,omitempty"`
	FancifulName     *string    `json:"fanciful_name,omitempty"`
	BrandName        string     `json:"brand_name"`
	OriginCode       string     `json:"origin_code"`
	OriginDesc       string     `json:"origin_desc"`
	ClassTypeCode    string     `json:"class_type_code"`
	ClassTypeDesc    string     `json:"class_type_desc"`
	SourceURL        string     `json:"source_url"`
	InferredABV      *float64   `json:"inferred_abv,omitempty"`
	BeverageCategory string     `json:"beverage_category"`
}

// ── API Payloads ─────────────────────────────────────────────

// VerifyRequest is the metadata portion of a label submission.
type VerifyRequest struct {
	BrandName   *string  `json:"brand_name" validate:"omitempty,min=1,max=200"`
	ClassType   *string  `json:"class_type" validate:"omitempty,min=1,max=200"`
	ExpectedABV *float64 `json:"expected_abv" validate:"omitempty,gte=0,lte=100"`
}

// VerifyResponse acknowledges a submitted label.
type VerifyResponse struct {
	JobID   uuid.UUID `json:"job_id"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// JobStatusResponse reports the state of a submitted job.
type JobStatusResponse struct {
	JobID  uuid.UUID           `json:"job_id"`
	Status JobStatus           `json:"status"`
	Result *VerificationResult `json:"result,omitempty"`
	Error  *string             `json:"error,omitempty"`
}
