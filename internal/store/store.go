// Package store provides durable persistence for verification jobs and
// the beverage reference cache. Handler and worker code depend on the
// interfaces here, which makes it easy to swap between in-memory
// (tests, local dev) and PostgreSQL (production) implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/labelproof/labelproof/pkg/models"
)

// Store is the combined persistence interface.
type Store interface {
	JobStore
	BeverageStore

	// Ping checks if the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close()

	// Migrate creates tables and seed data.
	Migrate(ctx context.Context) error
}

// ── Job Store ────────────────────────────────────────────────

// JobStore owns verification job rows. Every operation is a single
// statement and idempotent under transport retry.
type JobStore interface {
	// CreateJob inserts a pending job for an uploaded image.
	CreateJob(ctx context.Context, imageKey string, userID *string) (*models.VerificationJob, error)

	// GetJob returns a job by ID, or *ErrNotFound.
	GetJob(ctx context.Context, id uuid.UUID) (*models.VerificationJob, error)

	// SetJobStatus updates the status. Entering processing stamps
	// processing_started_at; entering completed or failed stamps
	// processing_completed_at.
	SetJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error

	// SetJobResult atomically sets status, result, and error.
	SetJobResult(ctx context.Context, id uuid.UUID, status models.JobStatus, result *models.VerificationResult, jobErr *string) error

	// IncrementRetry bumps retry_count and returns the new value.
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)

	// ListPendingJobs returns pending jobs, oldest submission first.
	ListPendingJobs(ctx context.Context, limit int) ([]models.VerificationJob, error)

	// ListExpiredJobs returns completed or failed jobs whose processing
	// finished before cutoff, oldest first. At most limit rows.
	ListExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.VerificationJob, error)

	// DeleteJob removes a job row. Deleting a missing job is not an
	// error.
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// ── Beverage Store ───────────────────────────────────────────

// BeverageStore owns the known-beverage reference cache, the category
// ABV rules, and the match-history analytics log.
type BeverageStore interface {
	// FindExact matches brand and class/type case-insensitively,
	// verified rows first, then lowest ABV. At most 10 rows.
	FindExact(ctx context.Context, brand, classType string) ([]models.KnownBeverage, error)

	// FindByBrand matches brand only, verified rows first. At most 10.
	FindByBrand(ctx context.Context, brand string) ([]models.KnownBeverage, error)

	// FindWithStaleness returns the first exact hit together with
	// whether it is older than thresholdDays. Nil when no hit.
	FindWithStaleness(ctx context.Context, brand, classType string, thresholdDays int) (*models.KnownBeverage, bool, error)

	// UpsertBeverages writes registry records through to the cache,
	// keyed on (lower(brand), lower(class/type), source). Idempotent.
	UpsertBeverages(ctx context.Context, records []models.RegistryRecord) ([]models.KnownBeverage, error)

	// CategoryRuleFor returns the ABV rule for the category inferred
	// from classType, or nil when no category matches.
	CategoryRuleFor(ctx context.Context, classType string) (*models.CategoryRule, error)

	// RecordMatch appends a match-history row for analytics.
	RecordMatch(ctx context.Context, h models.MatchHistory) error
}

// ── Errors ───────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}
