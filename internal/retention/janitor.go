// Package retention purges finished verification jobs after their
// retention window. Each expired job loses its encrypted label image
// first, then its database row; a blob delete failure skips the row so
// the next cycle retries the pair. Results and match history older
// than the window are gone for good, so the window should comfortably
// exceed how long callers poll for results.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/labelproof/labelproof/internal/store"
)

// DefaultRetentionDays is how long finished jobs are kept.
const DefaultRetentionDays = 30

// DefaultBatchSize caps how many jobs a single cycle deletes.
const DefaultBatchSize = 500

// BlobDeleter removes stored label images.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// CycleStats tracks what a single retention sweep did.
type CycleStats struct {
	JobsPurged   int
	BlobsDeleted int
	Errors       []error
}

// Janitor periodically deletes expired jobs and their blobs.
type Janitor struct {
	jobs          store.JobStore
	blobs         BlobDeleter
	interval      time.Duration
	retentionDays int
	batchSize     int
}

// NewJanitor creates a retention janitor that sweeps on the given
// interval.
func NewJanitor(jobs store.JobStore, blobs BlobDeleter, interval time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	return &Janitor{
		jobs:          jobs,
		blobs:         blobs,
		interval:      interval,
		retentionDays: DefaultRetentionDays,
		batchSize:     DefaultBatchSize,
	}
}

// SetRetentionDays overrides the retention window.
func (j *Janitor) SetRetentionDays(days int) {
	if days > 0 {
		j.retentionDays = days
	}
}

// Start runs the janitor until ctx is cancelled. A sweep runs
// immediately on startup, then on every interval tick.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Int("retention_days", j.retentionDays).
		Msg("retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	var stats CycleStats

	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	expired, err := j.jobs.ListExpiredJobs(ctx, cutoff, j.batchSize)
	if err != nil {
		log.Warn().Err(err).Msg("retention: failed to list expired jobs")
		stats.Errors = append(stats.Errors, err)
		return stats
	}

	for _, job := range expired {
		if err := j.blobs.Delete(ctx, job.ImageKey); err != nil {
			log.Warn().Err(err).
				Str("job_id", job.ID.String()).
				Str("image_key", job.ImageKey).
				Msg("retention: blob delete failed, keeping job row")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.BlobsDeleted++

		if err := j.jobs.DeleteJob(ctx, job.ID); err != nil {
			log.Warn().Err(err).
				Str("job_id", job.ID.String()).
				Msg("retention: job delete failed")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.JobsPurged++
	}

	if stats.JobsPurged > 0 || len(stats.Errors) > 0 {
		log.Info().
			Int("purged_jobs", stats.JobsPurged).
			Int("deleted_blobs", stats.BlobsDeleted).
			Int("errors", len(stats.Errors)).
			Dur("elapsed", time.Since(start)).
			Msg("retention cycle complete")
	}
	return stats
}
