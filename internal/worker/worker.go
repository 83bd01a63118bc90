// Package worker runs the verification processing loop: dequeue a job,
// fetch and decrypt its image, extract label fields, run the
// verification engine, and persist the outcome with bounded retries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/labelproof/labelproof/internal/crypto"
	"github.com/labelproof/labelproof/internal/store"
	"github.com/labelproof/labelproof/internal/telemetry"
	"github.com/labelproof/labelproof/pkg/models"
)

const (
	// MaxRetries bounds how often a job is re-queued before failing.
	MaxRetries = 3

	// DefaultPollInterval is the idle sleep between empty dequeues.
	DefaultPollInterval = time.Second
)

// Queue is the slice of the job queue the worker needs.
type Queue interface {
	Dequeue(ctx context.Context) (*models.QueuedJob, error)
	Enqueue(ctx context.Context, job *models.QueuedJob) error
	Complete(ctx context.Context, job *models.QueuedJob) error
	Depth(ctx context.Context) (int64, error)
}

// BlobGetter fetches encrypted image blobs.
type BlobGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Extractor turns an image into structured label fields.
type Extractor interface {
	Extract(ctx context.Context, imageBytes []byte) (models.ExtractedLabelFields, error)
}

// Decrypter opens encrypted blobs.
type Decrypter interface {
	Decrypt(data []byte) ([]byte, error)
}

// Verifier runs the verification engine for one job.
type Verifier interface {
	VerifyWithReference(ctx context.Context, jobID uuid.UUID, extracted models.ExtractedLabelFields, expectedBrand, expectedClass *string, expectedABV *float64) (models.VerificationResult, error)
}

// Worker drives the processing loop.
type Worker struct {
	jobs     store.JobStore
	queue    Queue
	blobs    BlobGetter
	cipher   Decrypter
	vision   Extractor
	verifier Verifier
	metrics  *telemetry.Metrics

	pollInterval time.Duration
}

// New wires a worker. metrics may be nil.
func New(jobs store.JobStore, queue Queue, blobs BlobGetter, cipher Decrypter, vision Extractor, verifier Verifier, metrics *telemetry.Metrics) *Worker {
	return &Worker{
		jobs:         jobs,
		queue:        queue,
		blobs:        blobs,
		cipher:       cipher,
		vision:       vision,
		verifier:     verifier,
		metrics:      metrics,
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval overrides the idle sleep; used by tests.
func (w *Worker) SetPollInterval(d time.Duration) { w.pollInterval = d }

// Run loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Msg("worker ready, starting job processing loop")
	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			log.Error().Err(err).Msg("error processing job, will retry")
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessNext handles one queued job. It reports whether a job was
// available.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	payload, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if payload == nil {
		return false, nil
	}

	w.sampleQueueDepth(ctx)

	log.Info().
		Str("job_id", payload.JobID.String()).
		Str("image_key", payload.ImageKey).
		Msg("processing verification job")

	if err := w.jobs.SetJobStatus(ctx, payload.JobID, models.JobProcessing); err != nil {
		log.Error().Err(err).Str("job_id", payload.JobID.String()).Msg("failed to mark job processing")
	}

	start := time.Now()
	result, err := w.processInner(ctx, payload)
	if err != nil {
		return true, w.handleFailure(ctx, payload, err)
	}

	if err := w.jobs.SetJobResult(ctx, payload.JobID, models.JobCompleted, &result, nil); err != nil {
		return true, w.handleFailure(ctx, payload, fmt.Errorf("persist result: %w", err))
	}
	if err := w.queue.Complete(ctx, payload); err != nil {
		return true, fmt.Errorf("complete payload: %w", err)
	}

	if w.metrics != nil {
		w.metrics.JobsCompleted.Inc()
		w.metrics.ProcessingSeconds.Observe(time.Since(start).Seconds())
	}
	log.Info().
		Str("job_id", payload.JobID.String()).
		Bool("passed", result.Passed).
		Float64("confidence", result.ConfidenceScore).
		Msg("job completed")
	return true, nil
}

// processInner runs the download → decrypt → extract → verify
// pipeline.
func (w *Worker) processInner(ctx context.Context, payload *models.QueuedJob) (models.VerificationResult, error) {
	var result models.VerificationResult

	encrypted, err := w.blobs.Get(ctx, payload.ImageKey)
	if err != nil {
		return result, fmt.Errorf("download image: %w", err)
	}

	imageBytes, err := w.cipher.Decrypt(encrypted)
	if err != nil {
		return result, fmt.Errorf("decrypt image: %w", err)
	}

	fields, err := w.vision.Extract(ctx, imageBytes)
	if err != nil {
		return result, fmt.Errorf("extract label fields: %w", err)
	}

	log.Info().
		Str("job_id", payload.JobID.String()).
		Str("brand", fields.BrandName).
		Str("class", fields.ClassType).
		Float64("abv", fields.ABV).
		Msg("label extraction complete")

	result, err = w.verifier.VerifyWithReference(ctx, payload.JobID, fields,
		payload.ExpectedBrand, payload.ExpectedClass, payload.ExpectedABV)
	if err != nil {
		return result, fmt.Errorf("verify label: %w", err)
	}
	return result, nil
}

// handleFailure applies the retry policy. Decrypt failures are
// permanent: a corrupt blob or wrong key cannot heal on retry, so the
// job fails immediately. Everything else retries until MaxRetries.
func (w *Worker) handleFailure(ctx context.Context, payload *models.QueuedJob, procErr error) error {
	log.Error().Err(procErr).Str("job_id", payload.JobID.String()).Msg("job processing failed")

	if errors.Is(procErr, crypto.ErrDecryptFailed) {
		return w.failJob(ctx, payload, fmt.Sprintf("Processing failed permanently: %v", procErr))
	}

	count, err := w.jobs.IncrementRetry(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("increment retry count: %w", err)
	}
	if w.metrics != nil {
		w.metrics.JobRetries.Inc()
	}

	if count >= MaxRetries {
		log.Warn().Str("job_id", payload.JobID.String()).Int("retry_count", count).
			Msg("job failed after max retries")
		return w.failJob(ctx, payload,
			fmt.Sprintf("Processing failed after %d retries: %v", MaxRetries, procErr))
	}

	// Re-enqueue a fresh copy before removing the in-flight one so the
	// job is never lost between the two steps.
	if err := w.queue.Enqueue(ctx, payload); err != nil {
		return fmt.Errorf("re-enqueue for retry: %w", err)
	}
	if err := w.queue.Complete(ctx, payload); err != nil {
		return fmt.Errorf("complete old payload: %w", err)
	}
	if err := w.jobs.SetJobStatus(ctx, payload.JobID, models.JobPending); err != nil {
		return fmt.Errorf("reset job to pending: %w", err)
	}

	log.Info().Str("job_id", payload.JobID.String()).Int("retry_count", count).
		Msg("job re-queued for retry")
	return nil
}

func (w *Worker) failJob(ctx context.Context, payload *models.QueuedJob, msg string) error {
	if err := w.jobs.SetJobResult(ctx, payload.JobID, models.JobFailed, nil, &msg); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if err := w.queue.Complete(ctx, payload); err != nil {
		return fmt.Errorf("complete failed payload: %w", err)
	}
	if w.metrics != nil {
		w.metrics.JobsFailed.Inc()
	}
	return nil
}

func (w *Worker) sampleQueueDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	if depth, err := w.queue.Depth(ctx); err == nil {
		w.metrics.QueueDepth.Set(float64(depth))
	}
}
