// Package handlers implements the HTTP handlers for label intake and
// job status. Handlers depend on the Store interface plus small
// interfaces over the queue and blob store so tests can run without
// Postgres, Redis, or R2.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/labelproof/labelproof/internal/crypto"
	"github.com/labelproof/labelproof/internal/store"
	"github.com/labelproof/labelproof/internal/telemetry"
	"github.com/labelproof/labelproof/pkg/models"
)

const (
	// MinImageSize and MaxImageSize bound accepted uploads.
	MinImageSize = 1 << 10  // 1 KiB
	MaxImageSize = 10 << 20 // 10 MiB
)

// allowed upload formats by sniffed content type.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// JobQueue is the enqueue-side slice of the verification queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.QueuedJob) error
	Health(ctx context.Context) error
}

// BlobStore uploads encrypted images.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Store   store.Store
	Queue   JobQueue
	Blobs   BlobStore
	Cipher  *crypto.Cipher
	Metrics *telemetry.Metrics
	Version string

	validate *validator.Validate
}

// New creates a Handlers instance.
func New(s store.Store, q JobQueue, blobs BlobStore, cipher *crypto.Cipher, metrics *telemetry.Metrics, version string) *Handlers {
	return &Handlers{
		Store:    s,
		Queue:    q,
		Blobs:    blobs,
		Cipher:   cipher,
		Metrics:  metrics,
		Version:  version,
		validate: validator.New(),
	}
}

// ── Intake ───────────────────────────────────────────────────

// SubmitLabel accepts a multipart label upload, encrypts the image,
// stores it, creates a pending job, and enqueues it for the worker.
func (h *Handlers) SubmitLabel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxImageSize); err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			respondError(w, http.StatusRequestEntityTooLarge, "Upload exceeds the 10 MiB limit")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	image, err := h.readImagePart(w, r)
	if err != nil {
		// readImagePart has already written the response.
		return
	}

	req, ok := h.parseMetadata(w, r)
	if !ok {
		return
	}

	encrypted, err := h.Cipher.Encrypt(image)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to encrypt image")
		return
	}

	jobID := uuid.New()
	imageKey := fmt.Sprintf("images/%s.enc", jobID)

	if err := h.Blobs.Put(r.Context(), imageKey, encrypted, "application/octet-stream"); err != nil {
		log.Error().Err(err).Str("image_key", imageKey).Msg("blob upload failed")
		respondError(w, http.StatusInternalServerError, "Failed to store image")
		return
	}

	job, err := h.Store.CreateJob(r.Context(), imageKey, nil)
	if err != nil {
		log.Error().Err(err).Msg("job insert failed")
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	payload := &models.QueuedJob{
		JobID:         job.ID,
		ImageKey:      imageKey,
		ExpectedBrand: req.BrandName,
		ExpectedClass: req.ClassType,
		ExpectedABV:   req.ExpectedABV,
	}
	if err := h.Queue.Enqueue(r.Context(), payload); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("enqueue failed")
		respondError(w, http.StatusInternalServerError, "Failed to queue job")
		return
	}

	if h.Metrics != nil {
		h.Metrics.JobsSubmitted.Inc()
	}
	log.Info().
		Str("job_id", job.ID.String()).
		Int("image_bytes", len(image)).
		Msg("verification job submitted")

	respondJSON(w, http.StatusOK, models.VerifyResponse{
		JobID:   job.ID,
		Status:  models.JobPending,
		Message: "Verification job queued",
	})
}

// readImagePart pulls the image part, enforcing size and format
// limits. On failure it writes the error response and returns a nil
// slice with a non-nil error.
func (h *Handlers) readImagePart(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing image part")
		return nil, err
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, MaxImageSize+1))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read image")
		return nil, err
	}
	if len(image) > MaxImageSize {
		respondError(w, http.StatusRequestEntityTooLarge, "Image exceeds the 10 MiB limit")
		return nil, errors.New("image too large")
	}
	if len(image) < MinImageSize {
		respondError(w, http.StatusBadRequest, "Image smaller than the 1 KiB minimum")
		return nil, errors.New("image too small")
	}

	contentType := http.DetectContentType(image)
	if !allowedImageTypes[contentType] {
		respondError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("Unsupported image format %s; use JPEG, PNG, or WebP", contentType))
		return nil, errors.New("unsupported format")
	}
	return image, nil
}

// parseMetadata reads the optional text parts. Invalid values are a
// 400.
func (h *Handlers) parseMetadata(w http.ResponseWriter, r *http.Request) (models.VerifyRequest, bool) {
	var req models.VerifyRequest

	if v := r.FormValue("brand_name"); v != "" {
		req.BrandName = &v
	}
	if v := r.FormValue("class_type"); v != "" {
		req.ClassType = &v
	}
	if v := r.FormValue("expected_abv"); v != "" {
		abv, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "expected_abv must be a number")
			return req, false
		}
		req.ExpectedABV = &abv
	}

	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid field: "+err.Error())
		return req, false
	}
	return req, true
}

// ── Status ───────────────────────────────────────────────────

// GetJobStatus reports the state and, when finished, the result of a
// job.
func (h *Handlers) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	job, err := h.Store.GetJob(r.Context(), jobID)
	if err != nil {
		var notFound *store.ErrNotFound
		if errors.As(err, &notFound) {
			respondError(w, http.StatusNotFound, "Job not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, models.JobStatusResponse{
		JobID:  job.ID,
		Status: job.Status,
		Result: job.Result,
		Error:  job.Error,
	})
}

// ── Health & Info ────────────────────────────────────────────

type componentHealth struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// Health pings the database and the queue and reports per-component
// latencies. Any failure turns the response into a 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]componentHealth{}
	healthy := true

	start := time.Now()
	dbStatus := "ok"
	if err := h.Store.Ping(ctx); err != nil {
		dbStatus = err.Error()
		healthy = false
	}
	components["database"] = componentHealth{Status: dbStatus, LatencyMS: time.Since(start).Milliseconds()}

	start = time.Now()
	redisStatus := "ok"
	if err := h.Queue.Health(ctx); err != nil {
		redisStatus = err.Error()
		healthy = false
	}
	components["redis"] = componentHealth{Status: redisStatus, LatencyMS: time.Since(start).Milliseconds()}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	respondJSON(w, status, map[string]any{
		"status":     overall,
		"components": components,
	})
}

// VersionInfo reports the running version.
func (h *Handlers) VersionInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
		"service": "labelproof",
	})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
