package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/labelproof/labelproof/internal/ttb"
	"github.com/labelproof/labelproof/pkg/models"
)

// MemoryStore is an in-memory Store for tests and local development.
// It applies the same ordering and uniqueness rules as the PostgreSQL
// implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[uuid.UUID]*models.VerificationJob
	beverages map[string]*models.KnownBeverage // key: lower(brand)|lower(class)|source
	rules     map[string]models.CategoryRule
	history   []models.MatchHistory
}

// NewMemory creates a memory store pre-seeded with the three category
// ABV rules.
func NewMemory() *MemoryStore {
	s := &MemoryStore{
		jobs:      make(map[uuid.UUID]*models.VerificationJob),
		beverages: make(map[string]*models.KnownBeverage),
		rules:     make(map[string]models.CategoryRule),
	}

	typical := func(lo, hi float64) (*float64, *float64) { return &lo, &hi }
	wineLo, wineHi := typical(8.0, 15.0)
	spiritsLo, spiritsHi := typical(35.0, 50.0)
	maltLo, maltHi := typical(3.0, 10.0)
	wineCFR, spiritsCFR, maltCFR := "27 CFR 4.21", "27 CFR 5.22", "27 CFR 7.24"

	s.rules[models.CategoryWine] = models.CategoryRule{
		ID: 1, Category: models.CategoryWine, MinABV: 5.0, MaxABV: 24.0,
		TypicalMinABV: wineLo, TypicalMaxABV: wineHi, CFRReference: &wineCFR,
		CreatedAt: time.Now().UTC(),
	}
	s.rules[models.CategoryDistilledSpirits] = models.CategoryRule{
		ID: 2, Category: models.CategoryDistilledSpirits, MinABV: 30.0, MaxABV: 95.0,
		TypicalMinABV: spiritsLo, TypicalMaxABV: spiritsHi, CFRReference: &spiritsCFR,
		CreatedAt: time.Now().UTC(),
	}
	s.rules[models.CategoryMaltBeverage] = models.CategoryRule{
		ID: 3, Category: models.CategoryMaltBeverage, MinABV: 0.5, MaxABV: 15.0,
		TypicalMinABV: maltLo, TypicalMaxABV: maltHi, CFRReference: &maltCFR,
		CreatedAt: time.Now().UTC(),
	}
	return s
}

func (s *MemoryStore) Ping(context.Context) error    { return nil }
func (s *MemoryStore) Close()                        {}
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// ── Job Store ────────────────────────────────────────────────

func (s *MemoryStore) CreateJob(_ context.Context, imageKey string, userID *string) (*models.VerificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job := &models.VerificationJob{
		ID:        uuid.New(),
		Status:    models.JobPending,
		ImageKey:  imageKey,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	out := *job
	return &out, nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.VerificationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "job", Key: id.String()}
	}
	out := *job
	return &out, nil
}

func (s *MemoryStore) SetJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return &ErrNotFound{Entity: "job", Key: id.String()}
	}
	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now
	switch status {
	case models.JobProcessing:
		if job.ProcessingStartedAt == nil {
			job.ProcessingStartedAt = &now
		}
	case models.JobCompleted, models.JobFailed:
		job.ProcessingCompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) SetJobResult(_ context.Context, id uuid.UUID, status models.JobStatus, result *models.VerificationResult, jobErr *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return &ErrNotFound{Entity: "job", Key: id.String()}
	}
	now := time.Now().UTC()
	job.Status = status
	job.Result = result
	job.Error = jobErr
	job.UpdatedAt = now
	job.ProcessingCompletedAt = &now
	return nil
}

func (s *MemoryStore) IncrementRetry(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return 0, &ErrNotFound{Entity: "job", Key: id.String()}
	}
	job.RetryCount++
	job.UpdatedAt = time.Now().UTC()
	return job.RetryCount, nil
}

func (s *MemoryStore) ListPendingJobs(_ context.Context, limit int) ([]models.VerificationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.VerificationJob
	for _, job := range s.jobs {
		if job.Status == models.JobPending {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetCompletedAt backdates a job's completion timestamp; test helper.
func (s *MemoryStore) SetCompletedAt(id uuid.UUID, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.ProcessingCompletedAt = &t
	}
}

func (s *MemoryStore) ListExpiredJobs(_ context.Context, cutoff time.Time, limit int) ([]models.VerificationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.VerificationJob
	for _, job := range s.jobs {
		if job.Status != models.JobCompleted && job.Status != models.JobFailed {
			continue
		}
		if job.ProcessingCompletedAt == nil || !job.ProcessingCompletedAt.Before(cutoff) {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProcessingCompletedAt.Before(*out[j].ProcessingCompletedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// ── Beverage Store ───────────────────────────────────────────

func beverageKey(brand, classType, source string) string {
	return strings.ToLower(brand) + "|" + strings.ToLower(classType) + "|" + source
}

// SeedBeverage inserts a catalog row directly; test helper.
func (s *MemoryStore) SeedBeverage(b models.KnownBeverage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.beverages[beverageKey(b.BrandName, b.ClassType, b.Source)] = &b
}

func (s *MemoryStore) FindExact(_ context.Context, brand, classType string) ([]models.KnownBeverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.KnownBeverage
	for _, b := range s.beverages {
		if strings.EqualFold(b.BrandName, brand) && strings.EqualFold(b.ClassType, classType) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsVerified != out[j].IsVerified {
			return out[i].IsVerified
		}
		return out[i].ABV < out[j].ABV
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out, nil
}

func (s *MemoryStore) FindByBrand(_ context.Context, brand string) ([]models.KnownBeverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.KnownBeverage
	for _, b := range s.beverages {
		if strings.EqualFold(b.BrandName, brand) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsVerified != out[j].IsVerified {
			return out[i].IsVerified
		}
		return out[i].BrandName < out[j].BrandName
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out, nil
}

func (s *MemoryStore) FindWithStaleness(ctx context.Context, brand, classType string, thresholdDays int) (*models.KnownBeverage, bool, error) {
	beverages, err := s.FindExact(ctx, brand, classType)
	if err != nil || len(beverages) == 0 {
		return nil, false, err
	}
	first := beverages[0]
	return &first, IsStale(first.CreatedAt, thresholdDays), nil
}

func (s *MemoryStore) UpsertBeverages(_ context.Context, records []models.RegistryRecord) ([]models.KnownBeverage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	out := make([]models.KnownBeverage, 0, len(records))
	for _, r := range records {
		key := beverageKey(r.BrandName, r.ClassTypeDesc, "ttb_cola")
		abv := 0.0
		if r.InferredABV != nil {
			abv = *r.InferredABV
		}
		notes := fmt.Sprintf("TTB ID %s, permit %s", r.TTBID, r.PermitNo)
		sourceURL := r.SourceURL

		if existing, ok := s.beverages[key]; ok {
			existing.ABV = abv
			existing.SourceURL = &sourceURL
			existing.UpdatedAt = now
			out = append(out, *existing)
			continue
		}

		b := &models.KnownBeverage{
			ID:               uuid.New(),
			BrandName:        r.BrandName,
			ProductName:      r.FancifulName,
			ClassType:        r.ClassTypeDesc,
			BeverageCategory: r.BeverageCategory,
			ABV:              abv,
			IsVerified:       true,
			Source:           "ttb_cola",
			SourceURL:        &sourceURL,
			Notes:            &notes,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		s.beverages[key] = b
		out = append(out, *b)
	}
	return out, nil
}

func (s *MemoryStore) CategoryRuleFor(_ context.Context, classType string) (*models.CategoryRule, error) {
	category := ttb.InferCategory(classType)
	if category == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[category]
	if !ok {
		return nil, nil
	}
	out := rule
	return &out, nil
}

func (s *MemoryStore) RecordMatch(_ context.Context, h models.MatchHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	s.history = append(s.history, h)
	return nil
}

// MatchHistory returns recorded match rows; test helper.
func (s *MemoryStore) MatchHistory() []models.MatchHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MatchHistory, len(s.history))
	copy(out, s.history)
	return out
}
