package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/labelproof/labelproof/internal/ttb"
	"github.com/labelproof/labelproof/pkg/models"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to PostgreSQL with bounded pool settings and
// verifies connectivity.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 5
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info().Msg("PostgreSQL store initialized")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *PostgresStore) Close() { s.pool.Close() }

// Migrate creates the schema and seeds the category ABV rules.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS verification_jobs (
			id                      UUID PRIMARY KEY,
			status                  TEXT NOT NULL DEFAULT 'pending',
			image_key               TEXT NOT NULL,
			user_id                 TEXT,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processing_started_at   TIMESTAMPTZ,
			processing_completed_at TIMESTAMPTZ,
			retry_count             INT NOT NULL DEFAULT 0,
			error                   TEXT,
			extracted_fields        JSONB,
			verification_result     JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status_created
			ON verification_jobs (status, created_at);

		CREATE TABLE IF NOT EXISTS known_beverages (
			id                UUID PRIMARY KEY,
			brand_name        TEXT NOT NULL,
			product_name      TEXT,
			class_type        TEXT NOT NULL,
			beverage_category TEXT NOT NULL,
			abv               DOUBLE PRECISION NOT NULL,
			standard_size_ml  INT,
			country_of_origin TEXT,
			producer          TEXT,
			is_verified       BOOLEAN NOT NULL DEFAULT FALSE,
			source            TEXT NOT NULL,
			source_url        TEXT,
			notes             TEXT,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_beverages_identity
			ON known_beverages (LOWER(brand_name), LOWER(class_type), source);

		CREATE TABLE IF NOT EXISTS beverage_category_rules (
			id              SERIAL PRIMARY KEY,
			category        TEXT NOT NULL UNIQUE,
			min_abv         DOUBLE PRECISION NOT NULL,
			max_abv         DOUBLE PRECISION NOT NULL,
			typical_min_abv DOUBLE PRECISION,
			typical_max_abv DOUBLE PRECISION,
			cfr_reference   TEXT,
			description     TEXT,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS beverage_match_history (
			id                  UUID PRIMARY KEY,
			job_id              UUID NOT NULL,
			matched_beverage_id UUID,
			match_type          TEXT NOT NULL,
			match_confidence    DOUBLE PRECISION,
			abv_deviation       DOUBLE PRECISION,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	seed := `
		INSERT INTO beverage_category_rules
			(category, min_abv, max_abv, typical_min_abv, typical_max_abv, cfr_reference, description)
		VALUES
			('wine', 5.0, 24.0, 8.0, 15.0, '27 CFR 4.21', 'Grape wine and related products'),
			('distilled_spirits', 30.0, 95.0, 35.0, 50.0, '27 CFR 5.22', 'Distilled spirits standards of identity'),
			('malt_beverage', 0.5, 15.0, 3.0, 10.0, '27 CFR 7.24', 'Beer, ale, and other malt beverages')
		ON CONFLICT (category) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, seed); err != nil {
		return fmt.Errorf("seed category rules: %w", err)
	}
	return nil
}

// ── Job Store ────────────────────────────────────────────────

const jobColumns = `id, status, image_key, user_id, created_at, updated_at,
	processing_started_at, processing_completed_at, retry_count, error,
	extracted_fields, verification_result`

func (s *PostgresStore) CreateJob(ctx context.Context, imageKey string, userID *string) (*models.VerificationJob, error) {
	id := uuid.New()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO verification_jobs (id, status, image_key, user_id)
		VALUES ($1, 'pending', $2, $3)
		RETURNING `+jobColumns,
		id, imageKey, userID)
	return scanJob(row)
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.VerificationJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM verification_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "job", Key: id.String()}
	}
	return job, err
}

func (s *PostgresStore) SetJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE verification_jobs
		SET status = $1,
		    updated_at = NOW(),
		    processing_started_at = CASE WHEN $1 = 'processing'
		        THEN NOW() ELSE processing_started_at END,
		    processing_completed_at = CASE WHEN $1 IN ('completed', 'failed')
		        THEN NOW() ELSE processing_completed_at END
		WHERE id = $2`,
		string(status), id)
	return err
}

func (s *PostgresStore) SetJobResult(ctx context.Context, id uuid.UUID, status models.JobStatus, result *models.VerificationResult, jobErr *string) error {
	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE verification_jobs
		SET status = $1,
		    verification_result = $2,
		    error = $3,
		    updated_at = NOW(),
		    processing_completed_at = NOW()
		WHERE id = $4`,
		string(status), resultJSON, jobErr, id)
	return err
}

func (s *PostgresStore) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE verification_jobs
		SET retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING retry_count`, id).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &ErrNotFound{Entity: "job", Key: id.String()}
	}
	return count, err
}

func (s *PostgresStore) ListPendingJobs(ctx context.Context, limit int) ([]models.VerificationJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM verification_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.VerificationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) ListExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.VerificationJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM verification_jobs
		WHERE status IN ('completed', 'failed')
		  AND processing_completed_at < $1
		ORDER BY processing_completed_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.VerificationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM verification_jobs WHERE id = $1`, id)
	return err
}

func scanJob(row pgx.Row) (*models.VerificationJob, error) {
	var (
		j           models.VerificationJob
		status      string
		fieldsJSON  []byte
		resultJSON  []byte
	)
	err := row.Scan(&j.ID, &status, &j.ImageKey, &j.UserID, &j.CreatedAt,
		&j.UpdatedAt, &j.ProcessingStartedAt, &j.ProcessingCompletedAt,
		&j.RetryCount, &j.Error, &fieldsJSON, &resultJSON)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	if len(fieldsJSON) > 0 {
		j.ExtractedFields = &models.ExtractedLabelFields{}
		if err := json.Unmarshal(fieldsJSON, j.ExtractedFields); err != nil {
			return nil, fmt.Errorf("decode extracted fields: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		j.Result = &models.VerificationResult{}
		if err := json.Unmarshal(resultJSON, j.Result); err != nil {
			return nil, fmt.Errorf("decode verification result: %w", err)
		}
	}
	return &j, nil
}

// ── Beverage Store ───────────────────────────────────────────

const beverageColumns = `id, brand_name, product_name, class_type,
	beverage_category, abv, standard_size_ml, country_of_origin, producer,
	is_verified, source, source_url, notes, created_at, updated_at`

func (s *PostgresStore) FindExact(ctx context.Context, brand, classType string) ([]models.KnownBeverage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+beverageColumns+`
		FROM known_beverages
		WHERE LOWER(brand_name) = LOWER($1)
		  AND LOWER(class_type) = LOWER($2)
		ORDER BY is_verified DESC, abv ASC
		LIMIT 10`, brand, classType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBeverages(rows)
}

func (s *PostgresStore) FindByBrand(ctx context.Context, brand string) ([]models.KnownBeverage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+beverageColumns+`
		FROM known_beverages
		WHERE LOWER(brand_name) = LOWER($1)
		ORDER BY is_verified DESC
		LIMIT 10`, brand)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBeverages(rows)
}

func (s *PostgresStore) FindWithStaleness(ctx context.Context, brand, classType string, thresholdDays int) (*models.KnownBeverage, bool, error) {
	beverages, err := s.FindExact(ctx, brand, classType)
	if err != nil || len(beverages) == 0 {
		return nil, false, err
	}
	first := beverages[0]
	return &first, IsStale(first.CreatedAt, thresholdDays), nil
}

// IsStale reports whether a cache entry is older than thresholdDays.
func IsStale(createdAt time.Time, thresholdDays int) bool {
	return time.Since(createdAt) > time.Duration(thresholdDays)*24*time.Hour
}

func (s *PostgresStore) UpsertBeverages(ctx context.Context, records []models.RegistryRecord) ([]models.KnownBeverage, error) {
	out := make([]models.KnownBeverage, 0, len(records))
	for _, r := range records {
		abv := 0.0
		if r.InferredABV != nil {
			abv = *r.InferredABV
		}
		row := s.pool.QueryRow(ctx, `
			INSERT INTO known_beverages
				(id, brand_name, product_name, class_type, beverage_category,
				 abv, is_verified, source, source_url, notes)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, 'ttb_cola', $7, $8)
			ON CONFLICT (LOWER(brand_name), LOWER(class_type), source)
			DO UPDATE SET
				abv = EXCLUDED.abv,
				source_url = EXCLUDED.source_url,
				updated_at = NOW()
			RETURNING `+beverageColumns,
			uuid.New(), r.BrandName, r.FancifulName, r.ClassTypeDesc,
			r.BeverageCategory, abv, r.SourceURL,
			fmt.Sprintf("TTB ID %s, permit %s", r.TTBID, r.PermitNo))
		b, err := scanBeverage(row)
		if err != nil {
			return nil, fmt.Errorf("upsert beverage %q: %w", r.BrandName, err)
		}
		out = append(out, *b)
	}
	return out, nil
}

func (s *PostgresStore) CategoryRuleFor(ctx context.Context, classType string) (*models.CategoryRule, error) {
	category := ttb.InferCategory(classType)
	if category == "" {
		return nil, nil
	}

	var r models.CategoryRule
	err := s.pool.QueryRow(ctx, `
		SELECT id, category, min_abv, max_abv, typical_min_abv,
		       typical_max_abv, cfr_reference, description, created_at
		FROM beverage_category_rules
		WHERE category = $1`, category).
		Scan(&r.ID, &r.Category, &r.MinABV, &r.MaxABV, &r.TypicalMinABV,
			&r.TypicalMaxABV, &r.CFRReference, &r.Description, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) RecordMatch(ctx context.Context, h models.MatchHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO beverage_match_history
			(id, job_id, matched_beverage_id, match_type, match_confidence, abv_deviation)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.JobID, h.MatchedBeverageID, h.MatchType, h.MatchConfidence, h.ABVDeviation)
	return err
}

func scanBeverages(rows pgx.Rows) ([]models.KnownBeverage, error) {
	var out []models.KnownBeverage
	for rows.Next() {
		b, err := scanBeverage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBeverage(row pgx.Row) (*models.KnownBeverage, error) {
	var b models.KnownBeverage
	err := row.Scan(&b.ID, &b.BrandName, &b.ProductName, &b.ClassType,
		&b.BeverageCategory, &b.ABV, &b.StandardSizeML, &b.CountryOfOrigin,
		&b.Producer, &b.IsVerified, &b.Source, &b.SourceURL, &b.Notes,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
