// Package server provides the public entry points for composing the
// label verification service: the HTTP API server and the background
// verification worker share their infrastructure wiring here.
//
// Usage (API):
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(srv.BindAddr, srv.Handler)
//
// Usage (worker):
//
//	wrk, err := server.NewWorker(ctx)
//	wrk.Run(ctx)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/labelproof/labelproof/internal/api"
	"github.com/labelproof/labelproof/internal/api/handlers"
	"github.com/labelproof/labelproof/internal/cola"
	"github.com/labelproof/labelproof/internal/config"
	"github.com/labelproof/labelproof/internal/crypto"
	"github.com/labelproof/labelproof/internal/queue"
	"github.com/labelproof/labelproof/internal/retention"
	"github.com/labelproof/labelproof/internal/storage"
	"github.com/labelproof/labelproof/internal/store"
	"github.com/labelproof/labelproof/internal/telemetry"
	"github.com/labelproof/labelproof/internal/verify"
	"github.com/labelproof/labelproof/internal/vision"
	"github.com/labelproof/labelproof/internal/worker"
)

// Server holds the initialized HTTP side of the service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the Postgres-backed job and beverage store.
	Store store.Store

	// Queue is the Redis job queue.
	Queue *queue.Queue

	// Metrics carries the Prometheus registry served at /metrics.
	Metrics *telemetry.Metrics

	// BindAddr is the address the server should listen on.
	BindAddr string

	// ShutdownFunc releases store and queue connections.
	ShutdownFunc func(context.Context) error
}

// infra bundles the components both binaries need.
type infra struct {
	cfg    *config.Config
	store  *store.PostgresStore
	queue  *queue.Queue
	blobs  *storage.Client
	cipher *crypto.Cipher
}

func buildInfra(ctx context.Context) (*infra, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	s, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("postgres store ready")

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Msg("redis queue ready")

	blobs, err := storage.New(ctx, storage.Options{
		Bucket:    cfg.Storage.Bucket,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
	})
	if err != nil {
		s.Close()
		q.Close()
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	cipher, err := crypto.New(cfg.EncryptionKey)
	if err != nil {
		s.Close()
		q.Close()
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	return &infra{cfg: cfg, store: s, queue: q, blobs: blobs, cipher: cipher}, nil
}

func (i *infra) shutdown(context.Context) error {
	i.store.Close()
	return i.queue.Close()
}

// New initializes the API server from environment configuration.
func New(ctx context.Context) (*Server, error) {
	inf, err := buildInfra(ctx)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.New()
	h := handlers.New(inf.store, inf.queue, inf.blobs, inf.cipher, metrics, inf.cfg.Version)
	router := api.NewRouter(h, metrics)

	return &Server{
		Handler:      router,
		Store:        inf.store,
		Queue:        inf.queue,
		Metrics:      metrics,
		BindAddr:     inf.cfg.BindAddr,
		ShutdownFunc: inf.shutdown,
	}, nil
}

// Worker holds the initialized background verification worker.
type Worker struct {
	// Worker polls the queue and processes jobs until its context is
	// cancelled.
	Worker *worker.Worker

	// Janitor purges finished jobs past their retention window.
	Janitor *retention.Janitor

	// Metrics carries the worker-side Prometheus registry.
	Metrics *telemetry.Metrics

	// ShutdownFunc releases store and queue connections.
	ShutdownFunc func(context.Context) error
}

// NewWorker initializes the verification worker from environment
// configuration.
func NewWorker(ctx context.Context) (*Worker, error) {
	inf, err := buildInfra(ctx)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.New()
	extractor := vision.New(inf.cfg.Vision.AccountID, inf.cfg.Vision.APIToken)
	registry := cola.New()
	engine := verify.New(inf.store, registry)
	log.Info().Msg("verification engine ready")

	w := worker.New(inf.store, inf.queue, inf.blobs, inf.cipher, extractor, engine, metrics)
	janitor := retention.NewJanitor(inf.store, inf.blobs, time.Hour)

	return &Worker{
		Worker:       w,
		Janitor:      janitor,
		Metrics:      metrics,
		ShutdownFunc: inf.shutdown,
	}, nil
}
