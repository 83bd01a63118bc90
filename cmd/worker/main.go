// LabelProof verification worker.
//
// Polls the Redis queue for submitted jobs, runs the vision extraction
// and TTB verification pipeline, and writes results back to Postgres.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labelproof/labelproof/pkg/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("labelproof worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wrk, err := server.NewWorker(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize worker")
	}
	defer wrk.ShutdownFunc(context.Background())

	go wrk.Janitor.Start(ctx)

	log.Info().Msg("polling for verification jobs")
	if err := wrk.Worker.Run(ctx); err != nil {
		log.Error().Err(err).Msg("worker loop exited")
	}

	log.Info().Msg("worker stopped")
}
