package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the intake server and the worker.
type Config struct {
	BindAddr string
	Version  string

	DatabaseURL string
	RedisURL    string

	Vision  VisionConfig
	Storage StorageConfig

	// EncryptionKey is base64 of exactly 32 raw bytes.
	EncryptionKey string
}

// VisionConfig points at the Cloudflare Workers AI account used for
// label extraction.
type VisionConfig struct {
	AccountID string
	APIToken  string
}

// StorageConfig describes the S3-compatible bucket holding encrypted
// label images.
type StorageConfig struct {
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Load reads configuration from the environment, after merging in a
// .env file when one exists. Missing required variables are an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded environment from .env")
	}

	cfg := &Config{
		BindAddr:      envStr("BIND_ADDR", "0.0.0.0:3000"),
		Version:       envStr("APP_VERSION", "0.1.0"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		Vision: VisionConfig{
			AccountID: os.Getenv("CF_ACCOUNT_ID"),
			APIToken:  os.Getenv("CF_API_TOKEN"),
		},
		Storage: StorageConfig{
			Bucket:    os.Getenv("R2_BUCKET"),
			Endpoint:  os.Getenv("R2_ENDPOINT"),
			AccessKey: os.Getenv("R2_ACCESS_KEY"),
			SecretKey: os.Getenv("R2_SECRET_KEY"),
		},
	}

	required := map[string]string{
		"DATABASE_URL":   cfg.DatabaseURL,
		"REDIS_URL":      cfg.RedisURL,
		"ENCRYPTION_KEY": cfg.EncryptionKey,
		"CF_ACCOUNT_ID":  cfg.Vision.AccountID,
		"CF_API_TOKEN":   cfg.Vision.APIToken,
		"R2_BUCKET":      cfg.Storage.Bucket,
		"R2_ENDPOINT":    cfg.Storage.Endpoint,
		"R2_ACCESS_KEY":  cfg.Storage.AccessKey,
		"R2_SECRET_KEY":  cfg.Storage.SecretKey,
	}
	for name, value := range required {
		if value == "" {
			return nil, fmt.Errorf("missing required environment variable %s", name)
		}
	}
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
