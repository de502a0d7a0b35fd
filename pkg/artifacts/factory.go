package artifacts

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// StoreType represents the type of artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// Config selects and configures the artifact backend.
type Config struct {
	Type    StoreType `env:"ARTIFACT_STORAGE_TYPE" envDefault:"fs"`
	DataDir string    `env:"DATA_DIR" envDefault:"data"`

	S3Bucket   string `env:"ARTIFACT_S3_BUCKET"`
	S3Region   string `env:"ARTIFACT_S3_REGION"`
	AWSRegion  string `env:"AWS_REGION"`
	S3Endpoint string `env:"ARTIFACT_S3_ENDPOINT"`
	S3Prefix   string `env:"ARTIFACT_S3_PREFIX"`

	GCSBucket string `env:"ARTIFACT_GCS_BUCKET"`
	GCSPrefix string `env:"ARTIFACT_GCS_PREFIX"`

	// Writes per second against the backend; zero disables limiting.
	RateLimit float64 `env:"ARTIFACT_RATE_LIMIT" envDefault:"0"`
	RateBurst int     `env:"ARTIFACT_RATE_BURST" envDefault:"1"`
}

// NewStoreFromEnv creates an artifact store from the ARTIFACT_* and DATA_DIR
// environment variables.
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("artifact config: %w", err)
	}
	return NewStore(ctx, cfg)
}

// NewStore builds the configured backend, wrapped in a rate limiter when
// RateLimit is positive.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Type {
	case StoreTypeFS, "":
		s, err = newFileStore(cfg)
	case StoreTypeS3:
		s, err = newS3Store(ctx, cfg)
	case StoreTypeGCS:
		s, err = newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RateLimit > 0 {
		return NewLimitedStore(s, cfg.RateLimit, cfg.RateBurst), nil
	}
	return s, nil
}

func newFileStore(cfg Config) (Store, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "artifacts"))
}

func newS3Store(ctx context.Context, cfg Config) (Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for S3 storage")
	}

	region := cfg.S3Region
	if region == "" {
		region = cfg.AWSRegion
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   cfg.S3Bucket,
		Region:   region,
		Endpoint: cfg.S3Endpoint,
		Prefix:   cfg.S3Prefix,
	})
}

func contentType(key string) string {
	switch filepath.Ext(key) {
	case ".json":
		return "application/json"
	case ".ndjson":
		return "application/x-ndjson"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
