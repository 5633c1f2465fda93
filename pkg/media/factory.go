package media

import (
	"context"
	"fmt"
	"path/filepath"
)

// StoreType names a media backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFS     StoreType = "fs"
	StoreTypeS3     StoreType = "s3"
	StoreTypeGCS    StoreType = "gcs"
)

// Config selects and configures a backend. Field tags are read by
// caarlos0/env through the service config.
type Config struct {
	Type       StoreType `env:"STORAGE_TYPE" envDefault:"fs"`
	DataDir    string    `env:"DATA_DIR" envDefault:"data"`
	S3Bucket   string    `env:"S3_BUCKET"`
	S3Region   string    `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint string    `env:"S3_ENDPOINT"`
	S3Prefix   string    `env:"S3_PREFIX"`
	GCSBucket  string    `env:"GCS_BUCKET"`
	GCSPrefix  string    `env:"GCS_PREFIX"`
}

// NewStore builds the configured backend.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeFS, "":
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "media"))
	case StoreTypeS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("MEDIA_S3_BUCKET is required for S3 storage")
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case StoreTypeGCS:
		return newGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported media storage type: %s", cfg.Type)
	}
}
