package storage

import (
	"context"
	"fmt"
	"strings"
)

// MinIOConfig holds MinIO connection configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Config selects and configures the content store backend.
type Config struct {
	Backend string // fs | minio | memory
	Dir     string
	MinIO   MinIOConfig
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config) (ContentStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "fs":
		return NewFSStorage(cfg.Dir)
	case "minio":
		return NewMinIOStorage(ctx, cfg.MinIO)
	case "memory":
		return NewMemoryStorage(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
