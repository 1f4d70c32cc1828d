package storage

import (
	"fmt"

	"github.com/rowjay/restorekit/internal/config"
)

// New opens the backend named by cfg.Backend; local is the default.
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "local", "":
		if cfg.Local.Path == "" {
			return nil, fmt.Errorf("storage.local.path is required")
		}
		return NewLocal(cfg.Local.Path), nil
	case "s3", "minio":
		return NewS3(cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
