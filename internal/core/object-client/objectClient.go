package objectclient

import (
	"context"
	"fmt"

	"github.com/markdave123-py/docpipe/internal/config"
	"github.com/markdave123-py/docpipe/internal/core"
)

// New returns the object store selected by OBJECT_STORE.
func New(ctx context.Context, cfg *config.Config) (core.ObjectClient, error) {
	switch cfg.ObjectStore {
	case "", "s3":
		return NewS3Client(ctx, cfg)
	case "gcs":
		return NewGCSClient(ctx, cfg.BucketName)
	default:
		return nil, fmt.Errorf("unknown OBJECT_STORE %q", cfg.ObjectStore)
	}
}
