package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/markdave123-py/docpipe/internal/core"
)

// GCSClient reads documents from Google Cloud Storage using application default credentials.
type GCSClient struct {
	client *storage.Client
	bucket string
}

func NewGCSClient(ctx context.Context, bucket string) (*GCSClient, error) {
	if bucket == "" {
		return nil, fmt.Errorf("GCS bucket name not set")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	log.Println("Connected to Google Cloud Storage successfully")
	return &GCSClient{client: client, bucket: bucket}, nil
}

func (c *GCSClient) Close() error {
	return c.client.Close()
}

// GetDocumentBytes reads fileID, either a key in the configured bucket or a gs:// URI.
func (c *GCSClient) GetDocumentBytes(ctx context.Context, fileID string) ([]byte, error) {
	bucket, object := c.bucket, strings.TrimPrefix(fileID, "/")
	if strings.HasPrefix(fileID, "gs://") {
		bucket, object = splitBucketKey(strings.TrimPrefix(fileID, "gs://"))
	}
	if object == "" {
		return nil, fmt.Errorf("gcs get %q: empty object name: %w", fileID, core.ErrNotFound)
	}

	ctxGet, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := c.client.Bucket(bucket).Object(object).NewReader(ctxGet)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("gcs get gs://%s/%s: %w", bucket, object, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

var _ core.ObjectClient = (*GCSClient)(nil)
