package objectclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	cfg "github.com/markdave123-py/docpipe/internal/config"
	"github.com/markdave123-py/docpipe/internal/core"
)

type S3Client struct {
	client     *s3.Client
	downloader *manager.Downloader
	bucket     string
}

func NewS3Client(ctx context.Context, cfg *cfg.Config) (*S3Client, error) {
	if cfg.AwsAccessKey == "" || cfg.AwsSecretKey == "" {
		return nil, fmt.Errorf("AWS credentials not set")
	}
	if cfg.AwsRegion == "" {
		return nil, fmt.Errorf("AWS_REGION not set")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("S3 bucket name not set")
	}

	awsCfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(cfg.AwsRegion),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	log.Println("Connected to AWS S3 successfully")

	return &S3Client{
		client:     client,
		downloader: manager.NewDownloader(client),
		bucket:     cfg.BucketName,
	}, nil
}

// GetDocumentBytes downloads the object named by fileID. fileID is a key in the
// configured bucket, an s3:// URI, or a virtual-hosted S3 URL.
func (c *S3Client) GetDocumentBytes(ctx context.Context, fileID string) ([]byte, error) {
	bucket, key := c.locate(fileID)
	if key == "" {
		return nil, fmt.Errorf("s3 get %q: empty key: %w", fileID, core.ErrNotFound)
	}

	ctxGet, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := c.downloader.Download(ctxGet, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("s3 get s3://%s/%s: %w", bucket, key, core.ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *S3Client) locate(fileID string) (bucket, key string) {
	switch {
	case strings.HasPrefix(fileID, "s3://"):
		return splitBucketKey(strings.TrimPrefix(fileID, "s3://"))
	case strings.HasPrefix(fileID, "https://"):
		return parseS3URL(fileID)
	default:
		return c.bucket, strings.TrimPrefix(fileID, "/")
	}
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

// parseS3URL extracts the bucket and key from a typical virtual-hosted–style S3 URL.
// Example: https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf
func parseS3URL(u string) (bucket, key string) {
	hostPath := strings.SplitN(strings.TrimPrefix(u, "https://"), "/", 2)
	host := hostPath[0]
	if len(hostPath) == 2 {
		key = hostPath[1]
	}
	parts := strings.Split(host, ".")
	if len(parts) > 0 {
		bucket = parts[0]
	}
	return bucket, key
}

func splitBucketKey(s string) (bucket, key string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

var _ core.ObjectClient = (*S3Client)(nil)
