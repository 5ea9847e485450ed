package inference

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// maxArtifactSize bounds how much of an artifact object is read into memory.
const maxArtifactSize = 8 << 20

// MinioConfig locates the S3-compatible store holding model artifacts.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioFetcher reads artifacts from MinIO or any S3-compatible store.
type MinioFetcher struct {
	client *minio.Client
}

// NewMinioFetcher creates a fetcher. The connection is lazy; an unreachable
// endpoint surfaces on the first Fetch.
func NewMinioFetcher(cfg MinioConfig) (*MinioFetcher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioFetcher{client: client}, nil
}

// Fetch implements ObjectFetcher.
func (f *MinioFetcher) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := f.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxArtifactSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxArtifactSize {
		return nil, fmt.Errorf("artifact %s/%s exceeds %d bytes", bucket, key, maxArtifactSize)
	}
	return data, nil
}
