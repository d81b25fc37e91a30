package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// UploadSlotIssuer hands out temporary writable URLs for submission assets.
type UploadSlotIssuer interface {
	PresignPut(ctx context.Context, bucket, key, contentType string, expiry time.Duration) (string, error)
}

// MinioStore implements UploadSlotIssuer for MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore connects to the object storage endpoint and verifies the
// given buckets exist.
func NewMinioStore(endpoint, accessKey, secretKey string, useSSL bool, buckets ...string) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, bucket := range buckets {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}

	return &MinioStore{client: client}, nil
}

// PresignPut generates a pre-signed PUT URL for one upload slot.
func (m *MinioStore) PresignPut(ctx context.Context, bucket, key, contentType string, expiry time.Duration) (string, error) {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	u, err := m.client.PresignHeader(ctx, http.MethodPut, bucket, key, expiry, url.Values{}, header)
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return u.String(), nil
}
