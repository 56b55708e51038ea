// internal/storage/object_store.go
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Corphon/ManimStudio/internal/config"
)

const videoContentType = "video/mp4"

// ObjectStore uploads rendered videos to S3-compatible storage
type ObjectStore struct {
	client *minio.Client
	bucket string
	region string
	urlTTL time.Duration
}

// NewObjectStore builds a MinIO client. It performs no network calls.
func NewObjectStore(cfg config.ObjectStoreConfig) (*ObjectStore, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("object store endpoint is not configured")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket, region: cfg.Region, urlTTL: ttl}, nil
}

func (s *ObjectStore) Bucket() string {
	return s.bucket
}

// EnsureBucket creates the bucket when it does not exist yet
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("object store not initialized")
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Check reports whether the bucket is reachable
func (s *ObjectStore) Check(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("object store not initialized")
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// ObjectKey is the key a run's video is stored under
func ObjectKey(runID, localPath string) string {
	return path.Join("runs", runID, filepath.Base(localPath))
}

// PublishFile uploads the file at localPath and returns its key and a presigned GET URL
func (s *ObjectStore) PublishFile(ctx context.Context, runID, localPath string) (string, string, error) {
	if s == nil || s.client == nil {
		return "", "", fmt.Errorf("object store not initialized")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", "", fmt.Errorf("stat artifact: %w", err)
	}

	key := ObjectKey(runID, localPath)
	_, err = s.client.PutObject(ctx, s.bucket, key, f, info.Size(), minio.PutObjectOptions{ContentType: videoContentType})
	if err != nil {
		return "", "", fmt.Errorf("upload %s: %w", key, err)
	}

	url, err := s.PresignGet(ctx, key)
	if err != nil {
		return key, "", err
	}
	return key, url, nil
}

// PresignGet returns a time-limited download URL for key
func (s *ObjectStore) PresignGet(ctx context.Context, key string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("object store not initialized")
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlTTL, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
