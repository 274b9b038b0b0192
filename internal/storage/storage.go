// Package storage wraps the S3-compatible object store holding post images
// and their thumbnails.
package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tangle-social/backend/internal/config"
)

// ObjectStore is the slice of object storage the image pipeline needs.
// S3Store talks to MinIO/S3; tests substitute an in-memory fake.
type ObjectStore interface {
	Upload(ctx context.Context, key, path, contentType string) (string, error)
	Download(ctx context.Context, key, path string) error
	Remove(ctx context.Context, key string) error
	PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type S3Store struct {
	client *minio.Client
	bucket string
	// base URL objects are served from, e.g. a CDN in front of the bucket
	publicBase string
}

func NewS3Store(cfg *config.Config) (*S3Store, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.S3Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}
	return &S3Store{
		client:     client,
		bucket:     cfg.S3Bucket,
		publicBase: cfg.S3PublicBase,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

// Upload stores a local file under key and returns its public URL
func (s *S3Store) Upload(ctx context.Context, key, path, contentType string) (string, error) {
	_, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.publicBase + "/" + key, nil
}

func (s *S3Store) Download(ctx context.Context, key, path string) error {
	if err := s.client.FGetObject(ctx, s.bucket, key, path, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *S3Store) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// FileStore keeps objects on the local filesystem. Used in tests and dev
// setups without an object store.
type FileStore struct {
	root       string
	publicBase string
}

func NewFileStore(root, publicBase string) *FileStore {
	return &FileStore{root: root, publicBase: publicBase}
}

func (f *FileStore) path(key string) string {
	return f.root + "/" + strings.ReplaceAll(key, "/", "_")
}

func (f *FileStore) Upload(ctx context.Context, key, path, contentType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(f.path(key), data, 0o644); err != nil {
		return "", err
	}
	return f.publicBase + "/" + key, nil
}

func (f *FileStore) Download(ctx context.Context, key, path string) error {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (f *FileStore) Remove(ctx context.Context, key string) error {
	return os.Remove(f.path(key))
}

func (f *FileStore) PresignedGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return f.publicBase + "/" + key, nil
}
