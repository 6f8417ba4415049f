// Package blobstore is the minio-backed object store shared by the
// runner's output capture and the build executor's artifact registration.
// Both write an opaque handle into a Postgres row (Task.OutputHandle,
// BuildArtifact.BlobHandle) and keep the actual bytes out of the
// database.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/logger/log"
)

// Store is the put/get contract both callers need. handle is an opaque
// object key; callers never construct or parse one themselves.
type Store interface {
	Put(ctx context.Context, prefix string, data []byte) (handle string, sha256Hex string, err error)
	Get(ctx context.Context, handle string) ([]byte, error)
}

// MinioStore implements Store over a MinIO/S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore dials endpoint and ensures bucket exists, creating it if
// the credentials permit.
func NewMinioStore(ctx context.Context, cfg config.ArtifactStoreConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		log.Warnf("blobstore: check bucket existence: %v", err)
	} else if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			log.Warnf("blobstore: create bucket %s: %v", cfg.Bucket, err)
		} else {
			log.Infof("blobstore: created bucket %s", cfg.Bucket)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads data under a content-addressed key ("<prefix>/<sha256>") and
// returns the handle plus the hex-encoded digest, so callers that need to
// record SHA256 separately (build artifacts) don't recompute it.
func (s *MinioStore) Put(ctx context.Context, prefix string, data []byte) (string, string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("%s/%s", prefix, digest)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", "", fmt.Errorf("upload object %s: %w", key, err)
	}
	return key, digest, nil
}

// Get downloads the object at handle.
func (s *MinioStore) Get(ctx context.Context, handle string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, handle, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", handle, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, fmt.Errorf("read object %s: %w", handle, err)
	}
	return buf.Bytes(), nil
}

// PresignGet mirrors the teacher's download-URL convenience for operators
// who want to fetch full task/build output without going through the API.
func (s *MinioStore) PresignGet(ctx context.Context, handle string, expires time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, handle, expires, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", handle, err)
	}
	return u.String(), nil
}
