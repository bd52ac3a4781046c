// Package objectstore keeps baseline snapshots in an S3-compatible bucket,
// one JSON object per key.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nicktill/ldmon/pkg/storage"
)

const objectSuffix = ".json"

// Config holds bucket connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// Storage implements storage.Storage on top of a MinIO/S3 bucket
type Storage struct {
	client *minio.Client
	bucket string
}

// New connects to the endpoint and creates the bucket if it does not exist
func New(ctx context.Context, cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("s3 bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("s3 make bucket: %w", err)
		}
	}

	return &Storage{client: client, bucket: cfg.Bucket}, nil
}

// Load fetches and decodes the object for key
func (s *Storage) Load(ctx context.Context, key storage.Key) (*storage.Snapshot, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapErr(key, "get object", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, wrapErr(key, "read object", err)
	}
	return storage.DecodeSnapshot(data)
}

// Save uploads the snapshot, replacing any previous object
func (s *Storage) Save(ctx context.Context, snap *storage.Snapshot) error {
	if err := snap.Key.Validate(); err != nil {
		return err
	}
	data, err := storage.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName(snap.Key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", snap.Key, err)
	}
	return nil
}

// Delete removes the object for key
func (s *Storage) Delete(ctx context.Context, key storage.Key) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3 remove object %s: %w", key, err)
	}
	return nil
}

// List returns the keys of every snapshot object in the bucket
func (s *Storage) List(ctx context.Context) ([]storage.Key, error) {
	var keys []storage.Key
	err := s.walk(ctx, func(info minio.ObjectInfo, key storage.Key) {
		keys = append(keys, key)
	})
	if err != nil {
		return nil, err
	}
	storage.SortKeys(keys)
	return keys, nil
}

// Stats counts objects and their sizes. Sample counts and time spans need a
// download per object and are only filled in for snapshots that decode.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	var keys []storage.Key
	err := s.walk(ctx, func(info minio.ObjectInfo, key storage.Key) {
		stats.SizeBytes += uint64(info.Size)
		keys = append(keys, key)
	})
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		snap, err := s.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		stats.Add(snap)
	}
	return stats, nil
}

// Close is a no-op, the client holds no open connections
func (s *Storage) Close() error {
	return nil
}

func (s *Storage) walk(ctx context.Context, fn func(minio.ObjectInfo, storage.Key)) error {
	opts := minio.ListObjectsOptions{Prefix: "monitoring/", Recursive: true}
	for info := range s.client.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return fmt.Errorf("s3 list objects: %w", info.Err)
		}
		key, err := storage.ParseKey(strings.TrimSuffix(info.Key, objectSuffix))
		if err != nil {
			continue // foreign object
		}
		fn(info, key)
	}
	return nil
}

func objectName(key storage.Key) string {
	return key.String() + objectSuffix
}

func wrapErr(key storage.Key, op string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return fmt.Errorf("s3 %s %s: %w", op, key, err)
}
