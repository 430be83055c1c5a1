// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"cloud.google.com/go/storage"
	"github.com/awnumar/memguard"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig configures the Google Cloud Storage backend.
type GCSConfig struct {
	// ProjectID is informational; bucket access is governed by the key.
	ProjectID string
	// BucketName is the target bucket.
	BucketName string
	// CredentialsFile points at a service-account key JSON. Empty uses
	// application default credentials.
	CredentialsFile string
}

// Validate checks the required fields.
func (c GCSConfig) Validate() error {
	if c.BucketName == "" {
		return errors.New("gcs config requires a bucket name")
	}
	return nil
}

// GCSBucket implements Bucket on Google Cloud Storage. Object writes become
// visible only when the writer closes successfully, so uploads are atomic
// without extra staging.
type GCSBucket struct {
	client *storage.Client
	bucket string
}

// NewGCSBucket builds the backend.
//
// When a credentials file is configured, the key bytes are held in a
// memguard enclave and passed to the client once; the plaintext buffer is
// destroyed immediately after the client handshake so the key does not
// linger in process memory.
func NewGCSBucket(ctx context.Context, cfg GCSConfig) (*GCSBucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		raw, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account key %s: %w", cfg.CredentialsFile, err)
		}
		enclave := memguard.NewEnclave(raw) // wipes raw
		buf, err := enclave.Open()
		if err != nil {
			return nil, fmt.Errorf("open guarded credentials: %w", err)
		}
		defer buf.Destroy()
		opts = append(opts, option.WithCredentialsJSON(buf.Bytes()))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSBucket{client: client, bucket: cfg.BucketName}, nil
}

// Close releases the underlying client.
func (b *GCSBucket) Close() error { return b.client.Close() }

// Upload implements Bucket.
func (b *GCSBucket) Upload(ctx context.Context, key string, r io.Reader) error {
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("publish object %s: %w", key, err)
	}
	return nil
}

// Download implements Bucket.
func (b *GCSBucket) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotExist)
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return r, nil
}

// DownloadRange implements Bucket.
func (b *GCSBucket) DownloadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	r, err := b.client.Bucket(b.bucket).Object(key).NewRangeReader(ctx, offset, length)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotExist)
		}
		return nil, fmt.Errorf("open object range %s: %w", key, err)
	}
	return r, nil
}

// List implements Bucket.
func (b *GCSBucket) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list prefix %s: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements Bucket.
func (b *GCSBucket) Delete(ctx context.Context, key string) error {
	err := b.client.Bucket(b.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Exists implements Bucket.
func (b *GCSBucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.Bucket(b.bucket).Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

// Size implements Bucket.
func (b *GCSBucket) Size(ctx context.Context, key string) (int64, error) {
	attrs, err := b.client.Bucket(b.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, fmt.Errorf("%s: %w", key, ErrNotExist)
		}
		return 0, fmt.Errorf("stat object %s: %w", key, err)
	}
	return attrs.Size, nil
}
