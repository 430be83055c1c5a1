// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package objstore abstracts the object store that holds Delta tables.
//
// Keys are slash-separated paths relative to the bucket root. Two backends
// are provided: a local filesystem bucket for standalone deployments and
// tests, and a Google Cloud Storage bucket for production.
package objstore

import (
	"context"
	"errors"
	"io"
)

// ---- Errors ----

var (
	// ErrNotExist is returned when a requested object key is absent.
	ErrNotExist = errors.New("object does not exist")
)

// Bucket is the narrow object-store contract the platform consumes.
//
// # Description
//
// All operations take a context for cancellation and deadlines. Readers
// returned by Download and DownloadRange must be closed by the caller.
// Upload replaces any existing object under the key; partially written
// objects must never become visible under the key.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Bucket interface {
	// Upload stores the reader's content under key, replacing any existing
	// object atomically.
	Upload(ctx context.Context, key string, r io.Reader) error

	// Download opens the object for reading. Missing keys yield ErrNotExist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// DownloadRange opens a byte range [offset, offset+length) of the
	// object. length < 0 reads to the end.
	DownloadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	// List returns the keys under the given prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Size returns the object's size in bytes. Missing keys yield
	// ErrNotExist.
	Size(ctx context.Context, key string) (int64, error)
}

// ReadAll downloads an object fully into memory.
func ReadAll(ctx context.Context, b Bucket, key string) ([]byte, error) {
	rc, err := b.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
