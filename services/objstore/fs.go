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
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSBucket stores objects as files under a root directory. Slash-separated
// keys map to relative paths. Uploads stage to a temp file in the target
// directory and rename into place, so readers never observe partial objects.
type FSBucket struct {
	root string
}

// NewFSBucket creates the root directory if needed and returns the bucket.
func NewFSBucket(root string) (*FSBucket, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket root %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("absolutize bucket root: %w", err)
	}
	return &FSBucket{root: abs}, nil
}

// Root returns the absolute root directory.
func (b *FSBucket) Root() string { return b.root }

func (b *FSBucket) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

// Upload implements Bucket.
func (b *FSBucket) Upload(ctx context.Context, key string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := b.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("stage object %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close staged object %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish object %s: %w", key, err)
	}
	return nil
}

// Download implements Bucket.
func (b *FSBucket) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotExist)
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

type sectionReadCloser struct {
	io.Reader
	closer io.Closer
}

func (s sectionReadCloser) Close() error { return s.closer.Close() }

// DownloadRange implements Bucket.
func (b *FSBucket) DownloadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	f, err := b.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	file := f.(*os.File)
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek object %s: %w", key, err)
	}
	if length < 0 {
		return file, nil
	}
	return sectionReadCloser{Reader: io.LimitReader(file, length), closer: file}, nil
}

// List implements Bucket.
func (b *FSBucket) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Walk only the deepest existing directory implied by the prefix.
	walkRoot := b.root
	if dir := filepath.Dir(filepath.FromSlash(prefix)); dir != "." && dir != "/" {
		candidate := filepath.Join(b.root, dir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			walkRoot = candidate
		} else {
			return nil, nil
		}
	}

	var keys []string
	err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list prefix %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements Bucket.
func (b *FSBucket) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(b.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Exists implements Bucket.
func (b *FSBucket) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(b.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

// Size implements Bucket.
func (b *FSBucket) Size(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := os.Stat(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%s: %w", key, ErrNotExist)
		}
		return 0, fmt.Errorf("stat object %s: %w", key, err)
	}
	return info.Size(), nil
}
