// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datamodel

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var hexHashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// FileHash computes the stable identity hash of a file from its metadata.
//
// # Description
//
// The hash is SHA-256 over the concatenation of filename, decimal size, and
// the normalized creation and modification timestamps. File contents are
// never read: metadata is cheap to obtain and sufficient to detect any change
// that matters for re-ingestion.
//
// # Inputs
//
//   - filename: the basename of the file, not the full path.
//   - size: file size in bytes.
//   - ctime, mtime: timestamps already normalized to "YYYY-MM-DD HH:MM:SS".
//
// # Outputs
//
//   - 64 lowercase hex characters. Deterministic for equal inputs.
func FileHash(filename string, size int64, ctime, mtime string) string {
	sum := sha256.Sum256([]byte(filename + strconv.FormatInt(size, 10) + ctime + mtime))
	return hex.EncodeToString(sum[:])
}

// RunHash computes the identity hash of a workflow run.
//
// The outer hash covers the run location, both normalized timestamps, and an
// inner SHA-256 of the sorted concatenation of the contained file hashes.
// Sorting makes the result independent of file discovery order.
func RunHash(runLocation, ctime, mtime string, fileHashes []string) string {
	sorted := make([]string, len(fileHashes))
	copy(sorted, fileHashes)
	sort.Strings(sorted)

	inner := sha256.Sum256([]byte(strings.Join(sorted, "")))
	outer := sha256.Sum256([]byte(runLocation + ctime + mtime + hex.EncodeToString(inner[:])))
	return hex.EncodeToString(outer[:])
}

// ValidHash reports whether s is a well-formed 64-hex lowercase digest.
func ValidHash(s string) bool { return hexHashRe.MatchString(s) }
