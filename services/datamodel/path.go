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
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var envPlaceholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandPath resolves a configured location into an absolute path.
//
// Occurrences of {NAME} are substituted with the value of the NAME
// environment variable. Expansion fails with config-invalid if any referenced
// variable is unset, naming every missing variable. A leading "~" expands to
// the user home directory. Relative paths resolve against the working
// directory.
func ExpandPath(raw string) (string, error) {
	expanded, err := expandPlaceholders(raw)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", WrapError(KindConfigInvalid, "cannot absolutize path", err).With("path", raw)
	}
	return abs, nil
}

// ExpandAbsolutePath is ExpandPath for contexts with no meaningful base
// directory: a path that is still relative after placeholder and home
// expansion is config-invalid.
func ExpandAbsolutePath(raw string) (string, error) {
	expanded, err := expandPlaceholders(raw)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		return "", NewError(KindConfigInvalid, "path must be absolute").With("path", raw)
	}
	return filepath.Clean(expanded), nil
}

func expandPlaceholders(raw string) (string, error) {
	var missing []string
	expanded := envPlaceholderRe.ReplaceAllStringFunc(raw, func(m string) string {
		name := m[1 : len(m)-1]
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		return val
	})
	if len(missing) > 0 {
		return "", NewErrorf(KindConfigInvalid,
			"unset environment variables in path %q: %s", raw, strings.Join(missing, ", "))
	}

	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
		}
	}
	return expanded, nil
}

// ValidateDirectory checks that path exists, is a directory, and is readable.
//
// Only client/CLI contexts call this; server contexts skip existence checks
// because configured paths may refer to mounts the server cannot see.
func ValidateDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewErrorf(KindConfigInvalid, "directory does not exist").With("path", path)
		}
		return WrapError(KindIOError, "cannot stat directory", err).With("path", path)
	}
	if !info.IsDir() {
		return NewErrorf(KindConfigInvalid, "not a directory").With("path", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return WrapError(KindIOError, "directory not readable", err).With("path", path)
	}
	_ = f.Close()
	return nil
}

// NormalizeSeparators rewrites backslash separators to forward slashes so
// pattern matching behaves identically across platforms.
func NormalizeSeparators(p string) string { return strings.ReplaceAll(p, `\`, "/") }
