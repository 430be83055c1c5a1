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
	"time"
)

// TimestampLayout is the canonical storage form for all entity timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// flexibleLayouts are accepted on input, tried in order. The canonical layout
// comes first so normalizing an already-normalized value is a no-op.
var flexibleLayouts = []string{
	TimestampLayout,
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseFlexibleTime parses ISO-8601 variants and already-normalized input.
// Non-parseable input yields an invalid-time domain error.
func ParseFlexibleTime(s string) (time.Time, error) {
	for _, layout := range flexibleLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, NewErrorf(KindInvalidTime, "unparseable timestamp %q", s)
}

// FormatTimestamp renders t in the canonical storage form.
func FormatTimestamp(t time.Time) string { return t.Format(TimestampLayout) }

// NormalizeTimestamp converts any accepted input form to the canonical
// "YYYY-MM-DD HH:MM:SS" form.
func NormalizeTimestamp(s string) (string, error) {
	t, err := ParseFlexibleTime(s)
	if err != nil {
		return "", err
	}
	return FormatTimestamp(t), nil
}
