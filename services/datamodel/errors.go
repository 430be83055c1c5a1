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
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a domain failure. Kinds are stable strings carried across
// component boundaries and into API responses; they are not free-form.
type Kind string

const (
	KindConfigInvalid     Kind = "config-invalid"
	KindDCNotFound        Kind = "dc-not-found"
	KindDCNotProcessed    Kind = "dc-not-processed"
	KindMissingJoinColumn Kind = "missing-join-column"
	KindTypeError         Kind = "type-error"
	KindIOError           Kind = "io-error"
	KindScanIOError       Kind = "scan-io-error"
	KindAuthError         Kind = "auth-error"
	KindConflict          Kind = "conflict"
	KindNotFound          Kind = "not-found"
	KindInvalidTime       Kind = "invalid-time"
	KindInvalidFile       Kind = "invalid-file"
)

// Error is the domain error type. Detail is human-readable; Context names the
// entity involved (project id, workflow tag, DC tag, file location) so callers
// can surface actionable messages without parsing Detail.
type Error struct {
	Kind    Kind
	Detail  string
	Context map[string]string

	cause error
}

// NewError creates a domain error with no underlying cause.
func NewError(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// NewErrorf creates a domain error with a formatted detail message.
func NewErrorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapError attaches a domain kind to an underlying cause. The cause remains
// reachable through errors.Unwrap / errors.Is.
func WrapError(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// With records a context key/value on the error and returns it for chaining.
func (e *Error) With(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string, 4)
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(e.Context[k])
		}
		b.WriteString(")")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports kind equality so errors.Is(err, &Error{Kind: k}) works for
// sentinel-style comparisons.
func (e *Error) Is(target error) bool {
	var de *Error
	if !errors.As(target, &de) {
		return false
	}
	return e.Kind == de.Kind
}

// KindOf extracts the domain kind from an error chain, or "" when the chain
// carries no domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether the error chain carries a domain error of kind k.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }
