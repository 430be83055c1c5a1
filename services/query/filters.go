// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/frame"
)

// FilterEntry is one per-column grid filter. Simple entries carry
// FilterType plus the operands for that type; composite entries carry
// Operator with two sub-conditions and leave the rest empty.
type FilterEntry struct {
	// FilterType is one of "text", "number", "date", "set".
	FilterType string `json:"filterType,omitempty"`

	// Type names the predicate within the filter type, e.g. "contains"
	// for text or "lte" for numbers.
	Type string `json:"type,omitempty"`

	// Filter is the comparison operand for text and number predicates.
	Filter any `json:"filter,omitempty"`

	// DateFrom and DateTo bound date predicates. DateTo is only read for
	// "inRange".
	DateFrom string `json:"dateFrom,omitempty"`
	DateTo   string `json:"dateTo,omitempty"`

	// Values lists the selected members for set predicates.
	Values []string `json:"values,omitempty"`

	// Operator is "AND" or "OR" for composite entries.
	Operator   string       `json:"operator,omitempty"`
	Condition1 *FilterEntry `json:"condition1,omitempty"`
	Condition2 *FilterEntry `json:"condition2,omitempty"`
}

// rewriteName maps a stored column name to its presented form.
func rewriteName(col string) string {
	return strings.ReplaceAll(col, ".", "_")
}

// presentedLookup maps presented column names back to stored names. Stored
// names that already match their presented form win over rewrites.
func presentedLookup(f *frame.Frame) map[string]string {
	lookup := make(map[string]string, f.NumCols())
	for _, col := range f.Columns() {
		lookup[col] = col
	}
	for _, col := range f.Columns() {
		r := rewriteName(col)
		if _, taken := lookup[r]; !taken {
			lookup[r] = col
		}
	}
	return lookup
}

// applyFilterModel filters f by every entry in model. Entries naming
// columns the frame does not carry are reported through warn and skipped,
// as are entries the evaluator cannot interpret. Entries are applied in
// column-name order so repeated queries filter identically.
func applyFilterModel(f *frame.Frame, model map[string]FilterEntry, warn func(format string, args ...any)) *frame.Frame {
	if len(model) == 0 {
		return f
	}
	keys := make([]string, 0, len(model))
	for k := range model {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		lookup := presentedLookup(f)
		col, ok := lookup[key]
		if !ok {
			warn("grid filter column %q not present; skipped", key)
			continue
		}
		s, _ := f.Column(col)
		entry := model[key]
		mask, ok := entryMask(s, &entry, key, warn)
		if !ok {
			continue
		}
		f = f.FilterRows(mask)
	}
	return f
}

// entryMask evaluates one filter entry against a column. Null cells never
// match any predicate, positive or negative.
func entryMask(s *frame.Series, e *FilterEntry, col string, warn func(string, ...any)) ([]bool, bool) {
	if e == nil {
		return nil, false
	}
	if e.Operator != "" {
		return compositeMask(s, e, col, warn)
	}
	switch strings.ToLower(e.FilterType) {
	case "text":
		return textMask(s, e, col, warn)
	case "number":
		return numberMask(s, e, col, warn)
	case "date":
		return dateMask(s, e, col, warn)
	case "set":
		return setMask(s, e), true
	default:
		warn("grid filter on %q has unknown filterType %q; skipped", col, e.FilterType)
		return nil, false
	}
}

func compositeMask(s *frame.Series, e *FilterEntry, col string, warn func(string, ...any)) ([]bool, bool) {
	op := strings.ToUpper(e.Operator)
	if op != "AND" && op != "OR" {
		warn("grid filter on %q has unknown operator %q; skipped", col, e.Operator)
		return nil, false
	}
	if e.Condition1 == nil || e.Condition2 == nil {
		warn("grid filter on %q is missing a composite condition; skipped", col)
		return nil, false
	}
	m1, ok1 := entryMask(s, e.Condition1, col, warn)
	m2, ok2 := entryMask(s, e.Condition2, col, warn)
	if !ok1 || !ok2 {
		return nil, false
	}
	out := make([]bool, len(m1))
	for i := range out {
		if op == "AND" {
			out[i] = m1[i] && m2[i]
		} else {
			out[i] = m1[i] || m2[i]
		}
	}
	return out, true
}

func textMask(s *frame.Series, e *FilterEntry, col string, warn func(string, ...any)) ([]bool, bool) {
	needle, ok := canonicalString(e.Filter)
	if !ok {
		warn("grid text filter on %q has no operand; skipped", col)
		return nil, false
	}
	needle = strings.ToLower(needle)
	pred, ok := textPredicate(e.Type)
	if !ok {
		warn("grid text filter on %q has unknown type %q; skipped", col, e.Type)
		return nil, false
	}
	mask := make([]bool, s.Len())
	for i := range mask {
		if s.IsNull(i) {
			continue
		}
		mask[i] = pred(strings.ToLower(s.KeyString(i)), needle)
	}
	return mask, true
}

func textPredicate(typ string) (func(cell, needle string) bool, bool) {
	switch typ {
	case "contains":
		return strings.Contains, true
	case "notContains":
		return func(c, n string) bool { return !strings.Contains(c, n) }, true
	case "equals":
		return func(c, n string) bool { return c == n }, true
	case "notEqual":
		return func(c, n string) bool { return c != n }, true
	case "startsWith":
		return strings.HasPrefix, true
	case "endsWith":
		return strings.HasSuffix, true
	default:
		return nil, false
	}
}

func numberMask(s *frame.Series, e *FilterEntry, col string, warn func(string, ...any)) ([]bool, bool) {
	want, ok := asFloat(e.Filter)
	if !ok {
		warn("grid number filter on %q has a non-numeric operand; skipped", col)
		return nil, false
	}
	pred, ok := numberPredicate(e.Type)
	if !ok {
		warn("grid number filter on %q has unknown type %q; skipped", col, e.Type)
		return nil, false
	}
	mask := make([]bool, s.Len())
	for i := range mask {
		v, ok := numericCell(s, i)
		if !ok {
			continue
		}
		mask[i] = pred(v, want)
	}
	return mask, true
}

func numberPredicate(typ string) (func(cell, want float64) bool, bool) {
	switch normalizeOp(typ) {
	case "equals":
		return func(c, w float64) bool { return c == w }, true
	case "notEqual":
		return func(c, w float64) bool { return c != w }, true
	case "lt":
		return func(c, w float64) bool { return c < w }, true
	case "lte":
		return func(c, w float64) bool { return c <= w }, true
	case "gt":
		return func(c, w float64) bool { return c > w }, true
	case "gte":
		return func(c, w float64) bool { return c >= w }, true
	default:
		return nil, false
	}
}

// normalizeOp folds the long-form grid operator spellings onto the short
// canonical ones.
func normalizeOp(typ string) string {
	switch strings.ToLower(typ) {
	case "lessthan":
		return "lt"
	case "lessthanorequal":
		return "lte"
	case "greaterthan":
		return "gt"
	case "greaterthanorequal":
		return "gte"
	default:
		return typ
	}
}

func dateMask(s *frame.Series, e *FilterEntry, col string, warn func(string, ...any)) ([]bool, bool) {
	from, err := datamodel.ParseFlexibleTime(e.DateFrom)
	if err != nil {
		warn("grid date filter on %q has unparseable dateFrom %q; skipped", col, e.DateFrom)
		return nil, false
	}
	typ := normalizeOp(e.Type)
	mask := make([]bool, s.Len())
	if strings.EqualFold(typ, "inRange") {
		to, err := datamodel.ParseFlexibleTime(e.DateTo)
		if err != nil {
			warn("grid date filter on %q has unparseable dateTo %q; skipped", col, e.DateTo)
			return nil, false
		}
		for i := range mask {
			t, ok := dateCell(s, i)
			if !ok {
				continue
			}
			mask[i] = !t.Before(from) && !t.After(to)
		}
		return mask, true
	}
	var pred func(t time.Time) bool
	switch typ {
	case "equals":
		pred = func(t time.Time) bool { return t.Equal(from) }
	case "notEqual":
		pred = func(t time.Time) bool { return !t.Equal(from) }
	case "lt":
		pred = func(t time.Time) bool { return t.Before(from) }
	case "lte":
		pred = func(t time.Time) bool { return !t.After(from) }
	case "gt":
		pred = func(t time.Time) bool { return t.After(from) }
	case "gte":
		pred = func(t time.Time) bool { return !t.Before(from) }
	default:
		warn("grid date filter on %q has unknown type %q; skipped", col, e.Type)
		return nil, false
	}
	for i := range mask {
		t, ok := dateCell(s, i)
		if !ok {
			continue
		}
		mask[i] = pred(t)
	}
	return mask, true
}

// setMask keeps rows whose canonical cell value is among the selected
// members. An empty selection matches nothing.
func setMask(s *frame.Series, e *FilterEntry) []bool {
	members := make(map[string]struct{}, len(e.Values))
	for _, v := range e.Values {
		members[v] = struct{}{}
	}
	return maskInSet(s, members)
}

// maskInSet marks rows whose canonical cell value is in members. Null
// cells never match.
func maskInSet(s *frame.Series, members map[string]struct{}) []bool {
	mask := make([]bool, s.Len())
	if len(members) == 0 {
		return mask
	}
	for i := range mask {
		if s.IsNull(i) {
			continue
		}
		_, mask[i] = members[s.KeyString(i)]
	}
	return mask
}

// componentMask evaluates one interactive component against a frame column.
// The second return is false when the component is inactive or cannot be
// applied; reason is non-empty only for the latter.
func componentMask(f *frame.Frame, column string, comp *FilterComponent) (mask []bool, ok bool, reason string) {
	s, found := f.Column(column)
	if !found {
		return nil, false, "column " + strconv.Quote(column) + " not present"
	}
	widget := strings.ToLower(comp.Metadata.InteractiveComponentType)
	if list, isList := listValue(comp.Value); isList {
		if len(list) == 0 {
			return nil, false, ""
		}
		if strings.Contains(widget, "range") && len(list) == 2 {
			return rangeMask(s, comp, list)
		}
		return membershipMask(s, list), true, ""
	}
	scalar, isScalar := canonicalString(comp.Value)
	if !isScalar || scalar == "" {
		return nil, false, ""
	}
	if strings.Contains(widget, "text") || strings.Contains(widget, "input") {
		return containsMask(s, scalar), true, ""
	}
	return equalsMask(s, scalar), true, ""
}

// rangeMask builds an inclusive between filter. Date columns are detected
// from the component's declared column type; everything else compares
// numerically. Inverted bounds are swapped.
func rangeMask(s *frame.Series, comp *FilterComponent, bounds []any) ([]bool, bool, string) {
	colType := strings.ToLower(comp.Metadata.ColumnType)
	if strings.Contains(colType, "date") || strings.Contains(colType, "time") {
		return dateRangeMask(s, bounds)
	}
	lo, okLo := asFloat(bounds[0])
	hi, okHi := asFloat(bounds[1])
	if !okLo || !okHi {
		return nil, false, "range bounds are not numeric"
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	mask := make([]bool, s.Len())
	for i := range mask {
		v, ok := numericCell(s, i)
		if !ok {
			continue
		}
		mask[i] = v >= lo && v <= hi
	}
	return mask, true, ""
}

func dateRangeMask(s *frame.Series, bounds []any) ([]bool, bool, string) {
	loStr, okLo := canonicalString(bounds[0])
	hiStr, okHi := canonicalString(bounds[1])
	if !okLo || !okHi {
		return nil, false, "range bounds are not dates"
	}
	lo, errLo := datamodel.ParseFlexibleTime(loStr)
	hi, errHi := datamodel.ParseFlexibleTime(hiStr)
	if errLo != nil || errHi != nil {
		return nil, false, "range bounds are not dates"
	}
	if lo.After(hi) {
		lo, hi = hi, lo
	}
	mask := make([]bool, s.Len())
	for i := range mask {
		t, ok := dateCell(s, i)
		if !ok {
			continue
		}
		mask[i] = !t.Before(lo) && !t.After(hi)
	}
	return mask, true, ""
}

func membershipMask(s *frame.Series, list []any) []bool {
	members := make(map[string]struct{}, len(list))
	for _, v := range list {
		if c, ok := canonicalString(v); ok {
			members[c] = struct{}{}
		}
	}
	return maskInSet(s, members)
}

func containsMask(s *frame.Series, needle string) []bool {
	needle = strings.ToLower(needle)
	mask := make([]bool, s.Len())
	for i := range mask {
		if s.IsNull(i) {
			continue
		}
		mask[i] = strings.Contains(strings.ToLower(s.KeyString(i)), needle)
	}
	return mask
}

func equalsMask(s *frame.Series, want string) []bool {
	mask := make([]bool, s.Len())
	for i := range mask {
		if s.IsNull(i) {
			continue
		}
		mask[i] = s.KeyString(i) == want
	}
	return mask
}

// listValue unpacks a JSON array value. Strings and scalars are not lists.
func listValue(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// canonicalString renders a scalar in the same canonical form the frame
// uses for key comparison, so 10, 10.0, and "10" coincide.
func canonicalString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 64), true
	case int:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// numericCell reads cell i as float64, parsing string cells when they hold
// a number.
func numericCell(s *frame.Series, i int) (float64, bool) {
	if v, ok := s.Float64(i); ok {
		return v, true
	}
	if s.IsNull(i) {
		return 0, false
	}
	if s.DType() == frame.String {
		v, ok := s.Value(i).(string)
		if !ok {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// dateCell parses cell i as a timestamp. Only string cells can hold dates.
func dateCell(s *frame.Series, i int) (t time.Time, ok bool) {
	if s.IsNull(i) || s.DType() != frame.String {
		return time.Time{}, false
	}
	v, _ := s.Value(i).(string)
	parsed, err := datamodel.ParseFlexibleTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
