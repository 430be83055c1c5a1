// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package links

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depictio/depictio/services/datamodel"
)

func quietEngine() *Engine {
	return NewEngine(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func boolPtr(b bool) *bool { return &b }

func TestDirectResolver(t *testing.T) {
	r := directResolver{}
	values := []string{"s1", "s2"}

	resolved, unmapped := r.Resolve(values, &datamodel.LinkConfig{Resolver: datamodel.ResolverDirect}, nil)

	assert.Equal(t, []string{"s1", "s2"}, resolved)
	assert.Empty(t, unmapped)
	assert.Equal(t, []string{"s1", "s2"}, values, "input must not be mutated")
}

func TestSampleMappingResolver(t *testing.T) {
	r := sampleMappingResolver{}
	cfg := &datamodel.LinkConfig{
		Resolver: datamodel.ResolverSampleMapping,
		Mappings: map[string][]string{"S": {"A", "B"}},
	}

	t.Run("expands variants", func(t *testing.T) {
		resolved, unmapped := r.Resolve([]string{"S"}, cfg, nil)
		assert.Equal(t, []string{"A", "B"}, resolved)
		assert.Empty(t, unmapped)
	})

	t.Run("forwards unmatched canonicals", func(t *testing.T) {
		resolved, unmapped := r.Resolve([]string{"S", "X"}, cfg, nil)
		assert.Equal(t, []string{"A", "B", "X"}, resolved)
		assert.Equal(t, []string{"X"}, unmapped)
	})

	t.Run("case insensitive lookup", func(t *testing.T) {
		folded := &datamodel.LinkConfig{
			Resolver:      datamodel.ResolverSampleMapping,
			Mappings:      map[string][]string{"Sample1": {"v1"}},
			CaseSensitive: boolPtr(false),
		}
		resolved, unmapped := r.Resolve([]string{"SAMPLE1"}, folded, nil)
		assert.Equal(t, []string{"v1"}, resolved)
		assert.Empty(t, unmapped)
	})
}

func TestPatternResolver(t *testing.T) {
	r := patternResolver{}

	resolved, unmapped := r.Resolve([]string{"S"}, &datamodel.LinkConfig{
		Resolver: datamodel.ResolverPattern,
		Pattern:  "{sample}.bam",
	}, nil)
	assert.Equal(t, []string{"S.bam"}, resolved)
	assert.Empty(t, unmapped)

	t.Run("placeholder may repeat", func(t *testing.T) {
		resolved, _ := r.Resolve([]string{"s1"}, &datamodel.LinkConfig{
			Resolver: datamodel.ResolverPattern,
			Pattern:  "{sample}/{sample}.bam",
		}, nil)
		assert.Equal(t, []string{"s1/s1.bam"}, resolved)
	})
}

func TestRegexResolver(t *testing.T) {
	r := regexResolver{}
	cfg := &datamodel.LinkConfig{Resolver: datamodel.ResolverRegex}
	targets := []string{"sample1_run", "sample2_run", "other"}

	t.Run("prefix matches", func(t *testing.T) {
		resolved, unmapped := r.Resolve([]string{"sample1"}, cfg, targets)
		assert.Equal(t, []string{"sample1_run"}, resolved)
		assert.Empty(t, unmapped)
	})

	t.Run("no match reports unmapped", func(t *testing.T) {
		resolved, unmapped := r.Resolve([]string{"zz"}, cfg, targets)
		assert.Empty(t, resolved)
		assert.Equal(t, []string{"zz"}, unmapped)
	})

	t.Run("matches deduplicate across values", func(t *testing.T) {
		resolved, unmapped := r.Resolve([]string{"sam", "sample"}, cfg, targets)
		assert.Equal(t, []string{"sample1_run", "sample2_run"}, resolved)
		assert.Empty(t, unmapped)
	})

	t.Run("values are literal", func(t *testing.T) {
		resolved, unmapped := r.Resolve([]string{"s.1"}, cfg, []string{"sX1_run", "s.1_run"})
		assert.Equal(t, []string{"s.1_run"}, resolved)
		assert.Empty(t, unmapped)
	})

	t.Run("case insensitive", func(t *testing.T) {
		folded := &datamodel.LinkConfig{Resolver: datamodel.ResolverRegex, CaseSensitive: boolPtr(false)}
		resolved, _ := r.Resolve([]string{"SAMPLE1"}, folded, targets)
		assert.Equal(t, []string{"sample1_run"}, resolved)
	})
}

func TestWildcardResolver(t *testing.T) {
	r := wildcardResolver{}
	cfg := &datamodel.LinkConfig{Resolver: datamodel.ResolverWildcard}
	targets := []string{"sample1_run", "sample2_run", "other"}

	t.Run("glob prefix matches", func(t *testing.T) {
		resolved, unmapped := r.Resolve([]string{"sample1"}, cfg, targets)
		assert.Equal(t, []string{"sample1_run"}, resolved)
		assert.Empty(t, unmapped)
	})

	t.Run("malformed glob matches nothing", func(t *testing.T) {
		resolved, unmapped := r.Resolve([]string{"sam[ple"}, cfg, targets)
		assert.Empty(t, resolved)
		assert.Equal(t, []string{"sam[ple"}, unmapped)
	})

	t.Run("case insensitive", func(t *testing.T) {
		folded := &datamodel.LinkConfig{Resolver: datamodel.ResolverWildcard, CaseSensitive: boolPtr(false)}
		resolved, _ := r.Resolve([]string{"SAMPLE2"}, folded, targets)
		assert.Equal(t, []string{"sample2_run"}, resolved)
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	for _, kind := range []datamodel.ResolverKind{
		datamodel.ResolverDirect,
		datamodel.ResolverSampleMapping,
		datamodel.ResolverPattern,
		datamodel.ResolverRegex,
		datamodel.ResolverWildcard,
	} {
		res, ok := reg.Get(kind)
		require.True(t, ok, "built-in %q missing", kind)
		assert.Equal(t, kind, res.Kind())
	}
	assert.Len(t, reg.Kinds(), 5)

	_, ok := reg.Get("nope")
	assert.False(t, ok)

	err := reg.Register(directResolver{})
	assert.True(t, datamodel.IsKind(err, datamodel.KindConflict), "got %v", err)
}

func linkedProject(link datamodel.DCLink) *datamodel.Project {
	return &datamodel.Project{
		ID:    datamodel.NewID(),
		Name:  "reference-atlas",
		Links: []datamodel.DCLink{link},
	}
}

func TestEngineResolve(t *testing.T) {
	engine := quietEngine()
	sourceID, targetID := datamodel.NewID(), datamodel.NewID()
	link := datamodel.DCLink{
		ID:           datamodel.NewID(),
		SourceDCID:   sourceID,
		SourceColumn: "sample",
		TargetDCID:   targetID,
		TargetType:   datamodel.DCTypeTable,
		Config:       datamodel.LinkConfig{Resolver: datamodel.ResolverDirect},
		Enabled:      true,
	}

	t.Run("applies the matching link", func(t *testing.T) {
		res, err := engine.Resolve(linkedProject(link), Request{
			SourceDCID:   sourceID,
			SourceColumn: "sample",
			FilterValues: []string{"s1", "s2"},
			TargetDCID:   targetID,
		})
		require.NoError(t, err)
		assert.True(t, res.LinkFound)
		assert.Equal(t, []string{"s1", "s2"}, res.ResolvedValues)
		assert.Equal(t, link.ID, res.LinkID)
		assert.Equal(t, datamodel.ResolverDirect, res.ResolverUsed)
		assert.Equal(t, 2, res.MatchCount)
		assert.Equal(t, 2, res.SourceCount)
		assert.Equal(t, datamodel.DCTypeTable, res.TargetType)
		assert.Empty(t, res.UnmappedValues)
	})

	t.Run("no link yields no values", func(t *testing.T) {
		res, err := engine.Resolve(linkedProject(link), Request{
			SourceDCID:   sourceID,
			SourceColumn: "other_column",
			FilterValues: []string{"s1"},
			TargetDCID:   targetID,
		})
		require.NoError(t, err)
		assert.False(t, res.LinkFound)
		assert.Empty(t, res.ResolvedValues)
		assert.Equal(t, 1, res.SourceCount)
	})

	t.Run("disabled link is invisible", func(t *testing.T) {
		disabled := link
		disabled.Enabled = false
		res, err := engine.Resolve(linkedProject(disabled), Request{
			SourceDCID:   sourceID,
			SourceColumn: "sample",
			FilterValues: []string{"s1"},
			TargetDCID:   targetID,
		})
		require.NoError(t, err)
		assert.False(t, res.LinkFound)
	})

	t.Run("links are directional", func(t *testing.T) {
		res, err := engine.Resolve(linkedProject(link), Request{
			SourceDCID:   targetID,
			SourceColumn: "sample",
			FilterValues: []string{"s1"},
			TargetDCID:   sourceID,
		})
		require.NoError(t, err)
		assert.False(t, res.LinkFound)
	})

	t.Run("matching resolver receives target values", func(t *testing.T) {
		viaRegex := link
		viaRegex.Config = datamodel.LinkConfig{Resolver: datamodel.ResolverRegex}
		res, err := engine.Resolve(linkedProject(viaRegex), Request{
			SourceDCID:   sourceID,
			SourceColumn: "sample",
			FilterValues: []string{"s1"},
			TargetDCID:   targetID,
			TargetValues: []string{"s1_a", "s1_b", "s2_a"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"s1_a", "s1_b"}, res.ResolvedValues)
		assert.Equal(t, 2, res.MatchCount)
	})

	t.Run("unknown resolver kind errors", func(t *testing.T) {
		broken := link
		broken.Config = datamodel.LinkConfig{Resolver: "bespoke"}
		_, err := engine.Resolve(linkedProject(broken), Request{
			SourceDCID:   sourceID,
			SourceColumn: "sample",
			FilterValues: []string{"s1"},
			TargetDCID:   targetID,
		})
		assert.True(t, datamodel.IsKind(err, datamodel.KindConfigInvalid), "got %v", err)
	})
}
