// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package links maps filter values across data collections.
//
// A project declares directional DCLink records; each names a resolver
// strategy that turns values of the source column into values meaningful on
// the target side. Resolvers are stateless and looked up by kind in a
// Registry, so the set can be extended without touching the engine.
//
// Resolution never touches storage: matching resolvers receive the known
// target values from the caller, which keeps the engine usable both in the
// query pipeline (values read from the target table) and in isolation.
package links

import (
	"errors"
	"log/slog"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
)

// Resolver maps source values to target values under one link config.
//
// Implementations must be stateless and must not mutate their inputs; the
// registry hands the same instance to concurrent callers.
type Resolver interface {
	// Kind is the unique name the resolver registers under.
	Kind() datamodel.ResolverKind

	// NeedsTargets reports whether Resolve matches against known target
	// values. Callers skip loading the target column when false.
	NeedsTargets() bool

	// Resolve maps values to the target side. unmapped lists the source
	// values that produced no mapping.
	Resolve(values []string, cfg *datamodel.LinkConfig, targetValues []string) (resolved, unmapped []string)
}

// Registry holds resolvers by kind.
//
// Thread Safety: safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[datamodel.ResolverKind]Resolver
}

// NewRegistry creates a registry preloaded with the built-in resolvers:
// direct, sample_mapping, pattern, regex, and wildcard.
func NewRegistry() *Registry {
	r := &Registry{resolvers: make(map[datamodel.ResolverKind]Resolver)}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	for _, res := range []Resolver{
		directResolver{},
		sampleMappingResolver{},
		patternResolver{},
		regexResolver{},
		wildcardResolver{},
	} {
		r.resolvers[res.Kind()] = res
	}
}

// Register adds a resolver. Registering an already-bound kind is a
// conflict.
func (r *Registry) Register(res Resolver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resolvers[res.Kind()]; exists {
		return datamodel.NewErrorf(datamodel.KindConflict, "resolver %q already registered", res.Kind())
	}
	r.resolvers[res.Kind()] = res
	return nil
}

// Get looks up a resolver by kind.
func (r *Registry) Get(kind datamodel.ResolverKind) (Resolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[kind]
	return res, ok
}

// Kinds lists the registered resolver kinds.
func (r *Registry) Kinds() []datamodel.ResolverKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]datamodel.ResolverKind, 0, len(r.resolvers))
	for kind := range r.resolvers {
		out = append(out, kind)
	}
	return out
}

// Config configures the engine.
type Config struct {
	// Registry supplies the resolvers.
	// Default: NewRegistry()
	Registry *Registry

	// Logger for resolution traces.
	// Default: slog.Default()
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Registry == nil {
		c.Registry = NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine applies a project's links to filter values.
//
// Thread Safety: safe for concurrent use.
type Engine struct {
	registry *Registry
	logger   *slog.Logger
}

// NewEngine returns an engine over the configured registry.
func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{registry: cfg.Registry, logger: cfg.Logger}
}

// Registry exposes the engine's resolver registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Request identifies one cross-collection resolution.
type Request struct {
	SourceDCID   primitive.ObjectID `json:"source_dc_id"`
	SourceColumn string             `json:"source_column"`
	FilterValues []string           `json:"filter_values"`
	TargetDCID   primitive.ObjectID `json:"target_dc_id"`

	// TargetValues are the known values on the target side, supplied by
	// the caller for resolvers that match rather than generate. Ignored
	// by the others.
	TargetValues []string `json:"target_values,omitempty"`
}

// Result reports one resolution.
type Result struct {
	// LinkFound distinguishes "no enabled link" (callers apply no
	// cross-collection effect) from a link that resolved to nothing.
	LinkFound bool `json:"link_found"`

	ResolvedValues []string               `json:"resolved_values"`
	LinkID         primitive.ObjectID     `json:"link_id,omitempty"`
	ResolverUsed   datamodel.ResolverKind `json:"resolver_used,omitempty"`
	MatchCount     int                    `json:"match_count"`
	TargetType     datamodel.DCType       `json:"target_type,omitempty"`
	SourceCount    int                    `json:"source_count"`
	UnmappedValues []string               `json:"unmapped_values,omitempty"`
}

// FindLink locates the enabled link from the source collection and column
// to the target collection. Links are directional; source and target do not
// commute.
func FindLink(project *datamodel.Project, sourceDCID primitive.ObjectID, sourceColumn string, targetDCID primitive.ObjectID) (*datamodel.DCLink, bool) {
	for i := range project.Links {
		l := &project.Links[i]
		if l.Enabled && l.SourceDCID == sourceDCID && l.SourceColumn == sourceColumn && l.TargetDCID == targetDCID {
			return l, true
		}
	}
	return nil, false
}

// Resolve finds the matching enabled link and applies its resolver.
//
// # Outputs
//
//   - a Result; when no enabled link matches, LinkFound is false and no
//     values are resolved.
//   - an error only when the link names a resolver kind the registry does
//     not know.
func (e *Engine) Resolve(project *datamodel.Project, req Request) (*Result, error) {
	if project == nil {
		return nil, errors.New("project must not be nil")
	}
	res := &Result{SourceCount: len(req.FilterValues)}

	link, ok := FindLink(project, req.SourceDCID, req.SourceColumn, req.TargetDCID)
	if !ok {
		e.logger.Debug("no enabled link for resolution",
			"source_dc", req.SourceDCID.Hex(),
			"source_column", req.SourceColumn,
			"target_dc", req.TargetDCID.Hex())
		return res, nil
	}

	resolver, ok := e.registry.Get(link.Config.Resolver)
	if !ok {
		return nil, datamodel.NewErrorf(datamodel.KindConfigInvalid,
			"link names unknown resolver %q", link.Config.Resolver).
			With("link_id", link.ID.Hex())
	}

	resolved, unmapped := resolver.Resolve(req.FilterValues, &link.Config, req.TargetValues)
	res.LinkFound = true
	res.ResolvedValues = resolved
	res.LinkID = link.ID
	res.ResolverUsed = link.Config.Resolver
	res.MatchCount = len(resolved)
	res.TargetType = link.TargetType
	res.UnmappedValues = unmapped

	e.logger.Debug("link resolved",
		"link_id", link.ID.Hex(),
		"resolver", string(link.Config.Resolver),
		"source_count", res.SourceCount,
		"match_count", res.MatchCount,
		"unmapped", len(unmapped))
	return res, nil
}
