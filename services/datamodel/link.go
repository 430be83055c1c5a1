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
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ResolverKind names a value-mapping strategy.
type ResolverKind string

const (
	ResolverDirect        ResolverKind = "direct"
	ResolverSampleMapping ResolverKind = "sample_mapping"
	ResolverPattern       ResolverKind = "pattern"
	ResolverRegex         ResolverKind = "regex"
	ResolverWildcard      ResolverKind = "wildcard"
)

// PatternPlaceholder is the token the pattern resolver substitutes per
// source value.
const PatternPlaceholder = "{sample}"

// linkConfigKeys is the closed set of accepted link_config keys. Anything
// else is rejected at decode time rather than silently dropped.
var linkConfigKeys = map[string]struct{}{
	"resolver":       {},
	"mappings":       {},
	"pattern":        {},
	"target_field":   {},
	"case_sensitive": {},
}

// LinkConfig parameterizes a link's resolver.
type LinkConfig struct {
	Resolver      ResolverKind        `bson:"resolver" json:"resolver"`
	Mappings      map[string][]string `bson:"mappings,omitempty" json:"mappings,omitempty"`
	Pattern       string              `bson:"pattern,omitempty" json:"pattern,omitempty"`
	TargetField   string              `bson:"target_field,omitempty" json:"target_field,omitempty"`
	CaseSensitive *bool               `bson:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`
}

// CaseInsensitive resolves the optional flag; matching defaults to
// case-sensitive.
func (c *LinkConfig) CaseInsensitive() bool {
	return c.CaseSensitive != nil && !*c.CaseSensitive
}

// DecodeLinkConfig builds a LinkConfig from a raw key/value map, rejecting
// unknown keys and type mismatches with config-invalid.
func DecodeLinkConfig(raw map[string]any) (LinkConfig, error) {
	var cfg LinkConfig
	for key := range raw {
		if _, ok := linkConfigKeys[key]; !ok {
			return cfg, NewErrorf(KindConfigInvalid, "unknown link_config key %q", key)
		}
	}

	if v, ok := raw["resolver"]; ok {
		s, ok := v.(string)
		if !ok {
			return cfg, NewError(KindConfigInvalid, "resolver must be a string")
		}
		cfg.Resolver = ResolverKind(s)
	}
	if v, ok := raw["pattern"]; ok {
		s, ok := v.(string)
		if !ok {
			return cfg, NewError(KindConfigInvalid, "pattern must be a string")
		}
		cfg.Pattern = s
	}
	if v, ok := raw["target_field"]; ok {
		s, ok := v.(string)
		if !ok {
			return cfg, NewError(KindConfigInvalid, "target_field must be a string")
		}
		cfg.TargetField = s
	}
	if v, ok := raw["case_sensitive"]; ok {
		b, ok := v.(bool)
		if !ok {
			return cfg, NewError(KindConfigInvalid, "case_sensitive must be a boolean")
		}
		cfg.CaseSensitive = &b
	}
	if v, ok := raw["mappings"]; ok {
		m, err := decodeMappings(v)
		if err != nil {
			return cfg, err
		}
		cfg.Mappings = m
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeMappings(v any) (map[string][]string, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		// Already-typed maps come straight through from BSON decoding.
		if typed, ok := v.(map[string][]string); ok {
			return typed, nil
		}
		return nil, NewError(KindConfigInvalid, "mappings must map canonical values to variant lists")
	}
	out := make(map[string][]string, len(raw))
	for canonical, variants := range raw {
		list, ok := variants.([]any)
		if !ok {
			return nil, NewErrorf(KindConfigInvalid, "mappings[%q] must be a list", canonical)
		}
		strs := make([]string, 0, len(list))
		for _, item := range list {
			strs = append(strs, fmt.Sprintf("%v", item))
		}
		out[canonical] = strs
	}
	return out, nil
}

// Validate enforces per-resolver requirements, notably that the pattern
// resolver's template carries the {sample} placeholder.
func (c *LinkConfig) Validate() error {
	switch c.Resolver {
	case ResolverDirect, ResolverRegex, ResolverWildcard:
		return nil
	case ResolverSampleMapping:
		if len(c.Mappings) == 0 {
			return NewError(KindConfigInvalid, "sample_mapping resolver requires mappings")
		}
		return nil
	case ResolverPattern:
		if !strings.Contains(c.Pattern, PatternPlaceholder) {
			return NewErrorf(KindConfigInvalid, "pattern resolver template must contain %s", PatternPlaceholder)
		}
		return nil
	case "":
		return NewError(KindConfigInvalid, "link_config requires a resolver")
	default:
		return NewErrorf(KindConfigInvalid, "unknown resolver %q", c.Resolver)
	}
}

// DCLink declares a directional value mapping from a source column to a
// target collection, used to propagate filters across collections without
// materializing a join.
type DCLink struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	SourceDCID   primitive.ObjectID `bson:"source_dc_id" json:"source_dc_id"`
	SourceColumn string             `bson:"source_column" json:"source_column" validate:"required"`
	TargetDCID   primitive.ObjectID `bson:"target_dc_id" json:"target_dc_id"`
	TargetType   DCType             `bson:"target_type" json:"target_type"`
	Config       LinkConfig         `bson:"link_config" json:"link_config"`
	Enabled      bool               `bson:"enabled" json:"enabled"`
}

// Validate enforces link invariants.
func (l *DCLink) Validate() error {
	if err := validate.Struct(l); err != nil {
		return WrapError(KindConfigInvalid, "link fields", err)
	}
	if l.SourceDCID.IsZero() || l.TargetDCID.IsZero() {
		return NewError(KindConfigInvalid, "link requires source and target collection ids")
	}
	if l.SourceDCID == l.TargetDCID {
		return NewError(KindConfigInvalid, "link source and target must differ")
	}
	return l.Config.Validate()
}
