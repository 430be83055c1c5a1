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
	"path"
	"regexp"
	"strings"

	"github.com/depictio/depictio/services/datamodel"
)

// directResolver passes values through unchanged.
type directResolver struct{}

func (directResolver) Kind() datamodel.ResolverKind { return datamodel.ResolverDirect }
func (directResolver) NeedsTargets() bool           { return false }

func (directResolver) Resolve(values []string, _ *datamodel.LinkConfig, _ []string) ([]string, []string) {
	return append([]string(nil), values...), nil
}

// sampleMappingResolver expands each canonical value to its configured
// variants. Canonicals without a mapping pass through unchanged and are
// reported unmapped, so the filter still narrows by the raw value.
type sampleMappingResolver struct{}

func (sampleMappingResolver) Kind() datamodel.ResolverKind { return datamodel.ResolverSampleMapping }
func (sampleMappingResolver) NeedsTargets() bool           { return false }

func (sampleMappingResolver) Resolve(values []string, cfg *datamodel.LinkConfig, _ []string) ([]string, []string) {
	folded := cfg.CaseInsensitive()
	lookup := cfg.Mappings
	if folded {
		lookup = make(map[string][]string, len(cfg.Mappings))
		for canonical, variants := range cfg.Mappings {
			lookup[strings.ToLower(canonical)] = variants
		}
	}

	var resolved, unmapped []string
	for _, v := range values {
		key := v
		if folded {
			key = strings.ToLower(v)
		}
		variants, ok := lookup[key]
		if !ok {
			resolved = append(resolved, v)
			unmapped = append(unmapped, v)
			continue
		}
		resolved = append(resolved, variants...)
	}
	return resolved, unmapped
}

// patternResolver substitutes each value into a template.
type patternResolver struct{}

func (patternResolver) Kind() datamodel.ResolverKind { return datamodel.ResolverPattern }
func (patternResolver) NeedsTargets() bool           { return false }

func (patternResolver) Resolve(values []string, cfg *datamodel.LinkConfig, _ []string) ([]string, []string) {
	resolved := make([]string, len(values))
	for i, v := range values {
		resolved[i] = strings.ReplaceAll(cfg.Pattern, datamodel.PatternPlaceholder, v)
	}
	return resolved, nil
}

// regexResolver matches known target values by anchored prefix, the value
// itself taken literally. Matches are deduplicated across values in
// first-seen order.
type regexResolver struct{}

func (regexResolver) Kind() datamodel.ResolverKind { return datamodel.ResolverRegex }
func (regexResolver) NeedsTargets() bool           { return true }

func (regexResolver) Resolve(values []string, cfg *datamodel.LinkConfig, targets []string) ([]string, []string) {
	var resolved, unmapped []string
	seen := make(map[string]struct{}, len(targets))
	for _, v := range values {
		expr := "^" + regexp.QuoteMeta(v) + ".*$"
		if cfg.CaseInsensitive() {
			expr = "(?i)" + expr
		}
		re := regexp.MustCompile(expr)

		matchedAny := false
		for _, w := range targets {
			if !re.MatchString(w) {
				continue
			}
			matchedAny = true
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			resolved = append(resolved, w)
		}
		if !matchedAny {
			unmapped = append(unmapped, v)
		}
	}
	return resolved, unmapped
}

// wildcardResolver is the glob counterpart of regexResolver, matching
// targets against "value*". Values that form a malformed glob match
// nothing and land in unmapped.
type wildcardResolver struct{}

func (wildcardResolver) Kind() datamodel.ResolverKind { return datamodel.ResolverWildcard }
func (wildcardResolver) NeedsTargets() bool           { return true }

func (wildcardResolver) Resolve(values []string, cfg *datamodel.LinkConfig, targets []string) ([]string, []string) {
	folded := cfg.CaseInsensitive()
	var resolved, unmapped []string
	seen := make(map[string]struct{}, len(targets))
	for _, v := range values {
		pattern := v + "*"
		if folded {
			pattern = strings.ToLower(pattern)
		}

		matchedAny := false
		for _, w := range targets {
			cand := w
			if folded {
				cand = strings.ToLower(w)
			}
			ok, err := path.Match(pattern, cand)
			if err != nil || !ok {
				continue
			}
			matchedAny = true
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			resolved = append(resolved, w)
		}
		if !matchedAny {
			unmapped = append(unmapped, v)
		}
	}
	return resolved, unmapped
}
