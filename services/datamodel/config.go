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
	"regexp"
	"strings"
)

// DCType enumerates the supported data collection kinds.
type DCType string

const (
	DCTypeTable    DCType = "table"
	DCTypeJBrowse2 DCType = "jbrowse2"
	DCTypeMultiQC  DCType = "multiqc"
	DCTypeImage    DCType = "image"
)

// SourceJoined marks collections whose content is produced by a join rather
// than a scan.
const SourceJoined = "joined"

// ScanMode selects between single-file and recursive discovery.
type ScanMode string

const (
	ScanModeSingle    ScanMode = "single"
	ScanModeRecursive ScanMode = "recursive"
)

// TableFormat enumerates ingestible table file formats.
type TableFormat string

const (
	FormatCSV     TableFormat = "csv"
	FormatTSV     TableFormat = "tsv"
	FormatParquet TableFormat = "parquet"
)

// DCConfig is the tagged-variant configuration of a data collection. Type
// selects which of the type-specific property blocks must be populated;
// exactly one is allowed.
type DCConfig struct {
	Type     DCType `bson:"type" json:"type" validate:"required"`
	MetaType string `bson:"metatype,omitempty" json:"metatype,omitempty"`
	// Source is "" for scanned collections or "joined" for collections
	// materialized by a JoinDefinition.
	Source string      `bson:"source,omitempty" json:"source,omitempty"`
	Scan   *ScanConfig `bson:"scan,omitempty" json:"scan,omitempty"`

	Table    *TableConfig    `bson:"table,omitempty" json:"table,omitempty"`
	JBrowse2 *JBrowse2Config `bson:"jbrowse2,omitempty" json:"jbrowse2,omitempty"`
	MultiQC  *MultiQCConfig  `bson:"multiqc,omitempty" json:"multiqc,omitempty"`
	Image    *ImageConfig    `bson:"image,omitempty" json:"image,omitempty"`
}

// ScanConfig selects and parameterizes the discovery mode.
type ScanConfig struct {
	Mode      ScanMode       `bson:"mode" json:"mode" validate:"required,oneof=single recursive"`
	Single    *SingleScan    `bson:"single,omitempty" json:"single,omitempty"`
	Recursive *RecursiveScan `bson:"recursive,omitempty" json:"recursive,omitempty"`
}

// SingleScan names the one file a single-mode collection ingests per run.
type SingleScan struct {
	Filename string `bson:"filename" json:"filename"`
}

// RecursiveScan matches files under the run directory by wildcard pattern.
type RecursiveScan struct {
	Regex RegexConfig `bson:"regex_config" json:"regex_config"`
}

// RegexConfig is a filename pattern with named wildcards: a pattern like
// "run_{date}_{sample}.csv" plus one regex per wildcard name.
type RegexConfig struct {
	Pattern   string     `bson:"pattern" json:"pattern"`
	Wildcards []Wildcard `bson:"wildcards,omitempty" json:"wildcards,omitempty"`
}

// Wildcard binds a placeholder name to its regex fragment.
type Wildcard struct {
	Name string `bson:"name" json:"name"`
	Expr string `bson:"wildcard_regex" json:"wildcard_regex"`
}

// Compile substitutes each {name} placeholder with its wildcard regex in a
// capture group, normalizes path separators, and anchors the result for
// whole-basename matching.
//
// Duplicate wildcard names are a config-invalid error: silently keeping one
// would make match behavior depend on declaration order.
func (rc RegexConfig) Compile() (*regexp.Regexp, error) {
	seen := make(map[string]struct{}, len(rc.Wildcards))
	pattern := NormalizeSeparators(rc.Pattern)
	for _, w := range rc.Wildcards {
		if _, dup := seen[w.Name]; dup {
			return nil, NewErrorf(KindConfigInvalid, "duplicate wildcard name %q", w.Name)
		}
		seen[w.Name] = struct{}{}
		pattern = strings.ReplaceAll(pattern, "{"+w.Name+"}", "("+w.Expr+")")
	}
	if rest := envPlaceholderRe.FindString(pattern); rest != "" {
		return nil, NewErrorf(KindConfigInvalid, "unbound wildcard %s in pattern %q", rest, rc.Pattern)
	}
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return nil, WrapError(KindConfigInvalid, fmt.Sprintf("invalid pattern %q", rc.Pattern), err)
	}
	return re, nil
}

// TableConfig holds the ingestion options for tabular collections. Separator
// and header handling mirror the reader options passed through at
// materialization time.
type TableConfig struct {
	Format      TableFormat `bson:"format" json:"format" validate:"required,oneof=csv tsv parquet"`
	Separator   string      `bson:"separator,omitempty" json:"separator,omitempty"`
	HasHeader   *bool       `bson:"has_header,omitempty" json:"has_header,omitempty"`
	SkipRows    int         `bson:"skip_rows,omitempty" json:"skip_rows,omitempty"`
	KeepColumns []string    `bson:"keep_columns,omitempty" json:"keep_columns,omitempty"`
}

// HeaderPresent resolves the optional has_header flag; headers default on.
func (tc *TableConfig) HeaderPresent() bool {
	return tc.HasHeader == nil || *tc.HasHeader
}

// FieldSeparator resolves the effective separator for the format.
func (tc *TableConfig) FieldSeparator() rune {
	if tc.Separator != "" {
		return []rune(tc.Separator)[0]
	}
	if tc.Format == FormatTSV {
		return '\t'
	}
	return ','
}

// JBrowse2Config parameterizes genome-browser collections.
type JBrowse2Config struct {
	Assembly    string `bson:"assembly,omitempty" json:"assembly,omitempty"`
	TrackFormat string `bson:"track_format,omitempty" json:"track_format,omitempty"`
}

// MultiQCConfig parameterizes MultiQC-report collections.
type MultiQCConfig struct {
	Modules []string `bson:"modules,omitempty" json:"modules,omitempty"`
}

// ImageConfig parameterizes image collections.
type ImageConfig struct {
	Format string `bson:"format,omitempty" json:"format,omitempty"`
}

// Joined reports whether the collection is produced by a join.
func (c *DCConfig) Joined() bool { return c.Source == SourceJoined }

// Validate enforces the tagged-variant and scan-mode invariants.
func (c *DCConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return WrapError(KindConfigInvalid, "data collection config", err)
	}

	populated := 0
	if c.Table != nil {
		populated++
	}
	if c.JBrowse2 != nil {
		populated++
	}
	if c.MultiQC != nil {
		populated++
	}
	if c.Image != nil {
		populated++
	}
	if populated > 1 {
		return NewError(KindConfigInvalid, "more than one type-specific property block set")
	}
	switch c.Type {
	case DCTypeTable:
		if c.Table == nil {
			return NewError(KindConfigInvalid, "type table requires table properties")
		}
	case DCTypeJBrowse2, DCTypeMultiQC, DCTypeImage:
		// Property blocks for these types are optional; a mismatched block
		// from another type is not.
		if c.Table != nil {
			return NewErrorf(KindConfigInvalid, "table properties set on type %s", c.Type)
		}
	default:
		return NewErrorf(KindConfigInvalid, "unknown data collection type %q", c.Type)
	}

	if c.Joined() {
		if c.Scan != nil {
			return NewError(KindConfigInvalid, "joined collections cannot declare a scan")
		}
		return nil
	}
	if c.Scan == nil {
		return NewError(KindConfigInvalid, "scanned collections require a scan config")
	}
	return c.Scan.Validate()
}

// Validate enforces mode-specific scan parameters.
func (s *ScanConfig) Validate() error {
	switch s.Mode {
	case ScanModeSingle:
		if s.Single == nil || s.Single.Filename == "" {
			return NewError(KindConfigInvalid, "single scan mode requires a filename")
		}
	case ScanModeRecursive:
		if s.Recursive == nil || s.Recursive.Regex.Pattern == "" {
			return NewError(KindConfigInvalid, "recursive scan mode requires a regex pattern")
		}
		if _, err := s.Recursive.Regex.Compile(); err != nil {
			return err
		}
	default:
		return NewErrorf(KindConfigInvalid, "unknown scan mode %q", s.Mode)
	}
	return nil
}
