// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
)

// runCandidate is one run directory found during enumeration.
type runCandidate struct {
	tag      string
	location string
}

// enumeration is the outcome of run discovery across a workflow's
// locations.
type enumeration struct {
	candidates []runCandidate
	// failed holds resolved locations that could not be enumerated.
	// Stored runs under these paths are exempt from removal: unreachable
	// is not the same as gone.
	failed []string
	// unresolved is set when a location failed before it resolved to a
	// path, leaving the scope of the failure unknown. Run removal is
	// suppressed for the whole workflow.
	unresolved bool
	problems   []error
}

// enumerateRuns lists the run directories of a workflow. Flat layouts
// yield one run per configured location; sequencing-runs layouts yield
// one run per immediate subdirectory whose name matches runs_regex.
//
// A failing location is recorded through problems and skipped; the other
// locations still contribute their runs.
func enumerateRuns(wf *datamodel.Workflow) enumeration {
	var enum enumeration

	var runsRe *regexp.Regexp
	if wf.DataLocation.Structure == datamodel.StructureSequencingRuns {
		re, err := regexp.Compile(wf.DataLocation.RunsRegex)
		if err != nil {
			enum.unresolved = true
			enum.problems = append(enum.problems,
				datamodel.WrapError(datamodel.KindConfigInvalid, "invalid runs_regex", err).
					With("workflow", wf.Name))
			return enum
		}
		runsRe = re
	}

	for _, raw := range wf.DataLocation.Locations {
		location, err := datamodel.ExpandPath(raw)
		if err != nil {
			enum.unresolved = true
			enum.problems = append(enum.problems, err)
			continue
		}
		if err := datamodel.ValidateDirectory(location); err != nil {
			enum.failed = append(enum.failed, location)
			enum.problems = append(enum.problems, err)
			continue
		}

		if wf.DataLocation.Structure == datamodel.StructureFlat {
			enum.candidates = append(enum.candidates, runCandidate{
				tag:      filepath.Base(location),
				location: location,
			})
			continue
		}

		entries, err := os.ReadDir(location)
		if err != nil {
			enum.failed = append(enum.failed, location)
			enum.problems = append(enum.problems,
				datamodel.WrapError(datamodel.KindScanIOError, "read location", err).
					With("location", location))
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !runsRe.MatchString(entry.Name()) {
				continue
			}
			enum.candidates = append(enum.candidates, runCandidate{
				tag:      entry.Name(),
				location: filepath.Join(location, entry.Name()),
			})
		}
	}
	return enum
}

// fileTimes normalizes a file's timestamps to the store format. The
// platform does not expose a portable birth time, so the modification
// time stands in for both.
func fileTimes(fi os.FileInfo) (ctime, mtime string) {
	ts := datamodel.FormatTimestamp(fi.ModTime().UTC())
	return ts, ts
}

// newFileEntity builds the file record for one discovered path. Zero-size
// files are rejected with invalid-file.
func newFileEntity(path string, fi os.FileInfo, runID, dcID primitive.ObjectID) (datamodel.File, error) {
	if fi.Size() <= 0 {
		return datamodel.File{}, datamodel.NewError(datamodel.KindInvalidFile, "zero-size file").
			With("file_location", path)
	}
	ctime, mtime := fileTimes(fi)
	f := datamodel.File{
		ID:               datamodel.NewID(),
		FileLocation:     path,
		Filename:         fi.Name(),
		CreationTime:     ctime,
		ModificationTime: mtime,
		Filesize:         fi.Size(),
		FileHash:         datamodel.FileHash(fi.Name(), fi.Size(), ctime, mtime),
		RunID:            runID,
		DataCollectionID: dcID,
	}
	return f, nil
}

// discoverSingle resolves a single-mode collection's one file inside the
// run directory. A missing file is not an error; the collection simply
// contributes nothing for this run.
func discoverSingle(runLocation, filename string) ([]string, error) {
	path := filename
	if !filepath.IsAbs(path) {
		path = filepath.Join(runLocation, filename)
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, datamodel.WrapError(datamodel.KindScanIOError, "stat file", err).
			With("file_location", path)
	}
	if fi.IsDir() {
		return nil, nil
	}
	return []string{path}, nil
}

// discoverRecursive walks the run directory and returns every regular
// file whose basename matches the compiled pattern.
func discoverRecursive(runLocation string, re *regexp.Regexp) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(runLocation, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if re.MatchString(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindScanIOError, "walk run directory", err).
			With("location", runLocation)
	}
	return paths, nil
}
