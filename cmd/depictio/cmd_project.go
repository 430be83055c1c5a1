// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/depictio/depictio/pkg/ux"
	"github.com/depictio/depictio/services/datamodel"
)

// =============================================================================
// PROJECT APPLY
// =============================================================================

// runProjectApply reads a YAML project definition, validates it, and
// upserts it into the metadata store.
func runProjectApply(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	var data []byte
	source := "stdin"
	switch {
	case len(args) == 1:
		source = args[0]
		var err error
		data, err = os.ReadFile(args[0])
		if err != nil {
			if os.IsNotExist(err) {
				fail(exitConfig, "%v", err)
			}
			fail(exitIO, "failed to read %s: %v", args[0], err)
		}
	case isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()):
		fail(exitConfig, "no file given and stdin is a terminal (pass a file or pipe a definition)")
	default:
		var err error
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			fail(exitIO, "failed to read stdin: %v", err)
		}
	}

	project, err := decodeProjectYAML(data)
	if err != nil {
		fail(exitConfig, "%s: %v", source, err)
	}

	project.EnsureIDs()
	if err := project.Validate(); err != nil {
		fail(exitConfig, "%s: %v", source, err)
	}

	store, err := openStore(ctx)
	if err != nil {
		fail(exitCodeFor(err), "failed to open metadata store: %v", err)
	}
	defer store.Close(ctx)

	if err := store.UpsertProject(ctx, project); err != nil {
		fail(exitCodeFor(err), "failed to apply project: %v", err)
	}
	ux.Success(fmt.Sprintf("project %q applied (id %s)", project.Name, project.ID.Hex()))
}

// decodeProjectYAML parses a YAML project definition. The datamodel
// structs carry json tags matching the YAML key style, so the document
// is bridged through JSON instead of being tagged twice.
func decodeProjectYAML(data []byte) (*datamodel.Project, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, datamodel.WrapError(datamodel.KindConfigInvalid, "invalid YAML", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindConfigInvalid, "invalid project document", err)
	}
	var project datamodel.Project
	if err := json.Unmarshal(raw, &project); err != nil {
		return nil, datamodel.WrapError(datamodel.KindConfigInvalid, "invalid project definition", err)
	}
	return &project, nil
}

// =============================================================================
// PROJECT LIST
// =============================================================================

// runProjectList prints the registered projects as a table, or as JSON
// with --json.
func runProjectList(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	store, err := openStore(ctx)
	if err != nil {
		fail(exitCodeFor(err), "failed to open metadata store: %v", err)
	}
	defer store.Close(ctx)

	projects, err := store.ListProjects(ctx)
	if err != nil {
		fail(exitCodeFor(err), "failed to list projects: %v", err)
	}

	if listJSON {
		printJSON(projects)
		return
	}
	if len(projects) == 0 {
		ux.Muted("no projects registered")
		return
	}
	fmt.Printf("%-26s %-10s %-10s %-6s %s\n", "ID", "TYPE", "WORKFLOWS", "DCS", "NAME")
	for i := range projects {
		p := &projects[i]
		fmt.Printf("%-26s %-10s %-10d %-6d %s\n",
			p.ID.Hex(), p.ProjectType, len(p.Workflows), len(p.AllDataCollections()), p.Name)
	}
}
