// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package integration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// projectYAML is the demo project the CLI flow runs against. Paths are
// filled in with the test's temp directory.
const projectYAML = `name: demo-genomics
project_type: advanced
workflows:
  - name: mosaicatcher
    engine:
      name: snakemake
    data_location:
      structure: sequencing-runs
      locations:
        - %[1]s/runs
      runs_regex: "run_.*"
    data_collections:
      - data_collection_tag: mosaicatcher/counts
        config:
          type: table
          scan:
            mode: recursive
            recursive:
              regex_config:
                pattern: "counts_{sample}.csv"
                wildcards:
                  - name: sample
                    wildcard_regex: "[A-Za-z0-9]+"
          table:
            format: csv
data_collections:
  - data_collection_tag: reference/genomes
    config:
      type: table
      scan:
        mode: single
        single:
          filename: %[1]s/refs/genomes.csv
      table:
        format: csv
`

// TestCLIFlow builds the depictio binary and drives the whole apply,
// scan, process, list flow against a temp directory. Nothing external
// is required beyond the Go toolchain.
func TestCLIFlow(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") == "" {
		t.Skip("Set RUN_INTEGRATION_TESTS=1 to run this test")
	}

	bin := buildCLI(t)
	work := t.TempDir()
	writeDataset(t, work)

	// Apply the project definition.
	out, code := runCLI(t, bin, work, "project", "apply", filepath.Join(work, "project.yaml"))
	require.Equal(t, 0, code, "apply failed: %s", out)
	assert.Contains(t, out, "applied")

	// The list output carries the assigned project id.
	out, code = runCLI(t, bin, work, "project", "list", "--json")
	require.Equal(t, 0, code, "list failed: %s", out)

	var projects []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &projects))
	require.Len(t, projects, 1)
	assert.Equal(t, "demo-genomics", projects[0].Name)
	projectID := projects[0].ID

	// First scan finds two runs of two samples plus the reference file.
	out, code = runCLI(t, bin, work, "scan", "project", "--project-id", projectID)
	require.Equal(t, 0, code, "scan failed: %s", out)
	assert.Contains(t, out, "added=5")
	assert.Contains(t, out, "mosaicatcher/counts")

	// A second scan without --rescan skips the already seen runs.
	out, code = runCLI(t, bin, work, "scan", "project", "--project-id", projectID)
	require.Equal(t, 0, code, "rescan failed: %s", out)
	assert.Contains(t, out, "added=0")

	// Materialize both table collections.
	out, code = runCLI(t, bin, work, "process", "--project-id", projectID)
	require.Equal(t, 0, code, "process failed: %s", out)
	assert.Contains(t, out, "mosaicatcher/counts")
	assert.Contains(t, out, "reference/genomes")
	assert.Contains(t, out, "v1:")

	// The Delta tables land under the bucket root.
	entries, err := os.ReadDir(filepath.Join(work, "bucket", "tables"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// TestCLIExitCodes checks the documented exit code contract without a
// populated store.
func TestCLIExitCodes(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") == "" {
		t.Skip("Set RUN_INTEGRATION_TESTS=1 to run this test")
	}

	bin := buildCLI(t)
	work := t.TempDir()

	// Unknown metadata backend is a configuration error.
	out, code := runCLI(t, bin, work, "--meta", "cockroach", "project", "list")
	assert.Equal(t, 1, code, "output: %s", out)

	// Scanning a project that does not exist is a lookup error.
	out, code = runCLI(t, bin, work, "scan", "project", "--project-id", "aaaaaaaaaaaaaaaaaaaaaaaa")
	assert.Equal(t, 1, code, "output: %s", out)

	// A malformed project definition never reaches the store.
	badFile := filepath.Join(work, "bad.yaml")
	require.NoError(t, os.WriteFile(badFile, []byte("name: [unclosed"), 0o644))
	out, code = runCLI(t, bin, work, "project", "apply", badFile)
	assert.Equal(t, 1, code, "output: %s", out)
}

// buildCLI compiles the depictio binary into a temp dir.
func buildCLI(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "depictio")
	cmd := exec.Command("go", "build", "-o", bin, "../../cmd/depictio")
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to build CLI: %v\noutput: %s", err, output)
	}
	return bin
}

// runCLI executes the binary with the store and bucket pinned inside
// work, returning combined output and the exit code.
func runCLI(t *testing.T, bin, work string, args ...string) (string, int) {
	t.Helper()

	base := []string{
		"--badger-path", filepath.Join(work, "meta"),
		"--bucket-root", filepath.Join(work, "bucket"),
	}
	cmd := exec.Command(bin, append(base, args...)...)
	cmd.Dir = work
	// Keep logs inside the sandbox and force the filesystem bucket even
	// if the developer environment points at GCS or Mongo.
	cmd.Env = append(os.Environ(),
		"HOME="+work,
		"DEPICTIO_META_BACKEND=",
		"DEPICTIO_GCS_BUCKET=",
		"DEPICTIO_MONGO_URI=",
		"DEPICTIO_REDIS_ADDR=",
	)

	output, err := cmd.CombinedOutput()
	if err == nil {
		return string(output), 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(output), exitErr.ExitCode()
	}
	t.Fatalf("running %v: %v\noutput: %s", args, err, output)
	return "", -1
}

// writeDataset lays out two sequencing runs and a reference table plus
// the project.yaml pointing at them.
func writeDataset(t *testing.T, work string) {
	t.Helper()

	counts := map[string]string{
		"counts_HG002.csv": "chrom,start,end,count\nchr1,0,200000,41\nchr1,200000,400000,37\nchr2,0,200000,52\n",
		"counts_HG005.csv": "chrom,start,end,count\nchr1,0,200000,39\nchr1,200000,400000,44\nchr2,0,200000,48\n",
	}
	for _, run := range []string{"run_2024_01", "run_2024_02"} {
		runDir := filepath.Join(work, "runs", run)
		require.NoError(t, os.MkdirAll(runDir, 0o755))
		for name, content := range counts {
			require.NoError(t, os.WriteFile(filepath.Join(runDir, name), []byte(content), 0o644))
		}
	}

	refsDir := filepath.Join(work, "refs")
	require.NoError(t, os.MkdirAll(refsDir, 0o755))
	genomes := "assembly,species,length\nGRCh38,Homo sapiens,3099734149\nT2T-CHM13,Homo sapiens,3117275501\n"
	require.NoError(t, os.WriteFile(filepath.Join(refsDir, "genomes.csv"), []byte(genomes), 0o644))

	project := fmt.Sprintf(projectYAML, work)
	require.NoError(t, os.WriteFile(filepath.Join(work, "project.yaml"), []byte(project), 0o644))

	if strings.Contains(project, "%!") {
		t.Fatal("project template substitution failed")
	}
}
