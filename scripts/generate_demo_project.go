// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build ignore

// generate_demo_project writes a small demo dataset and a matching
// project definition for trying out the depictio CLI end to end.
//
// Run with: go run scripts/generate_demo_project.go [-dir ./depictio-demo]
//
// The generated tree contains two sequencing runs with per-sample count
// files, one reference table, and a project.yaml wired to scan them.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

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

var sampleCounts = map[string]string{
	"counts_HG002.csv": "chrom,start,end,count\nchr1,0,200000,41\nchr1,200000,400000,37\nchr2,0,200000,52\n",
	"counts_HG005.csv": "chrom,start,end,count\nchr1,0,200000,39\nchr1,200000,400000,44\nchr2,0,200000,48\n",
}

const genomesCSV = "assembly,species,length\nGRCh38,Homo sapiens,3099734149\nT2T-CHM13,Homo sapiens,3117275501\n"

func main() {
	dir := flag.String("dir", "./depictio-demo", "directory to create the demo dataset in")
	flag.Parse()

	root, err := filepath.Abs(*dir)
	if err != nil {
		log.Fatalf("resolving %s: %v", *dir, err)
	}

	for _, run := range []string{"run_2024_01", "run_2024_02"} {
		runDir := filepath.Join(root, "runs", run)
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			log.Fatalf("creating %s: %v", runDir, err)
		}
		for name, content := range sampleCounts {
			if err := os.WriteFile(filepath.Join(runDir, name), []byte(content), 0o644); err != nil {
				log.Fatalf("writing %s: %v", name, err)
			}
		}
	}

	refsDir := filepath.Join(root, "refs")
	if err := os.MkdirAll(refsDir, 0o755); err != nil {
		log.Fatalf("creating %s: %v", refsDir, err)
	}
	if err := os.WriteFile(filepath.Join(refsDir, "genomes.csv"), []byte(genomesCSV), 0o644); err != nil {
		log.Fatalf("writing genomes.csv: %v", err)
	}

	projectPath := filepath.Join(root, "project.yaml")
	if err := os.WriteFile(projectPath, []byte(fmt.Sprintf(projectYAML, root)), 0o644); err != nil {
		log.Fatalf("writing project.yaml: %v", err)
	}

	fmt.Printf("Demo dataset written to %s\n\n", root)
	fmt.Println("Try it:")
	fmt.Printf("  depictio project apply %s\n", projectPath)
	fmt.Println("  depictio project list")
	fmt.Println("  depictio scan project --project-id <id from list>")
	fmt.Println("  depictio process --project-id <id from list>")
}
