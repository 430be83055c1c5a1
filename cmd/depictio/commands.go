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
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/depictio/depictio/pkg/ux"
)

// --- Global Command Variables ---
var (
	metaBackend      string // Metadata backend: badger or mongo
	badgerPath       string
	mongoURI         string
	mongoDatabase    string
	bucketRoot       string
	gcsBucket        string
	gcsCredentials   string
	verbose          bool
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	scanProjectID string
	scanWorkflow  string
	scanDCTag     string
	scanRescan    bool
	scanSync      bool
	scanDCID      string

	watchInterval time.Duration
	watchRedis    string

	processProjectID string
	processDCTag     string

	listJSON bool
	diagJSON bool

	rootCmd = &cobra.Command{
		Use:   "depictio",
		Short: "A cli to manage Depictio projects, scans, and processed tables",
		Long: `Depictio tracks the data files that bioinformatics workflows
				produce and materializes them into queryable Delta tables.
				This CLI operates directly on the metadata store, with or
				without a running backend service.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env fills in unset environment variables; an explicit
			// environment always wins over the file.
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				log.Printf("Warning: could not read .env: %v", err)
			}
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
			initCLILogging()
		},
	}

	// --- Scanning ---
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Discover workflow output files and record them in the metastore",
	}
	scanProjectCmd = &cobra.Command{
		Use:   "project",
		Short: "Scan every data collection of one project",
		Run:   runScanProject, // Defined in cmd_scan.go
	}
	scanDCCmd = &cobra.Command{
		Use:   "dc",
		Short: "Scan a single data collection",
		Run:   runScanDC, // Defined in cmd_scan.go
	}
	scanWatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch a project's data locations and rescan on changes",
		Long: `Watches the project's data locations for filesystem changes and
				rescans when files appear, change, or disappear. A scheduled
				rescan runs on --interval as a safety net: directory watches
				are not recursive, so writes deep inside existing run
				directories only surface on the next scheduled pass.

				With --redis, concurrent replicas coordinate through a shared
				lock so each rescan runs on exactly one of them.`,
		Run: runScanWatch, // Defined in cmd_scan.go
	}

	// --- Processing ---
	processCmd = &cobra.Command{
		Use:   "process",
		Short: "Materialize scanned table collections into Delta tables",
		Run:   runProcess, // Defined in cmd_process.go
	}

	// --- Project Management ---
	projectCmd = &cobra.Command{
		Use:   "project",
		Short: "Manage project definitions",
	}
	projectApplyCmd = &cobra.Command{
		Use:   "apply [file]",
		Short: "Create or update a project from a YAML definition",
		Long: `Applies a declarative project definition. Reads YAML from the
				given file, or from stdin when piped. Entities without an id
				are assigned one, so re-applying the same file keeps identity
				stable.`,
		Args: cobra.MaximumNArgs(1),
		Run:  runProjectApply, // Defined in cmd_project.go
	}
	projectListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		Run:   runProjectList, // Defined in cmd_project.go
	}

	// --- Diagnostics ---
	diagnoseCmd = &cobra.Command{
		Use:   "diagnose",
		Short: "Probe the local environment and report capacity and latency",
		Run:   runDiagnose, // Defined in cmd_diagnose.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&metaBackend, "meta", "",
		"Metadata backend: badger or mongo (default badger, env DEPICTIO_META_BACKEND)")
	pf.StringVar(&badgerPath, "badger-path", "",
		"Badger database directory (default ./depictio-data/meta)")
	pf.StringVar(&mongoURI, "mongo-uri", "",
		"MongoDB connection URI (env DEPICTIO_MONGO_URI)")
	pf.StringVar(&mongoDatabase, "mongo-database", "",
		"MongoDB database name (default depictio)")
	pf.StringVar(&bucketRoot, "bucket-root", "",
		"Filesystem bucket directory for Delta tables (default ./depictio-data/bucket)")
	pf.StringVar(&gcsBucket, "gcs-bucket", "",
		"GCS bucket name, overrides --bucket-root (env DEPICTIO_GCS_BUCKET)")
	pf.StringVar(&gcsCredentials, "gcs-credentials", "",
		"GCS service account key file (env DEPICTIO_GCS_CREDENTIALS)")
	pf.BoolVarP(&verbose, "verbose", "v", false,
		"Show engine logs on the console")
	pf.StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine (env DEPICTIO_PERSONALITY)")

	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanProjectCmd)
	scanProjectCmd.Flags().StringVar(&scanProjectID, "project-id", "",
		"Project id to scan (required)")
	scanProjectCmd.Flags().StringVar(&scanWorkflow, "workflow", "",
		"Restrict the scan to one workflow")
	scanProjectCmd.Flags().StringVar(&scanDCTag, "dc-tag", "",
		"Restrict the scan to one data collection tag")
	scanProjectCmd.Flags().BoolVar(&scanRescan, "rescan", false,
		"Revisit run directories that were already scanned")
	scanProjectCmd.Flags().BoolVar(&scanSync, "sync", false,
		"Delete records for files that disappeared from disk")
	_ = scanProjectCmd.MarkFlagRequired("project-id")

	scanCmd.AddCommand(scanDCCmd)
	scanDCCmd.Flags().StringVar(&scanDCID, "dc-id", "",
		"Data collection id to scan (required)")
	scanDCCmd.Flags().BoolVar(&scanSync, "sync", false,
		"Delete records for files that disappeared from disk")
	_ = scanDCCmd.MarkFlagRequired("dc-id")

	scanCmd.AddCommand(scanWatchCmd)
	scanWatchCmd.Flags().StringVar(&scanProjectID, "project-id", "",
		"Project id to watch (required)")
	scanWatchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Minute,
		"Scheduled rescan interval")
	scanWatchCmd.Flags().StringVar(&watchRedis, "redis", "",
		"Redis address for cross-replica scan locking (env DEPICTIO_REDIS_ADDR)")
	scanWatchCmd.Flags().BoolVar(&scanSync, "sync", false,
		"Delete records for files that disappeared from disk")
	_ = scanWatchCmd.MarkFlagRequired("project-id")

	rootCmd.AddCommand(processCmd)
	processCmd.Flags().StringVar(&processProjectID, "project-id", "",
		"Project whose table collections to materialize (required)")
	processCmd.Flags().StringVar(&processDCTag, "dc-tag", "",
		"Materialize only the collection with this tag")
	_ = processCmd.MarkFlagRequired("project-id")

	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectApplyCmd)
	projectCmd.AddCommand(projectListCmd)
	projectListCmd.Flags().BoolVar(&listJSON, "json", false,
		"Output as JSON for scripting")

	rootCmd.AddCommand(diagnoseCmd)
	diagnoseCmd.Flags().BoolVar(&diagJSON, "json", false,
		"Output as JSON for scripting")
}
