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
	"log/slog"
	"os"

	"github.com/depictio/depictio/pkg/logging"
	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/metastore"
	"github.com/depictio/depictio/services/objstore"
)

// =============================================================================
// EXIT CODES
// =============================================================================

// Exit code contract for scripting: 0 success, 1 configuration or
// lookup error, 2 IO or store error, 3 completed with problems.
const (
	exitOK      = 0
	exitConfig  = 1
	exitIO      = 2
	exitPartial = 3
)

// exitCodeFor maps a domain error onto the exit code contract.
// Configuration-class kinds (bad config, unknown ids, unprocessed
// collections) map to 1; IO-class kinds and anything unclassified map
// to 2.
func exitCodeFor(err error) int {
	switch datamodel.KindOf(err) {
	case datamodel.KindConfigInvalid, datamodel.KindNotFound, datamodel.KindDCNotFound,
		datamodel.KindDCNotProcessed, datamodel.KindMissingJoinColumn,
		datamodel.KindTypeError, datamodel.KindInvalidTime, datamodel.KindInvalidFile,
		datamodel.KindConflict, datamodel.KindAuthError:
		return exitConfig
	}
	return exitIO
}

// fail prints the message to stderr and exits with code.
func fail(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(code)
}

// =============================================================================
// LOGGING
// =============================================================================

// initCLILogging routes engine logs to a dated file under
// ~/.depictio/logs and keeps the console clean unless --verbose is set.
func initCLILogging() {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  "~/.depictio/logs",
		Service: "cli",
		Quiet:   !verbose,
	})
	slog.SetDefault(logger.Slog())
}

// =============================================================================
// STORE AND BUCKET SELECTION
// =============================================================================

// envOr returns val, or the named environment variable when val is
// empty. Flags always win over the environment.
func envOr(val, key string) string {
	if val != "" {
		return val
	}
	return os.Getenv(key)
}

// openStore opens the metadata store selected by --meta, falling back
// to DEPICTIO_* environment variables for unset flags.
func openStore(ctx context.Context) (metastore.Store, error) {
	backend := envOr(metaBackend, "DEPICTIO_META_BACKEND")
	if backend == "" {
		backend = "badger"
	}
	switch backend {
	case "badger":
		path := envOr(badgerPath, "DEPICTIO_BADGER_PATH")
		if path == "" {
			path = "./depictio-data/meta"
		}
		return metastore.NewBadgerStore(metastore.DefaultBadgerConfig(path))
	case "mongo":
		uri := envOr(mongoURI, "DEPICTIO_MONGO_URI")
		if uri == "" {
			return nil, datamodel.NewError(datamodel.KindConfigInvalid,
				"--mongo-uri (or DEPICTIO_MONGO_URI) is required with --meta mongo")
		}
		return metastore.NewMongoStore(ctx, metastore.MongoConfig{
			URI:      uri,
			Database: envOr(mongoDatabase, "DEPICTIO_MONGO_DATABASE"),
		})
	}
	return nil, datamodel.NewErrorf(datamodel.KindConfigInvalid,
		"unknown meta backend %q (want badger or mongo)", backend)
}

// openBucket opens the object bucket holding materialized Delta tables.
// A GCS bucket name selects cloud storage; otherwise a local directory
// bucket is used.
func openBucket(ctx context.Context) (objstore.Bucket, error) {
	if bucket := envOr(gcsBucket, "DEPICTIO_GCS_BUCKET"); bucket != "" {
		return objstore.NewGCSBucket(ctx, objstore.GCSConfig{
			BucketName:      bucket,
			CredentialsFile: envOr(gcsCredentials, "DEPICTIO_GCS_CREDENTIALS"),
		})
	}
	root := envOr(bucketRoot, "DEPICTIO_BUCKET_ROOT")
	if root == "" {
		root = "./depictio-data/bucket"
	}
	return objstore.NewFSBucket(root)
}

// loadProject parses the id and fetches the project definition.
func loadProject(ctx context.Context, store metastore.Store, idHex string) (*datamodel.Project, error) {
	id, err := datamodel.ParseID(idHex)
	if err != nil {
		return nil, err
	}
	return store.GetProject(ctx, id)
}

// =============================================================================
// OUTPUT
// =============================================================================

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fail(exitIO, "failed to encode JSON: %v", err)
	}
}
