// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command backend starts the Depictio API server.
//
// This is the main entry point for the containerized backend service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - DEPICTIO_BACKEND_PORT: HTTP server port (default: 8058)
//   - DEPICTIO_META_BACKEND: Metadata store - badger, mongo (default: badger)
//   - DEPICTIO_MONGO_URI: MongoDB connection string (required for mongo)
//   - DEPICTIO_MONGO_DATABASE: MongoDB database name (default: depictio)
//   - DEPICTIO_BADGER_PATH: Embedded store directory (default: ./depictio-data/meta)
//   - DEPICTIO_BUCKET_ROOT: Filesystem bucket root (default: ./depictio-data/bucket)
//   - DEPICTIO_GCS_BUCKET: GCS bucket for delta tables (optional)
//   - DEPICTIO_GCS_CREDENTIALS: Service-account key JSON path (optional)
//   - DEPICTIO_API_TOKEN: Shared bearer token guarding /v1 (optional)
//   - DEPICTIO_OAUTH_ISSUER_URL: External provider authorize endpoint (optional)
//   - DEPICTIO_AUDIT_BUFFER: In-memory audit trail size (default: 1024)
//   - DEPICTIO_LOG_LEVEL: Minimum log level - debug, info, warn, error (default: info)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: depictio-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o backend ./cmd/backend
//
//	# Run
//	./backend
//
//	# Or via container
//	podman-compose up backend
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/depictio/depictio/pkg/extensions"
	"github.com/depictio/depictio/pkg/logging"
	"github.com/depictio/depictio/services/backend"
)

func main() {
	// JSON to stderr for log collectors; level comes from the environment.
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("DEPICTIO_LOG_LEVEL")),
		Service: "backend",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Build configuration from environment variables
	cfg := backend.Config{
		Port:               getEnvInt("DEPICTIO_BACKEND_PORT", 8058),
		MetaBackend:        getEnvString("DEPICTIO_META_BACKEND", "badger"),
		MongoURI:           os.Getenv("DEPICTIO_MONGO_URI"),
		MongoDatabase:      os.Getenv("DEPICTIO_MONGO_DATABASE"),
		BadgerPath:         os.Getenv("DEPICTIO_BADGER_PATH"),
		BucketRoot:         os.Getenv("DEPICTIO_BUCKET_ROOT"),
		GCSBucket:          os.Getenv("DEPICTIO_GCS_BUCKET"),
		GCSCredentialsFile: os.Getenv("DEPICTIO_GCS_CREDENTIALS"),
		OAuthIssuerURL:     os.Getenv("DEPICTIO_OAUTH_ISSUER_URL"),
		OTelEndpoint:       getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "depictio-otel-collector:4317"),
	}

	slog.Info("Starting backend",
		"port", cfg.Port,
		"meta_backend", cfg.MetaBackend,
		"gcs_bucket", cfg.GCSBucket,
	)

	// Hosted builds pass custom ServiceOptions here; the open source
	// binary keeps a bounded in-process audit trail and optionally a
	// shared API token.
	opts := extensions.DefaultOptions().
		WithAudit(extensions.NewMemoryAuditLogger(getEnvInt("DEPICTIO_AUDIT_BUFFER", 1024)))

	if token := os.Getenv("DEPICTIO_API_TOKEN"); token != "" {
		provider, err := extensions.NewStaticTokenProvider(token, "", nil)
		if err != nil {
			log.Fatalf("Invalid API token configuration: %v", err)
		}
		opts = opts.WithAuth(provider)
		slog.Info("API token authentication enabled")
	}

	svc, err := backend.New(cfg, &opts)
	if err != nil {
		log.Fatalf("Failed to create backend: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Backend error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
