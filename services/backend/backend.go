// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend provides the Depictio API server.
//
// This package contains the main service type that coordinates all
// components of the platform: HTTP routing, the metadata store, the
// object bucket, the scan/process/join/query/link engines, the event
// hub, and observability infrastructure.
//
// # Hosted Integration
//
// The backend supports dependency injection via extensions.ServiceOptions,
// enabling hosted deployments to provide custom implementations of:
//   - AuthProvider: Token validation against an identity provider
//   - AuthzProvider: Role-based access control
//   - AuditLogger: Compliance audit logging
//
// # Usage
//
// Open source (uses no-op defaults):
//
//	cfg := backend.Config{Port: 8058}
//	svc, err := backend.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
//
// Hosted (with custom implementations):
//
//	opts := &extensions.ServiceOptions{
//	    AuthProvider: oidcProvider,
//	    AuditLogger:  siemAuditor,
//	}
//	svc, err := backend.New(cfg, opts)
//
// # Import Path
//
// Hosted versions import this package as:
//
//	import "github.com/depictio/depictio/services/backend"
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/depictio/depictio/pkg/extensions"
	"github.com/depictio/depictio/services/backend/observability"
	"github.com/depictio/depictio/services/backend/routes"
	"github.com/depictio/depictio/services/diagnostics"
	"github.com/depictio/depictio/services/events"
	"github.com/depictio/depictio/services/join"
	"github.com/depictio/depictio/services/links"
	"github.com/depictio/depictio/services/metastore"
	"github.com/depictio/depictio/services/objstore"
	"github.com/depictio/depictio/services/process"
	"github.com/depictio/depictio/services/query"
	"github.com/depictio/depictio/services/scan"
)

// serviceName labels traces and the otelgin middleware.
const serviceName = "depictio-backend"

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the backend service.
//
// # Description
//
// Service abstracts the backend lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	//
	// # Outputs
	//
	//   - error: Non-nil if the server fails to start or encounters a
	//     fatal error
	//
	// # Examples
	//
	//	if err := svc.Run(); err != nil {
	//	    log.Fatalf("server error: %v", err)
	//	}
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Outputs
	//
	//   - *gin.Engine: The configured router with all routes registered
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds backend configuration options.
//
// # Description
//
// Config centralizes all configuration for the backend service. Values
// can be populated from environment variables, config files, or
// programmatically for testing.
//
// # Required Fields
//
// None. All fields have defaults that yield a self-contained local
// deployment: embedded Badger metadata, a filesystem bucket, and no
// external identity provider.
//
// # Examples
//
//	// Minimal config (embedded store, filesystem bucket)
//	cfg := Config{}
//
//	// Shared deployment
//	cfg := Config{
//	    Port:        8058,
//	    MetaBackend: "mongo",
//	    MongoURI:    "mongodb://mongo:27017",
//	    GCSBucket:   "depictio-prod",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 8058
	Port int

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// MetaBackend selects the metadata store.
	// Valid values: "badger", "mongo"
	// Default: "badger"
	MetaBackend string

	// MongoURI is the MongoDB connection string, required when
	// MetaBackend is "mongo". Example: "mongodb://localhost:27017"
	MongoURI string

	// MongoDatabase is the MongoDB database name. Default: "depictio"
	MongoDatabase string

	// BadgerPath is the directory for the embedded store's files.
	// Default: "./depictio-data/meta"
	BadgerPath string

	// BucketRoot is the filesystem bucket root, used when GCSBucket is
	// empty. Default: "./depictio-data/bucket"
	BucketRoot string

	// GCSBucket selects a Google Cloud Storage bucket for delta tables.
	// If empty, the filesystem bucket is used.
	GCSBucket string

	// GCSCredentialsFile points at a service-account key JSON. Empty
	// uses application default credentials.
	GCSCredentialsFile string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "depictio-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// EventQueueSize bounds each websocket subscriber's backlog.
	// Default: 64
	EventQueueSize int

	// OAuthIssuerURL is the external provider's authorize endpoint for
	// the login flow. Empty means login is local-only.
	OAuthIssuerURL string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service coordinates:
//   - HTTP routing via Gin
//   - Metadata store (Badger or MongoDB)
//   - Object bucket (filesystem or GCS) holding delta tables
//   - Scan, process, join, query, and link engines
//   - Websocket event hub
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config Config
	opts   extensions.ServiceOptions
	router *gin.Engine

	store  metastore.Store
	bucket objstore.Bucket

	scanEngine  *scan.Engine
	joinEngine  *join.Engine
	queryPipe   *query.Pipeline
	processor   *process.Processor
	linksEngine *links.Engine

	hub       *events.Hub
	collector *diagnostics.Collector
	states    *extensions.StateStore

	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a backend Service with the given configuration.
//
// # Description
//
// New initializes all backend components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Opens the metadata store (Badger or MongoDB)
//  5. Opens the object bucket (filesystem or GCS)
//  6. Builds the scan, process, join, query, and link engines
//  7. Starts the event hub and OAuth state store
//  8. Sets up HTTP routes with extension options
//
// If opts is nil, DefaultOptions() is used (no-op implementations).
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension options for hosted features. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run backend service
//   - error: Non-nil if initialization fails
//
// # Limitations
//
//   - MongoDB and GCS connections fail construction when unreachable;
//     the embedded defaults never touch the network
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	// Apply extension options (use defaults if nil)
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics
	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	}

	// Open the metadata store
	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	// Open the object bucket
	if err := s.initBucket(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open object bucket: %w", err)
	}

	// Event hub first so the scan engine can publish through it
	s.hub = events.NewHub(events.Config{QueueSize: s.config.EventQueueSize})

	// Build the engines
	if err := s.initEngines(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build engines: %w", err)
	}

	// Diagnostics collector probing the service's own dependencies
	s.collector = diagnostics.NewCollector(diagnostics.Config{
		TCPEndpoints: s.probeEndpoints(),
	})

	// OAuth state store
	s.states = extensions.NewStateStore(extensions.StateStoreConfig{})

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
// Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting backend server",
		"port", s.config.Port,
		"meta_backend", s.config.MetaBackend)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8058
	}
	if cfg.MetaBackend == "" {
		cfg.MetaBackend = "badger"
	}
	if cfg.BadgerPath == "" {
		cfg.BadgerPath = "./depictio-data/meta"
	}
	if cfg.BucketRoot == "" {
		cfg.BucketRoot = "./depictio-data/bucket"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "depictio-otel-collector:4317"
	}
	// Always on; scrape exposure is harmless and the handlers no-op
	// without an initialized registry.
	cfg.EnableMetrics = true

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter sending spans to the configured
// collector. The gRPC connection is lazy, so an unreachable collector
// does not fail construction; spans are dropped until it comes up.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses an insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initStore opens the metadata store selected by MetaBackend.
func (s *service) initStore() error {
	switch s.config.MetaBackend {
	case "mongo":
		if s.config.MongoURI == "" {
			return fmt.Errorf("meta backend %q requires MongoURI", s.config.MetaBackend)
		}
		store, err := metastore.NewMongoStore(context.Background(), metastore.MongoConfig{
			URI:      s.config.MongoURI,
			Database: s.config.MongoDatabase,
		})
		if err != nil {
			return err
		}
		s.store = store
		slog.Info("Using MongoDB metadata store", "database", s.config.MongoDatabase)
	case "badger":
		store, err := metastore.NewBadgerStore(metastore.DefaultBadgerConfig(s.config.BadgerPath))
		if err != nil {
			return err
		}
		s.store = store
		slog.Info("Using embedded Badger metadata store", "path", s.config.BadgerPath)
	default:
		return fmt.Errorf("unknown meta backend %q (want badger or mongo)", s.config.MetaBackend)
	}
	return nil
}

// initBucket opens the object bucket holding delta tables.
func (s *service) initBucket() error {
	if s.config.GCSBucket != "" {
		bucket, err := objstore.NewGCSBucket(context.Background(), objstore.GCSConfig{
			BucketName:      s.config.GCSBucket,
			CredentialsFile: s.config.GCSCredentialsFile,
		})
		if err != nil {
			return err
		}
		s.bucket = bucket
		slog.Info("Using GCS bucket", "bucket", s.config.GCSBucket)
		return nil
	}

	bucket, err := objstore.NewFSBucket(s.config.BucketRoot)
	if err != nil {
		return err
	}
	s.bucket = bucket
	slog.Info("Using filesystem bucket", "root", s.config.BucketRoot)
	return nil
}

// initEngines builds every engine the API dispatches to. The scan
// engine publishes change events through the hub so dashboard sessions
// see new files without polling.
func (s *service) initEngines() error {
	var err error

	s.scanEngine, err = scan.NewEngine(scan.Config{
		Store:    s.store,
		Notifier: events.NewNotifier(s.hub),
	})
	if err != nil {
		return fmt.Errorf("scan engine: %w", err)
	}

	s.joinEngine, err = join.NewEngine(join.Config{
		Store:  s.store,
		Bucket: s.bucket,
	})
	if err != nil {
		return fmt.Errorf("join engine: %w", err)
	}

	s.linksEngine = links.NewEngine(links.Config{})

	s.queryPipe, err = query.NewPipeline(query.Config{
		Store:  s.store,
		Bucket: s.bucket,
		Links:  s.linksEngine,
	})
	if err != nil {
		return fmt.Errorf("query pipeline: %w", err)
	}

	s.processor, err = process.NewProcessor(process.Config{
		Store:  s.store,
		Bucket: s.bucket,
	})
	if err != nil {
		return fmt.Errorf("processor: %w", err)
	}

	return nil
}

// probeEndpoints derives diagnostics targets from the service's own
// dependencies, so /v1/diagnostics reports on what this deployment
// actually talks to.
func (s *service) probeEndpoints() []string {
	var endpoints []string
	if s.config.MetaBackend == "mongo" {
		if u, err := url.Parse(s.config.MongoURI); err == nil && u.Host != "" {
			endpoints = append(endpoints, u.Host)
		}
	}
	if s.config.OTelEndpoint != "" {
		endpoints = append(endpoints, s.config.OTelEndpoint)
	}
	return endpoints
}

// initRouter sets up the Gin HTTP router with all routes.
//
// ServiceOptions are passed through so hosted auth and audit
// implementations see every request.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, routes.Deps{
		Store:          s.store,
		Scan:           s.scanEngine,
		Join:           s.joinEngine,
		Query:          s.queryPipe,
		Process:        s.processor,
		Links:          s.linksEngine,
		Hub:            s.hub,
		Diagnostics:    s.collector,
		States:         s.states,
		OAuthIssuerURL: s.config.OAuthIssuerURL,
	}, s.opts)
}

// cleanup releases all resources held by the service.
//
// Called when Run() exits or on initialization failure, so every branch
// tolerates partially constructed state.
func (s *service) cleanup() {
	if s.states != nil {
		s.states.Close()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.store != nil {
		if err := s.store.Close(context.Background()); err != nil {
			slog.Warn("metadata store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
