// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/depictio/depictio/services/datamodel"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	// URI is the MongoDB connection string (e.g. "mongodb://localhost:27017").
	URI string

	// Database is the database name.
	// Default: "depictio"
	Database string

	// ConnectTimeout bounds the initial connection and each ping.
	// Default: 10s
	ConnectTimeout time.Duration

	// OperationTimeout bounds each store operation when the caller's
	// context carries no deadline. Default: 30s
	OperationTimeout time.Duration

	// ConnectRetries is how many times to retry the initial ping.
	// Default: 3
	ConnectRetries int

	// RetryBackoff is the initial backoff between connect retries; it
	// doubles per attempt. Default: 500ms
	RetryBackoff time.Duration

	// Logger for connection events.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultMongoConfig returns production defaults.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:         "depictio",
		ConnectTimeout:   10 * time.Second,
		OperationTimeout: 30 * time.Second,
		ConnectRetries:   3,
		RetryBackoff:     500 * time.Millisecond,
		Logger:           slog.Default(),
	}
}

// Validate checks the configuration.
func (c *MongoConfig) Validate() error {
	if c.URI == "" {
		return errors.New("uri must not be empty")
	}
	if c.ConnectRetries < 0 {
		return errors.New("connect_retries must be non-negative")
	}
	return nil
}

func (c *MongoConfig) applyDefaults() {
	defaults := DefaultMongoConfig()
	if c.Database == "" {
		c.Database = defaults.Database
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = defaults.OperationTimeout
	}
	if c.ConnectRetries == 0 {
		c.ConnectRetries = defaults.ConnectRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// MongoStore implements Store on MongoDB.
//
// Thread Safety: safe for concurrent use; the driver pools connections.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	config MongoConfig
	logger *slog.Logger
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore connects to MongoDB and verifies reachability with a
// bounded retry loop before returning.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, datamodel.WrapError(datamodel.KindConfigInvalid, "mongo config", err)
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "connect mongo", err)
	}

	backoff := cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		err = client.Ping(pingCtx, readpref.Primary())
		cancel()
		if err == nil {
			break
		}
		if attempt >= cfg.ConnectRetries {
			_ = client.Disconnect(context.Background())
			return nil, datamodel.WrapError(datamodel.KindIOError, "mongo unreachable", err).
				With("uri", cfg.URI)
		}
		cfg.Logger.Warn("mongo ping failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			_ = client.Disconnect(context.Background())
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(cfg.Database),
		config: cfg,
		logger: cfg.Logger,
	}
	return s, nil
}

// EnsureIndexes creates the secondary indexes the store relies on. Safe to
// call on every startup; existing indexes are left alone.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.Collection(CollRuns).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "workflow_id", Value: 1}, {Key: "run_tag", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "create runs index", err)
	}

	_, err = s.db.Collection(CollFiles).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "run_id", Value: 1}}},
		{Keys: bson.D{{Key: "data_collection_id", Value: 1}}},
	})
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "create files indexes", err)
	}

	_, err = s.db.Collection(CollDeltaTables).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "project_id", Value: 1}},
	})
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "create deltatables index", err)
	}
	return nil
}

// opCtx applies the configured operation timeout when the caller did not
// bring a deadline.
func (s *MongoStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.config.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

// Ping verifies the deployment is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "mongo ping", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// -----------------------------------------------------------------------------
// Projects
// -----------------------------------------------------------------------------

func (s *MongoStore) UpsertProject(ctx context.Context, p *datamodel.Project) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.Collection(CollProjects).ReplaceOne(ctx,
		bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "upsert project", err).
			With("project_id", p.ID.Hex())
	}
	return nil
}

func (s *MongoStore) GetProject(ctx context.Context, id primitive.ObjectID) (*datamodel.Project, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var p datamodel.Project
	err := s.db.Collection(CollProjects).FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, datamodel.NewError(datamodel.KindNotFound, "project not found").
			With("project_id", id.Hex())
	}
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "get project", err)
	}
	return &p, nil
}

func (s *MongoStore) FindProjectByDC(ctx context.Context, dcID primitive.ObjectID) (*datamodel.Project, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	filter := bson.M{"$or": []bson.M{
		{"data_collections._id": dcID},
		{"workflows.data_collections._id": dcID},
	}}
	var p datamodel.Project
	err := s.db.Collection(CollProjects).FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, datamodel.NewError(datamodel.KindDCNotFound, "no project declares data collection").
			With("dc_id", dcID.Hex())
	}
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "find project by dc", err)
	}
	return &p, nil
}

func (s *MongoStore) ListProjects(ctx context.Context) ([]datamodel.Project, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	cur, err := s.db.Collection(CollProjects).Find(ctx, bson.M{})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "list projects", err)
	}
	var out []datamodel.Project
	if err := cur.All(ctx, &out); err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "decode projects", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteProject(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.Collection(CollProjects).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "delete project", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

func (s *MongoStore) UpsertRun(ctx context.Context, run *datamodel.WorkflowRun) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.Collection(CollRuns).ReplaceOne(ctx,
		bson.M{"_id": run.ID}, run, options.Replace().SetUpsert(true))
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		// Another document already owns this (workflow, tag) pair. Hand
		// the caller the surviving id so it can reconcile against it.
		existing, ferr := s.FindRunByTag(ctx, run.WorkflowID, run.RunTag)
		if ferr == nil {
			return datamodel.NewError(datamodel.KindConflict, "run tag already registered").
				With("run_tag", run.RunTag).
				With("existing_id", existing.ID.Hex())
		}
		return datamodel.WrapError(datamodel.KindConflict, "run tag already registered", err).
			With("run_tag", run.RunTag)
	}
	return datamodel.WrapError(datamodel.KindIOError, "upsert run", err).
		With("run_tag", run.RunTag)
}

func (s *MongoStore) GetRun(ctx context.Context, id primitive.ObjectID) (*datamodel.WorkflowRun, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var run datamodel.WorkflowRun
	err := s.db.Collection(CollRuns).FindOne(ctx, bson.M{"_id": id}).Decode(&run)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, datamodel.NewError(datamodel.KindNotFound, "run not found").
			With("run_id", id.Hex())
	}
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "get run", err)
	}
	return &run, nil
}

func (s *MongoStore) FindRunByTag(ctx context.Context, workflowID primitive.ObjectID, runTag string) (*datamodel.WorkflowRun, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var run datamodel.WorkflowRun
	err := s.db.Collection(CollRuns).
		FindOne(ctx, bson.M{"workflow_id": workflowID, "run_tag": runTag}).
		Decode(&run)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, datamodel.NewError(datamodel.KindNotFound, "run not found").
			With("run_tag", runTag)
	}
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "find run by tag", err)
	}
	return &run, nil
}

func (s *MongoStore) ListRunsByWorkflow(ctx context.Context, workflowID primitive.ObjectID) ([]datamodel.WorkflowRun, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	cur, err := s.db.Collection(CollRuns).Find(ctx, bson.M{"workflow_id": workflowID})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "list runs", err)
	}
	var out []datamodel.WorkflowRun
	if err := cur.All(ctx, &out); err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "decode runs", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteRun(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.Collection(CollRuns).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "delete run", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Files
// -----------------------------------------------------------------------------

func (s *MongoStore) UpsertFiles(ctx context.Context, files []datamodel.File) error {
	if len(files) == 0 {
		return nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	models := make([]mongo.WriteModel, len(files))
	for i := range files {
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": files[i].ID}).
			SetReplacement(files[i]).
			SetUpsert(true)
	}
	_, err := s.db.Collection(CollFiles).BulkWrite(ctx, models,
		options.BulkWrite().SetOrdered(false))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return datamodel.WrapError(datamodel.KindConflict, "file batch collided", err)
		}
		return datamodel.WrapError(datamodel.KindIOError, "upsert files", err).
			With("count", fmt.Sprintf("%d", len(files)))
	}
	return nil
}

func (s *MongoStore) ListFilesByDC(ctx context.Context, dcID primitive.ObjectID) ([]datamodel.File, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	cur, err := s.db.Collection(CollFiles).Find(ctx, bson.M{"data_collection_id": dcID})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "list files by dc", err)
	}
	var out []datamodel.File
	if err := cur.All(ctx, &out); err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "decode files", err)
	}
	return out, nil
}

func (s *MongoStore) ListFilesByRun(ctx context.Context, runID primitive.ObjectID) ([]datamodel.File, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	cur, err := s.db.Collection(CollFiles).Find(ctx, bson.M{"run_id": runID})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "list files by run", err)
	}
	var out []datamodel.File
	if err := cur.All(ctx, &out); err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "decode files", err)
	}
	return out, nil
}

func (s *MongoStore) DeleteFiles(ctx context.Context, ids []primitive.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.Collection(CollFiles).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "delete files", err).
			With("count", fmt.Sprintf("%d", len(ids)))
	}
	return nil
}

func (s *MongoStore) DeleteFilesByDC(ctx context.Context, dcID primitive.ObjectID) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	res, err := s.db.Collection(CollFiles).DeleteMany(ctx, bson.M{"data_collection_id": dcID})
	if err != nil {
		return 0, datamodel.WrapError(datamodel.KindIOError, "delete files by dc", err)
	}
	return res.DeletedCount, nil
}

// -----------------------------------------------------------------------------
// Delta tables
// -----------------------------------------------------------------------------

func (s *MongoStore) SaveDeltaTable(ctx context.Context, rec *datamodel.DeltaTableRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.Collection(CollDeltaTables).ReplaceOne(ctx,
		bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "save delta table", err).
			With("dc_id", rec.DataCollectionID.Hex())
	}
	return nil
}

func (s *MongoStore) GetDeltaTable(ctx context.Context, dcID primitive.ObjectID) (*datamodel.DeltaTableRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var rec datamodel.DeltaTableRecord
	err := s.db.Collection(CollDeltaTables).FindOne(ctx, bson.M{"_id": dcID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, datamodel.NewError(datamodel.KindDCNotProcessed, "data collection has no delta table").
			With("dc_id", dcID.Hex())
	}
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "get delta table", err)
	}
	return &rec, nil
}

func (s *MongoStore) DeleteDeltaTable(ctx context.Context, dcID primitive.ObjectID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.db.Collection(CollDeltaTables).DeleteOne(ctx, bson.M{"_id": dcID})
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "delete delta table", err)
	}
	return nil
}

func (s *MongoStore) SaveJoinMetadata(ctx context.Context, meta *datamodel.JoinedTableMetadata) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	update := bson.M{
		"$set": bson.M{"join": meta},
		"$setOnInsert": bson.M{
			"project_id":           meta.ProjectID,
			"data_collection_id":   meta.ResultDCID,
			"delta_table_location": meta.DeltaLocation,
		},
	}
	_, err := s.db.Collection(CollDeltaTables).UpdateOne(ctx,
		bson.M{"_id": meta.ResultDCID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return datamodel.WrapError(datamodel.KindIOError, "save join metadata", err).
			With("join_name", meta.JoinName)
	}
	return nil
}

func (s *MongoStore) GetJoinMetadata(ctx context.Context, resultDCID primitive.ObjectID) (*datamodel.JoinedTableMetadata, error) {
	rec, err := s.GetDeltaTable(ctx, resultDCID)
	if err != nil {
		return nil, err
	}
	if rec.Join == nil {
		return nil, datamodel.NewError(datamodel.KindNotFound, "data collection is not a join result").
			With("dc_id", resultDCID.Hex())
	}
	return rec.Join, nil
}

func (s *MongoStore) ListJoinMetadata(ctx context.Context, projectID primitive.ObjectID) ([]datamodel.JoinedTableMetadata, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	cur, err := s.db.Collection(CollDeltaTables).Find(ctx,
		bson.M{"project_id": projectID, "join": bson.M{"$ne": nil}})
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "list join metadata", err)
	}
	var recs []datamodel.DeltaTableRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "decode join metadata", err)
	}
	out := make([]datamodel.JoinedTableMetadata, 0, len(recs))
	for _, rec := range recs {
		if rec.Join != nil {
			out = append(out, *rec.Join)
		}
	}
	return out, nil
}
