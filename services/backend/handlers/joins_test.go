// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depictio/depictio/pkg/extensions"
	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/events"
	"github.com/depictio/depictio/services/frame"
	"github.com/depictio/depictio/services/join"
)

func joinRouter(t *testing.T, env *testEnv, hub *events.Hub) *gin.Engine {
	t.Helper()
	engine, err := join.NewEngine(join.Config{
		Store:  env.store,
		Bucket: env.bucket,
		Logger: discardLogger(),
		Now:    func() time.Time { return fixedTime },
	})
	require.NoError(t, err)

	router := gin.New()
	router.GET("/v1/joins/projects/:id", ListJoins(env.store))
	router.POST("/v1/joins/validate", ValidateJoin(env.store, engine))
	router.POST("/v1/joins/preview", PreviewJoin(env.store, engine))
	router.POST("/v1/joins/execute", ExecuteJoin(env.store, engine, hub, env.audit))
	return router
}

// seedJoinableProject registers a project with two materialized
// collections sharing an "id" key.
func seedJoinableProject(t *testing.T, env *testEnv) (*datamodel.Project, datamodel.DataCollection, datamodel.DataCollection) {
	t.Helper()
	samples, metrics := tableDC("samples"), tableDC("metrics")
	project := env.seedProject(t, samples, metrics)
	env.seedTable(t, project, samples.ID, mustFrame(
		frame.NewIntSeries("id", []int64{1, 2, 3}, nil),
		frame.NewStringSeries("name", []string{"A", "B", "C"}, nil),
	))
	env.seedTable(t, project, metrics.ID, mustFrame(
		frame.NewIntSeries("id", []int64{2, 3}, nil),
		frame.NewFloatSeries("score", []float64{100, 200}, nil),
	))
	return project, samples, metrics
}

func inlineJoin(mut func(*datamodel.JoinDefinition)) *datamodel.JoinDefinition {
	jd := &datamodel.JoinDefinition{
		ID:           datamodel.NewID(),
		Name:         "samples--metrics",
		WorkflowName: "rnaseq",
		LeftDC:       "samples",
		RightDC:      "metrics",
		OnColumns:    []string{"id"},
		How:          datamodel.JoinInner,
	}
	if mut != nil {
		mut(jd)
	}
	return jd
}

func TestListJoins_Empty(t *testing.T) {
	env := newTestEnv(t)
	router := joinRouter(t, env, nil)
	project := env.seedProject(t, tableDC("samples"))

	w := doJSON(t, router, "GET", "/v1/joins/projects/"+project.ID.Hex(), nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decodeBody(t, w)["count"])
}

func TestValidateJoin_Inline(t *testing.T) {
	env := newTestEnv(t)
	router := joinRouter(t, env, nil)
	project, _, _ := seedJoinableProject(t, env)

	w := doJSON(t, router, "POST", "/v1/joins/validate", JoinRequest{
		ProjectID: project.ID.Hex(),
		Join:      inlineJoin(nil),
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, true, body["left_processed"])
	assert.Equal(t, true, body["right_processed"])
}

func TestValidateJoin_UnmaterializedSide(t *testing.T) {
	env := newTestEnv(t)
	router := joinRouter(t, env, nil)
	// Collections exist but no Delta tables were written.
	project := env.seedProject(t, tableDC("samples"), tableDC("metrics"))

	w := doJSON(t, router, "POST", "/v1/joins/validate", JoinRequest{
		ProjectID: project.ID.Hex(),
		Join:      inlineJoin(nil),
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, true, body["left_exists"])
	assert.Equal(t, false, body["left_processed"])
	assert.NotEmpty(t, body["errors"])
}

func TestValidateJoin_DeclaredByName(t *testing.T) {
	env := newTestEnv(t)
	router := joinRouter(t, env, nil)
	project, _, _ := seedJoinableProject(t, env)
	project.Joins = []datamodel.JoinDefinition{*inlineJoin(nil)}
	require.NoError(t, env.store.UpsertProject(context.Background(), project))

	w := doJSON(t, router, "POST", "/v1/joins/validate", JoinRequest{
		ProjectID: project.ID.Hex(),
		JoinName:  "samples--metrics",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decodeBody(t, w)["valid"])
}

func TestValidateJoin_UnknownName(t *testing.T) {
	env := newTestEnv(t)
	router := joinRouter(t, env, nil)
	project, _, _ := seedJoinableProject(t, env)

	w := doJSON(t, router, "POST", "/v1/joins/validate", JoinRequest{
		ProjectID: project.ID.Hex(),
		JoinName:  "nope",
	})

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "not declared")
}

func TestValidateJoin_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	router := joinRouter(t, env, nil)

	w := doRaw(t, router, "POST", "/v1/joins/validate", "{oops")

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request body", decodeBody(t, w)["error"])
}

func TestPreviewJoin(t *testing.T) {
	env := newTestEnv(t)
	router := joinRouter(t, env, nil)
	project, _, _ := seedJoinableProject(t, env)

	w := doJSON(t, router, "POST", "/v1/joins/preview", JoinRequest{
		ProjectID:   project.ID.Hex(),
		Join:        inlineJoin(nil),
		SampleLimit: 5,
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.EqualValues(t, 3, body["left_rows"])
	assert.EqualValues(t, 2, body["right_rows"])
	assert.EqualValues(t, 2, body["joined_rows"])
	assert.EqualValues(t, 2, body["matched_keys"])
	assert.Len(t, body["sample_rows"], 2)

	// Preview persists nothing.
	rows, err := env.store.ListJoinMetadata(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExecuteJoin(t *testing.T) {
	env := newTestEnv(t)
	router := joinRouter(t, env, nil)
	project, _, _ := seedJoinableProject(t, env)

	w := doJSON(t, router, "POST", "/v1/joins/execute", JoinRequest{
		ProjectID: project.ID.Hex(),
		Join:      inlineJoin(nil),
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 2, body["rows"])
	assert.ElementsMatch(t, []any{"id", "name", "score"}, body["columns"])

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "inner", meta["join_type"])
	assert.Nil(t, meta["lineage"])

	recorded, err := env.audit.Query(context.Background(), extensions.AuditFilter{
		EventTypes: []string{"join.execute"},
	})
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "success", recorded[0].Outcome)
}

func TestExecuteJoin_PersistPublishesEvent(t *testing.T) {
	env := newTestEnv(t)
	hub := events.NewHub(events.Config{Logger: discardLogger()})
	defer hub.Close()
	sub := hub.Subscribe(events.SubscriberKey{UserID: "tester"})
	defer sub.Close()

	router := joinRouter(t, env, hub)
	project, _, _ := seedJoinableProject(t, env)

	w := doJSON(t, router, "POST", "/v1/joins/execute", JoinRequest{
		ProjectID: project.ID.Hex(),
		Join:      inlineJoin(func(jd *datamodel.JoinDefinition) { jd.Persist = true }),
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	meta := decodeBody(t, w)["metadata"].(map[string]any)
	require.NotNil(t, meta["lineage"], "persisted execution must report lineage")

	// The lineage row is queryable.
	rows, err := env.store.ListJoinMetadata(context.Background(), project.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "samples--metrics", rows[0].JoinName)
	assert.EqualValues(t, 2, rows[0].RowCount)

	// The hub announced the completion before the response was written.
	select {
	case ev := <-sub.Events():
		assert.Equal(t, events.TopicJoinCompleted, ev.EventType)
		assert.Equal(t, "samples--metrics", ev.Payload["join_name"])
	default:
		t.Fatal("no join_completed event published")
	}
}

func TestExecuteJoin_MissingColumn(t *testing.T) {
	env := newTestEnv(t)
	router := joinRouter(t, env, nil)
	project, _, _ := seedJoinableProject(t, env)

	w := doJSON(t, router, "POST", "/v1/joins/execute", JoinRequest{
		ProjectID: project.ID.Hex(),
		Join:      inlineJoin(func(jd *datamodel.JoinDefinition) { jd.OnColumns = []string{"ghost"} }),
	})

	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestExecuteJoin_UnknownProject(t *testing.T) {
	env := newTestEnv(t)
	router := joinRouter(t, env, nil)

	w := doJSON(t, router, "POST", "/v1/joins/execute", JoinRequest{
		ProjectID: datamodel.NewID().Hex(),
		Join:      inlineJoin(nil),
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}
