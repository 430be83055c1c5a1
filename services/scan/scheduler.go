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
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Scheduler runs periodic scans. Projects are re-read from the store on
// every tick so config edits between ticks take effect without
// rescheduling.
type Scheduler struct {
	engine *Engine
	logger *slog.Logger
	sched  gocron.Scheduler
}

// NewScheduler creates a stopped scheduler; call Start to begin ticking.
func NewScheduler(engine *Engine, logger *slog.Logger) (*Scheduler, error) {
	if engine == nil {
		return nil, errors.New("engine must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{engine: engine, logger: logger, sched: s}, nil
}

// SchedulePeriodicScan registers a recurring scan of one project and
// returns the job id.
func (s *Scheduler) SchedulePeriodicScan(projectID primitive.ObjectID, interval time.Duration, params Params) (string, error) {
	job, err := s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.executeScan, projectID, params),
		gocron.WithName("scan-"+projectID.Hex()),
	)
	if err != nil {
		return "", err
	}
	s.logger.Info("periodic scan scheduled",
		slog.String("project_id", projectID.Hex()),
		slog.Duration("interval", interval))
	return job.ID().String(), nil
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() { s.sched.Start() }

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *Scheduler) Stop() error { return s.sched.Shutdown() }

func (s *Scheduler) executeScan(projectID primitive.ObjectID, params Params) {
	ctx := context.Background()
	project, err := s.engine.store.GetProject(ctx, projectID)
	if err != nil {
		s.logger.Error("scheduled scan: load project",
			slog.String("project_id", projectID.Hex()),
			slog.String("error", err.Error()))
		return
	}
	report, err := s.engine.ScanProject(ctx, project, params)
	if err != nil {
		s.logger.Error("scheduled scan failed",
			slog.String("project", project.Name),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Info("scheduled scan finished",
		slog.String("project", project.Name),
		slog.String("scan_id", report.ScanID),
		slog.Int("new", report.Totals.New),
		slog.Int("updated", report.Totals.Updated),
		slog.Int("missing", report.Totals.Missing),
		slog.Bool("partial", report.Partial()))
}
