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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/depictio/depictio/services/datamodel"
)

// WatcherConfig configures a filesystem watcher bound to one project.
type WatcherConfig struct {
	// Engine runs the triggered scans. Required.
	Engine *Engine

	// Project whose data locations are watched. Required.
	Project *datamodel.Project

	// Params for triggered scans. Most callers want Rescan set so
	// changes inside recorded runs are picked up.
	Params Params

	// Debounce is how long the watcher waits after the last event
	// before scanning, so bursts of writes coalesce into one scan.
	// Default: 2s
	Debounce time.Duration

	// Logger for watcher activity.
	// Default: slog.Default()
	Logger *slog.Logger
}

func (c *WatcherConfig) applyDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Watcher triggers debounced scans when files change under a project's
// data locations. Directories created while watching are added to the
// watch set, so new run directories are covered without a restart.
type Watcher struct {
	engine   *Engine
	project  *datamodel.Project
	params   Params
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopOnce sync.Once
	stopChan chan struct{}
	trigger  chan struct{}
}

// NewWatcher validates the configuration and resolves the project's
// locations into an initial watch set. Locations that cannot be watched
// are logged and skipped; at least one must succeed.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine must not be nil")
	}
	if cfg.Project == nil {
		return nil, errors.New("project must not be nil")
	}
	cfg.applyDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "create filesystem watcher", err)
	}

	w := &Watcher{
		engine:   cfg.Engine,
		project:  cfg.Project,
		params:   cfg.Params,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		watcher:  fsw,
		stopChan: make(chan struct{}),
		trigger:  make(chan struct{}, 1),
	}

	watched := 0
	for _, root := range w.watchRoots() {
		if err := w.watchTree(root); err != nil {
			w.logger.Warn("location not watchable",
				slog.String("location", root),
				slog.String("error", err.Error()))
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = fsw.Close()
		return nil, datamodel.NewError(datamodel.KindConfigInvalid, "no watchable locations").
			With("project", cfg.Project.Name)
	}
	return w, nil
}

// watchRoots resolves every directory the project can produce files
// under: workflow data locations plus the parent directories of
// project-level single files.
func (w *Watcher) watchRoots() []string {
	var roots []string
	seen := make(map[string]bool)
	add := func(path string) {
		if path != "" && !seen[path] {
			seen[path] = true
			roots = append(roots, path)
		}
	}

	for wi := range w.project.Workflows {
		for _, raw := range w.project.Workflows[wi].DataLocation.Locations {
			location, err := datamodel.ExpandPath(raw)
			if err != nil {
				w.logger.Warn("location not resolvable",
					slog.String("location", raw),
					slog.String("error", err.Error()))
				continue
			}
			add(location)
		}
	}
	for di := range w.project.DataCollections {
		dc := &w.project.DataCollections[di]
		if dc.Config.Scan == nil || dc.Config.Scan.Mode != datamodel.ScanModeSingle || dc.Config.Scan.Single == nil {
			continue
		}
		path, err := datamodel.ExpandAbsolutePath(dc.Config.Scan.Single.Filename)
		if err != nil {
			continue
		}
		add(filepath.Dir(path))
	}
	return roots
}

// watchTree registers root and every directory below it.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

// Start launches the event and scan loops. It returns immediately.
func (w *Watcher) Start(ctx context.Context) {
	w.logger.Info("watcher started",
		slog.String("project", w.project.Name),
		slog.Duration("debounce", w.debounce))
	go w.eventLoop(ctx)
	go w.scanLoop(ctx)
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn("close filesystem watcher", slog.String("error", err.Error()))
		}
		w.logger.Info("watcher stopped", slog.String("project", w.project.Name))
	})
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				// New directories join the watch set so files written
				// into them keep triggering scans.
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := w.watchTree(event.Name); err != nil {
						w.logger.Warn("watch new directory",
							slog.String("path", event.Name),
							slog.String("error", err.Error()))
					}
				}
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) ||
				event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
				w.logger.Debug("filesystem event",
					slog.String("path", event.Name),
					slog.String("op", event.Op.String()))
				w.fire()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

// fire requests a scan; a pending request is not duplicated.
func (w *Watcher) fire() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) scanLoop(ctx context.Context) {
	var timer *time.Timer
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return
		case <-w.stopChan:
			stopTimer()
			return
		case <-w.trigger:
			stopTimer()
			timer = time.AfterFunc(w.debounce, func() { w.runScan(ctx) })
		}
	}
}

func (w *Watcher) runScan(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	report, err := w.engine.ScanProject(ctx, w.project, w.params)
	if err != nil {
		w.logger.Error("triggered scan failed",
			slog.String("project", w.project.Name),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Info("triggered scan finished",
		slog.String("project", w.project.Name),
		slog.String("scan_id", report.ScanID),
		slog.Int("new", report.Totals.New),
		slog.Int("updated", report.Totals.Updated),
		slog.Int("missing", report.Totals.Missing))
}
