// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/delta"
	"github.com/depictio/depictio/services/frame"
	"github.com/depictio/depictio/services/links"
)

// Query runs one dashboard table request. The target is loaded from its
// Delta table, narrowed by the request's filter state, sorted, and sliced
// to the requested page. A missing target table is fatal; missing tables
// on the filter side only drop the affected filters, with a warning.
func (p *Pipeline) Query(ctx context.Context, project *datamodel.Project, targetDCID primitive.ObjectID, req *Request) (*Result, error) {
	if project == nil {
		return nil, errors.New("query: project is required")
	}
	if targetDCID.IsZero() {
		return nil, datamodel.NewError(datamodel.KindConfigInvalid, "query requires a target data collection id")
	}
	if req == nil {
		req = &Request{}
	}

	st := &execState{target: targetDCID, logger: p.logger}
	if err := p.resolveTarget(ctx, project, st); err != nil {
		return nil, err
	}
	directComps, linkedComps, plans := p.classify(project, st, req.FilterComponents)

	working, err := p.readTargetTable(ctx, targetDCID)
	if err != nil {
		return nil, err
	}
	working, err = p.applyCrossFilters(ctx, st, working, plans)
	if err != nil {
		return nil, err
	}
	working = p.applyLinkedFilters(project, st, working, linkedComps)
	working = applyComponents(working, st, directComps)
	working = applyFilterModel(working, req.ClientFilterModel, st.warnf)

	working, err = sortFrame(working, st, req.Sort)
	if err != nil {
		return nil, err
	}

	total := working.NumRows()
	start, end := pageBounds(req.Page, req.PageSize, total)
	page, err := working.Slice(start, end)
	if err != nil {
		return nil, err
	}
	page, err = attachOffsets(page, start, st)
	if err != nil {
		return nil, err
	}
	page, origins, err := presentColumns(page, st)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Rows:          page.RowMaps(),
		RowCount:      int64(total),
		Columns:       page.Columns(),
		ColumnOrigins: origins,
		Warnings:      st.warnings,
	}
	p.logger.Info("query served",
		"target_dc", targetDCID.Hex(),
		"mode", st.mode(len(plans)),
		"rows", len(res.Rows),
		"total", total,
		"linked_filters", len(linkedComps),
		"warnings", len(st.warnings))
	return res, nil
}

// execState accumulates per-request context: the target identity, the
// collected warnings, and whether the target is a join result.
type execState struct {
	target    primitive.ObjectID
	targetSet map[primitive.ObjectID]bool
	lineage   *datamodel.JoinedTableMetadata
	warnings  []string
	logger    *slog.Logger
}

func (st *execState) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	st.warnings = append(st.warnings, msg)
	if st.logger != nil {
		st.logger.Warn(msg, "target_dc", st.target.Hex())
	}
}

func (st *execState) mode(crossPlans int) string {
	switch {
	case crossPlans == 0:
		return "direct"
	case st.lineage != nil:
		return "iterative-join"
	default:
		return "semi-join"
	}
}

// resolveTarget decides whether the target is a plain collection or a
// materialized join result, and records the set of collection ids the
// target answers for.
func (p *Pipeline) resolveTarget(ctx context.Context, project *datamodel.Project, st *execState) error {
	st.targetSet = map[primitive.ObjectID]bool{st.target: true}

	meta, err := p.store.GetJoinMetadata(ctx, st.target)
	switch {
	case err == nil:
		st.lineage = meta
	case datamodel.IsKind(err, datamodel.KindNotFound),
		datamodel.IsKind(err, datamodel.KindDCNotProcessed):
		// Plain collection.
	default:
		return err
	}
	if st.lineage == nil {
		return nil
	}
	for _, id := range p.lineagePair(project, st.lineage) {
		st.targetSet[id] = true
	}
	return nil
}

// lineagePair resolves the two collections behind a join result. Sides
// that no longer resolve are dropped; filters on them then fall back to
// the join graph or are reported incompatible.
func (p *Pipeline) lineagePair(project *datamodel.Project, meta *datamodel.JoinedTableMetadata) []primitive.ObjectID {
	cfg := &meta.Config
	var out []primitive.ObjectID
	for _, side := range []struct {
		id  primitive.ObjectID
		ref string
	}{
		{cfg.LeftDCID, cfg.LeftDC},
		{cfg.RightDCID, cfg.RightDC},
	} {
		id := resolveEdgeDC(project, side.ref, side.id, cfg.WorkflowName)
		if id.IsZero() {
			p.logger.Debug("join lineage side does not resolve",
				"join", cfg.Name, "ref", side.ref)
			continue
		}
		out = append(out, id)
	}
	return out
}

// linkedComponent is a cross-collection filter served by a declared link
// instead of the join graph.
type linkedComponent struct {
	comp     FilterComponent
	link     *datamodel.DCLink
	targetDC primitive.ObjectID
}

// crossPlan is one filter collection together with the join-graph path
// that carries its filters to the target.
type crossPlan struct {
	dc    primitive.ObjectID
	comps []FilterComponent
	path  []pathEdge
}

// classify splits the active filter components into direct filters on the
// target, link-served filters, and join-graph plans. Components with no
// usable value (unset widgets) are dropped silently; components on
// collections the graph cannot reach are dropped with a warning.
func (p *Pipeline) classify(project *datamodel.Project, st *execState, comps []FilterComponent) ([]FilterComponent, []linkedComponent, []crossPlan) {
	ordered := slices.Clone(comps)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var direct []FilterComponent
	var linked []linkedComponent
	crossDC := make(map[primitive.ObjectID][]FilterComponent)
	for _, c := range ordered {
		if len(componentValues(c.Value)) == 0 {
			continue
		}
		if c.Metadata.DCID.IsZero() || st.targetSet[c.Metadata.DCID] {
			direct = append(direct, c)
			continue
		}
		if link, tdc, ok := p.linkToTarget(project, st, &c); ok {
			linked = append(linked, linkedComponent{comp: c, link: link, targetDC: tdc})
			continue
		}
		crossDC[c.Metadata.DCID] = append(crossDC[c.Metadata.DCID], c)
	}
	if len(crossDC) == 0 {
		return direct, linked, nil
	}

	graph := p.joinGraph(project)
	ids := make([]primitive.ObjectID, 0, len(crossDC))
	for id := range crossDC {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })

	var plans []crossPlan
	for _, id := range ids {
		path, ok := shortestPath(graph, id, st.targetSet)
		if !ok {
			st.warnf("no join path connects collection %s to the target; its filters are dropped",
				dcLabel(project, id))
			continue
		}
		plans = append(plans, crossPlan{dc: id, comps: crossDC[id], path: path})
	}
	return direct, linked, plans
}

// linkToTarget finds an enabled link from the component's collection to
// any collection the target answers for. The materialized target itself
// is preferred over the join sides.
func (p *Pipeline) linkToTarget(project *datamodel.Project, st *execState, c *FilterComponent) (*datamodel.DCLink, primitive.ObjectID, bool) {
	candidates := make([]primitive.ObjectID, 0, len(st.targetSet))
	candidates = append(candidates, st.target)
	for id := range st.targetSet {
		if id != st.target {
			candidates = append(candidates, id)
		}
	}
	rest := candidates[1:]
	sort.Slice(rest, func(i, j int) bool { return rest[i].Hex() < rest[j].Hex() })
	for _, tdc := range candidates {
		if link, ok := links.FindLink(project, c.Metadata.DCID, c.Metadata.ColumnName, tdc); ok {
			return link, tdc, true
		}
	}
	return nil, primitive.NilObjectID, false
}

// readTargetTable loads the target's Delta table. Unlike filter-side
// tables, an unmaterialized target is fatal: the dashboard has nothing
// to render without it.
func (p *Pipeline) readTargetTable(ctx context.Context, id primitive.ObjectID) (*frame.Frame, error) {
	f, err := p.readTable(ctx, id)
	if datamodel.IsKind(err, datamodel.KindDCNotProcessed) {
		return nil, datamodel.WrapError(datamodel.KindDCNotProcessed, "target table is not materialized", err).
			With("dc_id", id.Hex())
	}
	return f, err
}

func (p *Pipeline) readTable(ctx context.Context, id primitive.ObjectID) (*frame.Frame, error) {
	rec, err := p.store.GetDeltaTable(ctx, id)
	if err != nil {
		return nil, err
	}
	return delta.Open(p.bucket, rec.Location).Read(ctx)
}

// applyCrossFilters narrows the working frame by every join-graph plan.
// Single-collection targets are narrowed by chained semi-joins so the
// filter side never multiplies target rows; join-result targets are
// rebuilt by iterative joins along the path.
func (p *Pipeline) applyCrossFilters(ctx context.Context, st *execState, working *frame.Frame, plans []crossPlan) (*frame.Frame, error) {
	for _, plan := range plans {
		var err error
		if st.lineage == nil {
			working, err = p.semiJoin(ctx, st, working, plan)
		} else {
			working, err = p.iterativeJoin(ctx, st, working, plan)
		}
		if err != nil {
			return nil, err
		}
	}
	return working, nil
}

// semiJoin walks the path from the filter collection toward the target,
// carrying only the matching key set at each hop, and finally keeps the
// working rows whose keys survive. Any missing table along the path
// downgrades the plan to a no-op with a warning.
func (p *Pipeline) semiJoin(ctx context.Context, st *execState, working *frame.Frame, plan crossPlan) (*frame.Frame, error) {
	cur, err := p.readTable(ctx, plan.dc)
	if datamodel.IsKind(err, datamodel.KindDCNotProcessed) {
		st.warnf("collection %s has no materialized table; its filters are dropped", plan.dc.Hex())
		return working, nil
	}
	if err != nil {
		return nil, err
	}
	cur = applyComponents(cur, st, plan.comps)

	for i, edge := range plan.path {
		keys, err := compositeKeys(cur, edge.on)
		if err != nil {
			st.warnf("join columns %v are missing on the filter side; filters from collection %s are dropped",
				edge.on, plan.dc.Hex())
			return working, nil
		}
		if i == len(plan.path)-1 {
			out, err := filterByKeys(working, edge.on, keys)
			if err != nil {
				st.warnf("join columns %v are missing on the target; filters from collection %s are dropped",
					edge.on, plan.dc.Hex())
				return working, nil
			}
			return out, nil
		}
		next, err := p.readTable(ctx, edge.to)
		if datamodel.IsKind(err, datamodel.KindDCNotProcessed) {
			st.warnf("collection %s has no materialized table; filters from collection %s are dropped",
				edge.to.Hex(), plan.dc.Hex())
			return working, nil
		}
		if err != nil {
			return nil, err
		}
		cur, err = filterByKeys(next, edge.on, keys)
		if err != nil {
			st.warnf("join columns %v are missing along the path; filters from collection %s are dropped",
				edge.on, plan.dc.Hex())
			return working, nil
		}
	}
	return working, nil
}

// iterativeJoin widens a join-result target by joining each collection on
// the path, applying the filter collection's components as its table is
// pulled in. The walk starts at the target end so the working frame's
// columns stay authoritative on key collisions.
func (p *Pipeline) iterativeJoin(ctx context.Context, st *execState, working *frame.Frame, plan crossPlan) (*frame.Frame, error) {
	cur := working
	for i := len(plan.path) - 1; i >= 0; i-- {
		edge := plan.path[i]
		side, err := p.readTable(ctx, edge.from)
		if datamodel.IsKind(err, datamodel.KindDCNotProcessed) {
			st.warnf("collection %s has no materialized table; filters from collection %s are dropped",
				edge.from.Hex(), plan.dc.Hex())
			return working, nil
		}
		if err != nil {
			return nil, err
		}
		if edge.from == plan.dc {
			side = applyComponents(side, st, plan.comps)
		}
		joined, err := frame.Join(cur, side, edge.on, datamodel.JoinInner)
		if err != nil {
			st.warnf("join along %v failed (%v); filters from collection %s are dropped",
				edge.on, err, plan.dc.Hex())
			return working, nil
		}
		cur = joined
	}
	return cur, nil
}

// applyLinkedFilters resolves link-served components against the working
// frame. The resolver's output replaces the component's values and the
// link's target field becomes the filtered column.
func (p *Pipeline) applyLinkedFilters(project *datamodel.Project, st *execState, working *frame.Frame, comps []linkedComponent) *frame.Frame {
	for _, lc := range comps {
		values := componentValues(lc.comp.Value)
		if len(values) == 0 {
			continue
		}
		lreq := links.Request{
			SourceDCID:   lc.comp.Metadata.DCID,
			SourceColumn: lc.comp.Metadata.ColumnName,
			FilterValues: values,
			TargetDCID:   lc.targetDC,
		}
		if res, ok := p.links.Registry().Get(lc.link.Config.Resolver); ok && res.NeedsTargets() {
			targets, err := distinctColumn(working, lc.link.Config.TargetField)
			if err != nil {
				st.warnf("link target column %q not present; component %d skipped",
					lc.link.Config.TargetField, lc.comp.Index)
				continue
			}
			lreq.TargetValues = targets
		}
		out, err := p.links.Resolve(project, lreq)
		if err != nil {
			st.warnf("link resolution failed for component %d: %v", lc.comp.Index, err)
			continue
		}
		col, ok := working.Column(lc.link.Config.TargetField)
		if !ok {
			st.warnf("link target column %q not present; component %d skipped",
				lc.link.Config.TargetField, lc.comp.Index)
			continue
		}
		members := make(map[string]struct{}, len(out.ResolvedValues))
		for _, v := range out.ResolvedValues {
			members[v] = struct{}{}
		}
		working = working.FilterRows(maskInSet(col, members))
	}
	return working
}

// applyComponents filters f by each interactive component in turn.
// Components naming unknown columns are reported and skipped.
func applyComponents(f *frame.Frame, st *execState, comps []FilterComponent) *frame.Frame {
	if len(comps) == 0 {
		return f
	}
	for i := range comps {
		c := &comps[i]
		lookup := presentedLookup(f)
		col, ok := lookup[c.Metadata.ColumnName]
		if !ok {
			st.warnf("interactive filter column %q not present; component %d skipped",
				c.Metadata.ColumnName, c.Index)
			continue
		}
		mask, ok, reason := componentMask(f, col, c)
		if reason != "" {
			st.warnf("interactive filter on %q: %s; component %d skipped", col, reason, c.Index)
		}
		if !ok {
			continue
		}
		f = f.FilterRows(mask)
	}
	return f
}

func sortFrame(f *frame.Frame, st *execState, specs []SortSpec) (*frame.Frame, error) {
	if len(specs) == 0 {
		return f, nil
	}
	lookup := presentedLookup(f)
	keys := make([]frame.SortKey, 0, len(specs))
	for _, s := range specs {
		col, ok := lookup[s.Column]
		if !ok {
			st.warnf("sort column %q not present; skipped", s.Column)
			continue
		}
		keys = append(keys, frame.SortKey{Column: col, Descending: strings.EqualFold(s.Order, "desc")})
	}
	if len(keys) == 0 {
		return f, nil
	}
	return f.Sort(keys)
}

// pageBounds computes the requested window. PageSize <= 0 selects all
// rows; a negative page is clamped to the first.
func pageBounds(page, pageSize, total int) (int, int) {
	if pageSize <= 0 {
		return 0, total
	}
	if page < 0 {
		page = 0
	}
	start := page * pageSize
	return start, start + pageSize
}

// attachOffsets adds the ID column holding each row's absolute offset in
// the filtered, sorted dataset. A stored column of the same name is
// replaced, with a warning.
func attachOffsets(page *frame.Frame, start int, st *execState) (*frame.Frame, error) {
	if page.HasColumn(IDColumn) {
		st.warnf("stored column %q is replaced by the row offset column", IDColumn)
	}
	offsets := make([]int64, page.NumRows())
	for i := range offsets {
		offsets[i] = int64(start + i)
	}
	page, err := page.WithColumn(frame.NewIntSeries(IDColumn, offsets, nil))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, page.NumCols())
	names = append(names, IDColumn)
	for _, col := range page.Columns() {
		if col != IDColumn {
			names = append(names, col)
		}
	}
	return page.Select(names...)
}

// presentColumns rewrites dotted column names for presentation and
// reports the mapping back to the stored names.
func presentColumns(page *frame.Frame, st *execState) (*frame.Frame, map[string]string, error) {
	var origins map[string]string
	for _, col := range page.Columns() {
		r := rewriteName(col)
		if r == col {
			continue
		}
		if page.HasColumn(r) {
			st.warnf("column %q keeps its stored name: %q is already taken", col, r)
			continue
		}
		renamed, err := page.RenameColumn(col, r)
		if err != nil {
			return nil, nil, err
		}
		page = renamed
		if origins == nil {
			origins = make(map[string]string)
		}
		origins[r] = col
	}
	return page, origins, nil
}

// distinctColumn collects the column's distinct canonical values in first
// appearance order, excluding nulls.
func distinctColumn(f *frame.Frame, column string) ([]string, error) {
	s, ok := f.Column(column)
	if !ok {
		return nil, datamodel.NewErrorf(datamodel.KindMissingJoinColumn, "column %q not present", column)
	}
	seen := make(map[string]struct{})
	var out []string
	for i := 0; i < s.Len(); i++ {
		if s.IsNull(i) {
			continue
		}
		k := s.KeyString(i)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, nil
}

// componentValues renders a component value as canonical strings: one per
// list element, or a single element for an active scalar.
func componentValues(v any) []string {
	if list, ok := listValue(v); ok {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if c, ok := canonicalString(item); ok {
				out = append(out, c)
			}
		}
		return out
	}
	if c, ok := canonicalString(v); ok && c != "" {
		return []string{c}
	}
	return nil
}

// dcLabel names a collection for warnings: its tag when the project still
// declares it, its id otherwise.
func dcLabel(project *datamodel.Project, id primitive.ObjectID) string {
	if dc, _, ok := project.DCByID(id); ok {
		return fmt.Sprintf("%q", dc.Tag)
	}
	return id.Hex()
}

// pathEdge is one hop in the project's join graph. The on columns carry
// the same names on both sides.
type pathEdge struct {
	from primitive.ObjectID
	to   primitive.ObjectID
	on   []string
}

// joinGraph builds an undirected adjacency map from the project's join
// definitions. Definitions whose sides do not resolve are left out.
func (p *Pipeline) joinGraph(project *datamodel.Project) map[primitive.ObjectID][]pathEdge {
	graph := make(map[primitive.ObjectID][]pathEdge)
	for i := range project.Joins {
		jd := &project.Joins[i]
		left := resolveEdgeDC(project, jd.LeftDC, jd.LeftDCID, jd.WorkflowName)
		right := resolveEdgeDC(project, jd.RightDC, jd.RightDCID, jd.WorkflowName)
		if left.IsZero() || right.IsZero() {
			p.logger.Debug("join definition left out of the join graph", "join", jd.Name)
			continue
		}
		on := slices.Clone(jd.OnColumns)
		graph[left] = append(graph[left], pathEdge{from: left, to: right, on: on})
		graph[right] = append(graph[right], pathEdge{from: right, to: left, on: on})
	}
	return graph
}

func resolveEdgeDC(project *datamodel.Project, ref string, id primitive.ObjectID, workflow string) primitive.ObjectID {
	if !id.IsZero() {
		if _, _, ok := project.DCByID(id); ok {
			return id
		}
		return primitive.NilObjectID
	}
	dc, _, err := project.ResolveDC(ref, workflow)
	if err != nil {
		return primitive.NilObjectID
	}
	return dc.ID
}

// shortestPath finds a minimum-hop path from start to any goal collection.
// The returned edges run start-first.
func shortestPath(graph map[primitive.ObjectID][]pathEdge, start primitive.ObjectID, goals map[primitive.ObjectID]bool) ([]pathEdge, bool) {
	if goals[start] {
		return nil, true
	}
	parents := make(map[primitive.ObjectID]pathEdge)
	seen := map[primitive.ObjectID]bool{start: true}
	queue := []primitive.ObjectID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range graph[cur] {
			if seen[e.to] {
				continue
			}
			seen[e.to] = true
			parents[e.to] = e
			if goals[e.to] {
				var path []pathEdge
				for node := e.to; node != start; node = parents[node].from {
					path = append(path, parents[node])
				}
				slices.Reverse(path)
				return path, true
			}
			queue = append(queue, e.to)
		}
	}
	return nil, false
}

// compositeKeys collects the distinct composite key tuples over the given
// columns. Tuples with a null component are excluded.
func compositeKeys(f *frame.Frame, cols []string) (map[string]struct{}, error) {
	series := make([]*frame.Series, len(cols))
	for i, name := range cols {
		s, ok := f.Column(name)
		if !ok {
			return nil, datamodel.NewErrorf(datamodel.KindMissingJoinColumn, "column %q not present", name)
		}
		series[i] = s
	}
	keys := make(map[string]struct{})
rows:
	for row := 0; row < f.NumRows(); row++ {
		parts := make([]string, len(series))
		for i, s := range series {
			if s.IsNull(row) {
				continue rows
			}
			parts[i] = s.KeyString(row)
		}
		keys[strings.Join(parts, "\x1f")] = struct{}{}
	}
	return keys, nil
}

// filterByKeys keeps rows whose composite key over cols is in the set.
// Rows with a null key component never match.
func filterByKeys(f *frame.Frame, cols []string, keys map[string]struct{}) (*frame.Frame, error) {
	series := make([]*frame.Series, len(cols))
	for i, name := range cols {
		s, ok := f.Column(name)
		if !ok {
			return nil, datamodel.NewErrorf(datamodel.KindMissingJoinColumn, "column %q not present", name)
		}
		series[i] = s
	}
	mask := make([]bool, f.NumRows())
rows:
	for row := range mask {
		parts := make([]string, len(series))
		for i, s := range series {
			if s.IsNull(row) {
				continue rows
			}
			parts[i] = s.KeyString(row)
		}
		_, mask[row] = keys[strings.Join(parts, "\x1f")]
	}
	return f.FilterRows(mask), nil
}
