// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datamodel defines the persistent entities of the data platform:
// projects, workflows, data collections, runs, files, joins, and links,
// together with the hash, timestamp, and path contracts they share.
//
// Entities are identified by immutable 96-bit ObjectIDs rendered as 24
// lowercase hex characters. Projects embed their workflows and data
// collections; cross-references (joins, links) are always by id so the
// object graph stays acyclic.
package datamodel

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// validate is the shared validator instance. Struct tags cover field-level
// rules; cross-field invariants live in the Validate methods.
var validate = validator.New()

// NewID mints a fresh entity identifier.
func NewID() primitive.ObjectID { return primitive.NewObjectID() }

// ParseID parses a 24-hex identifier, returning not-found on malformed input
// so lookups by id fail the same way as lookups that miss.
func ParseID(s string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, NewErrorf(KindNotFound, "malformed id %q", s)
	}
	return id, nil
}

// ProjectType distinguishes flat projects from workflow-structured ones.
type ProjectType string

const (
	ProjectTypeBasic    ProjectType = "basic"
	ProjectTypeAdvanced ProjectType = "advanced"
)

// Permissions is the per-entity access set. Membership is by user id.
type Permissions struct {
	Owners  []primitive.ObjectID `bson:"owners" json:"owners"`
	Editors []primitive.ObjectID `bson:"editors" json:"editors"`
	Viewers []primitive.ObjectID `bson:"viewers" json:"viewers"`
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// CanEdit reports whether userID may mutate the entity.
func (p Permissions) CanEdit(userID primitive.ObjectID) bool {
	return containsID(p.Owners, userID) || containsID(p.Editors, userID)
}

// CanView reports whether userID may read the entity.
func (p Permissions) CanView(userID primitive.ObjectID) bool {
	return p.CanEdit(userID) || containsID(p.Viewers, userID)
}

// Project is the top-level container.
//
// Basic projects carry a flat DataCollections list; advanced projects carry
// Workflows. Joins and Links are declared at project level and reference
// data collections by id or tag.
type Project struct {
	ID              primitive.ObjectID `bson:"_id" json:"id"`
	Name            string             `bson:"name" json:"name" validate:"required"`
	Description     string             `bson:"description,omitempty" json:"description,omitempty"`
	ProjectType     ProjectType        `bson:"project_type" json:"project_type" validate:"required,oneof=basic advanced"`
	IsPublic        bool               `bson:"is_public" json:"is_public"`
	Permissions     Permissions        `bson:"permissions" json:"permissions"`
	Joins           []JoinDefinition   `bson:"joins,omitempty" json:"joins,omitempty"`
	Links           []DCLink           `bson:"links,omitempty" json:"links,omitempty"`
	DataCollections []DataCollection   `bson:"data_collections,omitempty" json:"data_collections,omitempty"`
	Workflows       []Workflow         `bson:"workflows,omitempty" json:"workflows,omitempty"`
}

// WorkflowEngine names the pipeline engine a workflow runs on.
type WorkflowEngine struct {
	Name    string `bson:"name" json:"name" validate:"required"`
	Version string `bson:"version,omitempty" json:"version,omitempty"`
}

// DataStructure describes how runs are laid out on disk.
type DataStructure string

const (
	// StructureFlat treats each configured location as a single run.
	StructureFlat DataStructure = "flat"
	// StructureSequencingRuns treats each regex-matching subdirectory of a
	// location as one run.
	StructureSequencingRuns DataStructure = "sequencing-runs"
)

// DataLocation configures where a workflow's runs live.
type DataLocation struct {
	Structure DataStructure `bson:"structure" json:"structure" validate:"required,oneof=flat sequencing-runs"`
	Locations []string      `bson:"locations" json:"locations" validate:"required,min=1"`
	RunsRegex string        `bson:"runs_regex,omitempty" json:"runs_regex,omitempty"`
}

// Workflow is a named processing pipeline within a project.
type Workflow struct {
	ID              primitive.ObjectID `bson:"_id" json:"id"`
	Name            string             `bson:"name" json:"name" validate:"required"`
	Engine          WorkflowEngine     `bson:"engine" json:"engine"`
	Catalog         string             `bson:"catalog,omitempty" json:"catalog,omitempty"`
	DataLocation    DataLocation       `bson:"data_location" json:"data_location"`
	DataCollections []DataCollection   `bson:"data_collections" json:"data_collections"`
}

// Tag computes the workflow tag: "{engine}/{name}", or "nf-core/{name}" when
// the workflow comes from the nf-core catalog.
func (w *Workflow) Tag() string {
	if w.Catalog == "nf-core" {
		return "nf-core/" + w.Name
	}
	return w.Engine.Name + "/" + w.Name
}

// DataCollection is a typed dataset within a workflow (or at project level
// for basic projects).
type DataCollection struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	Tag         string             `bson:"data_collection_tag" json:"data_collection_tag" validate:"required"`
	Description string             `bson:"description,omitempty" json:"description,omitempty"`
	Config      DCConfig           `bson:"config" json:"config"`
}

// Validate enforces the project-level invariants: unique workflow names,
// unique DC tags within each workflow (and within the flat list), unique
// join names, and per-entity field rules.
func (p *Project) Validate() error {
	if err := validate.Struct(p); err != nil {
		return WrapError(KindConfigInvalid, "project fields", err).With("project", p.Name)
	}

	switch p.ProjectType {
	case ProjectTypeBasic:
		if len(p.Workflows) > 0 {
			return NewError(KindConfigInvalid, "basic project cannot declare workflows").
				With("project", p.Name)
		}
	case ProjectTypeAdvanced:
		if len(p.DataCollections) > 0 {
			return NewError(KindConfigInvalid, "advanced project cannot declare flat data collections").
				With("project", p.Name)
		}
	}

	wfNames := make(map[string]struct{}, len(p.Workflows))
	for i := range p.Workflows {
		wf := &p.Workflows[i]
		if _, dup := wfNames[wf.Name]; dup {
			return NewErrorf(KindConfigInvalid, "duplicate workflow name %q", wf.Name).
				With("project", p.Name)
		}
		wfNames[wf.Name] = struct{}{}
		if err := wf.Validate(); err != nil {
			return err
		}
	}

	if err := validateDCTags(p.DataCollections, p.Name, ""); err != nil {
		return err
	}

	joinNames := make(map[string]struct{}, len(p.Joins))
	for i := range p.Joins {
		j := &p.Joins[i]
		if _, dup := joinNames[j.Name]; dup {
			return NewErrorf(KindConfigInvalid, "duplicate join name %q", j.Name).
				With("project", p.Name)
		}
		joinNames[j.Name] = struct{}{}
		if err := j.Validate(); err != nil {
			return err
		}
	}

	for i := range p.Links {
		if err := p.Links[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate enforces workflow invariants, notably that sequencing-runs
// structures declare a runs_regex.
func (w *Workflow) Validate() error {
	if err := validate.Struct(w); err != nil {
		return WrapError(KindConfigInvalid, "workflow fields", err).With("workflow", w.Name)
	}
	if w.DataLocation.Structure == StructureSequencingRuns && w.DataLocation.RunsRegex == "" {
		return NewError(KindConfigInvalid, "sequencing-runs structure requires runs_regex").
			With("workflow", w.Name)
	}
	if err := validateDCTags(w.DataCollections, "", w.Name); err != nil {
		return err
	}
	return nil
}

func validateDCTags(dcs []DataCollection, project, workflow string) error {
	tags := make(map[string]struct{}, len(dcs))
	for i := range dcs {
		dc := &dcs[i]
		if _, dup := tags[dc.Tag]; dup {
			e := NewErrorf(KindConfigInvalid, "duplicate data collection tag %q", dc.Tag)
			if project != "" {
				e.With("project", project)
			}
			if workflow != "" {
				e.With("workflow", workflow)
			}
			return e
		}
		tags[dc.Tag] = struct{}{}
		if err := dc.Config.Validate(); err != nil {
			var de *Error
			if asDomain(err, &de) {
				de.With("data_collection", dc.Tag)
			}
			return err
		}
	}
	return nil
}

// asDomain is a thin errors.As wrapper kept local to avoid importing errors
// in every call site.
func asDomain(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

// ---- DC resolution ----

// SplitDCRef splits a join/link DC reference into workflow and tag parts.
// "wf.tag" pins the workflow; a bare "tag" leaves workflow empty.
func SplitDCRef(ref string) (workflow, tag string) {
	if i := strings.Index(ref, "."); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}

// ResolveDC locates a data collection by reference.
//
// # Description
//
// Resolution follows the join-reference rules: a dotted "workflow.tag"
// searches exactly that workflow; a bare tag searches the workflow named by
// scopeWorkflow when non-empty, then the project-level collections. A miss
// is a dc-not-found error.
//
// # Outputs
//
//   - the collection, its owning workflow (nil for project-level DCs), or an
//     error.
func (p *Project) ResolveDC(ref, scopeWorkflow string) (*DataCollection, *Workflow, error) {
	wfName, tag := SplitDCRef(ref)
	if wfName == "" {
		wfName = scopeWorkflow
	}

	if wfName != "" {
		wf := p.WorkflowByName(wfName)
		if wf == nil {
			return nil, nil, NewErrorf(KindDCNotFound, "workflow %q not found", wfName).
				With("project", p.Name).With("dc_ref", ref)
		}
		for i := range wf.DataCollections {
			if wf.DataCollections[i].Tag == tag {
				return &wf.DataCollections[i], wf, nil
			}
		}
		return nil, nil, NewErrorf(KindDCNotFound, "data collection %q not found in workflow %q", tag, wfName).
			With("project", p.Name)
	}

	for i := range p.DataCollections {
		if p.DataCollections[i].Tag == tag {
			return &p.DataCollections[i], nil, nil
		}
	}
	// Fall back to a unique match across workflows for bare tags.
	var found *DataCollection
	var foundWf *Workflow
	for wi := range p.Workflows {
		wf := &p.Workflows[wi]
		for di := range wf.DataCollections {
			if wf.DataCollections[di].Tag == tag {
				if found != nil {
					return nil, nil, NewErrorf(KindDCNotFound,
						"tag %q is ambiguous across workflows; use workflow.tag", tag).
						With("project", p.Name)
				}
				found = &wf.DataCollections[di]
				foundWf = wf
			}
		}
	}
	if found == nil {
		return nil, nil, NewErrorf(KindDCNotFound, "data collection %q not found", tag).
			With("project", p.Name)
	}
	return found, foundWf, nil
}

// EnsureIDs mints identifiers for every entity that arrived without one.
// Declarative configs (YAML, API payloads) usually omit ids; persisting
// requires them. Existing ids are never touched, so re-applying a config
// keeps entity identity stable.
func (p *Project) EnsureIDs() {
	if p.ID.IsZero() {
		p.ID = NewID()
	}
	for i := range p.DataCollections {
		if p.DataCollections[i].ID.IsZero() {
			p.DataCollections[i].ID = NewID()
		}
	}
	for wi := range p.Workflows {
		wf := &p.Workflows[wi]
		if wf.ID.IsZero() {
			wf.ID = NewID()
		}
		for di := range wf.DataCollections {
			if wf.DataCollections[di].ID.IsZero() {
				wf.DataCollections[di].ID = NewID()
			}
		}
	}
	for i := range p.Joins {
		if p.Joins[i].ID.IsZero() {
			p.Joins[i].ID = NewID()
		}
	}
	for i := range p.Links {
		if p.Links[i].ID.IsZero() {
			p.Links[i].ID = NewID()
		}
	}
}

// DCByID locates a data collection by id across the whole project.
func (p *Project) DCByID(id primitive.ObjectID) (*DataCollection, *Workflow, bool) {
	for i := range p.DataCollections {
		if p.DataCollections[i].ID == id {
			return &p.DataCollections[i], nil, true
		}
	}
	for wi := range p.Workflows {
		wf := &p.Workflows[wi]
		for di := range wf.DataCollections {
			if wf.DataCollections[di].ID == id {
				return &wf.DataCollections[di], wf, true
			}
		}
	}
	return nil, nil, false
}

// WorkflowByName returns the named workflow or nil.
func (p *Project) WorkflowByName(name string) *Workflow {
	for i := range p.Workflows {
		if p.Workflows[i].Name == name {
			return &p.Workflows[i]
		}
	}
	return nil
}

// AllDataCollections returns every DC in the project with its owning
// workflow (nil for project-level entries).
func (p *Project) AllDataCollections() []DCWithWorkflow {
	out := make([]DCWithWorkflow, 0, len(p.DataCollections))
	for i := range p.DataCollections {
		out = append(out, DCWithWorkflow{DC: &p.DataCollections[i]})
	}
	for wi := range p.Workflows {
		wf := &p.Workflows[wi]
		for di := range wf.DataCollections {
			out = append(out, DCWithWorkflow{DC: &wf.DataCollections[di], Workflow: wf})
		}
	}
	return out
}

// DCWithWorkflow pairs a collection with its owning workflow.
type DCWithWorkflow struct {
	DC       *DataCollection
	Workflow *Workflow // nil for project-level collections
}

// String renders the pair for logs: "workflow_tag/dc_tag" or "dc_tag".
func (d DCWithWorkflow) String() string {
	if d.Workflow != nil {
		return fmt.Sprintf("%s/%s", d.Workflow.Tag(), d.DC.Tag)
	}
	return d.DC.Tag
}
