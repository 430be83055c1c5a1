// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datamodel

import "go.mongodb.org/mongo-driver/bson/primitive"

// DeltaTableRecord registers the materialized Delta table of one data
// collection. The record is keyed by the data collection id, so repeated
// materializations update the same document and the table location stays
// stable for the collection's lifetime.
//
// Joined collections carry their lineage in Join; scan-materialized
// collections leave it nil.
type DeltaTableRecord struct {
	ID               primitive.ObjectID   `bson:"_id" json:"id"`
	ProjectID        primitive.ObjectID   `bson:"project_id" json:"project_id"`
	DataCollectionID primitive.ObjectID   `bson:"data_collection_id" json:"data_collection_id"`
	Location         string               `bson:"delta_table_location" json:"delta_table_location"`
	Version          int64                `bson:"version" json:"version"`
	RowCount         int64                `bson:"row_count" json:"row_count"`
	ColumnCount      int                  `bson:"column_count" json:"column_count"`
	SizeBytes        int64                `bson:"size_bytes" json:"size_bytes"`
	UpdatedAt        string               `bson:"updated_at" json:"updated_at"`
	Join             *JoinedTableMetadata `bson:"join,omitempty" json:"join,omitempty"`
}

// Validate checks the record is storable.
func (r *DeltaTableRecord) Validate() error {
	if r.ID.IsZero() {
		return NewError(KindConfigInvalid, "delta table record requires an id")
	}
	if r.DataCollectionID.IsZero() {
		return NewError(KindConfigInvalid, "delta table record requires a data collection id")
	}
	if r.Location == "" {
		return NewError(KindConfigInvalid, "delta table record requires a location")
	}
	return nil
}
