// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/depictio/depictio/services/datamodel"
	"github.com/depictio/depictio/services/frame"
)

// readTableFile loads one source file into a frame according to the
// collection's table options.
func readTableFile(path string, cfg *datamodel.TableConfig) (*frame.Frame, error) {
	switch cfg.Format {
	case datamodel.FormatCSV, datamodel.FormatTSV:
		return readDelimited(path, cfg)
	case datamodel.FormatParquet:
		return readParquet(path)
	default:
		return nil, datamodel.NewErrorf(datamodel.KindConfigInvalid, "unknown table format %q", cfg.Format).
			With("file_location", path)
	}
}

// readDelimited parses a csv/tsv file honoring separator, header, and
// skip_rows. Column dtypes are inferred per column; empty cells are null.
// Rows shorter than the header are null-padded; longer rows reject the
// file.
func readDelimited(path string, cfg *datamodel.TableConfig) (*frame.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "open table file", err).
			With("file_location", path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for i := 0; i < cfg.SkipRows; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			if errors.Is(err, io.EOF) {
				return frame.Empty(), nil
			}
			return nil, datamodel.WrapError(datamodel.KindIOError, "skip rows", err).
				With("file_location", path)
		}
	}

	r := csv.NewReader(br)
	r.Comma = cfg.FieldSeparator()
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindTypeError, "parse delimited file", err).
			With("file_location", path)
	}
	if len(records) == 0 {
		return frame.Empty(), nil
	}

	var header []string
	var body [][]string
	if cfg.HeaderPresent() {
		header = records[0]
		body = records[1:]
	} else {
		header = make([]string, len(records[0]))
		for i := range header {
			header[i] = fmt.Sprintf("column_%d", i+1)
		}
		body = records
	}

	cols := make([][]string, len(header))
	for i := range cols {
		cols[i] = make([]string, len(body))
	}
	for ri, rec := range body {
		if len(rec) > len(header) {
			return nil, datamodel.NewErrorf(datamodel.KindTypeError,
				"row %d has %d fields, header has %d", ri+1, len(rec), len(header)).
				With("file_location", path)
		}
		for ci := range rec {
			cols[ci][ri] = rec[ci]
		}
	}

	series := make([]*frame.Series, len(header))
	for i, name := range header {
		series[i] = frame.InferSeries(strings.TrimSpace(name), cols[i])
	}
	return frame.New(series...)
}

// readParquet loads a flat-schema parquet file. Nested groups are
// rejected; repeated fields read as their string rendering.
func readParquet(path string) (*frame.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "open parquet file", err).
			With("file_location", path)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindIOError, "stat parquet file", err).
			With("file_location", path)
	}

	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, datamodel.WrapError(datamodel.KindTypeError, "read parquet footer", err).
			With("file_location", path)
	}

	fields := pf.Schema().Fields()
	dtypes := make([]frame.DType, len(fields))
	for i, field := range fields {
		if !field.Leaf() {
			return nil, datamodel.NewErrorf(datamodel.KindTypeError, "nested parquet field %q not supported", field.Name()).
				With("file_location", path)
		}
		dtypes[i] = parquetDType(field.Type().Kind())
	}

	cells := make([][]any, len(fields))
	buf := make([]parquet.Row, 256)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				for _, v := range row {
					ci := v.Column()
					if ci < 0 || ci >= len(cells) {
						continue
					}
					cells[ci] = append(cells[ci], parquetCell(v))
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				_ = rows.Close()
				return nil, datamodel.WrapError(datamodel.KindTypeError, "read parquet rows", err).
					With("file_location", path)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, datamodel.WrapError(datamodel.KindIOError, "close parquet rows", err).
				With("file_location", path)
		}
	}

	series := make([]*frame.Series, len(fields))
	for i, field := range fields {
		s, err := frame.FromValues(field.Name(), dtypes[i], cells[i])
		if err != nil {
			return nil, err
		}
		series[i] = s
	}
	return frame.New(series...)
}

func parquetDType(kind parquet.Kind) frame.DType {
	switch kind {
	case parquet.Boolean:
		return frame.Bool
	case parquet.Int32, parquet.Int64:
		return frame.Int
	case parquet.Float, parquet.Double:
		return frame.Float
	default:
		// ByteArray, FixedLenByteArray, Int96.
		return frame.String
	}
}

func parquetCell(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}
