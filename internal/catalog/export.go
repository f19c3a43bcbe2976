// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hoxca/nightcal/internal/logger"
	"github.com/parquet-go/parquet-go"
)

// Flat form of a calibration record for columnar export. Times are unix
// milliseconds in UTC, attributes a JSON object.
type ExportRow struct {
	Filename     string `parquet:"filename"`
	Filepath     string `parquet:"filepath"`
	Type         string `parquet:"type"`
	Site         string `parquet:"site"`
	Camera       string `parquet:"camera"`
	InstrumentID int64  `parquet:"instrument_id"`
	DateObs      int64  `parquet:"dateobs"`
	DateCreated  int64  `parquet:"datecreated"`
	GoodAfter    int64  `parquet:"good_after"`
	GoodUntil    int64  `parquet:"good_until"`
	IsMaster     bool   `parquet:"is_master"`
	IsBad        bool   `parquet:"is_bad"`
	Attributes   string `parquet:"attributes"`
}

func exportRow(c *CalibrationImage) ExportRow {
	attrs := "{}"
	if len(c.Attributes) > 0 {
		if b, err := json.Marshal(c.Attributes); err == nil {
			attrs = string(b)
		}
	}
	return ExportRow{
		Filename:     c.Filename,
		Filepath:     c.Filepath,
		Type:         c.Type,
		Site:         c.Instrument.Site,
		Camera:       c.Instrument.Camera,
		InstrumentID: int64(c.InstrumentID),
		DateObs:      c.DateObs.UTC().UnixMilli(),
		DateCreated:  c.DateCreated.UTC().UnixMilli(),
		GoodAfter:    c.GoodAfter.UTC().UnixMilli(),
		GoodUntil:    c.GoodUntil.UTC().UnixMilli(),
		IsMaster:     c.IsMaster,
		IsBad:        c.IsBad,
		Attributes:   attrs,
	}
}

// Write the calibrations matching the filter to w in parquet format and
// return the number of rows written
func (s *Store) Export(ctx context.Context, w io.Writer, f Filter) (int, error) {
	var recs []CalibrationImage
	err := s.filtered(ctx, f).Preload("Instrument").Order("date_obs, filename").Find(&recs).Error
	if err != nil {
		return 0, err
	}
	rows := make([]ExportRow, len(recs))
	for i := range recs {
		rows[i] = exportRow(&recs[i])
	}
	pw := parquet.NewGenericWriter[ExportRow](w)
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			pw.Close()
			return 0, fmt.Errorf("failed to write parquet rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Export to a parquet file at path
func (s *Store) ExportFile(ctx context.Context, path string, f Filter) (int, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := s.Export(ctx, out, f)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Read rows back from a parquet export
func ReadExport(r io.ReaderAt, size int64) ([]ExportRow, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}
	logger.L().Debug("parquet export opened", "rows", pf.NumRows(), "row_groups", len(pf.RowGroups()))

	reader := parquet.NewGenericReader[ExportRow](pf)
	defer reader.Close()

	var out []ExportRow
	batch := make([]ExportRow, 128)
	for {
		n, err := reader.Read(batch)
		out = append(out, batch[:n]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
