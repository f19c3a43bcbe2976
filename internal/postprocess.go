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

package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hoxca/nightcal/internal/catalog"
	"github.com/hoxca/nightcal/internal/fitsfile"
	"github.com/hoxca/nightcal/internal/frame"
)

// Name of the processed product for a raw file name. The reduction level
// in LCO style names, e.g. the 00 of -e00 or -b00, becomes 91.
func ReducedFilename(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if ext == ".fz" {
		ext = filepath.Ext(base)
		base = strings.TrimSuffix(base, ext)
	}
	if ext == "" {
		ext = ".fits"
	}
	if n := len(base); n >= 4 && base[n-4] == '-' {
		switch base[n-2:] {
		case "00":
			return base[:n-2] + "91" + ext
		case "91":
			return base + ext
		}
	}
	return base + "-e91" + ext
}

// Write a reduced frame to outDir, and register it in the catalog if it is a
// calibration frame and register is set. Returns the path written.
func (e *Env) WriteProduct(ctx context.Context, f *frame.Frame, outDir string, register bool) (string, error) {
	f.Filepath = outDir
	f.Filename = ReducedFilename(f.Filename)
	if err := e.writeFrame(f); err != nil {
		return "", err
	}
	if register && f.Kind().IsCalibration() {
		if _, err := e.Register(ctx, f); err != nil {
			return "", err
		}
	}
	return f.Path(), nil
}

func (e *Env) writeFrame(f *frame.Frame) error {
	if err := os.MkdirAll(f.Filepath, 0o755); err != nil {
		return err
	}
	f.Meta.Set("RUNID", e.RunID, "Identifier of the nightcal run")
	if err := fitsfile.Write(f.Path(), f); err != nil {
		return fmt.Errorf("writing %s: %w", f.Path(), err)
	}
	return nil
}

// Record a frame in the catalog. The frame's instrument must be registered.
func (e *Env) Register(ctx context.Context, f *frame.Frame) (*catalog.CalibrationImage, error) {
	if f.Instrument == nil || f.Instrument.ID == 0 {
		return nil, fmt.Errorf("%s: %w", f.Filename, catalog.ErrNoInstrument)
	}
	rec, err := catalog.RecordFor(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Filename, err)
	}
	if err := e.Store.SaveCalibration(ctx, rec); err != nil {
		return nil, err
	}
	e.Log.With(f.Tags()...).Debug("registered calibration", "id", rec.ID, "master", rec.IsMaster, "bad", rec.IsBad)
	return rec, nil
}
