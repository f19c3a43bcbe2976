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
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hoxca/nightcal/internal/catalog"
	"gopkg.in/yaml.v3"
)

// Sites and instruments to register in the catalog
type Seed struct {
	Sites       []catalog.Site       `yaml:"sites"`
	Instruments []catalog.Instrument `yaml:"instruments"`
}

// Decode a seed file. Unknown fields are an error.
func ReadSeed(r io.Reader) (*Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Seed
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	for i, inst := range s.Instruments {
		if inst.Site == "" || inst.Camera == "" {
			return nil, fmt.Errorf("invalid seed: instrument %d needs site and camera", i+1)
		}
		if inst.Name == "" {
			s.Instruments[i].Name = inst.Camera
		}
	}
	return &s, nil
}

// Report the catalog contents after migration
func (e *Env) CmdDBInit(ctx context.Context) error {
	insts, err := e.Store.Instruments(ctx)
	if err != nil {
		return err
	}
	LogPrintf("Catalog %s ready with %d instruments\n", e.Settings.Database.Driver, len(insts))
	return nil
}

// Register the sites and instruments of a seed file
func (e *Env) CmdAddInstruments(ctx context.Context, path string) error {
	r, err := os.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	seed, err := ReadSeed(r)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for i := range seed.Sites {
		if err := e.Store.AddSite(ctx, &seed.Sites[i]); err != nil {
			return fmt.Errorf("site %s: %w", seed.Sites[i].ID, err)
		}
	}
	for i := range seed.Instruments {
		inst, err := e.Store.AddInstrument(ctx, &seed.Instruments[i])
		if err != nil {
			return err
		}
		LogPrintf("%d: %s/%s %s (%s)\n", inst.ID, inst.Site, inst.Camera, inst.Name, inst.Type)
	}
	return nil
}

// Write the calibrations matching the filter to a parquet file
func (e *Env) CmdExport(ctx context.Context, path string, f catalog.Filter) error {
	n, err := e.Store.ExportFile(ctx, path, f)
	if err != nil {
		return err
	}
	LogPrintf("Exported %d calibrations to %s\n", n, path)
	return nil
}
