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
	"log/slog"

	"github.com/google/uuid"
	"github.com/hoxca/nightcal/internal/calib"
	"github.com/hoxca/nightcal/internal/catalog"
	"github.com/hoxca/nightcal/internal/conf"
	"github.com/hoxca/nightcal/internal/fitsfile"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/logger"
	"github.com/hoxca/nightcal/internal/metrics"
)

// Shared state of one command invocation
type Env struct {
	Settings *conf.Settings
	Store    *catalog.Store
	Metrics  *metrics.Metrics
	Cache    *catalog.MasterCache
	RunID    string
	Log      *slog.Logger

	criteria map[frame.Kind][]string
	policies map[frame.Kind]calib.Policy
}

// Open the catalog named in the settings, migrate it and set up the environment
func NewEnv(ctx context.Context, s *conf.Settings) (*Env, error) {
	store, err := catalog.Open(s.Database.Driver, s.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}
	e, err := NewEnvWithStore(s, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return e, nil
}

// Set up the environment around an open catalog
func NewEnvWithStore(s *conf.Settings, store *catalog.Store) (*Env, error) {
	criteria, err := s.KindCriteria()
	if err != nil {
		return nil, err
	}
	policies, err := s.KindPolicies()
	if err != nil {
		return nil, err
	}
	m, err := metrics.New(nil)
	if err != nil {
		return nil, err
	}
	e := &Env{
		Settings: s,
		Store:    store,
		Metrics:  m,
		RunID:    uuid.NewString(),
		criteria: criteria,
		policies: policies,
	}
	e.Log = logger.With("run", e.RunID)
	e.Cache = catalog.NewMasterCache(func(path string) (*frame.Frame, error) {
		return e.OpenFrame(context.Background(), path)
	}, s.Cache.TTL)
	if err := m.WatchCache(e.Cache); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Env) Close() error {
	return e.Store.Close()
}

// Read a FITS file into a frame, resolving its instrument from the catalog
func (e *Env) OpenFrame(ctx context.Context, path string) (*frame.Frame, error) {
	meta, ccds, err := fitsfile.ReadUnits(path)
	if err != nil {
		return nil, err
	}
	h := meta
	if h == nil {
		h = ccds[0].Meta
	}
	d := e.Settings.Dialect()
	inst, err := e.instrumentFor(ctx, d.Site(h), d.Camera(h))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f, err := frame.Open(meta, ccds, frame.Options{
		Filename:   path,
		Dialect:    d,
		Instrument: inst,
		Cameras:    &e.Settings.Cameras,
		Criteria:   e.criteria,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Catalog instrument for a site and camera, nil if not registered
func (e *Env) instrumentFor(ctx context.Context, site, camera string) (*frame.Instrument, error) {
	inst, err := e.Store.FindInstrument(ctx, site, camera, "")
	if errors.Is(err, catalog.ErrInstrumentNotFound) {
		e.Log.Debug("instrument not in catalog", "site", site, "camera", camera)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tz := 0
	s, err := e.Store.FindSite(ctx, site)
	switch {
	case err == nil:
		tz = s.Timezone
	case !errors.Is(err, catalog.ErrSiteNotFound):
		return nil, err
	}
	return inst.Frame(tz), nil
}

// Reduction pipeline wired to the catalog, master cache and metrics
func (e *Env) Pipeline() *calib.Pipeline {
	return calib.NewPipeline(calib.Options{
		Selector:     metrics.CountingSelector{Selector: e.Store, Metrics: e.Metrics},
		Loader:       e.Cache,
		Policies:     e.policies,
		Criteria:     e.criteria,
		UseOnlyOlder: e.Settings.Reduce.UseOnlyOlder,
		Compare:      e.Settings.Reduce.Compare,
		Observer:     e.Metrics.ObserveStage,
	})
}
