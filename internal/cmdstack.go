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
	"runtime/debug"
	"sync"
	"time"

	"github.com/hoxca/nightcal/internal/catalog"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/metrics"
	"github.com/hoxca/nightcal/internal/night"
	"github.com/hoxca/nightcal/internal/stack"
)

var ErrNoInputs = errors.New("no input frames")

// Which frames to build masters from: either explicit files, or the
// individual frames the catalog holds for an instrument and time range
type StackRequest struct {
	Files []string

	Site    string
	Camera  string
	Type    string
	MinDate time.Time
	MaxDate time.Time
	// Observing night as YYYYMMDD, overrides the date range
	Night string
}

// Print the stacking request
func (r *StackRequest) String() string {
	if len(r.Files) > 0 {
		return fmt.Sprintf("%d files", len(r.Files))
	}
	if r.Night != "" {
		return fmt.Sprintf("%s %s/%s night %s", r.Type, r.Site, r.Camera, r.Night)
	}
	return fmt.Sprintf("%s %s/%s from %s to %s", r.Type, r.Site, r.Camera,
		r.MinDate.Format(time.RFC3339), r.MaxDate.Format(time.RFC3339))
}

// Build master calibrations, write them to the processed directory and
// record them in the catalog. Groups that cannot be stacked are logged and
// reported in the returned error alongside the masters that were built.
func (e *Env) CmdStack(ctx context.Context, r *StackRequest) ([]*catalog.CalibrationImage, error) {
	fileNames, err := e.stackInputs(ctx, r)
	if err != nil {
		return nil, err
	}
	if len(fileNames) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoInputs, r)
	}
	p, err := e.Settings.StackParams()
	if err != nil {
		return nil, err
	}
	LogPrintf("\nStacking %s with %s\n", r, p)

	frames := e.LoadFrames(ctx, fileNames)
	defer func() {
		for _, f := range frames {
			f.Release()
		}
		debug.FreeOSMemory()
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: none of %d files could be read", ErrNoInputs, len(fileNames))
	}

	results, stackErr := stack.StackGroups(ctx, frames, p)
	if stackErr != nil {
		e.Metrics.RecordMaster(r.Type, metrics.OutcomeFailed)
	}
	var recs []*catalog.CalibrationImage
	var errs []error
	for _, res := range results {
		master := res.Master
		if err := e.writeFrame(master); err != nil {
			errs = append(errs, err)
			e.Metrics.RecordMaster(master.ObsType(), metrics.OutcomeFailed)
			continue
		}
		rec, err := e.Register(ctx, master)
		if err != nil {
			errs = append(errs, err)
			e.Metrics.RecordMaster(master.ObsType(), metrics.OutcomeFailed)
			continue
		}
		e.Metrics.RecordMaster(master.ObsType(), metrics.OutcomeCreated)
		LogPrintf("Wrote master %s from %d frames (%d dropped)\n", master.Path(), len(res.Inputs), len(res.Dropped))
		recs = append(recs, rec)
		master.Release()
	}
	return recs, errors.Join(append([]error{stackErr}, errs...)...)
}

// Input file paths for a stacking request
func (e *Env) stackInputs(ctx context.Context, r *StackRequest) ([]string, error) {
	if len(r.Files) > 0 {
		return r.Files, nil
	}
	kind, err := frame.ParseKind(r.Type)
	if err != nil {
		return nil, err
	}
	if !kind.IsStacked() {
		return nil, fmt.Errorf("%s masters are not built by stacking", kind)
	}
	inst, err := e.Store.FindInstrument(ctx, r.Site, r.Camera, "")
	if err != nil {
		return nil, err
	}
	minDate, maxDate := r.MinDate, r.MaxDate
	if r.Night != "" {
		w, err := e.NightWindow(ctx, r.Site, r.Night)
		if err != nil {
			return nil, err
		}
		minDate, maxDate = w.Start, w.End
	}
	if maxDate.IsZero() {
		maxDate = time.Now().UTC()
	}
	recs, err := e.Store.IndividualFrames(ctx, inst.ID, kind.String(), minDate, maxDate)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(recs))
	for i := range recs {
		paths[i] = recs[i].Path()
	}
	return paths, nil
}

// Dusk to dawn window of an observing night at a catalog site
func (e *Env) NightWindow(ctx context.Context, siteID, epoch string) (night.Window, error) {
	site, err := e.Store.FindSite(ctx, siteID)
	if err != nil {
		return night.Window{}, err
	}
	return night.For(night.Site{Latitude: site.Latitude, Longitude: site.Longitude, Timezone: site.Timezone},
		epoch, e.Settings.Night.Depression)
}

// Load frames in parallel. Files that cannot be read are logged and skipped;
// the others keep their input order.
func (e *Env) LoadFrames(ctx context.Context, fileNames []string) []*frame.Frame {
	frames := make([]*frame.Frame, len(fileNames))
	sem := make(chan bool, HostResources().Parallelism(e.Settings.Reduce.Workers, 0, 0))
	var mu sync.Mutex
	failed := 0
	for id, fileName := range fileNames {
		if ctx.Err() != nil {
			break
		}
		sem <- true
		go func(id int, fileName string) {
			defer func() { <-sem }()
			f, err := e.OpenFrame(ctx, fileName)
			if err != nil {
				LogPrintf("%d: Error: %s\n", id, err.Error())
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			frames[id] = f
		}(id, fileName)
	}
	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}

	o := 0
	for _, f := range frames {
		if f != nil {
			frames[o] = f
			o++
		}
	}
	if failed > 0 {
		e.Log.Warn("skipped unreadable frames", "failed", failed, "loaded", o)
	}
	return frames[:o]
}
