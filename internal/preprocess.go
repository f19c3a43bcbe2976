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

	"github.com/hoxca/nightcal/internal/calib"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/metrics"
)

// Parameters for reducing raw frames
type ReduceParams struct {
	// Frames processed in parallel, 0 to size from cores and memory
	Workers int
	// Memory budget in bytes, 0 for half the physical memory
	Memory uint64
	OutDir string
	// Record reduced calibration frames in the catalog as stacking inputs
	Register bool
}

// Print parameters for reducing frames
func (p *ReduceParams) String() string {
	return fmt.Sprintf("workers %d memory %dMiB outDir %q register %v", p.Workers, p.Memory>>20, p.OutDir, p.Register)
}

// Outcome of reducing one input file
type Reduced struct {
	ID      int
	Input   string
	Output  string
	ObsType string
	Flagged bool
}

// Reduce the given files in parallel and write the products. Frames failing
// any stage are logged and dropped without affecting the others. Results are
// in input order. An error is returned only when the context ends early.
func (e *Env) ReduceFiles(ctx context.Context, fileNames []string, p *ReduceParams) ([]*Reduced, error) {
	if len(fileNames) == 0 {
		return nil, nil
	}
	workers := e.workersFor(ctx, fileNames[0], p)
	pipe := e.Pipeline()
	LogPrintf("Reducing %d frames with %d workers, %s\n", len(fileNames), workers, p)

	results := make([]*Reduced, len(fileNames))
	sem := make(chan bool, workers)
	for id, fileName := range fileNames {
		if ctx.Err() != nil {
			break
		}
		sem <- true
		go func(id int, fileName string) {
			defer func() { <-sem }()
			r, err := e.reduceFile(ctx, pipe, id, fileName, p)
			if err != nil {
				LogPrintf("%d: Error: %s\n", id, err.Error())
				return
			}
			results[id] = r
		}(id, fileName)
	}
	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}
	debug.FreeOSMemory()

	// remove dropped frames
	o := 0
	for i := 0; i < len(results); i++ {
		if results[i] != nil {
			results[o] = results[i]
			o++
		}
	}
	return results[:o], ctx.Err()
}

// Size the worker pool from the first frame's footprint
func (e *Env) workersFor(ctx context.Context, fileName string, p *ReduceParams) int {
	res := HostResources()
	if p.Workers > 0 {
		return p.Workers
	}
	var frameBytes uint64
	if f, err := e.OpenFrame(ctx, fileName); err == nil {
		ny, nx := f.Shape()
		frameBytes = FrameBytes(ny, nx, f.NAmps())
		f.Release()
	}
	return res.Parallelism(0, frameBytes, p.Memory)
}

func (e *Env) reduceFile(ctx context.Context, pipe *calib.Pipeline, id int, fileName string, p *ReduceParams) (*Reduced, error) {
	f, err := e.OpenFrame(ctx, fileName)
	if err != nil {
		e.Metrics.RecordFrame(frame.KindUnknown.String(), metrics.OutcomeFailed)
		return nil, err
	}
	defer f.Release()

	if err := pipe.Run(ctx, f); err != nil {
		outcome := metrics.OutcomeFailed
		if errors.Is(err, calib.ErrRejected) {
			outcome = metrics.OutcomeRejected
		}
		e.Metrics.RecordFrame(f.ObsType(), outcome)
		return nil, err
	}
	in := f.Path()
	out, err := e.WriteProduct(ctx, f, p.OutDir, p.Register)
	if err != nil {
		e.Metrics.RecordFrame(f.ObsType(), metrics.OutcomeFailed)
		return nil, err
	}
	outcome := metrics.OutcomeReduced
	if f.IsBad {
		outcome = metrics.OutcomeFlagged
	}
	e.Metrics.RecordFrame(f.ObsType(), outcome)
	LogPrintf("%d: %s %s -> %s\n", id, f.ObsType(), in, out)
	return &Reduced{ID: id, Input: in, Output: out, ObsType: f.ObsType(), Flagged: f.IsBad}, nil
}
