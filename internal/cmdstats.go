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
	"math"
	"runtime"

	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/stats"
)

// Robust statistics of one amplifier's data
type AmpStats struct {
	Amp    int
	Median float64
	// Sigma-clipped mean
	Mean float64
	// Robust standard deviation
	Noise  float64
	Min    float64
	Max    float64
	Masked int
}

func (s AmpStats) String() string {
	return fmt.Sprintf("amp %d median %.4g mean %.4g noise %.4g min %.4g max %.4g masked %d",
		s.Amp, s.Median, s.Mean, s.Noise, s.Min, s.Max, s.Masked)
}

// Statistics of one frame
type FrameStats struct {
	ID      int
	File    string
	ObsType string
	Amps    []AmpStats
}

// Statistics over the unmasked pixels of a CCD unit
func AmpStatsOf(amp int, c *ccd.CCDData, sigma float64) AmpStats {
	var mask []uint8
	if c.Mask != nil {
		mask = c.Mask.Pix
	}
	pix := c.Data.Pix
	s := AmpStats{Amp: amp, Min: math.Inf(1), Max: math.Inf(-1)}
	for i, v := range pix {
		if mask != nil && mask[i] != 0 {
			s.Masked++
			continue
		}
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if s.Masked == len(pix) {
		s.Min, s.Max = 0, 0
	}
	a := stats.NewArray(pix, len(pix))
	s.Median = stats.Median(a, stats.AxisNone, mask).Scalar()
	s.Mean = stats.SigmaClippedMean(a, sigma, stats.AxisNone, mask, 0).Scalar()
	s.Noise = stats.RobustStandardDeviation(a, stats.AxisNone, nil, mask).Scalar()
	return s
}

// Print robust statistics for each amplifier of the given files, computed in
// parallel. Unreadable files are logged and skipped.
func (e *Env) CmdStats(ctx context.Context, fileNames []string) []*FrameStats {
	sigma := e.Settings.Stack.Sigma
	results := make([]*FrameStats, len(fileNames))
	sem := make(chan bool, runtime.NumCPU())
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
				return
			}
			defer f.Release()
			fs := &FrameStats{ID: id, File: fileName, ObsType: f.ObsType()}
			for a, c := range f.CCDs {
				fs.Amps = append(fs.Amps, AmpStatsOf(a+1, c, sigma))
			}
			results[id] = fs
		}(id, fileName)
	}
	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}

	o := 0
	for _, fs := range results {
		if fs == nil {
			continue
		}
		for _, a := range fs.Amps {
			LogPrintf("%d: %s %s %s\n", fs.ID, fs.File, fs.ObsType, a)
		}
		results[o] = fs
		o++
	}
	return results[:o]
}
