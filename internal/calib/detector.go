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

package calib

import (
	"context"
	"fmt"
	"math"

	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/logger"
	"github.com/hoxca/nightcal/internal/section"
	"github.com/hoxca/nightcal/internal/stats"
)

// Replace amplifier i, keeping a single extension frame's header in sync
func setUnit(f *frame.Frame, i int, c *ccd.CCDData) {
	if f.CCDs[i].Meta == f.Meta {
		f.Meta = c.Meta
	}
	f.CCDs[i] = c
}

// Flags pixels at or above the saturation level
type SaturationMasker struct{}

func (SaturationMasker) Name() string { return "saturation" }

func (SaturationMasker) Do(_ context.Context, f *frame.Frame) error {
	n := 0
	for _, c := range f.CCDs {
		sat := c.Saturate()
		if sat <= 0 {
			continue
		}
		for i, v := range c.Data.Pix {
			if v >= sat {
				c.Mask.Pix[i] |= ccd.MaskSaturated
				n++
			}
		}
	}
	logger.With(f.Tags()...).Debug("masked saturated pixels", "pixels", n)
	return nil
}

// Subtracts the sigma-clipped mean of each amplifier's overscan region
type OverscanSubtractor struct{}

func (OverscanSubtractor) Name() string { return "overscan" }

func (OverscanSubtractor) Do(_ context.Context, f *frame.Frame) error {
	status := 0
	for i, c := range f.CCDs {
		s, err := c.OverscanSection()
		if err != nil {
			return fmt.Errorf("%w: BIASSEC: %w", ErrRejected, err)
		}
		level := 0.0
		if s != nil {
			level = stats.SigmaClippedMean1D(c.Data.Region(*s).Pix, 3.0, c.Mask.Region(*s).Pix)
			status = 1
		}
		c.SubtractScalar(level)
		if f.NAmps() == 1 {
			f.Meta.Set("OVERSCAN", level, "Overscan value that was subtracted")
		} else {
			f.Meta.Set(fmt.Sprintf("OVERSCN%d", i+1), level, fmt.Sprintf("Overscan value that was subtracted from Q%d", i+1))
			c.Meta.Set("OVERSCAN", level, "Overscan value that was subtracted")
		}
		logger.With(f.Tags()...).Debug("subtracting overscan", "amplifier", i+1, "level", level)
	}
	f.Meta.Set("L1STATOV", status, "Status flag for overscan correction")
	return nil
}

// Removes the signal leaking between amplifiers using the CRSTLKij
// coefficients: D_j -= sum over i != j of C_ij * D_i
type CrosstalkCorrector struct{}

func (CrosstalkCorrector) Name() string { return "crosstalk" }

func (CrosstalkCorrector) Do(_ context.Context, f *frame.Frame) error {
	n := f.NAmps()
	if n < 2 {
		return nil
	}
	ny, nx := f.Primary().Shape()
	orig := make([][]float64, n)
	for i, c := range f.CCDs {
		if !c.Data.SameShape(ny, nx) {
			return fmt.Errorf("%w: crosstalk needs equal amplifier shapes: %w", ErrRejected, ccd.ErrShapeMismatch)
		}
		orig[i] = append([]float64(nil), c.Data.Pix...)
	}
	for j, c := range f.CCDs {
		for i := 0; i < n; i++ {
			if i == j {
				continue
			}
			key := frame.CrosstalkKey(i, j)
			coef, ok := f.Meta.Float(key, 0)
			if !ok {
				return fmt.Errorf("%w: %w: %s", ErrRejected, frame.ErrMissingCrosstalk, key)
			}
			if coef == 0 {
				continue
			}
			for k, v := range orig[i] {
				c.Data.Pix[k] -= coef * v
			}
		}
	}
	logger.With(f.Tags()...).Debug("removed crosstalk", "amplifiers", n)
	return nil
}

// Converts each amplifier from ADU to electrons. Frames without a valid
// gain are rejected.
type GainNormalizer struct{}

func (GainNormalizer) Name() string { return "gain" }

func (GainNormalizer) Do(_ context.Context, f *frame.Frame) error {
	minSat := math.Inf(1)
	for i, c := range f.CCDs {
		g, ok := c.Meta.Float("GAIN", 0)
		if !ok || g <= 0 || math.IsNaN(g) {
			logger.With(f.Tags()...).Error("gain missing, rejecting frame", "amplifier", i+1)
			return fmt.Errorf("%w: missing gain on amplifier %d", ErrRejected, i+1)
		}
		c.MultiplyScalar(g)
		c.SetGain(1.0)
		minSat = min(minSat, c.Saturate())
	}
	if f.Meta != f.Primary().Meta {
		f.Meta.Set("GAIN", 1.0, "")
		if !math.IsInf(minSat, 1) {
			f.Meta.Set("SATURATE", minSat, "[e-] Saturation level")
		}
	}
	return nil
}

// Combines the amplifiers of a multi-extension frame into one array
// covering the detector
type MosaicCreator struct{}

func (MosaicCreator) Name() string { return "mosaic" }

// Extent of all amplifiers' detector sections
func DetectorExtent(f *frame.Frame) (section.Section, error) {
	var ext section.Section
	for i, c := range f.CCDs {
		d := c.DetectorSection()
		if d == nil {
			return ext, fmt.Errorf("%w: amplifier %d", ccd.ErrMissingSection, i+1)
		}
		n := d.Normalized()
		if i == 0 {
			ext = n
			continue
		}
		ext.XStart, ext.XStop = min(ext.XStart, n.XStart), max(ext.XStop, n.XStop)
		ext.YStart, ext.YStop = min(ext.YStart, n.YStart), max(ext.YStop, n.YStop)
	}
	return ext, nil
}

func (MosaicCreator) Do(_ context.Context, f *frame.Frame) error {
	if f.NAmps() < 2 {
		return nil
	}
	ext, err := DetectorExtent(f)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	bx, by := f.Primary().Binning()
	ny, nx := (ext.YStop-ext.YStart+1)/by, (ext.XStop-ext.XStart+1)/bx

	meta := f.Meta.Without("TRIMSEC", "BIASSEC")
	meta.Set("CCDSUM", fmt.Sprintf("%d %d", bx, by), "")
	meta.Set("DETSEC", ext.RegionKeyword(), "[unbinned pixel] Section of the detector")
	meta.Set("DATASEC", section.New(1, nx, 1, ny).RegionKeyword(), "[binned pixel] Data section")
	sat, rdnoise := math.Inf(1), 0.0
	for _, c := range f.CCDs {
		if s := c.Saturate(); s > 0 {
			sat = min(sat, s)
		}
		rdnoise = max(rdnoise, c.ReadNoise())
	}
	if !math.IsInf(sat, 1) {
		meta.Set("SATURATE", sat, "")
	}
	meta.Set("GAIN", f.Primary().Gain(), "")
	meta.Set("RDNOISE", rdnoise, "")

	m, err := ccd.New(ccd.NewBuffer[float64](ny, nx), meta, ccd.WithName("SCI"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	for i, c := range f.CCDs {
		if err := m.CopyIn(c); err != nil {
			return fmt.Errorf("%w: mosaic amplifier %d: %w", ErrRejected, i+1, err)
		}
	}
	for _, c := range f.CCDs {
		c.Release()
	}
	f.CCDs = []*ccd.CCDData{m}
	f.Meta = meta
	logger.With(f.Tags()...).Debug("mosaiced frame", "nx", nx, "ny", ny)
	return nil
}

// Cuts each amplifier down to its TRIMSEC, or DATASEC if no trim section is given
type Trimmer struct{}

func (Trimmer) Name() string { return "trim" }

func (Trimmer) Do(_ context.Context, f *frame.Frame) error {
	status := 0
	for i, c := range f.CCDs {
		s, err := section.ParseRegionKeyword(c.Meta.Str("TRIMSEC", "N/A"))
		if err != nil {
			return fmt.Errorf("%w: TRIMSEC: %w", ErrRejected, err)
		}
		if s == nil {
			s = c.DataSection()
		}
		if s == nil || *s == c.FullSection() {
			continue
		}
		t, err := c.Trim(s)
		if err != nil {
			return fmt.Errorf("%w: trimming amplifier %d: %w", ErrRejected, i+1, err)
		}
		t.Meta.Delete("TRIMSEC")
		t.Meta.Delete("BIASSEC")
		setUnit(f, i, t)
		c.Release()
		status = 1
	}
	if status == 0 {
		logger.With(f.Tags()...).Debug("no trim section defined")
	}
	f.Meta.Set("L1STATTR", status, "Status flag for overscan trimming")
	return nil
}
