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

package stack

import (
	"errors"
	"fmt"

	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/logger"
	"github.com/hoxca/nightcal/internal/stats"
)

var ErrBadNormalization = errors.New("cannot normalize frame")

// Type-specific steps around the generic stack
type Maker interface {
	Kind() frame.Kind
	// Prepare one input frame in place before stacking
	Prepare(f *frame.Frame) error
	// Finish the stacked master, given the prepared inputs
	Finish(master *frame.Frame, inputs []*frame.Frame) error
}

// Maker for a calibration type
func MakerFor(kind frame.Kind, p *Params) (Maker, error) {
	switch kind {
	case frame.KindBias:
		return BiasMaker{}, nil
	case frame.KindDark:
		return DarkMaker{}, nil
	case frame.KindSkyFlat, frame.KindLampFlat:
		return FlatMaker{FlatKind: kind, Threshold: p.FlatThreshold}, nil
	}
	return nil, fmt.Errorf("no maker for %s frames", kind)
}

// Scale data and uncertainty without touching header levels
func scale(c *ccd.CCDData, v float64) {
	for i := range c.Data.Pix {
		c.Data.Pix[i] *= v
		c.Uncertainty.Pix[i] *= v
	}
}

// Flag pixels equal to v as bad
func maskValue(c *ccd.CCDData, v float64, bit uint8) {
	for i, d := range c.Data.Pix {
		if d == v {
			c.Mask.Pix[i] |= bit
		}
	}
}

// Removes each frame's bias level before stacking and records the mean level
type BiasMaker struct{}

func (BiasMaker) Kind() frame.Kind { return frame.KindBias }

func (BiasMaker) Prepare(f *frame.Frame) error {
	p := f.Primary()
	level := stats.SigmaClippedMean1D(p.Data.Pix, 3.5, p.Mask.Pix)
	for _, c := range f.CCDs {
		c.SubtractScalar(level)
	}
	f.SetBiasLevel(level)
	logger.With(f.Tags()...).Debug("calculated bias level", "BIASLVL", level)
	return nil
}

func (BiasMaker) Finish(master *frame.Frame, inputs []*frame.Frame) error {
	levels := make([]float64, 0, len(inputs))
	for _, f := range inputs {
		if l, ok := f.BiasLevel(); ok {
			levels = append(levels, l)
		}
	}
	mean := stats.SigmaClippedMean1D(levels, 3.0, nil)
	master.Meta.Set("BIASLVL", mean, "Mean bias level of master bias")
	for _, c := range master.CCDs {
		maskValue(c, 0, ccd.MaskBad)
	}
	logger.With(master.Tags()...).Debug("average bias level in ADU", "BIASLVL", mean)
	return nil
}

// Normalizes darks to one second of exposure and records the mean temperature
type DarkMaker struct{}

func (DarkMaker) Kind() frame.Kind { return frame.KindDark }

func (DarkMaker) Prepare(f *frame.Frame) error {
	t := f.ExpTime()
	if t <= 0 {
		return fmt.Errorf("%w: exposure time %g", ErrBadNormalization, t)
	}
	for _, c := range f.CCDs {
		scale(c, 1/t)
	}
	return nil
}

func (DarkMaker) Finish(master *frame.Frame, inputs []*frame.Frame) error {
	var temps []float64
	for _, f := range inputs {
		if t, ok := f.Temperature(); ok {
			temps = append(temps, t)
		}
	}
	if len(temps) > 0 {
		master.Meta.Set("CCDATEMP", stats.Mean(temps), "[C] Mean CCD temperature of combined darks")
	}
	master.Meta.Set("EXPTIME", 1.0, "[s] Normalized exposure time")
	for _, c := range master.CCDs {
		maskValue(c, 0, ccd.MaskBad)
	}
	return nil
}

// Normalizes flats by the level of their central region. Master pixels below
// the threshold are masked and set to 1.
type FlatMaker struct {
	FlatKind  frame.Kind
	Threshold float64
}

func (m FlatMaker) Kind() frame.Kind {
	if m.FlatKind == frame.KindUnknown {
		return frame.KindSkyFlat
	}
	return m.FlatKind
}

func (FlatMaker) Prepare(f *frame.Frame) error {
	p := f.Primary()
	inner := p.InnerSection(0.25)
	data := p.Data.Region(inner)
	mask := p.Mask.Region(inner)
	level := stats.SigmaClippedMean1D(data.Pix, 3.5, mask.Pix)
	if level <= 0 {
		return fmt.Errorf("%w: flat level %g", ErrBadNormalization, level)
	}
	for _, c := range f.CCDs {
		scale(c, 1/level)
	}
	f.Meta.Set("FLATLVL", level, "Normalization level of flat")
	logger.With(f.Tags()...).Debug("calculated flat normalization", "level", level)
	return nil
}

func (m FlatMaker) Finish(master *frame.Frame, _ []*frame.Frame) error {
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = 0.2
	}
	low := 0
	for _, c := range master.CCDs {
		for i, v := range c.Data.Pix {
			if v < threshold {
				c.Data.Pix[i] = 1.0
				c.Mask.Pix[i] |= ccd.MaskLowFlat
				low++
			}
		}
	}
	master.Meta.Delete("FLATLVL")
	logger.With(master.Tags()...).Debug("masked low flat pixels", "pixels", low, "threshold", threshold)
	return nil
}
