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
	"fmt"
	"math"

	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/logger"
)

// Header keyword holding the dark current temperature coefficient
const DarkTempCoefKey = "DRKTCOEF"

func matchAmps(sci, master *frame.Frame) error {
	if sci.NAmps() != master.NAmps() {
		return fmt.Errorf("%w: %d amplifiers, master %s has %d", ccd.ErrShapeMismatch, sci.NAmps(), master.Filename, master.NAmps())
	}
	for i := range sci.CCDs {
		ny, nx := sci.CCDs[i].Shape()
		if !master.CCDs[i].Data.SameShape(ny, nx) {
			mny, mnx := master.CCDs[i].Shape()
			return fmt.Errorf("%w: amplifier %d is %dx%d, master %s is %dx%d", ccd.ErrShapeMismatch, i+1, ny, nx, master.Filename, mny, mnx)
		}
	}
	return nil
}

// Subtracts the master bias level and pattern
type BiasSubtractor struct{}

func (BiasSubtractor) Kind() frame.Kind { return frame.KindBias }

func (BiasSubtractor) Apply(sci, master *frame.Frame) error {
	if err := matchAmps(sci, master); err != nil {
		return err
	}
	level, _ := master.BiasLevel()
	for i, c := range sci.CCDs {
		c.SubtractScalar(level)
		if err := c.SubtractInPlace(master.CCDs[i]); err != nil {
			return err
		}
	}
	sci.SetBiasLevel(level)
	sci.Meta.Set("L1IDBIAS", master.Filename, "ID of bias frame")
	sci.Meta.Set("L1STATBI", 1, "Status flag for bias frame correction")
	logger.With(sci.Tags()...).Debug("subtracted bias", "BIASLVL", level, "L1IDBIAS", master.Filename)
	return nil
}

// Subtracts the master dark rate scaled to the exposure time, corrected for
// the CCD temperature difference when both temperatures and a coefficient are known
type DarkSubtractor struct{}

func (DarkSubtractor) Kind() frame.Kind { return frame.KindDark }

// Temperature scaling factor exp(coef * (Tsci - Tmaster)), 1 if unknown
func DarkTemperatureScale(sci, master *frame.Frame) float64 {
	coef, ok := master.Meta.Float(DarkTempCoefKey, 0)
	if !ok {
		return 1
	}
	ts, ok := sci.Temperature()
	if !ok {
		return 1
	}
	tm, ok := master.Temperature()
	if !ok {
		return 1
	}
	return math.Exp(coef * (ts - tm))
}

func (DarkSubtractor) Apply(sci, master *frame.Frame) error {
	if err := matchAmps(sci, master); err != nil {
		return err
	}
	t := DarkTemperatureScale(sci, master)
	scale := sci.ExpTime() * t
	for i, c := range sci.CCDs {
		m := master.CCDs[i]
		for j := range c.Data.Pix {
			c.Data.Pix[j] -= scale * m.Data.Pix[j]
			c.Uncertainty.Pix[j] = math.Hypot(c.Uncertainty.Pix[j], scale*m.Uncertainty.Pix[j])
			c.Mask.Pix[j] |= m.Mask.Pix[j]
		}
	}
	sci.Meta.Set("L1IDDARK", master.Filename, "ID of dark frame")
	sci.Meta.Set("L1STATDA", 1, "Status flag for dark frame correction")
	if t != 1 {
		sci.Meta.Set("DRKTSCAL", t, "Temperature scaling factor applied to dark")
	}
	logger.With(sci.Tags()...).Debug("subtracted dark", "L1IDDARK", master.Filename, "temperature_scale", t)
	return nil
}

// Divides by the normalized master flat
type FlatDivider struct {
	FlatKind frame.Kind
}

func (d FlatDivider) Kind() frame.Kind {
	if d.FlatKind == frame.KindUnknown {
		return frame.KindSkyFlat
	}
	return d.FlatKind
}

func (FlatDivider) Apply(sci, master *frame.Frame) error {
	if err := matchAmps(sci, master); err != nil {
		return err
	}
	for i, c := range sci.CCDs {
		if err := c.DivideInPlace(master.CCDs[i]); err != nil {
			return err
		}
	}
	sci.Meta.Set("L1IDFLAT", master.Filename, "ID of flat frame")
	sci.Meta.Set("L1STATFL", 1, "Status flag for flat field correction")
	logger.With(sci.Tags()...).Debug("divided by flat", "L1IDFLAT", master.Filename)
	return nil
}

// Copies the bad pixel mask of each master amplifier onto the frame. Mask
// files carry their bits in the data array.
type MaskLoader struct{}

func (MaskLoader) Kind() frame.Kind { return frame.KindBPM }

func (MaskLoader) Apply(sci, master *frame.Frame) error {
	if err := matchAmps(sci, master); err != nil {
		return err
	}
	for i, c := range sci.CCDs {
		m := master.CCDs[i]
		for j := range c.Mask.Pix {
			c.Mask.Pix[j] |= m.Mask.Pix[j] | uint8(m.Data.Pix[j])
		}
	}
	sci.Meta.Set("L1IDMASK", master.Filename, "ID of mask file")
	sci.Meta.Set("L1STATBP", 1, "Status flag for bad pixel mask")
	return nil
}

// Replaces the uncertainty of each amplifier by the read noise map, scaled
// for frames made of several sub-exposures
type ReadNoiseLoader struct{}

func (ReadNoiseLoader) Kind() frame.Kind { return frame.KindReadNoise }

func (ReadNoiseLoader) Apply(sci, master *frame.Frame) error {
	if err := matchAmps(sci, master); err != nil {
		return err
	}
	scale := math.Sqrt(float64(max(sci.Meta.Int("NSUBREAD", 1), 1)))
	for i, c := range sci.CCDs {
		m := master.CCDs[i]
		for j := range c.Uncertainty.Pix {
			c.Uncertainty.Pix[j] = m.Data.Pix[j] * scale
		}
	}
	sci.Meta.Set("L1IDRDN", master.Filename, "ID of readnoise map")
	sci.Meta.Set("L1STATRN", 1, "Status flag for readnoise map")
	return nil
}

// Flags a new calibration bad when too many of its pixels deviate from the
// current master. Both frames must be normalized the same way.
type Comparer struct {
	CompareKind frame.Kind
	// Pixels with a difference above this signal to noise count as outliers
	SNRThreshold float64
	// Largest acceptable fraction of outliers
	MaxFraction float64
}

func NewComparer(kind frame.Kind) Comparer {
	return Comparer{CompareKind: kind, SNRThreshold: 6.0, MaxFraction: 0.05}
}

func (c Comparer) Kind() frame.Kind { return c.CompareKind }

// Fraction of pixels whose difference to the master exceeds the threshold
func (c Comparer) OutlierFraction(sci, master *frame.Frame) (float64, error) {
	if err := matchAmps(sci, master); err != nil {
		return 0, err
	}
	outliers, total := 0, 0
	for i, u := range sci.CCDs {
		d, err := u.Subtract(master.CCDs[i])
		if err != nil {
			return 0, err
		}
		for _, v := range d.SignalToNoise().Pix {
			if v >= c.SNRThreshold {
				outliers++
			}
		}
		total += len(d.Data.Pix)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(outliers) / float64(total), nil
}

func (c Comparer) Apply(sci, master *frame.Frame) error {
	fraction, err := c.OutlierFraction(sci, master)
	if err != nil {
		return err
	}
	bad := fraction > c.MaxFraction
	sci.Meta.Set("L1CMPFRC", fraction, "Fraction of pixels deviating from master")
	sci.Meta.Set("L1CMPMST", master.Filename, "Master used for comparison")
	if bad {
		sci.IsBad = true
		logger.With(sci.Tags()...).Error("flagging calibration as bad because it deviates too much from the previous master",
			"fraction", fraction, "snr_threshold", c.SNRThreshold, "pixel_threshold", c.MaxFraction)
	}
	return nil
}
