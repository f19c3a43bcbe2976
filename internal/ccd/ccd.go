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

// Package ccd holds the pixel data of a single CCD amplifier readout together
// with its bad pixel mask, per-pixel uncertainty and header.
package ccd

import (
	"errors"
	"fmt"
	"math"

	"github.com/hoxca/nightcal/internal/header"
	"github.com/hoxca/nightcal/internal/section"
)

var (
	// Array shapes of two operands or of a mask and its data differ
	ErrShapeMismatch = errors.New("shape mismatch")
	// A detector or data section is required but undefined
	ErrMissingSection = errors.New("missing detector or data section")
)

// Bad pixel mask bits
const (
	MaskBad       uint8 = 1
	MaskSaturated uint8 = 2
	MaskLowFlat   uint8 = 4
)

// Pixel data of one amplifier. Mask and uncertainty always match the data shape.
type CCDData struct {
	Name        string
	Data        *Buffer[float64]
	Mask        *Buffer[uint8]
	Uncertainty *Buffer[float64]
	Meta        *header.Header

	detectorSection *section.Section
	dataSection     *section.Section
}

// Construction option
type Option func(*CCDData)

func WithMask(m *Buffer[uint8]) Option {
	return func(c *CCDData) { c.Mask = m }
}

func WithUncertainty(u *Buffer[float64]) Option {
	return func(c *CCDData) { c.Uncertainty = u }
}

func WithName(name string) Option {
	return func(c *CCDData) { c.Name = name }
}

// Create CCD data from pixels and header. Missing masks are all good, missing
// uncertainties default to RDNOISE/GAIN. Sections are parsed from DETSEC and DATASEC.
func New(data *Buffer[float64], meta *header.Header, opts ...Option) (*CCDData, error) {
	if meta == nil {
		meta = header.New()
	}
	c := &CCDData{Data: data, Meta: meta}
	for _, o := range opts {
		o(c)
	}
	if c.Mask == nil {
		c.Mask = NewBuffer[uint8](data.NY, data.NX)
	} else if !c.Mask.SameShape(data.NY, data.NX) {
		return nil, fmt.Errorf("%w: mask %dx%d data %dx%d", ErrShapeMismatch, c.Mask.NY, c.Mask.NX, data.NY, data.NX)
	}
	if c.Uncertainty == nil {
		c.Uncertainty = FilledBuffer(data.NY, data.NX, c.ReadNoise()/c.Gain())
	} else if !c.Uncertainty.SameShape(data.NY, data.NX) {
		return nil, fmt.Errorf("%w: uncertainty %dx%d data %dx%d", ErrShapeMismatch, c.Uncertainty.NY, c.Uncertainty.NX, data.NY, data.NX)
	}

	var err error
	if c.detectorSection, err = section.ParseRegionKeyword(meta.Str("DETSEC", "N/A")); err != nil {
		return nil, fmt.Errorf("DETSEC: %w", err)
	}
	if c.dataSection, err = section.ParseRegionKeyword(meta.Str("DATASEC", "N/A")); err != nil {
		return nil, fmt.Errorf("DATASEC: %w", err)
	}
	return c, nil
}

// Rows and columns
func (c *CCDData) Shape() (ny, nx int) {
	return c.Data.NY, c.Data.NX
}

func (c *CCDData) Gain() float64 {
	return c.Meta.FloatOr("GAIN", 1.0)
}

func (c *CCDData) SetGain(g float64) {
	c.Meta.Set("GAIN", g, "")
}

func (c *CCDData) ReadNoise() float64 {
	return c.Meta.FloatOr("RDNOISE", 0.0)
}

func (c *CCDData) Saturate() float64 {
	return c.Meta.FloatOr("SATURATE", 0.0)
}

func (c *CCDData) MaxLinearity() float64 {
	return c.Meta.FloatOr("MAXLIN", 0.0)
}

// Binning factors from CCDSUM, 1 1 if absent or invalid
func (c *CCDData) Binning() (x, y int) {
	x, y, err := section.ParseBinning(c.Meta.Str("CCDSUM", "1 1"))
	if err != nil {
		return 1, 1
	}
	return x, y
}

func (c *CCDData) SetBinning(x, y int) {
	c.Meta.Set("CCDSUM", fmt.Sprintf("%d %d", x, y), "")
}

// Detector section in unbinned pixels, or nil if unknown
func (c *CCDData) DetectorSection() *section.Section {
	return c.detectorSection
}

func (c *CCDData) SetDetectorSection(s section.Section) {
	c.detectorSection = &s
	c.Meta.Set("DETSEC", s.RegionKeyword(), "")
}

// Data section in binned pixels, or nil if unknown
func (c *CCDData) DataSection() *section.Section {
	return c.dataSection
}

func (c *CCDData) SetDataSection(s section.Section) {
	c.dataSection = &s
	c.Meta.Set("DATASEC", s.RegionKeyword(), "")
}

// Section covering the full pixel array
func (c *CCDData) FullSection() section.Section {
	return section.New(1, c.Data.NX, 1, c.Data.NY)
}

func (c *CCDData) transform() (section.Transform, error) {
	if c.detectorSection == nil || c.dataSection == nil {
		return section.Transform{}, ErrMissingSection
	}
	x, y := c.Binning()
	return section.NewTransform(*c.detectorSection, *c.dataSection, x, y), nil
}

// Map a detector region onto this amplifier's data pixels
func (c *CCDData) DetectorToDataSection(s section.Section) (section.Section, error) {
	t, err := c.transform()
	if err != nil {
		return section.Section{}, err
	}
	return t.DetectorToData(s), nil
}

// Map a data region of this amplifier onto the detector pixels it covers
func (c *CCDData) DataToDetectorSection(s section.Section) (section.Section, error) {
	t, err := c.transform()
	if err != nil {
		return section.Section{}, err
	}
	return t.DataToDetector(s), nil
}

// Intersection of a detector region with this amplifier's detector section
func (c *CCDData) Overlap(detector section.Section) (section.Section, bool, error) {
	if c.detectorSection == nil {
		return section.Section{}, false, ErrMissingSection
	}
	o, ok := c.detectorSection.Overlap(detector)
	return o, ok, nil
}

func (c *CCDData) checkShape(o *CCDData) error {
	if !o.Data.SameShape(c.Data.NY, c.Data.NX) {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, c.Data.NY, c.Data.NX, o.Data.NY, o.Data.NX)
	}
	return nil
}

// Subtract another frame pixel by pixel. Uncertainties add in quadrature, masks are ORed.
func (c *CCDData) SubtractInPlace(o *CCDData) error {
	if err := c.checkShape(o); err != nil {
		return err
	}
	for i := range c.Data.Pix {
		c.Data.Pix[i] -= o.Data.Pix[i]
		c.Uncertainty.Pix[i] = math.Hypot(c.Uncertainty.Pix[i], o.Uncertainty.Pix[i])
		c.Mask.Pix[i] |= o.Mask.Pix[i]
	}
	return nil
}

// Add another frame pixel by pixel. Uncertainties add in quadrature, masks are ORed.
func (c *CCDData) AddInPlace(o *CCDData) error {
	if err := c.checkShape(o); err != nil {
		return err
	}
	for i := range c.Data.Pix {
		c.Data.Pix[i] += o.Data.Pix[i]
		c.Uncertainty.Pix[i] = math.Hypot(c.Uncertainty.Pix[i], o.Uncertainty.Pix[i])
		c.Mask.Pix[i] |= o.Mask.Pix[i]
	}
	return nil
}

// Difference as a new frame, leaving both operands untouched
func (c *CCDData) Subtract(o *CCDData) (*CCDData, error) {
	d := c.Copy()
	if err := d.SubtractInPlace(o); err != nil {
		return nil, err
	}
	return d, nil
}

// Subtract a constant. Uncertainties are unchanged.
func (c *CCDData) SubtractScalar(v float64) {
	for i := range c.Data.Pix {
		c.Data.Pix[i] -= v
	}
}

// Scale data and uncertainty by v, together with the saturation and
// linearity levels. The gain scales inversely.
func (c *CCDData) MultiplyScalar(v float64) {
	for i := range c.Data.Pix {
		c.Data.Pix[i] *= v
		c.Uncertainty.Pix[i] *= math.Abs(v)
	}
	c.Meta.Set("SATURATE", c.Saturate()*v, "")
	c.Meta.Set("MAXLIN", c.MaxLinearity()*v, "")
	c.Meta.Set("GAIN", c.Gain()/v, "")
}

// Scale by 1/v
func (c *CCDData) DivideScalar(v float64) {
	c.MultiplyScalar(1.0 / v)
}

// Multiply by another frame pixel by pixel with first order error propagation
func (c *CCDData) MultiplyInPlace(o *CCDData) error {
	if err := c.checkShape(o); err != nil {
		return err
	}
	for i := range c.Data.Pix {
		a, b := c.Data.Pix[i], o.Data.Pix[i]
		c.Uncertainty.Pix[i] = math.Hypot(b*c.Uncertainty.Pix[i], a*o.Uncertainty.Pix[i])
		c.Data.Pix[i] = a * b
		c.Mask.Pix[i] |= o.Mask.Pix[i]
	}
	return nil
}

// Divide by another frame pixel by pixel. The uncertainty follows
// |a/b| sqrt((sa/a)^2 + (sb/b)^2), evaluated as sqrt(sa^2 + (a/b)^2 sb^2)/|b|
// so that zero-valued numerators stay finite.
func (c *CCDData) DivideInPlace(o *CCDData) error {
	if err := c.checkShape(o); err != nil {
		return err
	}
	for i := range c.Data.Pix {
		a, b := c.Data.Pix[i], o.Data.Pix[i]
		q := a / b
		c.Uncertainty.Pix[i] = math.Hypot(c.Uncertainty.Pix[i], q*o.Uncertainty.Pix[i]) / math.Abs(b)
		c.Data.Pix[i] = q
		c.Mask.Pix[i] |= o.Mask.Pix[i]
	}
	return nil
}

// Absolute signal to noise ratio per pixel
func (c *CCDData) SignalToNoise() *Buffer[float64] {
	snr := NewBuffer[float64](c.Data.NY, c.Data.NX)
	for i, v := range c.Data.Pix {
		snr.Pix[i] = math.Abs(v) / c.Uncertainty.Pix[i]
	}
	return snr
}

// Add Poisson noise of the current signal to the uncertainty
func (c *CCDData) InitPoissonUncertainties() {
	for i, v := range c.Data.Pix {
		u := c.Uncertainty.Pix[i]
		c.Uncertainty.Pix[i] = math.Sqrt(u*u + math.Abs(v))
	}
}

// Central region leaving a margin of width times the size on each side
func (c *CCDData) InnerSection(width float64) section.Section {
	ny, nx := c.Shape()
	my := int(math.Round(float64(ny) * width))
	mx := int(math.Round(float64(nx) * width))
	return section.New(mx+1, nx-mx, my+1, ny-my)
}

// Overscan region from BIASSEC, or nil if undefined
func (c *CCDData) OverscanSection() (*section.Section, error) {
	return section.ParseRegionKeyword(c.Meta.Str("BIASSEC", "N/A"))
}

// Cut out a region given in data coordinates. A nil section uses TRIMSEC.
// The detector section of the result is updated when this amplifier's
// geometry is known, and the data section becomes the full trimmed array.
func (c *CCDData) Trim(s *section.Section) (*CCDData, error) {
	if s == nil {
		var err error
		if s, err = section.ParseRegionKeyword(c.Meta.Str("TRIMSEC", "N/A")); err != nil {
			return nil, fmt.Errorf("TRIMSEC: %w", err)
		}
		if s == nil {
			return nil, fmt.Errorf("%w: TRIMSEC undefined", ErrMissingSection)
		}
	}
	ny, nx := c.Shape()
	if n := s.Normalized(); n.XStart < 1 || n.YStart < 1 || n.XStop > nx || n.YStop > ny {
		return nil, fmt.Errorf("%w: trim section %s outside %dx%d", ErrShapeMismatch, s, ny, nx)
	}

	t := &CCDData{
		Name:        c.Name,
		Data:        c.Data.Region(*s),
		Mask:        c.Mask.Region(*s),
		Uncertainty: c.Uncertainty.Region(*s),
		Meta:        c.Meta.Copy(),
	}
	if det, err := c.DataToDetectorSection(*s); err == nil {
		t.SetDetectorSection(det)
	} else {
		t.detectorSection = c.detectorSection
	}
	t.SetDataSection(t.FullSection())
	return t, nil
}

// Copy the pixels of another amplifier into this one where their detector
// sections overlap. Values are copied, arrays are never shared.
func (c *CCDData) CopyIn(o *CCDData) error {
	ox, oy := o.Binning()
	if x, y := c.Binning(); x != ox || y != oy {
		return fmt.Errorf("%w: binning %dx%d vs %dx%d", ErrShapeMismatch, x, y, ox, oy)
	}
	if o.detectorSection == nil {
		return ErrMissingSection
	}
	overlap, ok, err := c.Overlap(*o.detectorSection)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	theirs, err := o.DetectorToDataSection(overlap)
	if err != nil {
		return err
	}
	src, err := o.Trim(&theirs)
	if err != nil {
		return err
	}
	mine, err := c.DetectorToDataSection(overlap)
	if err != nil {
		return err
	}
	// both regions are traversed in increasing detector order
	if err := c.Data.SetRegion(mine, src.Data); err != nil {
		return err
	}
	if err := c.Mask.SetRegion(mine, src.Mask); err != nil {
		return err
	}
	return c.Uncertainty.SetRegion(mine, src.Uncertainty)
}

// Deep copy of pixels and header
func (c *CCDData) Copy() *CCDData {
	d := &CCDData{
		Name:        c.Name,
		Data:        c.Data.Copy(),
		Mask:        c.Mask.Copy(),
		Uncertainty: c.Uncertainty.Copy(),
		Meta:        c.Meta.Copy(),
	}
	if c.detectorSection != nil {
		s := *c.detectorSection
		d.detectorSection = &s
	}
	if c.dataSection != nil {
		s := *c.dataSection
		d.dataSection = &s
	}
	return d
}

// Release the pixel buffers
func (c *CCDData) Release() {
	c.Data.Release()
	c.Mask.Release()
	c.Uncertainty.Release()
}
