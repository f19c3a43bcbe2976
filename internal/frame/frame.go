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

// Package frame models one exposure: a primary header plus one CCD unit per
// amplifier, with header fields mapped through an observatory dialect.
package frame

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/header"
	"github.com/hoxca/nightcal/internal/section"
)

var (
	ErrNoData           = errors.New("frame has no pixel data")
	ErrMissingSaturate  = errors.New("saturation level undefined and no default for camera")
	ErrMissingCrosstalk = errors.New("crosstalk coefficients missing from header and defaults")
	ErrUnknownAttribute = errors.New("unknown frame attribute")
)

// Reference data about the instrument that took a frame
type Instrument struct {
	ID       uint
	Site     string
	Camera   string
	Type     string
	Name     string
	Timezone int
}

func (i *Instrument) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s/%s (%s)", i.Site, i.Camera, i.Type)
}

// One exposure. For single-extension files Meta is the header of the only CCD.
type Frame struct {
	Filename string
	Filepath string
	FrameID  int64

	Meta       *header.Header
	CCDs       []*ccd.CCDData
	Instrument *Instrument
	Dialect    Dialect

	IsMaster         bool
	IsBad            bool
	GroupingCriteria []string

	kind Kind
}

// Settings used when opening a frame
type Options struct {
	Filename   string
	Dialect    Dialect
	Instrument *Instrument
	Cameras    *CameraConfig
	// Grouping criteria for calibration kinds
	Criteria map[Kind][]string
	FrameID  int64
}

// Create a frame from a primary header and its CCD units, validating the
// observation type and date, and completing missing geometry, saturation and
// crosstalk keywords.
func Open(meta *header.Header, ccds []*ccd.CCDData, o Options) (*Frame, error) {
	if len(ccds) == 0 {
		return nil, ErrNoData
	}
	if meta == nil {
		meta = ccds[0].Meta
	}
	d := o.Dialect
	if d == nil {
		d = LCO{}
	}
	kind, err := d.ObsType(meta)
	if err != nil {
		return nil, err
	}
	if _, err := d.DateObs(meta); err != nil {
		return nil, fmt.Errorf("DATE-OBS: %w", err)
	}

	f := &Frame{
		Filename:   filepath.Base(o.Filename),
		Filepath:   filepath.Dir(o.Filename),
		FrameID:    o.FrameID,
		Meta:       meta,
		CCDs:       ccds,
		Instrument: o.Instrument,
		Dialect:    d,
		IsMaster:   meta.Bool("ISMASTER", false),
		kind:       kind,
	}
	if o.Filename == "" {
		f.Filename, f.Filepath = "", ""
	}
	if kind.IsCalibration() && o.Criteria != nil {
		f.GroupingCriteria = append([]string(nil), o.Criteria[kind]...)
	}
	if f.Instrument == nil {
		f.Instrument = &Instrument{Site: d.Site(meta), Camera: d.Camera(meta), Name: d.Camera(meta)}
	}

	f.propagatePrimaryKeys()
	f.initDetectorSections()
	if err := f.initSaturate(o.Cameras); err != nil {
		return nil, err
	}
	if err := f.initCrosstalk(o.Cameras); err != nil {
		return nil, err
	}
	return f, nil
}

// Copy keys only present in a separate primary header into the extensions
func (f *Frame) propagatePrimaryKeys() {
	for _, c := range f.CCDs {
		if c.Meta == f.Meta {
			continue
		}
		for _, key := range []string{"RDNOISE", "CCDSUM"} {
			if v, ok := f.Meta.Lookup(key); ok && !c.Meta.Has(key) {
				c.Meta.Set(key, v, f.Meta.Comment(key))
			}
		}
	}
}

// Derive DETSEC from DATASEC and binning where the detector section is unknown
func (f *Frame) initDetectorSections() {
	for _, c := range f.CCDs {
		if c.DetectorSection() != nil || c.DataSection() == nil {
			continue
		}
		ds := c.DataSection()
		bx, by := c.Binning()
		c.SetDetectorSection(section.New(1, max(ds.XStart, ds.XStop)*bx, 1, max(ds.YStart, ds.YStop)*by))
	}
}

func (f *Frame) initSaturate(cfg *CameraConfig) error {
	def, hasDef := 0.0, false
	if f.Instrument != nil {
		def, hasDef = cfg.SaturationFor(f.Instrument.Type)
	}
	missing := false
	for _, c := range f.CCDs {
		if c.Saturate() == 0 && c.Meta != f.Meta {
			if v := f.Meta.FloatOr("SATURATE", 0); v != 0 {
				c.Meta.Set("SATURATE", v, f.Meta.Comment("SATURATE"))
				c.Meta.Set("MAXLIN", f.Meta.FloatOr("MAXLIN", 0), f.Meta.Comment("MAXLIN"))
			}
		}
		if c.Saturate() == 0 && hasDef {
			bx, by := c.Binning()
			v := def * float64(bx*by) / c.Gain()
			c.Meta.Set("SATURATE", v, "[ADU] Saturation level used")
			c.Meta.Set("MAXLIN", v, "[ADU] Non-linearity level")
		}
		if c.Saturate() == 0 {
			missing = true
		}
	}
	if missing && cfg != nil && cfg.RequireSaturate {
		return ErrMissingSaturate
	}
	return nil
}

// Crosstalk keyword for the leak from amplifier i+1 onto amplifier j+1
func CrosstalkKey(i, j int) string {
	return fmt.Sprintf("CRSTLK%d%d", i+1, j+1)
}

func (f *Frame) initCrosstalk(cfg *CameraConfig) error {
	n := len(f.CCDs)
	if n < 2 {
		return nil
	}
	coefficients, err := cfg.CrosstalkFor(f.Camera(), n)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			key := CrosstalkKey(i, j)
			if !f.Meta.Has(key) && coefficients != nil {
				f.Meta.Set(key, coefficients[i][j], fmt.Sprintf("[Crosstalk coefficient] Signal from Q%d onto Q%d", i+1, j+1))
			}
			if !f.Meta.Has(key) {
				return fmt.Errorf("%w: %s for camera %s", ErrMissingCrosstalk, key, f.Camera())
			}
		}
	}
	return nil
}

// Primary CCD unit
func (f *Frame) Primary() *ccd.CCDData {
	return f.CCDs[0]
}

func (f *Frame) NAmps() int {
	return len(f.CCDs)
}

// Shape of the primary CCD unit
func (f *Frame) Shape() (ny, nx int) {
	return f.Primary().Shape()
}

func (f *Frame) Kind() Kind {
	return f.kind
}

func (f *Frame) ObsType() string {
	return f.kind.String()
}

func (f *Frame) DateObs() time.Time {
	t, _ := f.Dialect.DateObs(f.Meta)
	return t
}

// Creation date, or the zero time if unknown
func (f *Frame) DateCreated() time.Time {
	t, _ := f.Dialect.DateCreated(f.Meta)
	return t
}

func (f *Frame) ExpTime() float64 {
	return f.Dialect.ExpTime(f.Meta)
}

func (f *Frame) Filter() string {
	return f.Dialect.Filter(f.Meta)
}

func (f *Frame) Site() string {
	if f.Instrument != nil && f.Instrument.Site != "" {
		return f.Instrument.Site
	}
	return f.Dialect.Site(f.Meta)
}

func (f *Frame) Camera() string {
	return f.Dialect.Camera(f.Meta)
}

// Observing night as YYYYMMDD, empty if it cannot be determined
func (f *Frame) Epoch() string {
	tz := 0
	if f.Instrument != nil {
		tz = f.Instrument.Timezone
	}
	e, err := f.Dialect.Epoch(f.Meta, tz)
	if err != nil {
		return ""
	}
	return e
}

func (f *Frame) BlockStart() (time.Time, bool) {
	return f.Dialect.BlockStart(f.Meta)
}

func (f *Frame) ConfigurationMode() string {
	return f.Dialect.ConfigurationMode(f.Meta)
}

func (f *Frame) Temperature() (float64, bool) {
	return f.Dialect.Temperature(f.Meta)
}

func (f *Frame) RequestNumber() string {
	return f.Dialect.RequestNumber(f.Meta)
}

// CCDSUM of the primary header, falling back to the primary CCD unit
func (f *Frame) CCDSum() string {
	if s := f.Meta.Str("CCDSUM", ""); s != "" {
		return s
	}
	return f.Primary().Meta.Str("CCDSUM", "1 1")
}

// Binning factors of the primary CCD unit
func (f *Frame) Binning() (x, y int) {
	return f.Primary().Binning()
}

// Bias level recorded in the header, if any
func (f *Frame) BiasLevel() (float64, bool) {
	return f.Meta.Float("BIASLVL", 0)
}

func (f *Frame) SetBiasLevel(v float64) {
	f.Meta.Set("BIASLVL", v, "Bias level that was removed after overscan")
}

// String form of an attribute as used for calibration matching. Values are
// rendered the way they are stored in the catalog's JSON attributes.
func (f *Frame) Attribute(name string) (string, error) {
	switch strings.ToLower(name) {
	case "ccdsum":
		return f.CCDSum(), nil
	case "binning":
		x, y := f.Binning()
		return fmt.Sprintf("[%d, %d]", x, y), nil
	case "filter":
		return f.Filter(), nil
	case "configuration_mode":
		return f.ConfigurationMode(), nil
	case "obstype":
		return f.ObsType(), nil
	case "site":
		return f.Site(), nil
	case "camera":
		return f.Camera(), nil
	case "epoch":
		return f.Epoch(), nil
	case "exptime":
		return FormatFloat(f.ExpTime()), nil
	case "request_number":
		return f.RequestNumber(), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
}

// Attribute values for each of the given names
func (f *Frame) Attributes(names []string) (map[string]string, error) {
	m := make(map[string]string, len(names))
	for _, n := range names {
		v, err := f.Attribute(n)
		if err != nil {
			return nil, err
		}
		m[n] = v
	}
	return m, nil
}

// Render floats with a trailing .0 for integral values, e.g. 30.0 or 2.5
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Logging tags identifying the frame
func (f *Frame) Tags() []any {
	inst := ""
	if f.Instrument != nil {
		inst = f.Instrument.Camera
	}
	return []any{"filename", f.Filename, "site", f.Site(), "instrument", inst, "obstype", f.ObsType()}
}

// Full path of the file the frame was read from or will be written to
func (f *Frame) Path() string {
	return filepath.Join(f.Filepath, f.Filename)
}

// Release the pixel buffers of all CCD units
func (f *Frame) Release() {
	for _, c := range f.CCDs {
		c.Release()
	}
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s %s %s %s", f.Filename, f.ObsType(), f.Site(), f.Camera())
}
