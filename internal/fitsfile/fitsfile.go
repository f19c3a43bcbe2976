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

// Package fitsfile reads and writes frames as FITS files. Pixel data lives in
// SCI units, with optional BPM and ERR extensions carrying the mask and the
// uncertainty of the preceding SCI unit.
package fitsfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/header"
)

var ErrNoImage = errors.New("no image data in FITS file")

// Extension names
const (
	SCI = "SCI"
	BPM = "BPM"
	ERR = "ERR"
)

// Keywords owned by the FITS encoder, never copied between headers
var structural = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true, "NAXIS2": true, "NAXIS3": true,
	"EXTEND": true, "XTENSION": true, "PCOUNT": true, "GCOUNT": true, "END": true,
	"BZERO": true, "BSCALE": true,
}

// Read a frame from a FITS file
func Read(path string, o frame.Options) (*frame.Frame, error) {
	meta, ccds, err := ReadUnits(path)
	if err != nil {
		return nil, err
	}
	o.Filename = path
	f, err := frame.Open(meta, ccds, o)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Read the primary header and CCD units of a FITS file without interpreting
// them. The header is nil for single extension files.
func ReadUnits(path string) (*header.Header, []*ccd.CCDData, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()
	meta, ccds, err := DecodeUnits(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return meta, ccds, nil
}

type unit struct {
	meta *header.Header
	data []float64
	mask []float64
	err  []float64
	ny   int
	nx   int
}

// Decode a frame from a FITS stream
func Decode(r io.Reader, o frame.Options) (*frame.Frame, error) {
	meta, ccds, err := DecodeUnits(r)
	if err != nil {
		return nil, err
	}
	return frame.Open(meta, ccds, o)
}

// Decode the primary header and CCD units of a FITS stream
func DecodeUnits(r io.Reader) (*header.Header, []*ccd.CCDData, error) {
	ff, err := fitsio.Open(r)
	if err != nil {
		return nil, nil, err
	}
	defer ff.Close()

	var primary *header.Header
	var units []*unit
	for i, hdu := range ff.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}
		h := ToHeader(hdu.Header())
		axes := hdu.Header().Axes()
		if i == 0 {
			primary = h
		}
		if len(axes) < 2 {
			continue
		}
		pix, err := readPixels(img, h)
		if err != nil {
			return nil, nil, fmt.Errorf("HDU %d: %w", i, err)
		}
		nx, ny := axes[0], axes[1]
		name := strings.ToUpper(h.Str("EXTNAME", ""))
		switch name {
		case BPM, ERR:
			u := owner(units, h.Int("EXTVER", 0))
			if u == nil || u.nx != nx || u.ny != ny {
				return nil, nil, fmt.Errorf("%w: %s extension does not match a SCI unit", ccd.ErrShapeMismatch, name)
			}
			if name == BPM {
				u.mask = pix
			} else {
				u.err = pix
			}
		default:
			units = append(units, &unit{meta: h, data: pix, ny: ny, nx: nx})
		}
	}
	if len(units) == 0 {
		return nil, nil, ErrNoImage
	}

	ccds := make([]*ccd.CCDData, len(units))
	for i, u := range units {
		opts := []ccd.Option{ccd.WithName(SCI)}
		if u.mask != nil {
			m := ccd.NewBuffer[uint8](u.ny, u.nx)
			for j, v := range u.mask {
				m.Pix[j] = uint8(v)
			}
			opts = append(opts, ccd.WithMask(m))
		}
		if u.err != nil {
			opts = append(opts, ccd.WithUncertainty(ccd.WrapBuffer(u.err, u.ny, u.nx)))
		}
		c, err := ccd.New(ccd.WrapBuffer(u.data, u.ny, u.nx), u.meta, opts...)
		if err != nil {
			return nil, nil, err
		}
		ccds[i] = c
	}
	// single extension files keep their header on the pixel unit
	meta := primary
	if units[0].meta == primary {
		meta = nil
	}
	return meta, ccds, nil
}

// SCI unit an extension belongs to, by EXTVER or else the latest one
func owner(units []*unit, extver int) *unit {
	if len(units) == 0 {
		return nil
	}
	if extver > 0 && extver <= len(units) {
		return units[extver-1]
	}
	return units[len(units)-1]
}

func readPixels(img fitsio.Image, h *header.Header) ([]float64, error) {
	var pix []float64
	if err := img.Read(&pix); err != nil {
		return nil, err
	}
	bscale, bzero := h.FloatOr("BSCALE", 1), h.FloatOr("BZERO", 0)
	if bscale != 1 || bzero != 0 {
		for i, v := range pix {
			pix[i] = v*bscale + bzero
		}
	}
	return pix, nil
}

// Convert a FITS header, dropping structural keywords
func ToHeader(fh *fitsio.Header) *header.Header {
	h := header.New()
	for i := range fh.Keys() {
		c := fh.Card(i)
		if c == nil || structural[strings.ToUpper(c.Name)] {
			continue
		}
		switch strings.ToUpper(c.Name) {
		case "HISTORY", "COMMENT":
			text := c.Comment
			if s, ok := c.Value.(string); ok && s != "" {
				text = s
			}
			h.Add(c.Name, text, "")
		default:
			h.Add(c.Name, c.Value, c.Comment)
		}
	}
	return h
}

// Convert a header into FITS cards, dropping structural keywords and
// rendering values as FITS types
func ToCards(h *header.Header) []fitsio.Card {
	out := make([]fitsio.Card, 0, h.Len())
	for _, c := range h.Cards() {
		if structural[c.Key] || c.Key == "" {
			continue
		}
		if c.Key == "HISTORY" || c.Key == "COMMENT" {
			out = append(out, fitsio.Card{Name: c.Key, Comment: fmt.Sprint(c.Value)})
			continue
		}
		out = append(out, fitsio.Card{Name: c.Key, Value: cardValue(c.Value), Comment: c.Comment})
	}
	return out
}

func cardValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return ""
	case string, bool, float64, int:
		return t
	case float32:
		return float64(t)
	case int8:
		return int(t)
	case int16:
		return int(t)
	case int32:
		return int(t)
	case int64:
		return int(t)
	case uint8:
		return int(t)
	case uint16:
		return int(t)
	case uint32:
		return int(t)
	case uint:
		return int(t)
	case time.Time:
		return header.FormatDate(t)
	}
	return fmt.Sprint(v)
}

// Write a frame to a FITS file, replacing any existing file
func Write(path string, f *frame.Frame) error {
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(w, f); err != nil {
		w.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return w.Close()
}

// Encode a frame as FITS. Single extension frames put their data into the
// primary HDU, others write an empty primary followed by one SCI unit per
// amplifier. Each SCI unit is followed by its BPM and ERR extensions.
func Encode(w io.Writer, f *frame.Frame) error {
	ff, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	single := f.NAmps() == 1 && f.Meta == f.Primary().Meta
	if !single {
		p := fitsio.NewImage(8, nil)
		if err := p.Header().Append(ToCards(f.Meta)...); err != nil {
			return err
		}
		if err := ff.Write(p); err != nil {
			return err
		}
	}
	for i, c := range f.CCDs {
		extver := 0
		if !single {
			extver = i + 1
		}
		if err := writeUnit(ff, c, extver); err != nil {
			return fmt.Errorf("amplifier %d: %w", i+1, err)
		}
	}
	return ff.Close()
}

func writeUnit(ff *fitsio.File, c *ccd.CCDData, extver int) error {
	ny, nx := c.Shape()
	axes := []int{nx, ny}
	ext := func(name string) []fitsio.Card {
		cards := []fitsio.Card{{Name: "EXTNAME", Value: name}}
		if extver > 0 {
			cards = append(cards, fitsio.Card{Name: "EXTVER", Value: extver})
		}
		return cards
	}

	sci := fitsio.NewImage(-64, axes)
	cards := ToCards(c.Meta.Without("EXTNAME", "EXTVER"))
	if extver > 0 {
		cards = append(cards, ext(SCI)...)
	}
	if err := sci.Header().Append(cards...); err != nil {
		return err
	}
	if err := sci.Write(c.Data.Pix); err != nil {
		return err
	}
	if err := ff.Write(sci); err != nil {
		return err
	}

	bpm := fitsio.NewImage(8, axes)
	if err := bpm.Header().Append(ext(BPM)...); err != nil {
		return err
	}
	if err := bpm.Write(c.Mask.Pix); err != nil {
		return err
	}
	if err := ff.Write(bpm); err != nil {
		return err
	}

	e := fitsio.NewImage(-64, axes)
	if err := e.Header().Append(ext(ERR)...); err != nil {
		return err
	}
	if err := e.Write(c.Uncertainty.Pix); err != nil {
		return err
	}
	return ff.Write(e)
}
