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

package frame

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hoxca/nightcal/internal/header"
)

// Observatory-specific mapping from header keywords to frame attributes
type Dialect interface {
	Name() string
	ObsType(h *header.Header) (Kind, error)
	DateObs(h *header.Header) (time.Time, error)
	DateCreated(h *header.Header) (time.Time, error)
	ExpTime(h *header.Header) float64
	Filter(h *header.Header) string
	Site(h *header.Header) string
	Camera(h *header.Header) string
	// Local observing night as YYYYMMDD. tzHours is the site offset from UTC.
	Epoch(h *header.Header, tzHours int) (string, error)
	BlockStart(h *header.Header) (time.Time, bool)
	ConfigurationMode(h *header.Header) string
	// Measured CCD temperature in degrees Celsius, if recorded
	Temperature(h *header.Header) (float64, bool)
	RequestNumber(h *header.Header) string
}

var dialects = map[string]Dialect{}

// Register a dialect under its name
func RegisterDialect(d Dialect) {
	dialects[strings.ToLower(d.Name())] = d
}

// Look up a dialect by name
func DialectFor(name string) (Dialect, error) {
	if d, ok := dialects[strings.ToLower(name)]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("unknown header dialect %q", name)
}

// Names of all registered dialects
func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for n := range dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterDialect(LCO{})
	RegisterDialect(Steward{})
}

// Headers written by the LCO telescope network
type LCO struct{}

func (LCO) Name() string { return "lco" }

func (LCO) ObsType(h *header.Header) (Kind, error) {
	return ParseKind(h.Str("OBSTYPE", ""))
}

func (LCO) DateObs(h *header.Header) (time.Time, error) {
	return h.Time("DATE-OBS")
}

func (LCO) DateCreated(h *header.Header) (time.Time, error) {
	return h.Time("DATE")
}

func (LCO) ExpTime(h *header.Header) float64 {
	return h.FloatOr("EXPTIME", 0.0)
}

func (LCO) Filter(h *header.Header) string {
	return h.Str("FILTER", "")
}

func (LCO) Site(h *header.Header) string {
	return h.Str("SITEID", "")
}

func (LCO) Camera(h *header.Header) string {
	return h.Str("INSTRUME", "")
}

func (LCO) Epoch(h *header.Header, _ int) (string, error) {
	e := h.Str("DAY-OBS", "")
	if e == "" {
		return "", fmt.Errorf("missing DAY-OBS")
	}
	return e, nil
}

func (LCO) BlockStart(h *header.Header) (time.Time, bool) {
	t, err := h.Time("BLKSDATE")
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (LCO) ConfigurationMode(h *header.Header) string {
	mode := h.Str("CONFMODE", "default")
	switch strings.ToLower(mode) {
	case "n/a", "0", "normal":
		return "default"
	}
	return mode
}

func (LCO) Temperature(h *header.Header) (float64, bool) {
	return h.Float("CCDATEMP", 0)
}

func (LCO) RequestNumber(h *header.Header) string {
	return h.Str("REQNUM", "")
}

// Headers written by the Steward Observatory cameras at Kitt Peak
type Steward struct{}

// IMAGETYP values and the observation types they denote
var stewardImageTypes = map[string]Kind{
	"zero":   KindBias,
	"dark":   KindDark,
	"flat":   KindSkyFlat,
	"object": KindExpose,
}

func (Steward) Name() string { return "steward" }

func (Steward) ObsType(h *header.Header) (Kind, error) {
	t := h.Str("IMAGETYP", "")
	if k, ok := stewardImageTypes[strings.ToLower(t)]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("%w: IMAGETYP %q", ErrUnknownKind, t)
}

func (Steward) DateObs(h *header.Header) (time.Time, error) {
	d, t := h.Str("DATE-OBS", ""), h.Str("TIME-OBS", "")
	if strings.Contains(d, "T") || t == "" {
		return h.Time("DATE-OBS")
	}
	return header.ParseDate(d + "T" + t)
}

func (Steward) DateCreated(h *header.Header) (time.Time, error) {
	return h.Time("DATE")
}

func (Steward) ExpTime(h *header.Header) float64 {
	return h.FloatOr("EXPTIME", 0.0)
}

func (Steward) Filter(h *header.Header) string {
	return h.Str("FILTER", "")
}

func (Steward) Site(*header.Header) string {
	return "kpno"
}

func (Steward) Camera(h *header.Header) string {
	inst := h.Str("INSTRUME", "")
	if len(inst) > 3 {
		inst = inst[:3]
	}
	return inst + h.Str("CHIP", "")
}

// The night rolls over at local noon
func (s Steward) Epoch(h *header.Header, tzHours int) (string, error) {
	d, err := s.DateObs(h)
	if err != nil {
		return "", err
	}
	boundary := 12 - tzHours
	if d.Hour() < boundary {
		d = d.AddDate(0, 0, -1)
	}
	return d.Format("20060102"), nil
}

func (Steward) BlockStart(*header.Header) (time.Time, bool) {
	return time.Time{}, false
}

func (Steward) ConfigurationMode(*header.Header) string {
	return "default"
}

func (Steward) Temperature(h *header.Header) (float64, bool) {
	return h.Float("CAMTEMP", 0)
}

func (Steward) RequestNumber(*header.Header) string {
	return ""
}
