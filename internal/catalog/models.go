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

package catalog

import (
	"path/filepath"
	"time"

	"github.com/hoxca/nightcal/internal/frame"
	"gorm.io/datatypes"
)

// Validity window bounds used when a calibration does not set its own
var (
	DefaultGoodAfter = time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC)
	DefaultGoodUntil = time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Observatory site
type Site struct {
	ID        string  `gorm:"primaryKey;size:15" json:"id" yaml:"id"`
	Timezone  int     `json:"timezone" yaml:"timezone"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Elevation float64 `json:"elevation" yaml:"elevation"`
}

// Camera mounted at a site
type Instrument struct {
	ID     uint   `gorm:"primaryKey" json:"id" yaml:"-"`
	Site   string `gorm:"size:15;not null;uniqueIndex:idx_instrument,priority:1" json:"site" yaml:"site"`
	Camera string `gorm:"size:50;not null;uniqueIndex:idx_instrument,priority:2" json:"camera" yaml:"camera"`
	Type   string `gorm:"size:100" json:"type" yaml:"type"`
	Name   string `gorm:"size:100;not null;uniqueIndex:idx_instrument,priority:3" json:"name" yaml:"name"`
}

// Reference data for frames taken with this instrument
func (i *Instrument) Frame(tz int) *frame.Instrument {
	return &frame.Instrument{ID: i.ID, Site: i.Site, Camera: i.Camera, Type: i.Type, Name: i.Name, Timezone: tz}
}

// One calibration file, individual or master
type CalibrationImage struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	Type         string            `gorm:"size:50;not null;index" json:"type"`
	Filename     string            `gorm:"size:100;not null;uniqueIndex" json:"filename"`
	Filepath     string            `gorm:"size:150" json:"filepath"`
	FrameID      *int64            `json:"frameid,omitempty"`
	DateObs      time.Time         `gorm:"index" json:"dateobs"`
	DateCreated  time.Time         `json:"datecreated"`
	InstrumentID uint              `gorm:"index" json:"instrument_id"`
	Instrument   Instrument        `json:"-"`
	IsMaster     bool              `gorm:"index" json:"is_master"`
	IsBad        bool              `gorm:"index" json:"is_bad"`
	GoodAfter    time.Time         `json:"good_after"`
	GoodUntil    time.Time         `json:"good_until"`
	Attributes   datatypes.JSONMap `json:"attributes"`
}

// Full path of the calibration file
func (c *CalibrationImage) Path() string {
	return filepath.Join(c.Filepath, c.Filename)
}

// Attribute value as a string, empty if absent
func (c *CalibrationImage) Attribute(name string) string {
	if v, ok := c.Attributes[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Catalog record for a frame, with attributes taken from its grouping criteria
func RecordFor(f *frame.Frame) (*CalibrationImage, error) {
	attrs, err := f.Attributes(f.GroupingCriteria)
	if err != nil {
		return nil, err
	}
	m := datatypes.JSONMap{}
	for k, v := range attrs {
		m[k] = v
	}
	rec := &CalibrationImage{
		Type:        f.ObsType(),
		Filename:    f.Filename,
		Filepath:    f.Filepath,
		DateObs:     f.DateObs(),
		DateCreated: f.DateCreated(),
		IsMaster:    f.IsMaster,
		IsBad:       f.IsBad,
		Attributes:  m,
	}
	if f.FrameID != 0 {
		id := f.FrameID
		rec.FrameID = &id
	}
	if f.Instrument != nil {
		rec.InstrumentID = f.Instrument.ID
	}
	return rec, nil
}
