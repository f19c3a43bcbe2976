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

package section

import "fmt"

// Affine map between the detector section and the data section of one
// amplifier. The matrix is diagonal with entries +-1/binning, the sign
// being negative on an axis where detector and data run in opposite directions.
type Transform struct {
	Detector Section
	Data     Section
	XBin     int
	YBin     int
}

// Build a transform, defaulting zero binning factors to 1
func NewTransform(detector, data Section, xBin, yBin int) Transform {
	if xBin < 1 {
		xBin = 1
	}
	if yBin < 1 {
		yBin = 1
	}
	return Transform{Detector: detector, Data: data, XBin: xBin, YBin: yBin}
}

func (t Transform) String() string {
	return fmt.Sprintf("detsec %s datasec %s binning %d %d", t.Detector, t.Data, t.XBin, t.YBin)
}

// Maps a region given in unbinned detector pixels onto binned data pixels
func (t Transform) DetectorToData(s Section) Section {
	xs := t.Detector.XSign() * t.Data.XSign()
	ys := t.Detector.YSign() * t.Data.YSign()
	return Section{
		XStart: toData(s.XStart, t.Detector.XStart, t.Data.XStart, xs, t.XBin),
		XStop:  toData(s.XStop, t.Detector.XStart, t.Data.XStart, xs, t.XBin),
		YStart: toData(s.YStart, t.Detector.YStart, t.Data.YStart, ys, t.YBin),
		YStop:  toData(s.YStop, t.Detector.YStart, t.Data.YStart, ys, t.YBin),
	}
}

// Maps a region given in binned data pixels onto the unbinned detector pixels it covers
func (t Transform) DataToDetector(s Section) Section {
	xs := t.Detector.XSign() * t.Data.XSign()
	ys := t.Detector.YSign() * t.Data.YSign()
	xStart, xStop := toDetector(s.XStart, s.XStop, t.Data.XStart, t.Detector.XStart, xs, t.XBin, t.Detector.XSign())
	yStart, yStop := toDetector(s.YStart, s.YStop, t.Data.YStart, t.Detector.YStart, ys, t.YBin, t.Detector.YSign())
	return Section{XStart: xStart, XStop: xStop, YStart: yStart, YStop: yStop}
}

// The offset from the detector origin is divided before the sign is applied,
// so the quotient truncates towards the origin regardless of orientation.
func toData(v, detOrigin, dataOrigin, sign, bin int) int {
	return sign*((v-detOrigin)/bin) + dataOrigin
}

// A binned pixel covers bin detector pixels, extending from its base pixel
// along the detector readout direction. The region is widened by bin-1 at
// whichever end lies in that direction, which is the stop pixel unless the
// region runs against the readout.
func toDetector(start, stop, dataOrigin, detOrigin, sign, bin, detSign int) (int, int) {
	s := sign*(start-dataOrigin)*bin + detOrigin
	e := sign*(stop-dataOrigin)*bin + detOrigin
	dir := detSign
	if e != s {
		dir = 1
		if e < s {
			dir = -1
		}
	}
	if dir == detSign {
		return s, e + dir*(bin-1)
	}
	return s + detSign*(bin-1), e
}
