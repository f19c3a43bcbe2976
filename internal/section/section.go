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

// Package section models rectangular pixel regions in FITS notation and the
// mapping between unbinned detector coordinates and binned data coordinates.
package section

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned for region keywords that are neither a valid
// [x1:x2,y1:y2] string nor one of the sentinel values.
var ErrMalformed = errors.New("malformed region keyword")

// A rectangular pixel region. 1-indexed and inclusive on both ends.
// Start may exceed stop on either axis, which denotes a flipped readout.
type Section struct {
	XStart int
	XStop  int
	YStart int
	YStop  int
}

// Create a section from explicit coordinates
func New(xStart, xStop, yStart, yStop int) Section {
	return Section{XStart: xStart, XStop: xStop, YStart: yStart, YStop: yStop}
}

// Parse a region keyword of the form [x1:x2,y1:y2]. Returns nil without error
// for the sentinels N/A and UNKNOWN, and for empty strings.
func ParseRegionKeyword(s string) (*Section, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "N/A", "UNKNOWN":
		return nil, nil
	}
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	axes := strings.Split(s[1:len(s)-1], ",")
	if len(axes) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	var v [4]int
	for i, axis := range axes {
		ends := strings.Split(axis, ":")
		if len(ends) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		for j, e := range ends {
			n, err := strconv.Atoi(strings.TrimSpace(e))
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrMalformed, s)
			}
			v[2*i+j] = n
		}
	}
	return &Section{XStart: v[0], XStop: v[1], YStart: v[2], YStop: v[3]}, nil
}

// Formats the section as a FITS region keyword, the inverse of ParseRegionKeyword
func (s Section) RegionKeyword() string {
	return fmt.Sprintf("[%d:%d,%d:%d]", s.XStart, s.XStop, s.YStart, s.YStop)
}

func (s Section) String() string {
	return s.RegionKeyword()
}

// Number of rows and columns covered
func (s Section) Shape() (ny, nx int) {
	return abs(s.YStop-s.YStart) + 1, abs(s.XStop-s.XStart) + 1
}

// Orientation of the x axis, +1 when increasing and -1 when flipped
func (s Section) XSign() int {
	return sign(s.XStop - s.XStart)
}

// Orientation of the y axis, +1 when increasing and -1 when flipped
func (s Section) YSign() int {
	return sign(s.YStop - s.YStart)
}

// Returns the same region with start<=stop on both axes
func (s Section) Normalized() Section {
	return Section{
		XStart: min(s.XStart, s.XStop), XStop: max(s.XStart, s.XStop),
		YStart: min(s.YStart, s.YStop), YStop: max(s.YStart, s.YStop),
	}
}

// Intersection with another section. Both are normalized first, so the
// result always has start<=stop. An empty intersection yields ok=false.
func (s Section) Overlap(o Section) (Section, bool) {
	a, b := s.Normalized(), o.Normalized()
	r := Section{
		XStart: max(a.XStart, b.XStart), XStop: min(a.XStop, b.XStop),
		YStart: max(a.YStart, b.YStart), YStop: min(a.YStop, b.YStop),
	}
	return r, r.XStart <= r.XStop && r.YStart <= r.YStop
}

// Converts the section into zero-based row and column slices, honoring flips
func (s Section) ToSlice() (y, x Slice) {
	return newSlice(s.YStart, s.YStop), newSlice(s.XStart, s.XStop)
}

// A zero-based, direction-aware index range. For reversed slices HasStop
// is false when the range runs down to and including index 0.
type Slice struct {
	Start   int
	Stop    int
	Step    int
	HasStop bool
}

func newSlice(start, stop int) Slice {
	if start <= stop {
		return Slice{Start: start - 1, Stop: stop, Step: 1, HasStop: true}
	}
	if stop == 1 {
		return Slice{Start: start - 1, Step: -1}
	}
	return Slice{Start: start - 1, Stop: stop - 2, Step: -1, HasStop: true}
}

// Number of indices covered
func (s Slice) Len() int {
	if s.Step > 0 {
		return s.Stop - s.Start
	}
	if !s.HasStop {
		return s.Start + 1
	}
	return s.Start - s.Stop
}

// The i-th index covered
func (s Slice) Index(i int) int {
	return s.Start + i*s.Step
}

func (s Slice) String() string {
	if !s.HasStop {
		return fmt.Sprintf("%d::%d", s.Start, s.Step)
	}
	return fmt.Sprintf("%d:%d:%d", s.Start, s.Stop, s.Step)
}

// Parse a CCDSUM keyword such as "2 2" into x and y binning factors
func ParseBinning(ccdsum string) (x, y int, err error) {
	fields := strings.Fields(ccdsum)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("invalid binning %q", ccdsum)
	}
	if x, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("invalid binning %q: %w", ccdsum, err)
	}
	if y, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, fmt.Errorf("invalid binning %q: %w", ccdsum, err)
	}
	if x < 1 || y < 1 {
		return 0, 0, fmt.Errorf("invalid binning %q", ccdsum)
	}
	return x, y, nil
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
