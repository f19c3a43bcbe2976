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
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInhomogeneous = errors.New("frames differ in grouping attributes")

// A set of frames sharing the same values of the grouping criteria
type Group struct {
	Key    string
	Values map[string]string
	Frames []*Frame
}

// Partition frames by camera, observation type and the given attributes.
// Groups are returned sorted by key, frames keep their input order.
// Frames lacking a criterion attribute are skipped and returned separately.
func GroupBy(frames []*Frame, criteria []string) (groups []*Group, skipped []*Frame) {
	byKey := map[string]*Group{}
	for _, f := range frames {
		values, err := f.Attributes(criteria)
		if err != nil {
			skipped = append(skipped, f)
			continue
		}
		parts := []string{f.Camera(), f.ObsType()}
		for _, c := range criteria {
			parts = append(parts, c+"="+values[c])
		}
		key := strings.Join(parts, "|")
		g, ok := byKey[key]
		if !ok {
			g = &Group{Key: key, Values: values}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.Frames = append(g.Frames, f)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups, skipped
}

// Check that all frames share camera, observation type and the given attributes
func Homogeneous(frames []*Frame, criteria []string) error {
	if len(frames) < 2 {
		return nil
	}
	ref := frames[0]
	want, err := ref.Attributes(criteria)
	if err != nil {
		return err
	}
	for _, f := range frames[1:] {
		if f.Camera() != ref.Camera() {
			return fmt.Errorf("%w: camera %q vs %q", ErrInhomogeneous, f.Camera(), ref.Camera())
		}
		if f.Kind() != ref.Kind() {
			return fmt.Errorf("%w: obstype %s vs %s", ErrInhomogeneous, f.ObsType(), ref.ObsType())
		}
		got, err := f.Attributes(criteria)
		if err != nil {
			return err
		}
		for _, c := range criteria {
			if got[c] != want[c] {
				return fmt.Errorf("%w: %s %q vs %q in %s", ErrInhomogeneous, c, got[c], want[c], f.Filename)
			}
		}
	}
	return nil
}

// File name of the master built from frames like this one:
// site-camera-epoch-kind-binXxY[-filter][-other grouping values].fits
func (f *Frame) MasterFilename() string {
	x, y := f.Binning()
	parts := []string{f.Site(), f.Camera(), f.Epoch(), strings.ToLower(f.ObsType()), fmt.Sprintf("bin%dx%d", x, y)}
	if f.Kind() == KindSkyFlat || f.Kind() == KindLampFlat {
		if filter := f.Filter(); filter != "" {
			parts = append(parts, filter)
		}
	}
	// masters of different configurations must not share a name
	for _, c := range f.GroupingCriteria {
		switch strings.ToLower(c) {
		case "ccdsum", "binning", "filter", "site", "camera", "epoch", "obstype":
			continue
		}
		if v, err := f.Attribute(c); err == nil && v != "" {
			parts = append(parts, filenameSafe.Replace(strings.ToLower(v)))
		}
	}
	return strings.Join(parts, "-") + ".fits"
}

var filenameSafe = strings.NewReplacer(" ", "_", "/", "_", "-", "_", "[", "", "]", "", ",", "")
