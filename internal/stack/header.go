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
	"fmt"
	"time"

	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/header"
)

// Header of a master built from the given frames. Starts from the first
// frame's header without HISTORY, then records the mean observation time, the
// latest observing night and the names of all inputs.
func MasterHeader(frames []*frame.Frame) *header.Header {
	h := frames[0].Meta.Without("HISTORY")

	h.Set("DATE-OBS", header.FormatDate(MeanDate(frames)), "[UTC] Mean observation start time")
	if epoch := LatestEpoch(frames); epoch != "" {
		h.Set("DAY-OBS", epoch, "[UTC] Date at start of local observing night")
	}
	h.Set("ISMASTER", true, "Is this a master calibration frame")
	h.Set("OBSTYPE", frames[0].ObsType(), "Observation type")

	for i, f := range frames {
		h.Set(fmt.Sprintf("IMCOM%03d", i+1), f.Filename, "Image combined to create master")
	}
	h.Add("HISTORY", "Images combined to create master calibration image:", "")
	for _, f := range frames {
		h.Add("HISTORY", f.Filename, "")
	}
	return h
}

// Mean observation start, computed as offsets from the earliest frame
func MeanDate(frames []*frame.Frame) time.Time {
	if len(frames) == 0 {
		return time.Time{}
	}
	first := frames[0].DateObs()
	for _, f := range frames[1:] {
		if d := f.DateObs(); d.Before(first) {
			first = d
		}
	}
	var total time.Duration
	for _, f := range frames {
		total += f.DateObs().Sub(first)
	}
	return first.Add(total / time.Duration(len(frames)))
}

// Latest observing night among the frames, empty if none is known. Epochs are
// YYYYMMDD so lexical order is date order.
func LatestEpoch(frames []*frame.Frame) string {
	latest := ""
	for _, f := range frames {
		if e := f.Epoch(); e > latest {
			latest = e
		}
	}
	return latest
}
