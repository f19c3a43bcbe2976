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
	"strings"
)

// Observation type of a frame
type Kind int

const (
	KindUnknown Kind = iota
	KindBias
	KindDark
	KindSkyFlat
	KindLampFlat
	KindBPM
	KindReadNoise
	KindExpose
	KindStandard
	KindExperimental
	KindGuide
)

var ErrUnknownKind = errors.New("unknown observation type")

var kindNames = map[Kind]string{
	KindBias:         "BIAS",
	KindDark:         "DARK",
	KindSkyFlat:      "SKYFLAT",
	KindLampFlat:     "LAMPFLAT",
	KindBPM:          "BPM",
	KindReadNoise:    "READNOISE",
	KindExpose:       "EXPOSE",
	KindStandard:     "STANDARD",
	KindExperimental: "EXPERIMENTAL",
	KindGuide:        "GUIDE",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// Parse an observation type, case-insensitively. Unknown types are an error.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindsByName[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "UNKNOWN"
}

// Whether frames of this kind are calibration inputs or products
func (k Kind) IsCalibration() bool {
	switch k {
	case KindBias, KindDark, KindSkyFlat, KindLampFlat, KindBPM, KindReadNoise:
		return true
	}
	return false
}

// Whether masters of this kind are built by stacking individual frames
func (k Kind) IsStacked() bool {
	switch k {
	case KindBias, KindDark, KindSkyFlat, KindLampFlat:
		return true
	}
	return false
}

// All known kinds, in declaration order
func Kinds() []Kind {
	ks := make([]Kind, 0, len(kindNames))
	for k := KindBias; k <= KindGuide; k++ {
		ks = append(ks, k)
	}
	return ks
}
