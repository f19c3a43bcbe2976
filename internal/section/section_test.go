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

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegionKeyword(t *testing.T) {
	s, err := ParseRegionKeyword("[1:2048,3:4096]")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, Section{XStart: 1, XStop: 2048, YStart: 3, YStop: 4096}, *s)
	assert.Equal(t, "[1:2048,3:4096]", s.RegionKeyword())

	flipped, err := ParseRegionKeyword(" [2048:1, 4096:1] ")
	require.NoError(t, err)
	assert.Equal(t, -1, flipped.XSign())
	assert.Equal(t, -1, flipped.YSign())

	for _, sentinel := range []string{"N/A", "UNKNOWN", "unknown", ""} {
		s, err := ParseRegionKeyword(sentinel)
		assert.NoError(t, err, sentinel)
		assert.Nil(t, s, sentinel)
	}

	for _, bad := range []string{"1:2,3:4", "[1:2]", "[a:2,3:4]", "[1:2:3,4:5]"} {
		_, err := ParseRegionKeyword(bad)
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
}

func TestToSlice(t *testing.T) {
	y, x := New(1, 10, 5, 8).ToSlice()
	assert.Equal(t, Slice{Start: 0, Stop: 10, Step: 1, HasStop: true}, x)
	assert.Equal(t, Slice{Start: 4, Stop: 8, Step: 1, HasStop: true}, y)
	assert.Equal(t, 10, x.Len())
	assert.Equal(t, 4, y.Len())

	// reversed down to the first pixel has no stop bound
	y, x = New(10, 1, 8, 3).ToSlice()
	assert.Equal(t, Slice{Start: 9, Step: -1}, x)
	assert.Equal(t, 10, x.Len())
	assert.Equal(t, 0, x.Index(9))
	assert.Equal(t, Slice{Start: 7, Stop: 1, Step: -1, HasStop: true}, y)
	assert.Equal(t, 6, y.Len())
	assert.Equal(t, 2, y.Index(5))
}

func TestOverlap(t *testing.T) {
	o, ok := New(1, 100, 1, 50).Overlap(New(80, 20, 60, 10))
	require.True(t, ok)
	assert.Equal(t, New(20, 80, 10, 50), o)

	_, ok = New(1, 10, 1, 10).Overlap(New(11, 20, 1, 10))
	assert.False(t, ok)
}

func TestParseBinning(t *testing.T) {
	x, y, err := ParseBinning("2 3")
	require.NoError(t, err)
	assert.Equal(t, 2, x)
	assert.Equal(t, 3, y)

	_, _, err = ParseBinning("2")
	assert.Error(t, err)
	_, _, err = ParseBinning("0 1")
	assert.Error(t, err)
}

func TestTransformRoundTrip(t *testing.T) {
	const n = 12
	for b := 1; b <= 3; b++ {
		for _, detFlip := range []bool{false, true} {
			for _, dataFlip := range []bool{false, true} {
				det := New(1, n*b, 1, n*b)
				if detFlip {
					det = New(n*b, 1, n*b, 1)
				}
				data := New(1, n, 1, n)
				if dataFlip {
					data = New(n, 1, n, 1)
				}
				tr := NewTransform(det, data, b, b)
				name := fmt.Sprintf("bin%d_det%v_data%v", b, detFlip, dataFlip)
				t.Run(name, func(t *testing.T) {
					assert.Equal(t, data, tr.DetectorToData(det))
					assert.Equal(t, det, tr.DataToDetector(data))
					for _, sub := range []Section{New(3, 7, 2, 9), New(7, 3, 9, 2), New(5, 5, 1, 1), New(1, n, n, 1)} {
						back := tr.DetectorToData(tr.DataToDetector(sub))
						assert.Equal(t, sub, back, "sub %s via %s", sub, tr.DataToDetector(sub))
					}
				})
			}
		}
	}
}

func TestDataToDetectorCoversBinnedFootprint(t *testing.T) {
	tr := NewTransform(New(1, 200, 1, 100), New(1, 100, 1, 50), 2, 2)
	assert.Equal(t, New(1, 200, 1, 100), tr.DataToDetector(New(1, 100, 1, 50)))
	assert.Equal(t, New(3, 6, 1, 2), tr.DataToDetector(New(2, 3, 1, 1)))

	// the second amplifier of a mosaic reads out right to left
	amp := NewTransform(New(400, 201, 1, 100), New(1, 100, 1, 50), 2, 2)
	assert.Equal(t, New(400, 201, 1, 100), amp.DataToDetector(New(1, 100, 1, 50)))
	assert.Equal(t, New(1, 100, 1, 50), amp.DetectorToData(New(400, 201, 1, 100)))
	assert.Equal(t, New(1, 1, 1, 1), amp.DetectorToData(New(399, 399, 2, 2)))
}
