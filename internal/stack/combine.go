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
	"math"

	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/section"
	"github.com/hoxca/nightcal/internal/stats"
)

// Sigma-clipped mean of equally shaped units along the stack axis.
//
// Values more than sigma robust standard deviations from the per-pixel median,
// or masked on input, are rejected. The result is the mean of the accepted
// values with uncertainty sqrt(sum of accepted variances)/n. Where every value
// is rejected, all values are averaged and the result mask is the OR of the
// input masks; elsewhere the result mask is clear.
func Combine(units []*ccd.CCDData, sigma float64) (*ccd.CCDData, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: nothing to combine", ErrInsufficientFrames)
	}
	ny, nx := units[0].Shape()
	n, size := len(units), ny*nx

	data := make([]float64, n*size)
	mask := make([]uint8, n*size)
	for i, u := range units {
		if !u.Data.SameShape(ny, nx) {
			return nil, fmt.Errorf("%w: unit %d is %dx%d, want %dx%d", ccd.ErrShapeMismatch, i, u.Data.NY, u.Data.NX, ny, nx)
		}
		copy(data[i*size:], u.Data.Pix)
		copy(mask[i*size:], u.Mask.Pix)
	}
	rejected, accepted := stats.ClipMask(stats.NewArray(data, n, size), sigma, 0, mask)

	out := ccd.NewBuffer[float64](ny, nx)
	outMask := ccd.NewBuffer[uint8](ny, nx)
	outErr := ccd.NewBuffer[float64](ny, nx)
	for p := 0; p < size; p++ {
		good := accepted[p]
		useAll := good == 0
		if useAll {
			good = n
		}
		sum, variance := 0.0, 0.0
		var bits uint8
		for k := 0; k < n; k++ {
			idx := k*size + p
			if useAll {
				bits |= mask[idx]
			} else if rejected[idx] {
				continue
			}
			sum += data[idx]
			s := units[k].Uncertainty.Pix[p]
			variance += s * s
		}
		out.Pix[p] = sum / float64(good)
		outErr.Pix[p] = math.Sqrt(variance) / float64(good)
		outMask.Pix[p] = bits
	}
	return ccd.New(out, units[0].Meta.Copy(), ccd.WithMask(outMask), ccd.WithUncertainty(outErr))
}

// Horizontal strips used to bound memory while stacking n frames of ny rows:
// n strips of ny/n rows, plus a final strip with the remainder
func Strips(ny, nx, n int) []section.Section {
	if n < 1 {
		n = 1
	}
	if n > ny {
		n = ny
	}
	step := ny / n
	strips := make([]section.Section, 0, n+1)
	for i := 0; i < n; i++ {
		strips = append(strips, section.New(1, nx, 1+i*step, (i+1)*step))
	}
	if ny%n != 0 {
		strips = append(strips, section.New(1, nx, n*step+1, ny))
	}
	return strips
}

// Cut a strip out of a unit without copying its header
func strip(u *ccd.CCDData, s section.Section) (*ccd.CCDData, error) {
	return ccd.New(u.Data.Region(s), nil, ccd.WithMask(u.Mask.Region(s)), ccd.WithUncertainty(u.Uncertainty.Region(s)))
}

// Combine units strip by strip into dst, which must have the same shape
func combineInto(dst *ccd.CCDData, units []*ccd.CCDData, sigma float64) (int, error) {
	ny, nx := dst.Shape()
	strips := Strips(ny, nx, len(units))
	for _, s := range strips {
		parts := make([]*ccd.CCDData, len(units))
		for i, u := range units {
			if !u.Data.SameShape(ny, nx) {
				return 0, fmt.Errorf("%w: input %d is %dx%d, want %dx%d", ccd.ErrShapeMismatch, i, u.Data.NY, u.Data.NX, ny, nx)
			}
			p, err := strip(u, s)
			if err != nil {
				return 0, err
			}
			parts[i] = p
		}
		combined, err := Combine(parts, sigma)
		if err != nil {
			return 0, err
		}
		if err := dst.Data.SetRegion(s, combined.Data); err != nil {
			return 0, err
		}
		if err := dst.Mask.SetRegion(s, combined.Mask); err != nil {
			return 0, err
		}
		if err := dst.Uncertainty.SetRegion(s, combined.Uncertainty); err != nil {
			return 0, err
		}
	}
	return len(strips), nil
}
