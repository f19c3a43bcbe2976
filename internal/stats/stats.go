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

// Package stats provides outlier-robust statistics over masked N-dimensional arrays.
package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Reduce over all elements instead of a single axis
const AxisNone = -1

// Scale factor from median absolute deviation to Gaussian standard deviation
const MADToSigma = 1.4826

// Dense row-major N-dimensional array
type Array struct {
	Data  []float64
	Shape []int
}

// Wrap data with the given shape. Panics if the shape does not match the data length.
func NewArray(data []float64, shape ...int) Array {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n != len(data) {
		panic(fmt.Sprintf("shape %v does not match %d elements", shape, len(data)))
	}
	return Array{Data: data, Shape: shape}
}

// Allocate a zero-filled array
func Zeros(shape ...int) Array {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return Array{Data: make([]float64, n), Shape: append([]int(nil), shape...)}
}

func (a Array) Size() int {
	return len(a.Data)
}

// Element at the given index, for scalars returned by reductions over AxisNone
func (a Array) Scalar() float64 {
	return a.Data[0]
}

// Split the array shape around axis into outer, axis and inner extents.
// For AxisNone the whole array is a single lane.
func (a Array) lanes(axis int) (outer, n, inner int) {
	if axis == AxisNone {
		return 1, len(a.Data), 1
	}
	if axis < 0 || axis >= len(a.Shape) {
		panic(fmt.Sprintf("axis %d out of range for shape %v", axis, a.Shape))
	}
	outer, inner = 1, 1
	for i := 0; i < axis; i++ {
		outer *= a.Shape[i]
	}
	for i := axis + 1; i < len(a.Shape); i++ {
		inner *= a.Shape[i]
	}
	return outer, a.Shape[axis], inner
}

// Shape of the result of reducing along axis
func (a Array) reducedShape(axis int) []int {
	if axis == AxisNone {
		return []int{1}
	}
	out := make([]int, 0, len(a.Shape)-1)
	out = append(out, a.Shape[:axis]...)
	out = append(out, a.Shape[axis+1:]...)
	if len(out) == 0 {
		out = []int{1}
	}
	return out
}

// Median ignoring masked elements. A nil mask means all elements are valid,
// nonzero mask values exclude the corresponding element. Positions where every
// element is masked yield 0.
func Median(a Array, axis int, mask []uint8) Array {
	outer, n, inner := a.lanes(axis)
	res := Zeros(a.reducedShape(axis)...)
	buf := make([]float64, 0, n)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			buf = buf[:0]
			base := o*n*inner + i
			for k := 0; k < n; k++ {
				idx := base + k*inner
				if mask != nil && mask[idx] != 0 {
					continue
				}
				buf = append(buf, a.Data[idx])
			}
			res.Data[o*inner+i] = medianInPlace(buf)
		}
	}
	return res
}

// |a - median(a)| with the median broadcast back along the reduced axis
func AbsoluteDeviation(a Array, axis int, mask []uint8) Array {
	med := Median(a, axis, mask)
	outer, n, inner := a.lanes(axis)
	res := Zeros(a.Shape...)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			m := med.Data[o*inner+i]
			base := o*n*inner + i
			for k := 0; k < n; k++ {
				idx := base + k*inner
				res.Data[idx] = math.Abs(a.Data[idx] - m)
			}
		}
	}
	return res
}

// Median of the absolute deviation. Pass a precomputed absolute deviation to
// avoid recalculating it, or nil.
func MedianAbsoluteDeviation(a Array, axis int, absDev *Array, mask []uint8) Array {
	var dev Array
	if absDev != nil {
		dev = *absDev
	} else {
		dev = AbsoluteDeviation(a, axis, mask)
	}
	return Median(dev, axis, mask)
}

// Robust estimate of the Gaussian standard deviation, 1.4826 times the MAD
func RobustStandardDeviation(a Array, axis int, absDev *Array, mask []uint8) Array {
	mad := MedianAbsoluteDeviation(a, axis, absDev, mask)
	for i := range mad.Data {
		mad.Data[i] *= MADToSigma
	}
	return mad
}

// Rejection mask for values more than sigma robust standard deviations from
// the median, or masked on input. Returns the rejection mask and the number of
// accepted elements per reduced position.
func ClipMask(a Array, sigma float64, axis int, mask []uint8) (rejected []bool, accepted []int) {
	absDev := AbsoluteDeviation(a, axis, mask)
	robustStd := RobustStandardDeviation(a, axis, &absDev, mask)

	outer, n, inner := a.lanes(axis)
	rejected = make([]bool, len(a.Data))
	accepted = make([]int, outer*inner)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			limit := sigma * robustStd.Data[o*inner+i]
			base := o*n*inner + i
			good := 0
			for k := 0; k < n; k++ {
				idx := base + k*inner
				r := absDev.Data[idx] > limit || (mask != nil && mask[idx] != 0)
				rejected[idx] = r
				if !r {
					good++
				}
			}
			accepted[o*inner+i] = good
		}
	}
	return rejected, accepted
}

// Mean after rejecting values more than sigma robust standard deviations from
// the median, and masked values. Positions without accepted values get fillValue.
func SigmaClippedMean(a Array, sigma float64, axis int, mask []uint8, fillValue float64) Array {
	rejected, accepted := ClipMask(a, sigma, axis, mask)
	outer, n, inner := a.lanes(axis)
	res := Zeros(a.reducedShape(axis)...)
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			pos := o*inner + i
			if accepted[pos] == 0 {
				res.Data[pos] = fillValue
				continue
			}
			base := o*n*inner + i
			sum := 0.0
			for k := 0; k < n; k++ {
				idx := base + k*inner
				if !rejected[idx] {
					sum += a.Data[idx]
				}
			}
			res.Data[pos] = sum / float64(accepted[pos])
		}
	}
	return res
}

// Sigma-clipped mean of a flat slice, the common case for global levels
func SigmaClippedMean1D(data []float64, sigma float64, mask []uint8) float64 {
	return SigmaClippedMean(NewArray(data, len(data)), sigma, AxisNone, mask, 0).Scalar()
}

// Median of a flat slice
func Median1D(data []float64, mask []uint8) float64 {
	return Median(NewArray(data, len(data)), AxisNone, mask).Scalar()
}

// Mean of a flat slice
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// Sample standard deviation of a flat slice
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Sum of a flat slice
func Sum(data []float64) float64 {
	return floats.Sum(data)
}
