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

package stats

import (
	"github.com/valyala/fastrand"
)

// Median of the given values, reordering them in place. Returns 0 for an empty slice.
// For an even count the two central values are averaged.
func medianInPlace(a []float64) float64 {
	n := len(a)
	if n == 0 {
		return 0
	}
	hi := QSelect(a, n/2+1)
	if n%2 == 1 {
		return hi
	}
	// after selection all elements left of n/2 are <= hi, find the largest
	lo := a[0]
	for _, v := range a[1 : n/2] {
		if v > lo {
			lo = v
		}
	}
	return 0.5 * (lo + hi)
}

// Select the k-th lowest element (1-based) from a, reordering it partially.
// Pivots are chosen at random.
func QSelect(a []float64, k int) float64 {
	left, right := 0, len(a)-1
	for left < right {
		pivotIndex := left + int(fastrand.Uint32n(uint32(right-left+1)))
		pivotIndex = partition(a, left, right, pivotIndex)
		switch {
		case k-1 == pivotIndex:
			return a[pivotIndex]
		case k-1 < pivotIndex:
			right = pivotIndex - 1
		default:
			left = pivotIndex + 1
		}
	}
	return a[k-1]
}

// Lomuto partition of a[left..right] around the value at pivotIndex
func partition(a []float64, left, right, pivotIndex int) int {
	pivot := a[pivotIndex]
	a[pivotIndex], a[right] = a[right], a[pivotIndex]
	store := left
	for i := left; i < right; i++ {
		if a[i] < pivot {
			a[store], a[i] = a[i], a[store]
			store++
		}
	}
	a[right], a[store] = a[store], a[right]
	return store
}
