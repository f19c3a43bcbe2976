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

package ccd

import (
	"fmt"

	"github.com/hoxca/nightcal/internal/section"
)

// Pixel types a buffer can hold
type Pixel interface {
	~float64 | ~float32 | ~uint8
}

// Row-major 2D pixel buffer. Buffers own their pixels and are never shared
// between frames; region reads return copies.
type Buffer[T Pixel] struct {
	Pix []T
	NY  int
	NX  int
}

// Allocate a zero-filled buffer
func NewBuffer[T Pixel](ny, nx int) *Buffer[T] {
	return &Buffer[T]{Pix: make([]T, ny*nx), NY: ny, NX: nx}
}

// Wrap existing pixels. Panics if the length does not match.
func WrapBuffer[T Pixel](pix []T, ny, nx int) *Buffer[T] {
	if len(pix) != ny*nx {
		panic(fmt.Sprintf("buffer %dx%d does not match %d pixels", ny, nx, len(pix)))
	}
	return &Buffer[T]{Pix: pix, NY: ny, NX: nx}
}

// Buffer of the given shape filled with v
func FilledBuffer[T Pixel](ny, nx int, v T) *Buffer[T] {
	b := NewBuffer[T](ny, nx)
	b.Fill(v)
	return b
}

func (b *Buffer[T]) At(y, x int) T {
	return b.Pix[y*b.NX+x]
}

func (b *Buffer[T]) Set(y, x int, v T) {
	b.Pix[y*b.NX+x] = v
}

func (b *Buffer[T]) Fill(v T) {
	for i := range b.Pix {
		b.Pix[i] = v
	}
}

// Whether two buffers have the same shape
func (b *Buffer[T]) SameShape(ny, nx int) bool {
	return b != nil && b.NY == ny && b.NX == nx
}

// Deep copy
func (b *Buffer[T]) Copy() *Buffer[T] {
	return &Buffer[T]{Pix: append([]T(nil), b.Pix...), NY: b.NY, NX: b.NX}
}

// Copy out the region given in 1-indexed data coordinates, honoring flips
func (b *Buffer[T]) Region(s section.Section) *Buffer[T] {
	ys, xs := s.ToSlice()
	out := NewBuffer[T](ys.Len(), xs.Len())
	for j := 0; j < out.NY; j++ {
		row := ys.Index(j) * b.NX
		for i := 0; i < out.NX; i++ {
			out.Pix[j*out.NX+i] = b.Pix[row+xs.Index(i)]
		}
	}
	return out
}

// Copy src into the region given in 1-indexed data coordinates, honoring flips
func (b *Buffer[T]) SetRegion(s section.Section, src *Buffer[T]) error {
	ys, xs := s.ToSlice()
	if ys.Len() != src.NY || xs.Len() != src.NX {
		return fmt.Errorf("%w: region %s is %dx%d, source is %dx%d", ErrShapeMismatch, s, ys.Len(), xs.Len(), src.NY, src.NX)
	}
	for j := 0; j < src.NY; j++ {
		row := ys.Index(j) * b.NX
		for i := 0; i < src.NX; i++ {
			b.Pix[row+xs.Index(i)] = src.Pix[j*src.NX+i]
		}
	}
	return nil
}

// Drop the pixels. The buffer must not be used afterwards.
func (b *Buffer[T]) Release() {
	if b == nil {
		return
	}
	b.Pix = nil
	b.NY, b.NX = 0, 0
}
