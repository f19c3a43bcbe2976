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

package internal

import (
	"fmt"
	"image"
	"math"
	"sort"
	"strings"

	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/lucasb-eyer/go-colorful"
)

// Parameters for rendering quick-look previews
type PreviewParams struct {
	// Noise sigmas below and above the median mapped to the ends of the colormap
	Black float64
	White float64
	Gamma float64
	// Output pixels average Bin x Bin input pixels
	Bin      int
	Colormap string
	// Color for masked pixels
	MaskColor string
}

func DefaultPreviewParams() *PreviewParams {
	return &PreviewParams{Black: 2, White: 10, Gamma: 1, Bin: 1, Colormap: "gray", MaskColor: "#ff00ff"}
}

// Print parameters for rendering previews
func (p *PreviewParams) String() string {
	return fmt.Sprintf("black %.2f white %.2f gamma %.2f bin %d colormap %s maskColor %s",
		p.Black, p.White, p.Gamma, p.Bin, p.Colormap, p.MaskColor)
}

var colormaps = map[string][]string{
	"gray":    {"#000000", "#ffffff"},
	"heat":    {"#000000", "#7f0000", "#ff7f00", "#ffff7f", "#ffffff"},
	"viridis": {"#440154", "#3b528b", "#21918c", "#5ec962", "#fde725"},
}

// Names of the built-in colormaps
func ColormapNames() []string {
	names := make([]string, 0, len(colormaps))
	for n := range colormaps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Colors interpolated in HCL space between evenly spaced stops
type Colormap []colorful.Color

func ParseColormap(name string) (Colormap, error) {
	hexes, ok := colormaps[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown colormap %q, have %v", name, ColormapNames())
	}
	m := make(Colormap, len(hexes))
	for i, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			return nil, err
		}
		m[i] = c
	}
	return m, nil
}

// Color at position t in [0,1]
func (m Colormap) At(t float64) colorful.Color {
	if t <= 0 || math.IsNaN(t) {
		return m[0]
	}
	if t >= 1 {
		return m[len(m)-1]
	}
	pos := t * float64(len(m)-1)
	i := int(pos)
	return m[i].BlendHcl(m[i+1], pos-float64(i)).Clamped()
}

// Render the amplifiers of a frame side by side through the colormap, using
// the median and robust noise of all unmasked pixels for the stretch.
func Preview(f *frame.Frame, p *PreviewParams) (*image.RGBA, error) {
	cm, err := ParseColormap(p.Colormap)
	if err != nil {
		return nil, err
	}
	maskColor, err := colorful.Hex(p.MaskColor)
	if err != nil {
		return nil, fmt.Errorf("mask color: %w", err)
	}
	bin := max(p.Bin, 1)
	gamma := p.Gamma
	if gamma <= 0 {
		gamma = 1
	}

	var loc, scale float64
	for i, c := range f.CCDs {
		s := AmpStatsOf(i+1, c, 3)
		loc += s.Median
		scale += s.Noise
	}
	loc /= float64(len(f.CCDs))
	scale /= float64(len(f.CCDs))
	if scale <= 0 {
		scale = 1
	}
	lo, hi := loc-p.Black*scale, loc+p.White*scale

	width, height := 0, 0
	for _, c := range f.CCDs {
		ny, nx := c.Shape()
		width += nx / bin
		height = max(height, ny/bin)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	x0 := 0
	for _, c := range f.CCDs {
		renderAmp(img, x0, c, bin, func(v float64) colorful.Color {
			return cm.At(math.Pow((v-lo)/(hi-lo), 1/gamma))
		}, maskColor)
		_, nx := c.Shape()
		x0 += nx / bin
	}
	return img, nil
}

// Draw one amplifier with its first row at the bottom of the image
func renderAmp(img *image.RGBA, x0 int, c *ccd.CCDData, bin int, colorOf func(float64) colorful.Color, maskColor colorful.Color) {
	ny, nx := c.Shape()
	h := img.Bounds().Dy()
	for by := 0; by < ny/bin; by++ {
		for bx := 0; bx < nx/bin; bx++ {
			sum, n := 0.0, 0
			for y := by * bin; y < (by+1)*bin; y++ {
				for x := bx * bin; x < (bx+1)*bin; x++ {
					if c.Mask != nil && c.Mask.At(y, x) != 0 {
						continue
					}
					sum += c.Data.At(y, x)
					n++
				}
			}
			col := maskColor
			if n > 0 {
				col = colorOf(sum / float64(n))
			}
			img.Set(x0+bx, h-1-by, col)
		}
	}
}
