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

package fitsfile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/header"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lcoHeader(obstype string) *header.Header {
	return header.FromCards(
		header.Card{Key: "OBSTYPE", Value: obstype, Comment: "Observation type"},
		header.Card{Key: "DATE-OBS", Value: "2024-02-29T03:00:00.000"},
		header.Card{Key: "SITEID", Value: "lsc"},
		header.Card{Key: "INSTRUME", Value: "fa03"},
		header.Card{Key: "EXPTIME", Value: 30.0},
		header.Card{Key: "CCDSUM", Value: "1 1"},
		header.Card{Key: "NSUBREAD", Value: 2},
		header.Card{Key: "HISTORY", Value: "first"},
		header.Card{Key: "HISTORY", Value: "second"},
	)
}

func TestToCards(t *testing.T) {
	h := header.FromCards(
		header.Card{Key: "SIMPLE", Value: true},
		header.Card{Key: "NAXIS", Value: 2},
		header.Card{Key: "GAIN", Value: float32(1.5), Comment: "[e-/ADU]"},
		header.Card{Key: "NAMPS", Value: int64(4)},
		header.Card{Key: "DATE", Value: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		header.Card{Key: "HISTORY", Value: "stacked"},
	)
	cards := ToCards(h)
	require.Len(t, cards, 4)
	assert.Equal(t, "GAIN", cards[0].Name)
	assert.Equal(t, 1.5, cards[0].Value)
	assert.Equal(t, "[e-/ADU]", cards[0].Comment)
	assert.Equal(t, 4, cards[1].Value)
	assert.Equal(t, "2024-03-01T12:00:00.000000", cards[2].Value)
	assert.Equal(t, "HISTORY", cards[3].Name)
	assert.Equal(t, "stacked", cards[3].Comment)
}

func TestSingleExtensionRoundTrip(t *testing.T) {
	data := ccd.NewBuffer[float64](3, 4)
	for i := range data.Pix {
		data.Pix[i] = float64(i) + 0.25
	}
	mask := ccd.NewBuffer[uint8](3, 4)
	mask.Set(1, 2, ccd.MaskBad|ccd.MaskSaturated)
	c, err := ccd.New(data, lcoHeader("BIAS"), ccd.WithMask(mask), ccd.WithUncertainty(ccd.FilledBuffer(3, 4, 2.5)))
	require.NoError(t, err)
	f, err := frame.Open(nil, []*ccd.CCDData{c}, frame.Options{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bias.fits")
	require.NoError(t, Write(path, f))

	g, err := Read(path, frame.Options{})
	require.NoError(t, err)
	assert.Equal(t, "bias.fits", g.Filename)
	assert.Equal(t, frame.KindBias, g.Kind())
	require.Equal(t, 1, g.NAmps())
	assert.Same(t, g.Meta, g.Primary().Meta)
	ny, nx := g.Shape()
	assert.Equal(t, 3, ny)
	assert.Equal(t, 4, nx)
	assert.Equal(t, data.Pix, g.Primary().Data.Pix)
	assert.Equal(t, ccd.MaskBad|ccd.MaskSaturated, g.Primary().Mask.At(1, 2))
	assert.Equal(t, 2.5, g.Primary().Uncertainty.At(2, 3))
	assert.Equal(t, 2, g.Meta.Int("NSUBREAD", 0))
	assert.Equal(t, 30.0, g.ExpTime())
	assert.Len(t, g.Meta.Values("HISTORY"), 2)
}

func TestMultiExtensionRoundTrip(t *testing.T) {
	primary := lcoHeader("EXPOSE")
	primary.Set("CRSTLK12", 0.001, "")
	primary.Set("CRSTLK21", 0.002, "")
	units := make([]*ccd.CCDData, 2)
	for i, det := range []string{"[1:2,1:2]", "[4:3,1:2]"} {
		h := header.FromCards(
			header.Card{Key: "DATASEC", Value: "[1:2,1:2]"},
			header.Card{Key: "DETSEC", Value: det},
			header.Card{Key: "GAIN", Value: 2.0},
		)
		c, err := ccd.New(ccd.FilledBuffer(2, 2, float64(i+1)), h, ccd.WithName(SCI))
		require.NoError(t, err)
		units[i] = c
	}
	f, err := frame.Open(primary, units, frame.Options{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "raw.fits")
	require.NoError(t, Write(path, f))
	g, err := Read(path, frame.Options{})
	require.NoError(t, err)

	require.Equal(t, 2, g.NAmps())
	assert.NotSame(t, g.Meta, g.Primary().Meta)
	assert.Equal(t, 0.002, g.Meta.FloatOr("CRSTLK21", 0))
	assert.Equal(t, 2.0, g.CCDs[1].Data.At(0, 0))
	assert.Equal(t, "[4:3,1:2]", g.CCDs[1].DetectorSection().RegionKeyword())
	assert.Equal(t, 2, g.CCDs[1].Meta.Int("EXTVER", 0))
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.fits"), frame.Options{})
	assert.Error(t, err)
}
