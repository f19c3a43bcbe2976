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

package calib

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/hoxca/nightcal/internal/catalog"
	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/header"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInstrument = &frame.Instrument{ID: 7, Site: "lsc", Camera: "fa03", Name: "fa03", Type: "1m0-SciCam-Sinistro"}

func baseHeader(obstype string, extra ...header.Card) *header.Header {
	h := header.FromCards(
		header.Card{Key: "OBSTYPE", Value: obstype},
		header.Card{Key: "DATE-OBS", Value: "2024-02-29T03:00:00.000"},
		header.Card{Key: "DAY-OBS", Value: "20240228"},
		header.Card{Key: "SITEID", Value: "lsc"},
		header.Card{Key: "INSTRUME", Value: "fa03"},
		header.Card{Key: "CCDSUM", Value: "1 1"},
		header.Card{Key: "FILTER", Value: "rp"},
		header.Card{Key: "EXPTIME", Value: 10.0},
	)
	for _, c := range extra {
		h.Set(c.Key, c.Value, c.Comment)
	}
	return h
}

// Single extension frame filled with v and uncertainty u
func single(t *testing.T, obstype, filename string, ny, nx int, v, u float64, extra ...header.Card) *frame.Frame {
	t.Helper()
	c, err := ccd.New(ccd.FilledBuffer(ny, nx, v), baseHeader(obstype, extra...),
		ccd.WithUncertainty(ccd.FilledBuffer(ny, nx, u)))
	require.NoError(t, err)
	f, err := frame.Open(nil, []*ccd.CCDData{c}, frame.Options{Filename: filename, Instrument: testInstrument})
	require.NoError(t, err)
	return f
}

// Two amplifier frame, side by side on the detector. The second amplifier
// is read out in reverse x direction.
func twoAmps(t *testing.T, a, b float64, ampExtra ...header.Card) *frame.Frame {
	t.Helper()
	primary := baseHeader("EXPOSE",
		header.Card{Key: "CRSTLK12", Value: 0.01},
		header.Card{Key: "CRSTLK21", Value: 0.1},
	)
	dets := []string{"[1:4,1:4]", "[8:5,1:4]"}
	units := make([]*ccd.CCDData, 2)
	for i, v := range []float64{a, b} {
		h := header.FromCards(
			header.Card{Key: "CCDSUM", Value: "1 1"},
			header.Card{Key: "DATASEC", Value: "[1:4,1:4]"},
			header.Card{Key: "DETSEC", Value: dets[i]},
			header.Card{Key: "GAIN", Value: float64(i + 2)},
			header.Card{Key: "SATURATE", Value: 1000.0},
		)
		for _, c := range ampExtra {
			h.Set(c.Key, c.Value, c.Comment)
		}
		c, err := ccd.New(ccd.FilledBuffer(4, 4, v), h, ccd.WithName("SCI"))
		require.NoError(t, err)
		units[i] = c
	}
	f, err := frame.Open(primary, units, frame.Options{Filename: "/raw/two.fits", Instrument: testInstrument})
	require.NoError(t, err)
	return f
}

func TestParsePolicy(t *testing.T) {
	for s, want := range map[string]Policy{"ignore": Ignore, "FlagBad": FlagBad, " reject ": Reject} {
		p, err := ParsePolicy(s)
		require.NoError(t, err)
		assert.Equal(t, want, p)
		assert.Equal(t, strings.ToLower(strings.TrimSpace(s)), p.String())
	}
	_, err := ParsePolicy("maybe")
	assert.Error(t, err)
}

func TestBiasSubtractor(t *testing.T) {
	sci := single(t, "EXPOSE", "/raw/sci.fits", 2, 2, 110, 1)
	master := single(t, "BIAS", "/cal/bias.fits", 2, 2, 2, 1, header.Card{Key: "BIASLVL", Value: 100.0})
	master.Primary().Mask.Set(0, 0, ccd.MaskBad)

	require.NoError(t, BiasSubtractor{}.Apply(sci, master))
	c := sci.Primary()
	for i := range c.Data.Pix {
		assert.InDelta(t, 8.0, c.Data.Pix[i], 1e-12)
		assert.InDelta(t, math.Sqrt2, c.Uncertainty.Pix[i], 1e-12)
	}
	assert.Equal(t, ccd.MaskBad, c.Mask.At(0, 0))
	assert.Zero(t, c.Mask.At(1, 1))
	assert.Equal(t, "bias.fits", sci.Meta.Str("L1IDBIAS", ""))
	assert.Equal(t, 1, sci.Meta.Int("L1STATBI", 0))
	assert.Equal(t, 100.0, sci.Meta.FloatOr("BIASLVL", 0))
	// the master is left untouched
	assert.Equal(t, 2.0, master.Primary().Data.At(1, 1))
}

func TestDarkSubtractor(t *testing.T) {
	sci := single(t, "EXPOSE", "/raw/sci.fits", 2, 2, 20, 1)
	master := single(t, "DARK", "/cal/dark.fits", 2, 2, 0.5, 0.1, header.Card{Key: "EXPTIME", Value: 1.0})
	require.NoError(t, DarkSubtractor{}.Apply(sci, master))
	assert.InDelta(t, 15.0, sci.Primary().Data.At(0, 0), 1e-12)
	assert.InDelta(t, math.Sqrt2, sci.Primary().Uncertainty.At(0, 0), 1e-12)
	assert.Equal(t, "dark.fits", sci.Meta.Str("L1IDDARK", ""))
	assert.Equal(t, 1, sci.Meta.Int("L1STATDA", 0))
	assert.False(t, sci.Meta.Has("DRKTSCAL"))
}

func TestDarkSubtractorTemperatureScaling(t *testing.T) {
	sci := single(t, "EXPOSE", "/raw/sci.fits", 2, 2, 20, 1, header.Card{Key: "CCDATEMP", Value: -100.0})
	master := single(t, "DARK", "/cal/dark.fits", 2, 2, 0.5, 0.1,
		header.Card{Key: "CCDATEMP", Value: -102.0},
		header.Card{Key: DarkTempCoefKey, Value: 0.1},
	)
	scale := DarkTemperatureScale(sci, master)
	assert.InDelta(t, math.Exp(0.2), scale, 1e-12)

	require.NoError(t, DarkSubtractor{}.Apply(sci, master))
	assert.InDelta(t, 20-10*scale*0.5, sci.Primary().Data.At(1, 0), 1e-12)
	assert.InDelta(t, scale, sci.Meta.FloatOr("DRKTSCAL", 0), 1e-12)

	// no coefficient, no scaling
	plain := single(t, "DARK", "/cal/dark.fits", 2, 2, 0.5, 0.1, header.Card{Key: "CCDATEMP", Value: -102.0})
	assert.Equal(t, 1.0, DarkTemperatureScale(sci, plain))
}

func TestFlatDivider(t *testing.T) {
	sci := single(t, "EXPOSE", "/raw/sci.fits", 2, 2, 100, 10)
	master := single(t, "SKYFLAT", "/cal/flat.fits", 2, 2, 0.5, 0.01)
	require.NoError(t, FlatDivider{}.Apply(sci, master))
	assert.Equal(t, frame.KindSkyFlat, FlatDivider{}.Kind())
	assert.InDelta(t, 200.0, sci.Primary().Data.At(0, 1), 1e-9)
	want := 200 * math.Sqrt(0.1*0.1+0.02*0.02)
	assert.InDelta(t, want, sci.Primary().Uncertainty.At(0, 1), 1e-9)
	assert.Equal(t, 1, sci.Meta.Int("L1STATFL", 0))
}

func TestMaskLoader(t *testing.T) {
	sci := single(t, "EXPOSE", "/raw/sci.fits", 2, 2, 100, 1)
	bpm := single(t, "BPM", "/cal/bpm.fits", 2, 2, 0, 0)
	bpm.Primary().Data.Set(1, 1, 1)
	require.NoError(t, MaskLoader{}.Apply(sci, bpm))
	assert.Equal(t, ccd.MaskBad, sci.Primary().Mask.At(1, 1))
	assert.Zero(t, sci.Primary().Mask.At(0, 0))
	assert.Equal(t, "bpm.fits", sci.Meta.Str("L1IDMASK", ""))

	other := single(t, "BPM", "/cal/bpm3.fits", 3, 3, 0, 0)
	err := MaskLoader{}.Apply(sci, other)
	assert.ErrorIs(t, err, ccd.ErrShapeMismatch)
	assert.Error(t, MaskLoader{}.Apply(sci, twoAmps(t, 1, 1)))
}

func TestReadNoiseLoader(t *testing.T) {
	sci := single(t, "EXPOSE", "/raw/sci.fits", 2, 2, 100, 1, header.Card{Key: "NSUBREAD", Value: 4})
	rn := single(t, "READNOISE", "/cal/rn.fits", 2, 2, 3, 0)
	require.NoError(t, ReadNoiseLoader{}.Apply(sci, rn))
	assert.Equal(t, 6.0, sci.Primary().Uncertainty.At(0, 0))
	assert.Equal(t, 100.0, sci.Primary().Data.At(0, 0))
	assert.Equal(t, "rn.fits", sci.Meta.Str("L1IDRDN", ""))
}

func TestComparer(t *testing.T) {
	c := NewComparer(frame.KindBias)
	master := single(t, "BIAS", "/cal/bias.fits", 10, 10, 0, 1)

	good := single(t, "BIAS", "/raw/b1.fits", 10, 10, 0, 1)
	require.NoError(t, c.Apply(good, master))
	assert.False(t, good.IsBad)
	assert.Zero(t, good.Meta.FloatOr("L1CMPFRC", -1))

	bad := single(t, "BIAS", "/raw/b2.fits", 10, 10, 0, 1)
	for x := 0; x < 10; x++ {
		bad.Primary().Data.Set(3, x, 100)
	}
	frac, err := c.OutlierFraction(bad, master)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, frac, 1e-12)
	require.NoError(t, c.Apply(bad, master))
	assert.True(t, bad.IsBad)

	few := single(t, "BIAS", "/raw/b3.fits", 10, 10, 0, 1)
	few.Primary().Data.Set(0, 0, 100)
	require.NoError(t, c.Apply(few, master))
	assert.False(t, few.IsBad)
}

type fakeSelector struct {
	masters map[string]*catalog.CalibrationImage
	queries []*catalog.Query
	err     error
}

func (s *fakeSelector) Select(_ context.Context, q *catalog.Query) (*catalog.CalibrationImage, error) {
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	return s.masters[q.Type], nil
}

type fakeLoader map[string]*frame.Frame

func (l fakeLoader) Get(rec *catalog.CalibrationImage) (*frame.Frame, error) {
	f, ok := l[rec.Filename]
	if !ok {
		return nil, errors.New("no such file")
	}
	return f, nil
}

func TestCalibrationStageMissingPolicies(t *testing.T) {
	sel := &fakeSelector{}
	for _, tc := range []struct {
		policy Policy
		bad    bool
		reject bool
	}{
		{Ignore, false, false},
		{FlagBad, true, false},
		{Reject, false, true},
	} {
		t.Run(tc.policy.String(), func(t *testing.T) {
			f := single(t, "EXPOSE", "/raw/sci.fits", 2, 2, 100, 1)
			s := &CalibrationStage{Applier: BiasSubtractor{}, Selector: sel, Loader: fakeLoader{}, Policy: tc.policy, Criteria: []string{"ccdsum"}}
			err := s.Do(context.Background(), f)
			if tc.reject {
				assert.ErrorIs(t, err, ErrRejected)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.bad, f.IsBad)
			assert.Equal(t, 100.0, f.Primary().Data.At(0, 0))
		})
	}
	q := sel.queries[0]
	assert.Equal(t, "BIAS", q.Type)
	assert.Equal(t, uint(7), q.InstrumentID)
	assert.Equal(t, map[string]string{"ccdsum": "1 1"}, q.Attributes)
}

func TestCalibrationStageAppliesSelectedMaster(t *testing.T) {
	master := single(t, "BIAS", "/cal/bias.fits", 2, 2, 2, 0, header.Card{Key: "BIASLVL", Value: 100.0})
	sel := &fakeSelector{masters: map[string]*catalog.CalibrationImage{"BIAS": {Filename: "bias.fits"}}}
	s := &CalibrationStage{Applier: BiasSubtractor{}, Selector: sel, Loader: fakeLoader{"bias.fits": master}, UseOnlyOlder: true}
	assert.Equal(t, "bias", s.Name())

	f := single(t, "EXPOSE", "/raw/sci.fits", 2, 2, 110, 1)
	require.NoError(t, s.Do(context.Background(), f))
	assert.Equal(t, 8.0, f.Primary().Data.At(0, 0))
	assert.True(t, sel.queries[0].UseOnlyOlder)

	// geometry errors reject the frame
	small := single(t, "EXPOSE", "/raw/small.fits", 1, 1, 110, 1)
	err := s.Do(context.Background(), small)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, ccd.ErrShapeMismatch)

	// selector failures are passed on
	sel.err = errors.New("db down")
	assert.Error(t, s.Do(context.Background(), f))
}

func TestSaturationMasker(t *testing.T) {
	f := single(t, "EXPOSE", "/raw/sci.fits", 2, 2, 10, 1, header.Card{Key: "SATURATE", Value: 50.0})
	f.Primary().Data.Set(0, 1, 50)
	f.Primary().Data.Set(1, 1, 70)
	require.NoError(t, SaturationMasker{}.Do(context.Background(), f))
	m := f.Primary().Mask
	assert.Equal(t, []uint8{0, ccd.MaskSaturated, 0, ccd.MaskSaturated}, m.Pix)
}

func TestOverscanSubtractor(t *testing.T) {
	f := single(t, "EXPOSE", "/raw/sci.fits", 4, 6, 110, 1,
		header.Card{Key: "BIASSEC", Value: "[5:6,1:4]"},
		header.Card{Key: "DATASEC", Value: "[1:4,1:4]"},
	)
	c := f.Primary()
	for y := 0; y < 4; y++ {
		c.Data.Set(y, 4, 10)
		c.Data.Set(y, 5, 10)
	}
	require.NoError(t, OverscanSubtractor{}.Do(context.Background(), f))
	assert.InDelta(t, 100.0, c.Data.At(2, 2), 1e-12)
	assert.InDelta(t, 0.0, c.Data.At(2, 5), 1e-12)
	assert.Equal(t, 10.0, f.Meta.FloatOr("OVERSCAN", 0))
	assert.Equal(t, 1, f.Meta.Int("L1STATOV", -1))

	plain := single(t, "EXPOSE", "/raw/plain.fits", 2, 2, 110, 1)
	require.NoError(t, OverscanSubtractor{}.Do(context.Background(), plain))
	assert.Equal(t, 110.0, plain.Primary().Data.At(0, 0))
	assert.Equal(t, 0, plain.Meta.Int("L1STATOV", -1))
}

func TestCrosstalkCorrector(t *testing.T) {
	f := twoAmps(t, 100, 10)
	require.NoError(t, CrosstalkCorrector{}.Do(context.Background(), f))
	assert.InDelta(t, 99.0, f.CCDs[0].Data.At(0, 0), 1e-12)
	assert.InDelta(t, 9.0, f.CCDs[1].Data.At(3, 3), 1e-12)

	f.Meta.Delete("CRSTLK21")
	err := CrosstalkCorrector{}.Do(context.Background(), f)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, frame.ErrMissingCrosstalk)
}

func TestGainNormalizer(t *testing.T) {
	f := twoAmps(t, 10, 10)
	require.NoError(t, GainNormalizer{}.Do(context.Background(), f))
	assert.Equal(t, 20.0, f.CCDs[0].Data.At(0, 0))
	assert.Equal(t, 30.0, f.CCDs[1].Data.At(0, 0))
	assert.Equal(t, 1.0, f.CCDs[1].Gain())
	assert.Equal(t, 2000.0, f.CCDs[0].Saturate())
	assert.Equal(t, 3000.0, f.CCDs[1].Saturate())
	assert.Equal(t, 2000.0, f.Meta.FloatOr("SATURATE", 0))

	f.CCDs[1].Meta.Delete("GAIN")
	assert.ErrorIs(t, GainNormalizer{}.Do(context.Background(), f), ErrRejected)
}

func TestMosaicCreator(t *testing.T) {
	f := twoAmps(t, 1, 0)
	amp2 := f.CCDs[1]
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			amp2.Data.Set(y, x, float64(10+x))
		}
	}
	amp2.Mask.Set(0, 0, ccd.MaskBad)

	ext, err := DetectorExtent(f)
	require.NoError(t, err)
	assert.Equal(t, "[1:8,1:4]", ext.RegionKeyword())

	require.NoError(t, MosaicCreator{}.Do(context.Background(), f))
	require.Equal(t, 1, f.NAmps())
	m := f.Primary()
	ny, nx := m.Shape()
	assert.Equal(t, 4, ny)
	assert.Equal(t, 8, nx)
	assert.Same(t, f.Meta, m.Meta)
	assert.Equal(t, "[1:8,1:4]", f.Meta.Str("DATASEC", ""))
	assert.Equal(t, 1.0, m.Data.At(2, 3))
	assert.Equal(t, 13.0, m.Data.At(2, 4))
	assert.Equal(t, 10.0, m.Data.At(2, 7))
	assert.Equal(t, ccd.MaskBad, m.Mask.At(0, 7))

	// single amplifier frames pass through
	s := single(t, "EXPOSE", "/raw/sci.fits", 2, 2, 1, 1)
	require.NoError(t, MosaicCreator{}.Do(context.Background(), s))
	assert.Equal(t, 1, s.NAmps())
}

func TestTrimmer(t *testing.T) {
	f := single(t, "EXPOSE", "/raw/sci.fits", 4, 4, 0, 1,
		header.Card{Key: "TRIMSEC", Value: "[2:3,1:4]"},
		header.Card{Key: "DATASEC", Value: "[1:4,1:4]"},
	)
	for x := 0; x < 4; x++ {
		f.Primary().Data.Set(0, x, float64(x))
	}
	require.NoError(t, Trimmer{}.Do(context.Background(), f))
	ny, nx := f.Primary().Shape()
	assert.Equal(t, 4, ny)
	assert.Equal(t, 2, nx)
	assert.Equal(t, []float64{1, 2}, f.Primary().Data.Pix[:2])
	assert.Same(t, f.Meta, f.Primary().Meta)
	assert.Equal(t, 1, f.Meta.Int("L1STATTR", -1))
	assert.False(t, f.Meta.Has("TRIMSEC"))
}

func TestTrimToFullDataSectionIsNoop(t *testing.T) {
	f := single(t, "EXPOSE", "/raw/sci.fits", 3, 3, 5, 1, header.Card{Key: "DATASEC", Value: "[1:3,1:3]"})
	before := append([]float64(nil), f.Primary().Data.Pix...)
	require.NoError(t, Trimmer{}.Do(context.Background(), f))
	assert.Equal(t, before, f.Primary().Data.Pix)
	assert.Equal(t, 0, f.Meta.Int("L1STATTR", -1))
}

func TestStagesFor(t *testing.T) {
	p := NewPipeline(Options{Selector: &fakeSelector{}, Loader: fakeLoader{}})
	assert.Equal(t, []string{"bpm", "saturation", "overscan", "crosstalk", "gain", "mosaic", "trim",
		"readnoise", "bias", "dark", "skyflat"}, p.Names(frame.KindExpose))
	assert.Equal(t, []string{"bpm", "saturation", "overscan", "crosstalk", "gain", "mosaic", "trim",
		"readnoise"}, p.Names(frame.KindBias))
	assert.Equal(t, "bias", p.Names(frame.KindDark)[len(p.Names(frame.KindDark))-1])
	assert.Equal(t, "dark", p.Names(frame.KindSkyFlat)[len(p.Names(frame.KindSkyFlat))-1])

	withCompare := NewPipeline(Options{Compare: true})
	names := withCompare.Names(frame.KindBias)
	assert.Equal(t, []string{"biaslevel", "biascompare"}, names[len(names)-2:])
}

func TestPipelineRun(t *testing.T) {
	masters := fakeLoader{
		"bpm.fits":  single(t, "BPM", "/cal/bpm.fits", 4, 4, 0, 0),
		"rn.fits":   single(t, "READNOISE", "/cal/rn.fits", 4, 4, 2, 0),
		"bias.fits": single(t, "BIAS", "/cal/bias.fits", 4, 4, 0, 0.5, header.Card{Key: "BIASLVL", Value: 100.0}),
		"dark.fits": single(t, "DARK", "/cal/dark.fits", 4, 4, 1, 0.1),
		"flat.fits": single(t, "SKYFLAT", "/cal/flat.fits", 4, 4, 0.5, 0.01),
	}
	sel := &fakeSelector{masters: map[string]*catalog.CalibrationImage{
		"BPM":       {Filename: "bpm.fits"},
		"READNOISE": {Filename: "rn.fits"},
		"BIAS":      {Filename: "bias.fits"},
		"DARK":      {Filename: "dark.fits"},
		"SKYFLAT":   {Filename: "flat.fits"},
	}}
	var observed []string
	p := NewPipeline(Options{
		Selector: sel,
		Loader:   masters,
		Policies: DefaultPolicies(),
		Criteria: map[frame.Kind][]string{frame.KindSkyFlat: {"ccdsum", "filter"}},
		Observer: func(stage string, _ time.Duration, _ error) { observed = append(observed, stage) },
	})

	sci := single(t, "EXPOSE", "/raw/sci.fits", 4, 4, 1000, 1, header.Card{Key: "GAIN", Value: 1.0})
	require.NoError(t, p.Run(context.Background(), sci))
	assert.Len(t, observed, 11)
	c := sci.Primary()
	for i := range c.Data.Pix {
		assert.InDelta(t, (1000.0-100-0-10)/0.5, c.Data.Pix[i], 1e-9)
		u := c.Uncertainty.Pix[i]
		assert.False(t, math.IsNaN(u))
		assert.Greater(t, u, 0.0)
	}
	for _, key := range []string{"L1IDMASK", "L1IDRDN", "L1IDBIAS", "L1IDDARK", "L1IDFLAT", "L1STATOV", "L1STATTR"} {
		assert.True(t, sci.Meta.Has(key), key)
	}
	skyflatQuery := sel.queries[len(sel.queries)-1]
	assert.Equal(t, map[string]string{"ccdsum": "1 1", "filter": "rp"}, skyflatQuery.Attributes)
}

func TestRunAllDropsFailingFrames(t *testing.T) {
	sel := &fakeSelector{masters: map[string]*catalog.CalibrationImage{}}
	p := NewPipeline(Options{Selector: sel, Loader: fakeLoader{}, Policies: map[frame.Kind]Policy{
		frame.KindBPM:       Ignore,
		frame.KindReadNoise: Ignore,
		frame.KindBias:      Ignore,
		frame.KindDark:      Ignore,
		frame.KindSkyFlat:   Reject,
	}})
	// bias frames stop before the flat stage and survive
	bias := single(t, "BIAS", "/raw/bias.fits", 2, 2, 100, 1, header.Card{Key: "GAIN", Value: 1.0})
	sci := single(t, "EXPOSE", "/raw/sci.fits", 2, 2, 100, 1, header.Card{Key: "GAIN", Value: 1.0})
	noGain := single(t, "EXPOSE", "/raw/nogain.fits", 2, 2, 100, 1)

	kept, err := p.RunAll(context.Background(), []*frame.Frame{sci, bias, noGain})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	require.Len(t, kept, 1)
	assert.Same(t, bias, kept[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	kept, err = p.RunAll(ctx, []*frame.Frame{bias})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, kept)
}
