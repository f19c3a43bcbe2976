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

package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hoxca/nightcal/internal/catalog"
	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/header"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSelector struct {
	rec *catalog.CalibrationImage
	err error
}

func (s stubSelector) Select(context.Context, *catalog.Query) (*catalog.CalibrationImage, error) {
	return s.rec, s.err
}

func TestObserveStage(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	m.ObserveStage("bias", 20*time.Millisecond, nil)
	m.ObserveStage("bias", 30*time.Millisecond, errors.New("no master"))
	m.ObserveStage("dark", time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageErrors.WithLabelValues("bias")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stageErrors.WithLabelValues("dark")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stageDuration))
}

func TestRecordFramesAndMasters(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	m.RecordFrame("expose", OutcomeReduced)
	m.RecordFrame("EXPOSE", OutcomeReduced)
	m.RecordFrame("expose", OutcomeRejected)
	m.RecordMaster("bias", OutcomeCreated)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesTotal.WithLabelValues("EXPOSE", OutcomeReduced)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesTotal.WithLabelValues("EXPOSE", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mastersTotal.WithLabelValues("BIAS", OutcomeCreated)))
}

func TestCountingSelector(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	q := &catalog.Query{Type: "bias"}

	found := CountingSelector{Selector: stubSelector{rec: &catalog.CalibrationImage{Filename: "b.fits"}}, Metrics: m}
	rec, err := found.Select(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "b.fits", rec.Filename)

	missing := CountingSelector{Selector: stubSelector{}, Metrics: m}
	_, _ = missing.Select(context.Background(), q)
	_, _ = missing.Select(context.Background(), q)

	broken := CountingSelector{Selector: stubSelector{err: errors.New("db down")}, Metrics: m}
	_, err = broken.Select(context.Background(), q)
	assert.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.selectionsTotal.WithLabelValues("BIAS", "found")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.selectionsTotal.WithLabelValues("BIAS", "missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.selectionsTotal.WithLabelValues("BIAS", "error")))
}

func TestWatchCacheAndHandler(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	load := func(string) (*frame.Frame, error) {
		h := header.FromCards(
			header.Card{Key: "OBSTYPE", Value: "BIAS"},
			header.Card{Key: "DATE-OBS", Value: "2024-02-29T03:00:00"},
		)
		c, err := ccd.New(ccd.FilledBuffer(1, 1, 0.0), h)
		if err != nil {
			return nil, err
		}
		return frame.Open(nil, []*ccd.CCDData{c}, frame.Options{})
	}
	mc := catalog.NewMasterCache(load, time.Minute)
	require.NoError(t, m.WatchCache(mc))
	rec := &catalog.CalibrationImage{Filename: "b.fits", Filepath: "/cal"}
	for i := 0; i < 3; i++ {
		_, err := mc.Get(rec)
		require.NoError(t, err)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "nightcal_master_cache_hits_total 2")
	assert.Contains(t, rr.Body.String(), "nightcal_master_cache_loads_total 1")
}

func TestDuplicateRegistration(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	_, err = New(m.Registry())
	assert.Error(t, err)
}
