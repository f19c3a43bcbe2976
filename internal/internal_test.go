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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hoxca/nightcal/internal/catalog"
	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/conf"
	"github.com/hoxca/nightcal/internal/fitsfile"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/header"
	"github.com/hoxca/nightcal/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	logger.Init("warn", "text", os.Stderr)
	os.Exit(m.Run())
}

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	s := conf.Default()
	s.Database.DSN = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	s.Processed = filepath.Join(t.TempDir(), "processed")
	s.Server.Static = ""
	s.Cache.TTL = time.Minute
	s.Stack.MinFrames = map[string]int{"bias": 3, "dark": 3, "skyflat": 3}
	s.Policies = map[string]string{
		"bpm":       "ignore",
		"readnoise": "ignore",
		"bias":      "reject",
		"dark":      "ignore",
		"skyflat":   "ignore",
	}
	require.NoError(t, s.Validate())

	store, err := catalog.Open("sqlite", s.Database.DSN)
	require.NoError(t, err)
	sqlDB, err := store.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.AddSite(ctx, &catalog.Site{ID: "lsc", Timezone: -4, Latitude: -30.1674, Longitude: -70.8048, Elevation: 2198}))
	_, err = store.AddInstrument(ctx, &catalog.Instrument{Site: "lsc", Camera: "fa03", Name: "fa03", Type: "1m0-SciCam-Sinistro"})
	require.NoError(t, err)

	e, err := NewEnvWithStore(s, store)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// Write a single extension 4x4 raw frame filled with v
func writeRaw(t *testing.T, dir, name, obstype string, v float64, extra ...header.Card) string {
	t.Helper()
	h := header.FromCards(
		header.Card{Key: "OBSTYPE", Value: obstype},
		header.Card{Key: "DATE-OBS", Value: "2024-02-29T03:00:00.000"},
		header.Card{Key: "DAY-OBS", Value: "20240228"},
		header.Card{Key: "SITEID", Value: "lsc"},
		header.Card{Key: "INSTRUME", Value: "fa03"},
		header.Card{Key: "CCDSUM", Value: "1 1"},
		header.Card{Key: "FILTER", Value: "rp"},
		header.Card{Key: "EXPTIME", Value: 10.0},
		header.Card{Key: "GAIN", Value: 1.0},
		header.Card{Key: "RDNOISE", Value: 5.0},
	)
	for _, c := range extra {
		h.Set(c.Key, c.Value, c.Comment)
	}
	c, err := ccd.New(ccd.FilledBuffer(4, 4, v), h)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	f, err := frame.Open(nil, []*ccd.CCDData{c}, frame.Options{Filename: path})
	require.NoError(t, err)
	require.NoError(t, fitsfile.Write(path, f))
	return path
}

// Reduce and register raw biases, then build a master from the catalog
func buildMasterBias(t *testing.T, e *Env) *catalog.CalibrationImage {
	t.Helper()
	ctx := context.Background()
	raw := t.TempDir()
	var files []string
	for i, v := range []float64{100, 101, 99} {
		files = append(files, writeRaw(t, raw, fmt.Sprintf("lsc1m-fa03-20240228-%04d-b00.fits", i+1), "BIAS", v))
	}
	require.NoError(t, e.CmdReduce(ctx, files, &ReduceParams{Workers: 2, OutDir: e.Settings.Processed, Register: true}))

	recs, err := e.CmdStack(ctx, &StackRequest{
		Site:    "lsc",
		Camera:  "fa03",
		Type:    "bias",
		MinDate: time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC),
		MaxDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

func TestCalibrationLifecycle(t *testing.T) {
	e := newTestEnv(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	master := buildMasterBias(t, e)
	assert.True(t, master.IsMaster)
	assert.Equal(t, "BIAS", master.Type)
	assert.Equal(t, "lsc-fa03-20240228-bias-bin1x1.fits", master.Filename)
	assert.Equal(t, "1 1", master.Attribute("ccdsum"))
	assert.FileExists(t, master.Path())

	individual, err := e.Store.List(ctx, catalog.Filter{Type: "bias"})
	require.NoError(t, err)
	assert.Len(t, individual, 4)

	sci := writeRaw(t, t.TempDir(), "lsc1m-fa03-20240228-0042-e00.fits", "EXPOSE", 500)
	reduced, err := e.ReduceFiles(ctx, []string{sci}, &ReduceParams{Workers: 1, OutDir: e.Settings.Processed})
	require.NoError(t, err)
	require.Len(t, reduced, 1)
	assert.Equal(t, filepath.Join(e.Settings.Processed, "lsc1m-fa03-20240228-0042-e91.fits"), reduced[0].Output)
	assert.False(t, reduced[0].Flagged)

	f, err := fitsfile.Read(reduced[0].Output, frame.Options{})
	require.NoError(t, err)
	assert.InDelta(t, 400.0, f.Primary().Data.At(2, 2), 1e-9)
	assert.Equal(t, master.Filename, f.Meta.Str("L1IDBIAS", ""))
	assert.Equal(t, e.RunID, f.Meta.Str("RUNID", ""))

	hits, loads := e.Cache.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), loads)
}

func TestReduceDropsFailingFrames(t *testing.T) {
	e := newTestEnv(t)
	dir := t.TempDir()
	// no master bias exists, so science frames are rejected
	sci := writeRaw(t, dir, "sci-e00.fits", "EXPOSE", 500)
	bias := writeRaw(t, dir, "bias-b00.fits", "BIAS", 100)
	missing := filepath.Join(dir, "missing.fits")

	reduced, err := e.ReduceFiles(context.Background(), []string{sci, missing, bias}, &ReduceParams{Workers: 2, OutDir: e.Settings.Processed})
	require.NoError(t, err)
	require.Len(t, reduced, 1)
	assert.Equal(t, 2, reduced[0].ID)
	assert.Equal(t, "BIAS", reduced[0].ObsType)
}

func TestReduceCancelled(t *testing.T) {
	e := newTestEnv(t)
	sci := writeRaw(t, t.TempDir(), "sci-e00.fits", "EXPOSE", 500)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.ReduceFiles(ctx, []string{sci}, &ReduceParams{Workers: 1, OutDir: e.Settings.Processed})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStackFromFilesNeedsEnoughFrames(t *testing.T) {
	e := newTestEnv(t)
	dir := t.TempDir()
	files := []string{
		writeRaw(t, dir, "a-b00.fits", "BIAS", 100),
		writeRaw(t, dir, "b-b00.fits", "BIAS", 100),
	}
	recs, err := e.CmdStack(context.Background(), &StackRequest{Files: files})
	assert.Error(t, err)
	assert.Empty(t, recs)
}

func TestStackWithoutInputs(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.CmdStack(context.Background(), &StackRequest{
		Site: "lsc", Camera: "fa03", Type: "dark",
		MinDate: time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, ErrNoInputs)

	_, err = e.CmdStack(context.Background(), &StackRequest{Site: "lsc", Camera: "fa03", Type: "bpm"})
	assert.Error(t, err)
	_, err = e.CmdStack(context.Background(), &StackRequest{Site: "lsc", Camera: "kb99", Type: "bias"})
	assert.ErrorIs(t, err, catalog.ErrInstrumentNotFound)
}

func TestNightWindowForCatalogSite(t *testing.T) {
	e := newTestEnv(t)
	w, err := e.NightWindow(context.Background(), "lsc", "20240228")
	require.NoError(t, err)
	assert.True(t, w.Contains(time.Date(2024, 2, 29, 3, 0, 0, 0, time.UTC)))

	_, err = e.NightWindow(context.Background(), "ogg", "20240228")
	assert.ErrorIs(t, err, catalog.ErrSiteNotFound)
}

func TestCmdMark(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	master := buildMasterBias(t, e)

	require.NoError(t, e.CmdMark(ctx, master.Path(), true))
	rec, err := e.Store.Get(ctx, master.Filename)
	require.NoError(t, err)
	assert.True(t, rec.IsBad)

	require.NoError(t, e.CmdMark(ctx, master.Filename, false))
	rec, err = e.Store.Get(ctx, master.Filename)
	require.NoError(t, err)
	assert.False(t, rec.IsBad)

	assert.ErrorIs(t, e.CmdMark(ctx, "nope.fits", true), catalog.ErrCalibrationNotFound)
}

func TestCmdStats(t *testing.T) {
	e := newTestEnv(t)
	dir := t.TempDir()
	files := []string{
		writeRaw(t, dir, "a.fits", "EXPOSE", 7),
		filepath.Join(dir, "missing.fits"),
	}
	res := e.CmdStats(context.Background(), files)
	require.Len(t, res, 1)
	require.Len(t, res[0].Amps, 1)
	assert.Equal(t, 7.0, res[0].Amps[0].Median)
	assert.Equal(t, 0.0, res[0].Amps[0].Noise)
}
