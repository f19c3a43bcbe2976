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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hoxca/nightcal/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func bestURL(params url.Values) string {
	return "/api/v1/calibrations/best?" + params.Encode()
}

func TestRouterPing(t *testing.T) {
	e := newTestEnv(t)
	w := serve(e.Router(), http.MethodGet, "/api/v1/ping")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "pong", body["message"])
	assert.Equal(t, e.RunID, body["run"])
}

func TestRouterCalibrations(t *testing.T) {
	e := newTestEnv(t)
	master := buildMasterBias(t, e)
	r := e.Router()

	w := serve(r, http.MethodGet, "/api/v1/calibrations?master=true")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []catalog.CalibrationImage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, master.Filename, recs[0].Filename)

	w = serve(r, http.MethodGet, "/api/v1/calibrations?type=bias&limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/api/v1/calibrations?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/api/v1/calibrations?after=yesterday").Code)

	q := url.Values{
		"site":          {"lsc"},
		"camera":        {"fa03"},
		"type":          {"bias"},
		"dateobs":       {"2024-02-29T05:00:00Z"},
		"attr[ccdsum]": {"1 1"},
	}
	w = serve(r, http.MethodGet, bestURL(q))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var best catalog.CalibrationImage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &best))
	assert.Equal(t, master.Filename, best.Filename)

	q.Set("attr[ccdsum]", "2 2")
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, bestURL(q)).Code)
	q.Set("attr[ccdsum]", "1 1")

	w = serve(r, http.MethodPost, "/api/v1/calibrations/"+master.Filename+"/bad")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, bestURL(q)).Code)

	w = serve(r, http.MethodPost, "/api/v1/calibrations/"+master.Filename+"/good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, bestURL(q)).Code)

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/api/v1/calibrations/nope.fits/bad").Code)
}

func TestRouterBestValidation(t *testing.T) {
	e := newTestEnv(t)
	r := e.Router()

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/api/v1/calibrations/best?site=lsc").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, bestURL(url.Values{
		"site": {"lsc"}, "camera": {"fa03"}, "type": {"science"},
	})).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, bestURL(url.Values{
		"site": {"lsc"}, "camera": {"kb99"}, "type": {"bias"},
	})).Code)
}

func TestRouterMetricsAndProducts(t *testing.T) {
	e := newTestEnv(t)
	master := buildMasterBias(t, e)
	r := e.Router()

	w := serve(r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nightcal_frames_total")
	assert.Contains(t, w.Body.String(), "nightcal_masters_total")

	w = serve(r, http.MethodGet, "/products/"+master.Filename)
	assert.Equal(t, http.StatusOK, w.Code)
}
