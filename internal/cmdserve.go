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
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/hoxca/nightcal/internal/catalog"
	"github.com/hoxca/nightcal/internal/frame"
)

// HTTP routes for the catalog API, metrics, products and the web frontend
func (e *Env) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// Serve frontend static files
	if e.Settings.Server.Static != "" {
		r.Use(static.Serve("/", static.LocalFile(e.Settings.Server.Static, true)))
	}
	r.Static("/products", e.Settings.Processed)

	r.GET("/metrics", gin.WrapH(e.Metrics.Handler()))

	api := r.Group("/api/v1")
	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong", "run": e.RunID})
	})
	api.GET("/calibrations", e.listCalibrations)
	api.GET("/calibrations/best", e.bestCalibration)
	api.POST("/calibrations/:filename/bad", e.markCalibration(true))
	api.POST("/calibrations/:filename/good", e.markCalibration(false))
	return r
}

// Serve HTTP until the context ends
func (e *Env) CmdServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           e.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		LogPrintf("Serving on port %d\n", port)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func apiError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func (e *Env) listCalibrations(c *gin.Context) {
	f := catalog.Filter{
		Type:       c.Query("type"),
		MasterOnly: c.Query("master") == "true",
		IncludeBad: c.Query("bad") == "true",
	}
	if s := c.Query("instrument"); s != "" {
		id, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			apiError(c, http.StatusBadRequest, fmt.Errorf("instrument: %w", err))
			return
		}
		f.InstrumentID = uint(id)
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			apiError(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", s))
			return
		}
		f.Limit = n
	}
	var err error
	if f.After, err = queryTime(c, "after"); err != nil {
		apiError(c, http.StatusBadRequest, err)
		return
	}
	if f.Before, err = queryTime(c, "before"); err != nil {
		apiError(c, http.StatusBadRequest, err)
		return
	}
	recs, err := e.Store.List(c.Request.Context(), f)
	if err != nil {
		apiError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// Best master for a site, camera, type and observation date. Selection
// attributes are passed as attr[name]=value.
func (e *Env) bestCalibration(c *gin.Context) {
	site, camera, typ := c.Query("site"), c.Query("camera"), c.Query("type")
	if site == "" || camera == "" || typ == "" {
		apiError(c, http.StatusBadRequest, errors.New("site, camera and type are required"))
		return
	}
	kind, err := frame.ParseKind(typ)
	if err != nil {
		apiError(c, http.StatusBadRequest, err)
		return
	}
	dateObs, err := queryTime(c, "dateobs")
	if err != nil {
		apiError(c, http.StatusBadRequest, err)
		return
	}
	if dateObs.IsZero() {
		dateObs = time.Now().UTC()
	}
	ctx := c.Request.Context()
	inst, err := e.Store.FindInstrument(ctx, site, camera, c.Query("name"))
	if errors.Is(err, catalog.ErrInstrumentNotFound) {
		apiError(c, http.StatusNotFound, err)
		return
	} else if err != nil {
		apiError(c, http.StatusInternalServerError, err)
		return
	}
	attrs := map[string]string{}
	for k, v := range c.QueryMap("attr") {
		attrs[strings.ToLower(k)] = v
	}
	rec, err := e.Store.Select(ctx, &catalog.Query{
		Type:         kind.String(),
		InstrumentID: inst.ID,
		DateObs:      dateObs,
		Attributes:   attrs,
	})
	if err != nil {
		apiError(c, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		apiError(c, http.StatusNotFound, catalog.ErrCalibrationNotFound)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (e *Env) markCalibration(bad bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("filename")
		err := e.Store.MarkBad(c.Request.Context(), name, bad)
		if errors.Is(err, catalog.ErrCalibrationNotFound) {
			apiError(c, http.StatusNotFound, err)
			return
		} else if err != nil {
			apiError(c, http.StatusInternalServerError, err)
			return
		}
		e.Cache.Evict(name)
		c.JSON(http.StatusOK, gin.H{"filename": name, "is_bad": bad})
	}
}

// Optional RFC 3339 time from the query string, zero if absent
func queryTime(c *gin.Context, key string) (time.Time, error) {
	s := c.Query(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t.UTC(), nil
}
