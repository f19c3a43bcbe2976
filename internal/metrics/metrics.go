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

// Package metrics exposes reduction and catalog counters to Prometheus
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hoxca/nightcal/internal/calib"
	"github.com/hoxca/nightcal/internal/catalog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame and master outcomes
const (
	OutcomeReduced  = "reduced"
	OutcomeRejected = "rejected"
	OutcomeFlagged  = "flagged"
	OutcomeCreated  = "created"
	OutcomeFailed   = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	stageDuration   *prometheus.HistogramVec
	stageErrors     *prometheus.CounterVec
	framesTotal     *prometheus.CounterVec
	mastersTotal    *prometheus.CounterVec
	selectionsTotal *prometheus.CounterVec

	collectors []prometheus.Collector
}

// Create the metrics and register them with the registry, or a fresh one if nil
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{registry: registry}
	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nightcal_stage_duration_seconds",
			Help:    "Time taken by each reduction stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"stage"},
	)
	m.stageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightcal_stage_errors_total",
			Help: "Total number of frames a reduction stage failed on",
		},
		[]string{"stage"},
	)
	m.framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightcal_frames_total",
			Help: "Total number of frames processed",
		},
		[]string{"obstype", "outcome"}, // outcome: reduced, rejected, flagged
	)
	m.mastersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightcal_masters_total",
			Help: "Total number of master calibrations built",
		},
		[]string{"obstype", "outcome"}, // outcome: created, failed
	)
	m.selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightcal_master_selections_total",
			Help: "Total number of master calibration lookups",
		},
		[]string{"caltype", "result"}, // result: found, missing, error
	)
	m.collectors = []prometheus.Collector{
		m.stageDuration, m.stageErrors, m.framesTotal, m.mastersTotal, m.selectionsTotal,
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTP handler serving the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:      m.registry,
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Record one stage run. Matches calib.Observer.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) RecordFrame(obstype, outcome string) {
	m.framesTotal.WithLabelValues(strings.ToUpper(obstype), outcome).Inc()
}

func (m *Metrics) RecordMaster(obstype, outcome string) {
	m.mastersTotal.WithLabelValues(strings.ToUpper(obstype), outcome).Inc()
}

// Expose the hit and load counts of a master cache
func (m *Metrics) WatchCache(c *catalog.MasterCache) error {
	hits := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "nightcal_master_cache_hits_total",
		Help: "Total number of master frames served from the cache",
	}, func() float64 { h, _ := c.Stats(); return float64(h) })
	loads := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "nightcal_master_cache_loads_total",
		Help: "Total number of master frames loaded from disk",
	}, func() float64 { _, l := c.Stats(); return float64(l) })
	for _, col := range []prometheus.Collector{hits, loads} {
		if err := m.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Selector that counts lookups by calibration type and result
type CountingSelector struct {
	calib.Selector
	Metrics *Metrics
}

func (s CountingSelector) Select(ctx context.Context, q *catalog.Query) (*catalog.CalibrationImage, error) {
	rec, err := s.Selector.Select(ctx, q)
	result := "found"
	switch {
	case err != nil:
		result = "error"
	case rec == nil:
		result = "missing"
	}
	s.Metrics.selectionsTotal.WithLabelValues(strings.ToUpper(q.Type), result).Inc()
	return rec, err
}
