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

package catalog

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hoxca/nightcal/internal/frame"
	"github.com/patrickmn/go-cache"
)

// Reads a calibration file from disk
type Loader func(path string) (*frame.Frame, error)

// Keeps recently used master frames in memory, keyed by filename. Cached
// frames are shared between callers and must not be modified.
type MasterCache struct {
	load  Loader
	c     *cache.Cache
	hits  atomic.Int64
	loads atomic.Int64
}

// New cache with entries expiring after ttl. A ttl <= 0 disables expiry.
func NewMasterCache(load Loader, ttl time.Duration) *MasterCache {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := 2 * ttl
	if ttl == cache.NoExpiration {
		cleanup = 0
	}
	return &MasterCache{load: load, c: cache.New(ttl, cleanup)}
}

// Frame for the calibration record, loading it on a miss
func (m *MasterCache) Get(rec *CalibrationImage) (*frame.Frame, error) {
	if v, ok := m.c.Get(rec.Filename); ok {
		m.hits.Add(1)
		return v.(*frame.Frame), nil
	}
	f, err := m.load(rec.Path())
	if err != nil {
		return nil, fmt.Errorf("loading master %s: %w", rec.Filename, err)
	}
	m.loads.Add(1)
	f.IsMaster = true
	f.IsBad = rec.IsBad
	m.c.SetDefault(rec.Filename, f)
	return f, nil
}

// Drop a master, e.g. after it was marked bad
func (m *MasterCache) Evict(filename string) {
	m.c.Delete(filename)
}

func (m *MasterCache) Len() int {
	return m.c.ItemCount()
}

// Cache hits and disk loads so far
func (m *MasterCache) Stats() (hits, loads int64) {
	return m.hits.Load(), m.loads.Load()
}
