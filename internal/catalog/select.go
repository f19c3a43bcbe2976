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
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/hoxca/nightcal/internal/frame"
	"gorm.io/datatypes"
)

var ErrNoInstrument = errors.New("frame has no catalog instrument")

// What to look for when choosing a master calibration
type Query struct {
	Type         string
	InstrumentID uint
	DateObs      time.Time
	// Attribute values the master must match exactly
	Attributes map[string]string
	// Only consider masters created before the block started
	UseOnlyOlder bool
	BlockStart   time.Time
}

// Query for the master of the given type best suited to calibrate f
func QueryFor(f *frame.Frame, kind string, criteria []string, useOnlyOlder bool) (*Query, error) {
	if f.Instrument == nil || f.Instrument.ID == 0 {
		return nil, ErrNoInstrument
	}
	attrs, err := f.Attributes(criteria)
	if err != nil {
		return nil, err
	}
	q := &Query{
		Type:         kind,
		InstrumentID: f.Instrument.ID,
		DateObs:      f.DateObs(),
		Attributes:   attrs,
		UseOnlyOlder: useOnlyOlder,
	}
	if bs, ok := f.BlockStart(); ok {
		q.BlockStart = bs
	}
	return q, nil
}

// Best master for the query, nil if none matches. Candidates must be good
// masters of the same type and instrument whose validity window covers the
// observation date and whose attributes equal the query's. Among them the one
// observed closest in time wins; ties go to the earlier database id.
func (s *Store) Select(ctx context.Context, q *Query) (*CalibrationImage, error) {
	tx := s.DB.WithContext(ctx).
		Where("type = ? AND instrument_id = ?", strings.ToUpper(q.Type), q.InstrumentID).
		Where("is_master = ? AND is_bad = ?", true, false).
		Where("good_after <= ? AND good_until >= ?", q.DateObs, q.DateObs)

	keys := make([]string, 0, len(q.Attributes))
	for k := range q.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tx = tx.Where(datatypes.JSONQuery("attributes").Equals(q.Attributes[k], k))
	}
	if q.UseOnlyOlder && !q.BlockStart.IsZero() {
		tx = tx.Where("date_created < ?", q.BlockStart)
	}

	var candidates []CalibrationImage
	if err := tx.Order("id").Find(&candidates).Error; err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	best := 0
	for i := 1; i < len(candidates); i++ {
		if distance(candidates[i].DateObs, q.DateObs) < distance(candidates[best].DateObs, q.DateObs) {
			best = i
		}
	}
	return &candidates[best], nil
}

func distance(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
