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

// Package calib applies master calibrations and detector corrections to
// frames, one stage at a time.
package calib

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hoxca/nightcal/internal/catalog"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/logger"
)

// Wrapped by every error that removes a frame from further processing
var ErrRejected = errors.New("frame rejected")

// What to do with a frame when no master calibration matches
type Policy int

const (
	// Continue without the calibration
	Ignore Policy = iota
	// Continue, but mark the frame bad
	FlagBad
	// Stop processing the frame
	Reject
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore":
		return Ignore, nil
	case "flagbad", "flag_bad", "flag":
		return FlagBad, nil
	case "reject":
		return Reject, nil
	}
	return Ignore, fmt.Errorf("unknown missing calibration policy %q", s)
}

func (p Policy) String() string {
	switch p {
	case Ignore:
		return "ignore"
	case FlagBad:
		return "flagbad"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// One processing step on a frame. Returning an error wrapping ErrRejected
// drops the frame, other errors are treated the same way by the pipeline.
type Stage interface {
	Name() string
	Do(ctx context.Context, f *frame.Frame) error
}

// Applies a master calibration to a science frame. Masters may be shared
// between frames and are never modified.
type Applier interface {
	Kind() frame.Kind
	Apply(sci, master *frame.Frame) error
}

// Finds the best master for a query
type Selector interface {
	Select(ctx context.Context, q *catalog.Query) (*catalog.CalibrationImage, error)
}

// Provides the frame for a catalog record
type MasterLoader interface {
	Get(rec *catalog.CalibrationImage) (*frame.Frame, error)
}

// Selects, loads and applies one type of master calibration
type CalibrationStage struct {
	Applier      Applier
	Selector     Selector
	Loader       MasterLoader
	Policy       Policy
	Criteria     []string
	UseOnlyOlder bool
	// Stage name, the lower case calibration type if empty
	Label string
}

func (s *CalibrationStage) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return strings.ToLower(s.Applier.Kind().String())
}

func (s *CalibrationStage) Do(ctx context.Context, f *frame.Frame) error {
	kind := s.Applier.Kind()
	q, err := catalog.QueryFor(f, kind.String(), s.Criteria, s.UseOnlyOlder)
	if err != nil {
		return fmt.Errorf("%w: %s query: %w", ErrRejected, kind, err)
	}
	rec, err := s.Selector.Select(ctx, q)
	if err != nil {
		return fmt.Errorf("selecting master %s: %w", kind, err)
	}
	if rec == nil {
		return s.missing(f)
	}
	master, err := s.Loader.Get(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	logger.With(f.Tags()...).Info("applying master calibration", "master_calibration", rec.Filename)
	if err := s.Applier.Apply(f, master); err != nil {
		return fmt.Errorf("%w: applying %s: %w", ErrRejected, rec.Filename, err)
	}
	return nil
}

func (s *CalibrationStage) missing(f *frame.Frame) error {
	kind := s.Applier.Kind()
	log := logger.With(f.Tags()...)
	switch s.Policy {
	case Ignore:
		log.Warn("master calibration does not exist, continuing", "caltype", kind.String())
		return nil
	case FlagBad:
		log.Error("master calibration does not exist, flagging frame as bad", "caltype", kind.String())
		f.IsBad = true
		return nil
	}
	log.Error("master calibration does not exist", "caltype", kind.String())
	return fmt.Errorf("%w: no master %s", ErrRejected, kind)
}
