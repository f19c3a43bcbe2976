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

// Package stack combines individual calibration frames into master
// calibrations by sigma-clipped averaging.
package stack

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hoxca/nightcal/internal/ccd"
	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/logger"
)

var (
	ErrInsufficientFrames = errors.New("not enough frames to stack")
	ErrInhomogeneous      = frame.ErrInhomogeneous
	ErrUnconfigured       = errors.New("no minimum frame count configured for calibration type")
)

// Progress of a stacking run
type State int

const (
	Idle State = iota
	Validating
	Stacking
	MasterHeaderBuilt
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case Stacking:
		return "stacking"
	case MasterHeaderBuilt:
		return "master header built"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Parameters for building master calibrations
type Params struct {
	Sigma         float64
	MinFrames     map[frame.Kind]int
	Criteria      map[frame.Kind][]string
	FlatThreshold float64
	// Directory masters are written to
	OutDir string
}

func DefaultParams() *Params {
	return &Params{
		Sigma: 3.0,
		MinFrames: map[frame.Kind]int{
			frame.KindBias:    5,
			frame.KindDark:    5,
			frame.KindSkyFlat: 5,
		},
		Criteria: map[frame.Kind][]string{
			frame.KindBias:    {"ccdsum"},
			frame.KindDark:    {"ccdsum"},
			frame.KindSkyFlat: {"ccdsum", "filter"},
		},
		FlatThreshold: 0.2,
	}
}

// Print parameters for stacking
func (p *Params) String() string {
	kinds := make([]frame.Kind, 0, len(p.MinFrames))
	for k := range p.MinFrames {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s>=%d%v", k, p.MinFrames[k], p.Criteria[k])
	}
	return fmt.Sprintf("sigma %.2f flatThreshold %.2f outDir %q min %s", p.Sigma, p.FlatThreshold, p.OutDir, strings.Join(parts, " "))
}

// Outcome of a stacking run
type Result struct {
	Master  *frame.Frame
	State   State
	Inputs  []*frame.Frame
	Dropped []*frame.Frame
	Strips  int
}

// Builds one master from a homogeneous group of frames
type Stacker struct {
	Params *Params
	state  State
}

func NewStacker(p *Params) *Stacker {
	if p == nil {
		p = DefaultParams()
	}
	return &Stacker{Params: p}
}

// Current state, Done after a successful run
func (s *Stacker) State() State {
	return s.state
}

// Combine frames into a master using the maker's preparation and finishing
// steps. Inputs are modified in place by the maker. Frames the maker cannot
// prepare are dropped and reported in the result.
func (s *Stacker) Stack(m Maker, frames []*frame.Frame) (*Result, error) {
	s.state = Validating
	kind := m.Kind()
	res := &Result{State: s.state}

	if err := s.validate(kind, frames); err != nil {
		return res, err
	}
	criteria := s.Params.Criteria[kind]

	inputs := make([]*frame.Frame, 0, len(frames))
	for _, f := range frames {
		if err := m.Prepare(f); err != nil {
			logger.With(f.Tags()...).Warn("dropping frame from stack", "error", err)
			res.Dropped = append(res.Dropped, f)
			continue
		}
		inputs = append(inputs, f)
	}
	res.Inputs = inputs
	if err := s.checkCount(kind, len(inputs)); err != nil {
		return res, err
	}

	s.state, res.State = Stacking, Stacking
	ref := inputs[0]
	h := MasterHeader(inputs)
	// single extension frames carry their header on the pixel unit
	single := ref.NAmps() == 1 && ref.Meta == ref.Primary().Meta
	units := make([]*ccd.CCDData, ref.NAmps())
	for a := range units {
		group := make([]*ccd.CCDData, len(inputs))
		for i, f := range inputs {
			if f.NAmps() != ref.NAmps() {
				return res, fmt.Errorf("%w: %s has %d amplifiers, want %d", ccd.ErrShapeMismatch, f.Filename, f.NAmps(), ref.NAmps())
			}
			group[i] = f.CCDs[a]
		}
		ny, nx := group[0].Shape()
		meta := h
		if !single {
			meta = group[0].Meta.Without("HISTORY")
		}
		u, err := ccd.New(ccd.NewBuffer[float64](ny, nx), meta, ccd.WithName(group[0].Name))
		if err != nil {
			return res, err
		}
		n, err := combineInto(u, group, s.Params.Sigma)
		if err != nil {
			return res, err
		}
		res.Strips += n
		units[a] = u
	}

	master, err := frame.Open(h, units, frame.Options{
		Dialect:    ref.Dialect,
		Instrument: ref.Instrument,
		Criteria:   map[frame.Kind][]string{kind: criteria},
	})
	if err != nil {
		return res, fmt.Errorf("opening master: %w", err)
	}
	master.Filename = master.MasterFilename()
	master.Filepath = s.Params.OutDir
	s.state, res.State = MasterHeaderBuilt, MasterHeaderBuilt

	if err := m.Finish(master, inputs); err != nil {
		return res, err
	}
	res.Master = master
	s.state, res.State = Done, Done
	logger.With(master.Tags()...).Info("created master calibration", "frames", len(inputs), "strips", res.Strips)
	return res, nil
}

func (s *Stacker) validate(kind frame.Kind, frames []*frame.Frame) error {
	if err := s.checkCount(kind, len(frames)); err != nil {
		return err
	}
	for _, f := range frames {
		if f.Kind() != kind {
			return fmt.Errorf("%w: %s is %s, want %s", ErrInhomogeneous, f.Filename, f.ObsType(), kind)
		}
	}
	return frame.Homogeneous(frames, s.Params.Criteria[kind])
}

func (s *Stacker) checkCount(kind frame.Kind, n int) error {
	need, ok := s.Params.MinFrames[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnconfigured, kind)
	}
	if n < need || n == 0 {
		return fmt.Errorf("%w: %d %s frames, need %d", ErrInsufficientFrames, n, kind, need)
	}
	return nil
}

// Group frames by calibration type and criteria, and stack each group. Failing
// groups are logged and skipped, their errors returned joined.
func StackGroups(ctx context.Context, frames []*frame.Frame, p *Params) ([]*Result, error) {
	if p == nil {
		p = DefaultParams()
	}
	byKind := map[frame.Kind][]*frame.Frame{}
	var kinds []frame.Kind
	for _, f := range frames {
		if _, ok := byKind[f.Kind()]; !ok {
			kinds = append(kinds, f.Kind())
		}
		byKind[f.Kind()] = append(byKind[f.Kind()], f)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var results []*Result
	var errs []error
	for _, kind := range kinds {
		m, err := MakerFor(kind, p)
		if err != nil {
			logger.L().Warn("skipping frames", "obstype", kind.String(), "frames", len(byKind[kind]), "error", err)
			errs = append(errs, err)
			continue
		}
		groups, skipped := frame.GroupBy(byKind[kind], p.Criteria[kind])
		for _, f := range skipped {
			logger.With(f.Tags()...).Warn("frame lacks grouping attributes, skipping")
		}
		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				return results, errors.Join(append(errs, err)...)
			}
			res, err := NewStacker(p).Stack(m, g.Frames)
			if err != nil {
				logger.L().Error("could not stack group", "group", g.Key, "frames", len(g.Frames), "state", res.State.String(), "error", err)
				errs = append(errs, fmt.Errorf("group %s: %w", g.Key, err))
				continue
			}
			results = append(results, res)
		}
	}
	return results, errors.Join(errs...)
}

// Full path a master is written to
func MasterPath(p *Params, master *frame.Frame) string {
	return filepath.Join(p.OutDir, master.Filename)
}
