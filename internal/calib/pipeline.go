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
	"fmt"
	"time"

	"github.com/hoxca/nightcal/internal/frame"
	"github.com/hoxca/nightcal/internal/logger"
	"github.com/hoxca/nightcal/internal/stats"
)

// Removes a calibration frame's own bias level, so it can be compared to a master bias
type BiasLevelSubtractor struct{}

func (BiasLevelSubtractor) Name() string { return "biaslevel" }

func (BiasLevelSubtractor) Do(_ context.Context, f *frame.Frame) error {
	p := f.Primary()
	level := stats.SigmaClippedMean1D(p.Data.Pix, 3.5, p.Mask.Pix)
	for _, c := range f.CCDs {
		c.SubtractScalar(level)
	}
	f.SetBiasLevel(level)
	return nil
}

// Called after every stage with its duration and outcome
type Observer func(stage string, d time.Duration, err error)

// Settings for building the standard reduction pipeline
type Options struct {
	Selector Selector
	Loader   MasterLoader
	// Missing master policy per calibration type, Reject if absent
	Policies map[frame.Kind]Policy
	// Selection criteria per calibration type
	Criteria     map[frame.Kind][]string
	UseOnlyOlder bool
	// Compare new bias frames against the current master
	Compare  bool
	Observer Observer
}

func DefaultPolicies() map[frame.Kind]Policy {
	return map[frame.Kind]Policy{
		frame.KindBPM:       Reject,
		frame.KindReadNoise: Ignore,
		frame.KindBias:      Reject,
		frame.KindDark:      Reject,
		frame.KindSkyFlat:   Reject,
	}
}

// Ordered reduction stages
type Pipeline struct {
	Stages   []Stage
	Observer Observer

	// stages run for calibration frames of a kind, a prefix of Stages plus extras
	last  map[frame.Kind]string
	extra map[frame.Kind][]Stage
}

func NewPipeline(o Options) *Pipeline {
	policy := func(k frame.Kind) Policy {
		if p, ok := o.Policies[k]; ok {
			return p
		}
		return Reject
	}
	cal := func(a Applier) *CalibrationStage {
		k := a.Kind()
		return &CalibrationStage{
			Applier:      a,
			Selector:     o.Selector,
			Loader:       o.Loader,
			Policy:       policy(k),
			Criteria:     o.Criteria[k],
			UseOnlyOlder: o.UseOnlyOlder,
		}
	}
	p := &Pipeline{
		Stages: []Stage{
			cal(MaskLoader{}),
			SaturationMasker{},
			OverscanSubtractor{},
			CrosstalkCorrector{},
			GainNormalizer{},
			MosaicCreator{},
			Trimmer{},
			cal(ReadNoiseLoader{}),
			cal(BiasSubtractor{}),
			cal(DarkSubtractor{}),
			cal(FlatDivider{}),
		},
		Observer: o.Observer,
		last: map[frame.Kind]string{
			frame.KindBias:     "readnoise",
			frame.KindDark:     "bias",
			frame.KindSkyFlat:  "dark",
			frame.KindLampFlat: "dark",
		},
		extra: map[frame.Kind][]Stage{},
	}
	if o.Compare {
		cmp := cal(NewComparer(frame.KindBias))
		cmp.Policy = FlagBad
		cmp.Label = "biascompare"
		p.extra[frame.KindBias] = []Stage{BiasLevelSubtractor{}, cmp}
	}
	return p
}

// Stages run for a frame of the given kind. Calibration frames stop before
// the stage that would apply their own type.
func (p *Pipeline) StagesFor(kind frame.Kind) []Stage {
	last, ok := p.last[kind]
	if !ok {
		return p.Stages
	}
	var out []Stage
	for _, s := range p.Stages {
		out = append(out, s)
		if s.Name() == last {
			break
		}
	}
	return append(out, p.extra[kind]...)
}

// Run all stages for the frame, stopping at the first failure
func (p *Pipeline) Run(ctx context.Context, f *frame.Frame) error {
	for _, s := range p.StagesFor(f.Kind()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := s.Do(ctx, f)
		if p.Observer != nil {
			p.Observer(s.Name(), time.Since(start), err)
		}
		if err != nil {
			logger.With(f.Tags()...).Error("stopping reduction", "stage", s.Name(), "error", err)
			return fmt.Errorf("%s: stage %s: %w", f.Filename, s.Name(), err)
		}
	}
	return nil
}

// Run the pipeline on each frame in turn. Frames that fail are dropped and
// their errors returned joined, the others are returned in order.
func (p *Pipeline) RunAll(ctx context.Context, frames []*frame.Frame) ([]*frame.Frame, error) {
	var kept []*frame.Frame
	var errs []error
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.Run(ctx, f); err != nil {
			errs = append(errs, err)
			continue
		}
		kept = append(kept, f)
	}
	return kept, errors.Join(errs...)
}

// Stage names in order, for logging
func (p *Pipeline) Names(kind frame.Kind) []string {
	stages := p.StagesFor(kind)
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return names
}
