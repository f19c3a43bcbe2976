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

// Package night computes the time window of an observing night at a site
package night

import (
	"fmt"
	"time"

	"github.com/hoxca/nightcal/internal/logger"
	"github.com/sj14/astral/pkg/astral"
)

const (
	EpochLayout = "20060102"

	// Degrees of the sun below the horizon
	DepressionCivil        = 6.0
	DepressionNautical     = 12.0
	DepressionAstronomical = 18.0
)

// Half-open interval [Start, End) in UTC
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s - %s", w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}

// Observing site
type Site struct {
	Latitude  float64
	Longitude float64
	// Offset of local time from UTC in hours
	Timezone int
}

// Local noon of the night's first day, in UTC
func Noon(epoch string, tzHours int) (time.Time, error) {
	d, err := time.Parse(EpochLayout, epoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch %q: %w", epoch, err)
	}
	return d.Add(time.Duration(12-tzHours) * time.Hour), nil
}

// Night a time belongs to, switching over at local noon
func EpochOf(t time.Time, tzHours int) string {
	local := t.UTC().Add(time.Duration(tzHours-12) * time.Hour)
	return local.Format(EpochLayout)
}

// Window from dusk to dawn with the sun the given number of degrees below
// the horizon. Where the sun never gets that low, the night spans noon to noon.
func For(s Site, epoch string, depression float64) (Window, error) {
	noon, err := Noon(epoch, s.Timezone)
	if err != nil {
		return Window{}, err
	}
	full := Window{Start: noon, End: noon.Add(24 * time.Hour)}
	obs := astral.Observer{Latitude: s.Latitude, Longitude: s.Longitude}

	dusk, err := astral.Dusk(obs, noon, depression)
	if err != nil {
		logger.L().Debug("no dusk, using full day", "epoch", epoch, "depression", depression, "error", err)
		return full, nil
	}
	// the event may land on the neighbouring UTC day for sites far from Greenwich
	if dusk.Before(noon) {
		if dusk, err = astral.Dusk(obs, noon.Add(24*time.Hour), depression); err != nil {
			return full, nil
		}
	}
	dawn, err := astral.Dawn(obs, dusk.Add(time.Hour), depression)
	if err != nil {
		logger.L().Debug("no dawn, using full day", "epoch", epoch, "depression", depression, "error", err)
		return full, nil
	}
	if dawn.Before(dusk) {
		if dawn, err = astral.Dawn(obs, dawn.Add(24*time.Hour), depression); err != nil {
			return full, nil
		}
	}
	if !full.Contains(dusk) || dawn.After(full.End) {
		return full, nil
	}
	return Window{Start: dusk.UTC(), End: dawn.UTC()}, nil
}
