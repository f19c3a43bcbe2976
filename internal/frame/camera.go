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

package frame

import (
	"fmt"
	"strings"
)

// Per-camera constants injected when frames are opened
type CameraConfig struct {
	// Crosstalk coefficients by camera id. Entry [i][j] is the fraction of
	// the signal in amplifier i+1 that leaks into amplifier j+1.
	Crosstalk map[string][][]float64 `mapstructure:"crosstalk" yaml:"crosstalk"`

	// Unbinned saturation levels in electrons by instrument type substring,
	// used when neither extension nor primary header provide SATURATE
	Saturation map[string]float64 `mapstructure:"saturation" yaml:"saturation"`

	// Reject frames whose saturation level cannot be determined
	RequireSaturate bool `mapstructure:"requiresaturate" yaml:"requiresaturate"`
}

// Crosstalk matrix for a camera, validated against the number of amplifiers
func (c *CameraConfig) CrosstalkFor(camera string, nAmps int) ([][]float64, error) {
	if c == nil || c.Crosstalk == nil {
		return nil, nil
	}
	m, ok := c.Crosstalk[strings.ToLower(camera)]
	if !ok {
		return nil, nil
	}
	if len(m) != nAmps {
		return nil, fmt.Errorf("crosstalk matrix for %s has %d rows, want %d", camera, len(m), nAmps)
	}
	for i, row := range m {
		if len(row) != nAmps {
			return nil, fmt.Errorf("crosstalk matrix for %s row %d has %d entries, want %d", camera, i, len(row), nAmps)
		}
	}
	return m, nil
}

// Default unbinned saturation for an instrument type, matched by case-insensitive
// substring. The longest matching key wins so that specific types override generic ones.
func (c *CameraConfig) SaturationFor(instrumentType string) (float64, bool) {
	if c == nil {
		return 0, false
	}
	t := strings.ToLower(instrumentType)
	best, bestLen := 0.0, -1
	for k, v := range c.Saturation {
		if strings.Contains(t, strings.ToLower(k)) && len(k) > bestLen {
			best, bestLen = v, len(k)
		}
	}
	return best, bestLen >= 0
}

// Saturation defaults for the LCO camera families
func DefaultSaturation() map[string]float64 {
	return map[string]float64{
		"1m0-scicam-sinistro": 47500.0 * 2.0,
		"1m0-scicam-sbig":     46000.0 / 4 * 1.4,
		"0m8":                 64000.0 / 4 * 0.851,
		"0m4":                 64000.0 / 4,
		"spectral":            125000.0,
	}
}
