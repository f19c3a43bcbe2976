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

package conf

import (
	"time"

	"github.com/hoxca/nightcal/internal/frame"
	"github.com/spf13/viper"
)

func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "nightcal.db")

	v.SetDefault("processed", "processed")

	v.SetDefault("stack.sigma", 3.0)
	v.SetDefault("stack.flatthreshold", 0.2)
	v.SetDefault("stack.minframes", map[string]int{
		"bias":    5,
		"dark":    5,
		"skyflat": 5,
	})
	v.SetDefault("stack.memory", 0)

	v.SetDefault("reduce.dialect", "lco")
	v.SetDefault("reduce.useonlyolder", false)
	v.SetDefault("reduce.compare", false)
	v.SetDefault("reduce.workers", 0)

	v.SetDefault("criteria", map[string][]string{
		"bias":      {"ccdsum"},
		"dark":      {"ccdsum"},
		"skyflat":   {"ccdsum", "filter"},
		"bpm":       {"ccdsum"},
		"readnoise": {"ccdsum"},
	})
	v.SetDefault("policies", map[string]string{
		"bpm":       "reject",
		"readnoise": "ignore",
		"bias":      "reject",
		"dark":      "reject",
		"skyflat":   "reject",
	})

	v.SetDefault("cache.ttl", time.Hour)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.static", "./web/build")

	v.SetDefault("night.depression", 12.0)

	v.SetDefault("cameras.saturation", frame.DefaultSaturation())
	v.SetDefault("cameras.crosstalk", map[string][][]float64{})
	v.SetDefault("cameras.requiresaturate", false)
}
