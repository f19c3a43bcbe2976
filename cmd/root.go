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

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/hoxca/nightcal/internal"
	"github.com/hoxca/nightcal/internal/conf"
	"github.com/hoxca/nightcal/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Flags shared by all subcommands, and the settings loaded from them
type rootOptions struct {
	configPath string
	logLevel   string
	settings   *conf.Settings
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "nightcal",
		Short: "Calibration frame catalog, stacking and reduction for astronomical CCD images",
		Long: `Nightcal reduces raw CCD frames with the best matching master calibrations,
stacks reduced calibration frames into new masters and keeps a catalog of all
calibration files with their validity and quality flags.

Settings are read from nightcal.yaml in the current directory, ~/.config/nightcal
or /etc/nightcal, and from NIGHTCAL_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			s, err := conf.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				s.Log.Level = opts.logLevel
			}
			logger.Init(s.Log.Level, s.Log.Format, os.Stdout)
			opts.settings = s
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file, default searches nightcal.yaml")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	cmd.AddCommand(
		newReduceCmd(opts),
		newStackCmd(opts),
		newMarkCmd(opts),
		newStatsCmd(opts),
		newPreviewCmd(opts),
		newNightCmd(opts),
		newServeCmd(opts),
		newDBCmd(opts),
		newConfigCmd(),
	)
	return cmd
}

// Open the catalog and build the environment for a command
func (o *rootOptions) env(cmd *cobra.Command) (*internal.Env, error) {
	e, err := internal.NewEnv(cmd.Context(), o.settings)
	if err != nil {
		return nil, err
	}
	e.Log.Debug("environment ready", "driver", o.settings.Database.Driver, "processed", o.settings.Processed)
	return e, nil
}

// Accepts a plain date, a date with time, or RFC 3339. Empty is the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD or RFC 3339", s)
}
