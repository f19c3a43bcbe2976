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
	"errors"

	"github.com/hoxca/nightcal/internal"
	"github.com/spf13/cobra"
)

func newStackCmd(opts *rootOptions) *cobra.Command {
	var (
		r                internal.StackRequest
		minDate, maxDate string
	)
	cmd := &cobra.Command{
		Use:   "stack [FILE...]",
		Short: "Stack reduced calibration frames into master calibrations",
		Long: `Combines reduced calibration frames into one master per configuration and
registers the masters in the catalog.

Input frames are either given as files, or selected from the catalog by site,
camera, type and a date range or observing night.`,
		Example: `  # Masters from all biases of one night
  nightcal stack --site lsc --camera fa03 --type bias --night 20240228

  # Masters from explicit files
  nightcal stack processed/lsc1m-fa03-20240228-00*-d91.fits`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				files, err := internal.GlobFilenameWildcards(args)
				if err != nil {
					return err
				}
				r.Files = files
			} else if r.Site == "" || r.Camera == "" || r.Type == "" {
				return errors.New("stacking from the catalog needs --site, --camera and --type")
			}
			var err error
			if r.MinDate, err = parseDate(minDate); err != nil {
				return err
			}
			if r.MaxDate, err = parseDate(maxDate); err != nil {
				return err
			}

			e, err := opts.env(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			_, err = e.CmdStack(cmd.Context(), &r)
			return err
		},
	}
	cmd.Flags().StringVar(&r.Site, "site", "", "Site code, e.g. lsc")
	cmd.Flags().StringVar(&r.Camera, "camera", "", "Camera name, e.g. fa03")
	cmd.Flags().StringVarP(&r.Type, "type", "t", "", "Calibration type: bias, dark, skyflat or lampflat")
	cmd.Flags().StringVar(&minDate, "min-date", "", "Earliest observation date of input frames")
	cmd.Flags().StringVar(&maxDate, "max-date", "", "Latest observation date of input frames, default now")
	cmd.Flags().StringVar(&r.Night, "night", "", "Observing night YYYYMMDD, overrides the date range")
	return cmd
}
