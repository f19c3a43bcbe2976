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
	"github.com/spf13/cobra"
)

func newMarkCmd(opts *rootOptions) *cobra.Command {
	var good bool
	cmd := &cobra.Command{
		Use:   "mark FILENAME",
		Short: "Flag a calibration as bad, or as good again with --good",
		Long: `Sets the quality flag of a catalog entry. Bad calibrations are never selected
for reduction. Only the file name is matched, any directory is ignored.`,
		Example: `  nightcal mark lsc-fa03-20240228-bias-bin1x1.fits
  nightcal mark --good lsc-fa03-20240228-bias-bin1x1.fits`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.env(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			return e.CmdMark(cmd.Context(), args[0], !good)
		},
	}
	cmd.Flags().BoolVar(&good, "good", false, "Clear the bad flag instead of setting it")
	return cmd
}
