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
	"time"

	"github.com/hoxca/nightcal/internal"
	"github.com/hoxca/nightcal/internal/night"
	"github.com/spf13/cobra"
)

func newNightCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "night SITE [YYYYMMDD]",
		Short: "Print the dark window of an observing night at a catalog site",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.env(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			epoch := ""
			if len(args) > 1 {
				epoch = args[1]
			} else {
				site, err := e.Store.FindSite(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				epoch = night.EpochOf(time.Now(), site.Timezone)
			}
			w, err := e.NightWindow(cmd.Context(), args[0], epoch)
			if err != nil {
				return err
			}
			internal.LogPrintf("%s %s: %s (%s)\n", args[0], epoch, w, w.End.Sub(w.Start).Round(time.Minute))
			return nil
		},
	}
}
