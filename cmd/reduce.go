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
	"github.com/hoxca/nightcal/internal"
	"github.com/spf13/cobra"
)

func newReduceCmd(opts *rootOptions) *cobra.Command {
	var (
		workers  int
		memoryMB uint64
		outDir   string
		register bool
	)
	cmd := &cobra.Command{
		Use:   "reduce FILE...",
		Short: "Reduce raw frames with the best matching master calibrations",
		Long: `Reduces raw frames through the calibration pipeline and writes the products.
Frames are processed in parallel. Frames failing any stage are logged and
skipped. With --register, reduced calibration frames are recorded in the
catalog as inputs for stacking.`,
		Example: `  nightcal reduce raw/lsc1m-fa03-20240228-*-b00.fits.fz --register
  nightcal reduce --workers 4 --out /data/processed raw/*.fits`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := internal.GlobFilenameWildcards(args)
			if err != nil {
				return err
			}
			e, err := opts.env(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			p := &internal.ReduceParams{
				Workers:  workers,
				Memory:   memoryMB << 20,
				OutDir:   outDir,
				Register: register,
			}
			if !cmd.Flags().Changed("workers") {
				p.Workers = opts.settings.Reduce.Workers
			}
			if p.OutDir == "" {
				p.OutDir = opts.settings.Processed
			}
			return e.CmdReduce(cmd.Context(), files, p)
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Frames reduced in parallel, 0 to size from cores and memory")
	cmd.Flags().Uint64Var(&memoryMB, "memory", 0, "Memory budget in MiB, 0 for half the physical memory")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory, default the processed directory")
	cmd.Flags().BoolVar(&register, "register", false, "Record reduced calibration frames in the catalog")
	return cmd
}
