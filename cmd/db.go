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
	"github.com/hoxca/nightcal/internal/catalog"
	"github.com/spf13/cobra"
)

func newDBCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the calibration catalog",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create or migrate the catalog tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := opts.env(cmd)
				if err != nil {
					return err
				}
				defer e.Close()
				return e.CmdDBInit(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "add-instruments SEED.yaml",
			Short: "Register the sites and instruments listed in a YAML file",
			Example: `  # seed.yaml
  sites:
    - id: lsc
      timezone: -4
      latitude: -30.1674
      longitude: -70.8048
      elevation: 2198
  instruments:
    - site: lsc
      camera: fa03
      type: 1m0-SciCam-Sinistro

  nightcal db add-instruments seed.yaml`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				e, err := opts.env(cmd)
				if err != nil {
					return err
				}
				defer e.Close()
				return e.CmdAddInstruments(cmd.Context(), args[0])
			},
		},
		newExportCmd(opts),
	)
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		f             catalog.Filter
		after, before string
	)
	cmd := &cobra.Command{
		Use:   "export OUT.parquet",
		Short: "Export catalog entries to a parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if f.After, err = parseDate(after); err != nil {
				return err
			}
			if f.Before, err = parseDate(before); err != nil {
				return err
			}
			e, err := opts.env(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			return e.CmdExport(cmd.Context(), args[0], f)
		},
	}
	cmd.Flags().StringVarP(&f.Type, "type", "t", "", "Only calibrations of this type")
	cmd.Flags().BoolVar(&f.MasterOnly, "master", false, "Only master calibrations")
	cmd.Flags().BoolVar(&f.IncludeBad, "bad", false, "Include calibrations flagged bad")
	cmd.Flags().UintVar(&f.InstrumentID, "instrument", 0, "Only calibrations of this instrument id")
	cmd.Flags().StringVar(&after, "after", "", "Only calibrations observed after this date")
	cmd.Flags().StringVar(&before, "before", "", "Only calibrations observed before this date")
	return cmd
}
