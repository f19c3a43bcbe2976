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

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calibration catalog API, products and metrics over HTTP",
		Long: `Starts the HTTP server. Routes:

  GET  /api/v1/ping
  GET  /api/v1/calibrations              list, filtered by type, master, bad, instrument, after, before, limit
  GET  /api/v1/calibrations/best         best master for site, camera, type, dateobs and attr[name]=value
  POST /api/v1/calibrations/FILE/bad     flag a calibration bad
  POST /api/v1/calibrations/FILE/good    clear the bad flag
  GET  /products/FILE                    processed files
  GET  /metrics                          Prometheus metrics`,
		Example: `  nightcal serve --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.env(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			if !cmd.Flags().Changed("port") {
				port = opts.settings.Server.Port
			}
			return e.CmdServe(cmd.Context(), port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on, default from settings")
	return cmd
}
