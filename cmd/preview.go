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
	"path/filepath"
	"strings"

	"github.com/hoxca/nightcal/internal"
	"github.com/spf13/cobra"
)

func newPreviewCmd(opts *rootOptions) *cobra.Command {
	p := internal.DefaultPreviewParams()
	var out string
	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Render a quick look image of a frame",
		Long: fmt.Sprintf(`Renders all amplifiers of a frame side by side, stretched around the median
by multiples of the robust noise. Masked pixels are drawn in the mask color.
Output format follows the extension, .png or .jpg.

Colormaps: %s`, strings.Join(internal.ColormapNames(), ", ")),
		Example: `  nightcal preview processed/lsc-fa03-20240228-skyflat-bin1x1-rp.fits --colormap viridis --bin 4`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = strings.TrimSuffix(filepath.Base(args[0]), ".fz")
				out = strings.TrimSuffix(out, filepath.Ext(out)) + ".png"
			}
			e, err := opts.env(cmd)
			if err != nil {
				return err
			}
			defer e.Close()
			return e.CmdPreview(cmd.Context(), args[0], out, p)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output image, default the input name with .png")
	cmd.Flags().Float64Var(&p.Black, "black", p.Black, "Black point in noise units below the median")
	cmd.Flags().Float64Var(&p.White, "white", p.White, "White point in noise units above the median")
	cmd.Flags().Float64Var(&p.Gamma, "gamma", p.Gamma, "Gamma applied after the stretch")
	cmd.Flags().IntVar(&p.Bin, "bin", p.Bin, "Bin pixels by this factor")
	cmd.Flags().StringVar(&p.Colormap, "colormap", p.Colormap, "Colormap name")
	cmd.Flags().StringVar(&p.MaskColor, "mask-color", p.MaskColor, "Hex color for masked pixels")
	return cmd
}
