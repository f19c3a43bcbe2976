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

package internal

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Render a quick-look preview of a FITS file. The output format follows the
// extension of outName: .png, or .jpg/.jpeg at quality 95.
func (e *Env) CmdPreview(ctx context.Context, fileName, outName string, p *PreviewParams) error {
	f, err := e.OpenFrame(ctx, fileName)
	if err != nil {
		return err
	}
	defer f.Release()

	LogPrintf("Rendering %s with %s\n", f, p)
	img, err := Preview(f, p)
	if err != nil {
		return err
	}
	out, err := os.Create(outName)
	if err != nil {
		return err
	}
	if err := EncodeImage(out, outName, img); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", outName, err)
	}
	LogPrintf("Wrote preview to %s\n", outName)
	return out.Close()
}

// Encode an image in the format named by the file extension
func EncodeImage(w io.Writer, name string, img image.Image) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return png.Encode(w, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	}
	return fmt.Errorf("unsupported image format %q", filepath.Ext(name))
}
