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
	"path/filepath"
)

// Flag a calibration as bad so it is never selected again, or clear the flag
func (e *Env) CmdMark(ctx context.Context, fileName string, bad bool) error {
	name := filepath.Base(fileName)
	if err := e.Store.MarkBad(ctx, name, bad); err != nil {
		return err
	}
	e.Cache.Evict(name)
	state := "good"
	if bad {
		state = "bad"
	}
	LogPrintf("Marked %s as %s\n", name, state)
	return nil
}
