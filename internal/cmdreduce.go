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
)

// Perform the reduction command
func (e *Env) CmdReduce(ctx context.Context, fileNames []string, p *ReduceParams) error {
	if len(fileNames) == 0 {
		return ErrNoInputs
	}
	LogPrintf("Running on %s\n", HostResources())
	reduced, err := e.ReduceFiles(ctx, fileNames, p)
	flagged := 0
	for _, r := range reduced {
		if r.Flagged {
			flagged++
		}
	}
	LogPrintf("\nReduced %d of %d frames, %d flagged bad\n", len(reduced), len(fileNames), flagged)
	if err != nil {
		return err
	}
	if len(reduced) == 0 {
		return fmt.Errorf("none of %d frames could be reduced", len(fileNames))
	}
	return nil
}
