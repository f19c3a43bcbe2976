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
	"fmt"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

// Turn filename wildcards into a sorted list of files. Patterns without
// matches are an error.
func GlobFilenameWildcards(args []string) ([]string, error) {
	fileNames := []string{}
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", pattern)
		}
		fileNames = append(fileNames, matches...)
	}
	sort.Strings(fileNames)
	return fileNames, nil
}

// Host resources available for frame processing
type Resources struct {
	CPU           string
	PhysicalCores int
	LogicalCores  int
	TotalMemory   uint64
}

func HostResources() Resources {
	logical := cpuid.CPU.LogicalCores
	if logical <= 0 {
		logical = runtime.NumCPU()
	}
	return Resources{
		CPU:           cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  logical,
		TotalMemory:   memory.TotalMemory(),
	}
}

func (r Resources) String() string {
	return fmt.Sprintf("%s with %d physical and %d logical cores, %d MiB memory",
		r.CPU, r.PhysicalCores, r.LogicalCores, r.TotalMemory>>20)
}

// Number of frames to process in parallel. Requested counts above zero win,
// otherwise one per logical core, limited so that frames of the given size
// fit into the memory budget. A budget of zero uses half the physical memory.
func (r Resources) Parallelism(requested int, frameBytes, budget uint64) int {
	if requested > 0 {
		return requested
	}
	n := r.LogicalCores
	if budget == 0 {
		budget = r.TotalMemory / 2
	}
	if frameBytes > 0 && budget > 0 {
		if byMem := int(budget / frameBytes); byMem < n {
			n = byMem
		}
	}
	return max(n, 1)
}

// Approximate memory footprint of a frame with ny x nx pixels per amplifier:
// data and uncertainty in float64 plus the mask, with intermediate copies.
func FrameBytes(ny, nx, nAmps int) uint64 {
	return uint64(ny) * uint64(nx) * uint64(nAmps) * (8 + 8 + 1) * 3
}
