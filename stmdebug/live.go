// Copyright (C) 2024 Latticeworks, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package stmdebug

import (
	"fmt"
	"io"

	"golang.org/x/exp/slices"

	"github.com/latticeworks/stm/segment"
)

// DumpLive writes a human-readable listing of every segment reg
// currently holds, sorted by base address, followed by the
// outstanding-allocation leak trace (see Dump). Intended for the same
// operator-facing text diagnostics vm/vmmemleaks.go's report feeds;
// unlike NewSnapshot it is not meant to be parsed back in.
func DumpLive(w io.Writer, reg *segment.Registry) {
	ranges := reg.Ranges()
	slices.SortFunc(ranges, func(a, b struct{ Base, Size uintptr }) bool {
		return a.Base < b.Base
	})
	fmt.Fprintf(w, "%d live segment(s):\n", len(ranges))
	for _, rg := range ranges {
		fmt.Fprintf(w, "  base=%#x size=%#x\n", rg.Base, rg.Size)
	}
	Dump(w)
}
