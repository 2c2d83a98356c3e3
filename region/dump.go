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

package region

import (
	"io"

	"github.com/latticeworks/stm/stmdebug"
)

// Dump writes a point-in-time snapshot of every live segment to w,
// optionally zstd-compressed. Callers should hold at least the read
// lock (WithReadLock) so the snapshot is internally consistent.
func (r *Region) Dump(w io.Writer, compress bool) error {
	return stmdebug.NewSnapshot(r.registry).WriteTo(w, compress)
}

// DumpDiagnostics writes a human-readable listing of live segments and
// outstanding-allocation leak traces to w, as opposed to Dump's binary
// snapshot format. Callers should hold at least the read lock.
func (r *Region) DumpDiagnostics(w io.Writer) {
	stmdebug.DumpLive(w, r.registry)
}
