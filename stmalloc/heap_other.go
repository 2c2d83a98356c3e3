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

//go:build !linux

package stmalloc

import "github.com/latticeworks/stm/segment"

// MmapFactory falls back to plain Go-heap allocation on platforms
// without an anonymous mmap syscall wired up, the same split the
// teacher uses between tenant/dcache/file_linux.go and file_other.go.
type MmapFactory struct{}

// Alloc allocates a size-byte, zeroed Go slice. Alignment beyond what
// the Go allocator already guarantees is not enforced on this path.
func (MmapFactory) Alloc(size, align int) (segment.Segment, error) {
	if err := validate(size, align); err != nil {
		return segment.Segment{}, err
	}
	buf := make([]byte, size)
	return segment.Segment{Base: addrOf(buf), Size: size, Data: buf}, nil
}

// Release is a no-op; the Go garbage collector reclaims buf.
func (MmapFactory) Release(seg segment.Segment) error {
	return nil
}
