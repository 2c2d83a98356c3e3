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

//go:build linux

package stmalloc

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/latticeworks/stm/segment"
)

// MmapFactory allocates each segment as its own anonymous private
// mapping. This is the variable-size generalization of the teacher's
// vm.Malloc/vm.Free, which instead carve fixed pageSize chunks out of
// one reserved 4GiB arena via a bitmap; here every segment can be a
// different size, so each gets its own mapping rather than a bitmap
// slot.
type MmapFactory struct{}

// Alloc maps size bytes of anonymous, zeroed memory. The returned
// segment's Data aliases the mapping directly.
func (MmapFactory) Alloc(size, align int) (segment.Segment, error) {
	if err := validate(size, align); err != nil {
		return segment.Segment{}, err
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return segment.Segment{}, fmt.Errorf("%w: mmap: %s", segment.ErrResourceExhausted, err)
	}
	base := addrOf(buf)
	if base%uintptr(align) != 0 {
		// anonymous mmap is always page-aligned, and align never
		// exceeds the page size in practice; guard anyway rather
		// than silently handing back misaligned memory.
		unix.Munmap(buf)
		return segment.Segment{}, fmt.Errorf("%w: mmap returned base %#x not aligned to %d", segment.ErrResourceExhausted, base, align)
	}
	return segment.Segment{Base: base, Size: size, Data: buf}, nil
}

// Release unmaps seg's backing memory. Before unmapping it advises the
// kernel that the pages are no longer needed, the same MADV_DONTNEED
// courtesy the teacher's vm.Free extends via Madvise before a page is
// returned to its free bitmap.
func (MmapFactory) Release(seg segment.Segment) error {
	if seg.Data == nil {
		return nil
	}
	_ = unix.Madvise(seg.Data, unix.MADV_DONTNEED)
	return unix.Munmap(seg.Data)
}
