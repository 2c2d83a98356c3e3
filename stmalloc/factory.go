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

// Package stmalloc implements the segment factory the STM core treats
// as an external collaborator (spec.md §1): it knows how to obtain raw
// aligned memory from the operating system, but nothing about
// transactions, conflict detection, or the region shell.
package stmalloc

import (
	"errors"

	"github.com/latticeworks/stm/segment"
)

// ErrAlignment is returned when a requested size/align pair is invalid.
var ErrAlignment = errors.New("stmalloc: size must be a positive multiple of align, align must be a power of two")

// Factory obtains and releases raw aligned segments. It is the one
// seam between the STM core and the operating system: the core never
// calls mmap/malloc directly.
type Factory interface {
	// Alloc returns a freshly zeroed segment of exactly size bytes,
	// aligned to align. It returns segment.ErrResourceExhausted (wrapped)
	// if the request cannot be satisfied. The Linux MmapFactory checks
	// the alignment of the base it returns; HeapFactory and the
	// non-Linux MmapFactory rely on the Go allocator and do not check it.
	Alloc(size, align int) (segment.Segment, error)
	// Release returns a previously allocated segment's memory to the OS.
	Release(seg segment.Segment) error
}

func validate(size, align int) error {
	if align <= 0 || align&(align-1) != 0 {
		return ErrAlignment
	}
	if size <= 0 || size%align != 0 {
		return ErrAlignment
	}
	return nil
}
