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

package stmalloc

import "github.com/latticeworks/stm/segment"

// HeapFactory is a platform-independent Factory backed by plain Go
// slices rather than a raw mmap call. It exists for tests and for
// callers that would rather not depend on OS-level memory mapping;
// MmapFactory is the production default on Linux.
type HeapFactory struct{}

// Alloc allocates a zeroed Go slice of size bytes.
func (HeapFactory) Alloc(size, align int) (segment.Segment, error) {
	if err := validate(size, align); err != nil {
		return segment.Segment{}, err
	}
	buf := make([]byte, size)
	return segment.Segment{Base: addrOf(buf), Size: size, Data: buf}, nil
}

// Release is a no-op; the garbage collector reclaims seg.Data.
func (HeapFactory) Release(seg segment.Segment) error {
	return nil
}

// LimitedFactory wraps another Factory and fails every Nth allocation
// (N = FailEvery) with segment.ErrResourceExhausted, for exercising
// tx_alloc's NoMem path (spec §6/§7) deterministically in tests.
type LimitedFactory struct {
	Inner     Factory
	FailEvery int
	calls     int
}

// Alloc delegates to Inner unless this call should be made to fail.
func (f *LimitedFactory) Alloc(size, align int) (segment.Segment, error) {
	f.calls++
	if f.FailEvery > 0 && f.calls%f.FailEvery == 0 {
		return segment.Segment{}, segment.ErrResourceExhausted
	}
	return f.Inner.Alloc(size, align)
}

// Release delegates to Inner.
func (f *LimitedFactory) Release(seg segment.Segment) error {
	return f.Inner.Release(seg)
}
