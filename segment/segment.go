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

// Package segment holds the Segment value type and the process-wide
// Registry that maps a segment's base address to its metadata. Raw
// byte allocation itself is delegated to a Factory (see package
// stmalloc); Registry only tracks bookkeeping.
package segment

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/dchest/siphash"
)

// ErrNotFound is returned by Registry lookups that miss.
var ErrNotFound = errors.New("segment: not found")

// ErrResourceExhausted is returned by a Factory when it cannot satisfy
// an allocation request.
var ErrResourceExhausted = errors.New("segment: resource exhausted")

// Segment is a contiguous aligned buffer of raw bytes identified by its
// base address. Its bytes are mutated only under the owning region's
// write lock.
type Segment struct {
	Base uintptr
	Size int
	Data []byte
}

// End returns Base+Size.
func (s Segment) End() uintptr { return s.Base + uintptr(s.Size) }

// Contains reports whether [addr,addr+size) lies fully within s.
func (s Segment) Contains(addr uintptr, size int) bool {
	return addr >= s.Base && addr+uintptr(size) <= s.End()
}

// Registry is a concurrency-safe map from segment base address to
// Segment. It is the single owner of segment lifetime: transactions
// only ever hold Segment values borrowed into their own
// allocated/freed/freed_by_others bookkeeping.
//
// Lookups go through a map of buckets keyed by the siphash of the base
// address rather than by the address itself, mirroring the teacher's
// own use of siphash on the hot address-lookup path (vm package).
type Registry struct {
	mu      sync.RWMutex
	buckets map[uint64][]Segment
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{buckets: make(map[uint64][]Segment)}
}

func hashAddr(addr uintptr) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(addr))
	return siphash.Hash(0, 0, buf[:])
}

// Add registers seg. It is the caller's responsibility to ensure no
// other live segment occupies an overlapping range.
func (r *Registry) Add(seg Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := hashAddr(seg.Base)
	bucket := r.buckets[h]
	for i, s := range bucket {
		if s.Base == seg.Base {
			bucket[i] = seg
			return
		}
	}
	r.buckets[h] = append(bucket, seg)
}

// Remove deletes the segment at base, if any.
func (r *Registry) Remove(base uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := hashAddr(base)
	bucket := r.buckets[h]
	for i, s := range bucket {
		if s.Base == base {
			r.buckets[h] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// Get returns the segment whose base address exactly matches addr.
func (r *Registry) Get(addr uintptr) (Segment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.buckets[hashAddr(addr)] {
		if s.Base == addr {
			return s, true
		}
	}
	return Segment{}, false
}

// FindContaining returns the segment whose [Base,Base+Size) encloses
// addr. Unlike Get this cannot be served by the address hash bucket
// (the query address need not be a segment base), so it scans all
// live segments; the registry is expected to hold few, large segments
// rather than many small ones, so a linear scan is the right shape
// here (mirrors spec §6's "range search" requirement for region_size).
func (r *Registry) FindContaining(addr uintptr) (Segment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, bucket := range r.buckets {
		for _, s := range bucket {
			if addr >= s.Base && addr < s.End() {
				return s, true
			}
		}
	}
	return Segment{}, false
}

// All returns every live segment, in no particular order.
func (r *Registry) All() []Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Segment, 0, len(r.buckets))
	for _, bucket := range r.buckets {
		out = append(out, bucket...)
	}
	return out
}

// Ranges returns the live segments as the [Base,Size) pairs used by
// block.BlockSet.OverlapsAny.
func (r *Registry) Ranges() []struct{ Base, Size uintptr } {
	all := r.All()
	out := make([]struct{ Base, Size uintptr }, len(all))
	for i, s := range all {
		out[i] = struct{ Base, Size uintptr }{s.Base, uintptr(s.Size)}
	}
	return out
}
