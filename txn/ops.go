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

package txn

import (
	"github.com/latticeworks/stm/block"
	"github.com/latticeworks/stm/segment"
)

// Shared is the narrow capability a Transaction needs from the region
// shell to serve a read/write/alloc/free: segment lookup and
// read-through of live shared memory. The caller (package region) is
// responsible for holding the appropriate lock before invoking any of
// the Slow* methods below.
type Shared interface {
	FindSegment(addr uintptr) (segment.Segment, bool)
	ReadThrough(addr uintptr, size int) []byte
}

// DrainInbox applies every queued peer commit, validating conflicts.
// Must be called with the region's read lock held (callers never
// observe a commit half-applied, since commits themselves run under
// the write lock).
func (t *Transaction) DrainInbox() error {
	if t.aborted {
		return ErrAborted
	}
	if err := t.drainInbox(); err != nil {
		return err
	}
	return nil
}

// FastRead attempts to serve a read-only transaction's read entirely
// from its private snapshot cache, without touching the region lock at
// all (spec §4.C read(), fast path). It returns false if the cache
// does not yet fully cover the requested range, or if t is not
// read-only, or if t is already aborted.
func (t *Transaction) FastRead(source uintptr, size int, dst []byte) bool {
	if t.aborted || !t.IsReadOnly {
		return false
	}
	// Draining here can never abort a read-only transaction (applyReadOnly
	// never returns an error), so it is safe without the region lock.
	_ = t.drainInbox()
	if _, ok := t.writeCache.Contains(block.Block{Begin: source, Size: size}); !ok {
		return false
	}
	got := t.writeCache.Intersect(block.Block{Begin: source, Size: size}, nil)
	return copyOut(got, dst)
}

// SlowRead performs the locked read path: drain the inbox, validate
// freed-by-others for read-write transactions, snapshot the enclosing
// segment for read-only ones, and assemble the result.
func (t *Transaction) SlowRead(shared Shared, source uintptr, size int, dst []byte) error {
	if t.aborted {
		return ErrAborted
	}
	if err := t.drainInbox(); err != nil {
		return err
	}
	req := block.Block{Begin: source, Size: size}
	if !t.IsReadOnly {
		for _, seg := range t.freedByOthers {
			if seg.Contains(source, size) {
				return t.abortWith(ErrAccessViolation)
			}
		}
	} else {
		if _, ok := t.writeCache.Contains(req); !ok {
			seg, ok := shared.FindSegment(source)
			if !ok {
				return t.abortWith(ErrAccessViolation)
			}
			snap := block.New(seg.Base, shared.ReadThrough(seg.Base, seg.Size))
			if err := t.writeCache.Add(snap, true); err != nil {
				return t.abortWith(err)
			}
		}
	}
	got := t.writeCache.Intersect(req, shared)
	if !copyOut(got, dst) {
		return t.abortWith(ErrAccessViolation)
	}
	if !t.IsReadOnly {
		_ = t.readCache.AddRange(source, size)
	}
	return nil
}

func copyOut(s block.BlockSet, dst []byte) bool {
	n := 0
	for _, e := range s.Entries() {
		if n+e.Size > len(dst) {
			return false
		}
		copy(dst[n:n+e.Size], e.Data)
		n += e.Size
	}
	return n == len(dst)
}

// Write stages size bytes from src at shared address target. If
// target falls inside a segment this same transaction allocated (and
// has not yet published), the bytes go directly into that segment's
// private buffer rather than through writeCache (spec §9 Open Question
// 3). Must be called with the region's read lock held.
func (t *Transaction) Write(target uintptr, size int, src []byte) error {
	if t.aborted {
		return ErrAborted
	}
	if err := t.drainInbox(); err != nil {
		return err
	}
	for _, seg := range t.freedByOthers {
		if seg.Contains(target, size) {
			return t.abortWith(ErrAccessViolation)
		}
	}
	for base, seg := range t.allocated {
		if seg.Contains(target, size) {
			off := target - base
			copy(seg.Data[off:int(off)+size], src)
			return nil
		}
	}
	return t.writeCache.Add(block.New(target, src), true)
}

// Alloc creates a new segment via factory and records it in t's
// allocated set. NoMem leaves t alive; Abort (already aborted, or a
// conflicting peer commit found during the inbox drain) destroys it.
func (t *Transaction) Alloc(factory interface {
	Alloc(size, align int) (segment.Segment, error)
}, size, align int) (uintptr, error) {
	if t.aborted {
		return 0, ErrAborted
	}
	if err := t.drainInbox(); err != nil {
		return 0, err
	}
	seg, err := factory.Alloc(size, align)
	if err != nil {
		return 0, ErrNoMem
	}
	t.allocated[seg.Base] = seg
	return seg.Base, nil
}

// Free marks addr for deallocation. If addr belongs to a segment this
// transaction itself allocated, that segment is released immediately
// (it was never published, so there is nothing to undo on commit). If
// addr was freed by another transaction, t aborts. Otherwise addr is
// looked up in the live registry and recorded in t.freed for
// publication at commit time.
func (t *Transaction) Free(shared interface {
	Get(addr uintptr) (segment.Segment, bool)
}, factory interface {
	Release(seg segment.Segment) error
}, addr uintptr) error {
	if t.aborted {
		return ErrAborted
	}
	if err := t.drainInbox(); err != nil {
		return err
	}
	if _, ok := t.freedByOthers[addr]; ok {
		return t.abortWith(ErrAccessViolation)
	}
	if seg, ok := t.allocated[addr]; ok {
		delete(t.allocated, addr)
		if factory != nil {
			_ = factory.Release(seg)
		}
		return nil
	}
	seg, ok := shared.Get(addr)
	if !ok {
		return t.abortWith(ErrAccessViolation)
	}
	t.freed[addr] = seg
	return nil
}
