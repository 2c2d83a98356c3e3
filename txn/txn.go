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

// Package txn implements per-transaction state: the read/write caches,
// the allocated/freed/freed-by-others bookkeeping, the inbox of peer
// commits, and the snapshot/conflict engine that drains it. It has no
// notion of OS threads or locks beyond its own inbox mutex; the
// region's read/write lock (package region) is what actually
// serializes transactions against each other.
package txn

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"

	"github.com/latticeworks/stm/block"
	"github.com/latticeworks/stm/segment"
)

// Errors returned by transaction operations. Per spec §7, these are
// values, not panics: a failed operation flips IsAborted and returns
// one of these (or a plain false/NoMem signal) to the caller.
var (
	ErrAborted         = errors.New("txn: transaction already aborted")
	ErrConflict        = errors.New("txn: conflicting peer commit")
	ErrAccessViolation = errors.New("txn: address was freed by another transaction")
	ErrNoMem           = errors.New("txn: allocator out of memory")
)

// Commit is the value a committer delivers into every live peer's
// inbox. Written carries the byte ranges the committer wrote: for a
// read-write recipient only the address ranges matter (borrowed
// blocks), but a read-only recipient additionally needs the pre-commit
// bytes of those ranges (and of freed segments) because shared memory
// will have already been mutated by the time it drains this record.
type Commit struct {
	Written      block.BlockSet
	PreCommit    block.BlockSet // only populated for read-only recipients
	Freed        map[uintptr]segment.Segment
	PreCommitSeg map[uintptr][]byte // pre-free snapshot, read-only recipients only
}

// Transaction is one worker's in-flight sequence of reads, writes,
// allocations and frees.
type Transaction struct {
	ID         uuid.UUID
	IsReadOnly bool

	// readCache holds address ranges read from shared memory (no data);
	// writeCache holds staged writes for read-write transactions, or is
	// repurposed to hold the private snapshot for read-only ones.
	readCache  block.BlockSet
	writeCache block.BlockSet

	allocated     map[uintptr]segment.Segment
	freed         map[uintptr]segment.Segment
	freedByOthers map[uintptr]segment.Segment

	inboxMu sync.Mutex
	inbox   []Commit

	aborted bool
}

// New constructs an empty transaction. Registration into a region's
// live-transaction set is the region's responsibility (spec §4.C
// begin()), not this package's.
func New(readOnly bool) *Transaction {
	return &Transaction{
		ID:            uuid.New(),
		IsReadOnly:    readOnly,
		allocated:     make(map[uintptr]segment.Segment),
		freed:         make(map[uintptr]segment.Segment),
		freedByOthers: make(map[uintptr]segment.Segment),
	}
}

// IsAborted reports whether t has already been aborted.
func (t *Transaction) IsAborted() bool { return t.aborted }

// Deliver pushes a peer's commit record onto t's inbox. Safe to call
// concurrently with t's own operations; the inbox mutex is held only
// briefly, mirroring tenant/dcache.Cache's lock/defer-unlock shape.
func (t *Transaction) Deliver(c Commit) {
	t.inboxMu.Lock()
	t.inbox = append(t.inbox, c)
	t.inboxMu.Unlock()
}

// drainInbox applies every queued peer commit to t's private view,
// validating conflicts for read-write transactions and overlaying
// pre-commit snapshots for read-only ones. It takes a length snapshot
// up front so a peer delivering again mid-drain cannot make this loop
// livelock (grounded on original_source/259413/transaction.cpp's
// bounded retry loop, see SPEC_FULL §9).
func (t *Transaction) drainInbox() error {
	t.inboxMu.Lock()
	n := len(t.inbox)
	pending := append([]Commit(nil), t.inbox[:n]...)
	t.inbox = t.inbox[n:]
	t.inboxMu.Unlock()

	for _, c := range pending {
		if t.IsReadOnly {
			t.applyReadOnly(c)
			continue
		}
		if err := t.applyReadWrite(c); err != nil {
			return err
		}
	}
	return nil
}

// applyReadOnly overlays a peer commit's pre-commit bytes onto the
// private snapshot so that future reads keep returning what this
// transaction has already observed, never the peer's new bytes (spec
// §4.D, property 4).
func (t *Transaction) applyReadOnly(c Commit) {
	prior := t.writeCache
	// c.PreCommit is shared by every read-only recipient of the same
	// commit, so take a private copy before merging into it.
	t.writeCache = c.PreCommit.Copy()
	for base, bytes := range c.PreCommitSeg {
		_ = t.writeCache.Add(block.Borrow(base, bytes), true)
	}
	for _, e := range prior.Entries() {
		// re-adding what we already held on top of the peer's
		// pre-commit snapshot guarantees our own earlier reads win.
		_ = t.writeCache.Add(e, true)
	}
}

// applyReadWrite validates a peer commit against this transaction's
// own read/write footprint and freed set (spec §4.D).
func (t *Transaction) applyReadWrite(c Commit) error {
	for _, e := range t.readCache.Entries() {
		if c.Written.Overlaps(e) {
			return t.abortWith(ErrConflict)
		}
	}
	segRanges := rangesOf(c.Freed)
	if t.writeCache.OverlapsAny(segRanges) || t.readCache.OverlapsAny(segRanges) {
		return t.abortWith(ErrConflict)
	}
	for base := range c.Freed {
		if _, ok := t.freed[base]; ok {
			return t.abortWith(ErrConflict)
		}
	}
	for base, seg := range c.Freed {
		t.freedByOthers[base] = seg
	}
	return nil
}

func rangesOf(m map[uintptr]segment.Segment) []struct{ Base, Size uintptr } {
	out := make([]struct{ Base, Size uintptr }, 0, len(m))
	for _, s := range m {
		out = append(out, struct{ Base, Size uintptr }{s.Base, uintptr(s.Size)})
	}
	return out
}

// abortWith aborts t and returns err, for use in single-expression
// error returns throughout the op implementations below.
func (t *Transaction) abortWith(err error) error {
	t.Abort()
	return err
}

// Abort drops t's references to its allocated segments, frees its
// caches, drains (and discards) the inbox, and marks t terminally dead.
// Idempotent. Allocated segments are not handed back to the factory's
// Release here; only their entries in t's bookkeeping are cleared.
func (t *Transaction) Abort() {
	if t.aborted {
		return
	}
	t.aborted = true
	maps.Clear(t.allocated)
	t.writeCache.Free()
	t.readCache.Free()
	t.inboxMu.Lock()
	t.inbox = nil
	t.inboxMu.Unlock()
}

// Allocated returns the set of segments this transaction has created
// but not yet published, keyed by base address.
func (t *Transaction) Allocated() map[uintptr]segment.Segment { return t.allocated }

// Freed returns the set of segments this transaction intends to
// deallocate on commit.
func (t *Transaction) Freed() map[uintptr]segment.Segment { return t.freed }

// FreedByOthers returns the set of segments committed peers have
// published as freed, which this transaction must not touch.
func (t *Transaction) FreedByOthers() map[uintptr]segment.Segment { return t.freedByOthers }

// WriteCache exposes the transaction's staged writes (or, for
// read-only transactions, its private snapshot) for the commit
// protocol in package region.
func (t *Transaction) WriteCache() *block.BlockSet { return &t.writeCache }

// ReadCache exposes the transaction's observed address ranges.
func (t *Transaction) ReadCache() *block.BlockSet { return &t.readCache }
