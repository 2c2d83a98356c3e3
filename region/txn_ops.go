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
	"github.com/latticeworks/stm/block"
	"github.com/latticeworks/stm/txn"
)

// Begin constructs a transaction and registers it in the region's live
// set under the write lock (spec §4.C begin()).
func (r *Region) Begin(readOnly bool) *txn.Transaction {
	t := txn.New(readOnly)
	_ = r.WithWriteLock(func() error {
		r.liveMu.Lock()
		r.live[t.ID] = t
		r.liveMu.Unlock()
		return nil
	})
	return t
}

// Read serves t's read of size bytes at src into dst. It takes the
// read-only fast path first (no lock at all); otherwise it takes the
// region's read lock and runs the full drain/snapshot/assemble path.
func (r *Region) Read(t *txn.Transaction, src uintptr, size int, dst []byte) bool {
	if t.FastRead(src, size, dst) {
		return true
	}
	err := r.WithReadLock(func() error {
		return t.SlowRead(r, src, size, dst)
	})
	if err != nil {
		r.logf("tx %s: read at %#x failed: %s", t.ID, src, err)
		r.DeleteTransaction(t)
		return false
	}
	return true
}

// Write stages size bytes from src into t's view at shared address
// dst, under the region's read lock (writes are private until commit,
// so they only need to be consistent with concurrently-draining
// inboxes, not serialized against other writers).
func (r *Region) Write(t *txn.Transaction, dst uintptr, size int, src []byte) bool {
	err := r.WithReadLock(func() error {
		return t.Write(dst, size, src)
	})
	if err != nil {
		r.logf("tx %s: write at %#x failed: %s", t.ID, dst, err)
		r.DeleteTransaction(t)
		return false
	}
	return true
}

// Alloc creates a new segment for t. See txn.ErrNoMem vs the aborting
// errors for the distinction spec §7 draws between OutOfMemoryForSegment
// and Conflict/AccessViolation.
func (r *Region) Alloc(t *txn.Transaction, size int) (uintptr, error) {
	var addr uintptr
	var opErr error
	err := r.WithReadLock(func() error {
		addr, opErr = t.Alloc(r.factory, size, r.align)
		return opErr
	})
	if err != nil && err != txn.ErrNoMem {
		r.logf("tx %s: alloc(%d) aborted: %s", t.ID, size, err)
		r.DeleteTransaction(t)
	}
	return addr, err
}

// Free marks addr for deallocation by t.
func (r *Region) Free(t *txn.Transaction, addr uintptr) bool {
	err := r.WithReadLock(func() error {
		return t.Free(r.registry, r.factory, addr)
	})
	if err != nil {
		r.logf("tx %s: free(%#x) failed: %s", t.ID, addr, err)
		r.DeleteTransaction(t)
		return false
	}
	return true
}

// Commit executes the end-of-transaction protocol under the region's
// write lock (spec §4.E):
//
//  1. Drain the inbox; any conflict aborts.
//  2. Read-only transactions have no visible effects; stop here.
//  3. Remove self from the live set first, so fan-out never delivers
//     to self.
//  4. Deliver a Commit record to every remaining live peer, snapshotting
//     pre-commit bytes for read-only recipients before anything is
//     mutated.
//  5. Publish allocated segments, apply staged writes, publish frees —
//     in that order, so an abort during fan-out leaves shared memory
//     untouched.
func (r *Region) Commit(t *txn.Transaction) bool {
	committed := false
	err := r.WithWriteLock(func() error {
		if err := t.DrainInbox(); err != nil {
			return err
		}
		if t.IsReadOnly {
			committed = true
			return nil
		}
		r.DeleteTransaction(t)

		peers := r.peersExcept(t)
		roCommit, rwCommit := r.buildCommitRecords(t)
		for _, p := range peers {
			if p.IsReadOnly {
				p.Deliver(roCommit)
			} else {
				p.Deliver(rwCommit)
			}
		}

		for _, seg := range t.Allocated() {
			r.AddSegment(seg)
		}
		for _, e := range t.WriteCache().Entries() {
			r.publishWrite(e)
		}
		for base := range t.Freed() {
			_ = r.FreeSegment(base)
		}
		committed = true
		return nil
	})
	if err != nil {
		r.logf("tx %s: commit aborted: %s", t.ID, err)
		return false
	}
	return committed
}

// End drains and commits t, always deleting it from the live set
// afterward regardless of outcome (spec §6 tx_end).
func (r *Region) End(t *txn.Transaction) bool {
	ok := r.Commit(t)
	if !ok {
		t.Abort()
	}
	r.DeleteTransaction(t)
	return ok
}

func (r *Region) peersExcept(self *txn.Transaction) []*txn.Transaction {
	r.liveMu.Lock()
	defer r.liveMu.Unlock()
	out := make([]*txn.Transaction, 0, len(r.live))
	for id, p := range r.live {
		if id == self.ID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// buildCommitRecords constructs the two flavors of Commit record: the
// read-write one (address ranges only) and the read-only one (owning
// pre-commit snapshots, since shared memory is mutated after fan-out).
func (r *Region) buildCommitRecords(t *txn.Transaction) (readOnly, readWrite txn.Commit) {
	written := *t.WriteCache()
	freed := t.Freed()

	readWrite = txn.Commit{Written: written, Freed: freed}

	var preCommit block.BlockSet
	for _, e := range written.Entries() {
		snap := r.ReadThrough(e.Begin, e.Size)
		_ = preCommit.Add(block.New(e.Begin, snap), true)
	}
	preCommitSeg := make(map[uintptr][]byte, len(freed))
	for base, seg := range freed {
		preCommitSeg[base] = append([]byte(nil), seg.Data...)
	}
	readOnly = txn.Commit{Written: written, PreCommit: preCommit, Freed: freed, PreCommitSeg: preCommitSeg}
	return readOnly, readWrite
}

func (r *Region) publishWrite(e block.Block) {
	seg, ok := r.registry.FindContaining(e.Begin)
	if !ok {
		return
	}
	off := e.Begin - seg.Base
	copy(seg.Data[off:int(off)+e.Size], e.Data)
}
