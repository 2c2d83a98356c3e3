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

// Package stm is the public entry point for the software transactional
// memory engine: it wraps package region's Region and package txn's
// Transaction behind the idiomatic Go shapes callers actually want,
// rather than the lock/collaborator plumbing those packages expose to
// each other.
package stm

import (
	"io"

	"github.com/latticeworks/stm/region"
	"github.com/latticeworks/stm/txn"
)

// Config configures a new Region. It is an alias of region.Config so
// callers never need to import package region directly just to call
// Create.
type Config = region.Config

// Region is the shared-memory arena transactions operate over.
type Region struct {
	inner *region.Region
}

// Create allocates a Region's first segment and returns it ready for
// use.
func Create(cfg Config) (*Region, error) {
	inner, err := region.Create(cfg)
	if err != nil {
		return nil, err
	}
	return &Region{inner: inner}, nil
}

// Destroy tears the region down. It fails with region.ErrLiveTransactions
// if any Tx returned by Begin is still live: it has not called End and
// no operation of it has failed (a failed operation already removes it).
func (r *Region) Destroy() error { return r.inner.Destroy() }

// Start returns the base address of the region's first segment.
func (r *Region) Start() uintptr { return r.inner.Start() }

// Size returns the first segment's size in bytes.
func (r *Region) Size() int { return r.inner.Size() }

// Align returns the region's alignment.
func (r *Region) Align() int { return r.inner.Align() }

// Dump writes a diagnostic snapshot of every live segment to w,
// optionally zstd-compressed.
func (r *Region) Dump(w io.Writer, compress bool) error {
	return r.inner.Dump(w, compress)
}

// DumpDiagnostics writes a human-readable listing of live segments and
// outstanding-allocation leak traces to w.
func (r *Region) DumpDiagnostics(w io.Writer) {
	r.inner.DumpDiagnostics(w)
}

// Begin starts a new transaction. A read-only transaction is guaranteed
// a stable snapshot of every byte it observes; its reads of ranges
// already in that snapshot take no region lock, while a read that has
// to snapshot a segment holds the region's read lock and so waits for,
// and delays, a concurrent committer (spec §4.C begin()).
func (r *Region) Begin(readOnly bool) *Tx {
	return &Tx{region: r.inner, t: r.inner.Begin(readOnly)}
}

// Tx is one in-flight transaction against a Region.
type Tx struct {
	region *region.Region
	t      *txn.Transaction
}

// ID returns the transaction's identity, stable for its whole lifetime.
func (t *Tx) ID() string { return t.t.ID.String() }

// IsAborted reports whether a prior operation aborted t.
func (t *Tx) IsAborted() bool { return t.t.IsAborted() }

// Read copies size bytes starting at src into dst. It returns false if
// the read failed; t is left aborted in that case.
func (t *Tx) Read(src uintptr, size int, dst []byte) bool {
	return t.region.Read(t.t, src, size, dst)
}

// Write stages size bytes from src at shared address dst. Writes are
// private to t until a successful End/Commit.
func (t *Tx) Write(dst uintptr, size int, src []byte) bool {
	return t.region.Write(t.t, dst, size, src)
}

// Alloc creates a new segment of size bytes, private to t until commit.
// A txn.ErrNoMem error leaves t alive so the caller can retry or free
// something first; any other error means t is now aborted.
func (t *Tx) Alloc(size int) (uintptr, error) {
	return t.region.Alloc(t.t, size)
}

// Free marks the segment at addr for deallocation when t commits.
func (t *Tx) Free(addr uintptr) bool {
	return t.region.Free(t.t, addr)
}

// End drains, commits, and retires t in a single step, returning
// whether the commit actually succeeded (spec §6 tx_end). t must not be
// used again afterward.
func (t *Tx) End() bool {
	return t.region.End(t.t)
}
