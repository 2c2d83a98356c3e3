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

// Package region implements the region shell (spec §4.F) and the
// commit protocol (spec §4.E): it owns the segment registry, the set
// of live transactions, and the shared/exclusive lock that serializes
// readers against committers. Raw segment allocation is delegated to
// a stmalloc.Factory; everything else in this package is the STM
// core's own responsibility.
package region

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/latticeworks/stm/block"
	"github.com/latticeworks/stm/segment"
	"github.com/latticeworks/stm/txn"
)

// ErrLiveTransactions is returned by Destroy when transactions are
// still registered.
var ErrLiveTransactions = errors.New("region: cannot destroy with live transactions")

// ErrInvalidConfig is returned by Create for a bad size/align pair.
var ErrInvalidConfig = errors.New("region: size must be a positive multiple of align, align must be a power of two")

// Logger is the narrow logging capability the region accepts, the
// same shape as tenant/dcache.Cache.Logger: nil means silent.
type Logger interface {
	Printf(f string, args ...any)
}

// Factory is the segment factory collaborator (spec §1): the region
// calls it but does not know how raw memory is actually obtained.
type Factory interface {
	Alloc(size, align int) (segment.Segment, error)
	Release(seg segment.Segment) error
}

// Config configures a new Region.
type Config struct {
	// FirstSegmentSize is the size, in bytes, of the segment created
	// at region initialization. Must be a positive multiple of Align.
	FirstSegmentSize int
	// Align is the region's alignment, a power of two.
	Align int
	// Factory supplies raw segment memory. Required.
	Factory Factory
	// Logger receives diagnostic output. Optional.
	Logger Logger
}

// Validate reproduces the alignment check the original implementation
// performs before constructing a region (original_source/259413/tm.cpp,
// see SPEC_FULL §9).
func (c Config) Validate() error {
	if c.Align <= 0 || c.Align&(c.Align-1) != 0 {
		return ErrInvalidConfig
	}
	if c.FirstSegmentSize <= 0 || c.FirstSegmentSize%c.Align != 0 {
		return ErrInvalidConfig
	}
	if c.Factory == nil {
		return fmt.Errorf("%w: Factory is required", ErrInvalidConfig)
	}
	return nil
}

// Region owns shared segments, live transactions, and the lock that
// serializes readers against committers.
type Region struct {
	align int
	first uintptr

	factory Factory
	logger  Logger

	registry *segment.Registry

	// lock serializes readers (shared) against committers
	// (exclusive). Generalizes vm/malloc.go's single memlock
	// sync.Mutex into a shared/exclusive split because the spec
	// requires concurrent readers.
	lock sync.RWMutex

	liveMu sync.Mutex
	live   map[uuid.UUID]*txn.Transaction
}

// Create allocates the region's first segment and returns a ready
// Region.
func Create(cfg Config) (*Region, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seg, err := cfg.Factory.Alloc(cfg.FirstSegmentSize, cfg.Align)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", segment.ErrResourceExhausted, err)
	}
	r := &Region{
		align:    cfg.Align,
		first:    seg.Base,
		factory:  cfg.Factory,
		logger:   cfg.Logger,
		registry: segment.NewRegistry(),
		live:     make(map[uuid.UUID]*txn.Transaction),
	}
	r.registry.Add(seg)
	return r, nil
}

// Start returns the base address of the first segment.
func (r *Region) Start() uintptr { return r.first }

// Size returns the first segment's size.
func (r *Region) Size() int {
	seg, _ := r.registry.Get(r.first)
	return seg.Size
}

// Align returns the region's alignment.
func (r *Region) Align() int { return r.align }

// Destroy tears the region down. It refuses to do so while
// transactions are still live, matching spec §6's tx_destroy
// precondition.
func (r *Region) Destroy() error {
	r.liveMu.Lock()
	n := len(r.live)
	r.liveMu.Unlock()
	if n > 0 {
		return ErrLiveTransactions
	}
	for _, seg := range r.registry.All() {
		_ = r.factory.Release(seg)
	}
	return nil
}

// WithReadLock runs op while holding the region's shared lock,
// releasing it on every exit path including panic, mirroring the
// scoped-acquisition pattern spec §9 calls for.
func (r *Region) WithReadLock(op func() error) error {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return op()
}

// WithWriteLock runs op while holding the region's exclusive lock.
func (r *Region) WithWriteLock(op func() error) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return op()
}

// GetSegment returns the segment whose base exactly matches addr.
func (r *Region) GetSegment(addr uintptr) (segment.Segment, bool) { return r.registry.Get(addr) }

// FindSegment returns the segment enclosing addr.
func (r *Region) FindSegment(addr uintptr) (segment.Segment, bool) {
	return r.registry.FindContaining(addr)
}

// AddSegment registers seg in the region's segment registry. Must be
// called under the write lock.
func (r *Region) AddSegment(seg segment.Segment) { r.registry.Add(seg) }

// FreeSegment releases the segment at addr back to the factory and
// removes it from the registry. Must be called under the write lock.
func (r *Region) FreeSegment(addr uintptr) error {
	seg, ok := r.registry.Get(addr)
	if !ok {
		return segment.ErrNotFound
	}
	r.registry.Remove(addr)
	return r.factory.Release(seg)
}

// ReadThrough copies size bytes from shared memory at addr, to satisfy
// block.Region / txn.Shared. Callers must hold at least the read lock.
func (r *Region) ReadThrough(addr uintptr, size int) []byte {
	seg, ok := r.registry.FindContaining(addr)
	if !ok {
		return make([]byte, size)
	}
	off := addr - seg.Base
	out := make([]byte, size)
	copy(out, seg.Data[off:int(off)+size])
	return out
}

var _ block.Region = (*Region)(nil)

// DeleteTransaction removes tx from the live set. Safe to call more
// than once.
func (r *Region) DeleteTransaction(tx *txn.Transaction) {
	r.liveMu.Lock()
	delete(r.live, tx.ID)
	r.liveMu.Unlock()
}

func (r *Region) logf(f string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(f, args...)
	}
}
