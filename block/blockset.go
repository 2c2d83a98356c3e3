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

package block

import (
	"golang.org/x/exp/slices"
)

// Region is the read-through collaborator BlockSet.Intersect consults
// for bytes it does not itself cover. A shared-memory Region (or a
// segment registry standing in for one in tests) implements this.
type Region interface {
	// ReadThrough copies size bytes starting at addr into a freshly
	// returned slice. Implementations are expected to hold whatever
	// lock is appropriate before calling Intersect.
	ReadThrough(addr uintptr, size int) []byte
}

// BlockSet is a set of pairwise-disjoint Blocks, kept sorted by Begin.
// The zero value is an empty, usable set.
type BlockSet struct {
	entries []Block
}

// Len returns the number of entries in s.
func (s *BlockSet) Len() int { return len(s.entries) }

// Entries returns the set's entries in address order. The returned
// slice must not be mutated by the caller.
func (s *BlockSet) Entries() []Block { return s.entries }

func (s *BlockSet) indexOf(begin uintptr) (int, bool) {
	return slices.BinarySearchFunc(s.entries, begin, func(b Block, target uintptr) int {
		switch {
		case b.Begin < target:
			return -1
		case b.Begin > target:
			return 1
		default:
			return 0
		}
	})
}

// overlapIndices returns [lo,hi) covering every entry that overlaps
// [begin,end).
func (s *BlockSet) overlapIndices(begin, end uintptr) (lo, hi int) {
	lo = slices.IndexFunc(s.entries, func(b Block) bool { return b.End() > begin })
	if lo < 0 {
		return len(s.entries), len(s.entries)
	}
	hi = lo
	for hi < len(s.entries) && s.entries[hi].Begin < end {
		hi++
	}
	return lo, hi
}

// touchIndices is like overlapIndices but also merges entries that are
// exactly adjacent to [begin,end) (old.end == new.begin), per spec
// §4.A's "touching blocks are merged" rule.
func (s *BlockSet) touchIndices(begin, end uintptr) (lo, hi int) {
	lo = slices.IndexFunc(s.entries, func(b Block) bool { return b.End() >= begin })
	if lo < 0 {
		return len(s.entries), len(s.entries)
	}
	hi = lo
	for hi < len(s.entries) && s.entries[hi].Begin <= end {
		hi++
	}
	return lo, hi
}

// Add unions s with b. Any existing entries adjacent to or overlapping
// b's range are merged into a single combined block.
//
// If copy is true, the merged block owns a freshly allocated buffer
// containing the bytes of the old entries overlaid by b's bytes
// (superseded entries are released). If copy is false, b is inserted
// as-is and keeps referencing b.Data, which is only possible when no
// existing entry touches or overlaps b; otherwise Add returns
// ErrPartialBorrow and leaves s unchanged. An exact re-add of an
// entry's range with identical bytes is a no-op for either value of
// copy. See ErrPartialBorrow and spec §9 Open Question 2.
func (s *BlockSet) Add(b Block, copyBytes bool) error {
	if b.Size <= 0 {
		return ErrZeroSize
	}
	lo, hi := s.touchIndices(b.Begin, b.End())
	if hi == lo {
		s.insert(lo, b)
		return nil
	}
	if hi-lo == 1 && s.entries[lo].Begin == b.Begin && s.entries[lo].End() == b.End() &&
		s.entries[lo].Fingerprint() == b.Fingerprint() {
		// Identical re-add (testable property 6): the digest says the
		// bytes already match exactly, so skip the merge/copy entirely
		// instead of comparing byte-for-byte.
		return nil
	}
	if !copyBytes {
		return ErrPartialBorrow
	}
	mergedBegin := b.Begin
	mergedEnd := b.End()
	for _, e := range s.entries[lo:hi] {
		if e.Begin < mergedBegin {
			mergedBegin = e.Begin
		}
		if e.End() > mergedEnd {
			mergedEnd = e.End()
		}
	}
	merged := make([]byte, mergedEnd-mergedBegin)
	for _, e := range s.entries[lo:hi] {
		copy(merged[e.Begin-mergedBegin:], e.Data)
	}
	copy(merged[b.Begin-mergedBegin:], b.Data)
	for i := lo; i < hi; i++ {
		s.entries[i].Release()
	}
	newBlock := Block{Begin: mergedBegin, Size: int(mergedEnd - mergedBegin), Data: merged, OwnsData: true}
	s.entries = append(s.entries[:lo], append([]Block{newBlock}, s.entries[hi:]...)...)
	return nil
}

// AddRange merges [begin,begin+size) into s by address only, ignoring
// byte content entirely (no Data is copied or compared). This is for
// read_cache bookkeeping (spec §3), which per the data model records
// only the ranges a read-write transaction has observed, never bytes.
func (s *BlockSet) AddRange(begin uintptr, size int) error {
	if size <= 0 {
		return ErrZeroSize
	}
	lo, hi := s.touchIndices(begin, begin+uintptr(size))
	if hi == lo {
		s.insert(lo, Block{Begin: begin, Size: size})
		return nil
	}
	mergedBegin := begin
	mergedEnd := begin + uintptr(size)
	for _, e := range s.entries[lo:hi] {
		if e.Begin < mergedBegin {
			mergedBegin = e.Begin
		}
		if e.End() > mergedEnd {
			mergedEnd = e.End()
		}
	}
	merged := Block{Begin: mergedBegin, Size: int(mergedEnd - mergedBegin)}
	s.entries = append(s.entries[:lo], append([]Block{merged}, s.entries[hi:]...)...)
	return nil
}

func (s *BlockSet) insert(at int, b Block) {
	s.entries = append(s.entries, Block{})
	copy(s.entries[at+1:], s.entries[at:])
	s.entries[at] = b
}

// Overlaps reports whether any entry of s shares a byte with b.
func (s *BlockSet) Overlaps(b Block) bool {
	lo, hi := s.overlapIndices(b.Begin, b.End())
	return hi > lo
}

// OverlapsAny reports whether any entry's Begin lies inside any segment
// in segs (given as a slice of [base,base+size) ranges). Used during
// conflict validation to detect that a committing peer freed a segment
// this transaction has touched.
func (s *BlockSet) OverlapsAny(segs []struct{ Base, Size uintptr }) bool {
	for _, e := range s.entries {
		for _, seg := range segs {
			if e.Begin >= seg.Base && e.Begin < seg.Base+seg.Size {
				return true
			}
		}
	}
	return false
}

// Contains returns the unique existing entry that fully encloses b's
// range, or false if none does.
func (s *BlockSet) Contains(b Block) (Block, bool) {
	lo, hi := s.overlapIndices(b.Begin, b.End())
	for i := lo; i < hi; i++ {
		e := s.entries[i]
		if e.Begin <= b.Begin && e.End() >= b.End() {
			return e, true
		}
	}
	return Block{}, false
}

// Intersect returns a new BlockSet whose union equals exactly [b.Begin,
// b.Begin+b.Size). Bytes covered by s's own entries are clipped from
// them; gaps are filled by read-through blocks that borrow bytes
// fetched from src (and, when src is nil, borrow the address range
// itself with a nil buffer — used by callers who only need to know the
// gap exists, not its bytes).
func (s *BlockSet) Intersect(b Block, src Region) BlockSet {
	var out BlockSet
	cursor := b.Begin
	end := b.End()
	lo, hi := s.overlapIndices(b.Begin, end)
	for i := lo; i < hi; i++ {
		e := s.entries[i]
		if e.Begin > cursor {
			out.fillGap(cursor, e.Begin, src)
		}
		clipBegin := e.Begin
		if clipBegin < cursor {
			clipBegin = cursor
		}
		clipEnd := e.End()
		if clipEnd > end {
			clipEnd = end
		}
		if clipEnd > clipBegin {
			off := clipBegin - e.Begin
			out.entries = append(out.entries, Borrow(clipBegin, e.Data[off:off+(clipEnd-clipBegin)]))
		}
		if clipEnd > cursor {
			cursor = clipEnd
		}
	}
	if cursor < end {
		out.fillGap(cursor, end, src)
	}
	return out
}

func (s *BlockSet) fillGap(begin, end uintptr, src Region) {
	size := int(end - begin)
	if src != nil {
		s.entries = append(s.entries, Borrow(begin, src.ReadThrough(begin, size)))
		return
	}
	s.entries = append(s.entries, Block{Begin: begin, Size: size})
}

// Copy performs a deep copy of s: each entry's buffer is cloned.
func (s *BlockSet) Copy() BlockSet {
	var out BlockSet
	out.entries = make([]Block, len(s.entries))
	for i, e := range s.entries {
		out.entries[i] = e.Clone()
	}
	return out
}

// Free releases every owned buffer in s and empties it.
func (s *BlockSet) Free() {
	for i := range s.entries {
		s.entries[i].Release()
	}
	s.entries = nil
}
