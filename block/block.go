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

// Package block implements the disjoint, address-ordered span sets that
// underlie conflict detection in the STM engine: Block is a byte range
// plus a (possibly borrowed) buffer, and BlockSet is a set of Blocks
// that is kept pairwise-disjoint under Add.
package block

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// ErrZeroSize is returned when a caller asks for a block of non-positive
// size. Alignment is not checked by this package.
var ErrZeroSize = errors.New("block: size must be a positive multiple of alignment")

// ErrPartialBorrow is returned by Add when copy is false and the new
// block touches or overlaps an existing entry, so that the merged
// block would need a buffer b.Data alone does not provide (an exact,
// byte-identical re-add is the one exception). Every canonical block
// either owns a buffer sized exactly
// to its own range, or borrows a caller-provided buffer that fully
// covers that range; there is no partial-borrow representation.
var ErrPartialBorrow = errors.New("block: cannot borrow a buffer that does not fully cover the merged range")

// Block is a contiguous byte span. Data may alias memory the Block does
// not own (OwnsData false) or a private buffer the Block is responsible
// for releasing (OwnsData true).
type Block struct {
	Begin    uintptr
	Size     int
	Data     []byte
	OwnsData bool

	fp    [32]byte
	fpSet bool
}

// End returns Begin+Size.
func (b Block) End() uintptr { return b.Begin + uintptr(b.Size) }

// New constructs an owning Block by copying src.
func New(begin uintptr, src []byte) Block {
	data := make([]byte, len(src))
	copy(data, src)
	return Block{Begin: begin, Size: len(src), Data: data, OwnsData: true}
}

// Borrow constructs a non-owning Block that aliases src directly.
func Borrow(begin uintptr, src []byte) Block {
	return Block{Begin: begin, Size: len(src), Data: src, OwnsData: false}
}

// Fingerprint returns a content digest of b.Data, computed lazily and
// cached on first use. It lets BlockSet.Add short-circuit the common
// case of re-adding identical bytes (testable property 6) without a
// byte-for-byte compare against every overlapping entry.
func (b *Block) Fingerprint() [32]byte {
	if !b.fpSet {
		b.fp = blake2b.Sum256(b.Data)
		b.fpSet = true
	}
	return b.fp
}

// Clone performs a deep copy of b, allocating a fresh owned buffer.
func (b Block) Clone() Block {
	cp := New(b.Begin, b.Data)
	cp.Size = b.Size
	if b.fpSet {
		cp.fp, cp.fpSet = b.fp, true
	}
	return cp
}

// Release drops b's owned buffer. It is a no-op for borrowed blocks.
func (b *Block) Release() {
	if b.OwnsData {
		b.Data = nil
	}
}

func (b Block) String() string {
	return fmt.Sprintf("block[%#x,%#x) owns=%v", b.Begin, b.End(), b.OwnsData)
}
