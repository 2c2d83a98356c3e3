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
	"encoding/binary"
	"testing"

	"github.com/latticeworks/stm/stmalloc"
)

const wordSize = 4

func newTestRegion(t *testing.T, words int) *Region {
	t.Helper()
	r, err := Create(Config{
		FirstSegmentSize: words * wordSize,
		Align:            wordSize,
		Factory:          stmalloc.HeapFactory{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func putWord(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }
func getWord(buf []byte) uint32    { return binary.LittleEndian.Uint32(buf) }

// E1: initialize-then-read.
func TestScenarioE1(t *testing.T) {
	r := newTestRegion(t, 10)
	w := r.Begin(false)
	for i := 0; i < 10; i++ {
		buf := make([]byte, wordSize)
		putWord(buf, 5)
		if !r.Write(w, r.Start()+uintptr(i*wordSize), wordSize, buf) {
			t.Fatalf("write %d failed", i)
		}
	}
	if !r.Commit(w) {
		t.Fatal("T1 commit failed")
	}

	ro := r.Begin(true)
	for i := 0; i < 10; i++ {
		buf := make([]byte, wordSize)
		if !r.Read(ro, r.Start()+uintptr(i*wordSize), wordSize, buf) {
			t.Fatalf("read %d failed", i)
		}
		if getWord(buf) != 5 {
			t.Fatalf("word %d = %d, want 5", i, getWord(buf))
		}
	}
	r.End(ro)
}

// E2: disjoint writers serialize.
func TestScenarioE2(t *testing.T) {
	r := newTestRegion(t, 4)
	t1 := r.Begin(false)
	t2 := r.Begin(false)

	b1 := make([]byte, wordSize)
	putWord(b1, 1)
	if !r.Write(t1, r.Start(), wordSize, b1) {
		t.Fatal("t1 write failed")
	}
	b2 := make([]byte, wordSize)
	putWord(b2, 2)
	if !r.Write(t2, r.Start()+wordSize, wordSize, b2) {
		t.Fatal("t2 write failed")
	}
	if !r.Commit(t1) {
		t.Fatal("t1 commit failed")
	}
	if !r.Commit(t2) {
		t.Fatal("t2 commit failed")
	}

	ro := r.Begin(true)
	out := make([]byte, wordSize)
	r.Read(ro, r.Start(), wordSize, out)
	if getWord(out) != 1 {
		t.Fatalf("word0 = %d, want 1", getWord(out))
	}
	r.Read(ro, r.Start()+wordSize, wordSize, out)
	if getWord(out) != 2 {
		t.Fatalf("word1 = %d, want 2", getWord(out))
	}
	r.End(ro)
}

// E3: read-then-write conflict.
func TestScenarioE3(t *testing.T) {
	r := newTestRegion(t, 1)
	t1 := r.Begin(false)
	t2 := r.Begin(false)

	buf := make([]byte, wordSize)
	if !r.Read(t1, r.Start(), wordSize, buf) {
		t.Fatal("t1 read failed")
	}

	nine := make([]byte, wordSize)
	putWord(nine, 9)
	if !r.Write(t2, r.Start(), wordSize, nine) {
		t.Fatal("t2 write failed")
	}
	if !r.Commit(t2) {
		t.Fatal("t2 commit failed")
	}

	if r.Commit(t1) {
		t.Fatal("expected t1 commit to fail due to conflict")
	}

	ro := r.Begin(true)
	out := make([]byte, wordSize)
	r.Read(ro, r.Start(), wordSize, out)
	if getWord(out) != 9 {
		t.Fatalf("shared word = %d, want 9", getWord(out))
	}
	r.End(ro)
}

// E4: read-only transaction is isolated from a concurrent writer.
func TestScenarioE4(t *testing.T) {
	r := newTestRegion(t, 1)
	ro := r.Begin(true)

	first := make([]byte, wordSize)
	if !r.Read(ro, r.Start(), wordSize, first) {
		t.Fatal("ro first read failed")
	}
	v := getWord(first)

	w := r.Begin(false)
	next := make([]byte, wordSize)
	putWord(next, v+1)
	if !r.Write(w, r.Start(), wordSize, next) {
		t.Fatal("writer write failed")
	}
	if !r.Commit(w) {
		t.Fatal("writer commit failed")
	}

	second := make([]byte, wordSize)
	if !r.Read(ro, r.Start(), wordSize, second) {
		t.Fatal("ro second read failed")
	}
	if getWord(second) != v {
		t.Fatalf("ro observed %d after peer commit, want stable %d", getWord(second), v)
	}
	if !r.Commit(ro) {
		t.Fatal("expected read-only commit to succeed")
	}
}

// E5: alloc-then-free within one transaction leaves no trace.
func TestScenarioE5(t *testing.T) {
	r := newTestRegion(t, 1)
	w := r.Begin(false)

	addr, err := r.Alloc(w, 16)
	if err != nil {
		t.Fatal(err)
	}
	pattern := make([]byte, 16)
	for i := range pattern {
		pattern[i] = byte(i + 1)
	}
	if !r.Write(w, addr, 16, pattern) {
		t.Fatal("write into allocated segment failed")
	}
	if !r.Free(w, addr) {
		t.Fatal("free of own allocation failed")
	}
	if !r.End(w) {
		t.Fatal("expected commit to succeed")
	}
	if _, ok := r.GetSegment(addr); ok {
		t.Fatal("expected no trace of the freed segment in the registry")
	}
}

// E6: a writer that touches a segment freed by another transaction aborts.
func TestScenarioE6(t *testing.T) {
	r := newTestRegion(t, 1)

	t1 := r.Begin(false)
	addr, err := r.Alloc(t1, 16)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Commit(t1) {
		t.Fatal("t1 commit failed")
	}

	t2 := r.Begin(false)
	buf := make([]byte, 16)
	if !r.Read(t2, addr, 16, buf) {
		t.Fatal("t2 read from S failed")
	}

	t3 := r.Begin(false)
	if !r.Free(t3, addr) {
		t.Fatal("t3 free failed")
	}
	if !r.Commit(t3) {
		t.Fatal("t3 commit failed")
	}

	pattern := make([]byte, 16)
	if r.Write(t2, addr, 16, pattern) {
		t.Fatal("expected t2's write into a peer-freed segment to fail")
	}
	if !t2.IsAborted() {
		t.Fatal("expected t2 to be aborted")
	}
}
