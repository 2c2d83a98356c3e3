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

package stm

import (
	"encoding/binary"
	"testing"

	"github.com/latticeworks/stm/stmalloc"
)

func TestFacadeWriteReadCommit(t *testing.T) {
	r, err := Create(Config{
		FirstSegmentSize: 64,
		Align:            8,
		Factory:          stmalloc.HeapFactory{},
	})
	if err != nil {
		t.Fatal(err)
	}

	w := r.Begin(false)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 42)
	if !w.Write(r.Start(), 4, buf) {
		t.Fatal("write failed")
	}
	if !w.End() {
		t.Fatal("commit failed")
	}

	ro := r.Begin(true)
	out := make([]byte, 4)
	if !ro.Read(r.Start(), 4, out) {
		t.Fatal("read failed")
	}
	if binary.LittleEndian.Uint32(out) != 42 {
		t.Fatalf("got %d, want 42", binary.LittleEndian.Uint32(out))
	}
	if !ro.End() {
		t.Fatal("expected read-only commit to succeed")
	}

	if err := r.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
}

func TestFacadeAllocFree(t *testing.T) {
	r, err := Create(Config{
		FirstSegmentSize: 64,
		Align:            8,
		Factory:          stmalloc.HeapFactory{},
	})
	if err != nil {
		t.Fatal(err)
	}

	w := r.Begin(false)
	addr, err := w.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Free(addr) {
		t.Fatal("free failed")
	}
	if !w.End() {
		t.Fatal("commit failed")
	}
}
