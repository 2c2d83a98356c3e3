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

package stmdebug

import (
	"bytes"
	"testing"

	"github.com/latticeworks/stm/segment"
	"github.com/latticeworks/stm/stmalloc"
)

func TestTrackerPassesThroughAllocRelease(t *testing.T) {
	tr := &Tracker{Inner: stmalloc.HeapFactory{}}
	seg, err := tr.Alloc(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	if seg.Size != 16 {
		t.Fatalf("size = %d, want 16", seg.Size)
	}
	if err := tr.Release(seg); err != nil {
		t.Fatal(err)
	}
}

func TestTrackerRejectsBadAlignment(t *testing.T) {
	tr := &Tracker{Inner: stmalloc.HeapFactory{}}
	if _, err := tr.Alloc(16, 3); err == nil {
		t.Fatal("expected an alignment error")
	}
}

func TestSnapshotRoundTripUncompressed(t *testing.T) {
	reg := segment.NewRegistry()
	reg.Add(segment.Segment{Base: 0x1000, Size: 4, Data: []byte{1, 2, 3, 4}})
	reg.Add(segment.Segment{Base: 0x2000, Size: 3, Data: []byte{5, 6, 7}})

	snap := NewSnapshot(reg)
	var buf bytes.Buffer
	if err := snap.WriteTo(&buf, false); err != nil {
		t.Fatal(err)
	}

	back, err := ReadSnapshot(&buf, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(back.Segments))
	}
}

func TestSnapshotRoundTripCompressed(t *testing.T) {
	reg := segment.NewRegistry()
	reg.Add(segment.Segment{Base: 0x1000, Size: 8, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}})

	snap := NewSnapshot(reg)
	var buf bytes.Buffer
	if err := snap.WriteTo(&buf, true); err != nil {
		t.Fatal(err)
	}

	back, err := ReadSnapshot(&buf, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(back.Segments) != 1 || back.Segments[0].Base != 0x1000 {
		t.Fatalf("unexpected round trip result: %+v", back.Segments)
	}
	for i, b := range back.Segments[0].Data {
		if b != byte(i+1) {
			t.Fatalf("byte %d = %d, want %d", i, b, i+1)
		}
	}
}

func TestDumpLiveListsSegmentsSortedByBase(t *testing.T) {
	reg := segment.NewRegistry()
	reg.Add(segment.Segment{Base: 0x2000, Size: 8})
	reg.Add(segment.Segment{Base: 0x1000, Size: 4})

	var buf bytes.Buffer
	DumpLive(&buf, reg)

	out := buf.String()
	first := bytes.Index([]byte(out), []byte("0x1000"))
	second := bytes.Index([]byte(out), []byte("0x2000"))
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected base 0x1000 listed before 0x2000, got:\n%s", out)
	}
}

func TestOutstandingEmptyWithoutLeakTag(t *testing.T) {
	tr := &Tracker{Inner: stmalloc.HeapFactory{}}
	seg, err := tr.Alloc(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Release(seg)
	// Without -tags=stmmemleaks, trace is a no-op, so nothing should
	// ever show up as outstanding.
	if got := Outstanding(); len(got) != 0 {
		t.Fatalf("Outstanding() = %v, want empty (leak tag not set)", got)
	}
}
