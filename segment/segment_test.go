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

package segment

import "testing"

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	seg := Segment{Base: 0x1000, Size: 64}
	r.Add(seg)

	got, ok := r.Get(0x1000)
	if !ok || got.Base != seg.Base || got.Size != seg.Size {
		t.Fatalf("Get miss or mismatch: %+v, %v", got, ok)
	}

	r.Remove(0x1000)
	if _, ok := r.Get(0x1000); ok {
		t.Fatal("expected segment to be removed")
	}
}

func TestRegistryFindContaining(t *testing.T) {
	r := NewRegistry()
	r.Add(Segment{Base: 0x2000, Size: 256})

	got, ok := r.FindContaining(0x2010)
	if !ok || got.Base != 0x2000 {
		t.Fatalf("expected to find enclosing segment, got %+v, %v", got, ok)
	}
	if _, ok := r.FindContaining(0x3000); ok {
		t.Fatal("did not expect a match outside any segment")
	}
}

func TestRegistryOverwrite(t *testing.T) {
	r := NewRegistry()
	r.Add(Segment{Base: 0x10, Size: 4})
	r.Add(Segment{Base: 0x10, Size: 8})
	got, _ := r.Get(0x10)
	if got.Size != 8 {
		t.Fatalf("expected overwrite to update size, got %d", got.Size)
	}
	if len(r.All()) != 1 {
		t.Fatalf("expected exactly one entry after overwrite, got %d", len(r.All()))
	}
}
