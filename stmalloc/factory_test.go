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

package stmalloc

import (
	"errors"
	"testing"
)

func TestHeapFactoryAllocRelease(t *testing.T) {
	var f HeapFactory
	seg, err := f.Alloc(64, 16)
	if err != nil {
		t.Fatal(err)
	}
	if seg.Size != 64 || len(seg.Data) != 64 {
		t.Fatalf("unexpected segment: %+v", seg)
	}
	if err := f.Release(seg); err != nil {
		t.Fatal(err)
	}
}

func TestHeapFactoryRejectsBadAlignment(t *testing.T) {
	var f HeapFactory
	if _, err := f.Alloc(10, 4); !errors.Is(err, ErrAlignment) {
		t.Fatalf("expected ErrAlignment, got %v", err)
	}
}

func TestLimitedFactoryFails(t *testing.T) {
	f := &LimitedFactory{Inner: HeapFactory{}, FailEvery: 2}
	if _, err := f.Alloc(16, 16); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Alloc(16, 16); err == nil {
		t.Fatal("expected second call to fail")
	}
	if _, err := f.Alloc(16, 16); err != nil {
		t.Fatal(err)
	}
}
