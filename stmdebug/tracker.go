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

// Package stmdebug carries the diagnostic tooling that sits outside
// the STM core proper: a segment-allocation leak tracker in the shape
// of vm/vmmemleaks.go's page leak checker, and a snapshot dump for
// inspecting a region's live segments.
package stmdebug

import (
	"fmt"
	"io"
	"sync"

	"github.com/latticeworks/stm/segment"
)

var (
	leaksLock   sync.Mutex
	leaksTraces = map[uintptr]string{}
)

// Tracker wraps a segment factory and records the call site of every
// allocation that has not yet been released. Tracing itself only runs
// when the module is built with -tags=stmmemleaks (see trace_debug.go
// and trace_other.go); without that tag Tracker is pure pass-through,
// so it is always safe to wrap a region's Factory with one.
type Tracker struct {
	Inner interface {
		Alloc(size, align int) (segment.Segment, error)
		Release(seg segment.Segment) error
	}
}

// Alloc delegates to the wrapped factory and records the call site on
// success.
func (t *Tracker) Alloc(size, align int) (segment.Segment, error) {
	seg, err := t.Inner.Alloc(size, align)
	if err == nil {
		trace(seg.Base)
	}
	return seg, err
}

// Release delegates to the wrapped factory and clears the call site
// recorded for seg, regardless of whether the release itself succeeds.
func (t *Tracker) Release(seg segment.Segment) error {
	untrace(seg.Base)
	return t.Inner.Release(seg)
}

// Dump writes the stack trace of every still-outstanding allocation to
// w, in vm.LeakCheck's report format. With the stmmemleaks tag absent
// this always writes nothing, since trace never records anything.
func Dump(w io.Writer) {
	leaksLock.Lock()
	defer leaksLock.Unlock()
	i := 1
	for base, stack := range leaksTraces {
		fmt.Fprintf(w, "\n#%d. segment %#x allocated at\n%s\n", i, base, stack)
		i++
	}
}

// Outstanding returns the base addresses of every segment Tracker
// currently believes is unreleased.
func Outstanding() []uintptr {
	leaksLock.Lock()
	defer leaksLock.Unlock()
	out := make([]uintptr, 0, len(leaksTraces))
	for base := range leaksTraces {
		out = append(out, base)
	}
	return out
}
