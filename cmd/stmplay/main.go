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

// stmplay runs the E1-E6 scenarios from the command line, outside of
// go test, for poking at the engine interactively.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/latticeworks/stm"
	"github.com/latticeworks/stm/stmalloc"
)

func fatalf(f string, args ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

// scenarioConfig is the shape of a named scenario file: just the region
// parameters, since the scenario bodies themselves are fixed Go
// functions (E1-E6 below) rather than a data-driven script language.
type scenarioConfig struct {
	FirstSegmentSize int `json:"firstSegmentSize"`
	Align            int `json:"align"`
}

func loadConfig(path string) (scenarioConfig, error) {
	cfg := scenarioConfig{FirstSegmentSize: 4096, Align: 8}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func newRegion(cfg scenarioConfig) (*stm.Region, error) {
	return stm.Create(stm.Config{
		FirstSegmentSize: cfg.FirstSegmentSize,
		Align:            cfg.Align,
		Factory:          stmalloc.HeapFactory{},
	})
}

func putWord(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func getWord(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) }

var scenarios = map[string]func(*stm.Region) error{
	"E1": scenarioE1,
	"E2": scenarioE2,
	"E3": scenarioE3,
	"E4": scenarioE4,
	"E5": scenarioE5,
	"E6": scenarioE6,
}

func scenarioE1(r *stm.Region) error {
	w := r.Begin(false)
	if !w.Write(r.Start(), 4, putWord(5)) || !w.End() {
		return fmt.Errorf("E1: write/commit failed")
	}
	ro := r.Begin(true)
	out := make([]byte, 4)
	if !ro.Read(r.Start(), 4, out) || getWord(out) != 5 {
		return fmt.Errorf("E1: expected 5, got %d", getWord(out))
	}
	ro.End()
	fmt.Println("E1: ok, word0 =", getWord(out))
	return nil
}

func scenarioE2(r *stm.Region) error {
	t1, t2 := r.Begin(false), r.Begin(false)
	if !t1.Write(r.Start(), 4, putWord(1)) {
		return fmt.Errorf("E2: t1 write failed")
	}
	if !t2.Write(r.Start()+4, 4, putWord(2)) {
		return fmt.Errorf("E2: t2 write failed")
	}
	if !t1.End() || !t2.End() {
		return fmt.Errorf("E2: commit failed")
	}
	fmt.Println("E2: ok, both disjoint writers committed")
	return nil
}

func scenarioE3(r *stm.Region) error {
	t1, t2 := r.Begin(false), r.Begin(false)
	buf := make([]byte, 4)
	if !t1.Read(r.Start(), 4, buf) {
		return fmt.Errorf("E3: t1 read failed")
	}
	if !t2.Write(r.Start(), 4, putWord(9)) || !t2.End() {
		return fmt.Errorf("E3: t2 write/commit failed")
	}
	if t1.End() {
		return fmt.Errorf("E3: expected t1 commit to fail on conflict")
	}
	fmt.Println("E3: ok, t1 aborted on read-write conflict")
	return nil
}

func scenarioE4(r *stm.Region) error {
	ro := r.Begin(true)
	first := make([]byte, 4)
	if !ro.Read(r.Start(), 4, first) {
		return fmt.Errorf("E4: first read failed")
	}
	w := r.Begin(false)
	if !w.Write(r.Start(), 4, putWord(getWord(first)+1)) || !w.End() {
		return fmt.Errorf("E4: writer failed")
	}
	second := make([]byte, 4)
	if !ro.Read(r.Start(), 4, second) {
		return fmt.Errorf("E4: second read failed")
	}
	if getWord(first) != getWord(second) {
		return fmt.Errorf("E4: snapshot drifted from %d to %d", getWord(first), getWord(second))
	}
	if !ro.End() {
		return fmt.Errorf("E4: expected read-only commit to succeed")
	}
	fmt.Println("E4: ok, read-only snapshot held steady at", getWord(first))
	return nil
}

func scenarioE5(r *stm.Region) error {
	w := r.Begin(false)
	addr, err := w.Alloc(16)
	if err != nil {
		return fmt.Errorf("E5: alloc failed: %w", err)
	}
	if !w.Write(addr, 16, make([]byte, 16)) || !w.Free(addr) || !w.End() {
		return fmt.Errorf("E5: write/free/commit failed")
	}
	fmt.Printf("E5: ok, segment %#x allocated, written, freed, and committed\n", addr)
	return nil
}

func scenarioE6(r *stm.Region) error {
	t1 := r.Begin(false)
	addr, err := t1.Alloc(16)
	if err != nil || !t1.End() {
		return fmt.Errorf("E6: t1 alloc/commit failed: %v", err)
	}
	t2 := r.Begin(false)
	if !t2.Read(addr, 16, make([]byte, 16)) {
		return fmt.Errorf("E6: t2 read failed")
	}
	t3 := r.Begin(false)
	if !t3.Free(addr) || !t3.End() {
		return fmt.Errorf("E6: t3 free/commit failed")
	}
	if t2.Write(addr, 16, make([]byte, 16)) {
		return fmt.Errorf("E6: expected t2's write into a peer-freed segment to fail")
	}
	if !t2.IsAborted() {
		return fmt.Errorf("E6: expected t2 to be aborted")
	}
	fmt.Println("E6: ok, t2 aborted after peer freed its segment")
	return nil
}

func main() {
	var name, configPath string
	var verbose bool
	flag.StringVar(&name, "scenario", "", "scenario to run: E1..E6 (empty runs all)")
	flag.StringVar(&configPath, "config", "", "optional YAML region config")
	flag.BoolVar(&verbose, "verbose", false, "print live-segment diagnostics after each scenario")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatalf("stmplay: %s", err)
	}

	names := []string{"E1", "E2", "E3", "E4", "E5", "E6"}
	if name != "" {
		if _, ok := scenarios[name]; !ok {
			fatalf("stmplay: unknown scenario %q", name)
		}
		names = []string{name}
	}

	for _, n := range names {
		r, err := newRegion(cfg)
		if err != nil {
			fatalf("stmplay: creating region for %s: %s", n, err)
		}
		if err := scenarios[n](r); err != nil {
			fatalf("stmplay: %s", err)
		}
		if verbose {
			r.DumpDiagnostics(os.Stdout)
		}
	}
}
