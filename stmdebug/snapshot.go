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
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/latticeworks/stm/segment"
)

// Snapshot is a point-in-time copy of a region's live segments, for
// attaching to a diagnostic dump.
type Snapshot struct {
	Segments []segment.Segment
}

// NewSnapshot copies every live segment out of reg.
func NewSnapshot(reg *segment.Registry) Snapshot {
	all := reg.All()
	out := make([]segment.Segment, len(all))
	for i, s := range all {
		out[i] = segment.Segment{Base: s.Base, Size: s.Size, Data: append([]byte(nil), s.Data...)}
	}
	return Snapshot{Segments: out}
}

// WriteTo writes s to w as a sequence of (base, size, bytes) records.
// When compress is true the whole stream is wrapped in a zstd encoder,
// the same "unified wrapper over a third-party algorithm" shape as the
// teacher's compr package uses for column data.
func (s Snapshot) WriteTo(w io.Writer, compress bool) error {
	if compress {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		defer enc.Close()
		w = enc
	}
	var hdr [16]byte
	for _, seg := range s.Segments {
		binary.LittleEndian.PutUint64(hdr[0:8], uint64(seg.Base))
		binary.LittleEndian.PutUint64(hdr[8:16], uint64(seg.Size))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := w.Write(seg.Data); err != nil {
			return err
		}
	}
	return nil
}

// ReadSnapshot reads back a stream written by Snapshot.WriteTo. If
// compressed is true, r is first wrapped in a zstd decoder.
func ReadSnapshot(r io.Reader, compressed bool) (Snapshot, error) {
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return Snapshot{}, err
		}
		defer dec.Close()
		r = dec
	}
	var out Snapshot
	for {
		var hdr [16]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return Snapshot{}, err
		}
		base := uintptr(binary.LittleEndian.Uint64(hdr[0:8]))
		size := int(binary.LittleEndian.Uint64(hdr[8:16]))
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return Snapshot{}, err
		}
		out.Segments = append(out.Segments, segment.Segment{Base: base, Size: size, Data: data})
	}
	return out, nil
}
