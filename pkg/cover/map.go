// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cover

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"sync/atomic"

	"github.com/google/bcfuzz/pkg/signal"
	"github.com/ulikunitz/xz"
)

// Map is the global coverage map: a dense array of per-edge bucket masks.
// Reads and merges are lock-free, masks only ever gain bits.
type Map struct {
	masks []atomic.Uint32
	edges atomic.Int64
	bits  atomic.Int64
}

const mapMagic = uint32(0xbcfc0001)

func NewMap(capacity int) *Map {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Map{masks: make([]atomic.Uint32, capacity)}
}

func (m *Map) Capacity() int {
	return len(m.masks)
}

// NewBits returns the part of sig not yet present in the map.
// Edges outside of the map capacity are ignored.
func (m *Map) NewBits(sig signal.Signal) signal.Signal {
	var res signal.Signal
	for e, mask := range sig {
		if int(e) >= len(m.masks) {
			continue
		}
		if diff := mask &^ m.masks[e].Load(); diff != 0 {
			if res == nil {
				res = make(signal.Signal)
			}
			res[e] = diff
		}
	}
	return res
}

// HasNew is a cheaper form of NewBits.
func (m *Map) HasNew(sig signal.Signal) bool {
	for e, mask := range sig {
		if int(e) < len(m.masks) && mask&^m.masks[e].Load() != 0 {
			return true
		}
	}
	return false
}

// Merge ORs sig into the map and returns the number of edges seen for the first time.
// Concurrent merges of the same edge count it exactly once.
func (m *Map) Merge(sig signal.Signal) int {
	newEdges := 0
	for e, mask := range sig {
		if int(e) >= len(m.masks) || mask == 0 {
			continue
		}
		old := m.masks[e].Or(mask)
		if added := mask &^ old; added != 0 {
			m.bits.Add(int64(bits.OnesCount32(added)))
		}
		if old == 0 {
			newEdges++
		}
	}
	m.edges.Add(int64(newEdges))
	return newEdges
}

// Len returns the number of covered edges.
func (m *Map) Len() int {
	return int(m.edges.Load())
}

// Bits returns the number of covered edge/bucket pairs.
func (m *Map) Bits() int {
	return int(m.bits.Load())
}

func (m *Map) Mask(edge uint32) uint32 {
	if int(edge) >= len(m.masks) {
		return 0
	}
	return m.masks[edge].Load()
}

// Signal returns a copy of the map contents.
func (m *Map) Signal() signal.Signal {
	res := make(signal.Signal)
	for e := range m.masks {
		if mask := m.masks[e].Load(); mask != 0 {
			res[uint32(e)] = mask
		}
	}
	return res
}

// WriteTo stores an xz-compressed snapshot of the map:
// magic, capacity, count and count (edge, mask) pairs, little-endian u32.
func (m *Map) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	xw, err := xz.NewWriter(cw)
	if err != nil {
		return 0, err
	}
	sig := m.Signal()
	bw := bufio.NewWriter(xw)
	buf := make([]byte, 0, 12+8*len(sig))
	buf = binary.LittleEndian.AppendUint32(buf, mapMagic)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.masks)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(sig)))
	for _, e := range sig.Edges() {
		buf = binary.LittleEndian.AppendUint32(buf, e)
		buf = binary.LittleEndian.AppendUint32(buf, sig[e])
	}
	if _, err := bw.Write(buf); err != nil {
		return cw.n, err
	}
	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	err = xw.Close()
	return cw.n, err
}

// ReadFrom restores the map from a snapshot created by WriteTo.
// The map must be empty and have the same capacity.
func (m *Map) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	xr, err := xz.NewReader(cr)
	if err != nil {
		return cr.n, fmt.Errorf("bad coverage map: %w", err)
	}
	br := bufio.NewReader(xr)
	var hdr [12]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return cr.n, fmt.Errorf("bad coverage map header: %w", err)
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:]); magic != mapMagic {
		return cr.n, fmt.Errorf("bad coverage map magic 0x%x", magic)
	}
	if capacity := int(binary.LittleEndian.Uint32(hdr[4:])); capacity != len(m.masks) {
		return cr.n, fmt.Errorf("coverage map capacity mismatch: %v vs %v", capacity, len(m.masks))
	}
	if m.Len() != 0 {
		return cr.n, fmt.Errorf("loading into non-empty coverage map")
	}
	count := binary.LittleEndian.Uint32(hdr[8:])
	sig := make(signal.Signal, count)
	var rec [8]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(br, rec[:]); err != nil {
			return cr.n, fmt.Errorf("truncated coverage map: %w", err)
		}
		e := binary.LittleEndian.Uint32(rec[0:])
		if int(e) >= len(m.masks) {
			return cr.n, fmt.Errorf("coverage map edge %v out of range", e)
		}
		sig[e] = binary.LittleEndian.Uint32(rec[4:])
	}
	m.Merge(sig)
	return cr.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
