// cpu_x86_linear_test.go - Wraparound layer tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bytes"
	"testing"
)

// countingBus wraps a FlatBus and counts segment-level calls so the split
// guarantees can be asserted exactly.
type countingBus struct {
	*FlatBus
	readCalls      int
	writeCalls     int
	preflightCalls int
	bulkCopyCalls  int
	bulkSetCalls   int
}

func (b *countingBus) ReadBytes(addr uint64, dst []byte) error {
	b.readCalls++
	return b.FlatBus.ReadBytes(addr, dst)
}

func (b *countingBus) WriteBytes(addr uint64, src []byte) error {
	b.writeCalls++
	return b.FlatBus.WriteBytes(addr, src)
}

func (b *countingBus) PreflightWriteBytes(addr, length uint64) error {
	b.preflightCalls++
	return b.FlatBus.PreflightWriteBytes(addr, length)
}

func (b *countingBus) BulkCopy(dst, src, length uint64) (bool, error) {
	b.bulkCopyCalls++
	return b.FlatBus.BulkCopy(dst, src, length)
}

func (b *countingBus) BulkSet(dst uint64, pattern []byte, repeat uint64) (bool, error) {
	b.bulkSetCalls++
	return b.FlatBus.BulkSet(dst, pattern, repeat)
}

func newRealModeState(a20 bool) *CpuState {
	s := NewCpuState()
	s.A20Enabled = a20
	return s
}

func TestLinearWriteNoSplitSingleCall(t *testing.T) {
	bus := &countingBus{FlatBus: NewFlatBus(1 << 20)}
	s := newRealModeState(false)

	if err := LinearWriteBytes(s, bus, 0x1000, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if bus.writeCalls != 1 {
		t.Errorf("writeCalls = %d, want 1", bus.writeCalls)
	}
	if bus.preflightCalls != 0 {
		t.Errorf("preflightCalls = %d, want 0 on the fast path", bus.preflightCalls)
	}
}

func TestLinearWriteSplitsExactlyTwice(t *testing.T) {
	bus := &countingBus{FlatBus: NewFlatBus(1 << 20)}
	s := newRealModeState(false)

	src := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	if err := LinearWriteBytes(s, bus, 0xFFFFE, src); err != nil {
		t.Fatalf("write: %v", err)
	}
	if bus.writeCalls != 2 {
		t.Errorf("writeCalls = %d, want exactly 2 for a single boundary", bus.writeCalls)
	}
	if bus.preflightCalls != 2 {
		t.Errorf("preflightCalls = %d, want 2 (every segment preflighted)", bus.preflightCalls)
	}

	var got [2]byte
	bus.FlatBus.ReadBytes(0xFFFFE, got[:])
	if got != [2]byte{0xAA, 0xBB} {
		t.Errorf("tail bytes = %X, want AABB", got)
	}
	bus.FlatBus.ReadBytes(0, got[:])
	if got != [2]byte{0xCC, 0xDD} {
		t.Errorf("wrapped bytes = %X, want CCDD", got)
	}
}

func TestLinearWriteLargerThanWindowLeavesLastChunk(t *testing.T) {
	// A 2MiB write into the 1MiB A20-off window lands chunk by chunk, each
	// full wrap overwriting the previous one, so the visible megabyte is
	// the second chunk.
	bus := NewFlatBus(1 << 20)
	s := newRealModeState(false)

	src := make([]byte, 0x200000)
	for i := range src {
		if i < 0x100000 {
			src[i] = 0x11
		} else {
			src[i] = 0x22
		}
	}
	if err := LinearWriteBytes(s, bus, 0, src); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, addr := range []uint64{0, 0x50, 0x80000, 0xFFFFF} {
		var b [1]byte
		bus.ReadBytes(addr, b[:])
		if b[0] != 0x22 {
			t.Errorf("byte at 0x%X = 0x%X, want 0x22 (second chunk)", addr, b[0])
		}
	}
}

func TestLinearWriteBoundaryCrossingAllocatesNothing(t *testing.T) {
	bus := NewFlatBus(1 << 20)
	s := newRealModeState(false)
	src := make([]byte, 0x200000)

	allocs := testing.AllocsPerRun(10, func() {
		if err := LinearWriteBytes(s, bus, 0xFFF00, src[:0x200]); err != nil {
			t.Fatalf("split write: %v", err)
		}
		if err := LinearWriteBytes(s, bus, 0, src); err != nil {
			t.Fatalf("large write: %v", err)
		}
	})
	if allocs != 0 {
		t.Errorf("allocs per boundary-crossing write = %v, want 0", allocs)
	}
}

func TestLinearReadWrapsAtOneMebibyte(t *testing.T) {
	bus := NewFlatBus(1 << 20)
	s := newRealModeState(false)

	bus.WriteBytes(0x50, []byte{0x42})
	v, err := LinearRead8(s, bus, 0x100050)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 0x42 {
		t.Errorf("aliased read = 0x%X, want 0x42", v)
	}

	// With the gate open there is no 1MiB alias.
	s.A20Enabled = true
	if _, err := LinearRead8(s, bus, 0x100050); err == nil {
		t.Error("expected fault reading past RAM with A20 enabled")
	}
}

func TestLinearWriteFaultAtomicity(t *testing.T) {
	bus := NewFlatBus(1 << 20)
	s := newRealModeState(false)

	// Writes into page zero are rejected, so the wrapped tail of a split
	// write cannot land.
	bus.MapMMIO(0, 0xFFF, func(addr uint64) uint8 { return 0 }, nil)

	sentinel := []byte{0x11, 0x22}
	bus.WriteBytes(0xFFFFE, sentinel)

	err := LinearWriteBytes(s, bus, 0xFFFFE, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	if err == nil {
		t.Fatal("expected split write to fail")
	}
	var got [2]byte
	bus.ReadBytes(0xFFFFE, got[:])
	if got != [2]byte{0x11, 0x22} {
		t.Errorf("first segment written before failing preflight: got %X", got)
	}
}

func TestLinearFetchAcrossBoundary(t *testing.T) {
	bus := NewFlatBus(1 << 20)
	s := newRealModeState(false)

	head := []byte{0x90, 0x90}
	tail := []byte{0xB8, 0x34, 0x12}
	bus.WriteBytes(0xFFFFE, head)
	bus.WriteBytes(0, tail)

	var buf [MaxInstrLen]byte
	n, err := LinearFetch(s, bus, 0xFFFFE, &buf)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n != MaxInstrLen {
		t.Fatalf("fetch length = %d, want %d", n, MaxInstrLen)
	}
	if !bytes.Equal(buf[:2], head) || !bytes.Equal(buf[2:5], tail) {
		t.Errorf("fetched bytes = %X", buf[:5])
	}
}

func TestLinearSizedAccessStraddle(t *testing.T) {
	bus := NewFlatBus(1 << 20)
	s := newRealModeState(false)

	if err := LinearWrite32(s, bus, 0xFFFFE, 0xDDCCBBAA); err != nil {
		t.Fatalf("write32: %v", err)
	}
	v, err := LinearRead32(s, bus, 0xFFFFE)
	if err != nil {
		t.Fatalf("read32: %v", err)
	}
	if v != 0xDDCCBBAA {
		t.Errorf("read32 = 0x%X, want 0xDDCCBBAA", v)
	}

	lo, err := LinearRead16(s, bus, 0xFFFFF)
	if err != nil {
		t.Fatalf("read16: %v", err)
	}
	if lo != 0xCCBB {
		t.Errorf("read16 = 0x%X, want 0xCCBB", lo)
	}
}

func TestRepStosBulkSetExactlyOnce(t *testing.T) {
	// rep stosd in 32-bit protected mode hits the bulk-set hint once for
	// the whole run.
	bus := &countingBus{FlatBus: NewFlatBus(1 << 20)}
	cpu := NewCPUX86(bus)
	bus.FlatBus.WriteBytes(0x1000, []byte{0xF3, 0xAB})
	cpu.CR0 |= cr0PE
	cpu.UpdateMode()
	cpu.Segs[SegCS] = Segment{Selector: 0x08, Limit: 0xFFFF_FFFF, Access: 0x9A, Flags: 0xC0}
	for _, s := range []SegIndex{SegDS, SegES, SegSS} {
		cpu.Segs[s] = Segment{Selector: 0x10, Limit: 0xFFFF_FFFF, Access: 0x92, Flags: 0xC0}
	}
	cpu.RIP = 0x1000
	cpu.Regs[RSP] = 0x8000
	cpu.SetReg32(RAX, 0xA5A5_A5A5)
	cpu.SetReg32(RDI, 0x4000)
	cpu.SetReg32(RCX, 0x100)

	if err := cpu.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if bus.bulkSetCalls != 1 {
		t.Errorf("bulkSetCalls = %d, want exactly 1", bus.bulkSetCalls)
	}
	if got := cpu.Reg32(RCX); got != 0 {
		t.Errorf("ECX = %d, want 0", got)
	}
	if v, _ := bus.FlatBus.Read32(0x4000 + 0x3FC); v != 0xA5A5_A5A5 {
		t.Errorf("last fill dword = 0x%X, want 0xA5A5A5A5", v)
	}
}

func TestRepMovsAcrossWrapSkipsBulkCopy(t *testing.T) {
	// A destination run crossing the 1MiB wrap must never reach the bus
	// bulk-copy hint; the per-element path wraps byte by byte.
	bus := &countingBus{FlatBus: NewFlatBus(1 << 20)}
	cpu := NewCPUX86(bus)
	bus.FlatBus.WriteBytes(0x7C00, []byte{0xF3, 0xA4}) // rep movsb
	cpu.SetRealModeSeg(SegCS, 0)
	cpu.RIP = 0x7C00
	cpu.SetRealModeSeg(SegSS, 0)
	cpu.Regs[RSP] = 0x7000
	cpu.SetA20(false)

	src := make([]byte, 0x40)
	for i := range src {
		src[i] = uint8(i + 1)
	}
	bus.FlatBus.WriteBytes(0x10000, src)
	cpu.SetRealModeSeg(SegDS, 0x1000) // source 0x10000
	cpu.SetRealModeSeg(SegES, 0xFFFF) // destination 0xFFFF0, wraps at 1MiB
	cpu.SetReg16(RSI, 0)
	cpu.SetReg16(RDI, 0)
	cpu.SetReg16(RCX, 0x40)

	if err := cpu.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if bus.bulkCopyCalls != 0 {
		t.Errorf("bulkCopyCalls = %d, want 0 for a wrapping run", bus.bulkCopyCalls)
	}
	if got := cpu.Reg16(RCX); got != 0 {
		t.Errorf("CX = %d, want 0", got)
	}
	var head, tail [1]byte
	bus.FlatBus.ReadBytes(0xFFFF0, head[:])
	bus.FlatBus.ReadBytes(0x2F, tail[:])
	if head[0] != 1 {
		t.Errorf("first byte = %d, want 1", head[0])
	}
	if tail[0] != 0x40 {
		t.Errorf("wrapped last byte = %d, want 0x40", tail[0])
	}
}

func TestLinearBulkRejectsStraddle(t *testing.T) {
	bus := NewFlatBus(1 << 20)
	s := newRealModeState(false)

	done, err := LinearBulkSet(s, bus, 0xFFFF0, []byte{0xAA}, 0x40)
	if err != nil {
		t.Fatalf("bulk set: %v", err)
	}
	if done {
		t.Error("bulk set must decline a wrap-straddling fill")
	}

	done, err = LinearBulkSet(s, bus, 0x1000, []byte{0xAA}, 0x40)
	if err != nil {
		t.Fatalf("bulk set: %v", err)
	}
	if !done {
		t.Error("bulk set should handle an in-window fill")
	}
	var b [1]byte
	bus.ReadBytes(0x103F, b[:])
	if b[0] != 0xAA {
		t.Errorf("fill byte = 0x%X, want 0xAA", b[0])
	}
}
