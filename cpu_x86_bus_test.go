// cpu_x86_bus_test.go - Flat bus, MMIO and port I/O tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"testing"
)

func TestFlatBusMMIOInterceptsBytes(t *testing.T) {
	bus := NewFlatBus(1 << 16)
	var wrote []uint8
	bus.MapMMIO(0x4000, 0x4FFF,
		func(addr uint64) uint8 { return uint8(addr) },
		func(addr uint64, v uint8) { wrote = append(wrote, v) })

	v, err := bus.Read8(0x4042)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 0x42 {
		t.Errorf("MMIO read = 0x%X, want 0x42", v)
	}
	if err := bus.Write8(0x4000, 0xAA); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(wrote) != 1 || wrote[0] != 0xAA {
		t.Errorf("MMIO write log = %v, want [0xAA]", wrote)
	}

	// Plain RAM around the region is untouched by the handlers.
	bus.Write8(0x3FFF, 0x11)
	if v, _ := bus.Read8(0x3FFF); v != 0x11 {
		t.Errorf("RAM read = 0x%X, want 0x11", v)
	}
}

func TestFlatBusMultiByteSpanningMMIO(t *testing.T) {
	bus := NewFlatBus(1 << 16)
	backing := make(map[uint64]uint8)
	bus.MapMMIO(0x4000, 0x4FFF,
		func(addr uint64) uint8 { return backing[addr] },
		func(addr uint64, v uint8) { backing[addr] = v })

	// A write straddling the RAM/MMIO edge routes each byte.
	if err := bus.Write32(0x3FFE, 0xDDCCBBAA); err != nil {
		t.Fatalf("write32: %v", err)
	}
	if v, _ := bus.Read8(0x3FFE); v != 0xAA {
		t.Errorf("RAM byte = 0x%X, want 0xAA", v)
	}
	if backing[0x4000] != 0xCC || backing[0x4001] != 0xDD {
		t.Errorf("MMIO bytes = %X %X, want CC DD", backing[0x4000], backing[0x4001])
	}
	v, err := bus.Read32(0x3FFE)
	if err != nil {
		t.Fatalf("read32: %v", err)
	}
	if v != 0xDDCCBBAA {
		t.Errorf("read32 = 0x%X, want 0xDDCCBBAA", v)
	}
}

func TestFlatBusWriteRejectingRegion(t *testing.T) {
	bus := NewFlatBus(1 << 16)
	bus.MapMMIO(0x4000, 0x4FFF, func(addr uint64) uint8 { return 0 }, nil)

	if err := bus.Write8(0x4000, 1); err == nil {
		t.Error("write into a read-only region must fail")
	}
	if err := bus.PreflightWriteBytes(0x3F00, 0x200); err == nil {
		t.Error("preflight must reject a range touching the region")
	}
	if err := bus.PreflightWriteBytes(0x3F00, 0x100); err != nil {
		t.Errorf("preflight of plain RAM failed: %v", err)
	}
}

func TestFlatBusOutOfRangeFaults(t *testing.T) {
	bus := NewFlatBus(0x1000)
	if _, err := bus.Read8(0x1000); err == nil {
		t.Error("read past the end must fault")
	}
	var fault *MemoryFault
	err := bus.Write32(0xFFE, 0)
	if err == nil {
		t.Fatal("straddling write past the end must fault")
	}
	if !errors.As(err, &fault) {
		t.Errorf("err = %T, want *MemoryFault", err)
	}
}

func TestFlatBusFetchShortAtEnd(t *testing.T) {
	bus := NewFlatBus(0x1000)
	bus.WriteBytes(0xFFC, []byte{0x90, 0x90, 0x90, 0x90})

	var buf [MaxInstrLen]byte
	n, err := bus.Fetch(0xFFC, &buf)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n != 4 {
		t.Errorf("fetch length = %d, want 4 (short fetch at end of RAM)", n)
	}
	if _, err := bus.Fetch(0x1000, &buf); err == nil {
		t.Error("zero-byte fetch must fault")
	}
}

func TestFlatBusPorts(t *testing.T) {
	bus := NewFlatBus(0x1000)
	var lastOut uint32
	bus.MapPort(0x60, PortHandler{
		In:  func(size int) uint32 { return 0x5A },
		Out: func(size int, v uint32) { lastOut = v },
	})

	v, err := bus.In(0x60, 1)
	if err != nil {
		t.Fatalf("in: %v", err)
	}
	if v != 0x5A {
		t.Errorf("in = 0x%X, want 0x5A", v)
	}
	if err := bus.Out(0x60, 2, 0x1234); err != nil {
		t.Fatalf("out: %v", err)
	}
	if lastOut != 0x1234 {
		t.Errorf("out value = 0x%X, want 0x1234", lastOut)
	}

	// Unclaimed ports float high at the access width.
	if v, _ := bus.In(0x70, 1); v != 0xFF {
		t.Errorf("unclaimed byte in = 0x%X, want 0xFF", v)
	}
	if v, _ := bus.In(0x70, 4); v != 0xFFFF_FFFF {
		t.Errorf("unclaimed dword in = 0x%X, want 0xFFFFFFFF", v)
	}
	if err := bus.Out(0x70, 1, 0); err != nil {
		t.Errorf("out to unclaimed port should be ignored: %v", err)
	}
}

func TestFlatBusBulkDeclinesMMIOOverlap(t *testing.T) {
	bus := NewFlatBus(1 << 16)
	bus.MapMMIO(0x4000, 0x4FFF, func(addr uint64) uint8 { return 0 }, func(addr uint64, v uint8) {})

	done, err := bus.BulkSet(0x3F00, []byte{0xAA}, 0x200)
	if err != nil {
		t.Fatalf("bulk set: %v", err)
	}
	if done {
		t.Error("bulk set must decline a range overlapping MMIO")
	}

	done, err = bus.BulkCopy(0x4100, 0x1000, 0x40)
	if err != nil {
		t.Fatalf("bulk copy: %v", err)
	}
	if done {
		t.Error("bulk copy must decline an MMIO destination")
	}

	bus.WriteBytes(0x1000, []byte{1, 2, 3, 4})
	done, err = bus.BulkCopy(0x2000, 0x1000, 4)
	if err != nil {
		t.Fatalf("bulk copy: %v", err)
	}
	if !done {
		t.Fatal("RAM-to-RAM bulk copy should be handled")
	}
	if v, _ := bus.Read32(0x2000); v != 0x04030201 {
		t.Errorf("copied = 0x%X, want 0x04030201", v)
	}
}
