// cpu_x86_bus.go - Memory/IO bus contract and the flat-memory reference bus
//
// The engine never assumes one contiguous array behind the bus: everything
// it touches goes through the Bus capability interface below, so backing
// stores can be flat buffers, split windows or guest physical memory with
// MMIO holes. FlatBus is the reference implementation used by the host
// program and most tests.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// MaxInstrLen is the architectural maximum x86 instruction length.
const MaxInstrLen = 15

// MemoryFault is the typed error every bus operation fails with on
// out-of-range or device-level failure. The core translates it into an
// architectural exception; it never reaches the guest raw.
type MemoryFault struct {
	Addr  uint64
	Size  int
	Write bool
}

func (f *MemoryFault) Error() string {
	op := "read"
	if f.Write {
		op = "write"
	}
	return fmt.Sprintf("memory fault: %s of %d bytes at 0x%X", op, f.Size, f.Addr)
}

// Bus is the capability interface the CPU core drives. Addresses are
// post-wraparound physical addresses; paging, if any, is resolved behind
// this interface.
type Bus interface {
	Read8(addr uint64) (uint8, error)
	Read16(addr uint64) (uint16, error)
	Read32(addr uint64) (uint32, error)
	Read64(addr uint64) (uint64, error)
	Read128(addr uint64) (lo, hi uint64, err error)
	Write8(addr uint64, v uint8) error
	Write16(addr uint64, v uint16) error
	Write32(addr uint64, v uint32) error
	Write64(addr uint64, v uint64) error
	Write128(addr uint64, lo, hi uint64) error

	ReadBytes(addr uint64, dst []byte) error
	WriteBytes(addr uint64, src []byte) error

	// Fetch reads up to MaxInstrLen bytes of code at addr, returning how
	// many were available. A short count is not an error unless zero bytes
	// could be read.
	Fetch(addr uint64, dst *[MaxInstrLen]byte) (int, error)

	// PreflightWriteBytes reports whether a WriteBytes of the given length
	// would succeed, without side effects. Used to make split writes
	// fault-atomic.
	PreflightWriteBytes(addr uint64, length uint64) error

	In(port uint16, size int) (uint32, error)
	Out(port uint16, size int, value uint32) error

	// Optional acceleration for string instructions. A false return means
	// the caller must fall back to per-element accesses.
	SupportsBulkCopy() bool
	BulkCopy(dst, src, length uint64) (bool, error)
	SupportsBulkSet() bool
	BulkSet(dst uint64, pattern []byte, repeat uint64) (bool, error)
}

const (
	busPageSize = 0x1000
	busPageMask = ^uint64(busPageSize - 1)
)

// MMIORegion intercepts byte accesses in [start, end]. Sized accesses that
// overlap a region are decomposed into byte callbacks.
type MMIORegion struct {
	start   uint64
	end     uint64
	onRead  func(addr uint64) uint8
	onWrite func(addr uint64, v uint8) // nil means the range rejects writes
}

// FlatBus backs the Bus contract with one RAM block plus page-keyed MMIO
// regions. Thread safety follows the house bus convention (a single RWMutex)
// so a monitor can inspect memory while a runner goroutine executes.
type FlatBus struct {
	mem     []byte
	mu      sync.RWMutex
	mapping map[uint64][]MMIORegion
	ports   map[uint16]PortHandler
}

// PortHandler services I/O port accesses for one port number.
type PortHandler struct {
	In  func(size int) uint32
	Out func(size int, v uint32)
}

func NewFlatBus(size uint64) *FlatBus {
	return &FlatBus{
		mem:     make([]byte, size),
		mapping: make(map[uint64][]MMIORegion),
		ports:   make(map[uint16]PortHandler),
	}
}

// Size returns the RAM size in bytes.
func (b *FlatBus) Size() uint64 { return uint64(len(b.mem)) }

// MapMMIO registers read/write callbacks for [start, end] inclusive.
func (b *FlatBus) MapMMIO(start, end uint64, onRead func(uint64) uint8, onWrite func(uint64, uint8)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	region := MMIORegion{start: start, end: end, onRead: onRead, onWrite: onWrite}
	for page := start & busPageMask; page <= end&busPageMask; page += busPageSize {
		b.mapping[page] = append(b.mapping[page], region)
	}
}

// MapPort registers a handler for one I/O port.
func (b *FlatBus) MapPort(port uint16, h PortHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ports[port] = h
}

func (b *FlatBus) regionAt(addr uint64) *MMIORegion {
	regions, ok := b.mapping[addr&busPageMask]
	if !ok {
		return nil
	}
	for i := range regions {
		if addr >= regions[i].start && addr <= regions[i].end {
			return &regions[i]
		}
	}
	return nil
}

func (b *FlatBus) rangeHasMMIO(addr, length uint64) bool {
	if len(b.mapping) == 0 {
		return false
	}
	end := addr + length - 1
	for page := addr & busPageMask; page <= end&busPageMask; page += busPageSize {
		if regions, ok := b.mapping[page]; ok {
			for i := range regions {
				if regions[i].start <= end && regions[i].end >= addr {
					return true
				}
			}
		}
	}
	return false
}

func (b *FlatBus) checkRange(addr, length uint64, write bool) error {
	if addr >= uint64(len(b.mem)) || length > uint64(len(b.mem))-addr {
		return &MemoryFault{Addr: addr, Size: int(length), Write: write}
	}
	return nil
}

func (b *FlatBus) readRange(addr uint64, dst []byte) error {
	if err := b.checkRange(addr, uint64(len(dst)), false); err != nil {
		return err
	}
	if b.rangeHasMMIO(addr, uint64(len(dst))) {
		for i := range dst {
			a := addr + uint64(i)
			if r := b.regionAt(a); r != nil && r.onRead != nil {
				dst[i] = r.onRead(a)
			} else {
				dst[i] = b.mem[a]
			}
		}
		return nil
	}
	copy(dst, b.mem[addr:])
	return nil
}

func (b *FlatBus) writeRange(addr uint64, src []byte) error {
	if err := b.checkRange(addr, uint64(len(src)), true); err != nil {
		return err
	}
	if b.rangeHasMMIO(addr, uint64(len(src))) {
		for i, v := range src {
			a := addr + uint64(i)
			if r := b.regionAt(a); r != nil {
				if r.onWrite == nil {
					return &MemoryFault{Addr: a, Size: 1, Write: true}
				}
				r.onWrite(a, v)
			} else {
				b.mem[a] = v
			}
		}
		return nil
	}
	copy(b.mem[addr:], src)
	return nil
}

func (b *FlatBus) Read8(addr uint64) (uint8, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var buf [1]byte
	if err := b.readRange(addr, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *FlatBus) Read16(addr uint64) (uint16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var buf [2]byte
	if err := b.readRange(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (b *FlatBus) Read32(addr uint64) (uint32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var buf [4]byte
	if err := b.readRange(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (b *FlatBus) Read64(addr uint64) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var buf [8]byte
	if err := b.readRange(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (b *FlatBus) Read128(addr uint64) (uint64, uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var buf [16]byte
	if err := b.readRange(addr, buf[:]); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint64(buf[:8]), binary.LittleEndian.Uint64(buf[8:]), nil
}

func (b *FlatBus) Write8(addr uint64, v uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeRange(addr, []byte{v})
}

func (b *FlatBus) Write16(addr uint64, v uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return b.writeRange(addr, buf[:])
}

func (b *FlatBus) Write32(addr uint64, v uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return b.writeRange(addr, buf[:])
}

func (b *FlatBus) Write64(addr uint64, v uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return b.writeRange(addr, buf[:])
}

func (b *FlatBus) Write128(addr uint64, lo, hi uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], lo)
	binary.LittleEndian.PutUint64(buf[8:], hi)
	return b.writeRange(addr, buf[:])
}

func (b *FlatBus) ReadBytes(addr uint64, dst []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.readRange(addr, dst)
}

func (b *FlatBus) WriteBytes(addr uint64, src []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeRange(addr, src)
}

func (b *FlatBus) Fetch(addr uint64, dst *[MaxInstrLen]byte) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if addr >= uint64(len(b.mem)) {
		return 0, &MemoryFault{Addr: addr, Size: 1}
	}
	n := uint64(MaxInstrLen)
	if avail := uint64(len(b.mem)) - addr; avail < n {
		n = avail
	}
	if err := b.readRange(addr, dst[:n]); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (b *FlatBus) PreflightWriteBytes(addr uint64, length uint64) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkRange(addr, length, true); err != nil {
		return err
	}
	if b.rangeHasMMIO(addr, length) {
		end := addr + length
		for a := addr; a < end; a++ {
			if r := b.regionAt(a); r != nil && r.onWrite == nil {
				return &MemoryFault{Addr: a, Size: 1, Write: true}
			}
		}
	}
	return nil
}

func (b *FlatBus) In(port uint16, size int) (uint32, error) {
	b.mu.RLock()
	h, ok := b.ports[port]
	b.mu.RUnlock()
	if !ok || h.In == nil {
		// Open bus: unclaimed ports read all ones.
		return widthMask32(size), nil
	}
	return h.In(size), nil
}

func (b *FlatBus) Out(port uint16, size int, value uint32) error {
	b.mu.RLock()
	h, ok := b.ports[port]
	b.mu.RUnlock()
	if ok && h.Out != nil {
		h.Out(size, value)
	}
	return nil
}

func (b *FlatBus) SupportsBulkCopy() bool { return true }

func (b *FlatBus) BulkCopy(dst, src, length uint64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rangeHasMMIO(dst, length) || b.rangeHasMMIO(src, length) {
		return false, nil
	}
	if err := b.checkRange(src, length, false); err != nil {
		return false, err
	}
	if err := b.checkRange(dst, length, true); err != nil {
		return false, err
	}
	copy(b.mem[dst:dst+length], b.mem[src:src+length])
	return true, nil
}

func (b *FlatBus) SupportsBulkSet() bool { return true }

func (b *FlatBus) BulkSet(dst uint64, pattern []byte, repeat uint64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := uint64(len(pattern)) * repeat
	if b.rangeHasMMIO(dst, total) {
		return false, nil
	}
	if err := b.checkRange(dst, total, true); err != nil {
		return false, err
	}
	for i := uint64(0); i < repeat; i++ {
		copy(b.mem[dst+i*uint64(len(pattern)):], pattern)
	}
	return true, nil
}

func widthMask32(size int) uint32 {
	switch size {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	}
	return 0xFFFF_FFFF
}
