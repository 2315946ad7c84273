// cpu_x86_linear.go - Linear-address wraparound layer
//
// Pure functions over CpuState + Bus. A raw linear offset may exceed the
// addressable window of the current mode: 1MiB when the A20 gate is closed
// in 16-bit modes, 4GiB in 32-bit modes, the full 64-bit space in long mode.
// Transfers are split into the minimum number of contiguous segments, each
// of which stays inside the window.
//
// Guarantees, relied on by instruction execution and interrupt delivery:
// - A transfer that does not cross the wrap boundary issues exactly the
//   same bus-call pattern as an unsplit access.
// - A transfer crossing one boundary issues exactly two segment calls.
// - Split writes are fault-atomic: every segment is preflighted before any
//   segment is written.
// - No allocation proportional to the transfer size, ever.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// wrapAddr folds addr into the window. window == 0 means the full 2^64 space.
func wrapAddr(addr, window uint64) uint64 {
	if window == 0 {
		return addr
	}
	return addr % window
}

// fitsWindow reports whether [addr, addr+n) stays inside the window without
// crossing the wrap boundary. addr must already be < window.
func fitsWindow(addr, n, window uint64) bool {
	if window == 0 {
		end := addr + n
		return end >= addr || end == 0
	}
	return n <= window-addr
}

// firstSegLen is the distance from addr to the wrap boundary.
func firstSegLen(addr, window uint64) uint64 {
	if window == 0 {
		return -addr
	}
	return window - addr
}

// LinearReadBytes reads len(dst) bytes at the wrapped linear address.
func LinearReadBytes(s *CpuState, bus Bus, addr uint64, dst []byte) error {
	w := s.linearWindow()
	addr = wrapAddr(addr, w)
	if len(dst) == 0 {
		return nil
	}
	if fitsWindow(addr, uint64(len(dst)), w) {
		return bus.ReadBytes(addr, dst)
	}
	first := firstSegLen(addr, w)
	if err := bus.ReadBytes(addr, dst[:first]); err != nil {
		return err
	}
	dst = dst[first:]
	for len(dst) > 0 {
		seg := uint64(len(dst))
		if w != 0 && seg > w {
			seg = w
		}
		if err := bus.ReadBytes(0, dst[:seg]); err != nil {
			return err
		}
		dst = dst[seg:]
	}
	return nil
}

// LinearWriteBytes writes len(src) bytes at the wrapped linear address.
// When the transfer splits, every segment is preflighted before the first
// byte is written, so a failing segment leaves guest memory untouched.
func LinearWriteBytes(s *CpuState, bus Bus, addr uint64, src []byte) error {
	w := s.linearWindow()
	addr = wrapAddr(addr, w)
	if len(src) == 0 {
		return nil
	}
	if fitsWindow(addr, uint64(len(src)), w) {
		return bus.WriteBytes(addr, src)
	}

	first := firstSegLen(addr, w)
	if err := bus.PreflightWriteBytes(addr, first); err != nil {
		return err
	}
	rest := src[first:]
	for len(rest) > 0 {
		seg := uint64(len(rest))
		if w != 0 && seg > w {
			seg = w
		}
		if err := bus.PreflightWriteBytes(0, seg); err != nil {
			return err
		}
		rest = rest[seg:]
	}

	if err := bus.WriteBytes(addr, src[:first]); err != nil {
		return err
	}
	src = src[first:]
	for len(src) > 0 {
		seg := uint64(len(src))
		if w != 0 && seg > w {
			seg = w
		}
		if err := bus.WriteBytes(0, src[:seg]); err != nil {
			return err
		}
		src = src[seg:]
	}
	return nil
}

// LinearFetch fills dst with up to MaxInstrLen code bytes at the wrapped
// address. The non-wrapping fast path delegates to the bus Fetch; a fetch
// window straddling the boundary is assembled from both sides and zero risk
// of a short read masking wrapped bytes.
func LinearFetch(s *CpuState, bus Bus, addr uint64, dst *[MaxInstrLen]byte) (int, error) {
	w := s.linearWindow()
	addr = wrapAddr(addr, w)
	if fitsWindow(addr, MaxInstrLen, w) {
		return bus.Fetch(addr, dst)
	}
	first := firstSegLen(addr, w)
	if err := bus.ReadBytes(addr, dst[:first]); err != nil {
		return 0, err
	}
	if err := bus.ReadBytes(0, dst[first:]); err != nil {
		return int(first), nil
	}
	return MaxInstrLen, nil
}

// Sized accesses. The fast path delegates to the matching sized bus call;
// only boundary-straddling accesses are assembled bytewise through a stack
// scratch buffer.

func LinearRead8(s *CpuState, bus Bus, addr uint64) (uint8, error) {
	return bus.Read8(wrapAddr(addr, s.linearWindow()))
}

func LinearRead16(s *CpuState, bus Bus, addr uint64) (uint16, error) {
	w := s.linearWindow()
	addr = wrapAddr(addr, w)
	if fitsWindow(addr, 2, w) {
		return bus.Read16(addr)
	}
	var buf [2]byte
	if err := LinearReadBytes(s, bus, addr, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func LinearRead32(s *CpuState, bus Bus, addr uint64) (uint32, error) {
	w := s.linearWindow()
	addr = wrapAddr(addr, w)
	if fitsWindow(addr, 4, w) {
		return bus.Read32(addr)
	}
	var buf [4]byte
	if err := LinearReadBytes(s, bus, addr, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

func LinearRead64(s *CpuState, bus Bus, addr uint64) (uint64, error) {
	w := s.linearWindow()
	addr = wrapAddr(addr, w)
	if fitsWindow(addr, 8, w) {
		return bus.Read64(addr)
	}
	var buf [8]byte
	if err := LinearReadBytes(s, bus, addr, buf[:]); err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

func LinearRead128(s *CpuState, bus Bus, addr uint64) (uint64, uint64, error) {
	w := s.linearWindow()
	addr = wrapAddr(addr, w)
	if fitsWindow(addr, 16, w) {
		return bus.Read128(addr)
	}
	var buf [16]byte
	if err := LinearReadBytes(s, bus, addr, buf[:]); err != nil {
		return 0, 0, err
	}
	var lo, hi uint64
	for i := 7; i >= 0; i-- {
		lo = lo<<8 | uint64(buf[i])
		hi = hi<<8 | uint64(buf[8+i])
	}
	return lo, hi, nil
}

func LinearWrite8(s *CpuState, bus Bus, addr uint64, v uint8) error {
	return bus.Write8(wrapAddr(addr, s.linearWindow()), v)
}

func LinearWrite16(s *CpuState, bus Bus, addr uint64, v uint16) error {
	w := s.linearWindow()
	addr = wrapAddr(addr, w)
	if fitsWindow(addr, 2, w) {
		return bus.Write16(addr, v)
	}
	buf := [2]byte{uint8(v), uint8(v >> 8)}
	return LinearWriteBytes(s, bus, addr, buf[:])
}

func LinearWrite32(s *CpuState, bus Bus, addr uint64, v uint32) error {
	w := s.linearWindow()
	addr = wrapAddr(addr, w)
	if fitsWindow(addr, 4, w) {
		return bus.Write32(addr, v)
	}
	var buf [4]byte
	for i := range buf {
		buf[i] = uint8(v >> (8 * i))
	}
	return LinearWriteBytes(s, bus, addr, buf[:])
}

func LinearWrite64(s *CpuState, bus Bus, addr uint64, v uint64) error {
	w := s.linearWindow()
	addr = wrapAddr(addr, w)
	if fitsWindow(addr, 8, w) {
		return bus.Write64(addr, v)
	}
	var buf [8]byte
	for i := range buf {
		buf[i] = uint8(v >> (8 * i))
	}
	return LinearWriteBytes(s, bus, addr, buf[:])
}

func LinearWrite128(s *CpuState, bus Bus, addr uint64, lo, hi uint64) error {
	w := s.linearWindow()
	addr = wrapAddr(addr, w)
	if fitsWindow(addr, 16, w) {
		return bus.Write128(addr, lo, hi)
	}
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = uint8(lo >> (8 * i))
		buf[8+i] = uint8(hi >> (8 * i))
	}
	return LinearWriteBytes(s, bus, addr, buf[:])
}

// LinearBulkSet forwards a string-fill to the bus bulk-set hint when the
// destination does not straddle the wrap boundary. A false return means the
// caller must fall back to per-element stores.
func LinearBulkSet(s *CpuState, bus Bus, dst uint64, pattern []byte, repeat uint64) (bool, error) {
	if !bus.SupportsBulkSet() {
		return false, nil
	}
	w := s.linearWindow()
	dst = wrapAddr(dst, w)
	total := uint64(len(pattern)) * repeat
	if !fitsWindow(dst, total, w) {
		return false, nil
	}
	return bus.BulkSet(dst, pattern, repeat)
}

// LinearBulkCopy forwards a string-copy to the bus bulk-copy hint when
// neither range straddles the wrap boundary.
func LinearBulkCopy(s *CpuState, bus Bus, dst, src, length uint64) (bool, error) {
	if !bus.SupportsBulkCopy() {
		return false, nil
	}
	w := s.linearWindow()
	dst = wrapAddr(dst, w)
	src = wrapAddr(src, w)
	if !fitsWindow(dst, length, w) || !fitsWindow(src, length, w) {
		return false, nil
	}
	return bus.BulkCopy(dst, src, length)
}
