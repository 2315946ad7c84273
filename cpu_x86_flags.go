// cpu_x86_flags.go - RFLAGS bits and the lazy arithmetic-flags record
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "math/bits"

const (
	FlagCF   = uint64(1) << 0
	FlagPF   = uint64(1) << 2
	FlagAF   = uint64(1) << 4
	FlagZF   = uint64(1) << 6
	FlagSF   = uint64(1) << 7
	FlagTF   = uint64(1) << 8
	FlagIF   = uint64(1) << 9
	FlagDF   = uint64(1) << 10
	FlagOF   = uint64(1) << 11
	FlagIOPL = uint64(3) << 12
	FlagNT   = uint64(1) << 14
	FlagRF   = uint64(1) << 16
	FlagVM   = uint64(1) << 17
	FlagAC   = uint64(1) << 18
	FlagVIF  = uint64(1) << 19
	FlagVIP  = uint64(1) << 20
	FlagID   = uint64(1) << 21

	// Bit 1 always reads 1; bits 3, 5, 15 and 22+ always read 0.
	flagsFixedSet = uint64(1) << 1
	flagsValid    = uint64(0x003F_7FD7)

	arithFlags = FlagCF | FlagPF | FlagAF | FlagZF | FlagSF | FlagOF
)

type lazyOp uint8

const (
	lazyNone lazyOp = iota
	lazyAdd
	lazySub
	lazyLogic
)

// LazyFlags records the last flag-producing ALU operation so CF/PF/AF/ZF/SF/OF
// can be derived on first read instead of on every instruction. At most one
// record is outstanding; every flag-producing operation overwrites it.
type LazyFlags struct {
	Op      lazyOp
	Bits    int // operand width: 8, 16, 32 or 64
	CarryIn uint64
	Lhs     uint64
	Rhs     uint64
	Result  uint64
}

func parityEven(b uint8) bool { return bits.OnesCount8(b)%2 == 0 }

func widthMask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

func signBit(bits int) uint64 { return uint64(1) << (bits - 1) }

func (s *CpuState) setLazyAdd(bits int, lhs, rhs, result, carryIn uint64) {
	s.lazy = LazyFlags{Op: lazyAdd, Bits: bits, CarryIn: carryIn, Lhs: lhs, Rhs: rhs, Result: result}
}

func (s *CpuState) setLazySub(bits int, lhs, rhs, result, borrowIn uint64) {
	s.lazy = LazyFlags{Op: lazySub, Bits: bits, CarryIn: borrowIn, Lhs: lhs, Rhs: rhs, Result: result}
}

func (s *CpuState) setLazyLogic(bits int, result uint64) {
	s.lazy = LazyFlags{Op: lazyLogic, Bits: bits, Result: result}
}

// materializeFlags folds the outstanding lazy record into RFLAGS. Safe to
// call when no record is pending.
func (s *CpuState) materializeFlags() {
	lf := s.lazy
	if lf.Op == lazyNone {
		return
	}
	s.lazy.Op = lazyNone

	mask := widthMask(lf.Bits)
	sign := signBit(lf.Bits)
	a := lf.Lhs & mask
	b := lf.Rhs & mask
	r := lf.Result & mask

	var f uint64
	if r == 0 {
		f |= FlagZF
	}
	if r&sign != 0 {
		f |= FlagSF
	}
	if parityEven(uint8(r)) {
		f |= FlagPF
	}

	switch lf.Op {
	case lazyAdd:
		// carry out of the top bit, accounting for the carry-in
		if r < a || (lf.CarryIn != 0 && r == a) {
			f |= FlagCF
		}
		if (a^b^r)&0x10 != 0 {
			f |= FlagAF
		}
		if (a^r)&(b^r)&sign != 0 {
			f |= FlagOF
		}
	case lazySub:
		if a < b || (lf.CarryIn != 0 && a == b) {
			f |= FlagCF
		}
		if (a^b^r)&0x10 != 0 {
			f |= FlagAF
		}
		if (a^b)&(a^r)&sign != 0 {
			f |= FlagOF
		}
	case lazyLogic:
		// CF, OF and AF clear
	}

	s.flags = s.flags&^arithFlags | f
}

// GetFlag materializes if needed and returns a single flag bit.
func (s *CpuState) GetFlag(flag uint64) bool {
	if flag&arithFlags != 0 {
		s.materializeFlags()
	}
	return s.flags&flag != 0
}

// SetFlag materializes and then sets or clears one flag bit.
func (s *CpuState) SetFlag(flag uint64, on bool) {
	s.materializeFlags()
	if on {
		s.flags |= flag
	} else {
		s.flags &^= flag
	}
}

// Rflags returns the fully materialized RFLAGS value.
func (s *CpuState) Rflags() uint64 {
	s.materializeFlags()
	return s.flags&flagsValid | flagsFixedSet
}

// SetRflags replaces RFLAGS wholesale (reserved bits forced), dropping any
// pending lazy record. Used by RESET-style state setup and tests; guest
// writes go through writeFlagsMasked.
func (s *CpuState) SetRflags(v uint64) {
	s.lazy.Op = lazyNone
	s.flags = v&flagsValid | flagsFixedSet
}

// IOPL returns the I/O privilege level field.
func (s *CpuState) IOPL() int {
	return int(s.flags>>12) & 3
}

// writeFlagsMasked applies a POPF/IRET-style flag write at the given operand
// width and privilege: IOPL changes only at CPL 0, IF only when CPL <= IOPL,
// and VM/VIF/VIP never change through this path.
func (s *CpuState) writeFlagsMasked(v uint64, bits int, cpl int) {
	s.materializeFlags()

	writable := FlagCF | FlagPF | FlagAF | FlagZF | FlagSF | FlagTF |
		FlagDF | FlagOF | FlagNT | FlagAC | FlagID
	if cpl == 0 {
		writable |= FlagIOPL
	}
	if cpl <= s.IOPL() {
		writable |= FlagIF
	}
	if bits == 16 {
		writable &= 0xFFFF
	}

	s.flags = (s.flags&^writable | v&writable) & flagsValid
	s.flags |= flagsFixedSet
}
