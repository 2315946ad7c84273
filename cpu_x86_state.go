// cpu_x86_state.go - x86 architectural CPU state
//
// This holds the register file, segment caches, descriptor-table registers
// and mode/privilege bookkeeping for one virtual CPU:
// - 16 general registers with 8/16/32/64-bit views (legacy high-byte forms included)
// - Segment caches with parsed access/flag bytes
// - GDTR/IDTR plus cached LDTR and TR system segments
// - A20 gate, halted flag and the BIOS-intercept slot
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// General register indices. Order matches the hardware encoding, so a ModRM
// reg/rm field indexes Regs directly.
const (
	RAX = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// CpuMode is the active execution mode. Bitness is derived from the mode
// plus the CS descriptor's D and L bits.
type CpuMode int

const (
	ModeReal CpuMode = iota
	ModeVM86
	ModeProtected
	ModeLong
)

func (m CpuMode) String() string {
	switch m {
	case ModeReal:
		return "real"
	case ModeVM86:
		return "vm86"
	case ModeProtected:
		return "protected"
	case ModeLong:
		return "long"
	}
	return "?"
}

// Segment register indices, hardware encoding order (used by MOV Sw and
// PUSH seg encodings).
type SegIndex int

const (
	SegES SegIndex = iota
	SegCS
	SegSS
	SegDS
	SegFS
	SegGS
)

var segNames = [6]string{"ES", "CS", "SS", "DS", "FS", "GS"}

// Segment is a cached descriptor: the visible selector plus the hidden
// base/limit/attribute state loaded when the selector was written.
type Segment struct {
	Selector uint16
	Base     uint64
	Limit    uint32
	Access   uint8 // P<<7 | DPL<<5 | S<<4 | type
	Flags    uint8 // G<<7 | D/B<<6 | L<<5 | AVL<<4 (descriptor byte 6 high nibble)
}

func (s Segment) Present() bool    { return s.Access&0x80 != 0 }
func (s Segment) DPL() int         { return int(s.Access>>5) & 3 }
func (s Segment) IsSystem() bool   { return s.Access&0x10 == 0 }
func (s Segment) Type() uint8      { return s.Access & 0x0F }
func (s Segment) IsCode() bool     { return !s.IsSystem() && s.Access&0x08 != 0 }
func (s Segment) IsWritable() bool { return !s.IsCode() && s.Access&0x02 != 0 }
func (s Segment) Conforming() bool { return s.IsCode() && s.Access&0x04 != 0 }
func (s Segment) ExpandDown() bool { return !s.IsCode() && !s.IsSystem() && s.Access&0x04 != 0 }
func (s Segment) LongCode() bool   { return s.Flags&0x20 != 0 }
func (s Segment) Default32() bool  { return s.Flags&0x40 != 0 }
func (s Segment) RPL() int         { return int(s.Selector) & 3 }

// realModeSegment builds the cache entry a real-mode selector write produces.
func realModeSegment(sel uint16) Segment {
	return Segment{
		Selector: sel,
		Base:     uint64(sel) << 4,
		Limit:    0xFFFF,
		Access:   0x93, // present, DPL 0, writable data
	}
}

// TablePtr is the GDTR/IDTR register pair.
type TablePtr struct {
	Base  uint64
	Limit uint16
}

// CpuState is the full architectural state of one virtual CPU. It is created
// once and mutated in place; nothing here is safe for concurrent use.
type CpuState struct {
	Regs [16]uint64
	RIP  uint64

	// flags holds the materialized RFLAGS bits; lazy is the outstanding
	// arithmetic-flags record, folded in by materializeFlags.
	flags uint64
	lazy  LazyFlags

	Segs [6]Segment
	GDTR TablePtr
	IDTR TablePtr
	LDTR Segment
	TR   Segment

	CR0  uint64
	CR2  uint64
	CR3  uint64
	CR4  uint64
	EFER uint64

	Mode CpuMode

	Halted     bool
	A20Enabled bool

	// BIOS-intercept slot. The armed flag is set when real-mode delivery
	// vectors through the IVT; PendingBiosIntValid is set when a HLT inside
	// the stub consumes the slot, and is what the embedder inspects.
	PendingBiosInt      uint8
	PendingBiosIntValid bool
	biosIntArmed        bool

	// inhibit suppresses interrupt delivery while > 0 and ages by one per
	// retired instruction. A counter rather than a bool so overlapping
	// arm sources (MOV SS, POP SS, STI) stay correct.
	inhibit int
}

const (
	cr0PE   = 1 << 0
	cr4PAE  = 1 << 5
	eferLME = 1 << 8
	eferLMA = 1 << 10
)

// NewCpuState returns a reset CPU: real mode, CS:IP = 0000:0000, A20 open.
func NewCpuState() *CpuState {
	s := &CpuState{
		Mode:       ModeReal,
		flags:      flagsFixedSet,
		A20Enabled: true,
	}
	for i := range s.Segs {
		s.Segs[i] = realModeSegment(0)
	}
	return s
}

// UpdateMode re-derives Mode from CR0.PE, EFER.LMA and RFLAGS.VM. Call after
// any control-register or EFER write and after flag writes that can toggle VM.
func (s *CpuState) UpdateMode() {
	switch {
	case s.EFER&eferLMA != 0:
		s.Mode = ModeLong
	case s.CR0&cr0PE == 0:
		s.Mode = ModeReal
	case s.flags&FlagVM != 0:
		s.Mode = ModeVM86
	default:
		s.Mode = ModeProtected
	}
}

// CPL is the current privilege level: always CS.Selector & 3 outside real
// mode, pinned to 0/3 in real/VM86 mode.
func (s *CpuState) CPL() int {
	switch s.Mode {
	case ModeReal:
		return 0
	case ModeVM86:
		return 3
	}
	return int(s.Segs[SegCS].Selector) & 3
}

// Bitness is the default code size implied by the mode and CS attributes.
func (s *CpuState) Bitness() int {
	switch s.Mode {
	case ModeReal, ModeVM86:
		return 16
	case ModeLong:
		if s.Segs[SegCS].LongCode() {
			return 64
		}
		return 32
	}
	if s.Segs[SegCS].Default32() {
		return 32
	}
	return 16
}

// IPMask masks RIP to the instruction-pointer width of the current mode.
func (s *CpuState) IPMask() uint64 {
	switch s.Bitness() {
	case 16:
		return 0xFFFF
	case 32:
		return 0xFFFF_FFFF
	}
	return ^uint64(0)
}

// StackBits is the width of stack operations implied by SS (always 64 in
// long mode).
func (s *CpuState) StackBits() int {
	if s.Mode == ModeLong {
		return 64
	}
	if s.Segs[SegSS].Default32() {
		return 32
	}
	return 16
}

// linearWindow is the wraparound window of the current addressing mode:
// 0 means the full 64-bit space, otherwise addresses wrap at the returned
// size (1MiB alias with the A20 gate closed in 16-bit modes, 4GiB otherwise).
func (s *CpuState) linearWindow() uint64 {
	if s.Mode == ModeLong {
		return 0
	}
	if (s.Mode == ModeReal || s.Mode == ModeVM86) && !s.A20Enabled {
		return 1 << 20
	}
	return 1 << 32
}

// Reg64 / SetReg64 access the full register.
func (s *CpuState) Reg64(idx int) uint64     { return s.Regs[idx] }
func (s *CpuState) SetReg64(idx int, v uint64) { s.Regs[idx] = v }

// Reg32 / SetReg32: 32-bit views. Writes zero-extend into the full register,
// matching hardware.
func (s *CpuState) Reg32(idx int) uint32       { return uint32(s.Regs[idx]) }
func (s *CpuState) SetReg32(idx int, v uint32) { s.Regs[idx] = uint64(v) }

// Reg16 / SetReg16: low-word views, upper bits preserved.
func (s *CpuState) Reg16(idx int) uint16 { return uint16(s.Regs[idx]) }
func (s *CpuState) SetReg16(idx int, v uint16) {
	s.Regs[idx] = s.Regs[idx]&^0xFFFF | uint64(v)
}

// Reg8 / SetReg8: byte views. Without a REX prefix, encodings 4-7 select
// the legacy high-byte forms AH/CH/DH/BH.
func (s *CpuState) Reg8(idx int, rexUsed bool) uint8 {
	if !rexUsed && idx >= 4 && idx < 8 {
		return uint8(s.Regs[idx-4] >> 8)
	}
	return uint8(s.Regs[idx])
}

func (s *CpuState) SetReg8(idx int, rexUsed bool, v uint8) {
	if !rexUsed && idx >= 4 && idx < 8 {
		s.Regs[idx-4] = s.Regs[idx-4]&^uint64(0xFF00) | uint64(v)<<8
		return
	}
	s.Regs[idx] = s.Regs[idx]&^uint64(0xFF) | uint64(v)
}

// SetRealModeSeg loads a segment register the real-mode way: base = sel<<4.
func (s *CpuState) SetRealModeSeg(idx SegIndex, sel uint16) {
	s.Segs[idx] = realModeSegment(sel)
}

// SetA20 opens or closes the A20 gate. Takes effect on the next access.
func (s *CpuState) SetA20(enabled bool) { s.A20Enabled = enabled }

// TakeBiosInt consumes the BIOS-intercept slot, returning the vector and
// whether one was pending. The embedder calls this after an ExecBlock that
// reported a BIOS interrupt.
func (s *CpuState) TakeBiosInt() (uint8, bool) {
	if !s.PendingBiosIntValid {
		return 0, false
	}
	s.PendingBiosIntValid = false
	return s.PendingBiosInt, true
}
