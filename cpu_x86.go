// cpu_x86.go - Tier-0 x86 execution engine core
//
// Single-instruction interpreter driven against a pluggable Bus:
// - Table dispatch over one- and two-byte opcodes
// - Prefix handling (segment overrides, 0x66/0x67, REP/LOCK, REX)
// - ModRM/SIB effective-address decoding for 16/32/64-bit forms
// - ExecBlock glue: decode-dispatch until a block boundary, budget
//   exhaustion, or interrupt delivery redirects control
//
// Everything architectural lives in CpuState; this file owns the decode
// scratch state, which is reset per instruction.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "sync/atomic"

// BlockExit tells the embedder why ExecBlock stopped.
type BlockExit int

const (
	ExitBudget BlockExit = iota
	ExitBranch
	ExitHalt
	ExitBiosInterrupt
	ExitInterrupt
)

func (e BlockExit) String() string {
	switch e {
	case ExitBudget:
		return "budget"
	case ExitBranch:
		return "branch"
	case ExitHalt:
		return "halt"
	case ExitBiosInterrupt:
		return "bios-interrupt"
	case ExitInterrupt:
		return "interrupt"
	}
	return "?"
}

// CPU_X86 is one virtual CPU bound to its bus. Not safe for concurrent use;
// the runner serializes all access.
type CPU_X86 struct {
	CpuState
	bus Bus

	baseOps    [256]func(*CPU_X86) error
	twoByteOps [256]func(*CPU_X86) error

	// Decode scratch, reset each instruction.
	instr      [MaxInstrLen]byte
	pos        int
	opBits     int
	addrBits   int
	rex        uint8
	rexPresent bool
	segOv      int // SegIndex or -1
	repPrefix  uint8
	lockPrefix bool

	modrm    uint8
	modrmMod int
	modrmReg int
	modrmRM  int
	eaIsReg  bool
	eaRipRel bool
	eaOffset uint64
	eaSeg    SegIndex

	branched   bool
	blockEnd   bool
	armInhibit bool

	pendingExc *Exception
	extQueue   []uint8

	// retired counts instructions that completed; faulting instructions and
	// delivery redirects are not charged.
	retired uint64

	running atomic.Bool
}

// NewCPUX86 creates a reset CPU bound to the given bus.
func NewCPUX86(bus Bus) *CPU_X86 {
	c := &CPU_X86{
		CpuState: *NewCpuState(),
		bus:      bus,
	}
	c.initDispatch()
	return c
}

// Bus returns the bus this CPU drives.
func (c *CPU_X86) Bus() Bus { return c.bus }

// Reset returns the CPU to power-on state, keeping the bus binding.
func (c *CPU_X86) Reset() {
	c.CpuState = *NewCpuState()
	c.pendingExc = nil
	c.extQueue = nil
	c.retired = 0
}

func (c *CPU_X86) Running() bool        { return c.running.Load() }
func (c *CPU_X86) SetRunning(on bool)   { c.running.Store(on) }

// InstructionsRetired reports the running count of completed instructions.
func (c *CPU_X86) InstructionsRetired() uint64 { return c.retired }

// ExecBlock executes instructions until a block-ending instruction retires
// (branch, interrupt return, HLT), the budget is exhausted, or delivery
// redirects control. Returns a typed error only for host-level failures
// (triple fault, malformed bus): guest-visible faults run the guest's own
// handlers.
func (c *CPU_X86) ExecBlock(budget int) (BlockExit, error) {
	for i := 0; i < budget; i++ {
		delivered, err := c.deliverPending()
		if err != nil {
			return ExitInterrupt, err
		}
		if delivered {
			return ExitInterrupt, nil
		}
		if c.Halted {
			return ExitHalt, nil
		}
		if err := c.step(); err != nil {
			return ExitBranch, err
		}
		if c.PendingBiosIntValid {
			return ExitBiosInterrupt, nil
		}
		if c.Halted {
			return ExitHalt, nil
		}
		if c.blockEnd {
			return ExitBranch, nil
		}
	}
	return ExitBudget, nil
}

// Step runs the delivery check plus at most one instruction. The monitor's
// single-step and the tests drive this directly.
func (c *CPU_X86) Step() error {
	delivered, err := c.deliverPending()
	if err != nil || delivered || c.Halted {
		return err
	}
	return c.step()
}

// step decodes and dispatches one instruction. Architectural faults are
// latched via raiseFault and reported as nil: the next delivery check
// consumes them at this instruction's address.
func (c *CPU_X86) step() error {
	c.pos = 0
	c.rex = 0
	c.rexPresent = false
	c.segOv = -1
	c.repPrefix = 0
	c.lockPrefix = false
	c.eaRipRel = false
	c.branched = false
	c.blockEnd = false
	c.armInhibit = false

	defBits := c.Bitness()
	lin := c.Segs[SegCS].Base + (c.RIP & c.IPMask())
	n, err := LinearFetch(&c.CpuState, c.bus, lin, &c.instr)
	if err != nil || n == 0 {
		c.raiseFault(busFaultException(err))
		return nil
	}
	for i := n; i < MaxInstrLen; i++ {
		c.instr[i] = 0
	}

	opSizeOv := false
	addrSizeOv := false
prefixes:
	for {
		if c.pos >= MaxInstrLen {
			c.raiseFault(gpFault(0))
			return nil
		}
		switch b := c.instr[c.pos]; b {
		case 0x66:
			opSizeOv = true
		case 0x67:
			addrSizeOv = true
		case 0x26:
			c.segOv = int(SegES)
		case 0x2E:
			c.segOv = int(SegCS)
		case 0x36:
			c.segOv = int(SegSS)
		case 0x3E:
			c.segOv = int(SegDS)
		case 0x64:
			c.segOv = int(SegFS)
		case 0x65:
			c.segOv = int(SegGS)
		case 0xF0:
			c.lockPrefix = true
		case 0xF2, 0xF3:
			c.repPrefix = b
		default:
			if defBits == 64 && b&0xF0 == 0x40 {
				c.rex = b
				c.rexPresent = true
				c.pos++
				break prefixes
			}
			break prefixes
		}
		c.pos++
	}

	switch defBits {
	case 64:
		switch {
		case c.rex&0x08 != 0:
			c.opBits = 64
		case opSizeOv:
			c.opBits = 16
		default:
			c.opBits = 32
		}
		if addrSizeOv {
			c.addrBits = 32
		} else {
			c.addrBits = 64
		}
	case 32:
		if opSizeOv {
			c.opBits = 16
		} else {
			c.opBits = 32
		}
		if addrSizeOv {
			c.addrBits = 16
		} else {
			c.addrBits = 32
		}
	default:
		if opSizeOv {
			c.opBits = 32
		} else {
			c.opBits = 16
		}
		if addrSizeOv {
			c.addrBits = 32
		} else {
			c.addrBits = 16
		}
	}

	op := c.fetch8()
	var handler func(*CPU_X86) error
	if op == 0x0F {
		handler = c.twoByteOps[c.fetch8()]
	} else {
		handler = c.baseOps[op]
	}
	if handler == nil {
		c.raiseFault(udFault())
		return nil
	}

	if err := handler(c); err != nil {
		if exc, ok := asCpuFault(err); ok {
			// Fault: RIP stays at this instruction.
			c.raiseFault(exc)
			return nil
		}
		return err
	}

	// Retire.
	c.retired++
	if !c.branched {
		c.RIP = (c.RIP + uint64(c.pos)) & c.IPMask()
	}
	if c.armInhibit {
		c.inhibit = 1
	} else if c.inhibit > 0 {
		c.inhibit--
	}
	return nil
}

// -----------------------------------------------------------------------------
// Instruction byte fetch (from the per-instruction buffer)
// -----------------------------------------------------------------------------

func (c *CPU_X86) fetch8() uint8 {
	if c.pos >= MaxInstrLen {
		return 0
	}
	b := c.instr[c.pos]
	c.pos++
	return b
}

func (c *CPU_X86) fetch16() uint16 {
	lo := uint16(c.fetch8())
	return lo | uint16(c.fetch8())<<8
}

func (c *CPU_X86) fetch32() uint32 {
	lo := uint32(c.fetch16())
	return lo | uint32(c.fetch16())<<16
}

func (c *CPU_X86) fetch64() uint64 {
	lo := uint64(c.fetch32())
	return lo | uint64(c.fetch32())<<32
}

// fetchImmZ fetches the standard immediate for the current operand size:
// imm16 at 16 bits, imm32 otherwise, sign-extended to 64 at 64 bits.
func (c *CPU_X86) fetchImmZ() uint64 {
	switch c.opBits {
	case 16:
		return uint64(c.fetch16())
	case 64:
		return uint64(int64(int32(c.fetch32())))
	default:
		return uint64(c.fetch32())
	}
}

// fetchImmFull fetches a full-width immediate (MOV B8+r only form that
// takes imm64).
func (c *CPU_X86) fetchImmFull() uint64 {
	switch c.opBits {
	case 16:
		return uint64(c.fetch16())
	case 64:
		return c.fetch64()
	default:
		return uint64(c.fetch32())
	}
}

// -----------------------------------------------------------------------------
// ModRM / SIB
// -----------------------------------------------------------------------------

func (c *CPU_X86) fetchModRM() {
	m := c.fetch8()
	c.modrm = m
	c.modrmMod = int(m >> 6)
	c.modrmReg = int(m>>3) & 7
	if c.rex&0x04 != 0 {
		c.modrmReg += 8
	}
	c.modrmRM = int(m) & 7
	c.eaRipRel = false
	if c.modrmMod == 3 {
		c.eaIsReg = true
		if c.rex&0x01 != 0 {
			c.modrmRM += 8
		}
		return
	}
	c.eaIsReg = false
	if c.addrBits == 16 {
		c.decodeEA16()
	} else {
		c.decodeEA()
	}
	if c.segOv >= 0 {
		c.eaSeg = SegIndex(c.segOv)
	}
}

func (c *CPU_X86) decodeEA16() {
	var off uint64
	seg := SegDS
	switch c.modrmRM {
	case 0:
		off = uint64(c.Reg16(RBX) + c.Reg16(RSI))
	case 1:
		off = uint64(c.Reg16(RBX) + c.Reg16(RDI))
	case 2:
		off = uint64(c.Reg16(RBP) + c.Reg16(RSI))
		seg = SegSS
	case 3:
		off = uint64(c.Reg16(RBP) + c.Reg16(RDI))
		seg = SegSS
	case 4:
		off = uint64(c.Reg16(RSI))
	case 5:
		off = uint64(c.Reg16(RDI))
	case 6:
		if c.modrmMod == 0 {
			off = uint64(c.fetch16())
		} else {
			off = uint64(c.Reg16(RBP))
			seg = SegSS
		}
	case 7:
		off = uint64(c.Reg16(RBX))
	}
	switch c.modrmMod {
	case 1:
		off += uint64(int64(int8(c.fetch8())))
	case 2:
		off += uint64(c.fetch16())
	}
	c.eaOffset = off & 0xFFFF
	c.eaSeg = seg
}

func (c *CPU_X86) decodeEA() {
	var off uint64
	seg := SegDS
	rm := c.modrmRM

	if rm == 4 {
		sib := c.fetch8()
		scale := sib >> 6
		encIdx := int(sib>>3) & 7
		idx := encIdx
		if c.rex&0x02 != 0 {
			idx += 8
		}
		base := int(sib) & 7
		baseReg := base
		if c.rex&0x01 != 0 {
			baseReg += 8
		}
		if base == 5 && c.modrmMod == 0 {
			off = uint64(int64(int32(c.fetch32())))
		} else {
			off = c.Regs[baseReg]
			if baseReg == RSP || baseReg == RBP {
				seg = SegSS
			}
		}
		if idx != 4 {
			off += c.Regs[idx] << scale
		}
	} else if rm == 5 && c.modrmMod == 0 {
		disp := uint64(int64(int32(c.fetch32())))
		if c.Bitness() == 64 {
			// RIP-relative: resolved against the next instruction's
			// address at access time.
			c.eaRipRel = true
			off = disp
		} else {
			off = disp
		}
	} else {
		reg := rm
		if c.rex&0x01 != 0 {
			reg += 8
		}
		off = c.Regs[reg]
		if reg == RBP {
			seg = SegSS
		}
	}

	switch c.modrmMod {
	case 1:
		off += uint64(int64(int8(c.fetch8())))
	case 2:
		off += uint64(int64(int32(c.fetch32())))
	}
	c.eaOffset = off
	c.eaSeg = seg
}

func (c *CPU_X86) addrMask() uint64 {
	switch c.addrBits {
	case 16:
		return 0xFFFF
	case 32:
		return 0xFFFF_FFFF
	}
	return ^uint64(0)
}

// rmLinear resolves the decoded effective address to a linear address.
// Handlers must finish fetching immediates before calling this so that the
// RIP-relative base sees the full instruction length.
func (c *CPU_X86) rmLinear() uint64 {
	off := c.eaOffset
	if c.eaRipRel {
		off = (c.RIP + uint64(c.pos) + off) & c.IPMask()
	}
	return c.Segs[c.eaSeg].Base + (off & c.addrMask())
}

// -----------------------------------------------------------------------------
// Operand access
// -----------------------------------------------------------------------------

func (c *CPU_X86) regVal(bits, idx int) uint64 {
	switch bits {
	case 8:
		return uint64(c.Reg8(idx, c.rexPresent))
	case 16:
		return uint64(c.Reg16(idx))
	case 32:
		return uint64(c.Reg32(idx))
	}
	return c.Regs[idx]
}

func (c *CPU_X86) setRegVal(bits, idx int, v uint64) {
	switch bits {
	case 8:
		c.SetReg8(idx, c.rexPresent, uint8(v))
	case 16:
		c.SetReg16(idx, uint16(v))
	case 32:
		c.SetReg32(idx, uint32(v))
	default:
		c.Regs[idx] = v
	}
}

func (c *CPU_X86) readRM(bits int) (uint64, error) {
	if c.eaIsReg {
		return c.regVal(bits, c.modrmRM), nil
	}
	addr := c.rmLinear()
	switch bits {
	case 8:
		v, err := LinearRead8(&c.CpuState, c.bus, addr)
		return uint64(v), err
	case 16:
		v, err := LinearRead16(&c.CpuState, c.bus, addr)
		return uint64(v), err
	case 32:
		v, err := LinearRead32(&c.CpuState, c.bus, addr)
		return uint64(v), err
	}
	return LinearRead64(&c.CpuState, c.bus, addr)
}

func (c *CPU_X86) writeRM(bits int, v uint64) error {
	if c.eaIsReg {
		c.setRegVal(bits, c.modrmRM, v)
		return nil
	}
	addr := c.rmLinear()
	switch bits {
	case 8:
		return LinearWrite8(&c.CpuState, c.bus, addr, uint8(v))
	case 16:
		return LinearWrite16(&c.CpuState, c.bus, addr, uint16(v))
	case 32:
		return LinearWrite32(&c.CpuState, c.bus, addr, uint32(v))
	}
	return LinearWrite64(&c.CpuState, c.bus, addr, v)
}

// -----------------------------------------------------------------------------
// Segment loads
// -----------------------------------------------------------------------------

// loadSegReg implements MOV Sreg / POP Sreg semantics for the current mode.
// Loading SS arms the one-instruction interrupt shadow at retire.
func (c *CPU_X86) loadSegReg(idx SegIndex, sel uint16) error {
	if c.Mode == ModeReal || c.Mode == ModeVM86 {
		c.SetRealModeSeg(idx, sel)
		return nil
	}
	if sel&^3 == 0 {
		if idx == SegSS && c.Mode != ModeLong {
			return faultErr(gpFault(0))
		}
		c.Segs[idx] = Segment{Selector: sel}
		return nil
	}
	desc, err := c.readDescriptor(sel)
	if err != nil {
		return err
	}
	if idx == SegSS {
		if !desc.IsWritable() || desc.DPL() != c.CPL() || int(sel)&3 != c.CPL() {
			return faultErr(gpFault(uint32(sel) &^ 3))
		}
		if !desc.Present() {
			return faultErr(ssFault(uint32(sel) &^ 3))
		}
	} else {
		if desc.IsSystem() || (desc.IsCode() && desc.Access&0x02 == 0) {
			return faultErr(gpFault(uint32(sel) &^ 3))
		}
		if !desc.Present() {
			return faultErr(npFault(uint32(sel) &^ 3))
		}
	}
	c.Segs[idx] = desc
	return nil
}
