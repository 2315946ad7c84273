// cpu_x86_grp.go - ModRM reg-field opcode groups
//
// Groups 1-7: immediate ALU forms, shifts/rotates, unary arithmetic,
// INC/DEC, indirect control transfers and the system-table instructions.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "math/bits"

// -----------------------------------------------------------------------------
// Group 1: 80 / 81 / 83 - ALU r/m, imm
// -----------------------------------------------------------------------------

func (c *CPU_X86) opGrp1(width int, signExtImm bool) error {
	c.fetchModRM()
	var imm uint64
	switch {
	case signExtImm:
		imm = uint64(int64(int8(c.fetch8())))
	case width == 8:
		imm = uint64(c.fetch8())
	default:
		imm = c.fetchImmZ()
	}
	a, err := c.readRM(width)
	if err != nil {
		return err
	}
	r, wb := c.aluCompute(c.modrmReg&7, width, a, imm)
	if wb {
		return c.writeRM(width, r)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Group 2: C0 / C1 / D0-D3 - shifts and rotates
// -----------------------------------------------------------------------------

type shiftCountKind int

const (
	shiftCountImm8 shiftCountKind = iota
	shiftCountOne
	shiftCountCL
)

func (c *CPU_X86) opGrp2(width int, kind shiftCountKind) error {
	c.fetchModRM()
	var count uint64
	switch kind {
	case shiftCountImm8:
		count = uint64(c.fetch8())
	case shiftCountOne:
		count = 1
	default:
		count = uint64(c.Reg8(RCX, true))
	}
	if width == 64 {
		count &= 63
	} else {
		count &= 31
	}
	a, err := c.readRM(width)
	if err != nil {
		return err
	}
	r := c.shiftRotate(c.modrmReg&7, width, a, count)
	if count == 0 {
		return nil
	}
	return c.writeRM(width, r)
}

// shiftRotate computes one group-2 operation, updating flags per the
// operation's rules: shifts set SF/ZF/PF from the result with explicit
// CF/OF, rotates touch only CF/OF, and OF is defined only for count 1.
func (c *CPU_X86) shiftRotate(op, width int, a, count uint64) uint64 {
	m := widthMask(width)
	sign := signBit(width)
	a &= m
	if count == 0 {
		return a
	}

	setCFOF := func(cf, of bool) {
		c.materializeFlags()
		if cf {
			c.flags |= FlagCF
		} else {
			c.flags &^= FlagCF
		}
		if count == 1 {
			if of {
				c.flags |= FlagOF
			} else {
				c.flags &^= FlagOF
			}
		}
	}

	switch op {
	case 0: // ROL
		n := count % uint64(width)
		r := (a<<n | a>>(uint64(width)-n)) & m
		if n == 0 {
			r = a
		}
		cf := r&1 != 0
		setCFOF(cf, cf != (r&sign != 0))
		return r
	case 1: // ROR
		n := count % uint64(width)
		r := (a>>n | a<<(uint64(width)-n)) & m
		if n == 0 {
			r = a
		}
		cf := r&sign != 0
		setCFOF(cf, (r&sign != 0) != (r&(sign>>1) != 0))
		return r
	case 2: // RCL
		r := a
		cf := c.GetFlag(FlagCF)
		for i := uint64(0); i < count%(uint64(width)+1); i++ {
			top := r&sign != 0
			r = (r<<1 | boolToU64(cf)) & m
			cf = top
		}
		setCFOF(cf, cf != (r&sign != 0))
		return r
	case 3: // RCR
		r := a
		cf := c.GetFlag(FlagCF)
		for i := uint64(0); i < count%(uint64(width)+1); i++ {
			low := r&1 != 0
			r = r>>1 | boolToU64(cf)*sign
			cf = low
		}
		setCFOF(cf, (r&sign != 0) != (r&(sign>>1) != 0))
		return r
	case 4, 6: // SHL / SAL
		var cf bool
		if count <= uint64(width) {
			cf = a&(uint64(1)<<(uint64(width)-count)) != 0
		}
		r := (a << count) & m
		c.setLazyLogic(width, r)
		setCFOF(cf, cf != (r&sign != 0))
		return r
	case 5: // SHR
		cf := a&(uint64(1)<<(count-1)) != 0
		r := a >> count
		c.setLazyLogic(width, r)
		setCFOF(cf, a&sign != 0)
		return r
	default: // SAR
		cf := a&(uint64(1)<<(count-1)) != 0
		r := uint64(sext(a, width)>>count) & m
		c.setLazyLogic(width, r)
		setCFOF(cf, false)
		return r
	}
}

// -----------------------------------------------------------------------------
// Group 3: F6 / F7 - TEST, NOT, NEG, MUL, IMUL, DIV, IDIV
// -----------------------------------------------------------------------------

func (c *CPU_X86) opGrp3(width int) error {
	c.fetchModRM()
	op := c.modrmReg & 7

	// The TEST forms carry an immediate, which must be consumed before the
	// operand is read.
	var imm uint64
	if op == 0 || op == 1 {
		if width == 8 {
			imm = uint64(c.fetch8())
		} else {
			imm = c.fetchImmZ()
		}
	}

	a, err := c.readRM(width)
	if err != nil {
		return err
	}
	m := widthMask(width)

	switch op {
	case 0, 1: // TEST
		c.setLazyLogic(width, a&imm&m)
		return nil
	case 2: // NOT
		return c.writeRM(width, ^a&m)
	case 3: // NEG
		r := (-a) & m
		c.setLazySub(width, 0, a, r, 0)
		return c.writeRM(width, r)
	case 4: // MUL
		return c.mulWide(width, a, false)
	case 5: // IMUL
		return c.mulWide(width, a, true)
	case 6: // DIV
		return c.divWide(width, a, false)
	default: // IDIV
		return c.divWide(width, a, true)
	}
}

// mulWide is the widening one-operand multiply: result lands in AX,
// DX:AX, EDX:EAX or RDX:RAX. CF and OF report a significant high half.
func (c *CPU_X86) mulWide(width int, b uint64, signed bool) error {
	a := c.regVal(width, RAX)
	var lo, hi uint64
	if width == 64 {
		hi, lo = bits.Mul64(a, b)
		if signed {
			if int64(a) < 0 {
				hi -= b
			}
			if int64(b) < 0 {
				hi -= a
			}
		}
	} else {
		if signed {
			full := sext(a, width) * sext(b, width)
			lo = uint64(full) & widthMask(width)
			hi = uint64(full) >> width & widthMask(width)
		} else {
			full := (a & widthMask(width)) * (b & widthMask(width))
			lo = full & widthMask(width)
			hi = full >> width
		}
	}

	var overflow bool
	if signed {
		sign := uint64(0)
		if lo&signBit(width) != 0 {
			sign = widthMask(width)
		}
		overflow = hi&widthMask(width) != sign
	} else {
		overflow = hi != 0
	}

	if width == 8 {
		c.SetReg16(RAX, uint16(hi<<8|lo))
	} else {
		c.setRegVal(width, RAX, lo)
		c.setRegVal(width, RDX, hi)
	}
	c.materializeFlags()
	if overflow {
		c.flags |= FlagCF | FlagOF
	} else {
		c.flags &^= FlagCF | FlagOF
	}
	return nil
}

// divWide divides the double-width accumulator pair by the operand.
// Divide-by-zero and quotient overflow raise #DE.
func (c *CPU_X86) divWide(width int, divisor uint64, signed bool) error {
	if divisor&widthMask(width) == 0 {
		return faultErr(deFault())
	}

	var nHi, nLo uint64
	if width == 8 {
		ax := uint64(c.Reg16(RAX))
		nHi, nLo = ax>>8, ax&0xFF
	} else {
		nLo = c.regVal(width, RAX)
		nHi = c.regVal(width, RDX)
	}

	var q, r uint64
	if signed {
		var num int64
		if width == 64 {
			var ok bool
			q, r, ok = idiv128(nHi, nLo, divisor)
			if !ok {
				return faultErr(deFault())
			}
		} else {
			num = int64(nHi<<width | nLo)
			num = sext(uint64(num), 2*width)
			d := sext(divisor, width)
			quo := num / d
			rem := num % d
			if quo != sext(uint64(quo)&widthMask(width), width) {
				return faultErr(deFault())
			}
			q = uint64(quo) & widthMask(width)
			r = uint64(rem) & widthMask(width)
		}
	} else {
		if width == 64 {
			if nHi >= divisor {
				return faultErr(deFault())
			}
			q, r = bits.Div64(nHi, nLo, divisor)
		} else {
			d := divisor & widthMask(width)
			num := nHi<<width | nLo
			q = num / d
			r = num % d
			if q > widthMask(width) {
				return faultErr(deFault())
			}
		}
	}

	if width == 8 {
		c.SetReg16(RAX, uint16(r<<8|q&0xFF))
	} else {
		c.setRegVal(width, RAX, q)
		c.setRegVal(width, RDX, r)
	}
	return nil
}

// idiv128 is a signed 128/64 divide via magnitudes; reports false on
// divide overflow.
func idiv128(hi, lo, d uint64) (q, r uint64, ok bool) {
	negNum := int64(hi) < 0
	negDiv := int64(d) < 0
	if negNum {
		lo = -lo
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	dm := d
	if negDiv {
		dm = -d
	}
	if hi >= dm {
		return 0, 0, false
	}
	q, r = bits.Div64(hi, lo, dm)
	if negNum != negDiv {
		if q > 1<<63 {
			return 0, 0, false
		}
		q = -q
	} else if q >= 1<<63 {
		return 0, 0, false
	}
	if negNum {
		r = -r
	}
	return q, r, true
}

// -----------------------------------------------------------------------------
// Groups 4/5: FE / FF - INC, DEC, indirect CALL/JMP, PUSH
// -----------------------------------------------------------------------------

// incDec adds delta preserving CF, which INC/DEC never touch.
func (c *CPU_X86) incDec(width int, a uint64, inc bool) uint64 {
	cf := c.GetFlag(FlagCF)
	m := widthMask(width)
	var r uint64
	if inc {
		r = (a + 1) & m
		c.setLazyAdd(width, a&m, 1, r, 0)
	} else {
		r = (a - 1) & m
		c.setLazySub(width, a&m, 1, r, 0)
	}
	c.materializeFlags()
	c.SetFlag(FlagCF, cf)
	return r
}

func (c *CPU_X86) opGrp4() error {
	c.fetchModRM()
	op := c.modrmReg & 7
	if op > 1 {
		return faultErr(udFault())
	}
	a, err := c.readRM(8)
	if err != nil {
		return err
	}
	return c.writeRM(8, c.incDec(8, a, op == 0))
}

func (c *CPU_X86) opGrp5() error {
	c.fetchModRM()
	switch c.modrmReg & 7 {
	case 0, 1: // INC / DEC
		a, err := c.readRM(c.opBits)
		if err != nil {
			return err
		}
		return c.writeRM(c.opBits, c.incDec(c.opBits, a, c.modrmReg&7 == 0))
	case 2: // CALL near indirect
		target, err := c.readRM(c.opBits)
		if err != nil {
			return err
		}
		if err := c.push(c.pushWidth(), c.nextIP()); err != nil {
			return err
		}
		c.RIP = target & c.IPMask()
		c.branched = true
		c.blockEnd = true
		return nil
	case 4: // JMP near indirect
		target, err := c.readRM(c.opBits)
		if err != nil {
			return err
		}
		c.RIP = target & c.IPMask()
		c.branched = true
		c.blockEnd = true
		return nil
	case 6: // PUSH r/m
		v, err := c.readRM(c.pushWidth())
		if err != nil {
			return err
		}
		return c.push(c.pushWidth(), v)
	}
	return faultErr(udFault())
}

// -----------------------------------------------------------------------------
// Groups 6/7: 0F 00 / 0F 01 - system-table instructions
// -----------------------------------------------------------------------------

func (c *CPU_X86) opGrp6() error {
	c.fetchModRM()
	switch c.modrmReg & 7 {
	case 2: // LLDT
		return c.loadSystemSeg(&c.LDTR, 0x2)
	case 3: // LTR
		return c.loadSystemSeg(&c.TR, 0x9)
	}
	return faultErr(udFault())
}

// loadSystemSeg loads LDTR or TR from a selector operand. In long mode
// system descriptors are 16 bytes with the base's upper half trailing.
func (c *CPU_X86) loadSystemSeg(dst *Segment, wantType uint8) error {
	if c.Mode == ModeReal || c.Mode == ModeVM86 {
		return faultErr(udFault())
	}
	if c.CPL() != 0 {
		return faultErr(gpFault(0))
	}
	v, err := c.readRM(16)
	if err != nil {
		return err
	}
	sel := uint16(v)
	if sel&4 != 0 {
		return faultErr(gpFault(uint32(sel) &^ 3))
	}
	if sel&^3 == 0 {
		*dst = Segment{Selector: sel}
		return nil
	}
	desc, err := c.readDescriptor(sel)
	if err != nil {
		return err
	}
	if !desc.IsSystem() || desc.Type()&^0x2 != wantType&^0x2 && desc.Type() != wantType {
		return faultErr(gpFault(uint32(sel) &^ 3))
	}
	if !desc.Present() {
		return faultErr(npFault(uint32(sel) &^ 3))
	}
	if c.Mode == ModeLong {
		idx := uint64(sel&^7) + 8
		hi, err := LinearRead32(&c.CpuState, c.bus, c.GDTR.Base+idx)
		if err != nil {
			return faultErr(busFaultException(err))
		}
		desc.Base |= uint64(hi) << 32
	}
	*dst = desc
	return nil
}

func (c *CPU_X86) opGrp7() error {
	c.fetchModRM()
	op := c.modrmReg & 7
	if c.eaIsReg {
		return faultErr(udFault())
	}
	switch op {
	case 0, 1: // SGDT / SIDT
		t := c.GDTR
		if op == 1 {
			t = c.IDTR
		}
		addr := c.rmLinear()
		if err := LinearWrite16(&c.CpuState, c.bus, addr, t.Limit); err != nil {
			return err
		}
		if c.Mode == ModeLong {
			return LinearWrite64(&c.CpuState, c.bus, addr+2, t.Base)
		}
		return LinearWrite32(&c.CpuState, c.bus, addr+2, uint32(t.Base))
	case 2, 3: // LGDT / LIDT
		if c.CPL() != 0 {
			return faultErr(gpFault(0))
		}
		addr := c.rmLinear()
		limit, err := LinearRead16(&c.CpuState, c.bus, addr)
		if err != nil {
			return err
		}
		var base uint64
		if c.Mode == ModeLong {
			base, err = LinearRead64(&c.CpuState, c.bus, addr+2)
		} else {
			var b32 uint32
			b32, err = LinearRead32(&c.CpuState, c.bus, addr+2)
			base = uint64(b32)
			if c.opBits == 16 {
				base &= 0x00FF_FFFF
			}
		}
		if err != nil {
			return err
		}
		// Both halves read before either register changes.
		if op == 2 {
			c.GDTR = TablePtr{Base: base, Limit: limit}
		} else {
			c.IDTR = TablePtr{Base: base, Limit: limit}
		}
		return nil
	}
	return faultErr(udFault())
}
