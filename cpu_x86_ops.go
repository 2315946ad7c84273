// cpu_x86_ops.go - One- and two-byte opcode handlers
//
// Dispatch tables are built once per CPU in initDispatch. Handlers return an
// error only for architectural faults (wrapped Exceptions) or bus failures;
// the step loop translates both. Handlers that change control flow set
// branched so retire skips the RIP advance.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "math/bits"

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// aluCompute performs one of the eight classic ALU row operations, recording
// the lazy-flags operation. The second return is false for CMP (no writeback).
func (c *CPU_X86) aluCompute(idx, width int, a, b uint64) (uint64, bool) {
	m := widthMask(width)
	a &= m
	b &= m
	switch idx {
	case 0: // ADD
		r := (a + b) & m
		c.setLazyAdd(width, a, b, r, 0)
		return r, true
	case 1: // OR
		r := a | b
		c.setLazyLogic(width, r)
		return r, true
	case 2: // ADC
		ci := boolToU64(c.GetFlag(FlagCF))
		r := (a + b + ci) & m
		c.setLazyAdd(width, a, b, r, ci)
		return r, true
	case 3: // SBB
		bi := boolToU64(c.GetFlag(FlagCF))
		r := (a - b - bi) & m
		c.setLazySub(width, a, b, r, bi)
		return r, true
	case 4: // AND
		r := a & b
		c.setLazyLogic(width, r)
		return r, true
	case 5: // SUB
		r := (a - b) & m
		c.setLazySub(width, a, b, r, 0)
		return r, true
	case 6: // XOR
		r := a ^ b
		c.setLazyLogic(width, r)
		return r, true
	default: // CMP
		r := (a - b) & m
		c.setLazySub(width, a, b, r, 0)
		return r, false
	}
}

// cond evaluates the 4-bit condition encoding shared by Jcc/SETcc/CMOVcc.
func (c *CPU_X86) cond(n int) bool {
	var v bool
	switch n >> 1 {
	case 0:
		v = c.GetFlag(FlagOF)
	case 1:
		v = c.GetFlag(FlagCF)
	case 2:
		v = c.GetFlag(FlagZF)
	case 3:
		v = c.GetFlag(FlagCF) || c.GetFlag(FlagZF)
	case 4:
		v = c.GetFlag(FlagSF)
	case 5:
		v = c.GetFlag(FlagPF)
	case 6:
		v = c.GetFlag(FlagSF) != c.GetFlag(FlagOF)
	default:
		v = c.GetFlag(FlagZF) || c.GetFlag(FlagSF) != c.GetFlag(FlagOF)
	}
	if n&1 != 0 {
		return !v
	}
	return v
}

// pushWidth is the operand width of stack pushes/pops: 64-bit mode promotes
// the 32-bit form to 64.
func (c *CPU_X86) pushWidth() int {
	if c.Mode == ModeLong {
		if c.opBits == 16 {
			return 16
		}
		return 64
	}
	return c.opBits
}

func (c *CPU_X86) nextIP() uint64 {
	return (c.RIP + uint64(c.pos)) & c.IPMask()
}

func (c *CPU_X86) jumpRel(rel int64) {
	c.RIP = (c.RIP + uint64(c.pos) + uint64(rel)) & c.IPMask()
	c.branched = true
	c.blockEnd = true
}

func (c *CPU_X86) fetchRelZ() int64 {
	if c.opBits == 16 {
		return int64(int16(c.fetch16()))
	}
	return int64(int32(c.fetch32()))
}

// memSeg resolves the segment for non-ModRM memory forms (moffs, string ops).
func (c *CPU_X86) memSeg(def SegIndex) SegIndex {
	if c.segOv >= 0 {
		return SegIndex(c.segOv)
	}
	return def
}

func (c *CPU_X86) eaValue() uint64 {
	off := c.eaOffset
	if c.eaRipRel {
		return (c.RIP + uint64(c.pos) + off) & c.IPMask()
	}
	return off & c.addrMask()
}

// ioPermitted applies the IOPL gate for IN/OUT and CLI/STI.
func (c *CPU_X86) ioPermitted() bool {
	if c.Mode == ModeReal {
		return true
	}
	return c.CPL() <= c.IOPL()
}

func (c *CPU_X86) ioSize() int {
	switch c.opBits {
	case 16:
		return 2
	default:
		return 4
	}
}

// -----------------------------------------------------------------------------
// Dispatch table construction
// -----------------------------------------------------------------------------

func (c *CPU_X86) initDispatch() {
	// ALU rows: op<<3 gives the base opcode of each row.
	for idx := 0; idx < 8; idx++ {
		op := idx // captured per row
		base := uint8(idx << 3)
		c.baseOps[base+0] = func(c *CPU_X86) error { return c.opALUEbGb(op) }
		c.baseOps[base+1] = func(c *CPU_X86) error { return c.opALUEvGv(op) }
		c.baseOps[base+2] = func(c *CPU_X86) error { return c.opALUGbEb(op) }
		c.baseOps[base+3] = func(c *CPU_X86) error { return c.opALUGvEv(op) }
		c.baseOps[base+4] = func(c *CPU_X86) error { return c.opALUALIb(op) }
		c.baseOps[base+5] = func(c *CPU_X86) error { return c.opALUeAXIz(op) }
	}

	// Legacy segment push/pop (invalid in 64-bit mode).
	segOps := []struct {
		push, pop uint8
		seg       SegIndex
	}{
		{0x06, 0x07, SegES},
		{0x0E, 0xFF, SegCS}, // 0F is the two-byte escape; no POP CS
		{0x16, 0x17, SegSS},
		{0x1E, 0x1F, SegDS},
	}
	for _, so := range segOps {
		seg := so.seg
		c.baseOps[so.push] = func(c *CPU_X86) error { return c.opPushSeg(seg) }
		if so.pop != 0xFF {
			c.baseOps[so.pop] = func(c *CPU_X86) error { return c.opPopSeg(seg) }
		}
	}

	// PUSH/POP r16/r32/r64.
	for i := 0; i < 8; i++ {
		reg := i
		c.baseOps[0x50+i] = func(c *CPU_X86) error { return c.opPushReg(reg) }
		c.baseOps[0x58+i] = func(c *CPU_X86) error { return c.opPopReg(reg) }
	}

	c.baseOps[0x60] = (*CPU_X86).opPUSHA
	c.baseOps[0x61] = (*CPU_X86).opPOPA
	c.baseOps[0x68] = func(c *CPU_X86) error { return c.opPushImm(false) }
	c.baseOps[0x69] = func(c *CPU_X86) error { return c.opIMUL3(false) }
	c.baseOps[0x6A] = func(c *CPU_X86) error { return c.opPushImm(true) }
	c.baseOps[0x6B] = func(c *CPU_X86) error { return c.opIMUL3(true) }

	for i := 0; i < 16; i++ {
		cc := i
		c.baseOps[0x70+i] = func(c *CPU_X86) error { return c.opJccShort(cc) }
		c.twoByteOps[0x80+i] = func(c *CPU_X86) error { return c.opJccNear(cc) }
		c.twoByteOps[0x40+i] = func(c *CPU_X86) error { return c.opCMOVcc(cc) }
		c.twoByteOps[0x90+i] = func(c *CPU_X86) error { return c.opSETcc(cc) }
	}

	c.baseOps[0x80] = func(c *CPU_X86) error { return c.opGrp1(8, false) }
	c.baseOps[0x81] = func(c *CPU_X86) error { return c.opGrp1(c.opBits, false) }
	c.baseOps[0x83] = func(c *CPU_X86) error { return c.opGrp1(c.opBits, true) }

	c.baseOps[0x84] = func(c *CPU_X86) error { return c.opTESTrm(8) }
	c.baseOps[0x85] = func(c *CPU_X86) error { return c.opTESTrm(c.opBits) }
	c.baseOps[0x86] = func(c *CPU_X86) error { return c.opXCHGrm(8) }
	c.baseOps[0x87] = func(c *CPU_X86) error { return c.opXCHGrm(c.opBits) }
	c.baseOps[0x88] = func(c *CPU_X86) error { return c.opMOVEbGb() }
	c.baseOps[0x89] = func(c *CPU_X86) error { return c.opMOVEvGv() }
	c.baseOps[0x8A] = func(c *CPU_X86) error { return c.opMOVGbEb() }
	c.baseOps[0x8B] = func(c *CPU_X86) error { return c.opMOVGvEv() }
	c.baseOps[0x8C] = (*CPU_X86).opMOVEvSw
	c.baseOps[0x8D] = (*CPU_X86).opLEA
	c.baseOps[0x8E] = (*CPU_X86).opMOVSwEv
	c.baseOps[0x8F] = (*CPU_X86).opPopRM

	c.baseOps[0x90] = func(c *CPU_X86) error { return nil } // NOP / PAUSE
	for i := 1; i < 8; i++ {
		reg := i
		c.baseOps[0x90+i] = func(c *CPU_X86) error { return c.opXCHGeAX(reg) }
	}
	c.baseOps[0x98] = (*CPU_X86).opCBW
	c.baseOps[0x99] = (*CPU_X86).opCWD
	c.baseOps[0x9C] = (*CPU_X86).opPUSHF
	c.baseOps[0x9D] = (*CPU_X86).opPOPF
	c.baseOps[0x9E] = (*CPU_X86).opSAHF
	c.baseOps[0x9F] = (*CPU_X86).opLAHF

	c.baseOps[0xA0] = func(c *CPU_X86) error { return c.opMOVALmoffs(false) }
	c.baseOps[0xA1] = func(c *CPU_X86) error { return c.opMOVeAXmoffs(false) }
	c.baseOps[0xA2] = func(c *CPU_X86) error { return c.opMOVALmoffs(true) }
	c.baseOps[0xA3] = func(c *CPU_X86) error { return c.opMOVeAXmoffs(true) }
	c.baseOps[0xA4] = func(c *CPU_X86) error { return c.opMOVS(8) }
	c.baseOps[0xA5] = func(c *CPU_X86) error { return c.opMOVS(c.opBits) }
	c.baseOps[0xA6] = func(c *CPU_X86) error { return c.opCMPS(8) }
	c.baseOps[0xA7] = func(c *CPU_X86) error { return c.opCMPS(c.opBits) }
	c.baseOps[0xA8] = func(c *CPU_X86) error { return c.opTESTALIb(8) }
	c.baseOps[0xA9] = func(c *CPU_X86) error { return c.opTESTALIb(c.opBits) }
	c.baseOps[0xAA] = func(c *CPU_X86) error { return c.opSTOS(8) }
	c.baseOps[0xAB] = func(c *CPU_X86) error { return c.opSTOS(c.opBits) }
	c.baseOps[0xAC] = func(c *CPU_X86) error { return c.opLODS(8) }
	c.baseOps[0xAD] = func(c *CPU_X86) error { return c.opLODS(c.opBits) }
	c.baseOps[0xAE] = func(c *CPU_X86) error { return c.opSCAS(8) }
	c.baseOps[0xAF] = func(c *CPU_X86) error { return c.opSCAS(c.opBits) }

	for i := 0; i < 8; i++ {
		reg := i
		c.baseOps[0xB0+i] = func(c *CPU_X86) error { return c.opMOVr8Imm(reg) }
		c.baseOps[0xB8+i] = func(c *CPU_X86) error { return c.opMOVrImm(reg) }
	}

	c.baseOps[0xC0] = func(c *CPU_X86) error { return c.opGrp2(8, shiftCountImm8) }
	c.baseOps[0xC1] = func(c *CPU_X86) error { return c.opGrp2(c.opBits, shiftCountImm8) }
	c.baseOps[0xC2] = func(c *CPU_X86) error { return c.opRET(true) }
	c.baseOps[0xC3] = func(c *CPU_X86) error { return c.opRET(false) }
	c.baseOps[0xC6] = func(c *CPU_X86) error { return c.opMOVrmImm(8) }
	c.baseOps[0xC7] = func(c *CPU_X86) error { return c.opMOVrmImm(c.opBits) }
	c.baseOps[0xC9] = (*CPU_X86).opLEAVE
	c.baseOps[0xCC] = (*CPU_X86).opINT3
	c.baseOps[0xCD] = (*CPU_X86).opINTn
	c.baseOps[0xCE] = (*CPU_X86).opINTO
	c.baseOps[0xCF] = (*CPU_X86).opIRET

	c.baseOps[0xD0] = func(c *CPU_X86) error { return c.opGrp2(8, shiftCountOne) }
	c.baseOps[0xD1] = func(c *CPU_X86) error { return c.opGrp2(c.opBits, shiftCountOne) }
	c.baseOps[0xD2] = func(c *CPU_X86) error { return c.opGrp2(8, shiftCountCL) }
	c.baseOps[0xD3] = func(c *CPU_X86) error { return c.opGrp2(c.opBits, shiftCountCL) }
	c.baseOps[0xD7] = (*CPU_X86).opXLAT

	c.baseOps[0xE0] = func(c *CPU_X86) error { return c.opLOOP(loopNE) }
	c.baseOps[0xE1] = func(c *CPU_X86) error { return c.opLOOP(loopE) }
	c.baseOps[0xE2] = func(c *CPU_X86) error { return c.opLOOP(loopPlain) }
	c.baseOps[0xE3] = (*CPU_X86).opJCXZ
	c.baseOps[0xE4] = func(c *CPU_X86) error { return c.opIN(1, true) }
	c.baseOps[0xE5] = func(c *CPU_X86) error { return c.opIN(c.ioSize(), true) }
	c.baseOps[0xE6] = func(c *CPU_X86) error { return c.opOUT(1, true) }
	c.baseOps[0xE7] = func(c *CPU_X86) error { return c.opOUT(c.ioSize(), true) }
	c.baseOps[0xE8] = (*CPU_X86).opCALLrel
	c.baseOps[0xE9] = func(c *CPU_X86) error { c.jumpRel(c.fetchRelZ()); return nil }
	c.baseOps[0xEA] = (*CPU_X86).opJMPFar
	c.baseOps[0xEB] = func(c *CPU_X86) error { c.jumpRel(int64(int8(c.fetch8()))); return nil }
	c.baseOps[0xEC] = func(c *CPU_X86) error { return c.opIN(1, false) }
	c.baseOps[0xED] = func(c *CPU_X86) error { return c.opIN(c.ioSize(), false) }
	c.baseOps[0xEE] = func(c *CPU_X86) error { return c.opOUT(1, false) }
	c.baseOps[0xEF] = func(c *CPU_X86) error { return c.opOUT(c.ioSize(), false) }

	c.baseOps[0xF4] = (*CPU_X86).opHLT
	c.baseOps[0xF5] = func(c *CPU_X86) error { c.SetFlag(FlagCF, !c.GetFlag(FlagCF)); return nil }
	c.baseOps[0xF6] = func(c *CPU_X86) error { return c.opGrp3(8) }
	c.baseOps[0xF7] = func(c *CPU_X86) error { return c.opGrp3(c.opBits) }
	c.baseOps[0xF8] = func(c *CPU_X86) error { c.SetFlag(FlagCF, false); return nil }
	c.baseOps[0xF9] = func(c *CPU_X86) error { c.SetFlag(FlagCF, true); return nil }
	c.baseOps[0xFA] = (*CPU_X86).opCLI
	c.baseOps[0xFB] = (*CPU_X86).opSTI
	c.baseOps[0xFC] = func(c *CPU_X86) error { c.SetFlag(FlagDF, false); return nil }
	c.baseOps[0xFD] = func(c *CPU_X86) error { c.SetFlag(FlagDF, true); return nil }
	c.baseOps[0xFE] = (*CPU_X86).opGrp4
	c.baseOps[0xFF] = (*CPU_X86).opGrp5

	// Two-byte table.
	c.twoByteOps[0x00] = (*CPU_X86).opGrp6
	c.twoByteOps[0x01] = (*CPU_X86).opGrp7
	c.twoByteOps[0x0B] = func(c *CPU_X86) error { return faultErr(udFault()) } // UD2
	c.twoByteOps[0x20] = (*CPU_X86).opMOVfromCR
	c.twoByteOps[0x22] = (*CPU_X86).opMOVtoCR
	c.twoByteOps[0x30] = (*CPU_X86).opWRMSR
	c.twoByteOps[0x32] = (*CPU_X86).opRDMSR
	c.twoByteOps[0xA0] = func(c *CPU_X86) error { return c.opPushSeg(SegFS) }
	c.twoByteOps[0xA1] = func(c *CPU_X86) error { return c.opPopSeg(SegFS) }
	c.twoByteOps[0xA2] = (*CPU_X86).opCPUID
	c.twoByteOps[0xA8] = func(c *CPU_X86) error { return c.opPushSeg(SegGS) }
	c.twoByteOps[0xA9] = func(c *CPU_X86) error { return c.opPopSeg(SegGS) }
	c.twoByteOps[0xAF] = (*CPU_X86).opIMUL2
	c.twoByteOps[0xB6] = func(c *CPU_X86) error { return c.opMOVX(8, false) }
	c.twoByteOps[0xB7] = func(c *CPU_X86) error { return c.opMOVX(16, false) }
	c.twoByteOps[0xBE] = func(c *CPU_X86) error { return c.opMOVX(8, true) }
	c.twoByteOps[0xBF] = func(c *CPU_X86) error { return c.opMOVX(16, true) }
	for i := 0; i < 8; i++ {
		reg := i
		c.twoByteOps[0xC8+i] = func(c *CPU_X86) error { return c.opBSWAP(reg) }
	}
}

// -----------------------------------------------------------------------------
// ALU row forms
// -----------------------------------------------------------------------------

func (c *CPU_X86) opALUEbGb(op int) error {
	c.fetchModRM()
	a, err := c.readRM(8)
	if err != nil {
		return err
	}
	r, wb := c.aluCompute(op, 8, a, c.regVal(8, c.modrmReg))
	if wb {
		return c.writeRM(8, r)
	}
	return nil
}

func (c *CPU_X86) opALUEvGv(op int) error {
	c.fetchModRM()
	a, err := c.readRM(c.opBits)
	if err != nil {
		return err
	}
	r, wb := c.aluCompute(op, c.opBits, a, c.regVal(c.opBits, c.modrmReg))
	if wb {
		return c.writeRM(c.opBits, r)
	}
	return nil
}

func (c *CPU_X86) opALUGbEb(op int) error {
	c.fetchModRM()
	b, err := c.readRM(8)
	if err != nil {
		return err
	}
	r, wb := c.aluCompute(op, 8, c.regVal(8, c.modrmReg), b)
	if wb {
		c.setRegVal(8, c.modrmReg, r)
	}
	return nil
}

func (c *CPU_X86) opALUGvEv(op int) error {
	c.fetchModRM()
	b, err := c.readRM(c.opBits)
	if err != nil {
		return err
	}
	r, wb := c.aluCompute(op, c.opBits, c.regVal(c.opBits, c.modrmReg), b)
	if wb {
		c.setRegVal(c.opBits, c.modrmReg, r)
	}
	return nil
}

func (c *CPU_X86) opALUALIb(op int) error {
	b := uint64(c.fetch8())
	r, wb := c.aluCompute(op, 8, c.regVal(8, RAX), b)
	if wb {
		c.setRegVal(8, RAX, r)
	}
	return nil
}

func (c *CPU_X86) opALUeAXIz(op int) error {
	b := c.fetchImmZ()
	r, wb := c.aluCompute(op, c.opBits, c.regVal(c.opBits, RAX), b)
	if wb {
		c.setRegVal(c.opBits, RAX, r)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Stack forms
// -----------------------------------------------------------------------------

func (c *CPU_X86) opPushSeg(seg SegIndex) error {
	if c.Mode == ModeLong && seg < SegFS {
		return faultErr(udFault())
	}
	return c.push(c.pushWidth(), uint64(c.Segs[seg].Selector))
}

func (c *CPU_X86) opPopSeg(seg SegIndex) error {
	if c.Mode == ModeLong && seg < SegFS {
		return faultErr(udFault())
	}
	sel, err := c.stackRead(c.pushWidth(), 0)
	if err != nil {
		return err
	}
	if err := c.loadSegReg(seg, uint16(sel)); err != nil {
		return err
	}
	c.stackAdjust(uint64(c.pushWidth() / 8))
	if seg == SegSS {
		c.armInhibit = true
	}
	return nil
}

func (c *CPU_X86) opPushReg(i int) error {
	reg := i
	if c.rex&0x01 != 0 {
		reg += 8
	}
	return c.push(c.pushWidth(), c.regVal(c.pushWidth(), reg))
}

func (c *CPU_X86) opPopReg(i int) error {
	reg := i
	if c.rex&0x01 != 0 {
		reg += 8
	}
	v, err := c.pop(c.pushWidth())
	if err != nil {
		return err
	}
	c.setRegVal(c.pushWidth(), reg, v)
	return nil
}

func (c *CPU_X86) opPUSHA() error {
	if c.Mode == ModeLong {
		return faultErr(udFault())
	}
	w := c.opBits
	sp := c.regVal(w, RSP)
	order := [8]int{RAX, RCX, RDX, RBX, -1, RBP, RSI, RDI}
	for _, reg := range order {
		v := sp
		if reg >= 0 {
			v = c.regVal(w, reg)
		}
		if err := c.push(w, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *CPU_X86) opPOPA() error {
	if c.Mode == ModeLong {
		return faultErr(udFault())
	}
	w := c.opBits
	order := [8]int{RDI, RSI, RBP, -1, RBX, RDX, RCX, RAX}
	for _, reg := range order {
		v, err := c.pop(w)
		if err != nil {
			return err
		}
		if reg >= 0 {
			c.setRegVal(w, reg, v)
		}
	}
	return nil
}

func (c *CPU_X86) opPushImm(byteForm bool) error {
	var v uint64
	if byteForm {
		v = uint64(int64(int8(c.fetch8())))
	} else {
		v = c.fetchImmZ()
	}
	return c.push(c.pushWidth(), v)
}

func (c *CPU_X86) opPopRM() error {
	c.fetchModRM()
	v, err := c.pop(c.pushWidth())
	if err != nil {
		return err
	}
	return c.writeRM(c.pushWidth(), v)
}

func (c *CPU_X86) opLEAVE() error {
	sm := c.stackMask()
	c.Regs[RSP] = c.Regs[RSP]&^sm | c.Regs[RBP]&sm
	w := c.pushWidth()
	v, err := c.pop(w)
	if err != nil {
		return err
	}
	c.setRegVal(w, RBP, v)
	return nil
}

// -----------------------------------------------------------------------------
// MOV / LEA / XCHG / TEST
// -----------------------------------------------------------------------------

func (c *CPU_X86) opMOVEbGb() error {
	c.fetchModRM()
	return c.writeRM(8, c.regVal(8, c.modrmReg))
}

func (c *CPU_X86) opMOVEvGv() error {
	c.fetchModRM()
	return c.writeRM(c.opBits, c.regVal(c.opBits, c.modrmReg))
}

func (c *CPU_X86) opMOVGbEb() error {
	c.fetchModRM()
	v, err := c.readRM(8)
	if err != nil {
		return err
	}
	c.setRegVal(8, c.modrmReg, v)
	return nil
}

func (c *CPU_X86) opMOVGvEv() error {
	c.fetchModRM()
	v, err := c.readRM(c.opBits)
	if err != nil {
		return err
	}
	c.setRegVal(c.opBits, c.modrmReg, v)
	return nil
}

func (c *CPU_X86) opMOVEvSw() error {
	c.fetchModRM()
	sr := c.modrmReg & 7
	if sr > int(SegGS) {
		return faultErr(udFault())
	}
	sel := uint64(c.Segs[sr].Selector)
	if c.eaIsReg {
		c.setRegVal(c.opBits, c.modrmRM, sel)
		return nil
	}
	return c.writeRM(16, sel)
}

func (c *CPU_X86) opMOVSwEv() error {
	c.fetchModRM()
	sr := c.modrmReg & 7
	if sr > int(SegGS) || SegIndex(sr) == SegCS {
		return faultErr(udFault())
	}
	v, err := c.readRM(16)
	if err != nil {
		return err
	}
	if err := c.loadSegReg(SegIndex(sr), uint16(v)); err != nil {
		return err
	}
	if SegIndex(sr) == SegSS {
		c.armInhibit = true
	}
	return nil
}

func (c *CPU_X86) opLEA() error {
	c.fetchModRM()
	if c.eaIsReg {
		return faultErr(udFault())
	}
	c.setRegVal(c.opBits, c.modrmReg, c.eaValue())
	return nil
}

func (c *CPU_X86) opXCHGrm(width int) error {
	c.fetchModRM()
	a, err := c.readRM(width)
	if err != nil {
		return err
	}
	b := c.regVal(width, c.modrmReg)
	if err := c.writeRM(width, b); err != nil {
		return err
	}
	c.setRegVal(width, c.modrmReg, a)
	return nil
}

func (c *CPU_X86) opXCHGeAX(i int) error {
	reg := i
	if c.rex&0x01 != 0 {
		reg += 8
	}
	w := c.opBits
	a := c.regVal(w, RAX)
	c.setRegVal(w, RAX, c.regVal(w, reg))
	c.setRegVal(w, reg, a)
	return nil
}

func (c *CPU_X86) opTESTrm(width int) error {
	c.fetchModRM()
	a, err := c.readRM(width)
	if err != nil {
		return err
	}
	c.setLazyLogic(width, a&c.regVal(width, c.modrmReg)&widthMask(width))
	return nil
}

func (c *CPU_X86) opTESTALIb(width int) error {
	var imm uint64
	if width == 8 {
		imm = uint64(c.fetch8())
	} else {
		imm = c.fetchImmZ()
	}
	c.setLazyLogic(width, c.regVal(width, RAX)&imm&widthMask(width))
	return nil
}

func (c *CPU_X86) opMOVr8Imm(i int) error {
	reg := i
	if c.rex&0x01 != 0 {
		reg += 8
	}
	c.SetReg8(reg, c.rexPresent, c.fetch8())
	return nil
}

func (c *CPU_X86) opMOVrImm(i int) error {
	reg := i
	if c.rex&0x01 != 0 {
		reg += 8
	}
	c.setRegVal(c.opBits, reg, c.fetchImmFull())
	return nil
}

func (c *CPU_X86) opMOVrmImm(width int) error {
	c.fetchModRM()
	var imm uint64
	if width == 8 {
		imm = uint64(c.fetch8())
	} else {
		imm = c.fetchImmZ()
	}
	return c.writeRM(width, imm)
}

func (c *CPU_X86) fetchMoffs() uint64 {
	switch c.addrBits {
	case 16:
		return uint64(c.fetch16())
	case 32:
		return uint64(c.fetch32())
	}
	return c.fetch64()
}

func (c *CPU_X86) opMOVALmoffs(store bool) error {
	off := c.fetchMoffs()
	addr := c.Segs[c.memSeg(SegDS)].Base + off
	if store {
		return LinearWrite8(&c.CpuState, c.bus, addr, uint8(c.Regs[RAX]))
	}
	v, err := LinearRead8(&c.CpuState, c.bus, addr)
	if err != nil {
		return err
	}
	c.SetReg8(RAX, true, v)
	return nil
}

func (c *CPU_X86) opMOVeAXmoffs(store bool) error {
	off := c.fetchMoffs()
	addr := c.Segs[c.memSeg(SegDS)].Base + off
	if store {
		switch c.opBits {
		case 16:
			return LinearWrite16(&c.CpuState, c.bus, addr, c.Reg16(RAX))
		case 32:
			return LinearWrite32(&c.CpuState, c.bus, addr, c.Reg32(RAX))
		}
		return LinearWrite64(&c.CpuState, c.bus, addr, c.Regs[RAX])
	}
	switch c.opBits {
	case 16:
		v, err := LinearRead16(&c.CpuState, c.bus, addr)
		if err != nil {
			return err
		}
		c.SetReg16(RAX, v)
	case 32:
		v, err := LinearRead32(&c.CpuState, c.bus, addr)
		if err != nil {
			return err
		}
		c.SetReg32(RAX, v)
	default:
		v, err := LinearRead64(&c.CpuState, c.bus, addr)
		if err != nil {
			return err
		}
		c.Regs[RAX] = v
	}
	return nil
}

// -----------------------------------------------------------------------------
// Flag and convert instructions
// -----------------------------------------------------------------------------

func (c *CPU_X86) opCBW() error {
	switch c.opBits {
	case 16:
		c.SetReg16(RAX, uint16(int16(int8(c.Regs[RAX]))))
	case 32:
		c.SetReg32(RAX, uint32(int32(int16(c.Regs[RAX]))))
	default:
		c.Regs[RAX] = uint64(int64(int32(c.Regs[RAX])))
	}
	return nil
}

func (c *CPU_X86) opCWD() error {
	switch c.opBits {
	case 16:
		if int16(c.Regs[RAX]) < 0 {
			c.SetReg16(RDX, 0xFFFF)
		} else {
			c.SetReg16(RDX, 0)
		}
	case 32:
		if int32(c.Regs[RAX]) < 0 {
			c.SetReg32(RDX, 0xFFFF_FFFF)
		} else {
			c.SetReg32(RDX, 0)
		}
	default:
		if int64(c.Regs[RAX]) < 0 {
			c.Regs[RDX] = ^uint64(0)
		} else {
			c.Regs[RDX] = 0
		}
	}
	return nil
}

func (c *CPU_X86) opPUSHF() error {
	if c.Mode == ModeVM86 && c.IOPL() < 3 {
		return faultErr(gpFault(0))
	}
	return c.push(c.pushWidth(), c.Rflags()&^(FlagVM|FlagRF))
}

func (c *CPU_X86) opPOPF() error {
	if c.Mode == ModeVM86 && c.IOPL() < 3 {
		return faultErr(gpFault(0))
	}
	v, err := c.pop(c.pushWidth())
	if err != nil {
		return err
	}
	c.writeFlagsMasked(v, c.opBits, c.CPL())
	return nil
}

func (c *CPU_X86) opSAHF() error {
	ah := uint64(c.Reg8(4, false)) // AH
	low := FlagCF | FlagPF | FlagAF | FlagZF | FlagSF
	c.materializeFlags()
	c.flags = c.flags&^low | ah&low | flagsFixedSet
	return nil
}

func (c *CPU_X86) opLAHF() error {
	c.SetReg8(4, false, uint8(c.Rflags())) // AH
	return nil
}

// -----------------------------------------------------------------------------
// Branches
// -----------------------------------------------------------------------------

func (c *CPU_X86) opJccShort(cc int) error {
	rel := int64(int8(c.fetch8()))
	if c.cond(cc) {
		c.jumpRel(rel)
	} else {
		c.blockEnd = true
	}
	return nil
}

func (c *CPU_X86) opJccNear(cc int) error {
	rel := c.fetchRelZ()
	if c.cond(cc) {
		c.jumpRel(rel)
	} else {
		c.blockEnd = true
	}
	return nil
}

func (c *CPU_X86) opCMOVcc(cc int) error {
	c.fetchModRM()
	v, err := c.readRM(c.opBits)
	if err != nil {
		return err
	}
	if c.cond(cc) {
		c.setRegVal(c.opBits, c.modrmReg, v)
	} else if c.opBits == 32 {
		// The destination's upper half is zeroed even when the move
		// does not happen.
		c.SetReg32(c.modrmReg, c.Reg32(c.modrmReg))
	}
	return nil
}

func (c *CPU_X86) opSETcc(cc int) error {
	c.fetchModRM()
	return c.writeRM(8, boolToU64(c.cond(cc)))
}

type loopKind int

const (
	loopPlain loopKind = iota
	loopE
	loopNE
)

func (c *CPU_X86) countMask() uint64 {
	return c.addrMask()
}

func (c *CPU_X86) opLOOP(kind loopKind) error {
	rel := int64(int8(c.fetch8()))
	cm := c.countMask()
	count := (c.Regs[RCX] - 1) & cm
	c.Regs[RCX] = c.Regs[RCX]&^cm | count
	take := count != 0
	switch kind {
	case loopE:
		take = take && c.GetFlag(FlagZF)
	case loopNE:
		take = take && !c.GetFlag(FlagZF)
	}
	if take {
		c.jumpRel(rel)
	} else {
		c.blockEnd = true
	}
	return nil
}

func (c *CPU_X86) opJCXZ() error {
	rel := int64(int8(c.fetch8()))
	if c.Regs[RCX]&c.countMask() == 0 {
		c.jumpRel(rel)
	} else {
		c.blockEnd = true
	}
	return nil
}

func (c *CPU_X86) opCALLrel() error {
	rel := c.fetchRelZ()
	if err := c.push(c.pushWidth(), c.nextIP()); err != nil {
		return err
	}
	c.jumpRel(rel)
	return nil
}

func (c *CPU_X86) opRET(imm bool) error {
	var adj uint64
	if imm {
		adj = uint64(c.fetch16())
	}
	ip, err := c.pop(c.pushWidth())
	if err != nil {
		return err
	}
	c.stackAdjust(adj)
	c.RIP = ip & c.IPMask()
	c.branched = true
	c.blockEnd = true
	return nil
}

func (c *CPU_X86) opJMPFar() error {
	if c.Mode == ModeLong {
		return faultErr(udFault())
	}
	var off uint64
	if c.opBits == 16 {
		off = uint64(c.fetch16())
	} else {
		off = uint64(c.fetch32())
	}
	sel := c.fetch16()
	if c.Mode == ModeReal || c.Mode == ModeVM86 {
		c.SetRealModeSeg(SegCS, sel)
	} else {
		desc, err := c.readDescriptor(sel)
		if err != nil {
			return err
		}
		if !desc.IsCode() {
			return faultErr(gpFault(uint32(sel) &^ 3))
		}
		if !desc.Present() {
			return faultErr(npFault(uint32(sel) &^ 3))
		}
		desc.Selector = sel&^3 | uint16(c.CPL())
		c.Segs[SegCS] = desc
	}
	c.RIP = off
	c.branched = true
	c.blockEnd = true
	return nil
}

// -----------------------------------------------------------------------------
// Software interrupts, IRET, HLT
// -----------------------------------------------------------------------------

func (c *CPU_X86) opINT3() error {
	err := c.softwareInterrupt(3, c.nextIP())
	if err == nil {
		c.blockEnd = true
	}
	return err
}

func (c *CPU_X86) opINTn() error {
	vec := c.fetch8()
	if c.Mode == ModeVM86 && c.IOPL() < 3 {
		return faultErr(gpFault(0))
	}
	err := c.softwareInterrupt(vec, c.nextIP())
	if err == nil {
		c.blockEnd = true
	}
	return err
}

func (c *CPU_X86) opINTO() error {
	if c.Mode == ModeLong {
		return faultErr(udFault())
	}
	if !c.GetFlag(FlagOF) {
		return nil
	}
	err := c.softwareInterrupt(4, c.nextIP())
	if err == nil {
		c.blockEnd = true
	}
	return err
}

func (c *CPU_X86) opIRET() error {
	if err := c.iret(c.opBits); err != nil {
		return err
	}
	if c.Mode != ModeLong {
		c.UpdateMode()
	}
	c.branched = true
	c.blockEnd = true
	return nil
}

func (c *CPU_X86) opHLT() error {
	if c.CPL() > 0 {
		return faultErr(gpFault(0))
	}
	if c.biosIntArmed && (c.Mode == ModeReal || c.Mode == ModeVM86) {
		// First HLT of a BIOS stub: report the intercepted vector to the
		// embedder instead of halting. Execution resumes after the HLT.
		c.biosIntArmed = false
		c.PendingBiosIntValid = true
		return nil
	}
	c.Halted = true
	return nil
}

func (c *CPU_X86) opCLI() error {
	if !c.ioPermitted() {
		return faultErr(gpFault(0))
	}
	c.flags &^= FlagIF
	return nil
}

func (c *CPU_X86) opSTI() error {
	if !c.ioPermitted() {
		return faultErr(gpFault(0))
	}
	if c.flags&FlagIF == 0 {
		// Delivery stays blocked until after the next instruction, so
		// STI;HLT cannot lose the wakeup.
		c.armInhibit = true
	}
	c.flags |= FlagIF
	return nil
}

// -----------------------------------------------------------------------------
// Port I/O
// -----------------------------------------------------------------------------

func (c *CPU_X86) opIN(size int, immPort bool) error {
	if !c.ioPermitted() {
		return faultErr(gpFault(0))
	}
	var port uint16
	if immPort {
		port = uint16(c.fetch8())
	} else {
		port = c.Reg16(RDX)
	}
	v, err := c.bus.In(port, size)
	if err != nil {
		return err
	}
	switch size {
	case 1:
		c.SetReg8(RAX, true, uint8(v))
	case 2:
		c.SetReg16(RAX, uint16(v))
	default:
		c.SetReg32(RAX, v)
	}
	return nil
}

func (c *CPU_X86) opOUT(size int, immPort bool) error {
	if !c.ioPermitted() {
		return faultErr(gpFault(0))
	}
	var port uint16
	if immPort {
		port = uint16(c.fetch8())
	} else {
		port = c.Reg16(RDX)
	}
	var v uint32
	switch size {
	case 1:
		v = uint32(c.Reg8(RAX, true))
	case 2:
		v = uint32(c.Reg16(RAX))
	default:
		v = c.Reg32(RAX)
	}
	return c.bus.Out(port, size, v)
}

// -----------------------------------------------------------------------------
// String instructions
// -----------------------------------------------------------------------------

func (c *CPU_X86) strDelta(width int) uint64 {
	n := uint64(width / 8)
	if c.GetFlag(FlagDF) {
		return -n
	}
	return n
}

func (c *CPU_X86) strAdvance(reg int, delta uint64) {
	am := c.addrMask()
	c.Regs[reg] = c.Regs[reg]&^am | (c.Regs[reg]+delta)&am
}

func (c *CPU_X86) strSrcAddr() uint64 {
	return c.Segs[c.memSeg(SegDS)].Base + c.Regs[RSI]&c.addrMask()
}

func (c *CPU_X86) strDstAddr() uint64 {
	return c.Segs[SegES].Base + c.Regs[RDI]&c.addrMask()
}

func (c *CPU_X86) strCount() uint64 {
	return c.Regs[RCX] & c.addrMask()
}

func (c *CPU_X86) setStrCount(n uint64) {
	am := c.addrMask()
	c.Regs[RCX] = c.Regs[RCX]&^am | n&am
}

func (c *CPU_X86) linRead(width int, addr uint64) (uint64, error) {
	switch width {
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

func (c *CPU_X86) linWrite(width int, addr, v uint64) error {
	switch width {
	case 8:
		return LinearWrite8(&c.CpuState, c.bus, addr, uint8(v))
	case 16:
		return LinearWrite16(&c.CpuState, c.bus, addr, uint16(v))
	case 32:
		return LinearWrite32(&c.CpuState, c.bus, addr, uint32(v))
	}
	return LinearWrite64(&c.CpuState, c.bus, addr, v)
}

func (c *CPU_X86) opMOVS(width int) error {
	if c.repPrefix == 0 {
		return c.movsOne(width)
	}
	// REP MOVS: try the bulk-copy hint for the whole forward run. Overlapping
	// ranges keep the per-element path, which replicates in the architectural
	// order.
	if !c.GetFlag(FlagDF) {
		count := c.strCount()
		total := count * uint64(width/8)
		src := c.strSrcAddr()
		dst := c.strDstAddr()
		overlap := src < dst+total && dst < src+total
		if count != 0 && !overlap {
			if done, err := LinearBulkCopy(&c.CpuState, c.bus, dst, src, total); err != nil {
				return err
			} else if done {
				c.strAdvance(RSI, total)
				c.strAdvance(RDI, total)
				c.setStrCount(0)
				return nil
			}
		}
	}
	delta := c.strDelta(width)
	for c.strCount() != 0 {
		v, err := c.linRead(width, c.strSrcAddr())
		if err != nil {
			return err
		}
		if err := c.linWrite(width, c.strDstAddr(), v); err != nil {
			return err
		}
		c.strAdvance(RSI, delta)
		c.strAdvance(RDI, delta)
		c.setStrCount(c.strCount() - 1)
	}
	return nil
}

func (c *CPU_X86) movsOne(width int) error {
	v, err := c.linRead(width, c.strSrcAddr())
	if err != nil {
		return err
	}
	if err := c.linWrite(width, c.strDstAddr(), v); err != nil {
		return err
	}
	delta := c.strDelta(width)
	c.strAdvance(RSI, delta)
	c.strAdvance(RDI, delta)
	return nil
}

func (c *CPU_X86) opSTOS(width int) error {
	if c.repPrefix == 0 {
		return c.stosOne(width)
	}
	if !c.GetFlag(FlagDF) && c.strCount() != 0 {
		var pattern [8]byte
		n := width / 8
		v := c.Regs[RAX]
		for i := 0; i < n; i++ {
			pattern[i] = uint8(v >> (8 * i))
		}
		if done, err := LinearBulkSet(&c.CpuState, c.bus, c.strDstAddr(), pattern[:n], c.strCount()); err != nil {
			return err
		} else if done {
			c.strAdvance(RDI, c.strCount()*uint64(n))
			c.setStrCount(0)
			return nil
		}
	}
	for c.strCount() != 0 {
		if err := c.stosOne(width); err != nil {
			return err
		}
		c.setStrCount(c.strCount() - 1)
	}
	return nil
}

func (c *CPU_X86) stosOne(width int) error {
	if err := c.linWrite(width, c.strDstAddr(), c.Regs[RAX]); err != nil {
		return err
	}
	c.strAdvance(RDI, c.strDelta(width))
	return nil
}

func (c *CPU_X86) opLODS(width int) error {
	for {
		if c.repPrefix != 0 && c.strCount() == 0 {
			return nil
		}
		v, err := c.linRead(width, c.strSrcAddr())
		if err != nil {
			return err
		}
		c.setRegVal(width, RAX, v)
		c.strAdvance(RSI, c.strDelta(width))
		if c.repPrefix == 0 {
			return nil
		}
		c.setStrCount(c.strCount() - 1)
	}
}

func (c *CPU_X86) opCMPS(width int) error {
	for {
		if c.repPrefix != 0 && c.strCount() == 0 {
			return nil
		}
		a, err := c.linRead(width, c.strSrcAddr())
		if err != nil {
			return err
		}
		b, err := c.linRead(width, c.strDstAddr())
		if err != nil {
			return err
		}
		c.setLazySub(width, a, b, (a-b)&widthMask(width), 0)
		delta := c.strDelta(width)
		c.strAdvance(RSI, delta)
		c.strAdvance(RDI, delta)
		if c.repPrefix == 0 {
			return nil
		}
		c.setStrCount(c.strCount() - 1)
		if c.repTerminates() {
			return nil
		}
	}
}

func (c *CPU_X86) opSCAS(width int) error {
	for {
		if c.repPrefix != 0 && c.strCount() == 0 {
			return nil
		}
		b, err := c.linRead(width, c.strDstAddr())
		if err != nil {
			return err
		}
		a := c.regVal(width, RAX)
		c.setLazySub(width, a, b, (a-b)&widthMask(width), 0)
		c.strAdvance(RDI, c.strDelta(width))
		if c.repPrefix == 0 {
			return nil
		}
		c.setStrCount(c.strCount() - 1)
		if c.repTerminates() {
			return nil
		}
	}
}

// repTerminates applies the REPE/REPNE ZF termination rule after a compare
// iteration.
func (c *CPU_X86) repTerminates() bool {
	zf := c.GetFlag(FlagZF)
	if c.repPrefix == 0xF3 {
		return !zf
	}
	return zf
}

func (c *CPU_X86) opXLAT() error {
	base := c.Segs[c.memSeg(SegDS)].Base
	off := (c.Regs[RBX] + uint64(c.Reg8(RAX, true))) & c.addrMask()
	v, err := LinearRead8(&c.CpuState, c.bus, base+off)
	if err != nil {
		return err
	}
	c.SetReg8(RAX, true, v)
	return nil
}

// -----------------------------------------------------------------------------
// IMUL forms
// -----------------------------------------------------------------------------

func sext(v uint64, width int) int64 {
	switch width {
	case 8:
		return int64(int8(v))
	case 16:
		return int64(int16(v))
	case 32:
		return int64(int32(v))
	}
	return int64(v)
}

// imulTrunc multiplies signed operands at the given width and reports
// whether the truncated product lost information (sets CF and OF).
func (c *CPU_X86) imulTrunc(width int, a, b uint64) uint64 {
	var r uint64
	var overflow bool
	if width == 64 {
		hi, lo := bits.Mul64(a, b)
		// Signed high-half correction.
		if int64(a) < 0 {
			hi -= b
		}
		if int64(b) < 0 {
			hi -= a
		}
		r = lo
		sign := uint64(0)
		if int64(lo) < 0 {
			sign = ^uint64(0)
		}
		overflow = hi != sign
	} else {
		full := sext(a, width) * sext(b, width)
		r = uint64(full) & widthMask(width)
		overflow = sext(r, width) != full
	}
	c.materializeFlags()
	if overflow {
		c.flags |= FlagCF | FlagOF
	} else {
		c.flags &^= FlagCF | FlagOF
	}
	return r
}

func (c *CPU_X86) opIMUL2() error {
	c.fetchModRM()
	b, err := c.readRM(c.opBits)
	if err != nil {
		return err
	}
	r := c.imulTrunc(c.opBits, c.regVal(c.opBits, c.modrmReg), b)
	c.setRegVal(c.opBits, c.modrmReg, r)
	return nil
}

func (c *CPU_X86) opIMUL3(byteImm bool) error {
	c.fetchModRM()
	var imm uint64
	if byteImm {
		imm = uint64(int64(int8(c.fetch8())))
	} else {
		imm = c.fetchImmZ()
	}
	a, err := c.readRM(c.opBits)
	if err != nil {
		return err
	}
	r := c.imulTrunc(c.opBits, a, imm)
	c.setRegVal(c.opBits, c.modrmReg, r)
	return nil
}

// -----------------------------------------------------------------------------
// MOVZX / MOVSX / BSWAP
// -----------------------------------------------------------------------------

func (c *CPU_X86) opMOVX(srcWidth int, signed bool) error {
	c.fetchModRM()
	v, err := c.readRM(srcWidth)
	if err != nil {
		return err
	}
	if signed {
		v = uint64(sext(v, srcWidth)) & widthMask(c.opBits)
	}
	c.setRegVal(c.opBits, c.modrmReg, v)
	return nil
}

func (c *CPU_X86) opBSWAP(i int) error {
	reg := i
	if c.rex&0x01 != 0 {
		reg += 8
	}
	if c.opBits == 64 {
		c.Regs[reg] = bits.ReverseBytes64(c.Regs[reg])
	} else {
		c.SetReg32(reg, bits.ReverseBytes32(c.Reg32(reg)))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Control registers, MSRs, CPUID
// -----------------------------------------------------------------------------

func (c *CPU_X86) crByIndex(n int) (*uint64, bool) {
	switch n {
	case 0:
		return &c.CR0, true
	case 2:
		return &c.CR2, true
	case 3:
		return &c.CR3, true
	case 4:
		return &c.CR4, true
	}
	return nil, false
}

func (c *CPU_X86) opMOVfromCR() error {
	if c.CPL() != 0 {
		return faultErr(gpFault(0))
	}
	c.fetchModRM()
	cr, ok := c.crByIndex(c.modrmReg)
	if !ok {
		return faultErr(udFault())
	}
	// MOV from CR always writes the full register.
	c.Regs[c.modrmRM] = *cr
	return nil
}

const cr0PG = uint64(1) << 31

func (c *CPU_X86) opMOVtoCR() error {
	if c.CPL() != 0 {
		return faultErr(gpFault(0))
	}
	c.fetchModRM()
	cr, ok := c.crByIndex(c.modrmReg)
	if !ok {
		return faultErr(udFault())
	}
	*cr = c.Regs[c.modrmRM]
	// Long-mode activation tracks CR0.PG with EFER.LME set.
	if c.EFER&eferLME != 0 && c.CR0&cr0PG != 0 && c.CR0&cr0PE != 0 {
		c.EFER |= eferLMA
	} else {
		c.EFER &^= eferLMA
	}
	c.UpdateMode()
	return nil
}

const msrEFER = 0xC000_0080

func (c *CPU_X86) opRDMSR() error {
	if c.CPL() != 0 {
		return faultErr(gpFault(0))
	}
	switch c.Reg32(RCX) {
	case msrEFER:
		c.SetReg32(RAX, uint32(c.EFER))
		c.SetReg32(RDX, uint32(c.EFER>>32))
		return nil
	}
	return faultErr(gpFault(0))
}

func (c *CPU_X86) opWRMSR() error {
	if c.CPL() != 0 {
		return faultErr(gpFault(0))
	}
	v := uint64(c.Reg32(RAX)) | uint64(c.Reg32(RDX))<<32
	switch c.Reg32(RCX) {
	case msrEFER:
		c.EFER = v &^ eferLMA
		if c.EFER&eferLME != 0 && c.CR0&cr0PG != 0 && c.CR0&cr0PE != 0 {
			c.EFER |= eferLMA
		}
		c.UpdateMode()
		return nil
	}
	return faultErr(gpFault(0))
}

func (c *CPU_X86) opCPUID() error {
	switch c.Reg32(RAX) {
	case 0:
		c.SetReg32(RAX, 1)
		c.SetReg32(RBX, 0x756E6547) // "Genu"
		c.SetReg32(RDX, 0x49656E69) // "ineI"
		c.SetReg32(RCX, 0x6C65746E) // "ntel"
	case 0x8000_0000:
		c.SetReg32(RAX, 0x8000_0001)
		c.SetReg32(RBX, 0)
		c.SetReg32(RCX, 0)
		c.SetReg32(RDX, 0)
	case 0x8000_0001:
		c.SetReg32(RAX, 0)
		c.SetReg32(RBX, 0)
		c.SetReg32(RCX, 0)
		c.SetReg32(RDX, 1<<29) // long mode available
	default:
		c.SetReg32(RAX, 0)
		c.SetReg32(RBX, 0)
		c.SetReg32(RCX, 0)
		c.SetReg32(RDX, 0)
	}
	return nil
}
