// cpu_x86_interrupts.go - Interrupt and exception delivery state machine
//
// Decides whether an event redirects control before each instruction and
// builds the architecturally exact stack frame for the addressing mode and
// privilege transition:
// - Real/VM86 mode: IVT dispatch, FLAGS/CS/IP frame, BIOS-intercept arming
// - Protected mode: 8-byte gates, TSS32 stack switch, 32-bit frames
// - Long mode: 16-byte gates with IST, TSS64 stacks, 64-bit frames
// - IRET as the exact inverse, with #GP checks on the restored privilege
// - Double-fault escalation and triple-fault shutdown
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

type eventKind int

const (
	eventExternal eventKind = iota
	eventSoftware
	eventException
)

// idtGate is a parsed IDT entry. Parsed fresh from guest memory on every
// delivery; never cached.
type idtGate struct {
	Offset   uint64
	Selector uint16
	Type     uint8
	DPL      int
	Present  bool
	IST      int
}

const ivtBase = 0

// InjectInterrupt queues an external vector. Vectors deliver oldest-first;
// priority arbitration among simultaneously pending vectors belongs to the
// interrupt-controller model feeding this queue.
func (c *CPU_X86) InjectInterrupt(vec uint8) {
	c.extQueue = append(c.extQueue, vec)
}

// PendingExternal reports whether undelivered external vectors remain.
func (c *CPU_X86) PendingExternal() bool { return len(c.extQueue) > 0 }

// raiseFault latches a synchronous exception for delivery at the next
// boundary. At most one is outstanding.
func (c *CPU_X86) raiseFault(e Exception) { c.pendingExc = &e }

// deliverPending runs before each instruction. A latched synchronous
// exception always wins; external vectors deliver only with IF set and no
// shadow in effect. Returns whether control was redirected.
func (c *CPU_X86) deliverPending() (bool, error) {
	if c.pendingExc != nil {
		exc := *c.pendingExc
		c.pendingExc = nil
		return true, c.deliverExceptionChain(exc)
	}
	if c.inhibit > 0 || c.flags&FlagIF == 0 || len(c.extQueue) == 0 {
		return false, nil
	}
	vec := c.extQueue[0]
	c.extQueue = c.extQueue[1:]
	c.Halted = false
	if err := c.deliverEvent(vec, eventExternal, 0, false, c.RIP); err != nil {
		if exc, ok := asCpuFault(err); ok {
			return true, c.deliverExceptionChain(exc)
		}
		return true, err
	}
	return true, nil
}

// deliverExceptionChain delivers a synchronous exception, escalating nested
// delivery faults through #DF up to a triple fault.
func (c *CPU_X86) deliverExceptionChain(exc Exception) error {
	for {
		err := c.deliverEvent(exc.Vector, eventException, exc.ErrCode, exc.HasErrCode, c.RIP)
		if err == nil {
			return nil
		}
		raised, ok := asCpuFault(err)
		if !ok {
			return err
		}
		next, triple := escalate(exc, raised)
		if triple {
			return &TripleFault{Last: exc}
		}
		exc = next
	}
}

// softwareInterrupt implements INT n / INT3 / INTO entry. The gate DPL check
// applies only on this path. nextIP is the frame's return address; a failed
// gate check surfaces as a fault at the INT instruction itself.
func (c *CPU_X86) softwareInterrupt(vec uint8, nextIP uint64) error {
	if err := c.deliverEvent(vec, eventSoftware, 0, false, nextIP); err != nil {
		return err
	}
	c.branched = true
	return nil
}

func (c *CPU_X86) deliverEvent(vec uint8, kind eventKind, errCode uint32, hasErr bool, retIP uint64) error {
	switch c.Mode {
	case ModeReal, ModeVM86:
		return c.deliverRealMode(vec, retIP)
	case ModeLong:
		return c.deliverLongMode(vec, kind, errCode, hasErr, retIP)
	default:
		return c.deliverProtectedMode(vec, kind, errCode, hasErr, retIP)
	}
}

// -----------------------------------------------------------------------------
// Real mode
// -----------------------------------------------------------------------------

func (c *CPU_X86) deliverRealMode(vec uint8, retIP uint64) error {
	// Arm the BIOS-intercept slot: if the stub we vector into leads with
	// HLT, that HLT reports BiosInterrupt(vec) instead of halting. Armed on
	// every real-mode delivery so external redirection into a stub is
	// classified the same way as INT n.
	c.PendingBiosInt = vec
	c.biosIntArmed = true
	c.PendingBiosIntValid = false

	off, err := LinearRead16(&c.CpuState, c.bus, ivtBase+uint64(vec)*4)
	if err != nil {
		return err
	}
	seg, err := LinearRead16(&c.CpuState, c.bus, ivtBase+uint64(vec)*4+2)
	if err != nil {
		return err
	}

	flags := c.Rflags()
	if err := c.push(16, flags); err != nil {
		return err
	}
	if err := c.push(16, uint64(c.Segs[SegCS].Selector)); err != nil {
		return err
	}
	if err := c.push(16, retIP); err != nil {
		return err
	}

	c.SetRealModeSeg(SegCS, seg)
	c.RIP = uint64(off)
	c.flags &^= FlagIF | FlagTF
	return nil
}

// -----------------------------------------------------------------------------
// Protected mode
// -----------------------------------------------------------------------------

func (c *CPU_X86) readIDTGate32(vec uint8, ext uint32) (idtGate, error) {
	idx := uint64(vec) * 8
	if idx+7 > uint64(c.IDTR.Limit) {
		return idtGate{}, faultErr(gpFault(uint32(vec)<<3 | 2 | ext))
	}
	var raw [8]byte
	if err := LinearReadBytes(&c.CpuState, c.bus, c.IDTR.Base+idx, raw[:]); err != nil {
		return idtGate{}, faultErr(busFaultException(err))
	}
	attr := raw[5]
	return idtGate{
		Offset:   uint64(raw[0]) | uint64(raw[1])<<8 | uint64(raw[6])<<16 | uint64(raw[7])<<24,
		Selector: uint16(raw[2]) | uint16(raw[3])<<8,
		Type:     attr & 0x0F,
		DPL:      int(attr>>5) & 3,
		Present:  attr&0x80 != 0,
	}, nil
}

func (c *CPU_X86) deliverProtectedMode(vec uint8, kind eventKind, errCode uint32, hasErr bool, retIP uint64) error {
	var ext uint32
	if kind == eventExternal {
		ext = 1
	}
	gate, err := c.readIDTGate32(vec, ext)
	if err != nil {
		return err
	}
	if gate.Type != 0xE && gate.Type != 0xF {
		// Task gates and 16-bit gates are not serviced by this engine.
		return faultErr(gpFault(uint32(vec)<<3 | 2 | ext))
	}
	if !gate.Present {
		return faultErr(npFault(uint32(vec)<<3 | 2 | ext))
	}
	if kind == eventSoftware && gate.DPL < c.CPL() {
		return faultErr(gpFault(uint32(vec)<<3 | 2))
	}
	if gate.Selector&^3 == 0 {
		return faultErr(gpFault(ext))
	}

	cs, err := c.readDescriptor(gate.Selector)
	if err != nil {
		return err
	}
	cpl := c.CPL()
	if !cs.IsCode() || cs.DPL() > cpl {
		return faultErr(gpFault(uint32(gate.Selector)&^3 | ext))
	}
	if !cs.Present() {
		return faultErr(npFault(uint32(gate.Selector)&^3 | ext))
	}
	targetCPL := cpl
	if !cs.Conforming() && cs.DPL() < cpl {
		targetCPL = cs.DPL()
	}

	oldFlags := c.Rflags()
	oldCS := c.Segs[SegCS].Selector
	oldSS := c.Segs[SegSS].Selector
	oldESP := c.Regs[RSP]

	if targetCPL < cpl {
		newSS, newESP, err := c.tss32StackForCPL(targetCPL)
		if err != nil {
			return err
		}
		ssDesc, err := c.readDescriptor(newSS)
		if err != nil {
			return err
		}
		if !ssDesc.Present() {
			return faultErr(ssFault(uint32(newSS)&^3 | ext))
		}
		if !ssDesc.IsWritable() || ssDesc.DPL() != targetCPL {
			return faultErr(tsFault(uint32(newSS)&^3 | ext))
		}
		ssDesc.Selector = newSS&^3 | uint16(targetCPL)
		c.Segs[SegSS] = ssDesc
		c.Regs[RSP] = uint64(newESP)
		if err := c.push(32, uint64(oldSS)); err != nil {
			return err
		}
		if err := c.push(32, oldESP); err != nil {
			return err
		}
	}

	if err := c.push(32, oldFlags); err != nil {
		return err
	}
	if err := c.push(32, uint64(oldCS)); err != nil {
		return err
	}
	if err := c.push(32, retIP); err != nil {
		return err
	}
	if hasErr {
		if err := c.push(32, uint64(errCode)); err != nil {
			return err
		}
	}

	cs.Selector = gate.Selector&^3 | uint16(targetCPL)
	c.Segs[SegCS] = cs
	c.RIP = gate.Offset
	c.materializeFlags()
	c.flags &^= FlagTF | FlagNT | FlagVM | FlagRF
	if gate.Type == 0xE {
		c.flags &^= FlagIF
	}
	return nil
}

// tss32StackForCPL reads the inner-level SS:ESP pair from the 32-bit TSS.
func (c *CPU_X86) tss32StackForCPL(cpl int) (uint16, uint32, error) {
	espOff := uint64(4 + cpl*8)
	ssOff := uint64(8 + cpl*8)
	if uint32(ssOff)+1 > c.TR.Limit {
		return 0, 0, faultErr(tsFault(uint32(c.TR.Selector) &^ 3))
	}
	esp, err := LinearRead32(&c.CpuState, c.bus, c.TR.Base+espOff)
	if err != nil {
		return 0, 0, faultErr(tsFault(uint32(c.TR.Selector) &^ 3))
	}
	ss, err := LinearRead16(&c.CpuState, c.bus, c.TR.Base+ssOff)
	if err != nil {
		return 0, 0, faultErr(tsFault(uint32(c.TR.Selector) &^ 3))
	}
	return ss, esp, nil
}

// -----------------------------------------------------------------------------
// Long mode
// -----------------------------------------------------------------------------

func (c *CPU_X86) readIDTGate64(vec uint8, ext uint32) (idtGate, error) {
	idx := uint64(vec) * 16
	if idx+15 > uint64(c.IDTR.Limit) {
		return idtGate{}, faultErr(gpFault(uint32(vec)<<3 | 2 | ext))
	}
	var raw [16]byte
	if err := LinearReadBytes(&c.CpuState, c.bus, c.IDTR.Base+idx, raw[:]); err != nil {
		return idtGate{}, faultErr(busFaultException(err))
	}
	attr := raw[5]
	return idtGate{
		Offset: uint64(raw[0]) | uint64(raw[1])<<8 | uint64(raw[6])<<16 | uint64(raw[7])<<24 |
			uint64(raw[8])<<32 | uint64(raw[9])<<40 | uint64(raw[10])<<48 | uint64(raw[11])<<56,
		Selector: uint16(raw[2]) | uint16(raw[3])<<8,
		IST:      int(raw[4]) & 7,
		Type:     attr & 0x0F,
		DPL:      int(attr>>5) & 3,
		Present:  attr&0x80 != 0,
	}, nil
}

func (c *CPU_X86) deliverLongMode(vec uint8, kind eventKind, errCode uint32, hasErr bool, retIP uint64) error {
	var ext uint32
	if kind == eventExternal {
		ext = 1
	}
	gate, err := c.readIDTGate64(vec, ext)
	if err != nil {
		return err
	}
	if gate.Type != 0xE && gate.Type != 0xF {
		return faultErr(gpFault(uint32(vec)<<3 | 2 | ext))
	}
	if !gate.Present {
		return faultErr(npFault(uint32(vec)<<3 | 2 | ext))
	}
	if kind == eventSoftware && gate.DPL < c.CPL() {
		return faultErr(gpFault(uint32(vec)<<3 | 2))
	}
	if gate.Selector&^3 == 0 {
		return faultErr(gpFault(ext))
	}
	if !isCanonical(gate.Offset) {
		return faultErr(gpFault(0))
	}

	cs, err := c.readDescriptor(gate.Selector)
	if err != nil {
		return err
	}
	cpl := c.CPL()
	if !cs.IsCode() || !cs.LongCode() || cs.DPL() > cpl {
		return faultErr(gpFault(uint32(gate.Selector)&^3 | ext))
	}
	if !cs.Present() {
		return faultErr(npFault(uint32(gate.Selector)&^3 | ext))
	}
	targetCPL := cpl
	if !cs.Conforming() && cs.DPL() < cpl {
		targetCPL = cs.DPL()
	}

	var newRSP uint64
	switched := false
	switch {
	case gate.IST != 0:
		newRSP, err = c.tss64IST(gate.IST)
		switched = true
	case targetCPL < cpl:
		newRSP, err = c.tss64RSPForCPL(targetCPL)
		switched = true
	default:
		newRSP = c.Regs[RSP]
	}
	if err != nil {
		return err
	}
	if !isCanonical(newRSP) {
		return faultErr(gpFault(0))
	}

	oldFlags := c.Rflags()
	oldCS := c.Segs[SegCS].Selector
	oldSS := c.Segs[SegSS].Selector
	oldRSP := c.Regs[RSP]

	if switched {
		// SS becomes the null selector with the new CPL as RPL.
		c.Segs[SegSS] = Segment{Selector: uint16(targetCPL)}
	}
	c.Regs[RSP] = newRSP &^ 0xF

	// The 64-bit frame always includes SS:RSP.
	if err := c.push(64, uint64(oldSS)); err != nil {
		return err
	}
	if err := c.push(64, oldRSP); err != nil {
		return err
	}
	if err := c.push(64, oldFlags); err != nil {
		return err
	}
	if err := c.push(64, uint64(oldCS)); err != nil {
		return err
	}
	if err := c.push(64, retIP); err != nil {
		return err
	}
	if hasErr {
		if err := c.push(64, uint64(errCode)); err != nil {
			return err
		}
	}

	cs.Selector = gate.Selector&^3 | uint16(targetCPL)
	c.Segs[SegCS] = cs
	c.RIP = gate.Offset
	c.materializeFlags()
	c.flags &^= FlagTF | FlagNT | FlagVM | FlagRF
	if gate.Type == 0xE {
		c.flags &^= FlagIF
	}
	return nil
}

func (c *CPU_X86) tss64RSPForCPL(cpl int) (uint64, error) {
	off := uint64(4 + cpl*8)
	if uint32(off)+7 > c.TR.Limit {
		return 0, faultErr(tsFault(uint32(c.TR.Selector) &^ 3))
	}
	rsp, err := LinearRead64(&c.CpuState, c.bus, c.TR.Base+off)
	if err != nil {
		return 0, faultErr(tsFault(uint32(c.TR.Selector) &^ 3))
	}
	return rsp, nil
}

func (c *CPU_X86) tss64IST(ist int) (uint64, error) {
	off := uint64(0x24 + (ist-1)*8)
	if uint32(off)+7 > c.TR.Limit {
		return 0, faultErr(tsFault(uint32(c.TR.Selector) &^ 3))
	}
	rsp, err := LinearRead64(&c.CpuState, c.bus, c.TR.Base+off)
	if err != nil {
		return 0, faultErr(tsFault(uint32(c.TR.Selector) &^ 3))
	}
	return rsp, nil
}

func isCanonical(v uint64) bool {
	top := v >> 47
	return top == 0 || top == 0x1FFFF
}

// -----------------------------------------------------------------------------
// IRET
// -----------------------------------------------------------------------------

// iret undoes a delivery frame at the given operand width. Restoring a
// numerically lower (more privileged) CPL than current is a #GP.
func (c *CPU_X86) iret(opBits int) error {
	switch c.Mode {
	case ModeReal, ModeVM86:
		return c.iretReal(opBits)
	case ModeLong:
		return c.iretLong()
	default:
		return c.iretProtected(opBits)
	}
}

// iretReal pops the real-mode frame at the operand width: IP/CS/FLAGS for
// IRET, EIP/CS/EFLAGS for IRETD (the CS dword's high half is ignored).
func (c *CPU_X86) iretReal(opBits int) error {
	w := uint64(opBits / 8)
	ip, err := c.stackRead(opBits, 0)
	if err != nil {
		return err
	}
	cs, err := c.stackRead(opBits, w)
	if err != nil {
		return err
	}
	fl, err := c.stackRead(opBits, 2*w)
	if err != nil {
		return err
	}
	c.stackAdjust(3 * w)
	c.RIP = ip
	c.SetRealModeSeg(SegCS, uint16(cs))
	c.writeFlagsMasked(fl, opBits, c.CPL())

	// Leaving the stub releases the BIOS-intercept slot.
	c.biosIntArmed = false
	c.PendingBiosIntValid = false
	return nil
}

func (c *CPU_X86) iretProtected(opBits int) error {
	w := uint64(opBits / 8)
	ip, err := c.stackRead(opBits, 0)
	if err != nil {
		return err
	}
	csSel, err := c.stackRead(opBits, w)
	if err != nil {
		return err
	}
	fl, err := c.stackRead(opBits, 2*w)
	if err != nil {
		return err
	}

	cpl := c.CPL()
	rpl := int(csSel) & 3
	if rpl < cpl {
		return faultErr(gpFault(uint32(csSel) &^ 3))
	}
	if uint16(csSel)&^3 == 0 {
		return faultErr(gpFault(0))
	}
	csDesc, err := c.readDescriptor(uint16(csSel))
	if err != nil {
		return err
	}
	if !csDesc.IsCode() {
		return faultErr(gpFault(uint32(csSel) &^ 3))
	}
	if !csDesc.Present() {
		return faultErr(npFault(uint32(csSel) &^ 3))
	}

	if rpl > cpl {
		// Returning outward: the frame also carries the outer SS:ESP.
		sp, err := c.stackRead(opBits, 3*w)
		if err != nil {
			return err
		}
		ssSel, err := c.stackRead(opBits, 4*w)
		if err != nil {
			return err
		}
		if uint16(ssSel)&^3 == 0 {
			return faultErr(gpFault(0))
		}
		ssDesc, err := c.readDescriptor(uint16(ssSel))
		if err != nil {
			return err
		}
		if !ssDesc.IsWritable() || ssDesc.DPL() != rpl {
			return faultErr(gpFault(uint32(ssSel) &^ 3))
		}
		if !ssDesc.Present() {
			return faultErr(ssFault(uint32(ssSel) &^ 3))
		}

		c.writeFlagsMasked(fl, opBits, cpl)
		csDesc.Selector = uint16(csSel)
		c.Segs[SegCS] = csDesc
		ssDesc.Selector = uint16(ssSel)
		c.Segs[SegSS] = ssDesc
		c.Regs[RSP] = sp
		c.RIP = ip
		return nil
	}

	c.writeFlagsMasked(fl, opBits, cpl)
	csDesc.Selector = uint16(csSel)
	c.Segs[SegCS] = csDesc
	c.stackAdjust(3 * w)
	c.RIP = ip
	return nil
}

func (c *CPU_X86) iretLong() error {
	// IRETQ always pops the full five-quadword frame.
	ip, err := c.stackRead(64, 0)
	if err != nil {
		return err
	}
	csSel, err := c.stackRead(64, 8)
	if err != nil {
		return err
	}
	fl, err := c.stackRead(64, 16)
	if err != nil {
		return err
	}
	sp, err := c.stackRead(64, 24)
	if err != nil {
		return err
	}
	ssSel, err := c.stackRead(64, 32)
	if err != nil {
		return err
	}

	cpl := c.CPL()
	rpl := int(csSel) & 3
	if rpl < cpl {
		return faultErr(gpFault(uint32(csSel) &^ 3))
	}
	if uint16(csSel)&^3 == 0 {
		return faultErr(gpFault(0))
	}
	if !isCanonical(ip) {
		return faultErr(gpFault(0))
	}
	csDesc, err := c.readDescriptor(uint16(csSel))
	if err != nil {
		return err
	}
	if !csDesc.IsCode() {
		return faultErr(gpFault(uint32(csSel) &^ 3))
	}
	if !csDesc.Present() {
		return faultErr(npFault(uint32(csSel) &^ 3))
	}

	var ssDesc Segment
	if uint16(ssSel)&^3 != 0 {
		ssDesc, err = c.readDescriptor(uint16(ssSel))
		if err != nil {
			return err
		}
		if !ssDesc.IsWritable() || ssDesc.DPL() != rpl {
			return faultErr(gpFault(uint32(ssSel) &^ 3))
		}
		if !ssDesc.Present() {
			return faultErr(ssFault(uint32(ssSel) &^ 3))
		}
		ssDesc.Selector = uint16(ssSel)
	} else {
		if rpl == 3 {
			return faultErr(gpFault(0))
		}
		ssDesc = Segment{Selector: uint16(ssSel)}
	}

	c.writeFlagsMasked(fl, 64, cpl)
	csDesc.Selector = uint16(csSel)
	c.Segs[SegCS] = csDesc
	c.Segs[SegSS] = ssDesc
	c.Regs[RSP] = sp
	c.RIP = ip
	return nil
}

// -----------------------------------------------------------------------------
// Stack and descriptor-table access
// -----------------------------------------------------------------------------

func (c *CPU_X86) stackMask() uint64 {
	switch c.StackBits() {
	case 16:
		return 0xFFFF
	case 32:
		return 0xFFFF_FFFF
	}
	return ^uint64(0)
}

// push decrements the stack pointer and stores v at the new top. The pointer
// commits only after the store succeeds; a failing store is a #SS.
func (c *CPU_X86) push(bits int, v uint64) error {
	sm := c.stackMask()
	sp := (c.Regs[RSP] - uint64(bits/8)) & sm
	addr := c.Segs[SegSS].Base + sp
	var err error
	switch bits {
	case 16:
		err = LinearWrite16(&c.CpuState, c.bus, addr, uint16(v))
	case 32:
		err = LinearWrite32(&c.CpuState, c.bus, addr, uint32(v))
	default:
		err = LinearWrite64(&c.CpuState, c.bus, addr, v)
	}
	if err != nil {
		return faultErr(ssFault(0))
	}
	c.Regs[RSP] = c.Regs[RSP]&^sm | sp
	return nil
}

// pop reads the top of stack and commits the pointer increment.
func (c *CPU_X86) pop(bits int) (uint64, error) {
	v, err := c.stackRead(bits, 0)
	if err != nil {
		return 0, err
	}
	c.stackAdjust(uint64(bits / 8))
	return v, nil
}

// stackRead reads a value at SP+disp without moving SP. IRET uses this to
// validate an entire frame before committing any of it.
func (c *CPU_X86) stackRead(bits int, disp uint64) (uint64, error) {
	sm := c.stackMask()
	sp := (c.Regs[RSP] + disp) & sm
	addr := c.Segs[SegSS].Base + sp
	switch bits {
	case 16:
		v, err := LinearRead16(&c.CpuState, c.bus, addr)
		if err != nil {
			return 0, faultErr(ssFault(0))
		}
		return uint64(v), nil
	case 32:
		v, err := LinearRead32(&c.CpuState, c.bus, addr)
		if err != nil {
			return 0, faultErr(ssFault(0))
		}
		return uint64(v), nil
	default:
		v, err := LinearRead64(&c.CpuState, c.bus, addr)
		if err != nil {
			return 0, faultErr(ssFault(0))
		}
		return v, nil
	}
}

func (c *CPU_X86) stackAdjust(delta uint64) {
	sm := c.stackMask()
	c.Regs[RSP] = c.Regs[RSP]&^sm | (c.Regs[RSP]+delta)&sm
}

// readDescriptor loads and parses an 8-byte descriptor from the GDT or LDT.
func (c *CPU_X86) readDescriptor(sel uint16) (Segment, error) {
	idx := uint64(sel &^ 7)
	var base uint64
	var limit uint64
	if sel&4 != 0 {
		base, limit = c.LDTR.Base, uint64(c.LDTR.Limit)
	} else {
		base, limit = c.GDTR.Base, uint64(c.GDTR.Limit)
	}
	if idx+7 > limit {
		return Segment{}, faultErr(gpFault(uint32(sel) &^ 3))
	}
	var raw [8]byte
	if err := LinearReadBytes(&c.CpuState, c.bus, base+idx, raw[:]); err != nil {
		return Segment{}, faultErr(busFaultException(err))
	}
	return parseDescriptor(sel, raw), nil
}

func parseDescriptor(sel uint16, raw [8]byte) Segment {
	limit := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[6]&0x0F)<<16
	base := uint64(raw[2]) | uint64(raw[3])<<8 | uint64(raw[4])<<16 | uint64(raw[7])<<24
	flags := raw[6] & 0xF0
	if flags&0x80 != 0 {
		limit = limit<<12 | 0xFFF
	}
	return Segment{Selector: sel, Base: base, Limit: limit, Access: raw[5], Flags: flags}
}
