// cpu_x86_test.go - Execution engine tests: decode, ALU flags, stack and
// string operations
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "testing"

const testCodeBase = 0x1000

// newRealCPU builds a real-mode CPU with code at 0000:7C00 and a stack
// below it.
func newRealCPU(t *testing.T, code []byte) (*CPU_X86, *FlatBus) {
	t.Helper()
	bus := NewFlatBus(1 << 20)
	cpu := NewCPUX86(bus)
	if err := bus.WriteBytes(0x7C00, code); err != nil {
		t.Fatalf("load code: %v", err)
	}
	cpu.SetRealModeSeg(SegCS, 0)
	cpu.RIP = 0x7C00
	cpu.SetRealModeSeg(SegSS, 0)
	cpu.Regs[RSP] = 0x7000
	return cpu, bus
}

// newProtCPU builds a flat 32-bit protected-mode CPU with code at
// testCodeBase and a stack at 0x8000. Segment caches are seeded directly;
// tests that exercise descriptor loads build a GDT on top.
func newProtCPU(t *testing.T, code []byte) (*CPU_X86, *FlatBus) {
	t.Helper()
	bus := NewFlatBus(1 << 20)
	cpu := NewCPUX86(bus)
	if err := bus.WriteBytes(testCodeBase, code); err != nil {
		t.Fatalf("load code: %v", err)
	}
	cpu.CR0 |= cr0PE
	cpu.UpdateMode()
	cpu.Segs[SegCS] = Segment{Selector: 0x08, Limit: 0xFFFF_FFFF, Access: 0x9A, Flags: 0xC0}
	for _, s := range []SegIndex{SegDS, SegES, SegSS, SegFS, SegGS} {
		cpu.Segs[s] = Segment{Selector: 0x10, Limit: 0xFFFF_FFFF, Access: 0x92, Flags: 0xC0}
	}
	cpu.RIP = testCodeBase
	cpu.Regs[RSP] = 0x8000
	return cpu, bus
}

func stepOK(t *testing.T, cpu *CPU_X86) {
	t.Helper()
	if err := cpu.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if cpu.pendingExc != nil {
		t.Fatalf("unexpected fault %s at RIP 0x%X", cpu.pendingExc.name(), cpu.RIP)
	}
}

func TestAddSetsCarryAndOverflow(t *testing.T) {
	// add eax, ebx
	cpu, _ := newProtCPU(t, []byte{0x01, 0xD8})
	cpu.SetReg32(RAX, 0x7FFF_FFFF)
	cpu.SetReg32(RBX, 1)
	stepOK(t, cpu)

	if got := cpu.Reg32(RAX); got != 0x8000_0000 {
		t.Errorf("EAX = 0x%X, want 0x80000000", got)
	}
	if !cpu.GetFlag(FlagOF) {
		t.Error("OF clear, want set")
	}
	if !cpu.GetFlag(FlagSF) {
		t.Error("SF clear, want set")
	}
	if cpu.GetFlag(FlagCF) {
		t.Error("CF set, want clear")
	}
	if !cpu.GetFlag(FlagAF) {
		t.Error("AF clear, want set (carry out of bit 3)")
	}
}

func TestSubBorrowFlags(t *testing.T) {
	// sub eax, ebx
	cpu, _ := newProtCPU(t, []byte{0x29, 0xD8})
	cpu.SetReg32(RAX, 0)
	cpu.SetReg32(RBX, 1)
	stepOK(t, cpu)

	if got := cpu.Reg32(RAX); got != 0xFFFF_FFFF {
		t.Errorf("EAX = 0x%X, want 0xFFFFFFFF", got)
	}
	if !cpu.GetFlag(FlagCF) {
		t.Error("CF clear, want set on borrow")
	}
	if cpu.GetFlag(FlagOF) {
		t.Error("OF set, want clear")
	}
}

func TestAdcUsesCarryIn(t *testing.T) {
	// stc; adc eax, 0
	cpu, _ := newProtCPU(t, []byte{0xF9, 0x83, 0xD0, 0x00})
	cpu.SetReg32(RAX, 0xFFFF_FFFF)
	stepOK(t, cpu)
	stepOK(t, cpu)

	if got := cpu.Reg32(RAX); got != 0 {
		t.Errorf("EAX = 0x%X, want 0", got)
	}
	if !cpu.GetFlag(FlagCF) {
		t.Error("CF clear, want set (carry out with carry-in)")
	}
	if !cpu.GetFlag(FlagZF) {
		t.Error("ZF clear, want set")
	}
}

func TestIncPreservesCarry(t *testing.T) {
	// stc; inc eax
	cpu, _ := newProtCPU(t, []byte{0xF9, 0x40})
	cpu.SetReg32(RAX, 0x7FFF_FFFF)
	stepOK(t, cpu)
	stepOK(t, cpu)

	if !cpu.GetFlag(FlagCF) {
		t.Error("INC must not touch CF")
	}
	if !cpu.GetFlag(FlagOF) {
		t.Error("OF clear, want set on 0x7FFFFFFF+1")
	}
}

func TestLogicClearsCarryAndOverflow(t *testing.T) {
	// stc; xor eax, eax
	cpu, _ := newProtCPU(t, []byte{0xF9, 0x31, 0xC0})
	cpu.SetReg32(RAX, 0x1234)
	stepOK(t, cpu)
	stepOK(t, cpu)

	if cpu.GetFlag(FlagCF) || cpu.GetFlag(FlagOF) {
		t.Error("logic op must clear CF and OF")
	}
	if !cpu.GetFlag(FlagZF) || !cpu.GetFlag(FlagPF) {
		t.Error("ZF/PF should be set for a zero result")
	}
}

func TestShlCarryAndOverflow(t *testing.T) {
	// shl eax, 1
	cpu, _ := newProtCPU(t, []byte{0xD1, 0xE0})
	cpu.SetReg32(RAX, 0xC000_0000)
	stepOK(t, cpu)

	if got := cpu.Reg32(RAX); got != 0x8000_0000 {
		t.Errorf("EAX = 0x%X, want 0x80000000", got)
	}
	if !cpu.GetFlag(FlagCF) {
		t.Error("CF clear, want shifted-out bit")
	}
	if cpu.GetFlag(FlagOF) {
		t.Error("OF set, want clear (top bit unchanged)")
	}
}

func TestSarKeepsSign(t *testing.T) {
	// sar eax, 4
	cpu, _ := newProtCPU(t, []byte{0xC1, 0xF8, 0x04})
	cpu.SetReg32(RAX, 0x8000_0000)
	stepOK(t, cpu)

	if got := cpu.Reg32(RAX); got != 0xF800_0000 {
		t.Errorf("EAX = 0x%X, want 0xF8000000", got)
	}
}

func TestShiftCountZeroLeavesFlags(t *testing.T) {
	// stc; shl eax, 0
	cpu, _ := newProtCPU(t, []byte{0xF9, 0xC1, 0xE0, 0x00})
	stepOK(t, cpu)
	stepOK(t, cpu)
	if !cpu.GetFlag(FlagCF) {
		t.Error("shift by zero must not change flags")
	}
}

func TestMulWide(t *testing.T) {
	// mul ebx
	cpu, _ := newProtCPU(t, []byte{0xF7, 0xE3})
	cpu.SetReg32(RAX, 0x1000_0000)
	cpu.SetReg32(RBX, 0x10)
	stepOK(t, cpu)

	if got := cpu.Reg32(RAX); got != 0 {
		t.Errorf("EAX = 0x%X, want 0", got)
	}
	if got := cpu.Reg32(RDX); got != 1 {
		t.Errorf("EDX = 0x%X, want 1", got)
	}
	if !cpu.GetFlag(FlagCF) || !cpu.GetFlag(FlagOF) {
		t.Error("CF/OF should report the significant high half")
	}
}

func TestDivByZeroFaults(t *testing.T) {
	// div ebx
	cpu, _ := newProtCPU(t, []byte{0xF7, 0xF3})
	cpu.SetReg32(RBX, 0)
	if err := cpu.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if cpu.pendingExc == nil || cpu.pendingExc.Vector != ExcDivideError {
		t.Fatalf("pending = %v, want #DE", cpu.pendingExc)
	}
	if cpu.RIP != testCodeBase {
		t.Errorf("RIP advanced past faulting instruction: 0x%X", cpu.RIP)
	}
}

func TestDivQuotient(t *testing.T) {
	// div ecx
	cpu, _ := newProtCPU(t, []byte{0xF7, 0xF1})
	cpu.SetReg32(RAX, 100)
	cpu.SetReg32(RDX, 0)
	cpu.SetReg32(RCX, 7)
	stepOK(t, cpu)

	if got := cpu.Reg32(RAX); got != 14 {
		t.Errorf("quotient = %d, want 14", got)
	}
	if got := cpu.Reg32(RDX); got != 2 {
		t.Errorf("remainder = %d, want 2", got)
	}
}

func TestIdivSigned(t *testing.T) {
	// idiv ecx
	cpu, _ := newProtCPU(t, []byte{0xF7, 0xF9})
	cpu.SetReg32(RAX, uint32(-100&0xFFFF_FFFF))
	cpu.SetReg32(RDX, 0xFFFF_FFFF)
	cpu.SetReg32(RCX, 7)
	stepOK(t, cpu)

	if got := int32(cpu.Reg32(RAX)); got != -14 {
		t.Errorf("quotient = %d, want -14", got)
	}
	if got := int32(cpu.Reg32(RDX)); got != -2 {
		t.Errorf("remainder = %d, want -2", got)
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	// push eax; pop ebx
	cpu, _ := newProtCPU(t, []byte{0x50, 0x5B})
	cpu.SetReg32(RAX, 0xDEAD_BEEF)
	sp := cpu.Regs[RSP]
	stepOK(t, cpu)
	if cpu.Regs[RSP] != sp-4 {
		t.Errorf("ESP = 0x%X after push, want 0x%X", cpu.Regs[RSP], sp-4)
	}
	stepOK(t, cpu)
	if got := cpu.Reg32(RBX); got != 0xDEAD_BEEF {
		t.Errorf("EBX = 0x%X, want 0xDEADBEEF", got)
	}
	if cpu.Regs[RSP] != sp {
		t.Errorf("ESP = 0x%X, want restored 0x%X", cpu.Regs[RSP], sp)
	}
}

func TestCallRetNear(t *testing.T) {
	// call +3; nop; nop; nop; ret target: mov eax, 1; ret
	code := []byte{
		0xE8, 0x03, 0x00, 0x00, 0x00, // call 0x1008
		0xF4,                         // hlt
		0x90, 0x90,                   // padding
		0xB8, 0x01, 0x00, 0x00, 0x00, // mov eax, 1
		0xC3, // ret
	}
	cpu, _ := newProtCPU(t, code)
	stepOK(t, cpu) // call
	if cpu.RIP != testCodeBase+8 {
		t.Fatalf("RIP = 0x%X after call, want 0x%X", cpu.RIP, testCodeBase+8)
	}
	stepOK(t, cpu) // mov
	stepOK(t, cpu) // ret
	if cpu.RIP != testCodeBase+5 {
		t.Errorf("RIP = 0x%X after ret, want 0x%X", cpu.RIP, testCodeBase+5)
	}
	if cpu.Reg32(RAX) != 1 {
		t.Errorf("EAX = %d, want 1", cpu.Reg32(RAX))
	}
}

func TestJccTakenAndNotTaken(t *testing.T) {
	// cmp eax, 5; je +2; hlt; hlt; mov ebx, 1
	code := []byte{
		0x83, 0xF8, 0x05, // cmp eax, 5
		0x74, 0x02, // je +2
		0xF4, 0xF4, // hlt; hlt
		0xBB, 0x01, 0x00, 0x00, 0x00, // mov ebx, 1
	}
	cpu, _ := newProtCPU(t, code)
	cpu.SetReg32(RAX, 5)
	stepOK(t, cpu)
	stepOK(t, cpu)
	if cpu.RIP != testCodeBase+7 {
		t.Errorf("taken branch RIP = 0x%X, want 0x%X", cpu.RIP, testCodeBase+7)
	}

	cpu2, _ := newProtCPU(t, code)
	cpu2.SetReg32(RAX, 4)
	stepOK(t, cpu2)
	stepOK(t, cpu2)
	if cpu2.RIP != testCodeBase+5 {
		t.Errorf("not-taken branch RIP = 0x%X, want 0x%X", cpu2.RIP, testCodeBase+5)
	}
}

func TestModRMSIBAddressing(t *testing.T) {
	// mov [ebx+esi*4+0x10], eax
	cpu, bus := newProtCPU(t, []byte{0x89, 0x44, 0xB3, 0x10})
	cpu.SetReg32(RAX, 0xCAFE_BABE)
	cpu.SetReg32(RBX, 0x2000)
	cpu.SetReg32(RSI, 4)
	stepOK(t, cpu)

	v, err := bus.Read32(0x2000 + 16 + 0x10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 0xCAFE_BABE {
		t.Errorf("mem = 0x%X, want 0xCAFEBABE", v)
	}
}

func TestRealMode16BitWrap(t *testing.T) {
	// inc ax at IP 0xFFFF wraps IP to 0x0001
	cpu, bus := newRealCPU(t, nil)
	bus.WriteBytes(0xFFFF, []byte{0x40}) // inc ax at 0000:FFFF
	cpu.RIP = 0xFFFF
	stepOK(t, cpu)
	if cpu.RIP != 0 {
		t.Errorf("IP = 0x%X, want wrap to 0", cpu.RIP)
	}
}

func TestSegmentOverrideAndMovMoffs(t *testing.T) {
	// mov ax, [es:0x100]
	cpu, bus := newRealCPU(t, []byte{0x26, 0xA1, 0x00, 0x01})
	cpu.SetRealModeSeg(SegES, 0x100)
	bus.WriteBytes(0x100*16+0x100, []byte{0x34, 0x12})
	stepOK(t, cpu)
	if got := cpu.Reg16(RAX); got != 0x1234 {
		t.Errorf("AX = 0x%X, want 0x1234", got)
	}
}

func TestRepStosUsesBulkFill(t *testing.T) {
	// rep stosd
	cpu, bus := newProtCPU(t, []byte{0xF3, 0xAB})
	cpu.SetReg32(RAX, 0x11223344)
	cpu.SetReg32(RDI, 0x4000)
	cpu.SetReg32(RCX, 0x100)
	stepOK(t, cpu)

	if got := cpu.Reg32(RCX); got != 0 {
		t.Errorf("ECX = %d, want 0", got)
	}
	if got := cpu.Reg32(RDI); got != 0x4000+0x400 {
		t.Errorf("EDI = 0x%X, want 0x%X", got, 0x4000+0x400)
	}
	first, _ := bus.Read32(0x4000)
	last, _ := bus.Read32(0x4000 + 0x3FC)
	if first != 0x11223344 || last != 0x11223344 {
		t.Errorf("fill = 0x%X / 0x%X, want 0x11223344", first, last)
	}
}

func TestRepMovsCopiesForward(t *testing.T) {
	// rep movsb
	cpu, bus := newProtCPU(t, []byte{0xF3, 0xA4})
	src := []byte("engine test payload")
	bus.WriteBytes(0x3000, src)
	cpu.SetReg32(RSI, 0x3000)
	cpu.SetReg32(RDI, 0x5000)
	cpu.SetReg32(RCX, uint32(len(src)))
	stepOK(t, cpu)

	got := make([]byte, len(src))
	bus.ReadBytes(0x5000, got)
	if string(got) != string(src) {
		t.Errorf("copy = %q, want %q", got, src)
	}
	if cpu.Reg32(RCX) != 0 {
		t.Errorf("ECX = %d, want 0", cpu.Reg32(RCX))
	}
}

func TestRepeCmpsStopsOnMismatch(t *testing.T) {
	// repe cmpsb
	cpu, bus := newProtCPU(t, []byte{0xF3, 0xA6})
	bus.WriteBytes(0x3000, []byte{1, 2, 3, 9, 5})
	bus.WriteBytes(0x5000, []byte{1, 2, 3, 4, 5})
	cpu.SetReg32(RSI, 0x3000)
	cpu.SetReg32(RDI, 0x5000)
	cpu.SetReg32(RCX, 5)
	stepOK(t, cpu)

	// Stops after comparing the mismatching fourth byte.
	if got := cpu.Reg32(RCX); got != 1 {
		t.Errorf("ECX = %d, want 1", got)
	}
	if cpu.GetFlag(FlagZF) {
		t.Error("ZF set, want clear on mismatch")
	}
}

func TestStdReversesStringDirection(t *testing.T) {
	// std; stosb; cld
	cpu, _ := newProtCPU(t, []byte{0xFD, 0xAA, 0xFC})
	cpu.SetReg32(RDI, 0x4000)
	stepOK(t, cpu)
	stepOK(t, cpu)
	if got := cpu.Reg32(RDI); got != 0x3FFF {
		t.Errorf("EDI = 0x%X, want 0x3FFF", got)
	}
	stepOK(t, cpu)
}

func TestMovzxMovsx(t *testing.T) {
	// movzx eax, bl; movsx ecx, bl
	cpu, _ := newProtCPU(t, []byte{0x0F, 0xB6, 0xC3, 0x0F, 0xBE, 0xCB})
	cpu.SetReg32(RBX, 0x80)
	stepOK(t, cpu)
	stepOK(t, cpu)
	if got := cpu.Reg32(RAX); got != 0x80 {
		t.Errorf("movzx = 0x%X, want 0x80", got)
	}
	if got := cpu.Reg32(RCX); got != 0xFFFF_FF80 {
		t.Errorf("movsx = 0x%X, want 0xFFFFFF80", got)
	}
}

func TestCmovOnlyMovesWhenTaken(t *testing.T) {
	// cmp eax, 0; cmove ebx, ecx
	cpu, _ := newProtCPU(t, []byte{0x83, 0xF8, 0x00, 0x0F, 0x44, 0xD9})
	cpu.SetReg32(RAX, 0)
	cpu.SetReg32(RBX, 0x1111)
	cpu.SetReg32(RCX, 0x2222)
	stepOK(t, cpu)
	stepOK(t, cpu)
	if got := cpu.Reg32(RBX); got != 0x2222 {
		t.Errorf("EBX = 0x%X, want 0x2222 (condition true)", got)
	}
}

func TestUndefinedOpcodeFaults(t *testing.T) {
	cpu, _ := newProtCPU(t, []byte{0x0F, 0x0B}) // ud2
	if err := cpu.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if cpu.pendingExc == nil || cpu.pendingExc.Vector != ExcInvalidOpcode {
		t.Fatalf("pending = %v, want #UD", cpu.pendingExc)
	}
}

func TestXchgAndLeaveFlagsAlone(t *testing.T) {
	// stc; xchg eax, ebx
	cpu, _ := newProtCPU(t, []byte{0xF9, 0x93})
	cpu.SetReg32(RAX, 1)
	cpu.SetReg32(RBX, 2)
	stepOK(t, cpu)
	stepOK(t, cpu)
	if cpu.Reg32(RAX) != 2 || cpu.Reg32(RBX) != 1 {
		t.Errorf("xchg: EAX=%d EBX=%d", cpu.Reg32(RAX), cpu.Reg32(RBX))
	}
	if !cpu.GetFlag(FlagCF) {
		t.Error("xchg must not touch flags")
	}
}

func TestHighByteRegisters(t *testing.T) {
	// mov ah, 0x12; mov bl, ah
	cpu, _ := newProtCPU(t, []byte{0xB4, 0x12, 0x88, 0xE3})
	cpu.SetReg32(RAX, 0)
	stepOK(t, cpu)
	stepOK(t, cpu)
	if got := cpu.Reg32(RAX); got != 0x1200 {
		t.Errorf("EAX = 0x%X, want 0x1200", got)
	}
	if got := cpu.Reg8(RBX, false); got != 0x12 {
		t.Errorf("BL = 0x%X, want 0x12", got)
	}
}
