// cpu_x86_runner_test.go - Runner lifecycle and BIOS service loop tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "testing"

func TestRunnerLoadSetsEntry(t *testing.T) {
	r := NewCPUX86Runner(&CPUX86Config{MemorySize: 1 << 20})
	if err := r.LoadProgramData([]byte{0xF4}); err != nil {
		t.Fatalf("load: %v", err)
	}
	cpu := r.GetCPU()
	if got := cpu.Segs[SegCS].Base + cpu.RIP; got != defaultX86LoadAddr {
		t.Errorf("entry linear = 0x%X, want 0x%X", got, defaultX86LoadAddr)
	}
	v, _ := r.GetBus().Read8(defaultX86LoadAddr)
	if v != 0xF4 {
		t.Errorf("image byte = 0x%X, want 0xF4", v)
	}
}

func TestRunnerRejectsOversizedImage(t *testing.T) {
	r := NewCPUX86Runner(&CPUX86Config{MemorySize: 0x8000})
	if err := r.LoadProgramData(make([]byte, 0x8000)); err == nil {
		t.Error("image past end of memory must be rejected")
	}
}

func TestRunnerHaltsOnHltWithInterruptsOff(t *testing.T) {
	r := NewCPUX86Runner(&CPUX86Config{MemorySize: 1 << 20})
	if err := r.LoadProgramData([]byte{0xF4}); err != nil {
		t.Fatalf("load: %v", err)
	}
	r.GetCPU().SetRunning(true)
	if err := r.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !r.GetCPU().Halted {
		t.Error("CPU should be halted")
	}
}

func TestRunnerServicesBiosInterrupt(t *testing.T) {
	var vectors []uint8
	r := NewCPUX86Runner(&CPUX86Config{
		MemorySize: 1 << 20,
		BIOSService: func(cpu *CPU_X86, vector uint8) error {
			vectors = append(vectors, vector)
			return nil
		},
	})
	// int 0x10; hlt -- with the vector pointing at an hlt/iret stub.
	if err := r.LoadProgramData([]byte{0xCD, 0x10, 0xF4}); err != nil {
		t.Fatalf("load: %v", err)
	}
	bus := r.GetBus()
	bus.WriteBytes(0x10*4, []byte{0x00, 0x05, 0x00, 0x00})
	bus.WriteBytes(0x500, []byte{0xF4, 0xCF})

	r.GetCPU().SetRunning(true)
	if err := r.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(vectors) != 1 || vectors[0] != 0x10 {
		t.Errorf("serviced vectors = %v, want [0x10]", vectors)
	}
	if !r.GetCPU().Halted {
		t.Error("CPU should have reached the final hlt")
	}
}

func TestRunnerTripleFaultSurfacesAsError(t *testing.T) {
	r := NewCPUX86Runner(&CPUX86Config{MemorySize: 1 << 20})
	// ud2 in real mode with a zeroed IVT still vectors (real mode has no
	// gate checks), so force protected mode with an empty IDT instead.
	if err := r.LoadProgramData([]byte{0x0F, 0x0B}); err != nil {
		t.Fatalf("load: %v", err)
	}
	cpu := r.GetCPU()
	cpu.CR0 |= cr0PE
	cpu.UpdateMode()
	cpu.Segs[SegCS] = Segment{Selector: 0x08, Limit: 0xFFFF_FFFF, Access: 0x9A, Flags: 0xC0}
	cpu.Segs[SegSS] = Segment{Selector: 0x10, Limit: 0xFFFF_FFFF, Access: 0x92, Flags: 0xC0}
	cpu.RIP = defaultX86LoadAddr
	cpu.Segs[SegCS].Base = 0
	cpu.Regs[RSP] = 0x7000
	cpu.SetRunning(true)

	if err := r.Run(); err == nil {
		t.Fatal("expected a triple-fault error from Run")
	}
}

func TestRunnerResetRestoresEntry(t *testing.T) {
	r := NewCPUX86Runner(&CPUX86Config{MemorySize: 1 << 20})
	if err := r.LoadProgramData([]byte{0xF4}); err != nil {
		t.Fatalf("load: %v", err)
	}
	cpu := r.GetCPU()
	cpu.RIP = 0x1234
	cpu.Halted = true
	r.Reset()
	if got := cpu.Segs[SegCS].Base + cpu.RIP; got != defaultX86LoadAddr {
		t.Errorf("entry linear = 0x%X after reset, want 0x%X", got, defaultX86LoadAddr)
	}
	if cpu.Halted {
		t.Error("reset must clear the halted state")
	}
}

func TestRunnerCountsRetiredInstructions(t *testing.T) {
	// Three nops and a hlt retire four instructions, far below the block
	// budget; the counter must not be charged per block.
	r := NewCPUX86Runner(&CPUX86Config{MemorySize: 1 << 20})
	if err := r.LoadProgramData([]byte{0x90, 0x90, 0x90, 0xF4}); err != nil {
		t.Fatalf("load: %v", err)
	}
	r.PerfEnabled = true
	r.GetCPU().SetRunning(true)
	if err := r.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.InstructionCount != 4 {
		t.Errorf("InstructionCount = %d, want 4", r.InstructionCount)
	}
	if got := r.GetCPU().InstructionsRetired(); got != 4 {
		t.Errorf("InstructionsRetired = %d, want 4", got)
	}
}

func TestRunnerStartStopBackgroundExecution(t *testing.T) {
	r := NewCPUX86Runner(&CPUX86Config{MemorySize: 1 << 20})
	// Spin forever: jmp $
	if err := r.LoadProgramData([]byte{0xEB, 0xFE}); err != nil {
		t.Fatalf("load: %v", err)
	}
	r.StartExecution()
	r.Stop()
	if r.GetCPU().Running() {
		t.Error("CPU still marked running after Stop")
	}
	if err := r.ExecError(); err != nil {
		t.Errorf("background run error: %v", err)
	}
}
