// cpu_x86_runner.go - x86 CPU Program Runner
//
// Drives the execution engine in blocks, services BIOS interrupt requests
// through an embedder-supplied handler, and owns the start/stop lifecycle
// for background execution.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	defaultX86LoadAddr   = 0x00007C00 // conventional boot-sector load address
	defaultX86MemorySize = 0x02000000 // 32MB guest memory
	defaultBlockBudget   = 4096      // instructions per ExecBlock slice
)

// BIOSHandler services an intercepted BIOS interrupt. It runs between
// execution blocks with the CPU parked, so it may freely inspect and mutate
// register state.
type BIOSHandler func(cpu *CPU_X86, vector uint8) error

// CPUX86Config holds configuration for the x86 runner.
type CPUX86Config struct {
	LoadAddr    uint64
	Entry       uint64
	MemorySize  uint64
	BlockBudget int
	BIOSService BIOSHandler // Optional BIOS interrupt handler
}

// CPUX86Runner manages one x86 CPU and its bus.
type CPUX86Runner struct {
	cpu         *CPU_X86
	bus         *FlatBus
	loadAddr    uint64
	entry       uint64
	blockBudget int
	biosService BIOSHandler

	// Performance monitoring
	PerfEnabled      bool   // Enable MIPS reporting
	InstructionCount uint64 // Instructions retired since Run started
	retiredBase      uint64 // CPU retire counter at Run start
	perfStartTime    time.Time
	lastPerfReport   time.Time

	execMu     sync.Mutex
	execDone   chan struct{}
	execActive bool
	execErr    error
}

// NewCPUX86Runner creates a new x86 CPU runner with the given configuration.
func NewCPUX86Runner(config *CPUX86Config) *CPUX86Runner {
	loadAddr := uint64(defaultX86LoadAddr)
	entry := uint64(defaultX86LoadAddr)
	memSize := uint64(defaultX86MemorySize)
	budget := defaultBlockBudget
	var bios BIOSHandler

	if config != nil {
		if config.LoadAddr != 0 {
			loadAddr = config.LoadAddr
		}
		if config.Entry != 0 {
			entry = config.Entry
		}
		if config.MemorySize != 0 {
			memSize = config.MemorySize
		}
		if config.BlockBudget != 0 {
			budget = config.BlockBudget
		}
		bios = config.BIOSService
	}

	bus := NewFlatBus(memSize)
	cpu := NewCPUX86(bus)

	return &CPUX86Runner{
		cpu:         cpu,
		bus:         bus,
		loadAddr:    loadAddr,
		entry:       entry,
		blockBudget: budget,
		biosService: bios,
	}
}

// LoadProgramData loads a binary image from bytes into guest memory and
// points CS:IP at the entry address.
func (r *CPUX86Runner) LoadProgramData(data []byte) error {
	if uint64(len(data))+r.loadAddr > r.bus.Size() {
		return fmt.Errorf("program too large: %d bytes at 0x%X", len(data), r.loadAddr)
	}
	if err := r.bus.WriteBytes(r.loadAddr, data); err != nil {
		return fmt.Errorf("load image: %w", err)
	}

	// Real-mode entry: CS chosen so that base+IP lands on the entry address.
	r.cpu.SetRealModeSeg(SegCS, uint16(r.entry>>4&0xF000))
	r.cpu.RIP = r.entry - r.cpu.Segs[SegCS].Base
	return nil
}

// LoadProgram loads a binary image from a file.
func (r *CPUX86Runner) LoadProgram(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return r.LoadProgramData(data)
}

// GetCPU returns the CPU instance.
func (r *CPUX86Runner) GetCPU() *CPU_X86 { return r.cpu }

// GetBus returns the system bus.
func (r *CPUX86Runner) GetBus() *FlatBus { return r.bus }

// InjectInterrupt queues an external interrupt vector for the CPU.
func (r *CPUX86Runner) InjectInterrupt(vec uint8) { r.cpu.InjectInterrupt(vec) }

// Reset resets the CPU, keeping memory contents.
func (r *CPUX86Runner) Reset() {
	r.cpu.Reset()
	r.cpu.SetRealModeSeg(SegCS, uint16(r.entry>>4&0xF000))
	r.cpu.RIP = r.entry - r.cpu.Segs[SegCS].Base
}

// Run executes until the CPU halts with nothing pending, is stopped, or a
// triple fault shuts the virtual CPU down.
func (r *CPUX86Runner) Run() error {
	if r.PerfEnabled {
		r.perfStartTime = time.Now()
		r.lastPerfReport = r.perfStartTime
		r.InstructionCount = 0
		r.retiredBase = r.cpu.InstructionsRetired()
	}

	for r.cpu.Running() {
		exit, err := r.cpu.ExecBlock(r.blockBudget)
		if r.PerfEnabled {
			r.InstructionCount = r.cpu.InstructionsRetired() - r.retiredBase
		}
		if err != nil {
			var tf *TripleFault
			if errors.As(err, &tf) {
				return fmt.Errorf("x86: %w", tf)
			}
			return err
		}

		switch exit {
		case ExitBiosInterrupt:
			vec, ok := r.cpu.TakeBiosInt()
			if ok && r.biosService != nil {
				if err := r.biosService(r.cpu, vec); err != nil {
					return err
				}
			}
		case ExitHalt:
			// HLT with interrupts disabled can never wake up.
			if r.cpu.Rflags()&FlagIF == 0 {
				return nil
			}
			if !r.cpu.PendingExternal() {
				time.Sleep(50 * time.Microsecond)
			}
		}

		if r.PerfEnabled {
			now := time.Now()
			if now.Sub(r.lastPerfReport) >= time.Second {
				elapsed := now.Sub(r.perfStartTime).Seconds()
				mips := float64(r.InstructionCount) / elapsed / 1_000_000
				fmt.Printf("x86: %.2f MIPS (%.0f instructions in %.1fs)\n",
					mips, float64(r.InstructionCount), elapsed)
				r.lastPerfReport = now
			}
		}
	}
	return nil
}

// IsRunning returns whether the CPU is still executing.
func (r *CPUX86Runner) IsRunning() bool {
	return r.cpu.Running() && !r.cpu.Halted
}

// ExecError returns the error from the last background execution, if any.
func (r *CPUX86Runner) ExecError() error {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	return r.execErr
}

func (r *CPUX86Runner) StartExecution() {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	if r.execActive {
		return
	}
	r.execActive = true
	r.cpu.SetRunning(true)
	r.cpu.Halted = false
	r.execDone = make(chan struct{})
	go func() {
		err := r.Run()
		r.execMu.Lock()
		r.execErr = err
		r.execActive = false
		close(r.execDone)
		r.execMu.Unlock()
	}()
}

func (r *CPUX86Runner) Stop() {
	r.execMu.Lock()
	if !r.execActive {
		r.cpu.SetRunning(false)
		r.execMu.Unlock()
		return
	}
	r.cpu.SetRunning(false)
	done := r.execDone
	r.execMu.Unlock()
	<-done
}
