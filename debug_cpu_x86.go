// debug_cpu_x86.go - x86 debug adapter for Machine Monitor
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"strings"
	"sync"
	"sync/atomic"
)

var x86GPRNames = [16]string{
	"RAX", "RCX", "RDX", "RBX", "RSP", "RBP", "RSI", "RDI",
	"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
}

type DebugX86 struct {
	cpu    *CPU_X86
	runner *CPUX86Runner

	bpMu        sync.RWMutex
	breakpoints map[uint64]struct{}
	watchpoints map[uint64]*Watchpoint
	bpChan      chan<- BreakpointEvent
	cpuID       int
	trapRunning atomic.Bool
	trapStop    chan struct{}
}

func NewDebugX86(cpu *CPU_X86, runner *CPUX86Runner) *DebugX86 {
	return &DebugX86{
		cpu:         cpu,
		runner:      runner,
		breakpoints: make(map[uint64]struct{}),
		watchpoints: make(map[uint64]*Watchpoint),
	}
}

func (d *DebugX86) CPUName() string   { return "X86" }
func (d *DebugX86) AddressWidth() int { return 64 }

// pcLinear is the linear address of the next instruction, which is what
// breakpoints are keyed on.
func (d *DebugX86) pcLinear() uint64 {
	c := d.cpu
	return c.Segs[SegCS].Base + c.RIP&c.IPMask()
}

func (d *DebugX86) GetRegisters() []RegisterInfo {
	c := d.cpu
	regs := make([]RegisterInfo, 0, 28)
	for i, name := range x86GPRNames {
		regs = append(regs, RegisterInfo{Name: name, BitWidth: 64, Value: c.Regs[i], Group: "general"})
	}
	regs = append(regs,
		RegisterInfo{Name: "RIP", BitWidth: 64, Value: c.RIP, Group: "general"},
		RegisterInfo{Name: "RFLAGS", BitWidth: 64, Value: c.Rflags(), Group: "flags"},
	)
	for i, name := range segNames {
		regs = append(regs, RegisterInfo{Name: name, BitWidth: 16, Value: uint64(c.Segs[i].Selector), Group: "segment"})
	}
	regs = append(regs,
		RegisterInfo{Name: "CR0", BitWidth: 64, Value: c.CR0, Group: "control"},
		RegisterInfo{Name: "CR2", BitWidth: 64, Value: c.CR2, Group: "control"},
		RegisterInfo{Name: "CR3", BitWidth: 64, Value: c.CR3, Group: "control"},
		RegisterInfo{Name: "CR4", BitWidth: 64, Value: c.CR4, Group: "control"},
		RegisterInfo{Name: "EFER", BitWidth: 64, Value: c.EFER, Group: "control"},
	)
	return regs
}

func (d *DebugX86) GetRegister(name string) (uint64, bool) {
	c := d.cpu
	name = strings.ToUpper(name)
	for i, n := range x86GPRNames {
		if n == name {
			return c.Regs[i], true
		}
	}
	switch name {
	case "RIP", "PC":
		return c.RIP, true
	case "FLAGS", "RFLAGS":
		return c.Rflags(), true
	case "CR0":
		return c.CR0, true
	case "CR2":
		return c.CR2, true
	case "CR3":
		return c.CR3, true
	case "CR4":
		return c.CR4, true
	case "EFER":
		return c.EFER, true
	}
	for i, n := range segNames {
		if n == name {
			return uint64(c.Segs[i].Selector), true
		}
	}
	return 0, false
}

func (d *DebugX86) SetRegister(name string, value uint64) bool {
	c := d.cpu
	name = strings.ToUpper(name)
	for i, n := range x86GPRNames {
		if n == name {
			c.Regs[i] = value
			return true
		}
	}
	switch name {
	case "RIP", "PC":
		c.RIP = value
		return true
	case "FLAGS", "RFLAGS":
		c.SetRflags(value)
		return true
	case "CR0":
		c.CR0 = value
		c.UpdateMode()
		return true
	case "CR3":
		c.CR3 = value
		return true
	case "CR4":
		c.CR4 = value
		return true
	case "EFER":
		c.EFER = value
		c.UpdateMode()
		return true
	}
	for i, n := range segNames {
		if n == name {
			if c.Mode == ModeReal || c.Mode == ModeVM86 {
				c.SetRealModeSeg(SegIndex(i), uint16(value))
			} else {
				c.Segs[i].Selector = uint16(value)
			}
			return true
		}
	}
	return false
}

func (d *DebugX86) GetPC() uint64     { return d.cpu.RIP }
func (d *DebugX86) SetPC(addr uint64) { d.cpu.RIP = addr }

func (d *DebugX86) IsRunning() bool {
	return d.cpu.Running() || d.trapRunning.Load()
}

func (d *DebugX86) Freeze() {
	if d.trapRunning.Load() {
		close(d.trapStop)
		for d.trapRunning.Load() {
		}
		return
	}
	d.runner.Stop()
}

func (d *DebugX86) Resume() {
	d.bpMu.RLock()
	hasBP := len(d.breakpoints) > 0 || len(d.watchpoints) > 0
	d.bpMu.RUnlock()
	if hasBP {
		d.trapStop = make(chan struct{})
		d.trapRunning.Store(true)
		go d.trapLoop()
		return
	}
	d.runner.StartExecution()
}

// trapLoop single-steps while breakpoints or watchpoints are set, publishing
// hit events to the monitor.
func (d *DebugX86) trapLoop() {
	defer d.trapRunning.Store(false)
	d.cpu.SetRunning(true)
	d.cpu.Halted = false
	for {
		select {
		case <-d.trapStop:
			d.cpu.SetRunning(false)
			return
		default:
		}
		pc := d.pcLinear()
		d.bpMu.RLock()
		_, hit := d.breakpoints[pc]
		d.bpMu.RUnlock()
		if hit {
			d.cpu.SetRunning(false)
			if d.bpChan != nil {
				select {
				case d.bpChan <- BreakpointEvent{CPUID: d.cpuID, Address: pc}:
				default:
				}
			}
			return
		}
		if d.Step() == 0 {
			d.cpu.SetRunning(false)
			return
		}
		d.bpMu.RLock()
		for _, wp := range d.watchpoints {
			cur, err := d.cpu.bus.Read8(wp.Address)
			if err == nil && cur != wp.LastValue {
				old := wp.LastValue
				wp.LastValue = cur
				d.bpMu.RUnlock()
				d.cpu.SetRunning(false)
				if d.bpChan != nil {
					select {
					case d.bpChan <- BreakpointEvent{
						CPUID: d.cpuID, Address: d.pcLinear(),
						IsWatch: true, WatchAddr: wp.Address,
						WatchOldValue: old, WatchNewValue: cur,
					}:
					default:
					}
				}
				return
			}
		}
		d.bpMu.RUnlock()
	}
}

func (d *DebugX86) Step() int {
	if err := d.cpu.Step(); err != nil {
		return 0
	}
	if d.cpu.Halted {
		return 0
	}
	return 1
}

func (d *DebugX86) Disassemble(addr uint64, count int) []DisassembledLine {
	pc := d.pcLinear()
	lines := disassembleX86(d.ReadMemory, addr, count)
	for i := range lines {
		if lines[i].Address == pc {
			lines[i].IsPC = true
		}
	}
	return lines
}

func (d *DebugX86) SetBreakpoint(addr uint64) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	d.breakpoints[addr] = struct{}{}
	return true
}

func (d *DebugX86) ClearBreakpoint(addr uint64) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	if _, ok := d.breakpoints[addr]; ok {
		delete(d.breakpoints, addr)
		return true
	}
	return false
}

func (d *DebugX86) ClearAllBreakpoints() {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	d.breakpoints = make(map[uint64]struct{})
}

func (d *DebugX86) ListBreakpoints() []uint64 {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	result := make([]uint64, 0, len(d.breakpoints))
	for addr := range d.breakpoints {
		result = append(result, addr)
	}
	return result
}

func (d *DebugX86) HasBreakpoint(addr uint64) bool {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	_, ok := d.breakpoints[addr]
	return ok
}

func (d *DebugX86) SetWatchpoint(addr uint64) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	val, _ := d.cpu.bus.Read8(addr)
	d.watchpoints[addr] = &Watchpoint{Address: addr, LastValue: val}
	return true
}

func (d *DebugX86) ClearWatchpoint(addr uint64) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	if _, ok := d.watchpoints[addr]; ok {
		delete(d.watchpoints, addr)
		return true
	}
	return false
}

func (d *DebugX86) ListWatchpoints() []uint64 {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	result := make([]uint64, 0, len(d.watchpoints))
	for addr := range d.watchpoints {
		result = append(result, addr)
	}
	return result
}

func (d *DebugX86) ReadMemory(addr uint64, size int) []byte {
	result := make([]byte, size)
	if err := d.cpu.bus.ReadBytes(addr, result); err != nil {
		// Partial reads fall back to byte granularity so the monitor can
		// dump right up to the end of RAM.
		for i := range result {
			v, err := d.cpu.bus.Read8(addr + uint64(i))
			if err != nil {
				break
			}
			result[i] = v
		}
	}
	return result
}

func (d *DebugX86) WriteMemory(addr uint64, data []byte) {
	_ = d.cpu.bus.WriteBytes(addr, data)
}

func (d *DebugX86) SetBreakpointChannel(ch chan<- BreakpointEvent, cpuID int) {
	d.bpChan = ch
	d.cpuID = cpuID
}
