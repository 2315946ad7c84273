// debug_monitor.go - Machine Monitor (terminal debugger REPL)
//
// Interactive monitor over a raw-mode terminal: registers, disassembly,
// memory dump/patch, single-step, breakpoints and watchpoints. Attaches to
// any DebuggableCPU; breakpoint hits arrive on a channel from the adapter's
// trap loop.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"
)

type CPUEntry struct {
	ID   int
	Name string
	CPU  DebuggableCPU
}

// MachineMonitor owns the debugger UI and the attached CPUs.
type MachineMonitor struct {
	mu     sync.Mutex
	cpus   map[int]*CPUEntry
	active int
	nextID int

	bpChan   chan BreakpointEvent
	stopped  chan struct{}
	terminal *term.Terminal
	oldState *term.State

	lastDumpAddr uint64
	lastDisAddr  uint64
}

func NewMachineMonitor() *MachineMonitor {
	return &MachineMonitor{
		cpus:   make(map[int]*CPUEntry),
		bpChan: make(chan BreakpointEvent, 16),
	}
}

// AttachCPU registers a CPU with the monitor and returns its ID.
func (m *MachineMonitor) AttachCPU(name string, cpu DebuggableCPU) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.cpus[id] = &CPUEntry{ID: id, Name: name, CPU: cpu}
	cpu.SetBreakpointChannel(m.bpChan, id)
	return id
}

func (m *MachineMonitor) activeCPU() DebuggableCPU {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.cpus[m.active]; ok {
		return e.CPU
	}
	return nil
}

// Run takes over the terminal until the user quits. The attached CPUs are
// frozen on entry and left frozen on exit.
func (m *MachineMonitor) Run() error {
	fd := int(os.Stdin.Fd())
	old, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("monitor: raw mode: %w", err)
	}
	m.oldState = old
	defer term.Restore(fd, old)

	m.terminal = term.NewTerminal(termIO{}, "mon> ")

	cpu := m.activeCPU()
	if cpu != nil && cpu.IsRunning() {
		cpu.Freeze()
	}

	m.stopped = make(chan struct{})
	go m.breakpointListener()
	defer close(m.stopped)

	m.println("machine monitor - ? for help")
	m.showStatus()

	for {
		line, err := m.terminal.ReadLine()
		if err != nil {
			return nil
		}
		if m.dispatch(strings.TrimSpace(line)) {
			return nil
		}
	}
}

// termIO adapts stdin/stdout for the line editor, translating LF to CRLF on
// the way out since the terminal is in raw mode.
type termIO struct{}

func (termIO) Read(p []byte) (int, error) { return os.Stdin.Read(p) }

func (termIO) Write(p []byte) (int, error) {
	out := strings.ReplaceAll(string(p), "\n", "\r\n")
	_, err := os.Stdout.WriteString(out)
	return len(p), err
}

func (m *MachineMonitor) println(s string) {
	if m.terminal != nil {
		fmt.Fprintln(m.terminal, s)
	}
}

func (m *MachineMonitor) printf(format string, args ...any) {
	if m.terminal != nil {
		fmt.Fprintf(m.terminal, format, args...)
	}
}

func (m *MachineMonitor) breakpointListener() {
	for {
		select {
		case ev := <-m.bpChan:
			if ev.IsWatch {
				m.printf("watch: [0x%X] 0x%02X -> 0x%02X (PC 0x%X)\n",
					ev.WatchAddr, ev.WatchOldValue, ev.WatchNewValue, ev.Address)
			} else {
				m.printf("break: 0x%X\n", ev.Address)
			}
			m.showStatus()
		case <-m.stopped:
			return
		}
	}
}

// dispatch runs one command line; returns true on quit.
func (m *MachineMonitor) dispatch(line string) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	cpu := m.activeCPU()
	if cpu == nil {
		m.println("no CPU attached")
		return cmd == "q"
	}

	switch cmd {
	case "q", "quit":
		return true
	case "?", "help":
		m.showHelp()
	case "r":
		if len(args) == 2 {
			v, err := parseHex(args[1])
			if err != nil || !cpu.SetRegister(args[0], v) {
				m.println("bad register or value")
				break
			}
		}
		m.showRegisters(cpu)
	case "s", "step":
		n := 1
		if len(args) == 1 {
			if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
				n = v
			}
		}
		for i := 0; i < n; i++ {
			if cpu.Step() == 0 {
				m.println("cpu stopped")
				break
			}
		}
		m.showStatus()
	case "g", "go":
		cpu.Resume()
		m.println("running")
	case "halt":
		cpu.Freeze()
		m.showStatus()
	case "d":
		addr := m.lastDisAddr
		if len(args) == 1 {
			v, err := parseHex(args[0])
			if err != nil {
				m.println("bad address")
				break
			}
			addr = v
		} else if addr == 0 {
			addr = cpu.GetPC()
		}
		lines := cpu.Disassemble(addr, 16)
		for _, l := range lines {
			marker := "  "
			if l.IsPC {
				marker = "> "
			}
			m.printf("%s%08X  %-24s %s\n", marker, l.Address, l.HexBytes, l.Mnemonic)
			addr = l.Address + uint64(l.Size)
		}
		m.lastDisAddr = addr
	case "m":
		addr := m.lastDumpAddr
		size := 128
		if len(args) >= 1 {
			v, err := parseHex(args[0])
			if err != nil {
				m.println("bad address")
				break
			}
			addr = v
		}
		if len(args) >= 2 {
			if v, err := parseHex(args[1]); err == nil {
				size = int(v)
			}
		}
		m.hexDump(cpu, addr, size)
		m.lastDumpAddr = addr + uint64(size)
	case "w":
		if len(args) < 2 {
			m.println("usage: w addr byte [byte ...]")
			break
		}
		addr, err := parseHex(args[0])
		if err != nil {
			m.println("bad address")
			break
		}
		data := make([]byte, 0, len(args)-1)
		for _, a := range args[1:] {
			v, err := parseHex(a)
			if err != nil || v > 0xFF {
				m.println("bad byte: " + a)
				return false
			}
			data = append(data, byte(v))
		}
		cpu.WriteMemory(addr, data)
	case "b":
		if len(args) != 1 {
			m.println("usage: b addr")
			break
		}
		if addr, err := parseHex(args[0]); err == nil {
			cpu.SetBreakpoint(addr)
			m.printf("breakpoint at 0x%X\n", addr)
		}
	case "bc":
		if len(args) != 1 {
			m.println("usage: bc addr")
			break
		}
		if addr, err := parseHex(args[0]); err == nil {
			if !cpu.ClearBreakpoint(addr) {
				m.println("no such breakpoint")
			}
		}
	case "bl":
		bps := cpu.ListBreakpoints()
		sort.Slice(bps, func(i, j int) bool { return bps[i] < bps[j] })
		for _, addr := range bps {
			m.printf("  0x%X\n", addr)
		}
		if len(bps) == 0 {
			m.println("no breakpoints")
		}
	default:
		m.println("unknown command (? for help)")
	}
	return false
}

func (m *MachineMonitor) showHelp() {
	m.println(`commands:
  r [reg value]   show registers / set one
  d [addr]        disassemble
  m [addr [len]]  dump memory
  w addr b..      write bytes
  s [n]           step n instructions
  g               resume execution
  halt            freeze execution
  b/bc/bl         set / clear / list breakpoints
  q               quit monitor`)
}

func (m *MachineMonitor) showStatus() {
	cpu := m.activeCPU()
	if cpu == nil {
		return
	}
	pc := cpu.GetPC()
	lines := cpu.Disassemble(pc, 1)
	if len(lines) > 0 {
		m.printf("%s @ %08X: %s\n", cpu.CPUName(), pc, lines[0].Mnemonic)
	}
}

func (m *MachineMonitor) showRegisters(cpu DebuggableCPU) {
	col := 0
	for _, r := range cpu.GetRegisters() {
		switch r.BitWidth {
		case 16:
			m.printf("%-6s %04X      ", r.Name, r.Value)
		case 32:
			m.printf("%-6s %08X  ", r.Name, r.Value)
		default:
			m.printf("%-6s %016X  ", r.Name, r.Value)
		}
		col++
		if col%3 == 0 {
			m.println("")
		}
	}
	if col%3 != 0 {
		m.println("")
	}
}

func (m *MachineMonitor) hexDump(cpu DebuggableCPU, addr uint64, size int) {
	data := cpu.ReadMemory(addr, size)
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		var hex, ascii strings.Builder
		for i := off; i < end; i++ {
			fmt.Fprintf(&hex, "%02X ", data[i])
			if data[i] >= 0x20 && data[i] < 0x7F {
				ascii.WriteByte(data[i])
			} else {
				ascii.WriteByte('.')
			}
		}
		m.printf("%08X  %-48s %s\n", addr+uint64(off), hex.String(), ascii.String())
	}
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	s = strings.TrimPrefix(s, "$")
	return strconv.ParseUint(s, 16, 64)
}
