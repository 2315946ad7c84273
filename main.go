// main.go - x86 execution engine host program
//
// Loads a flat binary image into guest memory and runs it, with an optional
// interactive machine monitor. Real-mode guests get a minimal BIOS teletype
// service so boot-sector style programs can print.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	var (
		loadAddr = flag.Uint64("load", defaultX86LoadAddr, "image load address")
		entry    = flag.Uint64("entry", 0, "entry point (defaults to load address)")
		memSize  = flag.Uint64("mem", defaultX86MemorySize, "guest memory size in bytes")
		budget   = flag.Int("budget", defaultBlockBudget, "instructions per execution block")
		monitor  = flag.Bool("monitor", false, "start in the machine monitor")
		perf     = flag.Bool("perf", false, "report MIPS while running")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] image.bin\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	entryAddr := *entry
	if entryAddr == 0 {
		entryAddr = *loadAddr
	}

	runner := NewCPUX86Runner(&CPUX86Config{
		LoadAddr:    *loadAddr,
		Entry:       entryAddr,
		MemorySize:  *memSize,
		BlockBudget: *budget,
		BIOSService: biosTeletype,
	})

	if err := runner.LoadProgram(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	host := NewTerminalHost()
	if err := host.Attach(runner.GetBus()); err != nil {
		fmt.Fprintf(os.Stderr, "terminal: %v\n", err)
		os.Exit(1)
	}
	defer host.Detach()

	if *monitor {
		dbg := NewDebugX86(runner.GetCPU(), runner)
		mon := NewMachineMonitor()
		mon.AttachCPU("X86", dbg)
		if err := mon.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	runner.PerfEnabled = *perf
	runner.GetCPU().SetRunning(true)
	if err := runner.Run(); err != nil {
		host.Detach()
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// biosTeletype services the intercepted BIOS interrupts a bare real-mode
// guest needs to talk: INT 10h AH=0Eh teletype output and INT 16h AH=00h
// blocking keystroke reads via the UART buffer.
func biosTeletype(cpu *CPU_X86, vector uint8) error {
	switch vector {
	case 0x10:
		if cpu.Reg8(4, false) == 0x0E { // AH
			ch := cpu.Reg8(RAX, false) // AL
			if ch == '\n' {
				os.Stdout.Write([]byte{'\r'})
			}
			os.Stdout.Write([]byte{ch})
		}
	case 0x16:
		if cpu.Reg8(4, false) == 0x00 {
			v, err := cpu.Bus().In(com1Data, 1)
			if err != nil {
				return err
			}
			cpu.SetReg8(RAX, false, uint8(v))
		}
	}
	return nil
}
