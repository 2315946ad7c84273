// debug_disasm_x86_test.go - Disassembler smoke tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"strings"
	"testing"
)

func disasmBytes(t *testing.T, code []byte) (string, int) {
	t.Helper()
	mn, size := disasmOne(code, 0x1000)
	return mn, size
}

func TestDisasmCommonOpcodes(t *testing.T) {
	cases := []struct {
		code []byte
		want string
		size int
	}{
		{[]byte{0x90}, "nop", 1},
		{[]byte{0xF4}, "hlt", 1},
		{[]byte{0xC3}, "ret", 1},
		{[]byte{0xCF}, "iret", 1},
		{[]byte{0x50}, "push eax", 1},
		{[]byte{0x5B}, "pop ebx", 1},
		{[]byte{0xCD, 0x10}, "int 0x10", 2},
		{[]byte{0xB8, 0x78, 0x56, 0x34, 0x12}, "mov eax, 0x12345678", 5},
		{[]byte{0x01, 0xD8}, "add eax, ebx", 2},
		{[]byte{0x31, 0xC0}, "xor eax, eax", 2},
		{[]byte{0x0F, 0x0B}, "ud2", 2},
		{[]byte{0x0F, 0xA2}, "cpuid", 2},
	}
	for _, tc := range cases {
		mn, size := disasmBytes(t, tc.code)
		if mn != tc.want {
			t.Errorf("% X: got %q, want %q", tc.code, mn, tc.want)
		}
		if size != tc.size {
			t.Errorf("% X: size = %d, want %d", tc.code, size, tc.size)
		}
	}
}

func TestDisasmRelativeBranchTarget(t *testing.T) {
	// jmp short +2 from 0x1000: next is 0x1002, target 0x1004
	mn, size := disasmBytes(t, []byte{0xEB, 0x02})
	if size != 2 {
		t.Fatalf("size = %d, want 2", size)
	}
	if !strings.Contains(mn, "0x1004") {
		t.Errorf("jmp = %q, want target 0x1004", mn)
	}
}

func TestDisasmUnknownFallsBackToDB(t *testing.T) {
	mn, size := disasmBytes(t, []byte{0xD8, 0x00}) // x87, not decoded
	if size != 1 {
		t.Errorf("size = %d, want 1", size)
	}
	if !strings.HasPrefix(mn, "db ") {
		t.Errorf("mnemonic = %q, want db fallback", mn)
	}
}

func TestDisassembleMarksPC(t *testing.T) {
	cpu, bus := newProtCPU(t, []byte{0x90, 0x90, 0xF4})
	dbg := NewDebugX86(cpu, nil)
	_ = bus

	lines := dbg.Disassemble(testCodeBase, 3)
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if !lines[0].IsPC {
		t.Error("first line should be marked as PC")
	}
	if lines[1].IsPC || lines[2].IsPC {
		t.Error("only the PC line may carry the marker")
	}
	if lines[2].Mnemonic != "hlt" {
		t.Errorf("third line = %q, want hlt", lines[2].Mnemonic)
	}
}
