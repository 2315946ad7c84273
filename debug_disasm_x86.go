// debug_disasm_x86.go - Compact x86 disassembler for the Machine Monitor
//
// Covers the instruction subset the execution engine implements, enough for
// monitor listings and breakpoint work. Unknown bytes decode as "db" so the
// listing always advances.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"strings"
)

var disasmALU = [8]string{"add", "or", "adc", "sbb", "and", "sub", "xor", "cmp"}
var disasmShift = [8]string{"rol", "ror", "rcl", "rcr", "shl", "shr", "sal", "sar"}
var disasmGrp3 = [8]string{"test", "test", "not", "neg", "mul", "imul", "div", "idiv"}
var disasmCC = [16]string{
	"o", "no", "b", "ae", "e", "ne", "be", "a",
	"s", "ns", "p", "np", "l", "ge", "le", "g",
}

var disasmReg32 = [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
var disasmReg16 = [8]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di"}
var disasmReg8 = [8]string{"al", "cl", "dl", "bl", "ah", "ch", "dh", "bh"}
var disasmSeg = [6]string{"es", "cs", "ss", "ds", "fs", "gs"}

type disasmCursor struct {
	buf []byte
	pos int
}

func (d *disasmCursor) u8() uint8 {
	if d.pos >= len(d.buf) {
		return 0
	}
	v := d.buf[d.pos]
	d.pos++
	return v
}

func (d *disasmCursor) u16() uint16 {
	lo := uint16(d.u8())
	return lo | uint16(d.u8())<<8
}

func (d *disasmCursor) u32() uint32 {
	lo := uint32(d.u16())
	return lo | uint32(d.u16())<<16
}

func disasmRegName(width, idx int) string {
	switch width {
	case 8:
		return disasmReg8[idx&7]
	case 16:
		return disasmReg16[idx&7]
	}
	return disasmReg32[idx&7]
}

// modRMOperand renders the r/m operand of a 32-bit-addressing ModRM byte.
func (d *disasmCursor) modRMOperand(width int) (string, int) {
	m := d.u8()
	mod := int(m >> 6)
	reg := int(m>>3) & 7
	rm := int(m) & 7

	if mod == 3 {
		return disasmRegName(width, rm), reg
	}

	var base string
	switch {
	case rm == 4:
		sib := d.u8()
		idx := int(sib>>3) & 7
		b := int(sib) & 7
		if b == 5 && mod == 0 {
			base = fmt.Sprintf("0x%X", d.u32())
		} else {
			base = disasmReg32[b]
		}
		if idx != 4 {
			base += fmt.Sprintf("+%s*%d", disasmReg32[idx], 1<<(sib>>6))
		}
	case rm == 5 && mod == 0:
		return fmt.Sprintf("[0x%X]", d.u32()), reg
	default:
		base = disasmReg32[rm]
	}

	switch mod {
	case 1:
		disp := int8(d.u8())
		if disp < 0 {
			return fmt.Sprintf("[%s-0x%X]", base, -int32(disp)), reg
		}
		return fmt.Sprintf("[%s+0x%X]", base, disp), reg
	case 2:
		return fmt.Sprintf("[%s+0x%X]", base, d.u32()), reg
	}
	return fmt.Sprintf("[%s]", base), reg
}

// disasmOne decodes one instruction, returning the mnemonic and length.
func disasmOne(buf []byte, addr uint64) (string, int) {
	d := &disasmCursor{buf: buf}
	width := 32
	prefix := ""
	for {
		switch b := d.u8(); b {
		case 0x66:
			width = 16
			continue
		case 0x67, 0x26, 0x2E, 0x36, 0x3E, 0x64, 0x65:
			continue
		case 0xF0:
			prefix = "lock "
			continue
		case 0xF2:
			prefix = "repne "
			continue
		case 0xF3:
			prefix = "rep "
			continue
		default:
			d.pos--
		}
		break
	}

	op := d.u8()
	mn := "(bad)"
	switch {
	case op < 0x40 && op&7 < 6:
		name := disasmALU[op>>3]
		switch op & 7 {
		case 0:
			rm, reg := d.modRMOperand(8)
			mn = fmt.Sprintf("%s %s, %s", name, rm, disasmRegName(8, reg))
		case 1:
			rm, reg := d.modRMOperand(width)
			mn = fmt.Sprintf("%s %s, %s", name, rm, disasmRegName(width, reg))
		case 2:
			rm, reg := d.modRMOperand(8)
			mn = fmt.Sprintf("%s %s, %s", name, disasmRegName(8, reg), rm)
		case 3:
			rm, reg := d.modRMOperand(width)
			mn = fmt.Sprintf("%s %s, %s", name, disasmRegName(width, reg), rm)
		case 4:
			mn = fmt.Sprintf("%s al, 0x%X", name, d.u8())
		case 5:
			if width == 16 {
				mn = fmt.Sprintf("%s ax, 0x%X", name, d.u16())
			} else {
				mn = fmt.Sprintf("%s eax, 0x%X", name, d.u32())
			}
		}
	case op >= 0x50 && op < 0x58:
		mn = "push " + disasmRegName(width, int(op&7))
	case op >= 0x58 && op < 0x60:
		mn = "pop " + disasmRegName(width, int(op&7))
	case op >= 0x70 && op < 0x80:
		rel := int8(d.u8())
		mn = fmt.Sprintf("j%s 0x%X", disasmCC[op&0xF], addr+uint64(d.pos)+uint64(int64(rel)))
	case op >= 0xB0 && op < 0xB8:
		mn = fmt.Sprintf("mov %s, 0x%X", disasmReg8[op&7], d.u8())
	case op >= 0xB8 && op < 0xC0:
		if width == 16 {
			mn = fmt.Sprintf("mov %s, 0x%X", disasmReg16[op&7], d.u16())
		} else {
			mn = fmt.Sprintf("mov %s, 0x%X", disasmReg32[op&7], d.u32())
		}
	default:
		mn = disasmMisc(d, op, width, addr)
	}
	if mn == "(bad)" {
		return fmt.Sprintf("db 0x%02X", buf[0]), 1
	}
	return prefix + mn, d.pos
}

func disasmMisc(d *disasmCursor, op uint8, width int, addr uint64) string {
	imm := func() string {
		if width == 16 {
			return fmt.Sprintf("0x%X", d.u16())
		}
		return fmt.Sprintf("0x%X", d.u32())
	}
	switch op {
	case 0x06, 0x0E, 0x16, 0x1E:
		return "push " + disasmSeg[op>>3]
	case 0x07, 0x17, 0x1F:
		return "pop " + disasmSeg[op>>3]
	case 0x0F:
		return disasmTwoByte(d, width, addr)
	case 0x60:
		return "pusha"
	case 0x61:
		return "popa"
	case 0x68:
		return "push " + imm()
	case 0x6A:
		return fmt.Sprintf("push 0x%X", d.u8())
	case 0x80, 0x82:
		rm, reg := d.modRMOperand(8)
		return fmt.Sprintf("%s %s, 0x%X", disasmALU[reg], rm, d.u8())
	case 0x81:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("%s %s, %s", disasmALU[reg], rm, imm())
	case 0x83:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("%s %s, 0x%X", disasmALU[reg], rm, d.u8())
	case 0x84:
		rm, reg := d.modRMOperand(8)
		return fmt.Sprintf("test %s, %s", rm, disasmRegName(8, reg))
	case 0x85:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("test %s, %s", rm, disasmRegName(width, reg))
	case 0x86:
		rm, reg := d.modRMOperand(8)
		return fmt.Sprintf("xchg %s, %s", rm, disasmRegName(8, reg))
	case 0x87:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("xchg %s, %s", rm, disasmRegName(width, reg))
	case 0x88:
		rm, reg := d.modRMOperand(8)
		return fmt.Sprintf("mov %s, %s", rm, disasmRegName(8, reg))
	case 0x89:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("mov %s, %s", rm, disasmRegName(width, reg))
	case 0x8A:
		rm, reg := d.modRMOperand(8)
		return fmt.Sprintf("mov %s, %s", disasmRegName(8, reg), rm)
	case 0x8B:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("mov %s, %s", disasmRegName(width, reg), rm)
	case 0x8C:
		rm, reg := d.modRMOperand(16)
		return fmt.Sprintf("mov %s, %s", rm, disasmSeg[reg%6])
	case 0x8D:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("lea %s, %s", disasmRegName(width, reg), rm)
	case 0x8E:
		rm, reg := d.modRMOperand(16)
		return fmt.Sprintf("mov %s, %s", disasmSeg[reg%6], rm)
	case 0x8F:
		rm, _ := d.modRMOperand(width)
		return "pop " + rm
	case 0x90:
		return "nop"
	case 0x98:
		return "cwde"
	case 0x99:
		return "cdq"
	case 0x9C:
		return "pushf"
	case 0x9D:
		return "popf"
	case 0x9E:
		return "sahf"
	case 0x9F:
		return "lahf"
	case 0xA4:
		return "movsb"
	case 0xA5:
		return "movsd"
	case 0xA6:
		return "cmpsb"
	case 0xA7:
		return "cmpsd"
	case 0xA8:
		return fmt.Sprintf("test al, 0x%X", d.u8())
	case 0xA9:
		return "test eax, " + imm()
	case 0xAA:
		return "stosb"
	case 0xAB:
		return "stosd"
	case 0xAC:
		return "lodsb"
	case 0xAD:
		return "lodsd"
	case 0xAE:
		return "scasb"
	case 0xAF:
		return "scasd"
	case 0xC0:
		rm, reg := d.modRMOperand(8)
		return fmt.Sprintf("%s %s, 0x%X", disasmShift[reg], rm, d.u8())
	case 0xC1:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("%s %s, 0x%X", disasmShift[reg], rm, d.u8())
	case 0xC2:
		return fmt.Sprintf("ret 0x%X", d.u16())
	case 0xC3:
		return "ret"
	case 0xC6:
		rm, _ := d.modRMOperand(8)
		return fmt.Sprintf("mov %s, 0x%X", rm, d.u8())
	case 0xC7:
		rm, _ := d.modRMOperand(width)
		return fmt.Sprintf("mov %s, %s", rm, imm())
	case 0xC9:
		return "leave"
	case 0xCC:
		return "int3"
	case 0xCD:
		return fmt.Sprintf("int 0x%X", d.u8())
	case 0xCE:
		return "into"
	case 0xCF:
		return "iret"
	case 0xD0:
		rm, reg := d.modRMOperand(8)
		return fmt.Sprintf("%s %s, 1", disasmShift[reg], rm)
	case 0xD1:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("%s %s, 1", disasmShift[reg], rm)
	case 0xD2:
		rm, reg := d.modRMOperand(8)
		return fmt.Sprintf("%s %s, cl", disasmShift[reg], rm)
	case 0xD3:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("%s %s, cl", disasmShift[reg], rm)
	case 0xD7:
		return "xlat"
	case 0xE0:
		return fmt.Sprintf("loopne 0x%X", relTarget8(d, addr))
	case 0xE1:
		return fmt.Sprintf("loope 0x%X", relTarget8(d, addr))
	case 0xE2:
		return fmt.Sprintf("loop 0x%X", relTarget8(d, addr))
	case 0xE3:
		return fmt.Sprintf("jcxz 0x%X", relTarget8(d, addr))
	case 0xE4:
		return fmt.Sprintf("in al, 0x%X", d.u8())
	case 0xE5:
		return fmt.Sprintf("in eax, 0x%X", d.u8())
	case 0xE6:
		return fmt.Sprintf("out 0x%X, al", d.u8())
	case 0xE7:
		return fmt.Sprintf("out 0x%X, eax", d.u8())
	case 0xE8:
		return fmt.Sprintf("call 0x%X", relTargetZ(d, addr, width))
	case 0xE9:
		return fmt.Sprintf("jmp 0x%X", relTargetZ(d, addr, width))
	case 0xEA:
		off := d.u32()
		if width == 16 {
			d.pos -= 4
			off = uint32(d.u16())
		}
		return fmt.Sprintf("jmp 0x%X:0x%X", d.u16(), off)
	case 0xEB:
		return fmt.Sprintf("jmp 0x%X", relTarget8(d, addr))
	case 0xEC:
		return "in al, dx"
	case 0xED:
		return "in eax, dx"
	case 0xEE:
		return "out dx, al"
	case 0xEF:
		return "out dx, eax"
	case 0xF4:
		return "hlt"
	case 0xF5:
		return "cmc"
	case 0xF6:
		rm, reg := d.modRMOperand(8)
		if reg < 2 {
			return fmt.Sprintf("test %s, 0x%X", rm, d.u8())
		}
		return fmt.Sprintf("%s %s", disasmGrp3[reg], rm)
	case 0xF7:
		rm, reg := d.modRMOperand(width)
		if reg < 2 {
			return fmt.Sprintf("test %s, %s", rm, imm())
		}
		return fmt.Sprintf("%s %s", disasmGrp3[reg], rm)
	case 0xF8:
		return "clc"
	case 0xF9:
		return "stc"
	case 0xFA:
		return "cli"
	case 0xFB:
		return "sti"
	case 0xFC:
		return "cld"
	case 0xFD:
		return "std"
	case 0xFE:
		rm, reg := d.modRMOperand(8)
		if reg == 0 {
			return "inc " + rm
		}
		return "dec " + rm
	case 0xFF:
		rm, reg := d.modRMOperand(width)
		switch reg {
		case 0:
			return "inc " + rm
		case 1:
			return "dec " + rm
		case 2:
			return "call " + rm
		case 4:
			return "jmp " + rm
		case 6:
			return "push " + rm
		}
	}
	return "(bad)"
}

func disasmTwoByte(d *disasmCursor, width int, addr uint64) string {
	op := d.u8()
	switch {
	case op >= 0x40 && op < 0x50:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("cmov%s %s, %s", disasmCC[op&0xF], disasmRegName(width, reg), rm)
	case op >= 0x80 && op < 0x90:
		return fmt.Sprintf("j%s 0x%X", disasmCC[op&0xF], relTargetZ(d, addr, width))
	case op >= 0x90 && op < 0xA0:
		rm, _ := d.modRMOperand(8)
		return fmt.Sprintf("set%s %s", disasmCC[op&0xF], rm)
	case op >= 0xC8:
		return "bswap " + disasmReg32[op&7]
	}
	switch op {
	case 0x00:
		rm, reg := d.modRMOperand(16)
		if reg == 2 {
			return "lldt " + rm
		}
		if reg == 3 {
			return "ltr " + rm
		}
	case 0x01:
		rm, reg := d.modRMOperand(width)
		names := [8]string{"sgdt", "sidt", "lgdt", "lidt", "", "", "", ""}
		if names[reg] != "" {
			return names[reg] + " " + rm
		}
	case 0x0B:
		return "ud2"
	case 0x20:
		rm, reg := d.modRMOperand(32)
		return fmt.Sprintf("mov %s, cr%d", rm, reg)
	case 0x22:
		rm, reg := d.modRMOperand(32)
		return fmt.Sprintf("mov cr%d, %s", reg, rm)
	case 0x30:
		return "wrmsr"
	case 0x32:
		return "rdmsr"
	case 0xA0:
		return "push fs"
	case 0xA1:
		return "pop fs"
	case 0xA2:
		return "cpuid"
	case 0xA8:
		return "push gs"
	case 0xA9:
		return "pop gs"
	case 0xAF:
		rm, reg := d.modRMOperand(width)
		return fmt.Sprintf("imul %s, %s", disasmRegName(width, reg), rm)
	case 0xB6:
		rm, reg := d.modRMOperand(8)
		return fmt.Sprintf("movzx %s, %s", disasmRegName(width, reg), rm)
	case 0xB7:
		rm, reg := d.modRMOperand(16)
		return fmt.Sprintf("movzx %s, %s", disasmRegName(width, reg), rm)
	case 0xBE:
		rm, reg := d.modRMOperand(8)
		return fmt.Sprintf("movsx %s, %s", disasmRegName(width, reg), rm)
	case 0xBF:
		rm, reg := d.modRMOperand(16)
		return fmt.Sprintf("movsx %s, %s", disasmRegName(width, reg), rm)
	}
	return "(bad)"
}

func relTarget8(d *disasmCursor, addr uint64) uint64 {
	rel := int8(d.u8())
	return addr + uint64(d.pos) + uint64(int64(rel))
}

func relTargetZ(d *disasmCursor, addr uint64, width int) uint64 {
	var rel int64
	if width == 16 {
		rel = int64(int16(d.u16()))
	} else {
		rel = int64(int32(d.u32()))
	}
	return addr + uint64(d.pos) + uint64(rel)
}

// disassembleX86 produces count lines starting at addr, reading bytes via
// the supplied memory accessor.
func disassembleX86(read func(addr uint64, size int) []byte, addr uint64, count int) []DisassembledLine {
	lines := make([]DisassembledLine, 0, count)
	for i := 0; i < count; i++ {
		buf := read(addr, MaxInstrLen)
		mn, size := disasmOne(buf, addr)
		var hex strings.Builder
		for _, b := range buf[:size] {
			fmt.Fprintf(&hex, "%02X ", b)
		}
		lines = append(lines, DisassembledLine{
			Address:  addr,
			HexBytes: strings.TrimSpace(hex.String()),
			Mnemonic: mn,
			Size:     size,
		})
		addr += uint64(size)
	}
	return lines
}
