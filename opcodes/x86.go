// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package opcodes

import (
	"fmt"
	"strings"
)

// RegisterX86 is a callee-saved register in a 32-bit x86 opcode.
// The zero value means no register.
type RegisterX86 uint8

// 32-bit x86 callee-saved registers.
const (
	EBX RegisterX86 = 1 + iota
	ECX
	EDX
	EDI
	ESI
	EBP
)

var x86RegisterNames = [...]string{"", "ebx", "ecx", "edx", "edi", "esi", "ebp"}

// String returns the assembler name of the register.
func (r RegisterX86) String() string {
	if int(r) >= len(x86RegisterNames) || r == 0 {
		return fmt.Sprintf("RegisterX86(%d)", uint8(r))
	}
	return x86RegisterNames[r]
}

// DWARFName returns the register's name in CFA rules.
func (r RegisterX86) DWARFName() string {
	switch r {
	case EBX:
		return "reg3"
	case ECX:
		return "reg1"
	case EDX:
		return "reg2"
	case EDI:
		return "reg7"
	case ESI:
		return "reg6"
	case EBP:
		return "reg5"
	default:
		return r.String()
	}
}

// X86 is a decoded 32-bit x86 opcode.
type X86 struct {
	Kind Kind

	// StackOffset is set for KindX86FrameBased.
	// It is the distance in bytes from ebp down to the lowest saved register slot.
	StackOffset uint16
	// StackSize is set for KindX86FramelessImmediate.
	// It is the size in bytes of the stack frame,
	// including the return address.
	StackSize uint16
	// Registers lists the saved registers.
	// For KindX86FrameBased, Registers[i] is saved at ebp - StackOffset + 4*i,
	// and zero values are unused slots.
	// For KindX86FramelessImmediate, the registers are saved
	// in increasing address order just below the return address,
	// and the list is terminated by the first zero value.
	Registers [6]RegisterX86
	// FDEOffset is set for KindX86Dwarf.
	// It is the offset of the function's FDE in the __eh_frame section.
	FDEOffset uint32
}

// ParseX86 decodes a 32-bit x86 opcode.
// ok is false if the opcode's kind is unknown
// or its register permutation is invalid.
func ParseX86(opcode uint32) (_ X86, ok bool) {
	op, ok := parseIntel(opcode, 4)
	if !ok {
		return X86{}, false
	}
	result := X86{
		Kind:        op.kind,
		StackOffset: op.stackOffset,
		StackSize:   op.stackSize,
		FDEOffset:   op.fdeOffset,
	}
	for i, r := range op.regs {
		result.Registers[i] = RegisterX86(r)
	}
	return result, true
}

// String returns a description of the unwind rule.
func (op X86) String() string {
	var regs [6]uint8
	for i, r := range op.Registers {
		regs[i] = uint8(r)
	}
	return intelOpcode{
		kind:        op.Kind,
		stackOffset: op.StackOffset,
		stackSize:   op.StackSize,
		regs:        regs,
		fdeOffset:   op.FDEOffset,
	}.format(4, func(r uint8) string { return RegisterX86(r).DWARFName() })
}

// intelOpcode is the encoding shared by x86 and x86_64,
// which differ only in pointer size and register names.
type intelOpcode struct {
	kind        Kind
	stackOffset uint16
	stackSize   uint16
	regs        [6]uint8
	fdeOffset   uint32
}

func parseIntel(opcode uint32, ptrSize uint16) (_ intelOpcode, ok bool) {
	op := intelOpcode{kind: Bitfield(opcode).Kind()}
	switch op.kind {
	case KindNull, KindX86FramelessIndirect:
	case KindX86FrameBased:
		op.stackOffset = uint16(opcode>>16&0xff) * ptrSize
		for i := range 5 {
			if r := uint8(opcode >> (3 * i) & 0x7); r <= maxPermutationRegisters {
				op.regs[i] = r
			}
		}
	case KindX86FramelessImmediate:
		op.stackSize = uint16(opcode>>16&0xff) * ptrSize
		regs, ok := DecodePermutation(opcode>>10&0x7, opcode&0x3ff)
		if !ok {
			return intelOpcode{}, false
		}
		op.regs = regs
	case KindX86Dwarf:
		op.fdeOffset = opcode & 0x00ffffff
	default:
		return intelOpcode{}, false
	}
	return op, true
}

func (op intelOpcode) format(ptrSize uint16, regName func(uint8) string) string {
	sb := new(strings.Builder)
	switch op.kind {
	case KindNull:
		sb.WriteString("(uncovered)")
	case KindX86FrameBased:
		// The frame pointer was pushed right below the return address
		// and then set to the stack pointer before the registers were saved.
		fmt.Fprintf(sb, "CFA=reg6+%d: reg6=[CFA-%d], reg16=[CFA-%d]", 2*ptrSize, 2*ptrSize, ptrSize)
		n := min(int(op.stackOffset/ptrSize), 5)
		for i := range n {
			if op.regs[i] == 0 {
				continue
			}
			offset := int(op.stackOffset) + 2*int(ptrSize) - i*int(ptrSize)
			fmt.Fprintf(sb, ", %s=[CFA-%d]", regName(op.regs[i]), offset)
		}
	case KindX86FramelessImmediate:
		if op.stackSize == 0 {
			sb.WriteString("CFA=reg7:")
		} else {
			fmt.Fprintf(sb, "CFA=reg7+%d:", op.stackSize)
		}
		fmt.Fprintf(sb, " reg16=[CFA-%d]", ptrSize)
		n := 0
		for n < len(op.regs) && op.regs[n] != 0 {
			n++
		}
		offset := 2 * int(ptrSize)
		for i := n - 1; i >= 0; i-- {
			fmt.Fprintf(sb, ", %s=[CFA-%d]", regName(op.regs[i]), offset)
			offset += int(ptrSize)
		}
	case KindX86FramelessIndirect:
		sb.WriteString("frameless indirect")
	case KindX86Dwarf:
		fmt.Fprintf(sb, "(check eh_frame FDE 0x%x)", op.fdeOffset)
	default:
		fmt.Fprintf(sb, "unknown opcode kind %d", op.kind)
	}
	return sb.String()
}
