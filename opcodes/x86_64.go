// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package opcodes

import "fmt"

// RegisterX86_64 is a callee-saved register in an x86_64 opcode.
// The zero value means no register.
type RegisterX86_64 uint8

// x86_64 callee-saved registers.
const (
	RBX RegisterX86_64 = 1 + iota
	R12
	R13
	R14
	R15
	RBP
)

var x86_64RegisterNames = [...]string{"", "rbx", "r12", "r13", "r14", "r15", "rbp"}

// String returns the assembler name of the register.
func (r RegisterX86_64) String() string {
	if int(r) >= len(x86_64RegisterNames) || r == 0 {
		return fmt.Sprintf("RegisterX86_64(%d)", uint8(r))
	}
	return x86_64RegisterNames[r]
}

// DWARFName returns the register's name in CFA rules.
func (r RegisterX86_64) DWARFName() string {
	switch r {
	case RBX:
		return "reg3"
	case R12:
		return "reg12"
	case R13:
		return "reg13"
	case R14:
		return "reg14"
	case R15:
		return "reg15"
	case RBP:
		return "reg6"
	default:
		return r.String()
	}
}

// X86_64 is a decoded x86_64 opcode.
// Its fields have the same meaning as in [X86]
// with a pointer size of 8 bytes.
type X86_64 struct {
	Kind        Kind
	StackOffset uint16
	StackSize   uint16
	Registers   [6]RegisterX86_64
	FDEOffset   uint32
}

// ParseX86_64 decodes an x86_64 opcode.
// ok is false if the opcode's kind is unknown
// or its register permutation is invalid.
func ParseX86_64(opcode uint32) (_ X86_64, ok bool) {
	op, ok := parseIntel(opcode, 8)
	if !ok {
		return X86_64{}, false
	}
	result := X86_64{
		Kind:        op.kind,
		StackOffset: op.stackOffset,
		StackSize:   op.stackSize,
		FDEOffset:   op.fdeOffset,
	}
	for i, r := range op.regs {
		result.Registers[i] = RegisterX86_64(r)
	}
	return result, true
}

// String returns a description of the unwind rule.
func (op X86_64) String() string {
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
	}.format(8, func(r uint8) string { return RegisterX86_64(r).DWARFName() })
}
