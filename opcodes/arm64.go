// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package opcodes

import (
	"fmt"
	"strings"
)

// ARM64RegisterPairs is a set of callee-saved register pairs
// stored by a frame-based arm64 function.
type ARM64RegisterPairs uint16

// arm64 register pairs, in the order they are saved below the frame record.
const (
	X19X20 ARM64RegisterPairs = 0x001
	X21X22 ARM64RegisterPairs = 0x002
	X23X24 ARM64RegisterPairs = 0x004
	X25X26 ARM64RegisterPairs = 0x008
	X27X28 ARM64RegisterPairs = 0x010
	D8D9   ARM64RegisterPairs = 0x100
	D10D11 ARM64RegisterPairs = 0x200
	D12D13 ARM64RegisterPairs = 0x400
	D14D15 ARM64RegisterPairs = 0x800

	arm64RegisterPairsMask = X19X20 | X21X22 | X23X24 | X25X26 | X27X28 |
		D8D9 | D10D11 | D12D13 | D14D15
)

var arm64Pairs = [...]struct {
	pair  ARM64RegisterPairs
	first int // DWARF register number of the first register in the pair
	name  string
}{
	{X19X20, 19, "x19/x20"},
	{X21X22, 21, "x21/x22"},
	{X23X24, 23, "x23/x24"},
	{X25X26, 25, "x25/x26"},
	{X27X28, 27, "x27/x28"},
	{D8D9, 72, "d8/d9"},
	{D10D11, 74, "d10/d11"},
	{D12D13, 76, "d12/d13"},
	{D14D15, 78, "d14/d15"},
}

// Has reports whether pair is in the set.
func (pairs ARM64RegisterPairs) Has(pair ARM64RegisterPairs) bool {
	return pairs&pair == pair
}

// Len returns the number of pairs in the set.
func (pairs ARM64RegisterPairs) Len() int {
	n := 0
	for _, p := range arm64Pairs {
		if pairs.Has(p.pair) {
			n++
		}
	}
	return n
}

// String returns the pairs in the set separated by commas.
func (pairs ARM64RegisterPairs) String() string {
	var names []string
	for _, p := range arm64Pairs {
		if pairs.Has(p.pair) {
			names = append(names, p.name)
		}
	}
	return strings.Join(names, ",")
}

// ARM64 is a decoded arm64 opcode.
type ARM64 struct {
	Kind Kind

	// StackSize is set for KindARM64Frameless.
	// It is the number of bytes the function moves the stack pointer by.
	// The return address stays in the link register.
	StackSize uint32
	// SavedPairs is set for KindARM64FrameBased.
	// The pairs are stored below the frame record in the order of the constants.
	SavedPairs ARM64RegisterPairs
	// FDEOffset is set for KindARM64Dwarf.
	FDEOffset uint32
}

// ParseARM64 decodes an arm64 opcode.
// ok is false if the opcode's kind is unknown.
func ParseARM64(opcode uint32) (_ ARM64, ok bool) {
	op := ARM64{Kind: Bitfield(opcode).Kind()}
	switch op.Kind {
	case KindNull:
	case KindARM64Frameless:
		op.StackSize = (opcode >> 12 & 0xfff) * 16
	case KindARM64Dwarf:
		op.FDEOffset = opcode & 0x00ffffff
	case KindARM64FrameBased:
		op.SavedPairs = ARM64RegisterPairs(opcode) & arm64RegisterPairsMask
	default:
		return ARM64{}, false
	}
	return op, true
}

// String returns a description of the unwind rule.
func (op ARM64) String() string {
	sb := new(strings.Builder)
	switch op.Kind {
	case KindNull:
		sb.WriteString("(uncovered)")
	case KindARM64Frameless:
		if op.StackSize == 0 {
			sb.WriteString("CFA=reg31")
		} else {
			fmt.Fprintf(sb, "CFA=reg31+%d", op.StackSize)
		}
		sb.WriteString(": reg32=reg30")
	case KindARM64FrameBased:
		// The frame record (fp, lr) sits right below the CFA.
		sb.WriteString("CFA=reg29+16: reg29=[CFA-16], reg30=[CFA-8]")
		offset := 24
		for _, p := range arm64Pairs {
			if !op.SavedPairs.Has(p.pair) {
				continue
			}
			fmt.Fprintf(sb, ", reg%d=[CFA-%d], reg%d=[CFA-%d]", p.first, offset, p.first+1, offset+8)
			offset += 16
		}
	case KindARM64Dwarf:
		fmt.Fprintf(sb, "(check eh_frame FDE 0x%x)", op.FDEOffset)
	default:
		fmt.Fprintf(sb, "unknown opcode kind %d", op.Kind)
	}
	return sb.String()
}
