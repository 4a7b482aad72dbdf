// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package opcodes decodes compact unwind opcodes.
//
// An opcode is a 32-bit word whose top byte is shared by all architectures
// (see [Bitfield]) and whose low 24 bits are interpreted
// according to the opcode's [Kind] and the target architecture.
// Decoders never fail with an error:
// an opcode they cannot interpret is reported with ok == false.
package opcodes

import "fmt"

// Bitfield provides access to the architecture-independent fields of an opcode.
type Bitfield uint32

// IsFunctionStart reports whether the address range starts a function.
// The flag is stored inverted in the opcode.
func (b Bitfield) IsFunctionStart() bool {
	return b&0x80000000 == 0
}

// HasLSDA reports whether the function has a language-specific data area.
func (b Bitfield) HasLSDA() bool {
	return b&0x40000000 != 0
}

// PersonalityIndex returns the 1-based index of the function's personality routine
// in the section's personality table, or zero if it has none.
func (b Bitfield) PersonalityIndex() uint8 {
	return uint8(b>>28) & 0x3
}

// Kind returns the opcode's kind.
func (b Bitfield) Kind() Kind {
	return Kind(b>>24) & 0xf
}

// Kind is the 4-bit field of an opcode that selects its interpretation.
// The meaning of a non-zero kind depends on the architecture.
type Kind uint8

// Opcode kinds.
const (
	KindNull Kind = 0

	KindX86FrameBased         Kind = 1
	KindX86FramelessImmediate Kind = 2
	KindX86FramelessIndirect  Kind = 3
	KindX86Dwarf              Kind = 4
	KindARM64Frameless        Kind = 2
	KindARM64Dwarf            Kind = 3
	KindARM64FrameBased       Kind = 4
)

// Arch is an instruction set architecture with a compact unwind encoding.
type Arch int

// Supported architectures.
const (
	ArchX86 Arch = 1 + iota
	ArchX86_64
	ArchARM64
)

// ParseArch parses an architecture name.
// Both Apple and GNU spellings are accepted.
func ParseArch(name string) (Arch, error) {
	switch name {
	case "i386", "i486", "i586", "i686", "x86":
		return ArchX86, nil
	case "x86_64", "amd64", "x86_64h":
		return ArchX86_64, nil
	case "arm64", "aarch64", "arm64e":
		return ArchARM64, nil
	default:
		return 0, fmt.Errorf("unsupported architecture %q", name)
	}
}

// String returns the Apple name of the architecture.
func (arch Arch) String() string {
	switch arch {
	case ArchX86:
		return "i386"
	case ArchX86_64:
		return "x86_64"
	case ArchARM64:
		return "arm64"
	default:
		return fmt.Sprintf("Arch(%d)", int(arch))
	}
}

// PointerSize returns the size of a pointer in bytes,
// or zero if arch is not a supported architecture.
func (arch Arch) PointerSize() int {
	switch arch {
	case ArchX86:
		return 4
	case ArchX86_64, ArchARM64:
		return 8
	default:
		return 0
	}
}

// Decode decodes an opcode for the given architecture.
// The returned value is an [X86], [X86_64], or [ARM64].
// ok is false if the architecture is not supported
// or the opcode has no structured interpretation.
func Decode(arch Arch, opcode uint32) (_ fmt.Stringer, ok bool) {
	switch arch {
	case ArchX86:
		op, ok := ParseX86(opcode)
		if !ok {
			return nil, false
		}
		return op, true
	case ArchX86_64:
		op, ok := ParseX86_64(opcode)
		if !ok {
			return nil, false
		}
		return op, true
	case ArchARM64:
		op, ok := ParseARM64(opcode)
		if !ok {
			return nil, false
		}
		return op, true
	default:
		return nil, false
	}
}
