// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package opcodes

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodePermutation(t *testing.T) {
	for count := range uint32(maxPermutationRegisters + 1) {
		limit := permutationCount(int(count))
		seen := make(map[[maxPermutationRegisters]uint8]bool)
		for index := range limit {
			regs, ok := DecodePermutation(count, index)
			if !ok {
				t.Errorf("DecodePermutation(%d, %d) failed", count, index)
				continue
			}
			var used [maxPermutationRegisters + 1]bool
			for i, r := range regs {
				if uint32(i) >= count {
					if r != 0 {
						t.Errorf("DecodePermutation(%d, %d) = %v; slot %d should be empty", count, index, regs, i)
					}
					continue
				}
				if r < 1 || r > maxPermutationRegisters || used[r] {
					t.Errorf("DecodePermutation(%d, %d) = %v; invalid register in slot %d", count, index, regs, i)
				}
				used[r] = true
			}
			if seen[regs] {
				t.Errorf("DecodePermutation(%d, %d) = %v; duplicate of an earlier index", count, index, regs)
			}
			seen[regs] = true

			got, ok := EncodePermutation(regs[:count])
			if !ok || got != index {
				t.Errorf("EncodePermutation(%v) = %d, %t; want %d, true", regs[:count], got, ok, index)
			}
		}

		if regs, ok := DecodePermutation(count, limit); ok {
			t.Errorf("DecodePermutation(%d, %d) = %v, true; want failure", count, limit, regs)
		}
	}

	if regs, ok := DecodePermutation(7, 0); ok {
		t.Errorf("DecodePermutation(7, 0) = %v, true; want failure", regs)
	}
}

func TestDecodePermutationValues(t *testing.T) {
	tests := []struct {
		count uint32
		index uint32
		want  [6]uint8
	}{
		{count: 0, index: 0, want: [6]uint8{}},
		{count: 1, index: 0, want: [6]uint8{1}},
		{count: 1, index: 5, want: [6]uint8{6}},
		{count: 2, index: 5, want: [6]uint8{2, 1}},
		{count: 2, index: 4, want: [6]uint8{1, 6}},
		{count: 3, index: 119, want: [6]uint8{6, 5, 4}},
		{count: 6, index: 0, want: [6]uint8{1, 2, 3, 4, 5, 6}},
		{count: 6, index: 719, want: [6]uint8{6, 5, 4, 3, 2, 1}},
	}
	for _, test := range tests {
		got, ok := DecodePermutation(test.count, test.index)
		if !ok || got != test.want {
			t.Errorf("DecodePermutation(%d, %d) = %v, %t; want %v, true", test.count, test.index, got, ok, test.want)
		}
	}
}

func TestEncodePermutationInvalid(t *testing.T) {
	tests := [][]uint8{
		{0},
		{7},
		{1, 1},
		{1, 2, 3, 4, 5, 6, 1},
	}
	for _, regs := range tests {
		if got, ok := EncodePermutation(regs); ok {
			t.Errorf("EncodePermutation(%v) = %d, true; want failure", regs, got)
		}
	}
}

func TestBitfield(t *testing.T) {
	b := Bitfield(0xd1000000)
	if b.IsFunctionStart() {
		t.Error("IsFunctionStart() = true; want false")
	}
	if !b.HasLSDA() {
		t.Error("HasLSDA() = false; want true")
	}
	if got := b.PersonalityIndex(); got != 1 {
		t.Errorf("PersonalityIndex() = %d; want 1", got)
	}
	if got := b.Kind(); got != KindX86FrameBased {
		t.Errorf("Kind() = %d; want %d", got, KindX86FrameBased)
	}
	if !Bitfield(0x02000000).IsFunctionStart() {
		t.Error("Bitfield(0x02000000).IsFunctionStart() = false; want true")
	}
}

func TestParseX86(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint32
		want   X86
		str    string
	}{
		{
			name:   "Null",
			opcode: 0,
			want:   X86{Kind: KindNull},
			str:    "(uncovered)",
		},
		{
			name:   "FrameBased",
			opcode: 0x01020008,
			want: X86{
				Kind:        KindX86FrameBased,
				StackOffset: 8,
				Registers:   [6]RegisterX86{0, EBX},
			},
			str: "CFA=reg6+8: reg6=[CFA-8], reg16=[CFA-4], reg3=[CFA-12]",
		},
		{
			name:   "FrameBasedNoRegisters",
			opcode: 0x01000000,
			want:   X86{Kind: KindX86FrameBased},
			str:    "CFA=reg6+8: reg6=[CFA-8], reg16=[CFA-4]",
		},
		{
			name:   "FramelessImmediate",
			opcode: 0x02040000 | 2<<10 | 4,
			want: X86{
				Kind:      KindX86FramelessImmediate,
				StackSize: 16,
				Registers: [6]RegisterX86{EBX, EBP},
			},
			str: "CFA=reg7+16: reg16=[CFA-4], reg5=[CFA-8], reg3=[CFA-12]",
		},
		{
			name:   "FramelessIndirect",
			opcode: 0x03000000,
			want:   X86{Kind: KindX86FramelessIndirect},
			str:    "frameless indirect",
		},
		{
			name:   "Dwarf",
			opcode: 0x04123456,
			want:   X86{Kind: KindX86Dwarf, FDEOffset: 0x123456},
			str:    "(check eh_frame FDE 0x123456)",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, ok := ParseX86(test.opcode)
			if !ok {
				t.Fatalf("ParseX86(%#08x) failed", test.opcode)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("ParseX86(%#08x) (-want +got):\n%s", test.opcode, diff)
			}
			if got := got.String(); got != test.str {
				t.Errorf("ParseX86(%#08x).String() = %q; want %q", test.opcode, got, test.str)
			}
		})
	}
}

func TestParseX86_64(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint32
		want   X86_64
		str    string
	}{
		{
			name:   "FrameBased",
			opcode: 0x01030000 | uint32(R12)<<6 | uint32(RBX)<<3 | uint32(R15),
			want: X86_64{
				Kind:        KindX86FrameBased,
				StackOffset: 24,
				Registers:   [6]RegisterX86_64{R15, RBX, R12},
			},
			str: "CFA=reg6+16: reg6=[CFA-16], reg16=[CFA-8], reg15=[CFA-40], reg3=[CFA-32], reg12=[CFA-24]",
		},
		{
			name:   "FramelessImmediate",
			opcode: 0x02040000 | 2<<10 | 4,
			want: X86_64{
				Kind:      KindX86FramelessImmediate,
				StackSize: 32,
				Registers: [6]RegisterX86_64{RBX, RBP},
			},
			str: "CFA=reg7+32: reg16=[CFA-8], reg6=[CFA-16], reg3=[CFA-24]",
		},
		{
			name:   "FramelessImmediateLeaf",
			opcode: 0x02010000,
			want: X86_64{
				Kind:      KindX86FramelessImmediate,
				StackSize: 8,
			},
			str: "CFA=reg7+8: reg16=[CFA-8]",
		},
		{
			name:   "Dwarf",
			opcode: 0x44000abc,
			want:   X86_64{Kind: KindX86Dwarf, FDEOffset: 0xabc},
			str:    "(check eh_frame FDE 0xabc)",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, ok := ParseX86_64(test.opcode)
			if !ok {
				t.Fatalf("ParseX86_64(%#08x) failed", test.opcode)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("ParseX86_64(%#08x) (-want +got):\n%s", test.opcode, diff)
			}
			if got := got.String(); got != test.str {
				t.Errorf("ParseX86_64(%#08x).String() = %q; want %q", test.opcode, got, test.str)
			}
		})
	}
}

func TestParseX86Invalid(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint32
	}{
		{"UnknownKind", 0x05000000},
		{"TooManyRegisters", 0x02000000 | 7<<10},
		{"PermutationOutOfRange", 0x02000000 | 1<<10 | 6},
	}
	for _, test := range tests {
		if got, ok := ParseX86(test.opcode); ok {
			t.Errorf("%s: ParseX86(%#08x) = %+v, true; want failure", test.name, test.opcode, got)
		}
		if got, ok := ParseX86_64(test.opcode); ok {
			t.Errorf("%s: ParseX86_64(%#08x) = %+v, true; want failure", test.name, test.opcode, got)
		}
	}
}

func TestParseARM64(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint32
		want   ARM64
		str    string
	}{
		{
			name:   "FrameBased",
			opcode: 0x04000101,
			want:   ARM64{Kind: KindARM64FrameBased, SavedPairs: X19X20 | D8D9},
			str:    "CFA=reg29+16: reg29=[CFA-16], reg30=[CFA-8], reg19=[CFA-24], reg20=[CFA-32], reg72=[CFA-40], reg73=[CFA-48]",
		},
		{
			name:   "Frameless",
			opcode: 0x02001000,
			want:   ARM64{Kind: KindARM64Frameless, StackSize: 16},
			str:    "CFA=reg31+16: reg32=reg30",
		},
		{
			name:   "FramelessLeaf",
			opcode: 0x02000000,
			want:   ARM64{Kind: KindARM64Frameless},
			str:    "CFA=reg31: reg32=reg30",
		},
		{
			name:   "Dwarf",
			opcode: 0x03000abc,
			want:   ARM64{Kind: KindARM64Dwarf, FDEOffset: 0xabc},
			str:    "(check eh_frame FDE 0xabc)",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, ok := ParseARM64(test.opcode)
			if !ok {
				t.Fatalf("ParseARM64(%#08x) failed", test.opcode)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("ParseARM64(%#08x) (-want +got):\n%s", test.opcode, diff)
			}
			if got := got.String(); got != test.str {
				t.Errorf("ParseARM64(%#08x).String() = %q; want %q", test.opcode, got, test.str)
			}
		})
	}

	if got, ok := ParseARM64(0x01000000); ok {
		t.Errorf("ParseARM64(0x01000000) = %+v, true; want failure", got)
	}
	if got, want := (X19X20 | X27X28 | D14D15).String(), "x19/x20,x27/x28,d14/d15"; got != want {
		t.Errorf("pairs.String() = %q; want %q", got, want)
	}
	if got := (X21X22 | D10D11).Len(); got != 2 {
		t.Errorf("pairs.Len() = %d; want 2", got)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		arch   Arch
		opcode uint32
		want   string
		ok     bool
	}{
		{ArchX86, 0x01020008, "CFA=reg6+8: reg6=[CFA-8], reg16=[CFA-4], reg3=[CFA-12]", true},
		{ArchX86_64, 0x03000000, "frameless indirect", true},
		{ArchARM64, 0x03000abc, "(check eh_frame FDE 0xabc)", true},
		{ArchARM64, 0x01000000, "", false},
		{Arch(0), 0, "", false},
	}
	for _, test := range tests {
		got, ok := Decode(test.arch, test.opcode)
		if ok != test.ok {
			t.Errorf("Decode(%v, %#08x) ok = %t; want %t", test.arch, test.opcode, ok, test.ok)
			continue
		}
		if !ok {
			if got != nil {
				t.Errorf("Decode(%v, %#08x) = %v; want nil", test.arch, test.opcode, got)
			}
			continue
		}
		if got.String() != test.want {
			t.Errorf("Decode(%v, %#08x) = %q; want %q", test.arch, test.opcode, got, test.want)
		}
	}
}

func TestParseArch(t *testing.T) {
	tests := []struct {
		name string
		want Arch
	}{
		{"i386", ArchX86},
		{"x86_64", ArchX86_64},
		{"amd64", ArchX86_64},
		{"arm64", ArchARM64},
		{"aarch64", ArchARM64},
	}
	for _, test := range tests {
		got, err := ParseArch(test.name)
		if err != nil || got != test.want {
			t.Errorf("ParseArch(%q) = %v, %v; want %v, <nil>", test.name, got, err, test.want)
		}
	}
	if _, err := ParseArch("riscv64"); err == nil {
		t.Error("ParseArch(\"riscv64\") did not return an error")
	}
}
