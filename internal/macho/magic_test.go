// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package macho

import (
	"testing"

	"zb.256lights.llc/unwindinfo/internal/unwindtest"
)

func TestMagic(t *testing.T) {
	arm64, err := (&unwindtest.Image{CPU: unwindtest.CPUARM64}).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	i386, err := (&unwindtest.Image{CPU: unwindtest.CPUI386, Is32Bit: true}).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	universal := unwindtest.MarshalUniversal([]unwindtest.FatArch{{CPU: unwindtest.CPUARM64, Data: arm64}})

	tests := []struct {
		name               string
		data               []byte
		singleArchitecture bool
		universal          bool
	}{
		{
			name:               "ARM64",
			data:               arm64,
			singleArchitecture: true,
		},
		{
			name:               "I386",
			data:               i386,
			singleArchitecture: true,
		},
		{
			name:      "Universal",
			data:      universal,
			universal: true,
		},
		{
			name: "Short",
			data: arm64[:3],
		},
		{
			name: "ELF",
			data: []byte("\x7fELF"),
		},
	}

	for _, test := range tests {
		if got, want := IsSingleArchitecture(test.data), test.singleArchitecture; got != want {
			t.Errorf("IsSingleArchitecture(%s) = %t; want %t", test.name, got, want)
		}
		if got, want := IsUniversal(test.data), test.universal; got != want {
			t.Errorf("IsUniversal(%s) = %t; want %t", test.name, got, want)
		}
	}
}
