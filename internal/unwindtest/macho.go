// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package unwindtest

import (
	"encoding/binary"
)

// CPU types used by [Image].
const (
	CPUI386   uint32 = 0x00000007
	CPUX86_64 uint32 = 0x01000007
	CPUARM64  uint32 = 0x0100000c
)

// Image describes a minimal little-endian Mach-O executable
// whose __TEXT segment holds an __unwind_info section.
type Image struct {
	CPU uint32
	// Is32Bit selects the 32-bit header and LC_SEGMENT layout.
	Is32Bit bool
	// UUID is written in an LC_UUID command if non-nil.
	UUID []byte
	// TextAddress is the virtual address of the __TEXT segment.
	TextAddress uint64
	UnwindInfo  []byte
}

const (
	loadCmdSegment   = 0x1
	loadCmdSegment64 = 0x19
	loadCmdUUID      = 0x1b
)

// MarshalBinary encodes the image.
func (img *Image) MarshalBinary() ([]byte, error) {
	var cmds []byte
	ncmds := uint32(0)
	if img.UUID != nil {
		cmds = binary.LittleEndian.AppendUint32(cmds, loadCmdUUID)
		cmds = binary.LittleEndian.AppendUint32(cmds, 24)
		var u [16]byte
		copy(u[:], img.UUID)
		cmds = append(cmds, u[:]...)
		ncmds++
	}

	headerSize := 32
	segmentSize := 72 + 80
	if img.Is32Bit {
		headerSize = 28
		segmentSize = 56 + 68
	}
	dataOffset := uint64(headerSize + len(cmds) + segmentSize)
	size := uint64(len(img.UnwindInfo))

	if img.Is32Bit {
		cmds = binary.LittleEndian.AppendUint32(cmds, loadCmdSegment)
		cmds = binary.LittleEndian.AppendUint32(cmds, uint32(segmentSize))
		cmds = appendName(cmds, "__TEXT")
		cmds = binary.LittleEndian.AppendUint32(cmds, uint32(img.TextAddress))
		cmds = binary.LittleEndian.AppendUint32(cmds, uint32(dataOffset+size))
		cmds = binary.LittleEndian.AppendUint32(cmds, 0)
		cmds = binary.LittleEndian.AppendUint32(cmds, uint32(dataOffset+size))
		cmds = binary.LittleEndian.AppendUint32(cmds, 5) // maxprot
		cmds = binary.LittleEndian.AppendUint32(cmds, 5) // initprot
		cmds = binary.LittleEndian.AppendUint32(cmds, 1) // nsects
		cmds = binary.LittleEndian.AppendUint32(cmds, 0) // flags

		cmds = appendName(cmds, "__unwind_info")
		cmds = appendName(cmds, "__TEXT")
		cmds = binary.LittleEndian.AppendUint32(cmds, uint32(img.TextAddress+dataOffset))
		cmds = binary.LittleEndian.AppendUint32(cmds, uint32(size))
		cmds = binary.LittleEndian.AppendUint32(cmds, uint32(dataOffset))
		cmds = append(cmds, make([]byte, 4*6)...) // align, reloff, nreloc, flags, reserved1, reserved2
	} else {
		cmds = binary.LittleEndian.AppendUint32(cmds, loadCmdSegment64)
		cmds = binary.LittleEndian.AppendUint32(cmds, uint32(segmentSize))
		cmds = appendName(cmds, "__TEXT")
		cmds = binary.LittleEndian.AppendUint64(cmds, img.TextAddress)
		cmds = binary.LittleEndian.AppendUint64(cmds, dataOffset+size)
		cmds = binary.LittleEndian.AppendUint64(cmds, 0)
		cmds = binary.LittleEndian.AppendUint64(cmds, dataOffset+size)
		cmds = binary.LittleEndian.AppendUint32(cmds, 5)
		cmds = binary.LittleEndian.AppendUint32(cmds, 5)
		cmds = binary.LittleEndian.AppendUint32(cmds, 1)
		cmds = binary.LittleEndian.AppendUint32(cmds, 0)

		cmds = appendName(cmds, "__unwind_info")
		cmds = appendName(cmds, "__TEXT")
		cmds = binary.LittleEndian.AppendUint64(cmds, img.TextAddress+dataOffset)
		cmds = binary.LittleEndian.AppendUint64(cmds, size)
		cmds = binary.LittleEndian.AppendUint32(cmds, uint32(dataOffset))
		cmds = append(cmds, make([]byte, 4*7)...) // align, reloff, nreloc, flags, reserved1-3
	}
	ncmds++

	var buf []byte
	if img.Is32Bit {
		buf = binary.LittleEndian.AppendUint32(buf, 0xfeedface)
	} else {
		buf = binary.LittleEndian.AppendUint32(buf, 0xfeedfacf)
	}
	buf = binary.LittleEndian.AppendUint32(buf, img.CPU)
	buf = binary.LittleEndian.AppendUint32(buf, 0) // cpusubtype
	buf = binary.LittleEndian.AppendUint32(buf, 2) // MH_EXECUTE
	buf = binary.LittleEndian.AppendUint32(buf, ncmds)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(cmds)))
	buf = binary.LittleEndian.AppendUint32(buf, 0) // flags
	if !img.Is32Bit {
		buf = binary.LittleEndian.AppendUint32(buf, 0) // reserved
	}
	buf = append(buf, cmds...)
	buf = append(buf, img.UnwindInfo...)
	return buf, nil
}

func appendName(dst []byte, name string) []byte {
	var b [16]byte
	copy(b[:], name)
	return append(dst, b[:]...)
}

// FatArch is one slice of a universal binary.
type FatArch struct {
	CPU  uint32
	Data []byte
}

// MarshalUniversal encodes a universal (fat) Mach-O file
// containing the given slices, each aligned to 16 bytes.
func MarshalUniversal(archs []FatArch) []byte {
	const align = 4
	buf := binary.BigEndian.AppendUint32(nil, 0xcafebabe)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(archs)))
	offset := uint32(8 + 20*len(archs))
	offsets := make([]uint32, len(archs))
	for i, arch := range archs {
		offset = (offset + 1<<align - 1) &^ (1<<align - 1)
		offsets[i] = offset
		buf = binary.BigEndian.AppendUint32(buf, arch.CPU)
		buf = binary.BigEndian.AppendUint32(buf, 0)
		buf = binary.BigEndian.AppendUint32(buf, offset)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(arch.Data)))
		buf = binary.BigEndian.AppendUint32(buf, align)
		offset += uint32(len(arch.Data))
	}
	for i, arch := range archs {
		buf = append(buf, make([]byte, int(offsets[i])-len(buf))...)
		buf = append(buf, arch.Data...)
	}
	return buf
}
