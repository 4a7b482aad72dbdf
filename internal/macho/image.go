// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package macho

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Image is the load command information of a single-architecture Mach-O file
// that is needed to locate its sections.
type Image struct {
	Header *FileHeader
	// UUID is the value of the LC_UUID command
	// or [uuid.Nil] if the image does not have one.
	UUID     uuid.UUID
	Sections []Section
}

// Section is a section inside an LC_SEGMENT or LC_SEGMENT_64 command.
type Section struct {
	Name    string
	Segment string
	// Addr is the virtual memory address of the section.
	Addr uint64
	Size uint64
	// Offset is the offset in bytes from the beginning of the image
	// to the section's data.
	Offset uint32
}

const (
	segmentCommandSize   = 56
	segment64CommandSize = 72
	sectionSize          = 68
	section64Size        = 80
	uuidCommandSize      = 24
)

// ReadImage reads the header and load commands of a Mach-O single architecture file.
func ReadImage(r io.Reader) (*Image, error) {
	hdr, cr, err := ReadFileHeader(r)
	if err != nil {
		return nil, err
	}
	is64 := hdr.AddressWidth == 64
	if hdr.CPU.Is64Bit() != is64 {
		return nil, fmt.Errorf("read mach-o image: %v CPU in %d-bit image", hdr.CPU, hdr.AddressWidth)
	}
	img := &Image{Header: hdr}
	for cr.Next() {
		body, err := readCommand(cr)
		if err != nil {
			return nil, err
		}
		cmd, _ := cr.Command()
		switch cmd {
		case LoadCmdSegment, LoadCmdSegment64:
			if (cmd == LoadCmdSegment64) != is64 {
				return nil, fmt.Errorf("read mach-o image: %v in %d-bit image", cmd, hdr.AddressWidth)
			}
			n := len(img.Sections)
			img.Sections, err = appendSections(img.Sections, body, hdr.ByteOrder, is64)
			if err != nil {
				return nil, err
			}
			for _, sect := range img.Sections[n:] {
				if sect.Offset != 0 && int64(sect.Offset) < hdr.DataOffset() {
					return nil, fmt.Errorf("read mach-o section %s,%s: offset 0x%x overlaps load commands", sect.Segment, sect.Name, sect.Offset)
				}
			}
		case LoadCmdUUID:
			if len(body) < uuidCommandSize {
				return nil, fmt.Errorf("read mach-o load command: %v too small (%d bytes)", cmd, len(body))
			}
			img.UUID, err = uuid.FromBytes(body[loadCommandFixedSize:uuidCommandSize])
			if err != nil {
				return nil, err
			}
		}
	}
	if err := cr.Err(); err != nil {
		return nil, err
	}
	return img, nil
}

// readCommand reads the whole of the current load command,
// including its type and size.
func readCommand(cr *CommandReader) ([]byte, error) {
	var fixed [loadCommandFixedSize]byte
	if _, err := io.ReadFull(cr, fixed[:]); err != nil {
		return nil, fmt.Errorf("read mach-o load command: %w", err)
	}
	size, ok := cr.Size()
	if !ok {
		if err := cr.Err(); err != nil {
			return nil, err
		}
		return nil, errCommandSizeTooSmall
	}
	body := make([]byte, size)
	copy(body, fixed[:])
	if _, err := io.ReadFull(cr, body[loadCommandFixedSize:]); err != nil {
		return nil, fmt.Errorf("read mach-o load command: %w", err)
	}
	return body, nil
}

func appendSections(dst []Section, cmd []byte, byteOrder binary.ByteOrder, is64 bool) ([]Section, error) {
	fixedSize, entrySize := segmentCommandSize, sectionSize
	nsectsOffset := 48
	if is64 {
		fixedSize, entrySize = segment64CommandSize, section64Size
		nsectsOffset = 64
	}
	if len(cmd) < fixedSize {
		return dst, fmt.Errorf("read mach-o segment: command too small (%d bytes)", len(cmd))
	}
	segment := parseCString(cmd[8:24])
	n := uint64(byteOrder.Uint32(cmd[nsectsOffset:]))
	if uint64(len(cmd)-fixedSize) < n*uint64(entrySize) {
		return dst, fmt.Errorf("read mach-o segment %s: %d sections do not fit in command", segment, n)
	}
	for i := range int(n) {
		data := cmd[fixedSize+i*entrySize:][:entrySize]
		sect := Section{
			Name:    parseCString(data[:16]),
			Segment: parseCString(data[16:32]),
		}
		if is64 {
			sect.Addr = byteOrder.Uint64(data[32:])
			sect.Size = byteOrder.Uint64(data[40:])
			sect.Offset = byteOrder.Uint32(data[48:])
		} else {
			sect.Addr = uint64(byteOrder.Uint32(data[32:]))
			sect.Size = uint64(byteOrder.Uint32(data[36:]))
			sect.Offset = byteOrder.Uint32(data[40:])
		}
		dst = append(dst, sect)
	}
	return dst, nil
}

// Section returns the first section with the given segment and section name
// or nil if no such section exists.
func (img *Image) Section(segment, name string) *Section {
	for i := range img.Sections {
		if sect := &img.Sections[i]; sect.Segment == segment && sect.Name == name {
			return sect
		}
	}
	return nil
}

// Data returns the section's contents
// from the bytes of the image that contains it.
func (sect *Section) Data(image []byte) ([]byte, error) {
	end := uint64(sect.Offset) + sect.Size
	if end > uint64(len(image)) {
		return nil, fmt.Errorf("read %s,%s: %v", sect.Segment, sect.Name, io.ErrUnexpectedEOF)
	}
	return image[sect.Offset:end], nil
}

// parseCString returns the bytes of a fixed-size name field up to the first NUL.
func parseCString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
