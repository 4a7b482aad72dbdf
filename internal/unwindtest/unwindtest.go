// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package unwindtest encodes __unwind_info sections and Mach-O images for tests.
package unwindtest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
)

// Section describes an __unwind_info section to encode.
type Section struct {
	// Version defaults to 1 if zero.
	Version       uint32
	GlobalOpcodes []uint32
	Personalities []uint32
	Pages         []Page
	// EndAddress is the first address of the sentinel page entry.
	EndAddress uint32
}

// Page describes one second-level page.
type Page struct {
	// FirstAddress is stored in the page entry.
	// If zero, the address of the first function is used.
	FirstAddress uint32
	Compressed   bool
	// Kind overrides the page kind tag if non-zero.
	Kind      uint32
	Functions []Function
	// LocalOpcodes is the initial local opcode table of a compressed page.
	// Opcodes referenced by functions that are not global
	// and not already present are appended.
	LocalOpcodes []uint32
}

// Function describes one function entry.
type Function struct {
	Address uint32
	Opcode  uint32
	// LSDA is the address of the function's language-specific data area.
	// Zero means the function has none.
	LSDA uint32
	// OpcodeIndex, if not nil, is written instead of the resolved opcode index
	// in a compressed page.
	OpcodeIndex *int
}

// Index returns a pointer to i for use as [Function.OpcodeIndex].
func Index(i int) *int {
	return &i
}

const (
	headerSize         = 28
	pageEntrySize      = 12
	lsdaEntrySize      = 8
	regularPageSize    = 8
	compressedPageSize = 12
)

// MarshalBinary encodes the section.
func (s *Section) MarshalBinary() ([]byte, error) {
	version := s.Version
	if version == 0 {
		version = 1
	}

	globalOpcodesOffset := headerSize
	personalitiesOffset := globalOpcodesOffset + 4*len(s.GlobalOpcodes)
	pagesOffset := personalitiesOffset + 4*len(s.Personalities)
	lsdaOffset := pagesOffset + pageEntrySize*(len(s.Pages)+1)
	var lsdaCount int
	for _, page := range s.Pages {
		for _, f := range page.Functions {
			if f.LSDA != 0 {
				lsdaCount++
			}
		}
	}
	bodiesOffset := lsdaOffset + lsdaEntrySize*lsdaCount

	buf := make([]byte, bodiesOffset)
	binary.LittleEndian.PutUint32(buf, version)
	binary.LittleEndian.PutUint32(buf[4:], uint32(globalOpcodesOffset))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(s.GlobalOpcodes)))
	binary.LittleEndian.PutUint32(buf[12:], uint32(personalitiesOffset))
	binary.LittleEndian.PutUint32(buf[16:], uint32(len(s.Personalities)))
	binary.LittleEndian.PutUint32(buf[20:], uint32(pagesOffset))
	binary.LittleEndian.PutUint32(buf[24:], uint32(len(s.Pages)+1))
	for i, op := range s.GlobalOpcodes {
		binary.LittleEndian.PutUint32(buf[globalOpcodesOffset+4*i:], op)
	}
	for i, p := range s.Personalities {
		binary.LittleEndian.PutUint32(buf[personalitiesOffset+4*i:], p)
	}

	nextLSDA := lsdaOffset
	for i, page := range s.Pages {
		firstAddress := page.FirstAddress
		if firstAddress == 0 && len(page.Functions) > 0 {
			firstAddress = page.Functions[0].Address
		}
		entry := buf[pagesOffset+pageEntrySize*i:]
		binary.LittleEndian.PutUint32(entry, firstAddress)
		binary.LittleEndian.PutUint32(entry[4:], uint32(len(buf)))
		binary.LittleEndian.PutUint32(entry[8:], uint32(nextLSDA))
		for _, f := range page.Functions {
			if f.LSDA != 0 {
				binary.LittleEndian.PutUint32(buf[nextLSDA:], f.Address)
				binary.LittleEndian.PutUint32(buf[nextLSDA+4:], f.LSDA)
				nextLSDA += lsdaEntrySize
			}
		}

		var err error
		if page.Compressed {
			buf, err = s.appendCompressedPage(buf, firstAddress, &page)
		} else {
			buf, err = appendRegularPage(buf, &page)
		}
		if err != nil {
			return nil, fmt.Errorf("marshal unwind info: page %d: %v", i, err)
		}
		if len(buf) > math.MaxUint32 {
			return nil, errors.New("marshal unwind info: section too large")
		}
	}

	sentinel := buf[pagesOffset+pageEntrySize*len(s.Pages):]
	binary.LittleEndian.PutUint32(sentinel, s.EndAddress)
	binary.LittleEndian.PutUint32(sentinel[8:], uint32(nextLSDA))
	return buf, nil
}

func appendRegularPage(dst []byte, page *Page) ([]byte, error) {
	if len(page.Functions) > math.MaxUint16 {
		return dst, fmt.Errorf("too many functions (%d)", len(page.Functions))
	}
	kind := page.Kind
	if kind == 0 {
		kind = 2
	}
	dst = binary.LittleEndian.AppendUint32(dst, kind)
	dst = binary.LittleEndian.AppendUint16(dst, regularPageSize)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(page.Functions)))
	for _, f := range page.Functions {
		dst = binary.LittleEndian.AppendUint32(dst, f.Address)
		dst = binary.LittleEndian.AppendUint32(dst, f.Opcode)
	}
	return dst, nil
}

func (s *Section) appendCompressedPage(dst []byte, firstAddress uint32, page *Page) ([]byte, error) {
	local := slices.Clone(page.LocalOpcodes)
	entries := make([]uint32, 0, len(page.Functions))
	for _, f := range page.Functions {
		if f.Address < firstAddress || f.Address-firstAddress > 0x00ffffff {
			return dst, fmt.Errorf("function 0x%x out of range for compressed page at 0x%x", f.Address, firstAddress)
		}
		var index int
		if f.OpcodeIndex != nil {
			index = *f.OpcodeIndex
		} else if i := slices.Index(s.GlobalOpcodes, f.Opcode); i >= 0 {
			index = i
		} else if i := slices.Index(local, f.Opcode); i >= 0 {
			index = len(s.GlobalOpcodes) + i
		} else {
			index = len(s.GlobalOpcodes) + len(local)
			local = append(local, f.Opcode)
		}
		if index < 0 || index > 0xff {
			return dst, fmt.Errorf("opcode index %d out of range", index)
		}
		entries = append(entries, uint32(index)<<24|(f.Address-firstAddress))
	}
	entriesOffset := compressedPageSize
	localOffset := entriesOffset + 4*len(entries)
	if localOffset+4*len(local) > math.MaxUint16 {
		return dst, errors.New("compressed page too large")
	}

	kind := page.Kind
	if kind == 0 {
		kind = 3
	}
	dst = binary.LittleEndian.AppendUint32(dst, kind)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(entriesOffset))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(entries)))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(localOffset))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(local)))
	for _, ent := range entries {
		dst = binary.LittleEndian.AppendUint32(dst, ent)
	}
	for _, op := range local {
		dst = binary.LittleEndian.AppendUint32(dst, op)
	}
	return dst, nil
}

// MustMarshal is like [*Section.MarshalBinary] but panics on error.
func (s *Section) MustMarshal() []byte {
	data, err := s.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return data
}
