// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package raw provides views over the structures
// of a Mach-O __unwind_info section.
//
// Every view borrows the section data passed to it
// and decodes fields on demand.
// Accessors validate only what they need to read,
// so a caller that touches a single page pays only for that page.
// Methods that take a data argument must be passed
// the same section data the view was created from.
package raw

import "encoding/binary"

// HeaderSize is the size in bytes of the section header.
const HeaderSize = 28

// Header is the fixed-size record at the start of the section.
type Header struct {
	Version uint32

	GlobalOpcodesOffset uint32
	GlobalOpcodesLen    uint32

	PersonalitiesOffset uint32
	PersonalitiesLen    uint32

	PagesOffset uint32
	PagesLen    uint32
}

// ParseHeader reads the section header from the start of data.
func ParseHeader(data []byte) (Header, error) {
	b, err := reader{data}.slice(0, 1, HeaderSize, ReadErrorHeader)
	if err != nil {
		return Header{}, err
	}
	return Header{
		Version:             binary.LittleEndian.Uint32(b),
		GlobalOpcodesOffset: binary.LittleEndian.Uint32(b[4:]),
		GlobalOpcodesLen:    binary.LittleEndian.Uint32(b[8:]),
		PersonalitiesOffset: binary.LittleEndian.Uint32(b[12:]),
		PersonalitiesLen:    binary.LittleEndian.Uint32(b[16:]),
		PagesOffset:         binary.LittleEndian.Uint32(b[20:]),
		PagesLen:            binary.LittleEndian.Uint32(b[24:]),
	}, nil
}

// GlobalOpcodes returns the opcodes shared by all pages.
func (hdr Header) GlobalOpcodes(data []byte) (Opcodes, error) {
	b, err := reader{data}.slice(uint64(hdr.GlobalOpcodesOffset), uint64(hdr.GlobalOpcodesLen), 4, ReadErrorGlobalOpcodes)
	return Opcodes{b}, err
}

// Personalities returns the personality function table.
// Each element is the image-relative address
// of a pointer to a personality routine.
func (hdr Header) Personalities(data []byte) (Opcodes, error) {
	b, err := reader{data}.slice(uint64(hdr.PersonalitiesOffset), uint64(hdr.PersonalitiesLen), 4, ReadErrorPersonalities)
	return Opcodes{b}, err
}

// Pages returns the page entry table, including the trailing sentinel entry.
func (hdr Header) Pages(data []byte) (PageEntries, error) {
	b, err := reader{data}.slice(uint64(hdr.PagesOffset), uint64(hdr.PagesLen), PageEntrySize, ReadErrorPages)
	return PageEntries{b}, err
}

// Opcodes is a view of an array of 32-bit little-endian words.
type Opcodes struct {
	b []byte
}

// Len returns the number of words in the array.
func (ops Opcodes) Len() int {
	return len(ops.b) / 4
}

// At returns the i'th word.
// At panics if i is out of range.
func (ops Opcodes) At(i int) uint32 {
	return binary.LittleEndian.Uint32(ops.b[i*4:])
}

// PageEntrySize is the size in bytes of a [PageEntry].
const PageEntrySize = 12

// PageEntry is a record in the first-level index.
type PageEntry struct {
	// FirstAddress is the lowest address covered by the page.
	// For the sentinel entry, it is the address just past the last function.
	FirstAddress uint32
	// PageOffset is the section offset of the page body.
	PageOffset uint32
	// LSDAIndexOffset is the section offset of the page's first LSDA index entry.
	LSDAIndexOffset uint32
}

// Kind reads the kind of the page that the entry points to.
func (ent PageEntry) Kind(data []byte) (PageKind, error) {
	k, err := reader{data}.uint32(uint64(ent.PageOffset), ReadErrorPageKind)
	return PageKind(k), err
}

// LSDAs returns the LSDA index entries for the page.
// next must be the entry that follows ent in the page table.
func (ent PageEntry) LSDAs(data []byte, next PageEntry) (LSDAEntries, error) {
	if next.LSDAIndexOffset < ent.LSDAIndexOffset {
		return LSDAEntries{}, ReadErrorLSDAIndex
	}
	n := (next.LSDAIndexOffset - ent.LSDAIndexOffset) / LSDAEntrySize
	b, err := reader{data}.slice(uint64(ent.LSDAIndexOffset), uint64(n), LSDAEntrySize, ReadErrorLSDAIndex)
	return LSDAEntries{b}, err
}

// PageEntries is a view of the page entry table.
type PageEntries struct {
	b []byte
}

// Len returns the number of entries in the table.
func (pages PageEntries) Len() int {
	return len(pages.b) / PageEntrySize
}

// At returns the i'th entry.
// At panics if i is out of range.
func (pages PageEntries) At(i int) PageEntry {
	b := pages.b[i*PageEntrySize : (i+1)*PageEntrySize]
	return PageEntry{
		FirstAddress:    binary.LittleEndian.Uint32(b),
		PageOffset:      binary.LittleEndian.Uint32(b[4:]),
		LSDAIndexOffset: binary.LittleEndian.Uint32(b[8:]),
	}
}

// FirstAddress returns the first address of the i'th entry
// without decoding the rest of the entry.
func (pages PageEntries) FirstAddress(i int) uint32 {
	return binary.LittleEndian.Uint32(pages.b[i*PageEntrySize:])
}

// LSDAEntrySize is the size in bytes of an [LSDAEntry].
const LSDAEntrySize = 8

// LSDAEntry associates a function with its language-specific data area.
type LSDAEntry struct {
	FunctionAddress uint32
	LSDAAddress     uint32
}

// LSDAEntries is a view of a run of the LSDA index, sorted by function address.
type LSDAEntries struct {
	b []byte
}

// Len returns the number of entries.
func (lsdas LSDAEntries) Len() int {
	return len(lsdas.b) / LSDAEntrySize
}

// At returns the i'th entry.
// At panics if i is out of range.
func (lsdas LSDAEntries) At(i int) LSDAEntry {
	b := lsdas.b[i*LSDAEntrySize : (i+1)*LSDAEntrySize]
	return LSDAEntry{
		FunctionAddress: binary.LittleEndian.Uint32(b),
		LSDAAddress:     binary.LittleEndian.Uint32(b[4:]),
	}
}
