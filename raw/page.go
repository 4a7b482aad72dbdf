// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package raw

import (
	"encoding/binary"
	"fmt"
)

// PageKind is the tag at the start of every page body.
type PageKind uint32

// Known [PageKind] values.
const (
	PageKindSentinel   PageKind = 1
	PageKindRegular    PageKind = 2
	PageKindCompressed PageKind = 3
)

// String returns the name of the page kind.
func (k PageKind) String() string {
	switch k {
	case PageKindSentinel:
		return "sentinel"
	case PageKindRegular:
		return "regular"
	case PageKindCompressed:
		return "compressed"
	default:
		return fmt.Sprintf("PageKind(%d)", uint32(k))
	}
}

// RegularPageSize is the size in bytes of a regular page header.
const RegularPageSize = 8

// RegularPage is the header of a page
// whose entries store full addresses and opcodes.
type RegularPage struct {
	// EntriesOffset is the offset of the entry array relative to the page.
	EntriesOffset uint16
	EntriesLen    uint16
}

// ParseRegularPage reads the regular page header at pageOffset.
func ParseRegularPage(data []byte, pageOffset uint32) (RegularPage, error) {
	b, err := reader{data}.slice(uint64(pageOffset), 1, RegularPageSize, ReadErrorRegularPage)
	if err != nil {
		return RegularPage{}, err
	}
	return RegularPage{
		EntriesOffset: binary.LittleEndian.Uint16(b[4:]),
		EntriesLen:    binary.LittleEndian.Uint16(b[6:]),
	}, nil
}

// Functions returns the page's function entries.
func (page RegularPage) Functions(data []byte, pageOffset uint32) (RegularFunctions, error) {
	offset := uint64(pageOffset) + uint64(page.EntriesOffset)
	b, err := reader{data}.slice(offset, uint64(page.EntriesLen), RegularFunctionEntrySize, ReadErrorRegularPageFunctions)
	return RegularFunctions{b}, err
}

// RegularFunctionEntrySize is the size in bytes of a [RegularFunctionEntry].
const RegularFunctionEntrySize = 8

// RegularFunctionEntry is a function record in a regular page.
type RegularFunctionEntry struct {
	Address uint32
	Opcode  uint32
}

// RegularFunctions is a view of a regular page's entries,
// sorted by address.
type RegularFunctions struct {
	b []byte
}

// Len returns the number of entries.
func (fns RegularFunctions) Len() int {
	return len(fns.b) / RegularFunctionEntrySize
}

// At returns the i'th entry.
// At panics if i is out of range.
func (fns RegularFunctions) At(i int) RegularFunctionEntry {
	b := fns.b[i*RegularFunctionEntrySize : (i+1)*RegularFunctionEntrySize]
	return RegularFunctionEntry{
		Address: binary.LittleEndian.Uint32(b),
		Opcode:  binary.LittleEndian.Uint32(b[4:]),
	}
}

// Address returns the address of the i'th entry.
func (fns RegularFunctions) Address(i int) uint32 {
	return binary.LittleEndian.Uint32(fns.b[i*RegularFunctionEntrySize:])
}

// CompressedPageSize is the size in bytes of a compressed page header.
const CompressedPageSize = 12

// CompressedPage is the header of a page
// whose entries pack a page-relative address and an opcode index into 32 bits.
type CompressedPage struct {
	// EntriesOffset is the offset of the entry array relative to the page.
	EntriesOffset uint16
	EntriesLen    uint16
	// LocalOpcodesOffset is the offset of the page's opcode array relative to the page.
	LocalOpcodesOffset uint16
	LocalOpcodesLen    uint16
}

// ParseCompressedPage reads the compressed page header at pageOffset.
func ParseCompressedPage(data []byte, pageOffset uint32) (CompressedPage, error) {
	b, err := reader{data}.slice(uint64(pageOffset), 1, CompressedPageSize, ReadErrorCompressedPage)
	if err != nil {
		return CompressedPage{}, err
	}
	return CompressedPage{
		EntriesOffset:      binary.LittleEndian.Uint16(b[4:]),
		EntriesLen:         binary.LittleEndian.Uint16(b[6:]),
		LocalOpcodesOffset: binary.LittleEndian.Uint16(b[8:]),
		LocalOpcodesLen:    binary.LittleEndian.Uint16(b[10:]),
	}, nil
}

// Functions returns the page's function entries.
func (page CompressedPage) Functions(data []byte, pageOffset uint32) (CompressedFunctions, error) {
	offset := uint64(pageOffset) + uint64(page.EntriesOffset)
	b, err := reader{data}.slice(offset, uint64(page.EntriesLen), 4, ReadErrorCompressedPageFunctions)
	return CompressedFunctions{b}, err
}

// LocalOpcodes returns the opcodes private to the page.
// Opcode indices in the page's entries address the global opcodes first,
// followed by these.
func (page CompressedPage) LocalOpcodes(data []byte, pageOffset uint32) (Opcodes, error) {
	offset := uint64(pageOffset) + uint64(page.LocalOpcodesOffset)
	b, err := reader{data}.slice(offset, uint64(page.LocalOpcodesLen), 4, ReadErrorLocalOpcodes)
	return Opcodes{b}, err
}

// CompressedFunctionEntry is a packed function record in a compressed page.
type CompressedFunctionEntry uint32

// RelativeAddress returns the function's address
// relative to the page entry's first address.
func (ent CompressedFunctionEntry) RelativeAddress() uint32 {
	return uint32(ent) & 0x00ffffff
}

// OpcodeIndex returns the index of the function's opcode
// in the concatenation of the global and local opcode arrays.
func (ent CompressedFunctionEntry) OpcodeIndex() int {
	return int(ent >> 24)
}

// CompressedFunctions is a view of a compressed page's entries,
// sorted by relative address.
type CompressedFunctions struct {
	b []byte
}

// Len returns the number of entries.
func (fns CompressedFunctions) Len() int {
	return len(fns.b) / 4
}

// At returns the i'th entry.
// At panics if i is out of range.
func (fns CompressedFunctions) At(i int) CompressedFunctionEntry {
	return CompressedFunctionEntry(binary.LittleEndian.Uint32(fns.b[i*4:]))
}
