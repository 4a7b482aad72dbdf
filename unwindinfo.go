// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package unwindinfo reads the __unwind_info section of a Mach-O binary.
//
// The section maps instruction addresses to compact unwind opcodes
// through a two-level index:
// a sorted table of pages, each holding a sorted list of functions.
// [UnwindInfo.Lookup] finds the opcode for an address with two binary searches
// and no allocation.
// [UnwindInfo.Pages] walks the same structure in address order.
// The opcodes themselves are architecture-specific;
// see the [zb.256lights.llc/unwindinfo/opcodes] package for decoders.
//
// [Parse] does only enough work to locate the page table,
// so it is cheap enough to call every time a profiler takes a sample.
// Pages are validated when they are first touched.
// Malformed input is reported as an error and never causes a panic.
// All types in this package are read-only views of the caller's data
// and are safe to use from multiple goroutines.
package unwindinfo

import (
	"errors"
	"fmt"
	"sort"

	"zb.256lights.llc/unwindinfo/raw"
)

// Format errors reported when a page is inconsistent with its page entry.
// These are only detected once the page is read.
var (
	ErrInvalidPageEntryFirstAddress = errors.New("page entry's first address does not match the address of its first function")
	ErrInvalidPageKind              = errors.New("invalid page kind")
	ErrUnexpectedSentinelPage       = errors.New("unexpected sentinel page")
)

// ReadError is an alias for [raw.ReadError] so that callers can match
// structural errors without importing the raw package.
type ReadError = raw.ReadError

// UnwindInfo is a parsed __unwind_info section.
// The zero value covers no addresses.
type UnwindInfo struct {
	data          []byte
	header        raw.Header
	globalOpcodes raw.Opcodes
	pages         raw.PageEntries
}

// Function is the unwind information for a single address range.
type Function struct {
	// StartAddress is the address at which the function starts.
	StartAddress uint32
	// EndAddress is the address of the next function entry,
	// or the end of the page's range for the last function in a page.
	// It includes any padding after the function.
	EndAddress uint32
	// Opcode describes how to unwind the function.
	// It must be decoded with the target architecture's decoder.
	Opcode uint32
}

// Parse returns an [UnwindInfo] that reads from data,
// the contents of a Mach-O __unwind_info section.
// data may have any alignment and must not be modified
// while the UnwindInfo or any value derived from it is in use.
// Parse only validates the header and the bounds of the
// global opcode and page tables.
func Parse(data []byte) (UnwindInfo, error) {
	hdr, err := raw.ParseHeader(data)
	if err != nil {
		return UnwindInfo{}, err
	}
	globalOpcodes, err := hdr.GlobalOpcodes(data)
	if err != nil {
		return UnwindInfo{}, err
	}
	pages, err := hdr.Pages(data)
	if err != nil {
		return UnwindInfo{}, err
	}
	return UnwindInfo{
		data:          data,
		header:        hdr,
		globalOpcodes: globalOpcodes,
		pages:         pages,
	}, nil
}

// Version returns the section's format version.
func (info UnwindInfo) Version() uint32 {
	return info.header.Version
}

// GlobalOpcodes returns the opcodes shared by all compressed pages.
func (info UnwindInfo) GlobalOpcodes() raw.Opcodes {
	return info.globalOpcodes
}

// Lookup finds the function covering the address pc.
// ok is false if pc is outside the range of addresses covered by the section.
// Lookup returns an error if the pages it visits are malformed.
func (info UnwindInfo) Lookup(pc uint32) (_ Function, ok bool, err error) {
	pageIndex, ok := searchLastAtMost(info.pages.Len(), pc, info.pages.FirstAddress)
	if !ok || pageIndex == info.pages.Len()-1 {
		// Either before the first page or in the sentinel page,
		// which only marks the end of the range.
		return Function{}, false, nil
	}
	entry := info.pages.At(pageIndex)
	nextPageAddress := info.pages.FirstAddress(pageIndex + 1)

	kind, err := entry.Kind(info.data)
	if err != nil {
		return Function{}, false, pageError(pageIndex, err)
	}
	switch kind {
	case raw.PageKindRegular:
		fns, err := regularFunctions(info.data, entry)
		if err != nil {
			return Function{}, false, pageError(pageIndex, err)
		}
		i, ok := searchLastAtMost(fns.Len(), pc, fns.Address)
		if !ok {
			return Function{}, false, pageError(pageIndex, ErrInvalidPageEntryFirstAddress)
		}
		f := Function{
			StartAddress: fns.Address(i),
			EndAddress:   nextPageAddress,
			Opcode:       fns.At(i).Opcode,
		}
		if i+1 < fns.Len() {
			f.EndAddress = fns.Address(i + 1)
		}
		return f, true, nil
	case raw.PageKindCompressed:
		page, err := raw.ParseCompressedPage(info.data, entry.PageOffset)
		if err != nil {
			return Function{}, false, pageError(pageIndex, err)
		}
		fns, err := page.Functions(info.data, entry.PageOffset)
		if err != nil {
			return Function{}, false, pageError(pageIndex, err)
		}
		i, ok := searchLastAtMost(fns.Len(), pc-entry.FirstAddress, func(i int) uint32 {
			return fns.At(i).RelativeAddress()
		})
		if !ok {
			return Function{}, false, pageError(pageIndex, ErrInvalidPageEntryFirstAddress)
		}
		ent := fns.At(i)
		f := Function{
			StartAddress: entry.FirstAddress + ent.RelativeAddress(),
			EndAddress:   nextPageAddress,
		}
		if i+1 < fns.Len() {
			f.EndAddress = entry.FirstAddress + fns.At(i+1).RelativeAddress()
		}
		// Only read the local opcode table if the function needs it.
		var local raw.Opcodes
		if ent.OpcodeIndex() >= info.globalOpcodes.Len() {
			local, err = page.LocalOpcodes(info.data, entry.PageOffset)
			if err != nil {
				return Function{}, false, pageError(pageIndex, err)
			}
		}
		f.Opcode, err = resolveOpcode(info.globalOpcodes, local, ent.OpcodeIndex())
		if err != nil {
			return Function{}, false, pageError(pageIndex, err)
		}
		return f, true, nil
	case raw.PageKindSentinel:
		// Only the last entry may point to a sentinel page,
		// and it was excluded above.
		return Function{}, false, pageError(pageIndex, ErrUnexpectedSentinelPage)
	default:
		return Function{}, false, pageError(pageIndex, ErrInvalidPageKind)
	}
}

func regularFunctions(data []byte, entry raw.PageEntry) (raw.RegularFunctions, error) {
	page, err := raw.ParseRegularPage(data, entry.PageOffset)
	if err != nil {
		return raw.RegularFunctions{}, err
	}
	return page.Functions(data, entry.PageOffset)
}

// resolveOpcode looks up an opcode index of a compressed page entry
// in the concatenation of global and local.
func resolveOpcode(global, local raw.Opcodes, index int) (uint32, error) {
	if index < global.Len() {
		return global.At(index), nil
	}
	index -= global.Len()
	if index >= local.Len() {
		return 0, raw.ReadErrorLocalOpcodes
	}
	return local.At(index), nil
}

// searchLastAtMost returns the index of the last of n ascending keys
// that is less than or equal to target.
// ok is false if every key is greater than target.
func searchLastAtMost(n int, target uint32, key func(int) uint32) (_ int, ok bool) {
	i := sort.Search(n, func(i int) bool {
		return key(i) > target
	})
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

func pageError(pageIndex int, err error) error {
	return fmt.Errorf("unwind info: page %d: %w", pageIndex, err)
}
