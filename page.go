// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package unwindinfo

import (
	"fmt"
	"iter"

	"zb.256lights.llc/unwindinfo/raw"
)

// Page is one second-level page of the index.
// The zero value is an empty page.
type Page struct {
	kind          raw.PageKind
	startAddress  uint32
	endAddress    uint32
	regular       raw.RegularFunctions
	compressed    raw.CompressedFunctions
	globalOpcodes raw.Opcodes
	localOpcodes  raw.Opcodes
}

// Pages returns an iterator over the pages of the section in address order.
// The sentinel entry at the end of the page table is never yielded.
// If a page cannot be read, the iterator yields a zero Page and the error
// and then stops.
// Calling Pages again restarts from the first page.
func (info UnwindInfo) Pages() iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		for i := 0; i+1 < info.pages.Len(); i++ {
			page, err := info.page(i)
			if err != nil {
				yield(Page{}, pageError(i, err))
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// page reads the i'th page, which must not be the sentinel entry.
func (info UnwindInfo) page(i int) (Page, error) {
	entry := info.pages.At(i)
	page := Page{
		startAddress: entry.FirstAddress,
		endAddress:   info.pages.FirstAddress(i + 1),
	}
	var err error
	page.kind, err = entry.Kind(info.data)
	if err != nil {
		return Page{}, err
	}
	switch page.kind {
	case raw.PageKindRegular:
		page.regular, err = regularFunctions(info.data, entry)
		if err != nil {
			return Page{}, err
		}
	case raw.PageKindCompressed:
		cpage, err := raw.ParseCompressedPage(info.data, entry.PageOffset)
		if err != nil {
			return Page{}, err
		}
		page.compressed, err = cpage.Functions(info.data, entry.PageOffset)
		if err != nil {
			return Page{}, err
		}
		page.localOpcodes, err = cpage.LocalOpcodes(info.data, entry.PageOffset)
		if err != nil {
			return Page{}, err
		}
		page.globalOpcodes = info.globalOpcodes
	case raw.PageKindSentinel:
		return Page{}, ErrUnexpectedSentinelPage
	default:
		return Page{}, ErrInvalidPageKind
	}
	return page, nil
}

// Kind returns whether the page is regular or compressed.
func (page Page) Kind() raw.PageKind {
	return page.kind
}

// StartAddress returns the start of the address range covered by the page.
func (page Page) StartAddress() uint32 {
	return page.startAddress
}

// EndAddress returns the end of the address range covered by the page,
// which is the start address of the next page entry.
func (page Page) EndAddress() uint32 {
	return page.endAddress
}

// Len returns the number of functions in the page.
func (page Page) Len() int {
	if page.kind == raw.PageKindCompressed {
		return page.compressed.Len()
	}
	return page.regular.Len()
}

// Functions returns an iterator over the functions in the page in address order.
// The only error it yields is for a compressed entry
// whose opcode index is out of range,
// after which it stops.
// Calling Functions again restarts from the first function.
func (page Page) Functions() iter.Seq2[Function, error] {
	return func(yield func(Function, error) bool) {
		n := page.Len()
		for i := range n {
			f, err := page.function(i)
			if err != nil {
				yield(Function{}, fmt.Errorf("unwind info: page at 0x%08x: function %d: %w", page.startAddress, i, err))
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (page Page) function(i int) (Function, error) {
	if page.kind != raw.PageKindCompressed {
		f := Function{
			StartAddress: page.regular.Address(i),
			EndAddress:   page.endAddress,
			Opcode:       page.regular.At(i).Opcode,
		}
		if i+1 < page.regular.Len() {
			f.EndAddress = page.regular.Address(i + 1)
		}
		return f, nil
	}

	ent := page.compressed.At(i)
	f := Function{
		StartAddress: page.startAddress + ent.RelativeAddress(),
		EndAddress:   page.endAddress,
	}
	if i+1 < page.compressed.Len() {
		f.EndAddress = page.startAddress + page.compressed.At(i+1).RelativeAddress()
	}
	var err error
	f.Opcode, err = resolveOpcode(page.globalOpcodes, page.localOpcodes, ent.OpcodeIndex())
	if err != nil {
		return Function{}, err
	}
	return f, nil
}
