// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package unwindinfo

// Personality returns the entry of the personality table
// for a 1-based personality index,
// as reported by [zb.256lights.llc/unwindinfo/opcodes.Bitfield.PersonalityIndex].
// The entry is the image-relative address of a pointer to the personality routine.
// ok is false if index is zero or past the end of the table.
func (info UnwindInfo) Personality(index uint8) (_ uint32, ok bool, err error) {
	if index == 0 {
		return 0, false, nil
	}
	personalities, err := info.header.Personalities(info.data)
	if err != nil {
		return 0, false, err
	}
	if int(index) > personalities.Len() {
		return 0, false, nil
	}
	return personalities.At(int(index) - 1), true, nil
}

// LSDA returns the image-relative address of the language-specific data area
// for the function starting at startAddress.
// ok is false if the function has no LSDA entry.
func (info UnwindInfo) LSDA(startAddress uint32) (_ uint32, ok bool, err error) {
	pageIndex, ok := searchLastAtMost(info.pages.Len(), startAddress, info.pages.FirstAddress)
	if !ok || pageIndex == info.pages.Len()-1 {
		return 0, false, nil
	}
	lsdas, err := info.pages.At(pageIndex).LSDAs(info.data, info.pages.At(pageIndex+1))
	if err != nil {
		return 0, false, pageError(pageIndex, err)
	}
	i, ok := searchLastAtMost(lsdas.Len(), startAddress, func(i int) uint32 {
		return lsdas.At(i).FunctionAddress
	})
	if !ok {
		return 0, false, nil
	}
	ent := lsdas.At(i)
	if ent.FunctionAddress != startAddress {
		return 0, false, nil
	}
	return ent.LSDAAddress, true, nil
}
