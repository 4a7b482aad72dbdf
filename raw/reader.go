// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package raw

import "encoding/binary"

// reader performs bounds-checked reads from section data.
// Offsets and sizes are widened to 64 bits before adding
// so that a 32-bit offset from the file can never wrap around.
type reader struct {
	data []byte
}

// slice returns n elements of elemSize bytes starting at offset.
func (r reader) slice(offset uint64, n uint64, elemSize uint64, e ReadError) ([]byte, error) {
	size := n * elemSize
	if offset > uint64(len(r.data)) || size > uint64(len(r.data))-offset {
		return nil, e
	}
	return r.data[offset : offset+size], nil
}

func (r reader) uint32(offset uint64, e ReadError) (uint32, error) {
	b, err := r.slice(offset, 1, 4, e)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}
