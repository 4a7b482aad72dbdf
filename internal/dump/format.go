// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package dump

import (
	"fmt"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
	"zb.256lights.llc/unwindinfo/opcodes"
)

func (f *fileDump) appendText(dst []byte) []byte {
	dst = fmt.Appendf(dst, "%s: %v", f.path, f.arch)
	if f.uuid != uuid.Nil {
		dst = fmt.Appendf(dst, " UUID %v", f.uuid)
	}
	dst = append(dst, "\n\n"...)
	for _, page := range f.pages {
		dst = fmt.Appendf(dst, "0x%08x..0x%08x Page\n", page.start, page.end)
		for _, fn := range page.functions {
			dst = fmt.Appendf(dst, "  0x%08x: ", fn.StartAddress)
			if op, ok := opcodes.Decode(f.arch, fn.Opcode); ok {
				dst = fmt.Append(dst, op)
			} else {
				dst = fmt.Appendf(dst, "unknown opcode kind %d", opcodes.Bitfield(fn.Opcode).Kind())
			}
			dst = append(dst, '\n')
		}
		dst = append(dst, '\n')
	}
	return dst
}

type fileJSON struct {
	Path    string     `json:"path"`
	Arch    string     `json:"arch"`
	UUID    uuid.UUID  `json:"uuid,omitzero"`
	Version uint32     `json:"version"`
	XXH64   string     `json:"xxh64"`
	Pages   []pageJSON `json:"pages"`
}

type pageJSON struct {
	Kind      string         `json:"kind"`
	Start     uint32         `json:"start"`
	End       uint32         `json:"end"`
	Functions []functionJSON `json:"functions"`
}

type functionJSON struct {
	Start       uint32 `json:"start"`
	End         uint32 `json:"end"`
	Opcode      uint32 `json:"opcode"`
	Kind        uint8  `json:"kind"`
	Description string `json:"description,omitempty"`
	Personality uint8  `json:"personality,omitzero"`
	LSDA        uint32 `json:"lsda,omitzero"`
}

func (f *fileDump) appendJSON(dst []byte, indent bool) ([]byte, error) {
	v := &fileJSON{
		Path:    f.path,
		Arch:    f.arch.String(),
		UUID:    f.uuid,
		Version: f.version,
		XXH64:   fmt.Sprintf("%016x", f.hash),
		Pages:   make([]pageJSON, 0, len(f.pages)),
	}
	for _, page := range f.pages {
		pj := pageJSON{
			Kind:      page.kind.String(),
			Start:     page.start,
			End:       page.end,
			Functions: make([]functionJSON, 0, len(page.functions)),
		}
		for _, fn := range page.functions {
			bits := opcodes.Bitfield(fn.Opcode)
			fj := functionJSON{
				Start:       fn.StartAddress,
				End:         fn.EndAddress,
				Opcode:      fn.Opcode,
				Kind:        uint8(bits.Kind()),
				Personality: bits.PersonalityIndex(),
			}
			if op, ok := opcodes.Decode(f.arch, fn.Opcode); ok {
				fj.Description = op.String()
			}
			if fn.hasLSDA {
				fj.LSDA = fn.lsda
			}
			pj.Functions = append(pj.Functions, fj)
		}
		v.Pages = append(v.Pages, pj)
	}

	data, err := jsonv2.Marshal(v, jsontext.Multiline(indent))
	if err != nil {
		return dst, fmt.Errorf("marshal %s: %v", f.path, err)
	}
	dst = append(dst, data...)
	dst = append(dst, '\n')
	return dst, nil
}
