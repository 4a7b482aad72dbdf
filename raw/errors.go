// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package raw

// ReadError indicates that the section data was not large enough
// to read the named structure.
// Offsets that point past the end of the data produce the same errors.
type ReadError int

// Known [ReadError] values.
const (
	ReadErrorHeader ReadError = 1 + iota
	ReadErrorGlobalOpcodes
	ReadErrorPages
	ReadErrorRegularPage
	ReadErrorRegularPageFunctions
	ReadErrorCompressedPage
	ReadErrorCompressedPageFunctions
	ReadErrorLocalOpcodes
	ReadErrorPageKind
	ReadErrorPersonalities
	ReadErrorLSDAIndex
)

// Error returns a message naming the structure that could not be read.
func (e ReadError) Error() string {
	return "read unwind info: could not read " + e.String()
}

// String returns the name of the structure that could not be read.
func (e ReadError) String() string {
	switch e {
	case ReadErrorHeader:
		return "header"
	case ReadErrorGlobalOpcodes:
		return "global opcodes"
	case ReadErrorPages:
		return "pages"
	case ReadErrorRegularPage:
		return "regular page"
	case ReadErrorRegularPageFunctions:
		return "regular page functions"
	case ReadErrorCompressedPage:
		return "compressed page"
	case ReadErrorCompressedPageFunctions:
		return "compressed page functions"
	case ReadErrorLocalOpcodes:
		return "local opcodes"
	case ReadErrorPageKind:
		return "page kind"
	case ReadErrorPersonalities:
		return "personalities"
	case ReadErrorLSDAIndex:
		return "LSDA index"
	default:
		return "unknown structure"
	}
}
