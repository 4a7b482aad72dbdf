// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

//go:build unix

package dump

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// openFile maps the file at path into memory read-only.
// closeFunc unmaps it.
func openFile(path string) (data []byte, closeFunc func() error, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, func() error { return nil }, nil
	}
	if int64(int(size)) != size {
		return nil, nil, fmt.Errorf("map %s: file too large", path)
	}
	data, err = unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("map %s: %w", path, err)
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
