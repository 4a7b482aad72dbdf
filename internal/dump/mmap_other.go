// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

//go:build !unix

package dump

import "os"

func openFile(path string) (data []byte, closeFunc func() error, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
