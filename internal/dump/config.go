// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package dump

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/tailscale/hujson"
	"go4.org/xdgdir"
)

// config is the merged configuration of the command.
// Later sources override earlier ones:
// configuration files, then the environment, then flags.
type config struct {
	Debug bool   `json:"debug"`
	Arch  string `json:"arch"`
	JSON  bool   `json:"json"`
}

// configPaths returns the configuration files to read, in order of increasing precedence.
// Files from more important XDG config directories come later.
func configPaths(extra string) iter.Seq[string] {
	return func(yield func(string) bool) {
		dirs := xdgdir.Config.SearchPaths()
		for i := len(dirs) - 1; i >= 0; i-- {
			if !yield(filepath.Join(dirs[i], "unwindinfodump", "config.hujson")) {
				return
			}
		}
		if extra != "" {
			yield(extra)
		}
	}
}

func (cfg *config) mergeFiles(paths iter.Seq[string]) error {
	for path := range paths {
		huJSONData, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		jsonData, err := hujson.Standardize(huJSONData)
		if err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
		if err := jsonv2.Unmarshal(jsonData, cfg, jsonv2.RejectUnknownMembers(false)); err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
	}
	return nil
}

func (cfg *config) mergeEnvironment() {
	if arch := os.Getenv("UNWINDINFODUMP_ARCH"); arch != "" {
		cfg.Arch = arch
	}
}
