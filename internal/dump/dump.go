// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Package dump provides a Cobra command that prints
// the compact unwind information of Mach-O binaries.
package dump

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"zb.256lights.llc/unwindinfo"
	"zb.256lights.llc/unwindinfo/internal/macho"
	"zb.256lights.llc/unwindinfo/opcodes"
	"zb.256lights.llc/unwindinfo/raw"
	"zombiezen.com/go/log"
)

type options struct {
	config     *config
	configPath string
	files      []string

	arch  string
	json  bool
	debug bool
}

func (opts *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&opts.arch, "arch", "", "select the `architecture` of a universal binary and of the opcodes")
	fs.BoolVar(&opts.json, "json", false, "print JSON instead of text")
	fs.BoolVar(&opts.debug, "debug", false, "show debugging output")
	fs.StringVar(&opts.configPath, "config", "", "read configuration from `path` in addition to the default locations")
}

// mergeFlags overrides the configuration with the flags set on the command line.
func (opts *options) mergeFlags(fs *pflag.FlagSet) {
	if fs.Changed("arch") {
		opts.config.Arch = opts.arch
	}
	if fs.Changed("json") {
		opts.config.JSON = opts.json
	}
	if fs.Changed("debug") {
		opts.config.Debug = opts.debug
	}
}

// New returns a new unwindinfodump command.
func New() *cobra.Command {
	c := &cobra.Command{
		Use:                   "unwindinfodump [options] FILE [...]",
		Short:                 "print the compact unwind information of Mach-O binaries",
		DisableFlagsInUseLine: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("usage: %s", cmd.UseLine())
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	opts := &options{config: new(config)}
	opts.addFlags(c.Flags())
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.files = args
		if err := opts.config.mergeFiles(configPaths(opts.configPath)); err != nil {
			return err
		}
		opts.config.mergeEnvironment()
		opts.mergeFlags(cmd.Flags())
		InitLogging(opts.config.Debug)
		return run(cmd.Context(), cmd.OutOrStdout(), opts)
	}
	return c
}

var initLogOnce sync.Once

// InitLogging sets the default logger for the process.
// Only the first call has any effect.
func InitLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "unwindinfodump: ", log.StdFlags, nil),
		})
	})
}

func run(ctx context.Context, stdout io.Writer, opts *options) error {
	var arch opcodes.Arch
	if opts.config.Arch != "" {
		var err error
		arch, err = opcodes.ParseArch(opts.config.Arch)
		if err != nil {
			return err
		}
	}
	indent := false
	if f, ok := stdout.(*os.File); ok {
		indent = term.IsTerminal(int(f.Fd()))
	}

	outputs := make([][]byte, len(opts.files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range opts.files {
		g.Go(func() error {
			f, err := dumpFile(ctx, path, arch)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if opts.config.JSON {
				outputs[i], err = f.appendJSON(nil, indent)
			} else {
				outputs[i] = f.appendText(nil)
			}
			return err
		})
	}
	err := g.Wait()
	for _, out := range outputs {
		if _, err := stdout.Write(out); err != nil {
			return err
		}
	}
	return err
}

// fileDump is the decoded unwind information of one file.
type fileDump struct {
	path    string
	arch    opcodes.Arch
	uuid    uuid.UUID
	version uint32
	// hash is the XXH64 digest of the __unwind_info section.
	hash  uint64
	pages []pageDump
}

// pageDump holds copies of a page's fields,
// since a [unwindinfo.Page] refers to the mapped file.
type pageDump struct {
	kind      raw.PageKind
	start     uint32
	end       uint32
	functions []functionDump
}

type functionDump struct {
	unwindinfo.Function
	lsda    uint32
	hasLSDA bool
}

// dumpFile reads the file at path and decodes its __unwind_info section.
// If arch is not zero, it selects the slice of a universal binary
// and must match the file's CPU type.
func dumpFile(ctx context.Context, path string, arch opcodes.Arch) (*fileDump, error) {
	data, closeFile, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := closeFile(); err != nil {
			log.Warnf(ctx, "Close %s: %v", path, err)
		}
	}()

	imageData, arch, err := selectImage(data, arch)
	if err != nil {
		return nil, err
	}
	img, err := macho.ReadImage(bytes.NewReader(imageData))
	if err != nil {
		return nil, err
	}
	sect := img.Section("__TEXT", "__unwind_info")
	if sect == nil {
		return nil, fmt.Errorf("no __TEXT,__unwind_info section")
	}
	sectData, err := sect.Data(imageData)
	if err != nil {
		return nil, err
	}
	log.Debugf(ctx, "%s: %v image with %d-byte __unwind_info at 0x%x", path, arch, len(sectData), sect.Addr)
	info, err := unwindinfo.Parse(sectData)
	if err != nil {
		return nil, err
	}

	result := &fileDump{
		path:    path,
		arch:    arch,
		uuid:    img.UUID,
		version: info.Version(),
		hash:    xxhash.Sum64(sectData),
	}
	for page, err := range info.Pages() {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pd := pageDump{
			kind:  page.Kind(),
			start: page.StartAddress(),
			end:   page.EndAddress(),
		}
		for f, err := range page.Functions() {
			if err != nil {
				return nil, err
			}
			fd := functionDump{Function: f}
			if opcodes.Bitfield(f.Opcode).HasLSDA() {
				fd.lsda, fd.hasLSDA, err = info.LSDA(f.StartAddress)
				if err != nil {
					return nil, err
				}
			}
			pd.functions = append(pd.functions, fd)
		}
		result.pages = append(result.pages, pd)
	}
	log.Debugf(ctx, "%s: read %d pages", path, len(result.pages))
	return result, nil
}

// selectImage returns the single-architecture image inside data.
// For a universal binary, it picks the slice for arch,
// or the first supported slice if arch is zero.
func selectImage(data []byte, arch opcodes.Arch) ([]byte, opcodes.Arch, error) {
	switch {
	case macho.IsUniversal(data):
		entries, err := macho.ReadUniversalHeader(bytes.NewReader(data))
		if err != nil {
			return nil, 0, err
		}
		for _, ent := range entries {
			entArch, err := archForCPU(ent.CPU)
			if err != nil || (arch != 0 && entArch != arch) {
				continue
			}
			slice, err := ent.Slice(data)
			if err != nil {
				return nil, 0, err
			}
			return slice, entArch, nil
		}
		if arch != 0 {
			return nil, 0, fmt.Errorf("universal binary has no %v slice", arch)
		}
		return nil, 0, fmt.Errorf("universal binary has no supported slices")
	case macho.IsSingleArchitecture(data):
		hdr, _, err := macho.ReadFileHeader(bytes.NewReader(data))
		if err != nil {
			return nil, 0, err
		}
		imageArch, err := archForCPU(hdr.CPU)
		if err != nil {
			return nil, 0, err
		}
		if arch != 0 && imageArch != arch {
			return nil, 0, fmt.Errorf("image is %v, not %v", imageArch, arch)
		}
		return data, imageArch, nil
	default:
		return nil, 0, fmt.Errorf("not a Mach-O file")
	}
}

func archForCPU(cpu macho.CPUType) (opcodes.Arch, error) {
	switch cpu {
	case macho.CPUTypeI386:
		return opcodes.ArchX86, nil
	case macho.CPUTypeX86_64:
		return opcodes.ArchX86_64, nil
	case macho.CPUTypeARM64:
		return opcodes.ArchARM64, nil
	default:
		return 0, fmt.Errorf("unsupported CPU type %v", cpu)
	}
}
