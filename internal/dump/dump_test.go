// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package dump

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cespare/xxhash/v2"
	jsonv2 "github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"zb.256lights.llc/unwindinfo/internal/testcontext"
	"zb.256lights.llc/unwindinfo/internal/unwindtest"
	"zombiezen.com/go/log/testlog"
)

func TestMain(m *testing.M) {
	testlog.Main(nil)
}

var testUUID = uuid.MustParse("4c4c4475-5555-3144-a1e5-2f6f0b1c8d9e")

func arm64Section() *unwindtest.Section {
	return &unwindtest.Section{
		Pages: []unwindtest.Page{
			{Functions: []unwindtest.Function{
				{Address: 0x1000, Opcode: 0x04000101},
				{Address: 0x1040, Opcode: 0x02001000},
				{Address: 0x1080, Opcode: 0x0f000000},
			}},
			{
				Compressed: true,
				Functions: []unwindtest.Function{
					{Address: 0x2000, Opcode: 0x02000000},
					{Address: 0x2010, Opcode: 0x43000abc, LSDA: 0x8000},
				},
			},
		},
		EndAddress: 0x2100,
	}
}

const arm64Text = `0x00001000..0x00002000 Page
  0x00001000: CFA=reg29+16: reg29=[CFA-16], reg30=[CFA-8], reg19=[CFA-24], reg20=[CFA-32], reg72=[CFA-40], reg73=[CFA-48]
  0x00001040: CFA=reg31+16: reg32=reg30
  0x00001080: unknown opcode kind 15

0x00002000..0x00002100 Page
  0x00002000: CFA=reg31: reg32=reg30
  0x00002010: (check eh_frame FDE 0xabc)

`

func writeImage(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o666); err != nil {
		tb.Fatal(err)
	}
	return path
}

func marshalImage(tb testing.TB, img *unwindtest.Image) []byte {
	tb.Helper()
	data, err := img.MarshalBinary()
	if err != nil {
		tb.Fatal(err)
	}
	return data
}

func TestUsage(t *testing.T) {
	c := New()
	c.SetArgs([]string{})
	c.SetOut(new(bytes.Buffer))
	c.SetErr(new(bytes.Buffer))
	err := c.Execute()
	if err == nil || !strings.Contains(err.Error(), "usage:") {
		t.Errorf("Execute() with no arguments = %v; want usage error", err)
	}
}

func TestText(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	path := writeImage(t, t.TempDir(), "prog", marshalImage(t, &unwindtest.Image{
		CPU:         unwindtest.CPUARM64,
		UUID:        testUUID[:],
		TextAddress: 0x100000000,
		UnwindInfo:  arm64Section().MustMarshal(),
	}))

	out := new(bytes.Buffer)
	if err := run(ctx, out, &options{config: new(config), files: []string{path}}); err != nil {
		t.Fatal(err)
	}
	want := path + ": arm64 UUID " + testUUID.String() + "\n\n" + arm64Text
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}

func TestJSON(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	unwindInfo := arm64Section().MustMarshal()
	path := writeImage(t, t.TempDir(), "prog", marshalImage(t, &unwindtest.Image{
		CPU:        unwindtest.CPUARM64,
		UUID:       testUUID[:],
		UnwindInfo: unwindInfo,
	}))

	out := new(bytes.Buffer)
	opts := &options{
		config: &config{JSON: true},
		files:  []string{path},
	}
	if err := run(ctx, out, opts); err != nil {
		t.Fatal(err)
	}
	got := new(fileJSON)
	if err := jsonv2.Unmarshal(out.Bytes(), got); err != nil {
		t.Fatalf("%v\noutput:\n%s", err, out)
	}
	want := &fileJSON{
		Path:    path,
		Arch:    "arm64",
		UUID:    testUUID,
		Version: 1,
		XXH64:   fmt.Sprintf("%016x", xxhash.Sum64(unwindInfo)),
		Pages: []pageJSON{
			{
				Kind:  "regular",
				Start: 0x1000,
				End:   0x2000,
				Functions: []functionJSON{
					{
						Start:       0x1000,
						End:         0x1040,
						Opcode:      0x04000101,
						Kind:        4,
						Description: "CFA=reg29+16: reg29=[CFA-16], reg30=[CFA-8], reg19=[CFA-24], reg20=[CFA-32], reg72=[CFA-40], reg73=[CFA-48]",
					},
					{
						Start:       0x1040,
						End:         0x1080,
						Opcode:      0x02001000,
						Kind:        2,
						Description: "CFA=reg31+16: reg32=reg30",
					},
					{
						Start:  0x1080,
						End:    0x2000,
						Opcode: 0x0f000000,
						Kind:   15,
					},
				},
			},
			{
				Kind:  "compressed",
				Start: 0x2000,
				End:   0x2100,
				Functions: []functionJSON{
					{
						Start:       0x2000,
						End:         0x2010,
						Opcode:      0x02000000,
						Kind:        2,
						Description: "CFA=reg31: reg32=reg30",
					},
					{
						Start:       0x2010,
						End:         0x2100,
						Opcode:      0x43000abc,
						Kind:        3,
						Description: "(check eh_frame FDE 0xabc)",
						LSDA:        0x8000,
					},
				},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}

func TestUniversal(t *testing.T) {
	x86Section := &unwindtest.Section{
		Pages: []unwindtest.Page{
			{Functions: []unwindtest.Function{{Address: 0x1000, Opcode: 0x02010000}}},
		},
		EndAddress: 0x1100,
	}
	fat := unwindtest.MarshalUniversal([]unwindtest.FatArch{
		{
			CPU: unwindtest.CPUX86_64,
			Data: marshalImage(t, &unwindtest.Image{
				CPU:        unwindtest.CPUX86_64,
				UnwindInfo: x86Section.MustMarshal(),
			}),
		},
		{
			CPU: unwindtest.CPUARM64,
			Data: marshalImage(t, &unwindtest.Image{
				CPU:        unwindtest.CPUARM64,
				UUID:       testUUID[:],
				UnwindInfo: arm64Section().MustMarshal(),
			}),
		},
	})
	path := writeImage(t, t.TempDir(), "fat", fat)

	tests := []struct {
		arch string
		want string
	}{
		{
			arch: "",
			want: path + ": x86_64\n\n" +
				"0x00001000..0x00001100 Page\n" +
				"  0x00001000: CFA=reg7+8: reg16=[CFA-8]\n\n",
		},
		{
			arch: "aarch64",
			want: path + ": arm64 UUID " + testUUID.String() + "\n\n" + arm64Text,
		},
	}
	for _, test := range tests {
		ctx, cancel := testcontext.New(t)
		out := new(bytes.Buffer)
		err := run(ctx, out, &options{
			config: &config{Arch: test.arch},
			files:  []string{path},
		})
		cancel()
		if err != nil {
			t.Errorf("arch=%q: %v", test.arch, err)
			continue
		}
		if diff := cmp.Diff(test.want, out.String()); diff != "" {
			t.Errorf("arch=%q output (-want +got):\n%s", test.arch, diff)
		}
	}

	ctx, cancel := testcontext.New(t)
	defer cancel()
	err := run(ctx, new(bytes.Buffer), &options{
		config: &config{Arch: "i386"},
		files:  []string{path},
	})
	if err == nil {
		t.Error("selecting a missing slice did not return an error")
	}
}

func TestMultipleFiles(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	dir := t.TempDir()
	data := marshalImage(t, &unwindtest.Image{
		CPU:        unwindtest.CPUARM64,
		UnwindInfo: arm64Section().MustMarshal(),
	})
	var files []string
	var want strings.Builder
	for _, name := range []string{"a", "b", "c", "d"} {
		path := writeImage(t, dir, name, data)
		files = append(files, path)
		want.WriteString(path + ": arm64\n\n" + arm64Text)
	}

	out := new(bytes.Buffer)
	if err := run(ctx, out, &options{config: new(config), files: files}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want.String(), out.String()); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}

func TestErrors(t *testing.T) {
	dir := t.TempDir()
	arm64Image := marshalImage(t, &unwindtest.Image{
		CPU:        unwindtest.CPUARM64,
		UnwindInfo: arm64Section().MustMarshal(),
	})
	tests := []struct {
		name string
		data []byte
		arch string
	}{
		{name: "Empty", data: nil},
		{name: "NotMachO", data: []byte("\x7fELF\x02\x01\x01")},
		{name: "ArchMismatch", data: arm64Image, arch: "x86_64"},
		{name: "UnknownArch", data: arm64Image, arch: "mips"},
		{
			name: "UnsupportedCPU",
			data: marshalImage(t, &unwindtest.Image{CPU: 0x12, Is32Bit: true}),
		},
		{
			name: "TruncatedSection",
			data: marshalImage(t, &unwindtest.Image{
				CPU:        unwindtest.CPUARM64,
				UnwindInfo: make([]byte, 10),
			}),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx, cancel := testcontext.New(t)
			defer cancel()
			path := writeImage(t, dir, test.name, test.data)
			err := run(ctx, new(bytes.Buffer), &options{
				config: &config{Arch: test.arch},
				files:  []string{path},
			})
			if err == nil {
				t.Error("run did not return an error")
			} else {
				t.Log(err)
			}
		})
	}
}

func TestConfig(t *testing.T) {
	home := t.TempDir()
	system := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("XDG_CONFIG_DIRS", system)
	t.Setenv("UNWINDINFODUMP_ARCH", "")

	writeConfig := func(dir, content string) string {
		path := filepath.Join(dir, "unwindinfodump", "config.hujson")
		if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o666); err != nil {
			t.Fatal(err)
		}
		return path
	}
	writeConfig(system, `{
		// Defaults for every user.
		"arch": "i386",
		"json": true,
	}`)
	writeConfig(home, `{"arch": "arm64", "unknown": 1}`)
	extra := filepath.Join(t.TempDir(), "extra.hujson")
	if err := os.WriteFile(extra, []byte(`{"debug": true}`), 0o666); err != nil {
		t.Fatal(err)
	}

	cfg := new(config)
	if err := cfg.mergeFiles(configPaths(extra)); err != nil {
		t.Fatal(err)
	}
	want := &config{Debug: true, Arch: "arm64", JSON: true}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}

	t.Setenv("UNWINDINFODUMP_ARCH", "x86_64")
	cfg.mergeEnvironment()
	if cfg.Arch != "x86_64" {
		t.Errorf("after mergeEnvironment, Arch = %q; want %q", cfg.Arch, "x86_64")
	}
}

func TestConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.hujson")
	if err := os.WriteFile(path, []byte(`{"arch": `), 0o666); err != nil {
		t.Fatal(err)
	}
	cfg := new(config)
	if err := cfg.mergeFiles(func(yield func(string) bool) { yield(path) }); err == nil {
		t.Error("mergeFiles did not return an error for malformed HuJSON")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	opts := &options{config: &config{Arch: "i386", JSON: true}}
	fs := pflag.NewFlagSet("unwindinfodump", pflag.ContinueOnError)
	opts.addFlags(fs)
	if err := fs.Parse([]string{"--arch=arm64", "--debug", "prog"}); err != nil {
		t.Fatal(err)
	}
	opts.mergeFlags(fs)
	want := &config{Arch: "arm64", JSON: true, Debug: true}
	if diff := cmp.Diff(want, opts.config); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}
