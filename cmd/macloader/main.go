// Command macloader reconstructs the in-memory image of a classic Mac OS
// m68k executable from its resource fork.
//
// Usage:
//
//	macloader -in <file> -out <file> [-idc] [-v]
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/retro68/macimg"
	"github.com/retro68/macimg/idc"
)

func main() {
	in := flag.String("in", "", "input file carrying the resource fork (required)")
	out := flag.String("out", "", "output path for the reconstructed memory image (required)")
	writeIDC := flag.Bool("idc", false, "also write <out>_jt.idc, an IDA Pro jump-table markup script")
	strict := flag.Bool("strict", false, "abort on any static-data loader failure instead of continuing without it")
	verbose := flag.Bool("v", false, "stream the info log to stderr in addition to writing <out>.info.txt")
	flag.Parse()

	if err := run(*in, *out, *writeIDC, *strict, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "macloader: %v\n", err)
		os.Exit(1)
	}
}

func run(in, out string, writeIDC, strict, verbose bool) error {
	if in == "" || out == "" {
		flag.Usage()
		return fmt.Errorf("both -in and -out are required")
	}

	exe, err := macloader.Open(in)
	if err != nil {
		return err
	}
	defer exe.Close()

	exe.Strict = strict

	info, err := os.Create(out + ".info.txt")
	if err != nil {
		return fmt.Errorf("creating info log: %w", err)
	}
	defer info.Close()

	var sink io.Writer = info
	if verbose {
		sink = io.MultiWriter(info, os.Stderr)
	}

	exe.OutputInfo(sink)

	if err := exe.WriteMemoryDump(out, sink); err != nil {
		return err
	}

	if writeIDC {
		f, err := os.Create(out + "_jt.idc")
		if err != nil {
			return fmt.Errorf("writing IDC script: %w", err)
		}
		defer f.Close()
		if err := idc.WriteJumpTableScript(exe.Code0(), f); err != nil {
			return fmt.Errorf("writing IDC script: %w", err)
		}
	}

	return nil
}
