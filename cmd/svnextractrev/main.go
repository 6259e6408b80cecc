// Command svnextractrev pulls a single revision's records out of a
// dump file verbatim, with no renumbering, path filtering, or
// untangling — a degenerate one-revision select. Grounded on
// original_source/getrev.py, reusing only the core's Framed Stream
// Reader and Record Codec.
package main

import (
	"fmt"
	"os"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jasperlee108/svndumpfilter/internal/dump"
)

var (
	dumpFile = kingpin.Flag("file", "The svn dump file to pull the revision from.").Short('f').Required().String()
	revision = kingpin.Flag("revision", "The revision to pull from the dump file.").Short('r').Required().Int()
)

func main() {
	kingpin.CommandLine.Help = "Dump a single revision record from an svn dump file.\n"
	kingpin.Parse()

	if err := run(*dumpFile, *revision, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "svnextractrev:", err)
		os.Exit(1)
	}
}

func run(path string, revision int, out *os.File) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := dump.NewReader(f)
	header, err := dump.ReadHeader(r)
	if err != nil {
		return err
	}

	for {
		rec, err := dump.ParseRecord(r, header.Version)
		if err != nil {
			if err == dump.ErrFinishedFiltering {
				return nil
			}
			return err
		}
		if !rec.IsRevision() {
			continue
		}
		num, _ := rec.Headers.GetInt(dump.HeaderRevisionNumber)
		if num != revision {
			continue
		}
		if err := rec.Emit(out); err != nil {
			return err
		}
		for {
			next, err := dump.ParseRecord(r, header.Version)
			if err != nil {
				if err == dump.ErrFinishedFiltering {
					return nil
				}
				return err
			}
			if next.IsRevision() {
				return nil
			}
			if err := next.Emit(out); err != nil {
				return err
			}
		}
	}
}
