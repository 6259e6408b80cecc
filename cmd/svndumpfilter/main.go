// Command svndumpfilter is the thin CLI front end over the core
// filter pipeline: flag parsing, logging setup, and process exit codes
// only — every real decision lives in internal/filter. Grounded on
// gitp4transfer's kingpin-based main() for flag style and
// exoosh-reposurgeon/cutter's main() for keeping os.Exit out of the
// library packages (the two cmd/ mains are the module's only os.Exit
// call sites).
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jasperlee108/svndumpfilter/internal/dump"
	"github.com/jasperlee108/svndumpfilter/internal/filter"
	"github.com/jasperlee108/svndumpfilter/internal/matcher"
	"github.com/jasperlee108/svndumpfilter/internal/repoquery"
	"github.com/jasperlee108/svndumpfilter/internal/untangle"
)

var (
	app = kingpin.New("svndumpfilter", "Filter an svn dump stream by path, preserving copy referential integrity.")

	includeCmd  = app.Command("include", "Keep only node-records under the given paths.")
	includePath = includeCmd.Arg("path", "Path to include (repeatable).").Strings()

	excludeCmd  = app.Command("exclude", "Drop node-records under the given paths.")
	excludePath = excludeCmd.Arg("path", "Path to exclude (repeatable).").Strings()

	inputFlag  = app.Arg("input", "Source dump file; defaults to stdin.").String()
	repoFlag   = app.Flag("repo", "Path to the source repository (required unless --scan).").String()
	outputFlag = app.Flag("output", "Destination dump file; defaults to stdout.").Short('o').String()
	fileFlag   = app.Flag("file", "Supplementary file of paths to include/exclude, one per line.").String()

	keepEmptyRevs     = app.Flag("keep-empty-revs", "Do not drop revisions with no surviving node records.").Bool()
	stopRenumberRevs  = app.Flag("stop-renumber-revs", "Do not renumber surviving revisions contiguously.").Bool()
	stripMergeinfo    = app.Flag("strip-mergeinfo", "Remove svn:mergeinfo properties.").Bool()
	startRevisionFlag = app.Flag("revision", "Begin emitting node-records at this original revision.").Int()
	scanFlag          = app.Flag("scan", "Dry run: report whether untangling would be required.").Bool()
	quietFlag         = app.Flag("quiet", "Suppress progress output.").Short('q').Bool()
	debugFlag         = app.Flag("debug", "Enable debug-level logging.").Short('d').Bool()
	profileFlag       = app.Flag("profile", "Enable CPU profiling, writing to ./cpu.pprof.").Bool()
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debugFlag {
		logger.Level = logrus.DebugLevel
	}
	if *quietFlag {
		logger.Level = logrus.WarnLevel
	}

	if *profileFlag {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	}

	if err := run(cmd, logger); err != nil {
		fmt.Fprintln(os.Stderr, "svndumpfilter:", err)
		os.Exit(1)
	}
}

func run(cmd string, logger *logrus.Logger) error {
	var polarity matcher.Polarity
	var paths []string
	switch cmd {
	case includeCmd.FullCommand():
		polarity = matcher.Include
		paths = *includePath
	case excludeCmd.FullCommand():
		polarity = matcher.Exclude
		paths = *excludePath
	default:
		return &filter.ConfigError{Reason: fmt.Sprintf("unknown subcommand %q", cmd)}
	}

	m := matcher.New(polarity)
	for _, p := range paths {
		m.Add(p)
	}
	if *fileFlag != "" {
		if err := m.AddFromFile(*fileFlag); err != nil {
			return fmt.Errorf("reading --file: %w", err)
		}
	}

	in, err := openInput(*inputFlag)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := openOutput(*outputFlag, *scanFlag)
	if err != nil {
		return err
	}
	defer out.Close()

	opts := filter.Options{
		DropEmpty:    !*keepEmptyRevs,
		RenumberRevs: !*stopRenumberRevs,
		StripMerge:   *stripMergeinfo,
		Scan:         *scanFlag,
		Repo:         *repoFlag,
		Quiet:        *quietFlag,
		Debug:        *debugFlag,
	}
	if *startRevisionFlag != 0 {
		rev := *startRevisionFlag
		opts.StartRevision = &rev
	}

	q := &repoquery.Svnlook{}
	u := untangle.New(q, logger)
	defer u.Close()

	d := filter.New(logger, m, u, opts)
	return d.Run(context.Background(), dump.NewReader(in), out)
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func openOutput(path string, scan bool) (io.WriteCloser, error) {
	if scan {
		return nopWriteCloser{io.Discard}, nil
	}
	if path == "" || path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
