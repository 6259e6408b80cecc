package filter

import "fmt"

// Options are the Filter Driver's inputs — the only surface the CLI
// wraps (spec.md §6 "Driver inputs").
type Options struct {
	DropEmpty     bool // drop revisions with no surviving node records
	RenumberRevs  bool // contiguous renumbering
	StripMerge    bool // remove svn:mergeinfo properties
	StartRevision *int // begin emitting node-records at this original revision, nil = no floor
	Scan          bool // dry run: report whether untangling would be required
	Repo          string
	Quiet         bool
	Debug         bool
}

// DefaultOptions matches the documented defaults: drop_empty and
// renumber_revs on, everything else off.
func DefaultOptions() Options {
	return Options{DropEmpty: true, RenumberRevs: true}
}

// ConfigError reports a driver misconfiguration detected before or
// during a run: a missing repo when not scanning, a missing output, or
// an unknown subcommand (spec.md §7).
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("svndumpfilter: config error: %s", e.Reason) }

// TangleDetected is raised only in scan mode, the moment an untangle
// would be required, to short-circuit the dry run (spec.md §7, §9).
type TangleDetected struct {
	Path     string
	Revision int
}

func (e *TangleDetected) Error() string {
	return fmt.Sprintf("svndumpfilter: scan: %s at r%d would require untangling", e.Path, e.Revision)
}
