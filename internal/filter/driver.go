// Package filter implements the top-level pipeline: it reads records
// from the Framed Stream Reader, classifies each against the Path
// Matcher, resolves copies that cross the include/exclude boundary
// through the Untangler, and maintains the revision-renumber map and
// empty-revision set while emitting the output dump in order
// (spec.md §4.5).
//
// Grounded on original_source/svndumpfilter.py's parse_dump state
// machine — the flags dict (can_write, safe, warning_given, untangled,
// orig_rev, renum_rev, next_rev, did_increment, to_write, included)
// reappears here as explicit Driver/revision-local state instead of a
// dict, and the two-level loop keeps the same shape.
package filter

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/jasperlee108/svndumpfilter/internal/dump"
	"github.com/jasperlee108/svndumpfilter/internal/matcher"
	"github.com/jasperlee108/svndumpfilter/internal/progress"
	"github.com/jasperlee108/svndumpfilter/internal/untangle"
)

// Driver is the Filter Driver: the stateful pipeline that turns one
// input dump into one filtered output dump.
type Driver struct {
	Logger      *logrus.Logger
	Matcher     *matcher.Matcher
	Untangler   *untangle.Untangler
	Options     Options
	DumpVersion int
	Baton       *progress.Baton

	revMap          map[int]int
	emptyRevs       map[int]bool
	nextRevision    int
	canWriteLatch   bool
	warnedUntangle  bool
	dependentsAdded bool
}

// New returns a Driver ready to Run.
func New(logger *logrus.Logger, m *matcher.Matcher, u *untangle.Untangler, opts Options) *Driver {
	return &Driver{
		Logger:    logger,
		Matcher:   m,
		Untangler: u,
		Options:   opts,
		Baton:     progress.New("filtering", "done", opts.Quiet),
	}
}

// Run consumes src, a freshly-opened dump stream, and writes the
// filtered dump to w. It returns *TangleDetected in scan mode the
// moment an untangle would be required, *dump.UnsupportedDumpVersionError
// for an unrecognized format version, and *ConfigError for a missing
// repo outside scan mode.
func (d *Driver) Run(ctx context.Context, src *dump.Reader, w io.Writer) error {
	if !d.Options.Scan && d.Options.Repo == "" {
		return &ConfigError{Reason: "repo is required unless scanning"}
	}

	header, err := dump.ReadHeader(src)
	if err != nil {
		return err
	}
	d.DumpVersion = header.Version
	if err := header.Emit(w); err != nil {
		return err
	}

	d.revMap = make(map[int]int)
	d.emptyRevs = make(map[int]bool)
	d.nextRevision = 0

	rec, err := dump.ParseRecord(src, header.Version)
	if err != nil {
		if err == dump.ErrFinishedFiltering {
			return nil
		}
		return err
	}
	if !rec.IsRevision() {
		return &dump.MalformedRecordError{Reason: "expected a revision record at the start of the dump"}
	}

	for rec != nil {
		next, err := d.runRevision(ctx, src, w, rec)
		if err != nil {
			return err
		}
		rec = next
	}
	d.Baton.End("")
	return nil
}

// runRevision processes one revision: its revision-record plus every
// node-record up to (but not including) the next revision-record,
// which it returns so the caller can continue the outer loop. It
// returns nil at clean end of input.
func (d *Driver) runRevision(ctx context.Context, src *dump.Reader, w io.Writer, revRec *dump.Record) (*dump.Record, error) {
	originalRev, _ := revRec.Headers.GetInt(dump.HeaderRevisionNumber)

	curEmittedRev := originalRev
	if d.Options.RenumberRevs {
		curEmittedRev = d.nextRevision
		revRec.Headers.UpdateInt(dump.HeaderRevisionNumber, curEmittedRev)
	}

	if d.Options.StartRevision == nil || originalRev >= *d.Options.StartRevision {
		d.canWriteLatch = true
	}

	queue := []*dump.Record{revRec}
	flushed := false
	nonEmpty := originalRev == 0 // revision 0 is never droppable

	flushQueue := func() error {
		for _, r := range queue {
			if err := r.Emit(w); err != nil {
				return err
			}
		}
		queue = nil
		flushed = true
		return nil
	}
	appendOut := func(r *dump.Record) error {
		if flushed {
			return r.Emit(w)
		}
		queue = append(queue, r)
		return nil
	}

	if originalRev != 0 && !d.dependentsAdded {
		d.dependentsAdded = true
		for _, path := range d.Matcher.Dependents() {
			if err := appendOut(untangle.NewDirectoryAdd(path)); err != nil {
				return nil, err
			}
			nonEmpty = true
		}
	}

	var outRevRec *dump.Record
	for {
		next, err := dump.ParseRecord(src, d.DumpVersion)
		if err != nil {
			if err == dump.ErrFinishedFiltering {
				outRevRec = nil
				break
			}
			return nil, err
		}
		if next.IsRevision() {
			outRevRec = next
			break
		}
		changed, err := d.processNode(ctx, next, curEmittedRev, w, appendOut, flushQueue, &flushed)
		if err != nil {
			return nil, err
		}
		if changed {
			nonEmpty = true
		}
	}

	if err := d.finalizeRevision(w, queue, flushed, originalRev, curEmittedRev, nonEmpty); err != nil {
		return nil, err
	}
	d.Baton.Revision(originalRev)
	return outRevRec, nil
}

func (d *Driver) finalizeRevision(w io.Writer, queue []*dump.Record, flushed bool, originalRev, curEmittedRev int, nonEmpty bool) error {
	if !nonEmpty && d.Options.DropEmpty {
		d.emptyRevs[originalRev] = true
		return nil
	}
	if !flushed {
		for _, r := range queue {
			if err := r.Emit(w); err != nil {
				return err
			}
		}
	}
	d.revMap[originalRev] = curEmittedRev
	if d.Options.RenumberRevs {
		d.nextRevision++
	}
	return nil
}

// processNode runs steps 1-6 of the per-node inner loop (spec.md §4.5)
// against a single node-record, routing it through appendOut (buffered
// append or direct write, depending on *flushed) or, for a true
// untangle, flushing the queue and writing the synthesized replacement
// records straight to w. It reports whether the revision should now be
// considered non-empty.
func (d *Driver) processNode(ctx context.Context, n *dump.Record, curEmittedRev int, w io.Writer, appendOut func(*dump.Record) error, flushQueue func() error, flushed *bool) (bool, error) {
	if !d.canWriteLatch {
		return false, nil
	}

	if !d.Matcher.IsIncluded(n.Path()) {
		return false, nil
	}

	if d.Options.StripMerge {
		n.StripMergeinfo()
	}

	r, hasCopy := n.Headers.GetInt(dump.HeaderNodeCopyfromRev)
	if !hasCopy {
		if err := appendOut(n); err != nil {
			return false, err
		}
		return true, nil
	}
	copyfromPath, _ := n.Headers.Get(dump.HeaderNodeCopyfromPath)

	if d.dangling(r, copyfromPath) {
		if n.HasSelfContainedBody(d.DumpVersion) {
			n.StripCopyfrom(d.DumpVersion)
			if err := appendOut(n); err != nil {
				return false, err
			}
			return true, nil
		}
		if err := d.untangle(ctx, n, r, copyfromPath, w, appendOut, flushQueue, flushed); err != nil {
			return false, err
		}
		return true, nil
	}

	if d.Options.RenumberRevs {
		mapped := d.revMap[r]
		if mappedNext, ok := d.revMap[r+1]; mapped == curEmittedRev || (ok && mapped == mappedNext) {
			mapped--
		}
		n.Headers.UpdateInt(dump.HeaderNodeCopyfromRev, mapped)
	}
	if err := appendOut(n); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) dangling(r int, copyfromPath string) bool {
	if d.emptyRevs[r] {
		return true
	}
	if d.Options.StartRevision != nil && r < *d.Options.StartRevision {
		return true
	}
	return !d.Matcher.IsIncluded(copyfromPath)
}

// untangle resolves a true dangling copy (the content is not
// self-contained) by flushing whatever is already queued for this
// revision, then materializing replacement add-record(s) from the live
// repository and writing them straight to w. In scan mode it
// short-circuits with *TangleDetected instead of touching the
// repository at all.
func (d *Driver) untangle(ctx context.Context, n *dump.Record, copyfromRev int, copyfromPath string, w io.Writer, appendOut func(*dump.Record) error, flushQueue func() error, flushed *bool) error {
	dest := n.Path()
	if d.Options.Scan {
		return &TangleDetected{Path: dest, Revision: copyfromRev}
	}
	if !*flushed {
		if err := flushQueue(); err != nil {
			return err
		}
	}

	kind, _ := n.Headers.Get(dump.HeaderNodeKind)

	var synthesized []*dump.Record
	if kind == dump.NodeKindDir {
		recs, err := d.Untangler.Directory(ctx, d.Options.Repo, copyfromRev, copyfromPath, dest)
		if err != nil {
			return err
		}
		synthesized = recs
	} else {
		rec, err := d.Untangler.File(ctx, d.Options.Repo, copyfromRev, copyfromPath, dest)
		if err != nil {
			return err
		}
		synthesized = []*dump.Record{rec}
	}

	if !d.warnedUntangle {
		d.Logger.Warnf("untangling copy of %s from excluded %s@%d; synthesizing replacement record(s)", dest, copyfromPath, copyfromRev)
		d.warnedUntangle = true
	}

	for _, rec := range synthesized {
		if err := appendOut(rec); err != nil {
			return err
		}
	}
	return nil
}
