// Package progress reports per-revision progress to stderr while the
// filter driver runs, a twirling baton exactly like the interactive
// line-count progress repocutter prints during long filters, adapted
// to report a revision counter instead of a line count.
//
// Grounded on exoosh-reposurgeon/cutter's Baton type
// (cutter/repocutter.go), modernized from golang.org/x/crypto/ssh/terminal
// to its successor golang.org/x/term.
package progress

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/term"
)

// Baton ships a twirling progress indicator and a final summary to an
// output stream. The twirl is suppressed when that stream isn't a
// terminal (e.g. redirected to a file or piped); the prompt and the
// summary are written either way unless the baton is quiet.
type Baton struct {
	stream   *os.File
	revision int
	endmsg   string
	start    time.Time
	quiet    bool
}

// New starts a baton, printing prompt immediately. Pass quiet=true to
// suppress all output regardless of terminal detection — the driver's
// --quiet flag.
func New(prompt, endmsg string, quiet bool) *Baton {
	b := &Baton{stream: os.Stderr, endmsg: endmsg, start: time.Now(), quiet: quiet}
	if b.quiet {
		return b
	}
	fmt.Fprint(b.stream, prompt+"...")
	if term.IsTerminal(int(b.stream.Fd())) {
		fmt.Fprint(b.stream, " \b")
	}
	return b
}

// Revision reports that revision num has just been processed, twirling
// the baton if attached to a terminal.
func (b *Baton) Revision(num int) {
	b.revision = num
	if b.quiet || b.stream == nil {
		return
	}
	if term.IsTerminal(int(b.stream.Fd())) {
		fmt.Fprintf(b.stream, "%c\b", "-/|\\"[num%4])
	}
}

// End reports completion, with the last revision number folded into
// the default message when msg is empty.
func (b *Baton) End(msg string) {
	if b.quiet || b.stream == nil {
		return
	}
	if msg == "" {
		msg = fmt.Sprintf("%s (revision %d)", b.endmsg, b.revision)
	}
	fmt.Fprintf(b.stream, "...(%s) %s.\n", time.Since(b.start), msg)
}
