package dump

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ErrFinishedFiltering is returned by ParseRecord when the stream has no
// further records. It is the normal end-of-input signal (spec.md §7);
// callers flush any pending output and stop rather than treating it as
// a failure.
var ErrFinishedFiltering = errors.New("dump: no more records")

// MalformedRecordError reports a structural defect in the input stream:
// a header line without ": ", a property section of the wrong length,
// or a body whose length doesn't match its Text-content-length header.
type MalformedRecordError struct {
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("dump: malformed record: %s", e.Reason)
}

func malformed(format string, args ...interface{}) error {
	return &MalformedRecordError{Reason: fmt.Sprintf(format, args...)}
}

// Kind distinguishes revision-records from node-records.
type Kind int

const (
	KindRevision Kind = iota
	KindNode
)

// PropEntry is one (header-line, content-line) pair from a property
// section, e.g. ("K 13\n", "svn:mergeinfo\n") or ("V 18\n",
// "/branches/v1.0:4-6\n"). Both strings retain their trailing newline so
// the on-disk byte count is trivially recoverable (spec.md §3), and a
// logical key/value property occupies exactly two consecutive entries.
type PropEntry struct {
	HeaderLine  string
	ContentLine string
}

func (p PropEntry) byteLen() int {
	return len(p.HeaderLine) + len(p.ContentLine)
}

// propLineV2 and propLineV3 match a property section's own K/V/D framing
// lines, e.g. "K 23" or "V 4" (version 2), plus "D 23" for a
// deleted-property marker (version 3 only).
var (
	propLineV2 = regexp.MustCompile(`^[KV] [0-9]+$`)
	propLineV3 = regexp.MustCompile(`^[KVD] [0-9]+$`)
)

// Record is a tagged union of revision-record and node-record: the
// on-the-wire header list, an optional property section, and an
// optional content body (spec.md §3).
type Record struct {
	Kind       Kind
	Headers    *HeaderList
	HasProps   bool // Prop-content-length header present
	Properties []PropEntry
	Body       []byte // nil unless a body was actually read
}

// IsRevision reports whether this is a revision-record.
func (r *Record) IsRevision() bool { return r.Kind == KindRevision }

// Path returns the Node-path header, or "" for revision records.
func (r *Record) Path() string {
	v, _ := r.Headers.Get(HeaderNodePath)
	return v
}

// Action returns the Node-action header, or "" for revision records.
func (r *Record) Action() string {
	v, _ := r.Headers.Get(HeaderNodeAction)
	return v
}

// ParseRecord reads one record (revision or node) from r. dumpVersion
// selects the property-line grammar (version 3 additionally recognizes
// the "D <n>" deleted-property marker). It returns ErrFinishedFiltering
// at a clean end of stream.
func ParseRecord(r *Reader, dumpVersion int) (*Record, error) {
	if err := swallowSeparators(r); err != nil {
		return nil, err
	}

	rec := &Record{Headers: NewHeaderList()}
	if err := parseHeaders(r, rec); err != nil {
		return nil, err
	}
	if err := parseProperties(r, rec, dumpVersion); err != nil {
		return nil, err
	}
	if err := parseBody(r, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// swallowSeparators skips blank lines and the "* Dumped revision "
// progress lines some upstream tools interleave into dump output.
func swallowSeparators(r *Reader) error {
	for {
		line, err := r.Peek()
		if err == io.EOF {
			return ErrFinishedFiltering
		}
		if err != nil {
			return err
		}
		if line == "\n" || strings.HasPrefix(line, "* Dumped revision ") {
			_, _ = r.ReadLine()
			continue
		}
		return nil
	}
}

func parseHeaders(r *Reader, rec *Record) error {
	for {
		line, err := r.ReadLine()
		if err != nil {
			return malformed("unexpected EOF in header block")
		}
		if line == "\n" {
			break
		}
		name, value, ok := strings.Cut(strings.TrimSuffix(line, "\n"), ": ")
		if !ok {
			return malformed("header line lacks ': ' separator: %q", line)
		}
		rec.Headers.Append(name, value)
	}
	if rec.Headers.Has(HeaderRevisionNumber) {
		rec.Kind = KindRevision
	} else {
		rec.Kind = KindNode
	}
	return nil
}

func parseProperties(r *Reader, rec *Record, dumpVersion int) error {
	n, ok := rec.Headers.GetInt(HeaderPropContentLength)
	if !ok {
		return nil
	}
	rec.HasProps = true
	raw, err := r.ReadExact(n)
	if err != nil {
		return malformed("property section shorter than Prop-content-length=%d: %v", n, err)
	}
	lines := strings.Split(string(raw), "\n")
	// A well-formed property section ends with a newline, producing one
	// trailing empty element from strings.Split; drop it along with a
	// bare PROPS-END line if one slipped through unpaired.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	filtered := lines[:0]
	for _, l := range lines {
		if l == "PROPS-END" {
			continue
		}
		filtered = append(filtered, l)
	}
	lines = filtered

	propLine := propLineV2
	if dumpVersion == 3 {
		propLine = propLineV3
	}

	var symbol, content string
	haveSymbol := false
	flush := func() {
		if haveSymbol {
			rec.Properties = append(rec.Properties, PropEntry{HeaderLine: symbol, ContentLine: content})
		}
	}
	for _, line := range lines {
		if !haveSymbol {
			symbol = line + "\n"
			haveSymbol = true
			content = ""
			continue
		}
		if propLine.MatchString(line) {
			flush()
			symbol = line + "\n"
			content = ""
			continue
		}
		content += line + "\n"
	}
	flush()
	return nil
}

func parseBody(r *Reader, rec *Record) error {
	n, ok := rec.Headers.GetInt(HeaderTextContentLength)
	if !ok || n <= 10 {
		return nil
	}
	body, err := r.ReadExact(n)
	if err != nil {
		return malformed("body shorter than Text-content-length=%d: %v", n, err)
	}
	rec.Body = body
	return nil
}

// RecomputeLengths recalculates Prop-content-length and Content-length
// from the current property list and body, following the same table
// the original implementation used (spec.md §4.2/§9): the property
// section's byte length always includes the trailing "PROPS-END\n".
func (r *Record) RecomputeLengths() {
	if !r.HasProps {
		return
	}
	length := len("PROPS-END") + 1
	for _, p := range r.Properties {
		length += p.byteLen()
	}
	r.Headers.UpdateInt(HeaderPropContentLength, length)
	if tcl, ok := r.Headers.GetInt(HeaderTextContentLength); ok {
		r.Headers.UpdateInt(HeaderContentLength, tcl+length)
	} else {
		r.Headers.UpdateInt(HeaderContentLength, length)
	}
}

// Emit writes the record in full: headers, property section, body —
// byte for byte what a Subversion loader expects, including the
// idiosyncratic blank-line counts that follow PROPS-END depending on
// whether properties, body, both, or neither are present. This table is
// specified in full rather than derived from content, per spec.md §9.
func (r *Record) Emit(w io.Writer) error {
	if err := r.writeHeaders(w); err != nil {
		return err
	}
	if err := r.writeProperties(w); err != nil {
		return err
	}
	if err := r.writeEndProps(w); err != nil {
		return err
	}
	if r.Body != nil {
		if err := r.writeBody(w); err != nil {
			return err
		}
	}
	return nil
}

func (r *Record) writeHeaders(w io.Writer) error {
	for _, f := range r.Headers.Fields() {
		if _, err := fmt.Fprintf(w, "%s: %s\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func (r *Record) writeProperties(w io.Writer) error {
	if !r.HasProps {
		return nil
	}
	for _, p := range r.Properties {
		if _, err := io.WriteString(w, p.HeaderLine); err != nil {
			return err
		}
		if _, err := io.WriteString(w, p.ContentLine); err != nil {
			return err
		}
	}
	return nil
}

// writeEndProps encodes the spacing table from spec.md §4.2 verbatim:
// a delete-action node writes a single blank line instead of
// PROPS-END; otherwise PROPS-END is followed by a blank line, and node
// records without a body (and, further, without properties) get one or
// two additional blank lines respectively. Revision records always get
// exactly one blank line after PROPS-END.
func (r *Record) writeEndProps(w io.Writer) error {
	if !r.HasProps {
		if r.Body == nil {
			_, err := io.WriteString(w, "\n")
			return err
		}
		return nil
	}
	if r.Kind == KindNode && r.Action() == NodeActionDelete {
		_, err := io.WriteString(w, "\n")
		return err
	}
	if _, err := io.WriteString(w, "PROPS-END\n\n"); err != nil {
		return err
	}
	if r.Kind == KindNode {
		if r.Body == nil {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
			if len(r.Properties) == 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
		}
	}
	// Revision record: nothing beyond the blank line after PROPS-END.
	return nil
}

func (r *Record) writeBody(w io.Writer) error {
	tcl, ok := r.Headers.GetInt(HeaderTextContentLength)
	if !ok || tcl != len(r.Body) {
		return malformed("Text-content-length=%d does not match body length %d", tcl, len(r.Body))
	}
	if _, err := w.Write(r.Body); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n\n")
	return err
}

// StripMergeinfo removes the svn:mergeinfo key/value property pair, if
// present, and recomputes the length headers. It reports whether a
// pair was actually removed.
func (r *Record) StripMergeinfo() bool {
	const marker = "svn:mergeinfo\n"
	for i := 0; i+1 < len(r.Properties); i++ {
		if r.Properties[i].ContentLine == marker {
			r.Properties = append(r.Properties[:i], r.Properties[i+2:]...)
			r.RecomputeLengths()
			return true
		}
	}
	return false
}

// StripCopyfrom removes all copy-source headers, used when a dangling
// copy's content is already self-contained (spec.md §4.5 step 4). It
// leaves Text-delta-* headers alone unless version 3 is in play, per
// the original's "no Text-delta" self-containment test; callers decide
// when this applies.
func (r *Record) StripCopyfrom(dumpVersion int) {
	r.Headers.Remove(HeaderNodeCopyfromRev)
	r.Headers.Remove(HeaderNodeCopyfromPath)
	r.Headers.Remove(HeaderTextCopySrcMD5)
	r.Headers.Remove(HeaderTextCopySrcSHA1)
	if dumpVersion == 3 {
		r.Headers.Remove(HeaderTextDelta)
		r.Headers.Remove(HeaderTextDeltaBaseMD5)
		r.Headers.Remove(HeaderTextDeltaBaseSHA1)
	}
}

// HasSelfContainedBody reports whether a copy-from node already carries
// its own Text-content-length (and, for version 3, no Text-delta),
// meaning it needs no untangling even though it copies from a path or
// revision that will no longer exist (spec.md §4.5 step 4).
func (r *Record) HasSelfContainedBody(dumpVersion int) bool {
	if !r.Headers.Has(HeaderTextContentLength) {
		return false
	}
	if dumpVersion == 3 && r.Headers.Has(HeaderTextDelta) {
		return false
	}
	return true
}

// ParseDumpVersion validates and extracts the dump format version from
// its header value. Only 2 and 3 are accepted (spec.md §6).
func ParseDumpVersion(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || (n != 2 && n != 3) {
		return 0, &UnsupportedDumpVersionError{Value: value}
	}
	return n, nil
}

// UnsupportedDumpVersionError is fatal: the input declares a dump
// format version this implementation does not understand.
type UnsupportedDumpVersionError struct {
	Value string
}

func (e *UnsupportedDumpVersionError) Error() string {
	return fmt.Sprintf("dump: unsupported SVN-fs-dump-format-version %q (need 2 or 3)", e.Value)
}
