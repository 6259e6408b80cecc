// Package untangle fabricates synthetic add-records when an included
// node copies from a path or revision that has been filtered out,
// preserving the referential integrity of the copy (spec.md §4.6).
package untangle

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/jasperlee108/svndumpfilter/internal/dump"
	"github.com/jasperlee108/svndumpfilter/internal/repoquery"
)

// propertyBytes is the fixed byte size of the generator-tag property
// section every synthesized record carries (spec.md §4.6).
const propertyBytes = 48

// Untangler materializes replacement add-records from a live
// repository via Query, for copies that cross the include/exclude
// boundary.
type Untangler struct {
	Query  repoquery.Query
	Logger *logrus.Logger

	// Pool bounds concurrent svnlook invocations during a directory
	// fan-out; nil means sequential. Grounded on gitp4transfer's use of
	// github.com/alitto/pond for bounded concurrent work.
	Pool *pond.WorkerPool
}

// New returns an Untangler with a small bounded worker pool for
// directory fan-outs, matching the DOMAIN STACK wiring in SPEC_FULL.md.
// The synthesized add-record template (spec.md §4.6) doesn't vary by
// dump format version, so the Untangler carries no dump-version state
// of its own; version-dependent decisions (self-contained-body check,
// copyfrom-header stripping) belong to the driver, which already knows
// the version it parsed from the dump header.
func New(q repoquery.Query, logger *logrus.Logger) *Untangler {
	return &Untangler{
		Query:  q,
		Logger: logger,
		Pool:   pond.New(4, 0, pond.MinWorkers(1)),
	}
}

// newAddRecord builds the fixed synthetic node-record template from
// spec.md §4.6: Node-path, Node-action=add, Node-kind, a fixed
// Prop-content-length of 48, and — when body is non-nil — a
// Text-content-length/Content-length pair, followed by the
// svndumpfilter:generated property marker.
func newAddRecord(path, kind string, body []byte) *dump.Record {
	r := &dump.Record{Kind: dump.KindNode, Headers: dump.NewHeaderList(), HasProps: true}
	r.Headers.Append(dump.HeaderNodePath, path)
	r.Headers.Append(dump.HeaderNodeAction, dump.NodeActionAdd)
	r.Headers.Append(dump.HeaderNodeKind, kind)
	r.Headers.Append(dump.HeaderPropContentLength, strconv.Itoa(propertyBytes))
	if body != nil {
		r.Headers.Append(dump.HeaderTextContentLength, strconv.Itoa(len(body)))
		r.Headers.Append(dump.HeaderContentLength, strconv.Itoa(propertyBytes+len(body)))
		r.Body = body
	}
	r.Properties = []dump.PropEntry{
		{HeaderLine: "K 23\n", ContentLine: "svndumpfilter:generated\n"},
		{HeaderLine: "V 4\n", ContentLine: "True\n"},
	}
	return r
}

// NewDirectoryAdd builds a single synthetic directory-add record, the
// form the Dependent Builder needs for each ancestor path it derives
// (spec.md §4.4) — it carries the same generator-tag property block as
// an untangled add, with no body.
func NewDirectoryAdd(path string) *dump.Record {
	return newAddRecord(path, dump.NodeKindDir, nil)
}

// File untangles a copied file: it fetches the source content at
// originalRevision and emits a single synthetic file-add at dest.
func (u *Untangler) File(ctx context.Context, repo string, originalRevision int, srcPath, dest string) (*dump.Record, error) {
	body, err := u.Query.Cat(ctx, repo, originalRevision, srcPath)
	if err != nil {
		return nil, fmt.Errorf("untangle file %s@%d: %w", srcPath, originalRevision, err)
	}
	return newAddRecord(dest, dump.NodeKindFile, body), nil
}

// Directory untangles a copied directory tree: it walks the recursive
// tree listing at copyfromRev/copyfromPath and emits one synthetic
// add-record per entry, directories verbatim and files via recursive
// Cat calls. The root of the fan-out is always a synthetic directory
// add at dest itself (spec.md §4.6). Cat calls for sibling files are
// dispatched onto the bounded worker pool, but results are reassembled
// in the tree listing's original order so output stays deterministic.
func (u *Untangler) Directory(ctx context.Context, repo string, copyfromRev int, copyfromPath, dest string) ([]*dump.Record, error) {
	entries, err := u.Query.Tree(ctx, repo, copyfromRev, copyfromPath)
	if err != nil {
		return nil, fmt.Errorf("untangle directory %s@%d: %w", copyfromPath, copyfromRev, err)
	}

	records := []*dump.Record{newAddRecord(dest, dump.NodeKindDir, nil)}

	type job struct {
		body []byte
		err  error
	}
	results := make([]job, len(entries))
	group := u.pool().Group()

	for i, entry := range entries {
		i, entry := i, entry
		if entry == copyfromPath+"/" || strings.HasSuffix(entry, "/") {
			continue
		}
		group.Submit(func() {
			body, err := u.Query.Cat(ctx, repo, copyfromRev, entry)
			results[i] = job{body: body, err: err}
		})
	}
	group.Wait()

	for i, entry := range entries {
		if entry == copyfromPath+"/" {
			// The root itself: already emitted above.
			continue
		}
		suffix := strings.TrimPrefix(entry, copyfromPath+"/")
		destPath := dest + "/" + strings.TrimSuffix(suffix, "/")
		if strings.HasSuffix(entry, "/") {
			records = append(records, newAddRecord(destPath, dump.NodeKindDir, nil))
			continue
		}
		if results[i].err != nil {
			return nil, fmt.Errorf("untangle directory entry %s: %w", entry, results[i].err)
		}
		records = append(records, newAddRecord(destPath, dump.NodeKindFile, results[i].body))
	}
	return records, nil
}

func (u *Untangler) pool() *pond.WorkerPool {
	if u.Pool != nil {
		return u.Pool
	}
	return pond.New(1, 0, pond.MinWorkers(1))
}

// Close releases the worker pool.
func (u *Untangler) Close() {
	if u.Pool != nil {
		u.Pool.StopAndWait()
	}
}
