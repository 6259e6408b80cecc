// Package matcher implements the path-matching trie used to decide
// whether a node-record's path is carried into the filtered dump, and
// the dependent-directory builder that derives the ancestor "add dir"
// records a deeper include set requires.
//
// Grounded on exoosh-reposurgeon/cutter's MatchFiles-equivalent path
// handling and original_source/svndumpfilter.py's MatchFiles class,
// reshaped into an explicit trie type instead of nested map[string]int
// sentinels so IsIncluded/Dependents read as ordinary tree walks.
package matcher

import (
	"bufio"
	"os"
	"strings"
)

// Polarity selects whether a Matcher answers "is this path included" or
// "is this path excluded" (spec.md §3).
type Polarity int

const (
	Include Polarity = iota
	Exclude
)

type node struct {
	children   map[string]*node
	childOrder []string // insertion order, for deterministic Dependents()
	terminal   bool
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

func (n *node) child(name string) *node {
	if c, ok := n.children[name]; ok {
		return c
	}
	c := newNode()
	n.children[name] = c
	n.childOrder = append(n.childOrder, name)
	return c
}

// Matcher is a slash-component prefix trie answering inclusion queries
// under either include or exclude polarity.
type Matcher struct {
	root     *node
	polarity Polarity
}

// New returns an empty matcher with the given polarity.
func New(polarity Polarity) *Matcher {
	return &Matcher{root: newNode(), polarity: polarity}
}

// Add registers a path (and everything beneath it) as matched. A
// trailing slash is tolerated. Registering a shallower path after a
// deeper one leaves the deeper registration in the tree but it becomes
// unreachable in matching, since the shallower terminal sentinel wins
// (spec.md §3) — this mirrors the historical dict-of-dicts behavior
// exactly.
func (m *Matcher) Add(path string) {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		m.root.terminal = true
		return
	}
	cur := m.root
	for _, comp := range strings.Split(path, "/") {
		cur = cur.child(comp)
	}
	cur.terminal = true
}

// AddFromFile reads one path per non-empty line from filename and adds
// each (spec.md §4.3 read_matches_from_file).
func (m *Matcher) AddFromFile(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		m.Add(line)
	}
	return scanner.Err()
}

// IsIncluded reports whether path should survive filtering, honoring
// this matcher's polarity. A registered path matches itself and every
// path beneath it; a shallower terminal sentinel shadows any deeper
// registration under the same prefix.
func (m *Matcher) IsIncluded(path string) bool {
	matched := m.matches(path)
	if m.polarity == Include {
		return matched
	}
	return !matched
}

func (m *Matcher) matches(path string) bool {
	cur := m.root
	for _, comp := range strings.Split(path, "/") {
		if cur.terminal {
			break
		}
		next, ok := cur.children[comp]
		if !ok {
			break
		}
		cur = next
	}
	return cur.terminal
}

// Dependents returns the ancestor directories that must be synthesized
// as "add dir" node-records before the real registered paths can be
// loaded, for every registration deeper than the top level (spec.md
// §4.4). It walks the trie breadth-first from the root; an interior
// node that does not itself carry a terminal sentinel contributes its
// full prefix path. Registered leaves are never emitted — the original
// dump already contains their real add record.
func (m *Matcher) Dependents() []string {
	type frame struct {
		prefix string
		n      *node
	}
	queue := []frame{{"", m.root}}
	var dirs []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, name := range cur.n.childOrder {
			child := cur.n.children[name]
			path := cur.prefix + name
			if !child.terminal {
				dirs = append(dirs, path)
				queue = append(queue, frame{prefix: path + "/", n: child})
			}
		}
	}
	return dirs
}
