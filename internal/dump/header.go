package dump

import "strconv"

// Exact header-name literals the core cares about (spec.md §3).
const (
	HeaderDumpFormatVersion = "SVN-fs-dump-format-version"
	HeaderUUID              = "UUID"
	HeaderRevisionNumber    = "Revision-number"
	HeaderContentLength     = "Content-length"
	HeaderPropContentLength = "Prop-content-length"
	HeaderTextContentLength = "Text-content-length"
	HeaderTextCopySrcMD5    = "Text-copy-source-md5"
	HeaderTextCopySrcSHA1   = "Text-copy-source-sha1"
	HeaderTextDelta         = "Text-delta"
	HeaderTextDeltaBaseMD5  = "Text-delta-base-md5"
	HeaderTextDeltaBaseSHA1 = "Text-delta-base-sha1"
	HeaderNodePath          = "Node-path"
	HeaderNodeKind          = "Node-kind"
	HeaderNodeAction        = "Node-action"
	HeaderNodeCopyfromPath  = "Node-copyfrom-path"
	HeaderNodeCopyfromRev   = "Node-copyfrom-rev"
)

const (
	NodeKindFile = "file"
	NodeKindDir  = "dir"

	NodeActionAdd     = "add"
	NodeActionChange  = "change"
	NodeActionDelete  = "delete"
	NodeActionReplace = "replace"
)

// HeaderField is one (name, value) pair in a record's header block.
type HeaderField struct {
	Name  string
	Value string
}

// HeaderList is an insertion-ordered, per-key-mutable collection of
// header fields: one ordered slice backing emission order, one map
// backing O(1) lookup, kept in lockstep. This is the "dictionary +
// ordered list duality" spec.md §9 calls out: a single logical sequence
// viewed two ways, not two independently-maintained copies.
type HeaderList struct {
	fields []HeaderField
	index  map[string]int
}

// NewHeaderList returns an empty header list.
func NewHeaderList() *HeaderList {
	return &HeaderList{index: make(map[string]int)}
}

// Append adds a header at the end of the current order. Callers must
// not Append a name that is already present; use Update for that.
func (h *HeaderList) Append(name, value string) {
	h.index[name] = len(h.fields)
	h.fields = append(h.fields, HeaderField{Name: name, Value: value})
}

// Get returns a header's raw string value.
func (h *HeaderList) Get(name string) (string, bool) {
	i, ok := h.index[name]
	if !ok {
		return "", false
	}
	return h.fields[i].Value, true
}

// GetInt returns a header's value parsed as an integer.
func (h *HeaderList) GetInt(name string) (int, bool) {
	v, ok := h.Get(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Has reports whether a header with this name is present.
func (h *HeaderList) Has(name string) bool {
	_, ok := h.index[name]
	return ok
}

// Update replaces a header's value in place, preserving its position.
// If the header is absent it is inserted at the front of the list —
// this prepend-when-absent quirk is observable in golden fixtures
// (spec.md §9) and is deliberately preserved rather than "fixed".
func (h *HeaderList) Update(name, value string) {
	if i, ok := h.index[name]; ok {
		h.fields[i].Value = value
		return
	}
	h.fields = append([]HeaderField{{Name: name, Value: value}}, h.fields...)
	h.reindex()
}

// UpdateInt is Update with an integer value.
func (h *HeaderList) UpdateInt(name string, value int) {
	h.Update(name, strconv.Itoa(value))
}

// Remove deletes a header by name, if present.
func (h *HeaderList) Remove(name string) {
	i, ok := h.index[name]
	if !ok {
		return
	}
	h.fields = append(h.fields[:i], h.fields[i+1:]...)
	delete(h.index, name)
	h.reindex()
}

func (h *HeaderList) reindex() {
	for i, f := range h.fields {
		h.index[f.Name] = i
	}
}

// Fields returns the header fields in emission order. The returned
// slice must not be mutated by the caller.
func (h *HeaderList) Fields() []HeaderField {
	return h.fields
}
