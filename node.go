package copus

import (
	"slices"
	"unicode/utf8"
)

// NodeKey is the transient structural key of a node inside one Document.
// Keys are never persisted and are regenerated when a document is loaded.
type NodeKey uint64

// NodeKind is the closed set of node variants a document can contain.
type NodeKind int

const (
	KindRoot      NodeKind = iota // document root, holds blocks
	KindParagraph                 // paragraph block
	KindHeading                   // heading block, tag h1..h6
	KindQuote                     // block quote
	KindCode                      // code block, tag is the language
	KindList                      // list container, tag is the list type
	KindListItem                  // list item block
	KindText                      // inline text run
	KindMark                      // inline span carrying mark ids
)

func (k NodeKind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindParagraph:
		return "paragraph"
	case KindHeading:
		return "heading"
	case KindQuote:
		return "quote"
	case KindCode:
		return "code"
	case KindList:
		return "list"
	case KindListItem:
		return "listitem"
	case KindText:
		return "text"
	case KindMark:
		return "mark"
	}
	return "unknown"
}

// IsBlock reports whether nodes of this kind are block-level elements.
func (k NodeKind) IsBlock() bool {
	switch k {
	case KindParagraph, KindHeading, KindQuote, KindCode, KindList, KindListItem:
		return true
	}
	return false
}

// HasStableID reports whether nodes of this kind carry a stable id.
func (k NodeKind) HasStableID() bool {
	return k.IsBlock() || k == KindText
}

// acceptsInline reports whether text runs and mark spans may be children.
func (k NodeKind) acceptsInline() bool {
	switch k {
	case KindParagraph, KindHeading, KindQuote, KindCode, KindListItem:
		return true
	}
	return false
}

// TextFormat is a bit set of inline formats applied to a text run.
type TextFormat int

const (
	FormatBold          TextFormat = 1 << iota // <strong>
	FormatItalic                               // <em>
	FormatStrikethrough                        // <s>
	FormatUnderline                            // <u>
	FormatCode                                 // inline <code>
	FormatSubscript                            // <sub>
	FormatSuperscript                          // <sup>
)

// Node is one element of the document tree. Nodes handed out by a Document
// are read-only snapshots; all changes go through Document operations.
type Node struct {
	key      NodeKey
	kind     NodeKind
	id       StableID
	parent   NodeKey
	children []NodeKey

	// Text runs
	text   string
	format TextFormat

	// Heading tag, list type or code language
	tag string

	// Mark spans
	ids         []string
	sourceCount int
	branchCount int
}

// Key returns the node's session-local key.
func (n *Node) Key() NodeKey { return n.key }

// Kind returns the node's variant.
func (n *Node) Kind() NodeKind { return n.kind }

// ID returns the stable id; empty for the root and mark spans.
func (n *Node) ID() StableID { return n.id }

// Parent returns the parent key; zero for the root.
func (n *Node) Parent() NodeKey { return n.parent }

// Text returns a text run's content.
func (n *Node) Text() string { return n.text }

// Format returns a text run's inline formats.
func (n *Node) Format() TextFormat { return n.format }

// Tag returns the heading tag, list type or code language.
func (n *Node) Tag() string { return n.tag }

// SourceCount returns a mark span's summed source count.
func (n *Node) SourceCount() int { return n.sourceCount }

// BranchCount returns a mark span's summed branch count.
func (n *Node) BranchCount() int { return n.branchCount }

// Children returns a copy of the ordered child keys.
func (n *Node) Children() []NodeKey {
	return slices.Clone(n.children)
}

// IDs returns a copy of a mark span's id set.
func (n *Node) IDs() []string {
	return slices.Clone(n.ids)
}

// HasID reports whether a mark span carries id.
func (n *Node) HasID(id string) bool {
	return slices.Contains(n.ids, id)
}

// TextSize returns the length of a text run in runes.
func (n *Node) TextSize() int {
	return utf8.RuneCountInString(n.text)
}

func (n *Node) clone() *Node {
	c := *n
	c.children = slices.Clone(n.children)
	c.ids = slices.Clone(n.ids)
	return &c
}

func (n *Node) childIndex(key NodeKey) int {
	return slices.Index(n.children, key)
}

// sameIDSet compares two id lists as sets.
func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !slices.Contains(b, id) {
			return false
		}
	}
	return true
}

// unionIDs appends the ids of b missing from a, preserving order.
func unionIDs(a, b []string) []string {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// runeSlice returns runes [from, to) of s. Bounds are clamped.
func runeSlice(s string, from, to int) string {
	if from < 0 {
		from = 0
	}
	start, end := len(s), len(s)
	i := 0
	for bytePos := range s {
		if i == from {
			start = bytePos
		}
		if i == to {
			end = bytePos
			break
		}
		i++
	}
	if start > end {
		return ""
	}
	return s[start:end]
}
