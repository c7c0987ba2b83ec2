package copus

import (
	"slices"
	"strings"
)

// Walk visits every node in pre-order. Returning false from fn skips the
// node's children.
func (d *Document) Walk(fn func(*Node) bool) {
	var walk func(NodeKey)
	walk = func(key NodeKey) {
		n := d.nodes[key]
		if n == nil {
			return
		}
		if !fn(n) {
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(d.root)
}

// TextRuns returns the text runs under key in document order.
func (d *Document) TextRuns(key NodeKey) []*Node {
	return d.textRunsUnder(key)
}

func (d *Document) textRunsUnder(key NodeKey) []*Node {
	var runs []*Node
	var walk func(NodeKey)
	walk = func(k NodeKey) {
		n := d.nodes[k]
		if n == nil {
			return
		}
		if n.kind == KindText {
			runs = append(runs, n)
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(key)
	return runs
}

// Spans returns every mark span in document order.
func (d *Document) Spans() []*Node {
	var spans []*Node
	d.Walk(func(n *Node) bool {
		if n.kind == KindMark {
			spans = append(spans, n)
			return false
		}
		return true
	})
	return spans
}

// Blocks returns the top-level blocks.
func (d *Document) Blocks() []*Node {
	root := d.nodes[d.root]
	blocks := make([]*Node, 0, len(root.children))
	for _, c := range root.children {
		blocks = append(blocks, d.nodes[c])
	}
	return blocks
}

// nearestBlock returns the closest block ancestor of key, or key itself if
// it is a block.
func (d *Document) nearestBlock(key NodeKey) *Node {
	for n := d.nodes[key]; n != nil; n = d.nodes[n.parent] {
		if n.kind.IsBlock() {
			return n
		}
		if n.parent == 0 {
			break
		}
	}
	return nil
}

// TextContent returns the document's text with blocks separated by newlines.
func (d *Document) TextContent() string {
	var lines []string
	d.Walk(func(n *Node) bool {
		if n.kind.acceptsInline() {
			lines = append(lines, d.inlineText(n.key))
		}
		return n.kind == KindRoot || n.kind == KindList || n.kind == KindListItem
	})
	return strings.Join(lines, "\n")
}

// inlineText concatenates the text runs directly inside a block, not
// descending into nested lists.
func (d *Document) inlineText(key NodeKey) string {
	var sb strings.Builder
	for _, c := range d.nodes[key].children {
		n := d.nodes[c]
		switch n.kind {
		case KindText:
			sb.WriteString(n.text)
		case KindMark:
			for _, r := range n.children {
				sb.WriteString(d.nodes[r].text)
			}
		}
	}
	return sb.String()
}

// Structural primitives. All require an active transaction.

func (d *Document) insertChild(parent NodeKey, index int, child NodeKey) {
	p := d.writable(parent)
	index = clamp(index, 0, len(p.children))
	p.children = slices.Insert(p.children, index, child)
	d.writable(child).parent = parent
}

func (d *Document) appendChild(parent, child NodeKey) {
	d.insertChild(parent, len(d.nodes[parent].children), child)
}

// detach removes key from its parent and returns its former index.
func (d *Document) detach(key NodeKey) int {
	n := d.nodes[key]
	if n == nil || n.parent == 0 {
		return -1
	}
	p := d.writable(n.parent)
	idx := p.childIndex(key)
	if idx >= 0 {
		p.children = slices.Delete(p.children, idx, idx+1)
	}
	d.writable(key).parent = 0
	return idx
}

// unwrap replaces a node with its children.
func (d *Document) unwrap(key NodeKey) {
	n := d.nodes[key]
	if n == nil {
		return
	}
	parent := n.parent
	children := slices.Clone(n.children)
	idx := d.detach(key)
	for i, c := range children {
		d.writable(c).parent = 0
		d.insertChild(parent, idx+i, c)
	}
	d.writable(key).children = nil
	d.destroyNode(key)
}

// destroySubtree detaches and destroys key and all its descendants.
func (d *Document) destroySubtree(key NodeKey) {
	n := d.nodes[key]
	if n == nil {
		return
	}
	d.detach(key)
	var destroy func(NodeKey)
	destroy = func(k NodeKey) {
		c := d.nodes[k]
		if c == nil {
			return
		}
		for _, ck := range c.children {
			destroy(ck)
		}
		d.destroyNode(k)
	}
	destroy(key)
}

// splitText splits a text run at a rune offset. The left part keeps the
// node's key and stable id; the right part is a new run with a fresh id
// inserted immediately after it. Returns the key of the run that starts at
// offset, or 0 when offset is at the end of the run.
func (d *Document) splitText(key NodeKey, offset int) NodeKey {
	n := d.nodes[key]
	if n == nil || n.kind != KindText {
		return 0
	}
	size := n.TextSize()
	if offset <= 0 {
		return key
	}
	if offset >= size {
		return 0
	}

	left := d.writable(key)
	right := d.createNode(KindText, "")
	right.text = runeSlice(left.text, offset, size)
	right.format = left.format
	left.text = runeSlice(left.text, 0, offset)

	parent := d.nodes[left.parent]
	d.insertChild(parent.key, parent.childIndex(key)+1, right.key)

	if d.selection != nil {
		d.selection.Anchor = shiftSplit(d.selection.Anchor, key, offset, right.key)
		d.selection.Focus = shiftSplit(d.selection.Focus, key, offset, right.key)
	}
	return right.key
}

func shiftSplit(p Point, key NodeKey, offset int, right NodeKey) Point {
	if p.Key == key && p.Offset > offset {
		return Point{Key: right, Offset: p.Offset - offset}
	}
	return p
}

// SplitText splits a text run in its own transaction and returns the key of
// the right-hand run.
func (d *Document) SplitText(key NodeKey, offset int) (NodeKey, error) {
	n := d.nodes[key]
	if n == nil {
		return 0, ErrNodeNotFound
	}
	if n.kind != KindText {
		return 0, ErrNotText
	}
	if offset <= 0 || offset >= n.TextSize() {
		return 0, ErrInvalidPosition
	}
	var right NodeKey
	err := d.Update("split-text", func() error {
		right = d.splitText(key, offset)
		return nil
	})
	return right, err
}

func (d *Document) appendParagraph(text string) *Node {
	p := d.createNode(KindParagraph, "")
	d.appendChild(d.root, p.key)
	t := d.createNode(KindText, "")
	t.text = text
	d.appendChild(p.key, t.key)
	return p
}

// AppendParagraph adds a paragraph holding a single text run at the end of
// the document.
func (d *Document) AppendParagraph(text string) (*Node, error) {
	var p *Node
	err := d.Update("append-paragraph", func() error {
		p = d.appendParagraph(text)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d.nodes[p.key], nil
}
