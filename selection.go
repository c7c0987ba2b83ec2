package copus

import (
	"strings"
)

// Selection returns the current selection.
func (d *Document) Selection() (RangeSelection, bool) {
	if d.selection == nil {
		return RangeSelection{}, false
	}
	return *d.selection, true
}

// SetSelection validates and installs a selection. Offsets are clamped to
// their runs.
func (d *Document) SetSelection(sel RangeSelection) error {
	for _, p := range []Point{sel.Anchor, sel.Focus} {
		n := d.nodes[p.Key]
		if n == nil {
			return ErrNodeNotFound
		}
		if n.kind != KindText {
			return ErrNotText
		}
	}
	sel.Anchor = d.clampPoint(sel.Anchor)
	sel.Focus = d.clampPoint(sel.Focus)
	d.selection = &sel
	return nil
}

// SelectAnchors resolves two anchors and selects the range between them.
func (d *Document) SelectAnchors(start, end Anchor) error {
	sel, err := d.ResolveRange(start, end)
	if err != nil {
		return err
	}
	return d.SetSelection(sel)
}

// ClearSelection removes the selection.
func (d *Document) ClearSelection() {
	d.selection = nil
}

// SelectedText returns the text covered by the current selection.
func (d *Document) SelectedText() string {
	sel, ok := d.Selection()
	if !ok {
		return ""
	}
	start, end, _, err := d.normalize(sel)
	if err != nil {
		return ""
	}
	return d.textBetween(start, end)
}

// textBetween returns the text between two ordered points, with a newline
// wherever the range crosses into another block.
func (d *Document) textBetween(start, end Point) string {
	gs, _ := d.globalOffset(start)
	ge, _ := d.globalOffset(end)
	var sb strings.Builder
	var lastBlock NodeKey
	total := 0
	for _, run := range d.textRunsUnder(d.root) {
		size := run.TextSize()
		from := max(gs-total, 0)
		to := min(ge-total, size)
		total += size
		if from >= to {
			continue
		}
		block := d.nearestBlock(run.key)
		if lastBlock != 0 && block != nil && block.key != lastBlock {
			sb.WriteByte('\n')
		}
		if block != nil {
			lastBlock = block.key
		}
		sb.WriteString(runeSlice(run.text, from, to))
	}
	return sb.String()
}

// isolate splits the runs at both ends of a range so its boundaries fall on
// run edges, then returns the covered non-empty runs in order.
func (d *Document) isolate(start, end Point) []NodeKey {
	gs, _ := d.globalOffset(start)
	ge, _ := d.globalOffset(end)

	// The end run is split first so the start point stays valid.
	d.splitText(end.Key, end.Offset)
	d.splitText(start.Key, start.Offset)

	var covered []NodeKey
	total := 0
	for _, run := range d.textRunsUnder(d.root) {
		size := run.TextSize()
		if size > 0 && total >= gs && total+size <= ge {
			covered = append(covered, run.key)
		}
		total += size
	}
	return covered
}

// InsertText replaces the selection with text and leaves a collapsed
// selection after the inserted text. Newlines are kept literally inside the
// run.
func (d *Document) InsertText(text string) (RangeSelection, error) {
	if d.selection == nil {
		return RangeSelection{}, ErrNoSelection
	}
	var result RangeSelection
	err := d.Update("insert-text", func() error {
		if !d.selection.IsCollapsed() {
			if err := d.deleteSelection(); err != nil {
				return err
			}
		}
		caret := d.clampPoint(d.selection.Focus)
		run := d.writable(caret.Key)
		if run == nil {
			return ErrNodeNotFound
		}
		size := run.TextSize()
		run.text = runeSlice(run.text, 0, caret.Offset) + text + runeSlice(run.text, caret.Offset, size)
		caret.Offset += len([]rune(text))
		result = Collapsed(caret)
		d.selection = &result
		return nil
	})
	return result, err
}

// DeleteSelection removes the selected text. When the selection spans
// sibling blocks the end block is merged into the start block.
func (d *Document) DeleteSelection() error {
	if d.selection == nil {
		return ErrNoSelection
	}
	if d.selection.IsCollapsed() {
		return nil
	}
	return d.Update("delete-selection", d.deleteSelection)
}

func (d *Document) deleteSelection() error {
	start, end, _, err := d.normalize(*d.selection)
	if err != nil {
		return err
	}
	gs, _ := d.globalOffset(start)
	ge, _ := d.globalOffset(end)
	if gs == ge {
		d.selection = &RangeSelection{Anchor: start, Focus: start}
		return nil
	}

	startBlock := d.nearestBlock(start.Key).key
	endBlock := d.nearestBlock(end.Key).key

	covered := d.isolate(start, end)
	for _, key := range covered {
		parent := d.nodes[key].parent
		d.destroySubtree(key)
		if p := d.nodes[parent]; p != nil && p.kind == KindMark && len(p.children) == 0 {
			d.destroySubtree(parent)
		}
	}

	if startBlock != endBlock {
		d.mergeBlocks(startBlock, endBlock)
	}

	caret, ok := d.pointAt(gs, false)
	if !ok || !d.within(caret.Key, startBlock) {
		caret, ok = d.pointAt(gs, true)
	}
	if !ok || !d.within(caret.Key, startBlock) {
		caret = d.caretIn(startBlock)
	}
	d.selection = &RangeSelection{Anchor: caret, Focus: caret}
	return nil
}

func (d *Document) within(key, block NodeKey) bool {
	b := d.nearestBlock(key)
	return b != nil && b.key == block
}

// mergeBlocks moves the inline children of the end block into the start
// block and removes emptied blocks between them that share their parent.
func (d *Document) mergeBlocks(startBlock, endBlock NodeKey) {
	sb, eb := d.nodes[startBlock], d.nodes[endBlock]
	if sb == nil || eb == nil || sb.parent != eb.parent {
		return
	}
	parent := d.nodes[sb.parent]
	si, ei := parent.childIndex(startBlock), parent.childIndex(endBlock)
	for _, between := range append([]NodeKey(nil), parent.children[si+1:ei]...) {
		if len(d.textRunsUnder(between)) == 0 {
			d.destroySubtree(between)
		}
	}
	if !eb.kind.acceptsInline() || !sb.kind.acceptsInline() {
		return
	}
	for _, c := range append([]NodeKey(nil), d.nodes[endBlock].children...) {
		d.detach(c)
		d.appendChild(startBlock, c)
	}
	d.destroySubtree(endBlock)
}

// caretIn returns a point at the end of a block, creating an empty run if
// the block has none.
func (d *Document) caretIn(block NodeKey) Point {
	runs := d.textRunsUnder(block)
	if len(runs) > 0 {
		last := runs[len(runs)-1]
		return Point{Key: last.key, Offset: last.TextSize()}
	}
	t := d.createNode(KindText, "")
	d.appendChild(block, t.key)
	return Point{Key: t.key}
}
