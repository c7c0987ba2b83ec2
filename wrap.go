package copus

import (
	"slices"
)

// SpanPayload holds the initial cached counts for a newly built span.
type SpanPayload struct {
	SourceCount int
	BranchCount int
}

// SpanFactory builds the payload of a span about to carry ids. It is called
// for bare runs being wrapped and for pieces split off an existing span.
type SpanFactory func(ids []string) SpanPayload

// DefaultSpanFactory builds spans with zero counts.
func DefaultSpanFactory([]string) SpanPayload {
	return SpanPayload{}
}

// SourceSpanFactory builds spans that are the origin of a copied source.
func SourceSpanFactory([]string) SpanPayload {
	return SpanPayload{SourceCount: 1}
}

// WrapRange resolves two anchors and wraps the range between them under
// markID. Anchors are resolved before any transaction starts; if either
// fails ErrAnchorUnresolved is returned and nothing changes.
func (d *Document) WrapRange(start, end Anchor, markID string, factory SpanFactory) (RangeSelection, error) {
	sel, err := d.ResolveRange(start, end)
	if err != nil {
		return RangeSelection{}, err
	}
	return d.WrapSelection(sel, markID, factory)
}

// WrapSelection wraps the runs covered by sel in mark spans carrying
// markID. Runs already inside a span get the id added to that span (or to
// a split-off piece of it) instead of a nested span, so spans never nest.
// Adjacent sibling spans with identical id sets are merged afterwards.
// The returned selection covers the wrapped text in sel's direction.
func (d *Document) WrapSelection(sel RangeSelection, markID string, factory SpanFactory) (RangeSelection, error) {
	if markID == "" {
		return RangeSelection{}, ErrInvalidMarkID
	}
	if factory == nil {
		factory = DefaultSpanFactory
	}
	start, end, backward, err := d.normalize(sel)
	if err != nil {
		return RangeSelection{}, err
	}
	gs, _ := d.globalOffset(start)
	ge, _ := d.globalOffset(end)
	if gs >= ge {
		return RangeSelection{}, ErrEmptyRange
	}

	var result RangeSelection
	err = d.Update("wrap-range", func() error {
		covered := d.isolate(start, end)
		if len(covered) == 0 {
			return ErrEmptyRange
		}
		inRange := make(map[NodeKey]bool, len(covered))
		for _, k := range covered {
			inRange[k] = true
		}

		blocks := make(map[NodeKey]struct{})
		for _, key := range covered {
			d.markRun(key, markID, factory, inRange)
			if span := d.nodes[d.nodes[key].parent]; span.kind == KindMark {
				blocks[span.parent] = struct{}{}
			}
		}
		for block := range blocks {
			d.rejoinSpans(block)
		}

		s, _ := d.pointAt(gs, true)
		e, _ := d.pointAt(ge, false)
		result = RangeSelection{Anchor: s, Focus: e}
		if backward {
			result = RangeSelection{Anchor: e, Focus: s}
		}
		return nil
	})
	if err != nil {
		return RangeSelection{}, err
	}
	d.logger.Debug().Str("mark", markID).Int("from", gs).Int("to", ge).Msg("wrapped range")
	return result, nil
}

func (d *Document) markRun(key NodeKey, markID string, factory SpanFactory, inRange map[NodeKey]bool) {
	run := d.nodes[key]
	parent := d.nodes[run.parent]

	if parent.kind != KindMark {
		payload := factory([]string{markID})
		span := d.createNode(KindMark, "")
		span.ids = []string{markID}
		span.sourceCount = payload.SourceCount
		span.branchCount = payload.BranchCount
		idx := d.detach(key)
		d.insertChild(parent.key, idx, span.key)
		d.appendChild(span.key, key)
		return
	}

	if parent.HasID(markID) {
		return
	}

	whole := true
	for _, c := range parent.children {
		if !inRange[c] {
			whole = false
			break
		}
	}
	if whole {
		s := d.writable(parent.key)
		s.ids = append(s.ids, markID)
		return
	}

	piece := d.splitSpanAround(parent.key, key)
	ids := append(slices.Clone(d.nodes[piece].ids), markID)
	payload := factory(ids)
	s := d.writable(piece)
	s.ids = ids
	s.sourceCount = payload.SourceCount
	s.branchCount = payload.BranchCount
}

// splitSpanAround isolates run inside span. Children after run move to a
// new span after it; if run is not the first child it moves to its own new
// span too. Split-off spans copy the original's ids and counts. Returns the
// span now holding only run.
func (d *Document) splitSpanAround(span, run NodeKey) NodeKey {
	orig := d.nodes[span]
	idx := orig.childIndex(run)
	grand := orig.parent

	if idx < len(orig.children)-1 {
		tail := d.cloneSpan(span)
		rest := slices.Clone(orig.children[idx+1:])
		for _, c := range rest {
			d.detach(c)
			d.appendChild(tail.key, c)
		}
		d.insertChild(grand, d.nodes[grand].childIndex(span)+1, tail.key)
	}
	if idx == 0 {
		return span
	}
	mid := d.cloneSpan(span)
	d.detach(run)
	d.appendChild(mid.key, run)
	d.insertChild(grand, d.nodes[grand].childIndex(span)+1, mid.key)
	return mid.key
}

func (d *Document) cloneSpan(span NodeKey) *Node {
	orig := d.nodes[span]
	c := d.createNode(KindMark, "")
	c.ids = slices.Clone(orig.ids)
	c.sourceCount = orig.sourceCount
	c.branchCount = orig.branchCount
	return c
}

// rejoinSpans merges adjacent sibling spans under parent whose id sets are
// equal. The earlier span survives.
func (d *Document) rejoinSpans(parent NodeKey) {
	p := d.nodes[parent]
	if p == nil {
		return
	}
	for i := 0; i+1 < len(d.nodes[parent].children); {
		children := d.nodes[parent].children
		a, b := d.nodes[children[i]], d.nodes[children[i+1]]
		if a.kind != KindMark || b.kind != KindMark || !sameIDSet(a.ids, b.ids) {
			i++
			continue
		}
		for _, c := range slices.Clone(b.children) {
			d.detach(c)
			d.appendChild(a.key, c)
		}
		d.destroySubtree(b.key)
	}
}

// RemoveMarkID removes markID from every span carrying it. Spans left
// without ids are unwrapped in place. Returns the number of spans touched.
func (d *Document) RemoveMarkID(markID string) (int, error) {
	touched := 0
	err := d.Update("remove-mark", func() error {
		parents := make(map[NodeKey]struct{})
		for _, span := range d.Spans() {
			if !span.HasID(markID) {
				continue
			}
			touched++
			parents[span.parent] = struct{}{}
			s := d.writable(span.key)
			s.ids = slices.DeleteFunc(s.ids, func(id string) bool { return id == markID })
			if len(s.ids) == 0 {
				d.unwrap(span.key)
			}
		}
		for parent := range parents {
			d.rejoinSpans(parent)
		}
		return nil
	})
	return touched, err
}

// ClearMarks unwraps every span. Returns the number of spans removed.
func (d *Document) ClearMarks() (int, error) {
	removed := 0
	err := d.Update("clear-marks", func() error {
		for _, span := range d.Spans() {
			d.unwrap(span.key)
			removed++
		}
		return nil
	})
	return removed, err
}

// MarkIDsAt returns the ids of the span containing p, or nil.
func (d *Document) MarkIDsAt(p Point) []string {
	run := d.nodes[p.Key]
	if run == nil {
		return nil
	}
	if parent := d.nodes[run.parent]; parent != nil && parent.kind == KindMark {
		return parent.IDs()
	}
	return nil
}

// MarkIDsIn returns the union of span ids over the runs covered by sel.
func (d *Document) MarkIDsIn(sel RangeSelection) []string {
	start, end, _, err := d.normalize(sel)
	if err != nil {
		return nil
	}
	gs, _ := d.globalOffset(start)
	ge, _ := d.globalOffset(end)
	var ids []string
	total := 0
	for _, run := range d.textRunsUnder(d.root) {
		size := run.TextSize()
		if total < ge && total+size > gs {
			if parent := d.nodes[run.parent]; parent.kind == KindMark {
				ids = unionIDs(ids, parent.ids)
			}
		}
		total += size
	}
	return ids
}
