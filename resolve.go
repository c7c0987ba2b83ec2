package copus

// ResolveAnchor turns a persisted anchor into a live point.
//
// For a block the descendant text runs are flattened in order and the
// first run whose cumulative length reaches the offset is chosen, so an
// offset on a boundary lands at the end of the earlier run. Offsets past
// the end clamp to the end of the last run and negative offsets clamp to
// zero. Unknown ids and blocks without text runs do not resolve.
func (d *Document) ResolveAnchor(a Anchor) (Point, bool) {
	n := d.NodeByID(a.NodeID)
	if n == nil {
		return Point{}, false
	}
	offset := max(a.Offset, 0)

	if n.kind == KindText {
		return Point{Key: n.key, Offset: min(offset, n.TextSize())}, true
	}

	runs := d.textRunsUnder(n.key)
	if len(runs) == 0 {
		return Point{}, false
	}
	remaining := offset
	for _, run := range runs {
		size := run.TextSize()
		if size >= remaining {
			return Point{Key: run.key, Offset: remaining}, true
		}
		remaining -= size
	}
	last := runs[len(runs)-1]
	return Point{Key: last.key, Offset: last.TextSize()}, true
}

// AnchorOf converts a live point into a block-relative anchor, measured
// from the start of the point's nearest block ancestor.
func (d *Document) AnchorOf(p Point) (Anchor, bool) {
	run := d.nodes[p.Key]
	if run == nil || run.kind != KindText {
		return Anchor{}, false
	}
	block := d.nearestBlock(run.key)
	if block == nil {
		return Anchor{}, false
	}
	offset := clamp(p.Offset, 0, run.TextSize())
	for _, r := range d.textRunsUnder(block.key) {
		if r.key == run.key {
			break
		}
		offset += r.TextSize()
	}
	return Anchor{NodeID: block.id, Offset: offset}, true
}

// ResolveRange resolves a pair of anchors into a selection.
func (d *Document) ResolveRange(start, end Anchor) (RangeSelection, error) {
	s, ok := d.ResolveAnchor(start)
	if !ok {
		return RangeSelection{}, ErrAnchorUnresolved
	}
	e, ok := d.ResolveAnchor(end)
	if !ok {
		return RangeSelection{}, ErrAnchorUnresolved
	}
	return RangeSelection{Anchor: s, Focus: e}, nil
}
