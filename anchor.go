package copus

import "fmt"

// Anchor is a persisted position: a stable node id plus a character offset.
// For block nodes the offset counts runes across all text runs under the
// block; for text runs it is local to the run.
type Anchor struct {
	NodeID StableID `json:"nodeId"`
	Offset int      `json:"offset"`
}

func (a Anchor) String() string {
	return fmt.Sprintf("%s:%d", a.NodeID, a.Offset)
}

// Point is a live position inside a text run, valid until the next edit.
type Point struct {
	Key    NodeKey
	Offset int
}

// RangeSelection is a pair of points. Anchor is where the selection started
// and Focus where it ended, so the range may run backwards.
type RangeSelection struct {
	Anchor Point
	Focus  Point
}

// Collapsed returns a selection with both ends at p.
func Collapsed(p Point) RangeSelection {
	return RangeSelection{Anchor: p, Focus: p}
}

// IsCollapsed reports whether both ends are the same point.
func (s RangeSelection) IsCollapsed() bool {
	return s.Anchor == s.Focus
}

// globalOffset returns the rune offset of p measured across every text run
// of the document in order.
func (d *Document) globalOffset(p Point) (int, bool) {
	total := 0
	for _, run := range d.textRunsUnder(d.root) {
		if run.key == p.Key {
			return total + clamp(p.Offset, 0, run.TextSize()), true
		}
		total += run.TextSize()
	}
	return 0, false
}

// IsBackward reports whether the focus lies before the anchor.
func (d *Document) IsBackward(s RangeSelection) bool {
	a, okA := d.globalOffset(s.Anchor)
	f, okF := d.globalOffset(s.Focus)
	return okA && okF && f < a
}

// normalize returns the selection's ends in document order.
func (d *Document) normalize(s RangeSelection) (start, end Point, backward bool, err error) {
	for _, p := range []Point{s.Anchor, s.Focus} {
		n := d.nodes[p.Key]
		if n == nil {
			return Point{}, Point{}, false, ErrNodeNotFound
		}
		if n.kind != KindText {
			return Point{}, Point{}, false, ErrNotText
		}
	}
	a, _ := d.globalOffset(s.Anchor)
	f, _ := d.globalOffset(s.Focus)
	if f < a {
		return d.clampPoint(s.Focus), d.clampPoint(s.Anchor), true, nil
	}
	return d.clampPoint(s.Anchor), d.clampPoint(s.Focus), false, nil
}

func (d *Document) clampPoint(p Point) Point {
	if n := d.nodes[p.Key]; n != nil {
		p.Offset = clamp(p.Offset, 0, n.TextSize())
	}
	return p
}

// pointAt maps a global rune offset back to a point. At a boundary between
// runs, leading picks the start of the following run and trailing the end
// of the preceding one.
func (d *Document) pointAt(offset int, leading bool) (Point, bool) {
	runs := d.textRunsUnder(d.root)
	total := 0
	var last *Node
	for _, run := range runs {
		size := run.TextSize()
		if leading && offset < total+size {
			return Point{Key: run.key, Offset: offset - total}, true
		}
		if !leading && offset <= total+size && (offset > total || offset == 0) {
			return Point{Key: run.key, Offset: offset - total}, true
		}
		total += size
		last = run
	}
	if last == nil {
		return Point{}, false
	}
	return Point{Key: last.key, Offset: last.TextSize()}, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
