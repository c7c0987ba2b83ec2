package copus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapRangeWholeParagraph(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	p, ok := doc.ResolveAnchor(Anchor{"p1", 7})
	require.True(t, ok)
	assert.Equal(t, Point{keyOf(t, doc, "t2"), 1}, p)

	sel, err := doc.WrapRange(Anchor{"p1", 0}, Anchor{"p1", 11}, "m1", nil)
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"m1", "Hello world"}}, spanSummary(doc))
	assert.Equal(t, "Hello world", doc.TextContent())
	assert.Equal(t, Point{keyOf(t, doc, "t1"), 0}, sel.Anchor)
	assert.Equal(t, Point{keyOf(t, doc, "t2"), 5}, sel.Focus)

	// Runs keep their ids inside the span
	span := doc.Spans()[0]
	assert.Equal(t, []NodeKey{keyOf(t, doc, "t1"), keyOf(t, doc, "t2")}, span.Children())
	assert.Equal(t, keyOf(t, doc, "p1"), span.Parent())
}

func TestWrapRangeIsIdempotent(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	_, err := doc.WrapRange(Anchor{"p1", 2}, Anchor{"p1", 8}, "m1", nil)
	require.NoError(t, err)
	first, err := doc.ExportJSON()
	require.NoError(t, err)

	_, err = doc.WrapRange(Anchor{"p1", 2}, Anchor{"p1", 8}, "m1", nil)
	require.NoError(t, err)
	second, err := doc.ExportJSON()
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"m1", "llo wo"}}, spanSummary(doc))
	assert.JSONEq(t, string(first), string(second))
}

func TestWrapRangeSplitsBoundaryRuns(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	_, err := doc.WrapRange(Anchor{"p1", 2}, Anchor{"p1", 4}, "m1", nil)
	require.NoError(t, err)

	t1 := doc.NodeByID("t1")
	assert.Equal(t, "He", t1.Text(), "left part keeps the original id")

	runs := doc.TextRuns(keyOf(t, doc, "p1"))
	var texts []string
	for _, r := range runs {
		texts = append(texts, r.Text())
		assert.Regexp(t, idPattern.String()+"|^t[12]$", string(r.ID()))
	}
	assert.Equal(t, []string{"He", "ll", "o ", "world"}, texts)
	assert.Equal(t, [][2]string{{"m1", "ll"}}, spanSummary(doc))
}

func TestWrapRangeOverlappingMarks(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	_, err := doc.WrapRange(Anchor{"p1", 0}, Anchor{"p1", 5}, "m1", nil)
	require.NoError(t, err)
	_, err = doc.WrapRange(Anchor{"p1", 3}, Anchor{"p1", 8}, "m2", nil)
	require.NoError(t, err)

	assert.Equal(t, [][2]string{
		{"m1", "Hel"},
		{"m1,m2", "lo"},
		{"m2", " wo"},
	}, spanSummary(doc))

	// Spans never nest
	for _, span := range doc.Spans() {
		for _, c := range span.Children() {
			assert.Equal(t, KindText, doc.Node(c).Kind())
		}
	}
}

func TestWrapRangeInsideExistingSpan(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	_, err := doc.WrapRange(Anchor{"p1", 0}, Anchor{"p1", 11}, "m1", nil)
	require.NoError(t, err)
	_, err = doc.WrapRange(Anchor{"p1", 6}, Anchor{"p1", 11}, "m2", nil)
	require.NoError(t, err)

	assert.Equal(t, [][2]string{
		{"m1", "Hello "},
		{"m1,m2", "world"},
	}, spanSummary(doc))
}

func TestWrapRangeCoveringExistingSpan(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	_, err := doc.WrapRange(Anchor{"p1", 6}, Anchor{"p1", 11}, "m1", nil)
	require.NoError(t, err)
	_, err = doc.WrapRange(Anchor{"p1", 0}, Anchor{"p1", 11}, "m2", nil)
	require.NoError(t, err)

	assert.Equal(t, [][2]string{
		{"m2", "Hello "},
		{"m1,m2", "world"},
	}, spanSummary(doc))
}

func TestWrapRangeAcrossBlocks(t *testing.T) {
	doc := openText(t, "first line\nsecond line")
	blocks := doc.Blocks()

	_, err := doc.WrapRange(Anchor{blocks[0].ID(), 6}, Anchor{blocks[1].ID(), 6}, "m1", nil)
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"m1", "line"}, {"m1", "second"}}, spanSummary(doc))
	assert.Equal(t, "first line\nsecond line", doc.TextContent())
}

func TestWrapSelectionKeepsDirection(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	t1, t2 := keyOf(t, doc, "t1"), keyOf(t, doc, "t2")

	backward := RangeSelection{Anchor: Point{t2, 5}, Focus: Point{t1, 0}}
	assert.True(t, doc.IsBackward(backward))

	sel, err := doc.WrapSelection(backward, "m1", nil)
	require.NoError(t, err)
	assert.True(t, doc.IsBackward(sel))
	assert.Equal(t, Point{t2, 5}, sel.Anchor)
	assert.Equal(t, Point{t1, 0}, sel.Focus)
}

func TestWrapRangeFactory(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	var calls [][]string
	factory := func(ids []string) SpanPayload {
		calls = append(calls, ids)
		return SpanPayload{SourceCount: 1, BranchCount: 2}
	}
	_, err := doc.WrapRange(Anchor{"p1", 0}, Anchor{"p1", 5}, "m1", factory)
	require.NoError(t, err)

	span := doc.Spans()[0]
	assert.Equal(t, 1, span.SourceCount())
	assert.Equal(t, 2, span.BranchCount())
	assert.Equal(t, [][]string{{"m1"}}, calls)
}

func TestWrapRangeErrors(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	rev := doc.Revision()

	_, err := doc.WrapRange(Anchor{"zzzz", 0}, Anchor{"p1", 5}, "m1", nil)
	assert.ErrorIs(t, err, ErrAnchorUnresolved)

	_, err = doc.WrapRange(Anchor{"p1", 3}, Anchor{"p1", 3}, "m1", nil)
	assert.ErrorIs(t, err, ErrEmptyRange)

	// The end of one run and the start of the next are the same place
	_, err = doc.WrapRange(Anchor{"t1", 6}, Anchor{"t2", 0}, "m1", nil)
	assert.ErrorIs(t, err, ErrEmptyRange)

	_, err = doc.WrapRange(Anchor{"p1", 0}, Anchor{"p1", 5}, "", nil)
	assert.ErrorIs(t, err, ErrInvalidMarkID)

	assert.Equal(t, rev, doc.Revision(), "failed wraps start no transaction")
	assert.Empty(t, doc.Spans())
	assert.Equal(t, "Hello ", doc.NodeByID("t1").Text())
}

func TestRemoveMarkID(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	ix := NewMarkIndex(doc)
	defer ix.Close()

	_, err := doc.WrapRange(Anchor{"p1", 0}, Anchor{"p1", 5}, "m1", nil)
	require.NoError(t, err)
	_, err = doc.WrapRange(Anchor{"p1", 3}, Anchor{"p1", 8}, "m2", nil)
	require.NoError(t, err)

	n, err := doc.RemoveMarkID("m1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The emptied span is unwrapped and the remaining m2 spans rejoin
	assert.Equal(t, [][2]string{{"m2", "lo wo"}}, spanSummary(doc))
	assert.Equal(t, "Hello world", doc.TextContent())
	assert.False(t, ix.Has("m1"))
	assert.Empty(t, ix.Keys("m1"))

	n, err = doc.RemoveMarkID("m2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, doc.Spans())
	assert.Empty(t, ix.IDs())
}

func TestRemoveMarkIDUnknown(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	n, err := doc.RemoveMarkID("nope")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestClearMarks(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	_, err := doc.WrapRange(Anchor{"p1", 0}, Anchor{"p1", 5}, "m1", nil)
	require.NoError(t, err)
	_, err = doc.WrapRange(Anchor{"p1", 3}, Anchor{"p1", 8}, "m2", nil)
	require.NoError(t, err)

	n, err := doc.ClearMarks()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, doc.Spans())
	assert.Equal(t, "Hello world", doc.TextContent())
}

func TestMarkIDsAt(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	_, err := doc.WrapRange(Anchor{"p1", 0}, Anchor{"p1", 5}, "m1", nil)
	require.NoError(t, err)
	_, err = doc.WrapRange(Anchor{"p1", 3}, Anchor{"p1", 8}, "m2", nil)
	require.NoError(t, err)

	p, _ := doc.ResolveAnchor(Anchor{"p1", 4})
	assert.Equal(t, []string{"m1", "m2"}, doc.MarkIDsAt(p))

	p, _ = doc.ResolveAnchor(Anchor{"p1", 10})
	assert.Nil(t, doc.MarkIDsAt(p))

	sel, err := doc.ResolveRange(Anchor{"p1", 0}, Anchor{"p1", 11})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, doc.MarkIDsIn(sel))
}
