package copus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func firstRun(t *testing.T, doc *Document) *Node {
	t.Helper()
	runs := doc.TextRuns(doc.Root().Key())
	require.NotEmpty(t, runs)
	return runs[0]
}

func TestSetSelection(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	_, ok := doc.Selection()
	assert.False(t, ok)

	err := doc.SetSelection(Collapsed(Point{keyOf(t, doc, "p1"), 0}))
	assert.ErrorIs(t, err, ErrNotText)
	err = doc.SetSelection(Collapsed(Point{9999, 0}))
	assert.ErrorIs(t, err, ErrNodeNotFound)

	t2 := keyOf(t, doc, "t2")
	require.NoError(t, doc.SetSelection(RangeSelection{Anchor: Point{t2, 2}, Focus: Point{t2, 99}}))
	sel, ok := doc.Selection()
	require.True(t, ok)
	assert.Equal(t, Point{t2, 5}, sel.Focus, "offsets are clamped")
	assert.Equal(t, "rld", doc.SelectedText())

	doc.ClearSelection()
	_, ok = doc.Selection()
	assert.False(t, ok)
}

func TestInsertText(t *testing.T) {
	doc := openText(t, "Hello")
	run := firstRun(t, doc)
	require.NoError(t, doc.SetSelection(Collapsed(Point{run.Key(), 5})))

	sel, err := doc.InsertText(" wörld")
	require.NoError(t, err)
	assert.Equal(t, "Hello wörld", doc.TextContent())
	assert.Equal(t, Collapsed(Point{run.Key(), 11}), sel)

	_, err = doc.InsertText("\nnext")
	require.NoError(t, err)
	assert.Equal(t, "Hello wörld\nnext", doc.Node(run.Key()).Text(), "newlines stay in the run")
	assert.Len(t, doc.Blocks(), 1)
}

func TestInsertTextReplacesSelection(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	require.NoError(t, doc.SelectAnchors(Anchor{"p1", 6}, Anchor{"p1", 11}))

	_, err := doc.InsertText("there")
	require.NoError(t, err)
	assert.Equal(t, "Hello there", doc.TextContent())
}

func TestInsertTextWithoutSelection(t *testing.T) {
	doc := openText(t, "Hello")
	_, err := doc.InsertText("x")
	assert.ErrorIs(t, err, ErrNoSelection)
}

func TestDeleteSelectionWithinBlock(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	require.NoError(t, doc.SelectAnchors(Anchor{"p1", 0}, Anchor{"p1", 6}))

	require.NoError(t, doc.DeleteSelection())
	assert.Equal(t, "world", doc.TextContent())

	sel, ok := doc.Selection()
	require.True(t, ok)
	assert.True(t, sel.IsCollapsed())
	a, ok := doc.AnchorOf(sel.Focus)
	require.True(t, ok)
	assert.Equal(t, Anchor{"p1", 0}, a)
}

func TestDeleteSelectionAcrossBlocks(t *testing.T) {
	doc := openText(t, "ab\nmiddle\ncd")
	blocks := doc.Blocks()
	require.NoError(t, doc.SelectAnchors(Anchor{blocks[0].ID(), 1}, Anchor{blocks[2].ID(), 1}))

	require.NoError(t, doc.DeleteSelection())
	assert.Equal(t, "ad", doc.TextContent())
	require.Len(t, doc.Blocks(), 1)
	assert.Equal(t, blocks[0].ID(), doc.Blocks()[0].ID())

	sel, _ := doc.Selection()
	a, _ := doc.AnchorOf(sel.Focus)
	assert.Equal(t, Anchor{blocks[0].ID(), 1}, a)
}

func TestDeleteSelectionRemovesEmptiedSpans(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	_, err := doc.WrapRange(Anchor{"p1", 6}, Anchor{"p1", 11}, "m1", nil)
	require.NoError(t, err)

	require.NoError(t, doc.SelectAnchors(Anchor{"p1", 5}, Anchor{"p1", 11}))
	require.NoError(t, doc.DeleteSelection())

	assert.Equal(t, "Hello", doc.TextContent())
	assert.Empty(t, doc.Spans())
}

func TestSplitTextShiftsSelection(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	t1 := keyOf(t, doc, "t1")
	require.NoError(t, doc.SetSelection(Collapsed(Point{t1, 4})))

	right, err := doc.SplitText(t1, 2)
	require.NoError(t, err)

	sel, _ := doc.Selection()
	assert.Equal(t, Collapsed(Point{right, 2}), sel)
	assert.Equal(t, "llo ", doc.Node(right).Text())
	assert.Regexp(t, idPattern, string(doc.Node(right).ID()))

	_, err = doc.SplitText(t1, 0)
	assert.ErrorIs(t, err, ErrInvalidPosition)
	_, err = doc.SplitText(keyOf(t, doc, "p1"), 1)
	assert.ErrorIs(t, err, ErrNotText)
}

func TestSelectionRestoredOnRollback(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	t1 := keyOf(t, doc, "t1")
	require.NoError(t, doc.SetSelection(Collapsed(Point{t1, 4})))

	require.NoError(t, doc.TransactionStart("scratch"))
	_, err := doc.SplitText(t1, 2)
	require.NoError(t, err)
	require.NoError(t, doc.TransactionRollback())

	sel, _ := doc.Selection()
	assert.Equal(t, Collapsed(Point{t1, 4}), sel)
}
