package copus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedMarks() []MarkX {
	return []MarkX{
		{ID: "m1", OpusUUID: "d1", StartNodeID: "p1", StartNodeAt: 0, EndNodeID: "p1", EndNodeAt: 5, SourceCount: 1},
		{ID: "m2", OpusUUID: "d1", StartNodeID: "p1", StartNodeAt: 3, EndNodeID: "p1", EndNodeAt: 8, DownstreamCount: 2},
		{ID: "m3", OpusUUID: "d1", StartNodeID: "zz99", StartNodeAt: 0, EndNodeID: "p1", EndNodeAt: 2},
	}
}

func TestAttachMarkList(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	ed := NewEditor(doc, EditorOptions{})
	defer ed.Close()

	assert.Equal(t, 2, ed.AttachMarkList(storedMarks()))
	assert.Len(t, ed.Records(), 3)

	m1, ok := ed.Mark("m1")
	require.True(t, ok)
	assert.Equal(t, "Hello", m1.TextContent)
	assert.Equal(t, Anchor{"p1", 0}, m1.Start)
	assert.Equal(t, Anchor{"p1", 5}, m1.End)
	assert.Equal(t, 1, m1.SourceCount)
	assert.Equal(t, 2, m1.BranchCount, "overlapping m2 contributes its branches")

	m2, ok := ed.Mark("m2")
	require.True(t, ok)
	assert.Equal(t, "lo wo", m2.TextContent)
	assert.Equal(t, Anchor{"p1", 3}, m2.Start)
	assert.Equal(t, Anchor{"p1", 8}, m2.End)

	_, ok = ed.Mark("m3")
	assert.False(t, ok)

	var counts []Counts
	for _, span := range doc.Spans() {
		counts = append(counts, Counts{Source: span.SourceCount(), Branch: span.BranchCount()})
	}
	assert.Equal(t, []Counts{{1, 0}, {1, 2}, {0, 2}}, counts)
}

func TestEditorRemoveMark(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	ed := NewEditor(doc, EditorOptions{})
	defer ed.Close()
	ed.AttachMarkList(storedMarks())

	require.NoError(t, ed.RemoveMark("m1"))
	_, ok := ed.Mark("m1")
	assert.False(t, ok)

	marks := ed.Marks()
	require.Len(t, marks, 1)
	assert.Equal(t, "m2", marks[0].ID)
	assert.Equal(t, 0, marks[0].SourceCount)
	assert.Equal(t, [][2]string{{"m2", "lo wo"}}, spanSummary(doc))

	require.NoError(t, ed.ClearMarkList())
	assert.Empty(t, ed.Marks())
	assert.Empty(t, ed.Records())
	assert.Empty(t, doc.Spans())
	assert.Equal(t, "Hello world", doc.TextContent())
}

func TestEditorCreateMark(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	svc := &fakeService{nextID: "new1"}
	ed := NewEditor(doc, EditorOptions{Service: svc})
	defer ed.Close()

	_, err := ed.CreateMark(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoSelection)

	require.NoError(t, doc.SelectAnchors(Anchor{"p1", 6}, Anchor{"p1", 11}))
	m, err := ed.CreateMark(context.Background(), "https://example.org/src")
	require.NoError(t, err)

	assert.Equal(t, "new1", m.ID)
	assert.Equal(t, "world", m.TextContent)
	assert.Equal(t, 1, m.SourceCount)
	assert.Equal(t, "https://example.org/src", m.SourceLink)

	require.Len(t, svc.created, 1)
	assert.Equal(t, "d1", svc.created[0].OpusUUID)
	assert.Equal(t, StableID("p1"), svc.created[0].StartNodeID)
	assert.Equal(t, 6, svc.created[0].StartNodeAt)
	assert.Equal(t, [][2]string{{"new1", "world"}}, spanSummary(doc))
}

func TestEditorCreateMarkServiceFailure(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	svc := &fakeService{err: errors.New("unavailable")}
	ed := NewEditor(doc, EditorOptions{Service: svc})
	defer ed.Close()

	require.NoError(t, doc.SelectAnchors(Anchor{"p1", 0}, Anchor{"p1", 5}))
	rev := doc.Revision()

	_, err := ed.CreateMark(context.Background(), "")
	assert.EqualError(t, err, "unavailable")
	assert.Equal(t, rev, doc.Revision())
	assert.Empty(t, doc.Spans())
	assert.Empty(t, ed.Records())
}

func TestEditorMarkInfo(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	ed := NewEditor(doc, EditorOptions{})
	_, err := ed.MarkInfo(context.Background(), []string{"m1"})
	assert.ErrorIs(t, err, ErrNoService)
	ed.Close()

	want := MarkInfo{BranchList: []MarkX{{ID: "b1"}}}
	ed = NewEditor(doc, EditorOptions{Service: &fakeService{info: want}})
	defer ed.Close()
	info, err := ed.MarkInfo(context.Background(), []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, want, info)
}

func TestCopyPasteCarriesProvenance(t *testing.T) {
	src := openJSON(t, helloWorldJSON)
	srcEditor := NewEditor(src, EditorOptions{SourceLink: "https://example.org/d1"})
	defer srcEditor.Close()

	require.NoError(t, src.SelectAnchors(Anchor{"p1", 0}, Anchor{"p1", 5}))
	cb := NewDataTransfer()
	rec, err := srcEditor.Copy(cb)
	require.NoError(t, err)
	assert.Equal(t, []string{ProvenanceMIMEType, MIMETextHTML, MIMETextPlain}, cb.Types())
	plain, _ := cb.GetData(MIMETextPlain)
	assert.Equal(t, "Hello", plain)

	dst := openText(t, "Say: ")
	block := dst.Blocks()[0].ID()
	require.NoError(t, dst.SelectAnchors(Anchor{block, 5}, Anchor{block, 5}))
	svc := &fakeService{nextID: "pasted"}
	dstEditor := NewEditor(dst, EditorOptions{Service: svc})
	defer dstEditor.Close()

	m, err := dstEditor.Paste(context.Background(), cb)
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, "Say: Hello", dst.TextContent())
	assert.Equal(t, "pasted", m.ID)
	assert.Equal(t, Anchor{block, 5}, m.Start)
	assert.Equal(t, Anchor{block, 10}, m.End)
	assert.Equal(t, "Hello", m.TextContent)
	assert.Equal(t, rec.SourceLink, m.SourceLink)
	assert.Equal(t, 1, m.SourceCount)

	require.Len(t, svc.created, 1)
	assert.Equal(t, dst.ID(), svc.created[0].OpusUUID)
	assert.Equal(t, "https://example.org/d1", svc.created[0].SourceLink)
	assert.Equal(t, [][2]string{{"pasted", "Hello"}}, spanSummary(dst))
}

func TestPasteCarriesUpstreamMarks(t *testing.T) {
	src := openJSON(t, helloWorldJSON)
	srcEditor := NewEditor(src, EditorOptions{})
	defer srcEditor.Close()
	srcEditor.AttachMarkList(storedMarks()[:1])

	require.NoError(t, src.SelectAnchors(Anchor{"p1", 0}, Anchor{"p1", 11}))
	cb := NewDataTransfer()
	_, err := srcEditor.Copy(cb)
	require.NoError(t, err)

	dst := openText(t, "")
	require.NoError(t, dst.SelectAnchors(Anchor{dst.Blocks()[0].ID(), 0}, Anchor{dst.Blocks()[0].ID(), 0}))
	dstEditor := NewEditor(dst, EditorOptions{})
	defer dstEditor.Close()

	m, err := dstEditor.Paste(context.Background(), cb)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Regexp(t, `^[0-9a-f-]{36}$`, m.ID, "without a service ids are minted locally")

	records := dstEditor.Records()
	require.Len(t, records, 1)
	assert.Equal(t, []string{"m1"}, records[0].UpstreamIDs)
}

func TestPasteSurvivesServiceFailure(t *testing.T) {
	src := openJSON(t, helloWorldJSON)
	srcEditor := NewEditor(src, EditorOptions{SourceLink: "https://example.org/d1"})
	defer srcEditor.Close()
	require.NoError(t, src.SelectAnchors(Anchor{"p1", 0}, Anchor{"p1", 5}))
	cb := NewDataTransfer()
	_, err := srcEditor.Copy(cb)
	require.NoError(t, err)

	dst := openText(t, "Say: ")
	block := dst.Blocks()[0].ID()
	require.NoError(t, dst.SelectAnchors(Anchor{block, 5}, Anchor{block, 5}))
	ed := NewEditor(dst, EditorOptions{Service: &fakeService{err: errors.New("unavailable")}})
	defer ed.Close()

	m, err := ed.Paste(context.Background(), cb)
	require.NoError(t, err, "the paste stands even when the mark cannot be created")
	assert.Nil(t, m)
	assert.Equal(t, "Say: Hello", dst.TextContent())
	assert.Empty(t, dst.Spans())
	assert.Empty(t, ed.Records())
}

func TestPasteMultilineStaysInBlock(t *testing.T) {
	dst := openText(t, "abc")
	block := dst.Blocks()[0].ID()
	require.NoError(t, dst.SelectAnchors(Anchor{block, 1}, Anchor{block, 1}))
	ed := NewEditor(dst, EditorOptions{})
	defer ed.Close()

	cb := NewDataTransfer()
	cb.SetData(MIMETextPlain, "x\r\ny")
	_, err := ed.Paste(context.Background(), cb)
	require.NoError(t, err)
	require.Len(t, dst.Blocks(), 1)
	assert.Equal(t, "ax\nybc", dst.inlineText(dst.Blocks()[0].Key()))
}

func TestPasteWithoutProvenance(t *testing.T) {
	dst := openText(t, "ab")
	block := dst.Blocks()[0].ID()
	require.NoError(t, dst.SelectAnchors(Anchor{block, 1}, Anchor{block, 1}))
	ed := NewEditor(dst, EditorOptions{Service: &fakeService{nextID: "x"}})
	defer ed.Close()

	cb := NewDataTransfer()
	cb.SetData(MIMETextHTML, "<p>one</p><p>two</p>")
	m, err := ed.Paste(context.Background(), cb)
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Equal(t, "aone\ntwob", dst.TextContent())
	assert.Empty(t, dst.Spans())
}

func TestEditorConcurrentCreateMark(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	ed := NewEditor(doc, EditorOptions{})
	defer ed.Close()
	require.NoError(t, doc.SelectAnchors(Anchor{"p1", 0}, Anchor{"p1", 5}))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ed.CreateMark(context.Background(), ""); err != nil {
				errs <- err
				return
			}
			_ = ed.Marks()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	marks := ed.Marks()
	assert.Len(t, marks, workers)
	for _, m := range marks {
		assert.Equal(t, "Hello", m.TextContent, "mark %s", m.ID)
	}
	assert.Len(t, doc.Spans(), 1)
}
