package copus

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// helloWorldJSON is one paragraph "p1" holding the runs "Hello " (t1) and "world" (t2).
const helloWorldJSON = `{
  "version": 1,
  "documentId": "d1",
  "root": {"type": "root", "children": [
    {"type": "paragraph-x", "id": "p1", "children": [
      {"type": "text-x", "id": "t1", "text": "Hello "},
      {"type": "text-x", "id": "t2", "text": "world"}
    ]}
  ]}
}`

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	nop := zerolog.Nop()
	lib, err := Init(LibraryOptions{IDSource: NewSeededIDSource(7), Logger: &nop})
	require.NoError(t, err, "Failed to init library")
	return lib
}

func openJSON(t *testing.T, data string) *Document {
	t.Helper()
	doc, err := newTestLibrary(t).Open(DocumentOptions{DataJSON: []byte(data)})
	require.NoError(t, err, "Failed to open document")
	t.Cleanup(func() { doc.Close() })
	return doc
}

func openText(t *testing.T, text string) *Document {
	t.Helper()
	doc, err := newTestLibrary(t).Open(DocumentOptions{DataString: text})
	require.NoError(t, err, "Failed to open document")
	t.Cleanup(func() { doc.Close() })
	return doc
}

func keyOf(t *testing.T, doc *Document, id StableID) NodeKey {
	t.Helper()
	n := doc.NodeByID(id)
	require.NotNil(t, n, "node %s not found", id)
	return n.Key()
}

// spanSummary lists each span's ids and text, in document order.
func spanSummary(doc *Document) [][2]string {
	var out [][2]string
	for _, span := range doc.Spans() {
		text := ""
		for _, run := range doc.TextRuns(span.Key()) {
			text += run.Text()
		}
		ids := ""
		for i, id := range span.IDs() {
			if i > 0 {
				ids += ","
			}
			ids += id
		}
		out = append(out, [2]string{ids, text})
	}
	return out
}

type fakeService struct {
	mu      sync.Mutex
	nextID  string
	err     error
	created []MarkX
	info    MarkInfo
}

func (f *fakeService) CreateMark(_ context.Context, params MarkX) (MarkX, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return MarkX{}, f.err
	}
	params.ID = f.nextID
	f.created = append(f.created, params)
	return params, nil
}

func (f *fakeService) MarkInfo(_ context.Context, _ []string) (MarkInfo, error) {
	return f.info, f.err
}
