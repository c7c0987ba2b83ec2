package copus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	lib, err := Init(LibraryOptions{})
	require.NoError(t, err, "Init failed")
	require.NotNil(t, lib, "Init returned nil library")
	assert.Equal(t, DefaultIDLength, lib.idLength)
}

func TestOpenWithString(t *testing.T) {
	doc := openText(t, "Hello\nWorld")

	blocks := doc.Blocks()
	require.Len(t, blocks, 2)
	assert.Equal(t, KindParagraph, blocks[0].Kind())
	assert.Equal(t, "Hello\nWorld", doc.TextContent())
	assert.NotEmpty(t, doc.ID())

	for _, b := range blocks {
		assert.Regexp(t, idPattern, string(b.ID()))
	}
}

func TestOpenEmpty(t *testing.T) {
	doc, err := newTestLibrary(t).Open(DocumentOptions{})
	require.NoError(t, err)
	defer doc.Close()

	require.Len(t, doc.Blocks(), 1)
	assert.Len(t, doc.TextRuns(doc.Root().Key()), 1)
	assert.Equal(t, "", doc.TextContent())
}

func TestOpenWithJSON(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	assert.Equal(t, "d1", doc.ID())
	assert.Equal(t, "Hello world", doc.TextContent())
	require.NotNil(t, doc.NodeByID("t2"))
	assert.Equal(t, "world", doc.NodeByID("t2").Text())
	assert.Nil(t, doc.NodeByID("nope"))
}

func TestOpenMultipleSources(t *testing.T) {
	_, err := newTestLibrary(t).Open(DocumentOptions{DataJSON: []byte(helloWorldJSON), DataString: "x"})
	assert.ErrorIs(t, err, ErrMultipleDataSources)
}

func TestLibraryTracksDocuments(t *testing.T) {
	lib := newTestLibrary(t)
	doc, err := lib.Open(DocumentOptions{DocumentID: "opus-1"})
	require.NoError(t, err)

	got, ok := lib.Document("opus-1")
	assert.True(t, ok)
	assert.Same(t, doc, got)

	require.NoError(t, doc.Close())
	_, ok = lib.Document("opus-1")
	assert.False(t, ok)
	assert.ErrorIs(t, doc.TransactionStart("late"), ErrDocumentClosed)
}

func TestTransaction(t *testing.T) {
	doc := openText(t, "Hello")

	assert.False(t, doc.InTransaction(), "Should not be in transaction")
	assert.Equal(t, 0, doc.TransactionDepth())

	require.NoError(t, doc.TransactionStart("outer"))
	require.NoError(t, doc.TransactionStart("inner"))
	assert.Equal(t, 2, doc.TransactionDepth())

	before := doc.Revision()
	_, err := doc.TransactionCommit()
	require.NoError(t, err)
	assert.Equal(t, before, doc.Revision(), "inner commit must not bump the revision")

	result, err := doc.TransactionCommit()
	require.NoError(t, err)
	assert.Equal(t, before+1, result.Revision)
	assert.False(t, doc.InTransaction())

	_, err = doc.TransactionCommit()
	assert.ErrorIs(t, err, ErrNoTransaction)
	assert.ErrorIs(t, doc.TransactionRollback(), ErrNoTransaction)
}

func TestTransactionRollbackRestoresTree(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	ids := doc.Registry().Len()

	require.NoError(t, doc.TransactionStart("scratch"))
	_, err := doc.AppendParagraph("discarded")
	require.NoError(t, err)
	_, err = doc.SplitText(keyOf(t, doc, "t1"), 2)
	require.NoError(t, err)
	require.NoError(t, doc.TransactionRollback())

	assert.Equal(t, "Hello world", doc.TextContent())
	assert.Len(t, doc.Blocks(), 1)
	assert.Equal(t, ids, doc.Registry().Len())
	assert.Equal(t, "Hello ", doc.NodeByID("t1").Text())
}

func TestTransactionPoisoned(t *testing.T) {
	doc := openText(t, "Hello")

	require.NoError(t, doc.TransactionStart("outer"))
	_, err := doc.AppendParagraph("kept?")
	require.NoError(t, err)

	require.NoError(t, doc.TransactionStart("inner"))
	require.NoError(t, doc.TransactionRollback())
	assert.True(t, doc.InTransaction(), "inner rollback leaves the outer transaction open")

	_, err = doc.TransactionCommit()
	assert.ErrorIs(t, err, ErrTransactionPoisoned)
	assert.Equal(t, "Hello", doc.TextContent())
}

func TestUpdateRollsBackOnError(t *testing.T) {
	doc := openText(t, "Hello")
	boom := errors.New("boom")

	err := doc.Update("failing", func() error {
		doc.appendParagraph("never")
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Hello", doc.TextContent())
}

func TestCopyOnWriteKeepsSnapshots(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	before := doc.NodeByID("t1")

	_, err := doc.SplitText(before.Key(), 2)
	require.NoError(t, err)

	after := doc.NodeByID("t1")
	assert.Equal(t, "Hello ", before.Text(), "snapshots are never modified")
	assert.Equal(t, "He", after.Text())
	assert.Equal(t, before.Key(), after.Key())
}

func TestMutationListener(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	var batches []MutationBatch
	unregister := doc.RegisterMutationListener(func(b MutationBatch) {
		batches = append(batches, b)
	})

	right, err := doc.SplitText(keyOf(t, doc, "t1"), 2)
	require.NoError(t, err)

	require.Len(t, batches, 1)
	b := batches[0]
	assert.Equal(t, "split-text", b.Name)
	assert.Equal(t, doc.Revision(), b.Revision)

	// paragraph and t1 updated, new run created; document order
	var kinds []string
	for _, m := range b.Mutations {
		kinds = append(kinds, m.Kind.String()+":"+m.Type.String())
	}
	assert.Equal(t, []string{"paragraph:updated", "text:updated", "text:created"}, kinds)
	assert.Equal(t, right, b.Mutations[2].Key)
	assert.Equal(t, "Hello ", b.Mutations[1].Prior.Text())
	assert.Equal(t, "He", b.Mutations[1].Node.Text())

	unregister()
	_, err = doc.AppendParagraph("quiet")
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestMutationListenerKindFilter(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)

	var marks []MutationBatch
	doc.RegisterMutationListener(func(b MutationBatch) {
		marks = append(marks, b)
	}, KindMark)

	_, err := doc.AppendParagraph("no spans here")
	require.NoError(t, err)
	assert.Empty(t, marks)

	_, err = doc.WrapRange(Anchor{"p1", 0}, Anchor{"p1", 5}, "m1", nil)
	require.NoError(t, err)
	require.Len(t, marks, 1)
	require.Len(t, marks[0].Mutations, 1)
	assert.Equal(t, MutationCreated, marks[0].Mutations[0].Type)
	assert.Equal(t, []string{"m1"}, marks[0].Mutations[0].Node.IDs())
}

func TestMutationListenerDestroyedCarriesPrior(t *testing.T) {
	doc := openJSON(t, helloWorldJSON)
	_, err := doc.WrapRange(Anchor{"p1", 0}, Anchor{"p1", 5}, "m1", nil)
	require.NoError(t, err)

	var got []NodeMutation
	doc.RegisterMutationListener(func(b MutationBatch) {
		got = append(got, b.Mutations...)
	}, KindMark)

	_, err = doc.RemoveMarkID("m1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, MutationDestroyed, got[0].Type)
	assert.Nil(t, got[0].Node)
	assert.Equal(t, []string{"m1"}, got[0].Prior.IDs())
}

func TestMutationListenerNestedUpdatesAreQueued(t *testing.T) {
	doc := openText(t, "Hello")

	var order []string
	doc.RegisterMutationListener(func(b MutationBatch) {
		order = append(order, "first:"+b.Name)
		if b.Name == "append-paragraph" {
			_, err := doc.SplitText(doc.TextRuns(doc.Root().Key())[0].Key(), 1)
			assert.NoError(t, err)
			order = append(order, "first:done")
		}
	})
	doc.RegisterMutationListener(func(b MutationBatch) {
		order = append(order, "second:"+b.Name)
	})

	_, err := doc.AppendParagraph("World")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"first:append-paragraph",
		"first:done",
		"second:append-paragraph",
		"first:split-text",
		"second:split-text",
	}, order)
}

func TestCreatedAndDestroyedInOneTransactionIsNotReported(t *testing.T) {
	doc := openText(t, "Hello")
	var batches []MutationBatch
	doc.RegisterMutationListener(func(b MutationBatch) {
		batches = append(batches, b)
	}, KindParagraph)

	err := doc.Update("ephemeral", func() error {
		p := doc.appendParagraph("gone")
		doc.destroySubtree(p.key)
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, batches)
}
