package copus

import (
	"slices"
	"sort"

	"github.com/rs/zerolog"
)

// Counts are the provenance counts recorded for one mark id.
type Counts struct {
	Source int `json:"source"`
	Branch int `json:"branch"`
}

// MarkIndex tracks which spans carry which mark ids and keeps each span's
// cached counts equal to the sum of the counts of its ids.
//
// The index is maintained from committed mutation batches. A destroyed
// span's ids are taken from the index's own cache because the span's
// payload is no longer live.
type MarkIndex struct {
	doc    *Document
	logger zerolog.Logger

	idToKeys map[string]map[NodeKey]struct{}
	keyToIDs map[NodeKey][]string
	counts   map[string]Counts

	unregister func()
}

// NewMarkIndex indexes the spans already in d and subscribes to its mark
// mutations.
func NewMarkIndex(d *Document) *MarkIndex {
	ix := &MarkIndex{
		doc:      d,
		logger:   d.logger.With().Str("component", "mark-index").Logger(),
		idToKeys: make(map[string]map[NodeKey]struct{}),
		keyToIDs: make(map[NodeKey][]string),
		counts:   make(map[string]Counts),
	}
	for _, span := range d.Spans() {
		ix.reconcile(span.key, span.ids)
	}
	ix.unregister = d.RegisterMutationListener(ix.onMutation, KindMark)
	return ix
}

// Close stops listening to the document.
func (ix *MarkIndex) Close() {
	if ix.unregister != nil {
		ix.unregister()
		ix.unregister = nil
	}
}

func (ix *MarkIndex) onMutation(batch MutationBatch) {
	if !ix.apply(batch) {
		return
	}
	if _, err := ix.RecomputeCounts(); err != nil {
		ix.logger.Warn().Err(err).Msg("recomputing counts failed")
	}
}

// apply folds a batch into the index and reports whether any span's id
// membership changed.
func (ix *MarkIndex) apply(batch MutationBatch) bool {
	changed := false
	for _, m := range batch.Mutations {
		if m.Kind != KindMark {
			continue
		}
		switch m.Type {
		case MutationDestroyed:
			if ix.forget(m.Key) {
				changed = true
			}
		default:
			if ix.reconcile(m.Key, m.Node.ids) {
				changed = true
			}
		}
	}
	return changed
}

func (ix *MarkIndex) reconcile(key NodeKey, ids []string) bool {
	prev, known := ix.keyToIDs[key]
	if known && sameIDSet(prev, ids) {
		return false
	}
	for _, id := range prev {
		if !slices.Contains(ids, id) {
			ix.removeKey(id, key)
		}
	}
	for _, id := range ids {
		set := ix.idToKeys[id]
		if set == nil {
			set = make(map[NodeKey]struct{})
			ix.idToKeys[id] = set
		}
		set[key] = struct{}{}
	}
	ix.keyToIDs[key] = slices.Clone(ids)
	return true
}

func (ix *MarkIndex) forget(key NodeKey) bool {
	ids, ok := ix.keyToIDs[key]
	if !ok {
		return false
	}
	for _, id := range ids {
		ix.removeKey(id, key)
	}
	delete(ix.keyToIDs, key)
	return true
}

func (ix *MarkIndex) removeKey(id string, key NodeKey) {
	set := ix.idToKeys[id]
	delete(set, key)
	if len(set) == 0 {
		delete(ix.idToKeys, id)
	}
}

// Has reports whether any live span carries id.
func (ix *MarkIndex) Has(id string) bool {
	_, ok := ix.idToKeys[id]
	return ok
}

// Keys returns the keys of spans carrying id, in ascending key order.
func (ix *MarkIndex) Keys(id string) []NodeKey {
	keys := make([]NodeKey, 0, len(ix.idToKeys[id]))
	for k := range ix.idToKeys[id] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// IDs returns every indexed mark id, sorted.
func (ix *MarkIndex) IDs() []string {
	ids := make([]string, 0, len(ix.idToKeys))
	for id := range ix.idToKeys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetCounts records the counts for a mark id.
func (ix *MarkIndex) SetCounts(id string, c Counts) {
	ix.counts[id] = c
}

// DeleteCounts forgets the counts for a mark id.
func (ix *MarkIndex) DeleteCounts(id string) {
	delete(ix.counts, id)
}

// ClearCounts forgets every recorded count.
func (ix *MarkIndex) ClearCounts() {
	ix.counts = make(map[string]Counts)
}

// CountsFor returns the recorded counts for id.
func (ix *MarkIndex) CountsFor(id string) (Counts, bool) {
	c, ok := ix.counts[id]
	return c, ok
}

// Aggregate sums the recorded counts of ids. Unknown ids contribute zero.
func (ix *MarkIndex) Aggregate(ids []string) Counts {
	var total Counts
	for _, id := range ids {
		c := ix.counts[id]
		total.Source += c.Source
		total.Branch += c.Branch
	}
	return total
}

// RecomputeCounts writes the aggregated counts onto every span whose cached
// values differ, in a single transaction. Returns the number of spans
// updated.
func (ix *MarkIndex) RecomputeCounts() (int, error) {
	var stale []*Node
	for _, span := range ix.doc.Spans() {
		want := ix.Aggregate(span.ids)
		if span.sourceCount != want.Source || span.branchCount != want.Branch {
			stale = append(stale, span)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err := ix.doc.Update("recompute-counts", func() error {
		for _, span := range stale {
			want := ix.Aggregate(span.ids)
			s := ix.doc.writable(span.key)
			s.sourceCount = want.Source
			s.branchCount = want.Branch
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}
