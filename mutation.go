package copus

import (
	"sort"
)

// MutationType classifies a node change in a committed transaction.
type MutationType int

const (
	MutationCreated   MutationType = iota // node added by the transaction
	MutationUpdated                       // node existed before and after
	MutationDestroyed                     // node removed by the transaction
)

func (t MutationType) String() string {
	switch t {
	case MutationCreated:
		return "created"
	case MutationUpdated:
		return "updated"
	case MutationDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// NodeMutation describes one changed node. Node is the committed payload
// (nil when destroyed); Prior is the payload before the transaction (nil
// when created).
type NodeMutation struct {
	Key   NodeKey
	Type  MutationType
	Kind  NodeKind
	Node  *Node
	Prior *Node
}

// MutationBatch is the set of node changes produced by one committed
// transaction. Created and updated nodes come first in document order,
// followed by destroyed nodes in their former document order. Nodes both
// created and destroyed inside the transaction are not reported.
type MutationBatch struct {
	Name      string
	Revision  RevisionID
	Mutations []NodeMutation
}

// Empty reports whether the batch has no mutations.
func (b MutationBatch) Empty() bool {
	return len(b.Mutations) == 0
}

// OfKind returns the subset of the batch affecting nodes of the given kinds.
// With no kinds the batch is returned unchanged.
func (b MutationBatch) OfKind(kinds ...NodeKind) MutationBatch {
	if len(kinds) == 0 {
		return b
	}
	out := MutationBatch{Name: b.Name, Revision: b.Revision}
	for _, m := range b.Mutations {
		for _, k := range kinds {
			if m.Kind == k {
				out.Mutations = append(out.Mutations, m)
				break
			}
		}
	}
	return out
}

// MutationListener receives committed batches.
type MutationListener func(MutationBatch)

type listenerEntry struct {
	id    int
	kinds []NodeKind
	fn    MutationListener
}

// RegisterMutationListener subscribes fn to committed batches touching nodes
// of the given kinds (all kinds when none are given). Listeners run
// synchronously after commit; transactions committed from inside a listener
// are delivered after the current delivery completes. The returned function
// unregisters the listener.
func (d *Document) RegisterMutationListener(fn MutationListener, kinds ...NodeKind) func() {
	d.nextListener++
	entry := &listenerEntry{id: d.nextListener, kinds: kinds, fn: fn}
	d.listeners = append(d.listeners, entry)
	return func() {
		for i, l := range d.listeners {
			if l.id == entry.id {
				d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
				return
			}
		}
	}
}

func (d *Document) dispatch(batch MutationBatch) {
	if batch.Empty() {
		return
	}
	d.pending = append(d.pending, batch)
	if d.notifying {
		return
	}
	d.notifying = true
	defer func() { d.notifying = false }()

	for len(d.pending) > 0 {
		next := d.pending[0]
		d.pending = d.pending[1:]
		listeners := append([]*listenerEntry(nil), d.listeners...)
		for _, l := range listeners {
			filtered := next.OfKind(l.kinds...)
			if !filtered.Empty() {
				l.fn(filtered)
			}
		}
	}
}

func (d *Document) buildBatch(tx *TransactionState) MutationBatch {
	var batch MutationBatch
	if !tx.hasMutations {
		return batch
	}

	newOrder := orderIndex(d.nodes, d.root)
	oldOrder := orderIndex(tx.preNodes, tx.preRoot)

	var live []NodeMutation
	for key := range tx.touched {
		n := d.nodes[key]
		if n == nil {
			continue
		}
		if _, isNew := tx.created[key]; isNew {
			live = append(live, NodeMutation{Key: key, Type: MutationCreated, Kind: n.kind, Node: n})
			continue
		}
		prior := tx.preNodes[key]
		if prior == nil {
			continue
		}
		live = append(live, NodeMutation{Key: key, Type: MutationUpdated, Kind: n.kind, Node: n, Prior: prior})
	}
	sortByOrder(live, newOrder)

	var gone []NodeMutation
	for key := range tx.destroyed {
		prior := tx.preNodes[key]
		if prior == nil {
			continue
		}
		gone = append(gone, NodeMutation{Key: key, Type: MutationDestroyed, Kind: prior.kind, Prior: prior})
	}
	sortByOrder(gone, oldOrder)

	batch.Mutations = append(live, gone...)
	return batch
}

func sortByOrder(ms []NodeMutation, order map[NodeKey]int) {
	pos := func(k NodeKey) int {
		if p, ok := order[k]; ok {
			return p
		}
		return len(order) + int(k)
	}
	sort.Slice(ms, func(i, j int) bool {
		return pos(ms[i].Key) < pos(ms[j].Key)
	})
}

// orderIndex numbers the nodes reachable from root in pre-order.
func orderIndex(nodes map[NodeKey]*Node, root NodeKey) map[NodeKey]int {
	order := make(map[NodeKey]int, len(nodes))
	var walk func(NodeKey)
	walk = func(key NodeKey) {
		n := nodes[key]
		if n == nil {
			return
		}
		order[key] = len(order)
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(root)
	return order
}
