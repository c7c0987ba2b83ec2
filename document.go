package copus

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LibraryOptions configures the copus library.
type LibraryOptions struct {
	// IDLength is the length of minted stable ids. Defaults to DefaultIDLength.
	IDLength int

	// IDSource supplies randomness for stable ids. Defaults to a randomly
	// seeded source; each document gets its own unless DocumentOptions sets one.
	IDSource IDSource

	// Logger receives library diagnostics. Defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// Library tracks open documents and shared defaults.
type Library struct {
	idLength int
	idSource IDSource
	logger   zerolog.Logger

	// Open documents indexed by document id
	activeDocuments map[string]*Document
	mu              sync.RWMutex
}

// Init initializes the library.
func Init(options LibraryOptions) (*Library, error) {
	lib := &Library{
		idLength:        options.IDLength,
		idSource:        options.IDSource,
		logger:          log.Logger,
		activeDocuments: make(map[string]*Document),
	}
	if options.Logger != nil {
		lib.logger = *options.Logger
	}
	if lib.idLength <= 0 {
		lib.idLength = DefaultIDLength
	}
	return lib, nil
}

// DocumentOptions specifies how to create a document. At most one data
// source may be set; with none the document starts with a single empty
// paragraph.
type DocumentOptions struct {
	// DocumentID identifies the document (the "opus uuid"). A serialized
	// document's own id is used when this is empty, otherwise a new uuid.
	DocumentID string

	// DataJSON is a serialized document.
	DataJSON []byte

	// DataString is plain text; each line becomes a paragraph.
	DataString string

	// IDSource overrides the library's id source for this document.
	IDSource IDSource
}

// RevisionID counts committed transactions.
type RevisionID uint64

// ChangeResult contains version information after a commit.
type ChangeResult struct {
	Revision RevisionID
}

// TransactionState holds the state of an active transaction.
type TransactionState struct {
	depth    int    // nesting depth
	name     string // from outermost TransactionStart
	poisoned bool   // whether any inner transaction rolled back

	// Pre-transaction state for rollback
	preNodes     map[NodeKey]*Node
	preRoot      NodeKey
	preRegistry  *Registry
	preSelection *RangeSelection

	// Nodes writable in this transaction (cloned or created here)
	touched   map[NodeKey]struct{}
	created   map[NodeKey]struct{}
	destroyed map[NodeKey]struct{}

	hasMutations bool
}

// Document is an editable rich-text tree with stable node identities.
// A document is not safe for concurrent use; Editor serializes access.
type Document struct {
	lib *Library

	// Identity
	id       string
	registry *Registry
	logger   zerolog.Logger

	// Tree structure
	nodes   map[NodeKey]*Node
	root    NodeKey
	nextKey NodeKey

	selection *RangeSelection

	revision    RevisionID
	transaction *TransactionState

	// Post-commit listeners
	listeners    []*listenerEntry
	nextListener int
	pending      []MutationBatch
	notifying    bool

	closed bool
}

// Open creates a document from the given options.
func (lib *Library) Open(options DocumentOptions) (*Document, error) {
	if options.DataJSON != nil && options.DataString != "" {
		return nil, ErrMultipleDataSources
	}

	source := options.IDSource
	if source == nil {
		source = lib.idSource
	}
	if source == nil {
		source = NewIDSource()
	}

	d := &Document{
		lib:      lib,
		registry: NewRegistry(lib.idLength, source),
		logger:   lib.logger,
		nodes:    make(map[NodeKey]*Node),
	}
	d.root = d.mintKey()
	d.nodes[d.root] = &Node{key: d.root, kind: KindRoot}

	var serialized *SerializedDocument
	if options.DataJSON != nil {
		sd, err := ParseDocumentJSON(options.DataJSON)
		if err != nil {
			return nil, err
		}
		serialized = &sd
	}

	d.id = options.DocumentID
	if d.id == "" && serialized != nil {
		d.id = serialized.DocumentID
	}
	if d.id == "" {
		d.id = uuid.NewString()
	}
	d.logger = d.logger.With().Str("document", d.id).Logger()

	err := d.Update("open", func() error {
		switch {
		case serialized != nil:
			_, err := d.appendSerialized(serialized.Root.Children)
			return err
		case options.DataString != "":
			for _, line := range strings.Split(options.DataString, "\n") {
				d.appendParagraph(line)
			}
		default:
			d.appendParagraph("")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lib.mu.Lock()
	lib.activeDocuments[d.id] = d
	lib.mu.Unlock()

	d.logger.Debug().Int("nodes", len(d.nodes)).Msg("opened document")
	return d, nil
}

// Document returns an open document by id.
func (lib *Library) Document(id string) (*Document, bool) {
	lib.mu.RLock()
	defer lib.mu.RUnlock()
	d, ok := lib.activeDocuments[id]
	return d, ok
}

// Close releases the document. Further transactions fail with ErrDocumentClosed.
func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	if d.lib != nil {
		d.lib.mu.Lock()
		if d.lib.activeDocuments[d.id] == d {
			delete(d.lib.activeDocuments, d.id)
		}
		d.lib.mu.Unlock()
	}
	d.closed = true
	d.listeners = nil
	d.registry = NewRegistry(d.registry.length, d.registry.source)
	return nil
}

// ID returns the document id.
func (d *Document) ID() string {
	return d.id
}

// Logger returns the document's logger.
func (d *Document) Logger() *zerolog.Logger {
	return &d.logger
}

// Registry exposes the document's identity registry for inspection.
func (d *Document) Registry() *Registry {
	return d.registry
}

// Revision returns the number of committed transactions.
func (d *Document) Revision() RevisionID {
	return d.revision
}

// Root returns the root node.
func (d *Document) Root() *Node {
	return d.nodes[d.root]
}

// Node returns the node with the given key, or nil.
func (d *Document) Node(key NodeKey) *Node {
	return d.nodes[key]
}

// NodeByID returns the node bound to a stable id, or nil.
func (d *Document) NodeByID(id StableID) *Node {
	key, ok := d.registry.Lookup(id)
	if !ok {
		return nil
	}
	return d.nodes[key]
}

// InTransaction returns true if any transaction is active.
func (d *Document) InTransaction() bool {
	return d.transaction != nil
}

// TransactionDepth returns the current nesting depth (0 = no active transaction).
func (d *Document) TransactionDepth() int {
	if d.transaction == nil {
		return 0
	}
	return d.transaction.depth
}

// TransactionStart begins a new transaction with an optional descriptive name.
func (d *Document) TransactionStart(name string) error {
	if d.closed {
		return ErrDocumentClosed
	}
	if d.transaction != nil {
		d.transaction.depth++
		return nil
	}

	preNodes := make(map[NodeKey]*Node, len(d.nodes))
	for k, n := range d.nodes {
		preNodes[k] = n
	}
	var preSelection *RangeSelection
	if d.selection != nil {
		sel := *d.selection
		preSelection = &sel
	}
	d.transaction = &TransactionState{
		depth:        1,
		name:         name,
		preNodes:     preNodes,
		preRoot:      d.root,
		preRegistry:  d.registry.clone(),
		preSelection: preSelection,
		touched:      make(map[NodeKey]struct{}),
		created:      make(map[NodeKey]struct{}),
		destroyed:    make(map[NodeKey]struct{}),
	}
	return nil
}

// TransactionCommit commits the current transaction. The outermost commit
// bumps the revision and notifies mutation listeners.
func (d *Document) TransactionCommit() (ChangeResult, error) {
	if d.transaction == nil {
		return ChangeResult{}, ErrNoTransaction
	}

	d.transaction.depth--
	if d.transaction.depth > 0 {
		return ChangeResult{Revision: d.revision}, nil
	}

	tx := d.transaction
	if tx.poisoned {
		d.rollbackToPreTransaction()
		d.transaction = nil
		return ChangeResult{}, ErrTransactionPoisoned
	}

	d.revision++
	d.transaction = nil

	batch := d.buildBatch(tx)
	batch.Name = tx.name
	batch.Revision = d.revision
	d.dispatch(batch)

	return ChangeResult{Revision: d.revision}, nil
}

// TransactionRollback discards all changes in the current transaction.
func (d *Document) TransactionRollback() error {
	if d.transaction == nil {
		return ErrNoTransaction
	}

	d.transaction.poisoned = true
	d.transaction.depth--

	if d.transaction.depth == 0 {
		d.rollbackToPreTransaction()
		d.transaction = nil
	}
	// Inner level: poison flag will cause outer commit to rollback
	return nil
}

// Update runs fn inside a transaction, committing when fn succeeds and
// rolling back when it fails.
func (d *Document) Update(name string, fn func() error) error {
	if err := d.TransactionStart(name); err != nil {
		return err
	}
	if err := fn(); err != nil {
		d.TransactionRollback()
		return err
	}
	_, err := d.TransactionCommit()
	return err
}

func (d *Document) rollbackToPreTransaction() {
	tx := d.transaction
	if tx == nil {
		return
	}
	d.nodes = tx.preNodes
	d.root = tx.preRoot
	d.registry = tx.preRegistry
	d.selection = tx.preSelection
	d.logger.Debug().Str("transaction", tx.name).Msg("rolled back")
}

func (d *Document) mintKey() NodeKey {
	d.nextKey++
	return d.nextKey
}

// writable returns a node that may be modified in the current transaction,
// cloning it on first write.
func (d *Document) writable(key NodeKey) *Node {
	tx := d.transaction
	if tx == nil {
		panic("copus: mutation outside transaction")
	}
	n := d.nodes[key]
	if n == nil {
		return nil
	}
	if _, ok := tx.touched[key]; ok {
		return n
	}
	c := n.clone()
	d.nodes[key] = c
	tx.touched[key] = struct{}{}
	tx.hasMutations = true
	return c
}

// createNode adds a detached node. Block and text nodes are bound to the
// preferred stable id when it is free, otherwise to a fresh one.
func (d *Document) createNode(kind NodeKind, preferred StableID) *Node {
	tx := d.transaction
	if tx == nil {
		panic("copus: mutation outside transaction")
	}
	n := &Node{key: d.mintKey(), kind: kind}
	if kind.HasStableID() {
		id, collided := d.registry.Assign(n.key, preferred)
		if collided {
			d.logger.Warn().
				Str("id", string(preferred)).
				Str("replacement", string(id)).
				Msg("stable id already in use, regenerated")
		}
		n.id = id
	}
	d.nodes[n.key] = n
	tx.touched[n.key] = struct{}{}
	tx.created[n.key] = struct{}{}
	tx.hasMutations = true
	return n
}

// destroyNode removes a detached node from the document and releases its id.
func (d *Document) destroyNode(key NodeKey) {
	tx := d.transaction
	if _, ok := d.nodes[key]; !ok {
		return
	}
	delete(d.nodes, key)
	d.registry.Release(key)
	if _, ok := tx.created[key]; ok {
		delete(tx.created, key)
	} else {
		tx.destroyed[key] = struct{}{}
	}
	delete(tx.touched, key)
	tx.hasMutations = true
}
