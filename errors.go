// Package copus keeps text annotations anchored inside a mutable rich-text
// document tree. Annotations are stored as (stable node id, character offset)
// pairs, resolved into live ranges, wrapped in mark spans and tracked as the
// document is edited, copied, pasted and serialized.
package copus

import "errors"

// Resolution errors
var (
	// ErrAnchorUnresolved indicates that an anchor's node id is unknown or
	// that the referenced element has no text runs.
	ErrAnchorUnresolved = errors.New("anchor could not be resolved")

	// ErrNodeNotFound indicates that a node key or stable id does not exist.
	ErrNodeNotFound = errors.New("node not found")
)

// Structure errors
var (
	// ErrEmptyRange indicates that a range covers no characters.
	ErrEmptyRange = errors.New("range is empty")

	// ErrInvalidMarkID indicates that a mark id is empty.
	ErrInvalidMarkID = errors.New("invalid mark id")

	// ErrNotText indicates that an operation expected a text run.
	ErrNotText = errors.New("expected text node")

	// ErrInvalidPosition indicates that an offset is out of bounds.
	ErrInvalidPosition = errors.New("position out of bounds")

	// ErrInvalidStructure indicates that a node cannot be placed where it was requested.
	ErrInvalidStructure = errors.New("invalid document structure")
)

// Transaction errors
var (
	// ErrTransactionPoisoned indicates that a transaction was poisoned by an inner rollback.
	ErrTransactionPoisoned = errors.New("transaction was poisoned by inner rollback")

	// ErrNoTransaction indicates that there is no active transaction.
	ErrNoTransaction = errors.New("no active transaction")
)

// Clipboard errors
var (
	// ErrNoSelection indicates that the document has no selection.
	ErrNoSelection = errors.New("no selection")

	// ErrNoProvenance indicates that a clipboard carries no provenance record.
	ErrNoProvenance = errors.New("no provenance record")
)

// Codec errors
var (
	// ErrUnknownNodeType indicates that a serialized node has an unrecognized type.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrUnsupportedVersion indicates that a serialized document uses a newer format.
	ErrUnsupportedVersion = errors.New("unsupported document version")
)

// Mark service errors
var (
	// ErrNoService indicates that an operation needs a MarkService but none is configured.
	ErrNoService = errors.New("no mark service configured")
)

// Configuration errors
var (
	// ErrMultipleDataSources indicates that more than one data source was provided.
	ErrMultipleDataSources = errors.New("multiple data sources provided")

	// ErrDocumentClosed indicates that the document has been closed.
	ErrDocumentClosed = errors.New("document closed")
)

// Storage errors
var (
	// ErrInvalidDocumentID indicates that a document id cannot name a stored file.
	ErrInvalidDocumentID = errors.New("invalid document id")

	// ErrDocumentNotFound indicates that no saved document has the requested id.
	ErrDocumentNotFound = errors.New("document not found")
)
