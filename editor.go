package copus

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EditorOptions configures an Editor.
type EditorOptions struct {
	// Service creates marks and answers info queries. Without one, marks
	// created by paste get locally minted ids and MarkInfo fails.
	Service MarkService

	// DocumentID overrides the document's id in outgoing mark records.
	DocumentID string

	// SourceLink is written into provenance records on copy.
	SourceLink string

	// Logger defaults to the document's logger.
	Logger *zerolog.Logger
}

// Editor drives a document on behalf of a host: it loads stored marks,
// keeps the mark index current and moves provenance across the clipboard.
// Its methods are safe for concurrent use; calls to the mark service are
// made without holding the document lock.
type Editor struct {
	mu sync.Mutex

	doc        *Document
	index      *MarkIndex
	service    MarkService
	documentID string
	sourceLink string
	logger     zerolog.Logger

	// Last known record per mark id
	marks map[string]MarkX
}

// NewEditor attaches an editor to doc.
func NewEditor(doc *Document, options EditorOptions) *Editor {
	e := &Editor{
		doc:        doc,
		index:      NewMarkIndex(doc),
		service:    options.Service,
		documentID: options.DocumentID,
		sourceLink: options.SourceLink,
		logger:     doc.logger,
		marks:      make(map[string]MarkX),
	}
	if options.Logger != nil {
		e.logger = *options.Logger
	}
	if e.documentID == "" {
		e.documentID = doc.ID()
	}
	return e
}

// Close detaches the editor's index from the document.
func (e *Editor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.index.Close()
}

// Do runs fn with exclusive access to the document.
func (e *Editor) Do(fn func(d *Document) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.doc)
}

// Index returns the editor's mark index. Callers must not use it
// concurrently with other editor methods.
func (e *Editor) Index() *MarkIndex {
	return e.index
}

// AttachMarkList records the counts of each mark and wraps its range. Marks
// whose anchors no longer resolve are logged and skipped. Returns the number
// of marks applied.
func (e *Editor) AttachMarkList(list []MarkX) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	applied := 0
	err := e.doc.Update("attach-mark-list", func() error {
		for _, m := range list {
			if m.ID == "" {
				e.logger.Warn().Msg("skipping mark without id")
				continue
			}
			e.index.SetCounts(m.ID, m.Counts())
			e.marks[m.ID] = m
			factory := hydrationFactory(m)
			if _, err := e.doc.WrapRange(m.Start(), m.End(), m.ID, factory); err != nil {
				e.logger.Warn().Err(err).
					Str("mark", m.ID).
					Str("start", m.Start().String()).
					Str("end", m.End().String()).
					Msg("mark not applied")
				continue
			}
			applied++
		}
		return nil
	})
	if err != nil {
		e.logger.Error().Err(err).Msg("attaching mark list failed")
		return 0
	}
	if _, err := e.index.RecomputeCounts(); err != nil {
		e.logger.Warn().Err(err).Msg("recomputing counts failed")
	}
	e.logger.Info().Int("marks", len(list)).Int("applied", applied).Msg("attached mark list")
	return applied
}

func hydrationFactory(m MarkX) SpanFactory {
	return func([]string) SpanPayload {
		var p SpanPayload
		if m.SourceCount > 0 {
			p.SourceCount = 1
		}
		if m.DownstreamCount > 0 {
			p.BranchCount = 1
		}
		return p
	}
}

// RemoveMark removes a mark id from the document and forgets its counts.
func (e *Editor) RemoveMark(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.index.DeleteCounts(id)
	delete(e.marks, id)
	n, err := e.doc.RemoveMarkID(id)
	if err != nil {
		return err
	}
	if _, err := e.index.RecomputeCounts(); err != nil {
		return err
	}
	e.logger.Debug().Str("mark", id).Int("spans", n).Msg("removed mark")
	return nil
}

// ClearMarkList removes every span and forgets all counts.
func (e *Editor) ClearMarkList() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.index.ClearCounts()
	e.marks = make(map[string]MarkX)
	_, err := e.doc.ClearMarks()
	return err
}

// Marks returns the marks present in the document, sorted by id.
func (e *Editor) Marks() []Mark {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.index.IDs()
	marks := make([]Mark, 0, len(ids))
	for _, id := range ids {
		if m, ok := e.markLocked(id); ok {
			marks = append(marks, m)
		}
	}
	return marks
}

// Mark returns a mark by id. Its anchors span the first through last run
// carrying the id and its counts aggregate every id overlapping it.
func (e *Editor) Mark(id string) (Mark, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.markLocked(id)
}

func (e *Editor) markLocked(id string) (Mark, bool) {
	var first, last *Node
	var overlapping []string
	for _, span := range e.doc.Spans() {
		if !span.HasID(id) {
			continue
		}
		if first == nil {
			first = span
		}
		last = span
		overlapping = unionIDs(overlapping, span.ids)
	}
	if first == nil {
		return Mark{}, false
	}

	firstRun := e.doc.nodes[first.children[0]]
	lastRun := e.doc.nodes[last.children[len(last.children)-1]]
	startPoint := Point{Key: firstRun.key}
	endPoint := Point{Key: lastRun.key, Offset: lastRun.TextSize()}
	start, _ := e.doc.AnchorOf(startPoint)
	end, _ := e.doc.AnchorOf(endPoint)

	counts := e.index.Aggregate(overlapping)
	m := Mark{
		ID:          id,
		Start:       start,
		End:         end,
		SourceCount: counts.Source,
		BranchCount: counts.Branch,
		TextContent: e.doc.textBetween(startPoint, endPoint),
	}
	if rec, ok := e.marks[id]; ok {
		m.SourceLink = rec.SourceLink
	}
	return m, true
}

// CreateMark asks the mark service for a new mark covering the current
// selection and wraps it once the service answers. Service errors are
// returned and leave the document untouched.
func (e *Editor) CreateMark(ctx context.Context, sourceLink string) (Mark, error) {
	e.mu.Lock()
	params, err := e.selectionParams()
	e.mu.Unlock()
	if err != nil {
		return Mark{}, err
	}
	params.SourceLink = sourceLink
	if sourceLink != "" {
		params.SourceCount = 1
	}
	return e.createAndWrap(ctx, params)
}

func (e *Editor) selectionParams() (MarkX, error) {
	sel, ok := e.doc.Selection()
	if !ok {
		return MarkX{}, ErrNoSelection
	}
	start, end, _, err := e.doc.normalize(sel)
	if err != nil {
		return MarkX{}, err
	}
	gs, _ := e.doc.globalOffset(start)
	ge, _ := e.doc.globalOffset(end)
	if ge <= gs {
		return MarkX{}, ErrEmptyRange
	}
	startAnchor, okS := e.doc.AnchorOf(start)
	endAnchor, okE := e.doc.AnchorOf(end)
	if !okS || !okE {
		return MarkX{}, ErrAnchorUnresolved
	}
	return MarkX{
		OpusUUID:    e.documentID,
		StartNodeID: startAnchor.NodeID,
		StartNodeAt: startAnchor.Offset,
		EndNodeID:   endAnchor.NodeID,
		EndNodeAt:   endAnchor.Offset,
		TextContent: e.doc.textBetween(start, end),
	}, nil
}

// createAndWrap obtains an id for params and wraps its anchors in a later
// transaction. The service call is never retried.
func (e *Editor) createAndWrap(ctx context.Context, params MarkX) (Mark, error) {
	created := params
	if e.service != nil {
		var err error
		created, err = e.service.CreateMark(ctx, params)
		if err != nil {
			e.logger.Warn().Err(err).Msg("creating mark failed")
			return Mark{}, err
		}
	} else {
		created.ID = uuid.NewString()
	}
	if created.ID == "" {
		return Mark{}, ErrInvalidMarkID
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.marks[created.ID] = created
	e.index.SetCounts(created.ID, created.Counts())
	if _, err := e.doc.WrapRange(created.Start(), created.End(), created.ID, hydrationFactory(created)); err != nil {
		e.logger.Warn().Err(err).Str("mark", created.ID).Msg("mark not applied")
		return Mark{}, err
	}
	if _, err := e.index.RecomputeCounts(); err != nil {
		e.logger.Warn().Err(err).Msg("recomputing counts failed")
	}
	m, _ := e.markLocked(created.ID)
	if m.SourceLink == "" {
		m.SourceLink = created.SourceLink
	}
	return m, nil
}

// MarkInfo asks the mark service about ids. It does not touch the document.
func (e *Editor) MarkInfo(ctx context.Context, ids []string) (MarkInfo, error) {
	if e.service == nil {
		return MarkInfo{}, ErrNoService
	}
	return e.service.MarkInfo(ctx, ids)
}

// Copy writes the current selection to cb as plain text, HTML and a
// provenance record, and returns the record.
func (e *Editor) Copy(cb Clipboard) (ProvenanceRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.doc.CaptureProvenance(e.sourceLink)
	if err != nil {
		return rec, err
	}
	rec.DocumentID = e.documentID
	encoded, err := EncodeProvenance(rec)
	if err != nil {
		return rec, err
	}
	sel, _ := e.doc.Selection()
	htmlText, err := e.doc.RenderRangeHTML(sel)
	if err != nil {
		return rec, err
	}
	cb.SetData(MIMETextPlain, rec.TextContent)
	cb.SetData(MIMETextHTML, htmlText)
	cb.SetData(ProvenanceMIMEType, encoded)
	e.logger.Debug().
		Str("start", rec.StartAnchor.String()).
		Str("end", rec.EndAnchor.String()).
		Msg("copied with provenance")
	return rec, nil
}

// Paste inserts the clipboard text at the selection. When the clipboard
// carries a provenance record the pasted text is annotated with a new mark
// pointing back at its source, which is returned. Without a record, or when
// the pasted range cannot be annotated, the paste stands and no mark is
// returned.
func (e *Editor) Paste(ctx context.Context, cb Clipboard) (*Mark, error) {
	raw, hasRecord := cb.GetData(ProvenanceMIMEType)
	var rec ProvenanceRecord
	if hasRecord {
		var err error
		rec, err = DecodeProvenance(raw)
		if err != nil {
			e.logger.Warn().Err(err).Msg("ignoring clipboard provenance")
			hasRecord = false
		}
	}

	text, ok := cb.GetData(MIMETextPlain)
	if !ok {
		if h, okHTML := cb.GetData(MIMETextHTML); okHTML {
			text = FlattenHTML(h)
		} else if hasRecord {
			text = rec.TextContent
		}
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	e.mu.Lock()
	sel, ok := e.doc.Selection()
	if !ok {
		e.mu.Unlock()
		return nil, ErrNoSelection
	}
	start, _, _, err := e.doc.normalize(sel)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	startAnchor, okStart := e.doc.AnchorOf(start)
	caret, err := e.doc.InsertText(text)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	endAnchor, okEnd := e.doc.AnchorOf(caret.Focus)
	e.mu.Unlock()

	if !hasRecord {
		return nil, nil
	}
	if !okStart || !okEnd || text == "" {
		e.logger.Debug().Msg("pasted range not annotated")
		return nil, nil
	}

	params := MarkX{
		OpusUUID:    e.documentID,
		StartNodeID: startAnchor.NodeID,
		StartNodeAt: startAnchor.Offset,
		EndNodeID:   endAnchor.NodeID,
		EndNodeAt:   endAnchor.Offset,
		TextContent: rec.TextContent,
		SourceLink:  rec.SourceLink,
		UpstreamIDs: rec.MarkIDs,
	}
	if rec.SourceLink != "" {
		params.SourceCount = 1
	}
	m, err := e.createAndWrap(ctx, params)
	if err != nil {
		// The paste is committed; only the annotation is lost.
		e.logger.Debug().Err(err).Msg("pasted range not annotated")
		return nil, nil
	}
	m.TextContent = rec.TextContent
	return &m, nil
}

// Records returns the last known external record of every mark the editor
// has loaded or created, sorted by id.
func (e *Editor) Records() []MarkX {
	e.mu.Lock()
	defer e.mu.Unlock()
	records := make([]MarkX, 0, len(e.marks))
	for _, m := range e.marks {
		records = append(records, m)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}
