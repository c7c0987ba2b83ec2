package copus

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Clipboard MIME types.
const (
	MIMETextPlain      = "text/plain"
	MIMETextHTML       = "text/html"
	ProvenanceMIMEType = "application/x-copus-copy"
)

// ProvenanceRecord describes where copied text came from. It travels on the
// clipboard under ProvenanceMIMEType.
type ProvenanceRecord struct {
	DocumentID  string   `json:"documentId"`
	StartAnchor Anchor   `json:"startAnchor"`
	EndAnchor   Anchor   `json:"endAnchor"`
	TextContent string   `json:"textContent"`
	SourceLink  string   `json:"sourceLink,omitempty"`
	MarkIDs     []string `json:"markIds,omitempty"`
}

// Clipboard is a typed data exchange surface.
type Clipboard interface {
	SetData(mimeType, data string)
	GetData(mimeType string) (string, bool)
}

// DataTransfer is an in-memory Clipboard.
type DataTransfer struct {
	items map[string]string
}

// NewDataTransfer creates an empty DataTransfer.
func NewDataTransfer() *DataTransfer {
	return &DataTransfer{items: make(map[string]string)}
}

func (t *DataTransfer) SetData(mimeType, data string) {
	t.items[mimeType] = data
}

func (t *DataTransfer) GetData(mimeType string) (string, bool) {
	data, ok := t.items[mimeType]
	return data, ok
}

// Types lists the MIME types present, sorted.
func (t *DataTransfer) Types() []string {
	types := make([]string, 0, len(t.items))
	for k := range t.items {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// EncodeProvenance serializes a record for the clipboard.
func EncodeProvenance(rec ProvenanceRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding provenance: %w", err)
	}
	return string(data), nil
}

// DecodeProvenance parses a clipboard provenance payload.
func DecodeProvenance(data string) (ProvenanceRecord, error) {
	var rec ProvenanceRecord
	if data == "" {
		return rec, ErrNoProvenance
	}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrNoProvenance, err)
	}
	if rec.DocumentID == "" || rec.StartAnchor.NodeID == "" || rec.EndAnchor.NodeID == "" {
		return rec, ErrNoProvenance
	}
	return rec, nil
}

// CaptureProvenance builds a record for the current selection.
func (d *Document) CaptureProvenance(sourceLink string) (ProvenanceRecord, error) {
	sel, ok := d.Selection()
	if !ok {
		return ProvenanceRecord{}, ErrNoSelection
	}
	start, end, _, err := d.normalize(sel)
	if err != nil {
		return ProvenanceRecord{}, err
	}
	gs, _ := d.globalOffset(start)
	ge, _ := d.globalOffset(end)
	if gs == ge {
		return ProvenanceRecord{}, ErrEmptyRange
	}
	startAnchor, ok := d.AnchorOf(start)
	if !ok {
		return ProvenanceRecord{}, ErrAnchorUnresolved
	}
	endAnchor, ok := d.AnchorOf(end)
	if !ok {
		return ProvenanceRecord{}, ErrAnchorUnresolved
	}
	return ProvenanceRecord{
		DocumentID:  d.id,
		StartAnchor: startAnchor,
		EndAnchor:   endAnchor,
		TextContent: d.textBetween(start, end),
		SourceLink:  sourceLink,
		MarkIDs:     d.MarkIDsIn(sel),
	}, nil
}
