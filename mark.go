package copus

import "context"

// MarkX is the external mark record exchanged with mark services.
type MarkX struct {
	ID              string   `json:"id"`
	OpusUUID        string   `json:"opusUuid"`
	OpusID          int64    `json:"opusId,omitempty"`
	StartNodeID     StableID `json:"startNodeId"`
	StartNodeAt     int      `json:"startNodeAt"`
	EndNodeID       StableID `json:"endNodeId"`
	EndNodeAt       int      `json:"endNodeAt"`
	SourceCount     int      `json:"sourceCount"`
	DownstreamCount int      `json:"downstreamCount"`
	TextContent     string   `json:"textContent,omitempty"`
	SourceLink      string   `json:"sourceLink,omitempty"`
	UpstreamIDs     []string `json:"upstreamIds,omitempty"`
}

// Start returns the record's start anchor.
func (m MarkX) Start() Anchor {
	return Anchor{NodeID: m.StartNodeID, Offset: m.StartNodeAt}
}

// End returns the record's end anchor.
func (m MarkX) End() Anchor {
	return Anchor{NodeID: m.EndNodeID, Offset: m.EndNodeAt}
}

// Counts returns the record's provenance counts.
func (m MarkX) Counts() Counts {
	return Counts{Source: m.SourceCount, Branch: m.DownstreamCount}
}

// Mark is an annotation as seen by the editor. Counts are derived from the
// spans currently carrying the id.
type Mark struct {
	ID          string `json:"id"`
	Start       Anchor `json:"start"`
	End         Anchor `json:"end"`
	SourceCount int    `json:"sourceCount"`
	BranchCount int    `json:"branchCount"`
	TextContent string `json:"textContent,omitempty"`
	SourceLink  string `json:"sourceLink,omitempty"`
}

// MarkInfo relates a set of marks to their sources and to the marks pasted
// from them.
type MarkInfo struct {
	// SourceList holds the queried marks that were pasted from a source.
	SourceList []MarkX `json:"sourceList"`

	// BranchList holds marks elsewhere whose upstream includes a queried mark.
	BranchList []MarkX `json:"branchList"`
}

// MarkService creates and describes marks on behalf of an editor.
type MarkService interface {
	CreateMark(ctx context.Context, params MarkX) (MarkX, error)
	MarkInfo(ctx context.Context, ids []string) (MarkInfo, error)
}
