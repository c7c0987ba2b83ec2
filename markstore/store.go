// Package markstore persists mark records and serves them to editors.
//
// A Store keeps the external MarkX records behind the copus.MarkService
// contract. Creating a mark with upstream ids bumps the downstream count of
// each upstream record, so a source can tell how often it was pasted.
package markstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/phroun/copus"
)

// Store errors
var (
	ErrNotFound    = errors.New("mark not found")
	ErrInvalidMark = errors.New("invalid mark")
)

// Store is a persistent collection of mark records.
type Store interface {
	// Create assigns an id when params has none, stores the record and
	// returns it as stored.
	Create(ctx context.Context, params copus.MarkX) (copus.MarkX, error)

	// List returns the marks of one document, sorted by id.
	List(ctx context.Context, opusUUID string) ([]copus.MarkX, error)

	Get(ctx context.Context, id string) (copus.MarkX, error)

	// Info relates ids to their sources and to the marks pasted from them.
	Info(ctx context.Context, ids []string) (copus.MarkInfo, error)

	// Delete removes a mark and releases its hold on upstream counts.
	Delete(ctx context.Context, id string) error

	Close() error
}

// prepare validates params and fills the fields a store owns.
func prepare(params copus.MarkX) (copus.MarkX, error) {
	if params.OpusUUID == "" {
		return params, fmt.Errorf("%w: missing opusUuid", ErrInvalidMark)
	}
	if params.StartNodeID == "" || params.EndNodeID == "" {
		return params, fmt.Errorf("%w: missing node id", ErrInvalidMark)
	}
	if params.StartNodeAt < 0 || params.EndNodeAt < 0 {
		return params, fmt.Errorf("%w: negative offset", ErrInvalidMark)
	}
	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	if params.SourceLink != "" {
		params.SourceCount = 1
	}
	params.DownstreamCount = 0
	params.UpstreamIDs = dedupe(params.UpstreamIDs, params.ID)
	return params, nil
}

func dedupe(ids []string, self string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == self || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isSource(m copus.MarkX) bool {
	return m.SourceLink != "" || len(m.UpstreamIDs) > 0
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// buildInfo assembles an info answer from the queried records and every
// record whose upstream ids intersect the query.
func buildInfo(queried, branches []copus.MarkX) copus.MarkInfo {
	info := copus.MarkInfo{
		SourceList: []copus.MarkX{},
		BranchList: []copus.MarkX{},
	}
	for _, m := range queried {
		if isSource(m) {
			info.SourceList = append(info.SourceList, m)
		}
	}
	info.BranchList = append(info.BranchList, branches...)
	sortByID(info.SourceList)
	sortByID(info.BranchList)
	return info
}

func sortByID(marks []copus.MarkX) {
	sort.Slice(marks, func(i, j int) bool { return marks[i].ID < marks[j].ID })
}
