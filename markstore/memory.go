package markstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/phroun/copus"
)

// Memory is a Store held in process memory.
type Memory struct {
	mu    sync.RWMutex
	marks map[string]copus.MarkX
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{marks: make(map[string]copus.MarkX)}
}

func (s *Memory) Create(_ context.Context, params copus.MarkX) (copus.MarkX, error) {
	m, err := prepare(params)
	if err != nil {
		return copus.MarkX{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.marks[m.ID]; exists {
		return copus.MarkX{}, fmt.Errorf("%w: id %s already exists", ErrInvalidMark, m.ID)
	}
	for _, up := range m.UpstreamIDs {
		if rec, ok := s.marks[up]; ok {
			rec.DownstreamCount++
			s.marks[up] = rec
		}
	}
	s.marks[m.ID] = m
	return m, nil
}

func (s *Memory) List(_ context.Context, opusUUID string) ([]copus.MarkX, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []copus.MarkX{}
	for _, m := range s.marks {
		if m.OpusUUID == opusUUID {
			out = append(out, m)
		}
	}
	sortByID(out)
	return out, nil
}

func (s *Memory) Get(_ context.Context, id string) (copus.MarkX, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.marks[id]
	if !ok {
		return copus.MarkX{}, ErrNotFound
	}
	return m, nil
}

func (s *Memory) Info(_ context.Context, ids []string) (copus.MarkInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var queried, branches []copus.MarkX
	for _, id := range ids {
		if m, ok := s.marks[id]; ok {
			queried = append(queried, m)
		}
	}
	for _, m := range s.marks {
		if intersects(m.UpstreamIDs, ids) {
			branches = append(branches, m)
		}
	}
	return buildInfo(queried, branches), nil
}

func (s *Memory) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.marks[id]
	if !ok {
		return ErrNotFound
	}
	for _, up := range m.UpstreamIDs {
		if rec, ok := s.marks[up]; ok && rec.DownstreamCount > 0 {
			rec.DownstreamCount--
			s.marks[up] = rec
		}
	}
	delete(s.marks, id)
	return nil
}

func (s *Memory) Close() error {
	return nil
}
