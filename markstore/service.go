package markstore

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phroun/copus"
)

// Service serves a Store to editors in the same process.
type Service struct {
	store  Store
	logger zerolog.Logger
}

var _ copus.MarkService = (*Service)(nil)

// NewService wraps store. A nil logger uses the global logger.
func NewService(store Store, logger *zerolog.Logger) *Service {
	s := &Service{store: store, logger: log.Logger}
	if logger != nil {
		s.logger = *logger
	}
	return s
}

func (s *Service) CreateMark(ctx context.Context, params copus.MarkX) (copus.MarkX, error) {
	m, err := s.store.Create(ctx, params)
	if err != nil {
		return copus.MarkX{}, err
	}
	s.logger.Debug().Str("mark", m.ID).Str("opus", m.OpusUUID).Msg("created mark")
	return m, nil
}

func (s *Service) MarkInfo(ctx context.Context, ids []string) (copus.MarkInfo, error) {
	return s.store.Info(ctx, ids)
}

// MarkList returns the stored marks of a document.
func (s *Service) MarkList(ctx context.Context, opusUUID string) ([]copus.MarkX, error) {
	return s.store.List(ctx, opusUUID)
}
