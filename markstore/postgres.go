package markstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phroun/copus"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS copus_marks (
	id               TEXT PRIMARY KEY,
	opus_uuid        TEXT NOT NULL,
	opus_id          BIGINT NOT NULL DEFAULT 0,
	start_node_id    TEXT NOT NULL,
	start_node_at    INTEGER NOT NULL,
	end_node_id      TEXT NOT NULL,
	end_node_at      INTEGER NOT NULL,
	source_count     INTEGER NOT NULL DEFAULT 0,
	downstream_count INTEGER NOT NULL DEFAULT 0,
	text_content     TEXT NOT NULL DEFAULT '',
	source_link      TEXT NOT NULL DEFAULT '',
	upstream_ids     TEXT[] NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS copus_marks_opus_uuid ON copus_marks (opus_uuid);
CREATE INDEX IF NOT EXISTS copus_marks_upstream_ids ON copus_marks USING GIN (upstream_ids);
`

const markColumns = `id, opus_uuid, opus_id, start_node_id, start_node_at, end_node_id, end_node_at,
	source_count, downstream_count, text_content, source_link, upstream_ids`

// Postgres is a Store in a PostgreSQL table.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and creates the schema if needed.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	s := NewPostgres(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing pool. The schema is not touched.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the marks table and its indexes.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func scanMark(row pgx.CollectableRow) (copus.MarkX, error) {
	var m copus.MarkX
	var startID, endID string
	err := row.Scan(&m.ID, &m.OpusUUID, &m.OpusID, &startID, &m.StartNodeAt, &endID, &m.EndNodeAt,
		&m.SourceCount, &m.DownstreamCount, &m.TextContent, &m.SourceLink, &m.UpstreamIDs)
	m.StartNodeID = copus.StableID(startID)
	m.EndNodeID = copus.StableID(endID)
	if len(m.UpstreamIDs) == 0 {
		m.UpstreamIDs = nil
	}
	return m, err
}

func (s *Postgres) Create(ctx context.Context, params copus.MarkX) (copus.MarkX, error) {
	m, err := prepare(params)
	if err != nil {
		return copus.MarkX{}, err
	}
	upstream := m.UpstreamIDs
	if upstream == nil {
		upstream = []string{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return copus.MarkX{}, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO copus_marks (`+markColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.OpusUUID, m.OpusID, string(m.StartNodeID), m.StartNodeAt, string(m.EndNodeID), m.EndNodeAt,
		m.SourceCount, m.DownstreamCount, m.TextContent, m.SourceLink, upstream)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return copus.MarkX{}, fmt.Errorf("%w: id %s already exists", ErrInvalidMark, m.ID)
		}
		return copus.MarkX{}, fmt.Errorf("inserting mark: %w", err)
	}
	if len(upstream) > 0 {
		_, err = tx.Exec(ctx, `UPDATE copus_marks SET downstream_count = downstream_count + 1 WHERE id = ANY($1)`, upstream)
		if err != nil {
			return copus.MarkX{}, fmt.Errorf("updating upstream counts: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return copus.MarkX{}, err
	}
	return m, nil
}

func (s *Postgres) query(ctx context.Context, where string, args ...any) ([]copus.MarkX, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+markColumns+` FROM copus_marks WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMark)
}

func (s *Postgres) List(ctx context.Context, opusUUID string) ([]copus.MarkX, error) {
	marks, err := s.query(ctx, `opus_uuid = $1`, opusUUID)
	if err != nil {
		return nil, fmt.Errorf("listing marks: %w", err)
	}
	if marks == nil {
		marks = []copus.MarkX{}
	}
	return marks, nil
}

func (s *Postgres) Get(ctx context.Context, id string) (copus.MarkX, error) {
	marks, err := s.query(ctx, `id = $1`, id)
	if err != nil {
		return copus.MarkX{}, fmt.Errorf("reading mark: %w", err)
	}
	if len(marks) == 0 {
		return copus.MarkX{}, ErrNotFound
	}
	return marks[0], nil
}

func (s *Postgres) Info(ctx context.Context, ids []string) (copus.MarkInfo, error) {
	if ids == nil {
		ids = []string{}
	}
	queried, err := s.query(ctx, `id = ANY($1)`, ids)
	if err != nil {
		return copus.MarkInfo{}, fmt.Errorf("reading marks: %w", err)
	}
	branches, err := s.query(ctx, `upstream_ids && $1`, ids)
	if err != nil {
		return copus.MarkInfo{}, fmt.Errorf("reading branches: %w", err)
	}
	return buildInfo(queried, branches), nil
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var upstream []string
	err = tx.QueryRow(ctx, `DELETE FROM copus_marks WHERE id = $1 RETURNING upstream_ids`, id).Scan(&upstream)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting mark: %w", err)
	}
	if len(upstream) > 0 {
		_, err = tx.Exec(ctx, `UPDATE copus_marks SET downstream_count = GREATEST(downstream_count - 1, 0) WHERE id = ANY($1)`, upstream)
		if err != nil {
			return fmt.Errorf("updating upstream counts: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
