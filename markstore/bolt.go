package markstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/phroun/copus"
)

const (
	marksBucketName = "marks"
	opusBucketName  = "opus"
)

// Bolt is a Store in a single bbolt file. Records live in the marks bucket
// keyed by id; the opus bucket holds one nested bucket per document listing
// its mark ids.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the store file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening mark db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{marksBucketName, opusBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating mark buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func getMark(b *bolt.Bucket, id string) (copus.MarkX, bool, error) {
	raw := b.Get([]byte(id))
	if raw == nil {
		return copus.MarkX{}, false, nil
	}
	var m copus.MarkX
	if err := json.Unmarshal(raw, &m); err != nil {
		return copus.MarkX{}, false, fmt.Errorf("decoding mark %s: %w", id, err)
	}
	return m, true, nil
}

func putMark(b *bolt.Bucket, m copus.MarkX) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.Put([]byte(m.ID), raw)
}

// adjustDownstream adds delta to the downstream count of every existing
// upstream record, never going below zero.
func adjustDownstream(b *bolt.Bucket, upstream []string, delta int) error {
	for _, up := range upstream {
		rec, ok, err := getMark(b, up)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		rec.DownstreamCount = max(rec.DownstreamCount+delta, 0)
		if err := putMark(b, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Bolt) Create(_ context.Context, params copus.MarkX) (copus.MarkX, error) {
	m, err := prepare(params)
	if err != nil {
		return copus.MarkX{}, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		marks := tx.Bucket([]byte(marksBucketName))
		if marks.Get([]byte(m.ID)) != nil {
			return fmt.Errorf("%w: id %s already exists", ErrInvalidMark, m.ID)
		}
		if err := adjustDownstream(marks, m.UpstreamIDs, 1); err != nil {
			return err
		}
		if err := putMark(marks, m); err != nil {
			return err
		}
		opus, err := tx.Bucket([]byte(opusBucketName)).CreateBucketIfNotExists([]byte(m.OpusUUID))
		if err != nil {
			return err
		}
		return opus.Put([]byte(m.ID), []byte{})
	})
	if err != nil {
		return copus.MarkX{}, err
	}
	return m, nil
}

func (s *Bolt) List(_ context.Context, opusUUID string) ([]copus.MarkX, error) {
	out := []copus.MarkX{}
	err := s.db.View(func(tx *bolt.Tx) error {
		opus := tx.Bucket([]byte(opusBucketName)).Bucket([]byte(opusUUID))
		if opus == nil {
			return nil
		}
		marks := tx.Bucket([]byte(marksBucketName))
		c := opus.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			m, ok, err := getMark(marks, string(k))
			if err != nil {
				return err
			}
			if ok {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}

func (s *Bolt) Get(_ context.Context, id string) (copus.MarkX, error) {
	var m copus.MarkX
	err := s.db.View(func(tx *bolt.Tx) error {
		rec, ok, err := getMark(tx.Bucket([]byte(marksBucketName)), id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		m = rec
		return nil
	})
	return m, err
}

func (s *Bolt) Info(_ context.Context, ids []string) (copus.MarkInfo, error) {
	var queried, branches []copus.MarkX
	err := s.db.View(func(tx *bolt.Tx) error {
		marks := tx.Bucket([]byte(marksBucketName))
		for _, id := range ids {
			m, ok, err := getMark(marks, id)
			if err != nil {
				return err
			}
			if ok {
				queried = append(queried, m)
			}
		}
		return marks.ForEach(func(k, v []byte) error {
			var m copus.MarkX
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decoding mark %s: %w", k, err)
			}
			if intersects(m.UpstreamIDs, ids) {
				branches = append(branches, m)
			}
			return nil
		})
	})
	if err != nil {
		return copus.MarkInfo{}, err
	}
	return buildInfo(queried, branches), nil
}

func (s *Bolt) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		marks := tx.Bucket([]byte(marksBucketName))
		m, ok, err := getMark(marks, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if err := adjustDownstream(marks, m.UpstreamIDs, -1); err != nil {
			return err
		}
		if err := marks.Delete([]byte(id)); err != nil {
			return err
		}
		if opus := tx.Bucket([]byte(opusBucketName)).Bucket([]byte(m.OpusUUID)); opus != nil {
			return opus.Delete([]byte(id))
		}
		return nil
	})
}

func (s *Bolt) Close() error {
	return s.db.Close()
}
