// Package bolt stores the attempt audit trail in a local bbolt file.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
)

var bucketAttempts = []byte("attempts")

const defaultLimit = 50

// AttemptRepository keys records by ULID so cursor order is creation order.
type AttemptRepository struct {
	db *bolt.DB
}

func Open(path string) (*AttemptRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAttempts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit bucket: %w", err)
	}
	return &AttemptRepository{db: db}, nil
}

func (r *AttemptRepository) Close() error {
	return r.db.Close()
}

func (r *AttemptRepository) Save(ctx context.Context, rec *patches.AttemptRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttempts).Put([]byte(rec.ID), data)
	})
}

// List returns matching records, newest first.
func (r *AttemptRepository) List(ctx context.Context, f patches.AttemptFilter) ([]*patches.AttemptRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	var out []*patches.AttemptRecord
	err := r.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAttempts).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var rec patches.AttemptRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode attempt %s: %w", k, err)
			}
			if f.RunID != "" && rec.RunID != f.RunID {
				continue
			}
			if f.FindingID != "" && rec.FindingID != f.FindingID {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}
