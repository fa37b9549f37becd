package bolt

import (
	"context"
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/djlord-it/pushcron/internal/domain"
)

// Records are stored as JSON under their id.

func put(ctx context.Context, db *bolt.DB, bucket, key []byte, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, payload)
	})
}

func get[T any](ctx context.Context, db *bolt.DB, bucket, key []byte, kind, id string) (T, error) {
	var v T
	if err := ctx.Err(); err != nil {
		return v, err
	}
	err := db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucket).Get(key)
		if raw == nil {
			return &domain.NotFoundError{Kind: kind, ID: id}
		}
		return json.Unmarshal(raw, &v)
	})
	return v, err
}

// modify applies fn to the stored record in one write transaction. The
// record is written back only when fn returns true.
func modify[T any](ctx context.Context, db *bolt.DB, bucket, key []byte, kind, id string, fn func(*T) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		raw := b.Get(key)
		if raw == nil {
			return &domain.NotFoundError{Kind: kind, ID: id}
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if !fn(&v) {
			return nil
		}
		payload, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put(key, payload)
	})
}

// listAll decodes every record in bucket that keep accepts; a nil keep
// accepts all. Results follow key order.
func listAll[T any](ctx context.Context, db *bolt.DB, bucket []byte, keep func(T) bool) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []T
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, raw []byte) error {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			if keep == nil || keep(v) {
				out = append(out, v)
			}
			return nil
		})
	})
	return out, err
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
