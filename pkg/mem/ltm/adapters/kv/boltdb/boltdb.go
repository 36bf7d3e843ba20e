package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lexlapax/engram/pkg/errors"
	"github.com/lexlapax/engram/pkg/log"
	"github.com/lexlapax/engram/pkg/mem/ltm"
	"github.com/lexlapax/engram/pkg/mem/record"
	bolt "go.etcd.io/bbolt"
)

var (
	recordsBucket = []byte("records")
	kindsBucket   = []byte("kinds")
)

// BoltStore implements ltm.Store on a BoltDB file. Records are stored as
// JSON under their id; a nested bucket per kind indexes ids for GetByKind.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltStore with the given database connection.
func NewBoltStore(db *bolt.DB) *BoltStore {
	log.Debug("Initialized BoltDB LTM store adapter",
		"db_path", db.Path(),
		"read_only", db.IsReadOnly(),
	)
	return &BoltStore{db: db}
}

// openTimeout bounds the wait for another process's file lock.
const openTimeout = time.Second

// Open opens (creating if needed) a BoltDB file at path and initializes it.
func Open(ctx context.Context, path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb at %s: %w", path, err)
	}
	s := NewBoltStore(db)
	if err := s.Initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Initialize creates the required buckets if they don't exist.
func (b *BoltStore) Initialize(ctx context.Context) error {
	log.DebugContext(ctx, "Initializing BoltDB store buckets")

	err := b.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		kinds, err := tx.CreateBucketIfNotExists(kindsBucket)
		if err != nil {
			return err
		}
		for _, k := range record.Kinds {
			if _, err := kinds.CreateBucketIfNotExists([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize BoltDB buckets", "error", err)
		return err
	}
	return nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func kindBucket(tx *bolt.Tx, kind record.Kind) (*bolt.Bucket, error) {
	kinds := tx.Bucket(kindsBucket)
	if kinds == nil {
		return nil, fmt.Errorf("kinds bucket does not exist")
	}
	kb := kinds.Bucket([]byte(kind))
	if kb == nil {
		return nil, fmt.Errorf("kind bucket does not exist for %s", kind)
	}
	return kb, nil
}

func put(tx *bolt.Tx, rec *record.MemoryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := tx.Bucket(recordsBucket).Put([]byte(rec.ID), data); err != nil {
		return err
	}
	kb, err := kindBucket(tx, rec.Kind)
	if err != nil {
		return err
	}
	return kb.Put([]byte(rec.ID), nil)
}

func remove(tx *bolt.Tx, id string) error {
	bucket := tx.Bucket(recordsBucket)
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil
	}
	var rec record.MemoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	if kb, err := kindBucket(tx, rec.Kind); err == nil {
		if err := kb.Delete([]byte(id)); err != nil {
			return err
		}
	}
	return bucket.Delete([]byte(id))
}

func decode(data []byte) (*record.MemoryRecord, error) {
	var rec record.MemoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// Save implements ltm.Store.
func (b *BoltStore) Save(ctx context.Context, rec *record.MemoryRecord) error {
	return b.SaveMany(ctx, []*record.MemoryRecord{rec})
}

// SaveMany implements ltm.Store.
func (b *BoltStore) SaveMany(ctx context.Context, recs []*record.MemoryRecord) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		for _, rec := range recs {
			// A kind never changes, but drop a stale index entry if an
			// older copy says otherwise.
			if err := remove(tx, rec.ID); err != nil {
				return err
			}
			if err := put(tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store records: %w", err)
	}
	log.DebugContext(ctx, "Saved records to BoltDB", "count", len(recs))
	return nil
}

// Get implements ltm.Store.
func (b *BoltStore) Get(ctx context.Context, id string) (*record.MemoryRecord, error) {
	var rec *record.MemoryRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(recordsBucket).Get([]byte(id))
		if data == nil {
			return errors.Wrap(errors.ErrNotFound, "record %s", id)
		}
		var err error
		rec, err = decode(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetByKind implements ltm.Store.
func (b *BoltStore) GetByKind(ctx context.Context, kind record.Kind) ([]*record.MemoryRecord, error) {
	var out []*record.MemoryRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		kb, err := kindBucket(tx, kind)
		if err != nil {
			return err
		}
		bucket := tx.Bucket(recordsBucket)
		return kb.ForEach(func(k, _ []byte) error {
			data := bucket.Get(k)
			if data == nil {
				return nil
			}
			rec, err := decode(data)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve records: %w", err)
	}
	sortNewestFirst(out)
	return out, nil
}

// Search implements ltm.Store with a full scan filtered by ltm.Matches.
func (b *BoltStore) Search(ctx context.Context, q ltm.SearchQuery) ([]*record.MemoryRecord, error) {
	var out []*record.MemoryRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(_, v []byte) error {
			rec, err := decode(v)
			if err != nil {
				return err
			}
			if ltm.Matches(rec, q) {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}

	sortNewestFirst(out)
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	log.DebugContext(ctx, "Searched BoltDB records", "text", q.Text, "found", len(out))
	return out, nil
}

// Delete implements ltm.Store.
func (b *BoltStore) Delete(ctx context.Context, id string) error {
	return b.DeleteMany(ctx, []string{id})
}

// DeleteMany implements ltm.Store.
func (b *BoltStore) DeleteMany(ctx context.Context, ids []string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		for _, id := range ids {
			if err := remove(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

// Count implements ltm.Store.
func (b *BoltStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(recordsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Clear implements ltm.Store.
func (b *BoltStore) Clear(ctx context.Context) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{recordsBucket, kindsBucket} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return b.Initialize(ctx)
}

func sortNewestFirst(recs []*record.MemoryRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
