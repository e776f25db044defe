package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/knowledge-engine/promptrank/internal/corpus"
)

var (
	bucketMeta      = []byte("meta")
	bucketTemplates = []byte("templates")
	bucketState     = []byte("state")

	keyActiveGeneration = []byte("active")
)

// BoltStore keeps the corpus in a bbolt file. Each replacement is written
// into a fresh generation bucket over several batched transactions and made
// visible by flipping the active generation in one final transaction.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file at path
func OpenBolt(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketTemplates, bucketState} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) GetMeta(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get([]byte(key)); v != nil {
			value, found = string(v), true
		}
		return nil
	})
	return value, found, err
}

func (s *BoltStore) SetMeta(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(key), []byte(value))
	})
}

func (s *BoltStore) AllTemplates(enabledOnly bool) ([]corpus.TemplateDoc, error) {
	var rows []corpus.TemplateDoc
	err := s.db.View(func(tx *bolt.Tx) error {
		gen := activeGeneration(tx)
		if gen == nil {
			return nil
		}
		b := tx.Bucket(bucketTemplates).Bucket(gen)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var doc corpus.TemplateDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("decode template: %w", err)
			}
			rows = append(rows, doc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return filterEnabled(rows, enabledOnly), nil
}

func (s *BoltStore) ReplaceCorpus(rows []corpus.TemplateDoc, metaKey, metaValue string, batchSize int) error {
	if batchSize <= 0 {
		batchSize = SeedBatchSize
	}
	rows = uniqueRows(rows)

	var gen []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketTemplates)
		if err := dropInactive(tx, parent); err != nil {
			return err
		}
		seq, err := parent.NextSequence()
		if err != nil {
			return err
		}
		gen = itob(seq)
		_, err = parent.CreateBucket(gen)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create generation: %w", err)
	}

	for start := 0; start < len(rows); start += batchSize {
		batch := rows[start:min(start+batchSize, len(rows))]
		err := s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketTemplates).Bucket(gen)
			for i, doc := range batch {
				data, err := json.Marshal(doc)
				if err != nil {
					return fmt.Errorf("failed to marshal template %s: %w", doc.ID, err)
				}
				if err := b.Put(itob(uint64(start+i)), data); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.discard(gen)
			return fmt.Errorf("failed to write batch at %d: %w", start, err)
		}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		parent := tx.Bucket(bucketTemplates)
		previous := activeGeneration(tx)
		if err := tx.Bucket(bucketState).Put(keyActiveGeneration, gen); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMeta).Put([]byte(metaKey), []byte(metaValue)); err != nil {
			return err
		}
		if previous != nil && parent.Bucket(previous) != nil {
			return parent.DeleteBucket(previous)
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) discard(gen []byte) {
	_ = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTemplates).DeleteBucket(gen)
	})
}

func activeGeneration(tx *bolt.Tx) []byte {
	v := tx.Bucket(bucketState).Get(keyActiveGeneration)
	if v == nil {
		return nil
	}
	// values are only valid for the life of the transaction
	return append([]byte(nil), v...)
}

// dropInactive removes generations left behind by an interrupted replacement
func dropInactive(tx *bolt.Tx, parent *bolt.Bucket) error {
	active := activeGeneration(tx)
	var stale [][]byte
	err := parent.ForEachBucket(func(k []byte) error {
		if active == nil || string(k) != string(active) {
			stale = append(stale, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := parent.DeleteBucket(k); err != nil {
			return err
		}
	}
	return nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
