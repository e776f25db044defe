// Package storage persists the last applied corpus snapshot together with the
// manifest hash it was built from.
package storage

import (
	"context"
	"fmt"

	"github.com/knowledge-engine/promptrank/internal/corpus"
)

const (
	DriverBolt = "bolt"
	DriverFile = "file"

	// SeedBatchSize is the number of templates written per batch by Seed
	SeedBatchSize = 800
)

// Store defines the persisted corpus snapshot
type Store interface {
	GetMeta(key string) (string, bool, error)
	SetMeta(key, value string) error
	// AllTemplates returns the snapshot in the order it was written
	AllTemplates(enabledOnly bool) ([]corpus.TemplateDoc, error)
	// ReplaceCorpus swaps in rows and records metaKey=metaValue. Readers keep
	// seeing the previous snapshot until the replacement is committed.
	ReplaceCorpus(rows []corpus.TemplateDoc, metaKey, metaValue string, batchSize int) error
	Close() error
}

// Open returns the store for driver rooted at path
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverBolt:
		return OpenBolt(path)
	case DriverFile:
		return NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// Seed replaces the persisted snapshot with rows unless the stored manifest
// hash already equals manifestHash. An empty manifestHash is derived from
// the rows. It reports whether a write happened.
func Seed(ctx context.Context, store Store, rows []corpus.TemplateDoc, manifestHash string) (bool, error) {
	hash := manifestHash
	if hash == "" {
		hash = corpus.Fingerprint(rows)
	}

	current, ok, err := store.GetMeta(corpus.ManifestHashKey)
	if err != nil {
		return false, fmt.Errorf("read manifest hash: %w", err)
	}
	if ok && current == hash {
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := store.ReplaceCorpus(rows, corpus.ManifestHashKey, hash, SeedBatchSize); err != nil {
		return false, fmt.Errorf("replace corpus: %w", err)
	}
	return true, nil
}

// uniqueRows drops repeated ids, keeping the first occurrence
func uniqueRows(rows []corpus.TemplateDoc) []corpus.TemplateDoc {
	seen := make(map[string]struct{}, len(rows))
	out := make([]corpus.TemplateDoc, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func filterEnabled(rows []corpus.TemplateDoc, enabledOnly bool) []corpus.TemplateDoc {
	if !enabledOnly {
		return rows
	}
	out := rows[:0]
	for _, r := range rows {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
