package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/knowledge-engine/promptrank/internal/corpus"
)

const (
	currentDir    = "current"
	templatesFile = "templates.json"
	metaFile      = "meta.json"
	lockFile      = ".lock"

	lockTimeout = 10 * time.Second
)

// FileStore implements Store as a snapshot directory of JSON files.
// Replacements are staged next to the live snapshot and swapped in by rename
// while holding an inter-process file lock.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	lock    *flock.Flock
}

// NewFileStore creates a new file-based store under baseDir
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		lock:    flock.New(filepath.Join(baseDir, lockFile)),
	}, nil
}

func (fs *FileStore) GetMeta(key string) (string, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	meta, err := fs.readMeta(filepath.Join(fs.baseDir, currentDir))
	if err != nil {
		return "", false, err
	}
	v, ok := meta[key]
	return v, ok, nil
}

func (fs *FileStore) SetMeta(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	unlock, err := fs.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	dir := filepath.Join(fs.baseDir, currentDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	meta, err := fs.readMeta(dir)
	if err != nil {
		return err
	}
	meta[key] = value

	tmp := filepath.Join(dir, metaFile+".tmp")
	if err := writeJSON(tmp, meta); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, metaFile))
}

func (fs *FileStore) AllTemplates(enabledOnly bool) ([]corpus.TemplateDoc, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(fs.baseDir, currentDir, templatesFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rows []corpus.TemplateDoc
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal templates: %w", err)
	}
	return filterEnabled(rows, enabledOnly), nil
}

func (fs *FileStore) ReplaceCorpus(rows []corpus.TemplateDoc, metaKey, metaValue string, batchSize int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	unlock, err := fs.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	if batchSize <= 0 {
		batchSize = SeedBatchSize
	}

	staging, err := os.MkdirTemp(fs.baseDir, "staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := writeTemplates(filepath.Join(staging, templatesFile), uniqueRows(rows), batchSize); err != nil {
		return err
	}

	live := filepath.Join(fs.baseDir, currentDir)
	meta, err := fs.readMeta(live)
	if err != nil {
		return err
	}
	meta[metaKey] = metaValue
	if err := writeJSON(filepath.Join(staging, metaFile), meta); err != nil {
		return err
	}

	return swapDir(staging, live)
}

// Close is a no-op for file storage
func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) acquire() (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	ok, err := fs.lock.TryLockContext(ctx, 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("cannot acquire storage lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("storage is locked by another process (lock: %s)", fs.lock.Path())
	}
	return func() { _ = fs.lock.Unlock() }, nil
}

func (fs *FileStore) readMeta(dir string) (map[string]string, error) {
	meta := map[string]string{}
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return meta, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
	}
	return meta, nil
}

// writeTemplates streams rows as one JSON array, flushing every batchSize rows
func writeTemplates(path string, rows []corpus.TemplateDoc, batchSize int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create templates file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	w.WriteString("[")
	for i, row := range rows {
		if i > 0 {
			w.WriteString(",")
		}
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal template %s: %w", row.ID, err)
		}
		w.Write(data)
		if (i+1)%batchSize == 0 {
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to write templates: %w", err)
			}
		}
	}
	w.WriteString("]")
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write templates: %w", err)
	}
	return f.Sync()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// swapDir moves staging into place at live, restoring the old snapshot if
// the second rename fails.
func swapDir(staging, live string) error {
	backup := live + ".old"
	_ = os.RemoveAll(backup)

	hadLive := true
	if err := os.Rename(live, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("cannot move current snapshot aside: %w", err)
		}
		hadLive = false
	}
	if err := os.Rename(staging, live); err != nil {
		if hadLive {
			_ = os.Rename(backup, live)
		}
		return fmt.Errorf("cannot install new snapshot: %w", err)
	}
	if hadLive {
		_ = os.RemoveAll(backup)
	}
	return nil
}
