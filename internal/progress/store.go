// Package progress implements the durable resumability ledger: a JSON object
// on disk keyed by artwork id, loaded once at start and rewritten atomically
// after every processed artwork.
package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

// Config controls where the ledger lives and whether it is locked.
type Config struct {
	Path string `mapstructure:"path"`
	// Lock creates <Path>.lock for the lifetime of the store.
	Lock bool `mapstructure:"lock"`
}

// FileStore is the single-writer JSON ledger.
type FileStore struct {
	path    string
	logger  *zap.Logger
	lock    *Lock
	mu      sync.RWMutex
	entries map[string]artwork.ProgressEntry
	loaded  bool
}

// Open acquires the lock (when configured) and loads the ledger.
func Open(cfg Config, logger *zap.Logger) (*FileStore, error) {
	store, err := New(cfg.Path, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Lock {
		lock, err := AcquireLock(cfg.Path)
		if err != nil {
			return nil, err
		}
		store.lock = lock
	}
	if _, err := store.Load(); err != nil {
		if releaseErr := store.Close(); releaseErr != nil {
			store.logger.Warn("release progress lock failed", zap.Error(releaseErr))
		}
		return nil, err
	}
	return store, nil
}

// New constructs an unloaded store for path.
func New(path string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("progress path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		path:    path,
		logger:  logger,
		entries: make(map[string]artwork.ProgressEntry),
	}, nil
}

// Path returns the ledger location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the ledger from disk, replacing the in-memory state. A missing
// file yields an empty mapping; anything unparseable is CorruptStore.
func (s *FileStore) Load() (map[string]artwork.ProgressEntry, error) {
	entries, err := ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.entries = entries
	s.loaded = true
	s.mu.Unlock()
	s.logger.Info("progress ledger loaded", zap.String("path", s.path), zap.Int("entries", len(entries)))
	return cloneEntries(entries), nil
}

// Lookup returns the entry for id, if any.
func (s *FileStore) Lookup(id string) (artwork.ProgressEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	return entry, ok
}

// RecordAttempt stores entry in memory. Callers must Flush before moving on.
func (s *FileStore) RecordAttempt(id string, entry artwork.ProgressEntry) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("artwork id is required")
	}
	entry.ID = id
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[id]; ok && prev.Uploaded && !entry.Uploaded {
		return fmt.Errorf("artwork %s already uploaded; refusing to downgrade entry", id)
	}
	s.entries[id] = entry
	return nil
}

// Flush durably replaces the ledger file with the in-memory state.
func (s *FileStore) Flush() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.entries, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode progress ledger: %w", err)
	}
	data = append(data, '\n')
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return &artwork.ProgressError{Kind: artwork.KindWriteFailed, Path: s.path, Err: err}
	}
	return nil
}

// Snapshot returns a copy of the in-memory ledger.
func (s *FileStore) Snapshot() map[string]artwork.ProgressEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.entries)
}

// Close releases the lock, if held.
func (s *FileStore) Close() error {
	if s.lock == nil {
		return nil
	}
	err := s.lock.Release()
	s.lock = nil
	return err
}

// ReadFile parses a ledger without taking the lock. Readers such as the
// report command and the status server rely on flushes being atomic renames.
func ReadFile(path string) (map[string]artwork.ProgressEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]artwork.ProgressEntry), nil
		}
		return nil, fmt.Errorf("read progress ledger %s: %w", path, err)
	}
	entries, err := decodeStrict(data)
	if err != nil {
		return nil, &artwork.ProgressError{Kind: artwork.KindCorruptStore, Path: path, Err: err}
	}
	for id, entry := range entries {
		if entry.ID == "" {
			entry.ID = id
			entries[id] = entry
		} else if entry.ID != id {
			return nil, &artwork.ProgressError{
				Kind: artwork.KindCorruptStore,
				Path: path,
				Err:  fmt.Errorf("entry keyed %q carries id %q", id, entry.ID),
			}
		}
	}
	return entries, nil
}

func decodeStrict(data []byte) (map[string]artwork.ProgressEntry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("ledger file is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	var entries map[string]artwork.ProgressEntry
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	if entries == nil {
		return nil, errors.New("ledger is not a JSON object")
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected trailing content after ledger object")
	}
	return entries, nil
}

func cloneEntries(src map[string]artwork.ProgressEntry) map[string]artwork.ProgressEntry {
	dst := make(map[string]artwork.ProgressEntry, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// SortedIDs returns the ledger keys in lexical order.
func SortedIDs(entries map[string]artwork.ProgressEntry) []string {
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
