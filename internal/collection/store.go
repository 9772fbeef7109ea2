// Package collection stores the local ratings and history collections as
// JSON files in a data directory and watches them for edits.
package collection

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/alexjbarnes/cloudsync/internal/cloudsync"
)

const (
	RatingsFile = "rating.json"
	HistoryFile = "history.json"
)

// FileName returns the file name backing c.
func FileName(c cloudsync.Collection) string {
	if c == cloudsync.CollectionHistory {
		return HistoryFile
	}

	return RatingsFile
}

// Store provides thread-safe access to the collection files. Writes are
// atomic: readers see either the old or the new file, never a partial one.
type Store struct {
	dir string
	mu  sync.RWMutex

	// hashes holds the content hash of the last write per collection so
	// the watcher can skip events caused by the store itself.
	hashes map[cloudsync.Collection]string
}

// NewStore creates a Store rooted at dir. The directory is created on
// first write.
func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		hashes: make(map[cloudsync.Collection]string),
	}
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute path of the file backing c.
func (s *Store) Path(c cloudsync.Collection) string {
	return filepath.Join(s.dir, FileName(c))
}

// ReadCollection returns the raw file content for c. A missing file reads
// as empty.
func (s *Store) ReadCollection(c cloudsync.Collection) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path(c))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName(c), err)
	}

	return data, nil
}

// WriteCollection replaces the file for c with data.
func (s *Store) WriteCollection(c cloudsync.Collection, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	name := FileName(c)
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	if err := writeAndClose(tmp, data); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, s.Path(c)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", name, err)
	}

	s.hashes[c] = ContentHash(data)

	return nil
}

// WrittenHash returns the content hash of the last WriteCollection for c,
// or "" if the store has not written it.
func (s *Store) WrittenHash(c cloudsync.Collection) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hashes[c]
}

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func writeAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}

	if err := f.Chmod(0644); err != nil {
		f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
