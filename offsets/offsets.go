package offsets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/nxadm/tail"
)

// A Store is a JSON-persisted map of how far into each file the shipper has
// read. It keeps a restarted shipper from pushing the same lines twice.
type Store struct {
	lock  sync.RWMutex
	seeks map[string]*tail.SeekInfo
	path  string
}

// NewStore returns an empty store persisted at path
func NewStore(path string) *Store {
	return &Store{
		seeks: make(map[string]*tail.SeekInfo, 1),
		path:  path,
	}
}

func (s *Store) Set(filename string, seekInfo *tail.SeekInfo) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.seeks[filename] = seekInfo
}

func (s *Store) Get(filename string) *tail.SeekInfo {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.seeks[filename]
}

// Del forgets the offset for filename
func (s *Store) Del(filename string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.seeks, filename)
}

// Load reads the store back from disk. A missing file is a first run, not an
// error.
func (s *Store) Load() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load offsets from %s: %w", s.path, err)
	}

	seeks := make(map[string]*tail.SeekInfo)
	if err := json.Unmarshal(data, &seeks); err != nil {
		return fmt.Errorf("failed to decode offsets from %s: %w", s.path, err)
	}
	s.seeks = seeks

	return nil
}

// Persist writes the store out, replacing the previous file in one rename
func (s *Store) Persist() error {
	s.lock.RLock()
	data, err := json.Marshal(s.seeks)
	s.lock.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode offsets for %s: %w", s.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to persist offsets to %s: %w", s.path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist offsets to %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist offsets to %s: %w", s.path, err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to persist offsets to %s: %w", s.path, err)
	}

	return nil
}
