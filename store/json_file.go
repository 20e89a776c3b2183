package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// JsonFileStore stores each collection as a separate JSON array on disk.
//
// Layout:
//
//	data_dir/
//	  users.json      # "users" collection
//	  products.json   # "products" collection
//
// Saves go through a temp file in the same directory that is renamed over
// the target, so a failed save leaves the previous contents in place.
type JsonFileStore struct {
	mu  sync.RWMutex
	dir string
}

func NewJsonFileStore(dir string) (*JsonFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &JsonFileStore{dir: dir}, nil
}

// Dir returns the directory holding the collection files.
func (s *JsonFileStore) Dir() string {
	return s.dir
}

func (s *JsonFileStore) collectionPath(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

// CollectionName maps a file name inside the data directory back to its
// collection. Temp files and non-JSON files report false.
func CollectionName(file string) (string, bool) {
	base := filepath.Base(file)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "_") || !strings.HasSuffix(base, ".json") {
		return "", false
	}
	name := strings.TrimSuffix(base, ".json")
	return name, ValidName(name)
}

func (s *JsonFileStore) Load(collection string) ([]Record, error) {
	if !ValidName(collection) {
		return nil, &ReadError{Collection: collection, Err: ErrInvalidName}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.collectionPath(collection))
	if err != nil {
		return nil, &ReadError{Collection: collection, Err: err}
	}
	records, err := decodeRecords(data)
	if err != nil {
		return nil, &ReadError{Collection: collection, Err: err}
	}
	return records, nil
}

func (s *JsonFileStore) Save(collection string, records []Record) error {
	if !ValidName(collection) {
		return &WriteError{Collection: collection, Err: ErrInvalidName}
	}
	b, err := encodeRecords(records)
	if err != nil {
		return &WriteError{Collection: collection, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.collectionPath(collection), b); err != nil {
		return &WriteError{Collection: collection, Err: err}
	}
	return nil
}

func (s *JsonFileStore) Ensure(collection string) error {
	if !ValidName(collection) {
		return &WriteError{Collection: collection, Err: ErrInvalidName}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.collectionPath(collection)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return &WriteError{Collection: collection, Err: err}
	}
	if err := writeFileAtomic(path, []byte("[]\n")); err != nil {
		return &WriteError{Collection: collection, Err: err}
	}
	return nil
}

func (s *JsonFileStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := CollectionName(e.Name()); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// writeFileAtomic writes data to a temp file next to path, syncs it and
// renames it into place.
func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
