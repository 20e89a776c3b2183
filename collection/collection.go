// Package collection implements create/read/update/delete over whole-collection
// stores. Every mutation is one load-compute-save sequence run under a
// per-collection lock, so concurrent creates never hand out the same id.
package collection

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"

	"github.com/stevemurr/collection-server/store"
)

var (
	// ErrNotFound means no record in the collection has the requested id.
	ErrNotFound = errors.New("record not found")
	// ErrUnavailable wraps any store read or write failure.
	ErrUnavailable = errors.New("collection unavailable")
	// ErrIDsExhausted means the collection already holds the largest int64 id.
	ErrIDsExhausted = errors.New("no ids left in collection")
)

// Service holds the store and the per-collection field defaults.
type Service struct {
	store    store.Store
	defaults map[string]map[string]any

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Service. defaults maps a collection name to the fields
// Create fills in when the caller leaves them out.
func New(s store.Store, defaults map[string]map[string]any) *Service {
	return &Service{
		store:    s,
		defaults: defaults,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lock acquires the collection's mutex and returns its release func.
func (s *Service) lock(name string) func() {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Defaults returns the configured defaults for a collection, or nil.
func (s *Service) Defaults(name string) map[string]any {
	return s.defaults[name]
}

// Collections lists the collections present in the store.
func (s *Service) Collections() ([]string, error) {
	names, err := s.store.List()
	if err != nil {
		return nil, unavailable(err)
	}
	return names, nil
}

// GetAll returns every record in stored order.
func (s *Service) GetAll(name string) ([]store.Record, error) {
	defer s.lock(name)()
	records, err := s.store.Load(name)
	if err != nil {
		return nil, unavailable(err)
	}
	return records, nil
}

// GetByID returns the first record whose id equals id.
func (s *Service) GetByID(name string, id int64) (store.Record, error) {
	defer s.lock(name)()
	records, err := s.store.Load(name)
	if err != nil {
		return nil, unavailable(err)
	}
	i := indexOf(records, id)
	if i < 0 {
		return nil, fmt.Errorf("%s/%d: %w", name, id, ErrNotFound)
	}
	return records[i], nil
}

// Create appends a record built from fields, a fresh id and any defaults
// missing from fields. A caller-supplied id is replaced. The record is only
// returned once the store has accepted the new collection.
func (s *Service) Create(name string, fields store.Record, defaults map[string]any) (store.Record, error) {
	defer s.lock(name)()
	records, err := s.store.Load(name)
	if err != nil {
		return nil, unavailable(err)
	}

	id, err := nextID(records)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	rec := make(store.Record, len(fields)+len(defaults)+1)
	maps.Copy(rec, fields)
	rec["id"] = id
	for k, v := range defaults {
		if _, ok := fields[k]; !ok {
			rec[k] = v
		}
	}

	if err := s.store.Save(name, append(records, rec)); err != nil {
		return nil, unavailable(err)
	}
	return rec, nil
}

// Update replaces the fields of the record with the given id, keeping its
// id and position.
func (s *Service) Update(name string, id int64, fields store.Record) (store.Record, error) {
	defer s.lock(name)()
	records, err := s.store.Load(name)
	if err != nil {
		return nil, unavailable(err)
	}
	i := indexOf(records, id)
	if i < 0 {
		return nil, fmt.Errorf("%s/%d: %w", name, id, ErrNotFound)
	}

	rec := make(store.Record, len(fields)+1)
	maps.Copy(rec, fields)
	rec["id"] = records[i]["id"]
	records[i] = rec

	if err := s.store.Save(name, records); err != nil {
		return nil, unavailable(err)
	}
	return rec, nil
}

// Delete removes the record with the given id and returns it.
func (s *Service) Delete(name string, id int64) (store.Record, error) {
	defer s.lock(name)()
	records, err := s.store.Load(name)
	if err != nil {
		return nil, unavailable(err)
	}
	i := indexOf(records, id)
	if i < 0 {
		return nil, fmt.Errorf("%s/%d: %w", name, id, ErrNotFound)
	}

	removed := records[i]
	kept := make([]store.Record, 0, len(records)-1)
	kept = append(kept, records[:i]...)
	kept = append(kept, records[i+1:]...)

	if err := s.store.Save(name, kept); err != nil {
		return nil, unavailable(err)
	}
	return removed, nil
}

func indexOf(records []store.Record, id int64) int {
	for i, r := range records {
		if rid, ok := r.ID(); ok && rid == id {
			return i
		}
	}
	return -1
}

// nextID is one past the largest id in records, or 1 for an empty
// collection. Records without an integer id are skipped.
func nextID(records []store.Record) (int64, error) {
	var highest int64
	for _, r := range records {
		if id, ok := r.ID(); ok && id > highest {
			highest = id
		}
	}
	if highest == math.MaxInt64 {
		return 0, ErrIDsExhausted
	}
	return highest + 1, nil
}
