// Package store defines the backing store interface and implementations.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
)

// Record is one schema-free entry in a collection. The "id" key holds the
// record's integer identifier; every other key belongs to the caller.
type Record map[string]any

// ID returns the record's integer id. Loaded records carry json.Number;
// whole-number floats within the int64 range are accepted as well. Anything
// else reports false.
func (r Record) ID() (int64, bool) {
	switch v := r["id"].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatID(f)
	case float64:
		return floatID(v)
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func floatID(v float64) (int64, bool) {
	if v != math.Trunc(v) || v < math.MinInt64 || v >= -math.MinInt64 {
		return 0, false
	}
	return int64(v), true
}

// Store is the interface that all backing stores must implement.
// A collection is always read and written whole.
type Store interface {
	// Load returns every record of a collection in stored order.
	// A missing collection is an error, not an empty result.
	Load(collection string) ([]Record, error)

	// Save replaces the full contents of a collection.
	Save(collection string, records []Record) error

	// Ensure creates an empty collection if it does not exist yet.
	Ensure(collection string) error

	// List returns the names of all existing collections, sorted.
	List() ([]string, error)
}

// ErrInvalidName is wrapped by read and write errors for collection names
// outside [A-Za-z0-9_-].
var ErrInvalidName = errors.New("invalid collection name")

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name can be used as a collection name.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// ReadError reports that a collection could not be loaded: it is missing,
// unreadable, or not a JSON array of objects.
type ReadError struct {
	Collection string
	Err        error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read collection %q: %v", e.Collection, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError reports that a collection could not be persisted.
type WriteError struct {
	Collection string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write collection %q: %v", e.Collection, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// decodeRecords parses a JSON array of objects. Numbers are kept as
// json.Number so large ids survive a load and save unchanged.
func decodeRecords(data []byte) ([]Record, error) {
	var records []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("unexpected data after the JSON array")
	}
	if records == nil {
		return nil, errors.New("collection is null, want a JSON array")
	}
	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
	}
	return records, nil
}

// encodeRecords renders records as an indented JSON array. A nil slice is
// written as [] so the result always loads back.
func encodeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
