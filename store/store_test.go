package store_test

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stevemurr/collection-server/store"
)

// runStoreTests runs a common test suite against any Store implementation.
// prefix keeps collection names apart on backends that outlive the test.
func runStoreTests(t *testing.T, s store.Store, prefix string) {
	t.Helper()
	users := prefix + "users"
	orders := prefix + "orders"

	t.Run("Load missing", func(t *testing.T) {
		_, err := s.Load(prefix + "nope")
		var rerr *store.ReadError
		if !errors.As(err, &rerr) {
			t.Fatalf("expected ReadError, got %v", err)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("expected ErrNotExist, got %v", err)
		}
	})

	t.Run("Ensure creates empty", func(t *testing.T) {
		if err := s.Ensure(users); err != nil {
			t.Fatal(err)
		}
		records, err := s.Load(users)
		if err != nil {
			t.Fatal(err)
		}
		if records == nil || len(records) != 0 {
			t.Fatalf("expected empty non-nil collection, got %#v", records)
		}
	})

	t.Run("Save and Load keep order", func(t *testing.T) {
		in := []store.Record{
			{"id": json.Number("2"), "name": "second"},
			{"id": json.Number("1"), "name": "first"},
			{"id": json.Number("3"), "name": "third", "price": json.Number("9.95"), "tags": []any{"a", "b"}},
		}
		if err := s.Save(users, in); err != nil {
			t.Fatal(err)
		}
		got, err := s.Load(users)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, in) {
			t.Fatalf("expected %v, got %v", in, got)
		}
	})

	t.Run("Ensure keeps existing", func(t *testing.T) {
		if err := s.Ensure(users); err != nil {
			t.Fatal(err)
		}
		got, err := s.Load(users)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 records after Ensure, got %d", len(got))
		}
	})

	t.Run("Save replaces", func(t *testing.T) {
		if err := s.Save(users, []store.Record{{"id": float64(9)}}); err != nil {
			t.Fatal(err)
		}
		got, err := s.Load(users)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 record, got %d", len(got))
		}
		if id, _ := got[0].ID(); id != 9 {
			t.Fatalf("expected id=9, got %v", got[0]["id"])
		}
	})

	t.Run("Save nil writes empty", func(t *testing.T) {
		if err := s.Save(orders, nil); err != nil {
			t.Fatal(err)
		}
		got, err := s.Load(orders)
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("expected empty collection, got %#v", got)
		}
	})

	t.Run("Round trip", func(t *testing.T) {
		before, err := s.Load(users)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Save(users, before); err != nil {
			t.Fatal(err)
		}
		after, err := s.Load(users)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(before, after) {
			t.Fatalf("round trip changed content: %v != %v", before, after)
		}
	})

	t.Run("List", func(t *testing.T) {
		names, err := s.List()
		if err != nil {
			t.Fatal(err)
		}
		found := map[string]bool{}
		for _, n := range names {
			found[n] = true
		}
		if !found[users] || !found[orders] {
			t.Fatalf("expected %s and %s in list, got %v", users, orders, names)
		}
	})

	t.Run("Invalid name", func(t *testing.T) {
		if _, err := s.Load("../etc/passwd"); !errors.Is(err, store.ErrInvalidName) {
			t.Fatalf("expected ErrInvalidName on Load, got %v", err)
		}
		err := s.Save("a/b", nil)
		var werr *store.WriteError
		if !errors.As(err, &werr) || !errors.Is(err, store.ErrInvalidName) {
			t.Fatalf("expected WriteError wrapping ErrInvalidName, got %v", err)
		}
	})

	t.Run("Unencodable record", func(t *testing.T) {
		err := s.Save(users, []store.Record{{"id": float64(1), "ch": make(chan int)}})
		var werr *store.WriteError
		if !errors.As(err, &werr) {
			t.Fatalf("expected WriteError, got %v", err)
		}
		got, err := s.Load(users)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("failed save changed the collection: %v", got)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	s := store.NewMemoryStore()
	runStoreTests(t, s, "")
}

func TestJsonFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	runStoreTests(t, s, "")
}

func TestSqliteStore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := store.NewSqliteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runStoreTests(t, s, "")
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := store.NewPostgresStore(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	prefix := "t" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + "_"
	runStoreTests(t, s, prefix)
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		backend string
	}{
		{"json"},
		{"sqlite"},
		{"memory"},
		{""},
	}
	for _, tc := range tests {
		t.Run(tc.backend, func(t *testing.T) {
			s, err := store.New(tc.backend, filepath.Join(dir, tc.backend), "")
			if err != nil {
				t.Fatal(err)
			}
			if c, ok := s.(io.Closer); ok {
				defer c.Close()
			}
			if err := s.Ensure("users"); err != nil {
				t.Fatal(err)
			}
		})
	}

	t.Run("postgres without url", func(t *testing.T) {
		if _, err := store.New("postgres", dir, ""); err == nil {
			t.Fatal("expected error for missing database URL")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := store.New("redis", dir, "")
		if err == nil {
			t.Fatal("expected error for unknown backend")
		}
	})
}

func TestJsonFileStoreFormat(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save("users", []store.Record{{"id": 1, "name": "John Doe"}}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "users.json"))
	if err != nil {
		t.Fatal(err)
	}
	want := "[\n  {\n    \"id\": 1,\n    \"name\": \"John Doe\"\n  }\n]\n"
	if string(b) != want {
		t.Fatalf("unexpected file contents:\n%s", b)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only users.json in data dir, found %d entries", len(entries))
	}
}

func TestJsonFileStoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]string{
		"broken":   `[{"id": 1`,
		"object":   `{"id": 1}`,
		"null":     `null`,
		"scalars":  `[1, 2]`,
		"nullelt":  `[{"id": 1}, null]`,
		"trailing": `[{"id": 1}] junk`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := s.Load(name)
			var rerr *store.ReadError
			if !errors.As(err, &rerr) {
				t.Fatalf("expected ReadError, got %v", err)
			}
			if rerr.Collection != name {
				t.Fatalf("expected collection %q, got %q", name, rerr.Collection)
			}
		})
	}
}

func TestJsonFileStoreIsolation(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	s.Save("a", []store.Record{{"id": 1, "x": float64(1)}})
	s.Save("b", []store.Record{{"id": 1, "x": float64(2)}})

	a, _ := s.Load("a")
	b, _ := s.Load("b")

	if a[0]["x"] != json.Number("1") {
		t.Fatalf("collection a: expected x=1, got %v", a[0]["x"])
	}
	if b[0]["x"] != json.Number("2") {
		t.Fatalf("collection b: expected x=2, got %v", b[0]["x"])
	}

	for _, f := range []string{"a.json", "b.json"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Fatalf("expected %s to exist: %v", f, err)
		}
	}
}

func TestCollectionName(t *testing.T) {
	tests := []struct {
		file string
		name string
		ok   bool
	}{
		{"users.json", "users", true},
		{"/data/orders.json", "orders", true},
		{".users.json-123.tmp", "", false},
		{"_schemas.json", "", false},
		{"notes.txt", "", false},
		{"bad name.json", "bad name", false},
	}
	for _, tc := range tests {
		name, ok := store.CollectionName(tc.file)
		if ok != tc.ok || (ok && name != tc.name) {
			t.Errorf("CollectionName(%q) = %q, %v; want %q, %v", tc.file, name, ok, tc.name, tc.ok)
		}
	}
}

func TestRecordID(t *testing.T) {
	tests := []struct {
		rec store.Record
		id  int64
		ok  bool
	}{
		{store.Record{"id": float64(7)}, 7, true},
		{store.Record{"id": 3}, 3, true},
		{store.Record{"id": int64(4)}, 4, true},
		{store.Record{"id": float64(1.5)}, 0, false},
		{store.Record{"id": float64(1e300)}, 0, false},
		{store.Record{"id": float64(1 << 63)}, 0, false},
		{store.Record{"id": math.Inf(1)}, 0, false},
		{store.Record{"id": math.NaN()}, 0, false},
		{store.Record{"id": json.Number("9007199254740993")}, 9007199254740993, true},
		{store.Record{"id": json.Number("2.0")}, 2, true},
		{store.Record{"id": json.Number("1e300")}, 0, false},
		{store.Record{"id": json.Number("2.5")}, 0, false},
		{store.Record{"id": "7"}, 0, false},
		{store.Record{"name": "x"}, 0, false},
	}
	for _, tc := range tests {
		id, ok := tc.rec.ID()
		if id != tc.id || ok != tc.ok {
			t.Errorf("%v.ID() = %d, %v; want %d, %v", tc.rec, id, ok, tc.id, tc.ok)
		}
	}
}

func TestLargeIDsSurviveReload(t *testing.T) {
	const big = int64(1)<<53 + 1
	stores := map[string]store.Store{"memory": store.NewMemoryStore()}
	js, err := store.NewJsonFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	stores["json"] = js

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			if err := s.Save("users", []store.Record{{"id": big}}); err != nil {
				t.Fatal(err)
			}
			got, err := s.Load("users")
			if err != nil {
				t.Fatal(err)
			}
			if id, ok := got[0].ID(); !ok || id != big {
				t.Fatalf("expected id %d after reload, got %v", big, got[0]["id"])
			}
		})
	}
}
