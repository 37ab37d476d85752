package storage

import (
	"errors"
	"testing"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	level, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	mem := NewMemDB()
	t.Cleanup(func() {
		level.Close()
		mem.Close()
	})
	return map[string]Database{"memdb": mem, "leveldb": level}
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			ok, err := db.Has([]byte("missing"))
			if err != nil || ok {
				t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestBatchCommitsTogether(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := db.Put([]byte("a/stale"), []byte("x")); err != nil {
				t.Fatalf("put: %v", err)
			}
			batch := db.NewBatch()
			batch.Put([]byte("a/1"), []byte("one"))
			batch.Put([]byte("a/2"), []byte("two"))
			batch.Delete([]byte("a/stale"))
			if batch.Len() != 3 {
				t.Fatalf("expected 3 ops, got %d", batch.Len())
			}
			if _, err := db.Get([]byte("a/1")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("batch must not be visible before Write")
			}
			if err := db.Write(batch); err != nil {
				t.Fatalf("write: %v", err)
			}
			for key, want := range map[string]string{"a/1": "one", "a/2": "two"} {
				got, err := db.Get([]byte(key))
				if err != nil {
					t.Fatalf("get %s: %v", key, err)
				}
				if string(got) != want {
					t.Fatalf("get %s: want %q got %q", key, want, got)
				}
			}
			if ok, _ := db.Has([]byte("a/stale")); ok {
				t.Fatalf("expected stale key to be deleted")
			}
		})
	}
}

func TestIteratePrefixOrdered(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"p/c", "p/a", "q/a", "p/b"} {
				if err := db.Put([]byte(key), []byte(key)); err != nil {
					t.Fatalf("put: %v", err)
				}
			}
			var seen []string
			err := db.Iterate([]byte("p/"), func(key, value []byte) bool {
				seen = append(seen, string(key))
				return true
			})
			if err != nil {
				t.Fatalf("iterate: %v", err)
			}
			want := []string{"p/a", "p/b", "p/c"}
			if len(seen) != len(want) {
				t.Fatalf("want %v got %v", want, seen)
			}
			for i := range want {
				if seen[i] != want[i] {
					t.Fatalf("want %v got %v", want, seen)
				}
			}

			count := 0
			_ = db.Iterate([]byte("p/"), func(key, value []byte) bool {
				count++
				return false
			})
			if count != 1 {
				t.Fatalf("expected early stop after 1 key, got %d", count)
			}
		})
	}
}

func TestWriteRejectsForeignBatch(t *testing.T) {
	mem := NewMemDB()
	defer mem.Close()
	level, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer level.Close()

	if err := mem.Write(level.NewBatch()); !errors.Is(err, ErrForeignBatch) {
		t.Fatalf("expected ErrForeignBatch, got %v", err)
	}
}

func TestMemDBClosed(t *testing.T) {
	db := NewMemDB()
	db.Close()
	if err := db.Put([]byte("k"), []byte("v")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
