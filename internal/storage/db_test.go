package storage

import (
	"bytes"
	"errors"
	"testing"
)

// testDB runs the shared test suite against a DB implementation.
func testDB(t *testing.T, db DB) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) {
		if err := db.Put([]byte("trade/1"), []byte("v1")); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
		val, err := db.Get([]byte("trade/1"))
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if !bytes.Equal(val, []byte("v1")) {
			t.Errorf("Get() = %q, want %q", val, "v1")
		}
	})

	t.Run("GetMissingIsErrNotFound", func(t *testing.T) {
		_, err := db.Get([]byte("missing"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("HasAndDelete", func(t *testing.T) {
		db.Put([]byte("del"), []byte("x"))
		ok, err := db.Has([]byte("del"))
		if err != nil || !ok {
			t.Fatalf("Has() = %v, %v; want true", ok, err)
		}
		if err := db.Delete([]byte("del")); err != nil {
			t.Fatalf("Delete() error: %v", err)
		}
		if ok, _ := db.Has([]byte("del")); ok {
			t.Error("key should be gone after Delete()")
		}
		if err := db.Delete([]byte("never-existed")); err != nil {
			t.Errorf("Delete() nonexistent key error: %v", err)
		}
	})

	t.Run("EmptyValue", func(t *testing.T) {
		if err := db.Put([]byte("empty"), []byte{}); err != nil {
			t.Fatalf("Put() empty value error: %v", err)
		}
		val, err := db.Get([]byte("empty"))
		if err != nil {
			t.Fatalf("Get() empty value error: %v", err)
		}
		if len(val) != 0 {
			t.Errorf("expected empty value, got %d bytes", len(val))
		}
	})

	t.Run("ForEachPrefix", func(t *testing.T) {
		db.Put([]byte("p/a"), []byte("1"))
		db.Put([]byte("p/b"), []byte("2"))
		db.Put([]byte("q/x"), []byte("3"))

		var count int
		err := db.ForEach([]byte("p/"), func(key, value []byte) error {
			count++
			return nil
		})
		if err != nil {
			t.Fatalf("ForEach() error: %v", err)
		}
		if count != 2 {
			t.Errorf("ForEach(p/) count = %d, want 2", count)
		}
	})

	t.Run("Batch", func(t *testing.T) {
		batcher, ok := db.(Batcher)
		if !ok {
			t.Skip("store has no batches")
		}
		db.Put([]byte("b/old"), []byte("x"))

		b := batcher.NewBatch()
		b.Put([]byte("b/new"), []byte("y"))
		b.Delete([]byte("b/old"))
		if ok, _ := db.Has([]byte("b/new")); ok {
			t.Fatal("batch write visible before Commit")
		}
		if err := b.Commit(); err != nil {
			t.Fatalf("Commit() error: %v", err)
		}
		if ok, _ := db.Has([]byte("b/new")); !ok {
			t.Error("b/new missing after Commit")
		}
		if ok, _ := db.Has([]byte("b/old")); ok {
			t.Error("b/old still present after Commit")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		p, ok := db.(Pinger)
		if !ok {
			t.Skip("store has no Ping")
		}
		if err := p.Ping(); err != nil {
			t.Errorf("Ping() on open store: %v", err)
		}
	})
}

func TestMemoryDB(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	testDB(t, db)
}

func TestMemoryDB_PingAfterClose(t *testing.T) {
	db := NewMemory()
	db.Close()
	if err := db.Ping(); err == nil {
		t.Fatal("Ping() after Close should fail")
	}
}

func TestBadgerDB(t *testing.T) {
	db, err := NewBadger(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	defer db.Close()
	testDB(t, db)
}

func TestBadgerDB_Persistence(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	db1.Put([]byte("persist"), []byte("data"))
	db1.Close()

	if err := db1.Ping(); err == nil {
		t.Error("Ping() after Close should fail")
	}

	db2, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() reopen error: %v", err)
	}
	defer db2.Close()

	val, err := db2.Get([]byte("persist"))
	if err != nil {
		t.Fatalf("Get() after reopen error: %v", err)
	}
	if !bytes.Equal(val, []byte("data")) {
		t.Errorf("persisted value = %q, want %q", val, "data")
	}
}

func TestBadgerDB_LockedByAnotherHandle(t *testing.T) {
	dir := t.TempDir()
	db1, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	defer db1.Close()

	if _, err := NewBadger(dir); err == nil {
		t.Fatal("second open of the same directory should fail")
	}
}
