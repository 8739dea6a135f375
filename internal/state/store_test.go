package state

import (
	"path/filepath"
	"testing"
	"time"

	"grimm.is/wgtunnel/internal/clock"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(DefaultOptions(":memory:"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestNewSQLiteStore_FileBackend tests store with file backend
func TestNewSQLiteStore_FileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	store, err := NewSQLiteStore(DefaultOptions(path))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Set("b", "k", []byte("v")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	store.Close()

	// Reopen and verify
	store2, err := NewSQLiteStore(DefaultOptions(path))
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store2.Close()

	got, err := store2.Get("b", "k")
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("expected v, got %q", got)
	}
}

// TestCRUDOperations tests basic CRUD
func TestCRUDOperations(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get("test", "key1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set("test", "key1", []byte("value1")); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := store.Set("test", "key1", []byte("value2")); err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	val, err := store.Get("test", "key1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if string(val) != "value2" {
		t.Errorf("expected value2, got %s", val)
	}

	if err := store.Delete("test", "key1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if err := store.Delete("test", "key1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatedAtUsesClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock := clock.NewMockClock(at)
	store, err := NewSQLiteStore(Options{Path: ":memory:", Clock: mock})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.Set("b", "k", []byte("v")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	entry, err := store.GetWithMeta("b", "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !entry.UpdatedAt.Equal(at) {
		t.Errorf("expected %v, got %v", at, entry.UpdatedAt)
	}
}

func TestListAndReplace(t *testing.T) {
	store := newTestStore(t)

	store.Set("a", "x", []byte("1"))
	store.Set("a", "y", []byte("2"))
	store.Set("other", "z", []byte("3"))

	keys, err := store.ListKeys("a")
	if err != nil {
		t.Fatalf("list keys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "x" || keys[1] != "y" {
		t.Errorf("expected [x y], got %v", keys)
	}

	if err := store.Replace("a", map[string][]byte{"w": []byte("4")}); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	entries, _ := store.List("a")
	if len(entries) != 1 || string(entries["w"]) != "4" {
		t.Errorf("expected only w=4, got %v", entries)
	}
	if _, err := store.Get("other", "z"); err != nil {
		t.Errorf("replace touched another bucket: %v", err)
	}
}

func TestJSONOperations(t *testing.T) {
	store := newTestStore(t)

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := store.SetJSON("json", "p", payload{Name: "wg0", Count: 3}); err != nil {
		t.Fatalf("set json failed: %v", err)
	}
	var got payload
	if err := store.GetJSON("json", "p", &got); err != nil {
		t.Fatalf("get json failed: %v", err)
	}
	if got.Name != "wg0" || got.Count != 3 {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestClosedStore(t *testing.T) {
	store, _ := NewSQLiteStore(DefaultOptions(":memory:"))
	store.Close()

	if err := store.Set("b", "k", nil); err != ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.Get("b", "k"); err != ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}
