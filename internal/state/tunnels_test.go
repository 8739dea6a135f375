package state

import (
	"testing"
	"time"
)

func TestRunningTunnels_SaveLoad(t *testing.T) {
	store := newTestStore(t)
	running := NewRunningTunnels(store)

	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := running.Save([]Record{
		{Name: "work", Backend: "wg-quick", UpSince: since},
		{Name: "home", Backend: "wg-quick", UpSince: since},
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	records, err := running.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Name != "home" || records[1].Name != "work" {
		t.Errorf("expected sorted records, got %v", records)
	}
	if !records[1].UpSince.Equal(since) || records[1].Backend != "wg-quick" {
		t.Errorf("unexpected record %+v", records[1])
	}
}

func TestRunningTunnels_SaveReplaces(t *testing.T) {
	store := newTestStore(t)
	running := NewRunningTunnels(store)

	running.Save([]Record{{Name: "a"}, {Name: "b"}})
	running.Save([]Record{{Name: "c"}})

	names, err := running.Names()
	if err != nil {
		t.Fatalf("names failed: %v", err)
	}
	if len(names) != 1 || names[0] != "c" {
		t.Errorf("expected [c], got %v", names)
	}

	running.Save(nil)
	names, _ = running.Names()
	if len(names) != 0 {
		t.Errorf("expected empty set, got %v", names)
	}
}

func TestRunningTunnels_SkipsCorruptRecords(t *testing.T) {
	store := newTestStore(t)
	store.Set(BucketRunning, "bad", []byte("{not json"))
	store.SetJSON(BucketRunning, "good", Record{Backend: "engine"})

	records, err := NewRunningTunnels(store).Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 1 || records[0].Name != "good" || records[0].Backend != "engine" {
		t.Errorf("unexpected records %v", records)
	}
}

func TestRunningTunnels_LastUsed(t *testing.T) {
	store := newTestStore(t)
	running := NewRunningTunnels(store)

	name, err := running.LastUsed()
	if err != nil || name != "" {
		t.Fatalf("expected empty last used, got %q, %v", name, err)
	}

	if err := running.SetLastUsed("work"); err != nil {
		t.Fatalf("set last used failed: %v", err)
	}
	name, _ = running.LastUsed()
	if name != "work" {
		t.Errorf("expected work, got %q", name)
	}

	if err := running.SetLastUsed(""); err != nil {
		t.Fatalf("clear last used failed: %v", err)
	}
	if err := running.SetLastUsed(""); err != nil {
		t.Fatalf("clearing twice should succeed: %v", err)
	}
	name, _ = running.LastUsed()
	if name != "" {
		t.Errorf("expected cleared last used, got %q", name)
	}
}
