package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// BucketRunning holds one Record per tunnel that was up when state was saved.
const BucketRunning = "running"

// Record describes a tunnel that should be restored.
type Record struct {
	Name    string    `json:"name"`
	Backend string    `json:"backend"`
	UpSince time.Time `json:"up_since"`
}

// RunningTunnels stores the last known running set.
type RunningTunnels struct {
	store Store
}

// NewRunningTunnels returns a view of store's running set.
func NewRunningTunnels(store Store) *RunningTunnels {
	return &RunningTunnels{store: store}
}

// Save replaces the running set with records.
func (r *RunningTunnels) Save(records []Record) error {
	entries := make(map[string][]byte, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", rec.Name, err)
		}
		entries[rec.Name] = data
	}
	return r.store.Replace(BucketRunning, entries)
}

// Load returns the saved records ordered by name. Unreadable records are
// skipped.
func (r *RunningTunnels) Load() ([]Record, error) {
	entries, err := r.store.List(BucketRunning)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(entries))
	for name, data := range entries {
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		rec.Name = name
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// Names returns the names of the saved tunnels.
func (r *RunningTunnels) Names() ([]string, error) {
	records, err := r.Load()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = rec.Name
	}
	return names, nil
}

const (
	// BucketMeta holds single values such as the last used tunnel.
	BucketMeta  = "meta"
	keyLastUsed = "last_used"
)

// SetLastUsed records name as the most recently activated tunnel. An empty
// name clears it.
func (r *RunningTunnels) SetLastUsed(name string) error {
	if name == "" {
		if err := r.store.Delete(BucketMeta, keyLastUsed); err != nil && err != ErrNotFound {
			return err
		}
		return nil
	}
	return r.store.Set(BucketMeta, keyLastUsed, []byte(name))
}

// LastUsed returns the most recently activated tunnel, or "".
func (r *RunningTunnels) LastUsed() (string, error) {
	data, err := r.store.Get(BucketMeta, keyLastUsed)
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
