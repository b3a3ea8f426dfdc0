package participant

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// Registry maps participant ids to records. Keys are unique and the last
// write for an id wins. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewRegistry() *Registry {
	return &Registry{records: map[string]Record{}}
}

func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Put stores rec under id, replacing any previous record entirely.
func (r *Registry) Put(id string, rec Record) {
	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
}

// Update applies fn to the record under id while holding the write lock.
// It returns ErrNotFound (and leaves the registry untouched) for unknown ids.
func (r *Registry) Update(id string, fn func(rec *Record)) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	fn(&rec)
	r.records[id] = rec
	return rec, nil
}

// Values returns a snapshot of all records ordered by participant id.
func (r *Registry) Values() []Record {
	r.mu.RLock()
	ids := slices.Collect(maps.Keys(r.records))
	out := make([]Record, 0, len(ids))
	slices.SortFunc(ids, strings.Compare)
	for _, id := range ids {
		out = append(out, r.records[id])
	}
	r.mu.RUnlock()
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Snapshot returns a copy of the id -> record mapping.
func (r *Registry) Snapshot() map[string]Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.records)
}

// Replace swaps the whole mapping, used when hydrating from the store.
func (r *Registry) Replace(records map[string]Record) {
	cp := maps.Clone(records)
	if cp == nil {
		cp = map[string]Record{}
	}
	r.mu.Lock()
	r.records = cp
	r.mu.Unlock()
}
