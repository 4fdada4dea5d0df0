// Package citation maps the assistant's per-turn citation numbering onto
// globally stable display indexes.
package citation

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/tinge-app/tinge/internal/domain/models"
)

// PersistenceKey is the storage key used when registry persistence is
// enabled.
const PersistenceKey = "tinge-source-registry-v1"

// Store is a minimal session-scoped key-value store for opt-in persistence.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

type registryState struct {
	Entries          []models.RegisteredSource `json:"entries"`
	NextDisplayIndex int                       `json:"nextDisplayIndex"`
}

// Registry assigns display indexes to sources. Indexes start at 1, are
// strictly increasing, and are never reused or reassigned within the
// process lifetime.
type Registry struct {
	mu      sync.Mutex
	entries map[string]models.RegisteredSource
	next    int
	store   Store
}

// NewRegistry creates an in-memory registry. Indexes do not survive a
// process restart.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]models.RegisteredSource), next: 1}
}

// NewPersistentRegistry restores state from store and writes back on every
// assignment.
func NewPersistentRegistry(store Store) *Registry {
	r := NewRegistry()
	r.store = store

	if data, ok := store.Get(PersistenceKey); ok {
		var state registryState
		if err := json.Unmarshal(data, &state); err != nil {
			slog.Warn("citation: discarding corrupt registry state", "error", err)
			return r
		}
		for _, e := range state.Entries {
			r.entries[e.SourceKey] = e
		}
		if state.NextDisplayIndex > 0 {
			r.next = state.NextDisplayIndex
		}
	}
	return r
}

// GetOrAssign returns the display index for the source, assigning the next
// index on first sight. Idempotent per source key.
func (r *Registry) GetOrAssign(src models.Source) models.RegisteredSource {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := src.Key()
	if e, ok := r.entries[key]; ok {
		return e
	}

	e := models.RegisteredSource{
		SourceKey:    key,
		Title:        src.Title,
		URL:          src.URL,
		Source:       src.Source,
		Language:     src.Language,
		DisplayIndex: r.next,
	}
	r.entries[key] = e
	r.next++
	r.persistLocked()
	return e
}

// Existing returns the registered entry for the source, if any.
func (r *Registry) Existing(src models.Source) (models.RegisteredSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[src.Key()]
	return e, ok
}

// NextIndex returns the index the next new source would receive.
func (r *Registry) NextIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Entries returns all registered sources sorted by display index.
func (r *Registry) Entries() []models.RegisteredSource {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.RegisteredSource, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayIndex < out[j].DisplayIndex })
	return out
}

func (r *Registry) persistLocked() {
	if r.store == nil {
		return
	}
	state := registryState{NextDisplayIndex: r.next}
	for _, e := range r.entries {
		state.Entries = append(state.Entries, e)
	}
	sort.Slice(state.Entries, func(i, j int) bool { return state.Entries[i].DisplayIndex < state.Entries[j].DisplayIndex })

	data, err := json.Marshal(state)
	if err != nil {
		slog.Warn("citation: failed to serialize registry state", "error", err)
		return
	}
	r.store.Set(PersistenceKey, data)
}
