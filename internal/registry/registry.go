package registry

import (
	"maps"
	"sort"
	"sync"
	"time"
)

// Status is the presence state of a client record.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Record mirrors one client's last known state. A record is created on the
// client's first connection and lives for the rest of the server process;
// going offline only flips Status, it never removes the record.
type Record struct {
	ID           string         `json:"id"`
	ConnectionID string         `json:"connection_id"`
	Status       Status         `json:"status"`
	LastSeen     time.Time      `json:"last_seen"`
	State        map[string]any `json:"state"`
	// Location is duplicated out of State for convenient access, not normalized.
	Location any `json:"location"`
}

// Registry is the authoritative map of every client identifier ever seen by
// this process. Mutations touch exactly one record per call; the lock exists
// for HTTP readers and broadcast serialization running off the hub loop.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func New() *Registry {
	return &Registry{
		records: make(map[string]*Record),
	}
}

// touch advances LastSeen, clamped so it never decreases.
func (rec *Record) touch() {
	if now := time.Now(); now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
}

// Connect creates or overwrites the record for id with a fresh connection.
// A duplicate connect with the same identifier is last-writer-wins on
// ConnectionID. State survives reconnects: the mirror resumes with the last
// known snapshot until the client sends a new one.
func (r *Registry) Connect(id, connectionID string) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		rec = &Record{
			ID:    id,
			State: make(map[string]any),
		}
		r.records[id] = rec
	}
	rec.ConnectionID = connectionID
	rec.Status = StatusOnline
	rec.touch()
	return rec.copy()
}

// ApplySnapshot replaces the record's state wholesale. Keys absent from the
// new payload disappear. The nested location field, when present, is lifted
// into Location; otherwise Location resets to nil.
func (r *Registry) ApplySnapshot(id string, state map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	if state == nil {
		state = make(map[string]any)
	}
	rec.State = state
	rec.Location = state["location"]
	rec.touch()
	return true
}

// ApplyUpdate shallow-merges fields into the record's state: new keys are
// added, existing keys overwritten, nested structures replaced not deep-merged.
// Location is only lifted by the full-snapshot path; an incremental update
// writes a location key into State without refreshing Location.
func (r *Registry) ApplyUpdate(id string, fields map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	if rec.State == nil {
		rec.State = make(map[string]any)
	}
	for k, v := range fields {
		rec.State[k] = v
	}
	rec.touch()
	return true
}

// Touch records activity from id, advancing LastSeen. Any inbound event on
// the client's channel counts as activity, not just state changes.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	rec.touch()
	return true
}

// Disconnect flips the record offline, but only while connectionID still owns
// it: a stale channel closing after an overwriting reconnect must not mark
// the replacement offline.
func (r *Registry) Disconnect(id, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.ConnectionID != connectionID {
		return false
	}
	rec.Status = StatusOffline
	rec.touch()
	return true
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.copy(), true
}

// List returns copies of every record, sorted by client identifier so
// broadcast and HTTP output are stable.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of identifiers ever seen. Records are not evicted,
// so this only grows.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// OnlineCount returns the number of records currently marked online.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.records {
		if rec.Status == StatusOnline {
			n++
		}
	}
	return n
}

// copy clones the record with its own state map so callers can marshal it
// without racing later merges. Nested values stay shared; per-record
// mutation granularity makes that safe for readers.
func (rec *Record) copy() Record {
	out := *rec
	out.State = maps.Clone(rec.State)
	return out
}
