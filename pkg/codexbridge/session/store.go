// store.go implements the ordered session list: normalization on load,
// active-session tracking, and strictly serialized persistence.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// State is the persisted shape: the session list plus the active id.
type State struct {
	Sessions        []*Session `json:"chatSessions"`
	ActiveSessionID string     `json:"activeSessionId"`
}

// StateStore is a persistence backend for the session state blob.
type StateStore interface {
	Load() (*State, error)
	Save(state *State) error
	Close() error
}

// Store keeps the in-memory session list and pushes it through a StateStore.
// Persist calls are chained: each queued write runs after all previously
// queued ones and snapshots the freshest in-memory state when it executes.
type Store struct {
	backend StateStore
	logger  *slog.Logger

	mu       sync.Mutex
	sessions []*Session
	activeID string

	// persistMu serializes Save calls without holding mu during I/O.
	persistMu sync.Mutex
}

// NewStore loads and normalizes persisted state from the backend. A load
// failure is not fatal: the store starts with one fresh default session and
// the error is returned for a one-time notice.
func NewStore(backend StateStore, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store := &Store{backend: backend, logger: logger}

	state, err := backend.Load()
	if err != nil {
		store.reset()
		return store, fmt.Errorf("load sessions: %w", err)
	}
	store.adopt(state)
	return store, nil
}

// adopt normalizes, sorts and truncates loaded state, synthesizing a default
// session when nothing survives.
func (st *Store) adopt(state *State) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var sessions []*Session
	var activeID string
	if state != nil {
		for _, raw := range state.Sessions {
			if s := Normalize(raw); s != nil {
				sessions = append(sessions, s)
			}
		}
		activeID = state.ActiveSessionID
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if len(sessions) > MaxChatHistory {
		sessions = sessions[:MaxChatHistory]
	}
	if len(sessions) == 0 {
		st.resetSessionsLocked()
		return
	}
	st.sessions = sessions
	st.activeID = activeID
	st.healActiveLocked()
}

func (st *Store) reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.resetSessionsLocked()
}

func (st *Store) resetSessionsLocked() {
	s := New()
	st.sessions = []*Session{s}
	st.activeID = s.ID
}

// healActiveLocked falls back to the first session when the active id is
// stale. Requires mu.
func (st *Store) healActiveLocked() {
	for _, s := range st.sessions {
		if s.ID == st.activeID {
			return
		}
	}
	st.activeID = st.sessions[0].ID
}

// Active returns the active session, self-healing a stale active id.
func (st *Store) Active() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.healActiveLocked()
	for _, s := range st.sessions {
		if s.ID == st.activeID {
			return s
		}
	}
	return nil
}

// Get returns the session with the given id, or nil.
func (st *Store) Get(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// List returns the sessions in order (most recently updated first after a
// load; insertion order between persists). The slice is a copy, the pointers
// are shared.
func (st *Store) List() []*Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Session, len(st.sessions))
	copy(out, st.sessions)
	return out
}

// Create inserts a fresh session at the front and makes it active.
func (st *Store) Create() *Session {
	s := New()
	st.mu.Lock()
	st.sessions = append([]*Session{s}, st.sessions...)
	st.activeID = s.ID
	st.mu.Unlock()
	st.logger.Info("session created", "id", s.ID)
	return s
}

// SetActive switches the active session. Unknown ids are ignored.
func (st *Store) SetActive(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.sessions {
		if s.ID == id {
			st.activeID = id
			return true
		}
	}
	return false
}

// Delete removes a session. When the active session is deleted the first
// remaining one becomes active; when none remain a fresh default session is
// created.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	kept := st.sessions[:0]
	for _, s := range st.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	st.sessions = kept
	if len(st.sessions) == 0 {
		st.resetSessionsLocked()
	} else if st.activeID == id {
		st.activeID = st.sessions[0].ID
	}
	st.mu.Unlock()
	st.logger.Info("session deleted", "id", id)
}

// snapshot runs the normalize-sort-truncate pass over the live list and
// returns a deep-enough copy for the backend to serialize.
func (st *Store) snapshot() *State {
	st.mu.Lock()
	defer st.mu.Unlock()

	normalized := make([]*Session, 0, len(st.sessions))
	for _, raw := range st.sessions {
		if s := Normalize(raw); s != nil {
			normalized = append(normalized, s)
		}
	}
	sort.SliceStable(normalized, func(i, j int) bool {
		return normalized[i].UpdatedAt.After(normalized[j].UpdatedAt)
	})
	if len(normalized) > MaxChatHistory {
		normalized = normalized[:MaxChatHistory]
	}
	if len(normalized) == 0 {
		s := New()
		normalized = []*Session{s}
		st.sessions = []*Session{s}
		st.activeID = s.ID
	}
	activeID := st.activeID
	found := false
	for _, s := range normalized {
		if s.ID == activeID {
			found = true
			break
		}
	}
	if !found {
		activeID = normalized[0].ID
		st.activeID = activeID
	}
	return &State{Sessions: normalized, ActiveSessionID: activeID}
}

// Persist writes the current state through the backend. Concurrent callers
// queue on persistMu, so writes land strictly one after another and each
// snapshot sees the state as of its own execution.
func (st *Store) Persist(ctx context.Context) error {
	st.persistMu.Lock()
	defer st.persistMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	state := st.snapshot()
	if err := st.backend.Save(state); err != nil {
		st.logger.Warn("session persist failed", "err", err)
		return fmt.Errorf("persist sessions: %w", err)
	}
	return nil
}

// Close flushes once and closes the backend.
func (st *Store) Close() error {
	if err := st.Persist(context.Background()); err != nil {
		st.logger.Warn("final persist failed", "err", err)
	}
	return st.backend.Close()
}
