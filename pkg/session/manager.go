package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tachikoma-dev/tachikoma/pkg/loop"
	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// Manager keeps the progress store for every mission run in the current
// process. A production deployment would back this with Postgres the same
// way pkg/audit does; this in-memory store is what pkg/services wires the
// loop engine against today, and is the shape a persistent implementation
// would satisfy.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[uuid.UUID]*Session)}
}

// Create starts tracking a new mission run.
func (m *Manager) Create(mission *loop.Mission, taskID string) *Session {
	s := New(mission, taskID)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get retrieves a session by ID.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, terrors.New(terrors.KindNotFound, "session not found: "+id.String())
	}
	return s, nil
}

// ByMission finds the session tracking a given mission ID.
func (m *Manager) ByMission(missionID uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.MissionID == missionID {
			return s, nil
		}
	}
	return nil, terrors.New(terrors.KindNotFound, "no session for mission: "+missionID.String())
}

// List returns a point-in-time snapshot of every tracked session.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Active returns sessions whose status is Running or Paused.
func (m *Manager) Active() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0)
	for _, s := range m.sessions {
		snap := s.Snapshot()
		if snap.Status.IsActive() {
			out = append(out, snap)
		}
	}
	return out
}

// Delete removes a session record.
func (m *Manager) Delete(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return terrors.New(terrors.KindNotFound, "session not found: "+id.String())
	}
	delete(m.sessions, id)
	return nil
}

// Prune removes every terminal session whose EndedAt is older than
// olderThan, returning the count removed. A session still Idle or Active
// is never pruned regardless of age.
func (m *Manager) Prune(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		snap := s.Snapshot()
		if snap.Status.IsTerminal() && !snap.EndedAt.IsZero() && snap.EndedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
