// Package session implements the progress store: one record per loop run
// (a Session wrapping a Mission), holding the audit-range event IDs, token
// and cost totals, and a capped progress.md-style narrative that is
// re-injected into later iterations so the agent doesn't re-explore ground
// it has already covered.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tachikoma-dev/tachikoma/pkg/loop"
)

// maxNarrativeBytes bounds the progress narrative. When appending would
// exceed it, the oldest lines are dropped until the narrative fits again.
const maxNarrativeBytes = 8 * 1024

// Status mirrors loop.MissionState for the record's own lifecycle so a
// Session can be read/serialized without importing the loop package's
// mutable Mission type directly.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusRedlined Status = "redlined"
)

// IsTerminal matches loop.MissionState.IsTerminal: Redlined is a halt
// state but not counted terminal, since a redlined run can still be
// inspected and manually resumed under a raised budget.
func (s Status) IsTerminal() bool { return s == StatusComplete || s == StatusError }

// IsActive matches loop.MissionState.IsActive.
func (s Status) IsActive() bool { return s == StatusRunning || s == StatusPaused }

func statusFromMission(s loop.MissionState) Status {
	switch s {
	case loop.MissionIdle:
		return StatusIdle
	case loop.MissionRunning:
		return StatusRunning
	case loop.MissionPaused:
		return StatusPaused
	case loop.MissionComplete:
		return StatusComplete
	case loop.MissionError:
		return StatusError
	case loop.MissionRedlined:
		return StatusRedlined
	default:
		return StatusIdle
	}
}

// EventRange bounds the audit events produced during this session, so a
// compliance report or export can pull exactly the range a run touched
// without scanning the whole audit log. Event IDs are UUIDs rather than
// sequence numbers, so this is a first/last pair plus a count, not a
// contiguous numeric span.
type EventRange struct {
	FirstEventID uuid.UUID
	LastEventID  uuid.UUID
	Count        int
}

// Session is the persisted record of one loop run.
type Session struct {
	ID        uuid.UUID
	MissionID uuid.UUID
	TaskID    string
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time

	StopReason   string
	InputTokens  int
	OutputTokens int
	CostEstimate float64

	Events EventRange

	mu        sync.RWMutex
	narrative []byte
}

// New starts a session bound to a mission and task. The record begins
// tracking the mission's current state and is advanced by the Sync/Record
// methods as the run progresses.
func New(mission *loop.Mission, taskID string) *Session {
	return &Session{
		ID:        uuid.New(),
		MissionID: mission.ID,
		TaskID:    taskID,
		Status:    statusFromMission(mission.State()),
		StartedAt: mission.StartedAt,
	}
}

// SyncState copies the mission's current state into the session record,
// stamping EndedAt the first time the mission reaches a halt state.
func (s *Session) SyncState(mission *loop.Mission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = statusFromMission(mission.State())
	if !s.Status.IsActive() && s.Status != StatusIdle && s.EndedAt.IsZero() {
		s.EndedAt = time.Now().UTC()
	}
}

// RecordResult copies the loop engine's final result into the session:
// totals, stop reason, and a cost estimate derived from a per-token rate.
func (s *Session) RecordResult(res loop.Result, costPerInputToken, costPerOutputToken float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopReason = string(res.StopReason)
	s.InputTokens = res.InputTokens
	s.OutputTokens = res.OutputTokens
	s.CostEstimate = float64(res.InputTokens)*costPerInputToken + float64(res.OutputTokens)*costPerOutputToken
	if s.EndedAt.IsZero() {
		s.EndedAt = time.Now().UTC()
	}
}

// RecordEventRange widens the session's audit-range bookkeeping to include
// a newly observed event ID. Call once per audit event emitted during the
// run.
func (s *Session) RecordEventRange(eventID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Events.Count == 0 {
		s.Events.FirstEventID = eventID
	}
	s.Events.LastEventID = eventID
	s.Events.Count++
}

// AppendNarrative adds a line to the progress narrative, typically after a
// criterion completes. The narrative is capped at maxNarrativeBytes,
// truncated from the oldest end (dropping whole lines) when appending
// would otherwise grow it past the cap.
func (s *Session) AppendNarrative(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.narrative) > 0 {
		s.narrative = append(s.narrative, '\n')
	}
	s.narrative = append(s.narrative, []byte(line)...)
	s.truncateNarrativeLocked()
}

func (s *Session) truncateNarrativeLocked() {
	for len(s.narrative) > maxNarrativeBytes {
		idx := indexByte(s.narrative, '\n')
		if idx < 0 {
			s.narrative = s.narrative[len(s.narrative)-maxNarrativeBytes:]
			return
		}
		s.narrative = s.narrative[idx+1:]
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Narrative returns the current progress.md-style text, safe to inject
// verbatim into a subsequent iteration's prompt.
func (s *Session) Narrative() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return string(s.narrative)
}

// Snapshot returns a value copy safe for serialization/export, free of the
// mutex and of any aliasing into the narrative byte slice.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:           s.ID,
		MissionID:    s.MissionID,
		TaskID:       s.TaskID,
		Status:       s.Status,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		StopReason:   s.StopReason,
		InputTokens:  s.InputTokens,
		OutputTokens: s.OutputTokens,
		CostEstimate: s.CostEstimate,
		Events:       s.Events,
		Narrative:    string(s.narrative),
	}
}

// Snapshot is a point-in-time, serialization-safe copy of a Session.
type Snapshot struct {
	ID           uuid.UUID  `json:"id"`
	MissionID    uuid.UUID  `json:"mission_id"`
	TaskID       string     `json:"task_id"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      time.Time  `json:"ended_at,omitempty"`
	StopReason   string     `json:"stop_reason,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	CostEstimate float64    `json:"cost_estimate"`
	Events       EventRange `json:"events"`
	Narrative    string     `json:"narrative,omitempty"`
}
