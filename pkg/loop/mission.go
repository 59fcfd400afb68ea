package loop

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MissionState is a run's position in the Idle/Running/Paused/terminal
// state machine.
type MissionState string

const (
	MissionIdle     MissionState = "idle"
	MissionRunning  MissionState = "running"
	MissionPaused   MissionState = "paused"
	MissionComplete MissionState = "complete"
	MissionError    MissionState = "error"
	MissionRedlined MissionState = "redlined"
)

func (s MissionState) IsTerminal() bool {
	return s == MissionComplete || s == MissionError
}

func (s MissionState) IsActive() bool {
	return s == MissionRunning || s == MissionPaused
}

// validTransitions enumerates the edges in the Mission state diagram.
var validTransitions = map[MissionState]map[MissionState]bool{
	MissionIdle:     {MissionRunning: true},
	MissionRunning:  {MissionPaused: true, MissionComplete: true, MissionRedlined: true, MissionError: true},
	MissionPaused:   {MissionRunning: true, MissionComplete: true, MissionError: true},
	MissionComplete: {},
	MissionError:    {},
	MissionRedlined: {},
}

// Mission tracks one loop run's lifecycle state plus its cooperative
// pause/resume/stop signaling. Safe for concurrent use: the engine mutates
// it from the run goroutine while a caller observes or signals it from
// another.
type Mission struct {
	ID        uuid.UUID
	Config    Config
	StartedAt time.Time
	UpdatedAt time.Time

	mu        sync.Mutex
	state     MissionState
	resumeCh  chan struct{}
	stopFlag  bool
}

func NewMission(cfg Config) *Mission {
	return &Mission{
		ID:        uuid.New(),
		Config:    cfg,
		StartedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		state:     MissionIdle,
		resumeCh:  make(chan struct{}),
	}
}

// Start transitions a freshly created mission from Idle to Running. Engine
// callers use this implicitly via Run; it's exported for callers that need
// to reflect the Running state before the engine loop begins (e.g. tests,
// or a caller recording mission state before handing off to Run).
func (m *Mission) Start() error {
	return m.transition(MissionRunning)
}

func (m *Mission) State() MissionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition moves to next, returning an error if the edge is not in the
// state diagram.
func (m *Mission) transition(next MissionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !validTransitions[m.state][next] {
		return fmt.Errorf("loop: invalid mission transition %s -> %s", m.state, next)
	}
	m.state = next
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// RequestPause arms a pause; the engine honors it at the next iteration
// boundary.
func (m *Mission) RequestPause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == MissionRunning {
		m.state = MissionPaused
		m.resumeCh = make(chan struct{})
	}
}

// Resume wakes a paused engine. A no-op if not currently paused.
func (m *Mission) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MissionPaused {
		return
	}
	m.state = MissionRunning
	close(m.resumeCh)
}

// RequestStop sets the cooperative stop flag, checked at the next
// iteration boundary.
func (m *Mission) RequestStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopFlag = true
	if m.state == MissionPaused {
		// Wake a paused run so it can observe the stop flag and exit.
		m.state = MissionRunning
		close(m.resumeCh)
	}
}

func (m *Mission) stopRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopFlag
}

// waitIfPaused blocks the calling goroutine while the mission is paused,
// returning the channel to wait on without holding the lock across the
// blocking receive.
func (m *Mission) pauseChannel() (ch chan struct{}, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MissionPaused {
		return nil, false
	}
	return m.resumeCh, true
}
