// Package loop implements the agentic tool-calling loop: it drives a
// conversation against an LLM provider, executes the tool calls the model
// requests through the primitive registry, tracks budgets, and emits
// LoopEvents a caller can subscribe to for live progress.
package loop

import (
	"time"

	"github.com/google/uuid"
)

// StopReason is why a loop run ended.
type StopReason string

const (
	StopCompleted     StopReason = "completed"
	StopMaxIterations StopReason = "max_iterations"
	StopRedlined      StopReason = "redlined"
	StopPaused        StopReason = "paused"
	StopError         StopReason = "error"
	StopNoProgress    StopReason = "no_progress"
	StopTestFailStreak StopReason = "test_fail_streak"
	StopManual        StopReason = "manual"
)

// ExitCode maps a StopReason to the process exit code used when the loop
// is driven as a batch job.
func (s StopReason) ExitCode() int {
	switch s {
	case StopCompleted:
		return 0
	case StopMaxIterations:
		return 2
	case StopRedlined:
		return 3
	case StopManual:
		return 130
	case StopError, StopNoProgress, StopTestFailStreak, StopPaused:
		return 1
	default:
		return 1
	}
}

// Result summarizes one completed (or halted) loop run.
type Result struct {
	IterationsUsed int
	InputTokens    int
	OutputTokens   int
	FinalText      string
	StopReason     StopReason
}

// StopCondition is one configured trigger the engine checks between
// iterations, in addition to the always-on iteration cap and token redline.
type StopCondition interface {
	stopConditionMarker()
}

type StopOnTestFailStreak struct{ N int }
type StopOnNoProgress struct{ N int }
type StopOnErrorRate struct{ Pct float64 }
type StopOnManual struct{}
type StopOnAllComplete struct{}

func (StopOnTestFailStreak) stopConditionMarker() {}
func (StopOnNoProgress) stopConditionMarker()     {}
func (StopOnErrorRate) stopConditionMarker()      {}
func (StopOnManual) stopConditionMarker()         {}
func (StopOnAllComplete) stopConditionMarker()    {}

// Config holds the recognized loop configuration keys.
type Config struct {
	MaxIterations     int
	RedlineThreshold  float64
	IterationDelay    time.Duration
	StopOn            []StopCondition
	AutoCommit        bool
	MaxBackoff        time.Duration
	ContextWindowSize int
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     100,
		RedlineThreshold:  0.75,
		IterationDelay:    time.Second,
		MaxBackoff:        30 * time.Second,
		ContextWindowSize: 200_000,
	}
}

// LoopEventType identifies what kind of thing happened during a run.
type LoopEventType string

const (
	EventIterationStart LoopEventType = "iteration_start"
	EventToolCall       LoopEventType = "tool_call"
	EventToolResult     LoopEventType = "tool_result"
	EventText           LoopEventType = "text"
	EventTokenUpdate    LoopEventType = "token_update"
	EventSpecComplete   LoopEventType = "spec_complete"
	EventRedline        LoopEventType = "redline"
)

// LoopEvent is one notification published to subscribers during a run.
type LoopEvent struct {
	Type        LoopEventType
	MissionID   uuid.UUID
	Iteration   int
	Timestamp   time.Time
	Text        string
	ToolCallID  string
	ToolName    string
	ToolArgs    string
	ToolResult  string
	ToolSuccess bool
	InputTokens int
	OutTokens   int
	TaskID      string
}
