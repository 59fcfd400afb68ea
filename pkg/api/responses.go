package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/tachikoma-dev/tachikoma/pkg/database"
	"github.com/tachikoma-dev/tachikoma/pkg/forge"
	"github.com/tachikoma-dev/tachikoma/pkg/loop"
	"github.com/tachikoma-dev/tachikoma/pkg/mcp"
	"github.com/tachikoma-dev/tachikoma/pkg/services"
	"github.com/tachikoma-dev/tachikoma/pkg/session"
)

// HealthResponse is returned by GET /healthz. Only this process's own
// components (database, MCP servers) are checked — external LLM providers
// are excluded so the orchestrator doesn't restart a healthy process over
// a transient upstream outage.
type HealthResponse struct {
	Status   string                       `json:"status"`
	Version  string                       `json:"version"`
	Database *database.HealthStatus       `json:"database,omitempty"`
	MCP      map[string]*mcp.HealthStatus `json:"mcp_servers,omitempty"`
	Warnings []*services.SystemWarning    `json:"warnings,omitempty"`
}

// MissionResponse is returned by POST /missions and GET /missions/:id.
type MissionResponse struct {
	ID         uuid.UUID  `json:"id"`
	TaskID     string     `json:"task_id"`
	State      string     `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StopReason string     `json:"stop_reason,omitempty"`
	Result     *LoopResult `json:"result,omitempty"`
}

// LoopResult mirrors loop.Result for JSON responses.
type LoopResult struct {
	IterationsUsed int    `json:"iterations_used"`
	InputTokens    int    `json:"input_tokens"`
	OutputTokens   int    `json:"output_tokens"`
	FinalText      string `json:"final_text,omitempty"`
	StopReason     string `json:"stop_reason"`
}

func newMissionResponse(m *loop.Mission, snap session.Snapshot) MissionResponse {
	return MissionResponse{
		ID:         m.ID,
		TaskID:     snap.TaskID,
		State:      string(m.State()),
		StartedAt:  m.StartedAt,
		UpdatedAt:  m.UpdatedAt,
		StopReason: snap.StopReason,
	}
}

// ForgeResponse is returned by GET /forge/:id.
type ForgeResponse struct {
	SessionID   uuid.UUID                  `json:"session_id"`
	CanContinue bool                       `json:"can_continue"`
	Rounds      []forge.DeliberationRound  `json:"rounds"`
	Decisions   forge.DecisionLog          `json:"decisions"`
	Dissents    forge.DissentLog           `json:"dissents"`
}

// AuditVerifyResponse is returned by GET /audit/verify.
type AuditVerifyResponse struct {
	Valid      bool   `json:"valid"`
	ChainLen   int    `json:"chain_length"`
	HeadHash   string `json:"head_hash,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Kind       string  `json:"kind"`
	Message    string  `json:"message"`
	Suggestion string  `json:"suggestion,omitempty"`
	Retryable  bool    `json:"retryable,omitempty"`
	RetryAfter float64 `json:"retry_after_seconds,omitempty"`
}
