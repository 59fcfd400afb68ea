package events

// LoopEventPayload is the payload for loop.event notifications. It mirrors
// pkg/loop.LoopEvent field-for-field, flattened to JSON-friendly types.
type LoopEventPayload struct {
	Type        string `json:"type"` // always EventTypeLoopEvent
	MissionID   string `json:"mission_id"`
	EventType   string `json:"event_type"` // loop.LoopEventType value
	Iteration   int    `json:"iteration"`
	Text        string `json:"text,omitempty"`
	ToolCallID  string `json:"tool_call_id,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	ToolArgs    string `json:"tool_args,omitempty"`
	ToolResult  string `json:"tool_result,omitempty"`
	ToolSuccess bool   `json:"tool_success,omitempty"`
	InputTokens int    `json:"input_tokens,omitempty"`
	OutTokens   int    `json:"out_tokens,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	Timestamp   string `json:"timestamp"` // RFC3339Nano
}

// StreamChunkPayload is the payload for stream.chunk transient events.
// Published for each provider streaming token belonging to a Text-type
// LoopEvent still in flight — high frequency, ephemeral.
type StreamChunkPayload struct {
	Type      string `json:"type"` // always EventTypeStreamChunk
	MissionID string `json:"mission_id"`
	Iteration int    `json:"iteration"`
	Delta     string `json:"delta"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// MissionStatusPayload is the payload for mission.status events.
// Published when a Mission transitions between lifecycle states.
type MissionStatusPayload struct {
	Type      string `json:"type"` // always EventTypeMissionStatus
	MissionID string `json:"mission_id"`
	Status    string `json:"status"` // loop.MissionState value
	Timestamp string `json:"timestamp"`
}

// ForgeRoundPayload is the payload for forge.round events. Single event
// type for all round lifecycle transitions.
type ForgeRoundPayload struct {
	Type        string `json:"type"` // always EventTypeForgeRound
	ForgeID     string `json:"forge_id"`
	RoundID     string `json:"round_id,omitempty"`
	RoundNumber int    `json:"round_number"`
	RoundType   string `json:"round_type"` // forge.RoundType value
	Status      string `json:"status"`     // one of the ForgeRound* constants
	Score       float64 `json:"score,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// ForgeContributionPayload is the payload for forge.contribution events.
// Published each time a participant's contribution (and, during a
// Convergence round, their opinion) is persisted.
type ForgeContributionPayload struct {
	Type            string  `json:"type"` // always EventTypeForgeContribution
	ForgeID         string  `json:"forge_id"`
	RoundID         string  `json:"round_id"`
	ContributionID  string  `json:"contribution_id"`
	ParticipantID   string  `json:"participant_id"`
	ParticipantName string  `json:"participant_name"`
	Content         string  `json:"content"`
	Stance          string  `json:"stance,omitempty"`
	Strength        float64 `json:"strength,omitempty"`
	Timestamp       string  `json:"timestamp"`
}
