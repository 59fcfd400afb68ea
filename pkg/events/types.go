// Package events fans out Loop Engine and Forge deliberation notifications
// to HTTP clients via Server-Sent Events, and to other API replicas via
// PostgreSQL NOTIFY/LISTEN.
//
// ════════════════════════════════════════════════════════════════
// Loop Event Lifecycle
// ════════════════════════════════════════════════════════════════
//
// Every pkg/loop.LoopEvent the engine emits is wrapped in a loop.event
// envelope and published to the owning mission's channel. Text events
// follow a streaming pattern: the provider's text deltas arrive as
// transient stream.chunk notifications (not persisted — lost on
// reconnect) while the iteration is in flight, and the final text is
// delivered as the persisted loop.event once the provider call
// completes. Clients concatenate stream.chunk deltas locally for a
// live typing effect, then replace the buffer with the persisted
// event's content when it arrives.
//
// All other LoopEventType values (iteration_start, tool_call,
// tool_result, token_update, spec_complete, redline) are
// fire-and-forget: the persisted loop.event IS the terminal
// notification, delivered in one message.
//
// ════════════════════════════════════════════════════════════════
package events

// Persistent event types (stored in DB + NOTIFY).
const (
	// EventTypeLoopEvent wraps one pkg/loop.LoopEvent. The wrapped
	// loop.LoopEventType is carried in the payload's "event_type" field —
	// see package doc for the streaming vs fire-and-forget distinction.
	EventTypeLoopEvent = "loop.event"

	// EventTypeMissionStatus fires on every Mission state transition.
	EventTypeMissionStatus = "mission.status"

	// EventTypeForgeRound fires on Forge deliberation round lifecycle
	// transitions (started, completed, converged, refining).
	EventTypeForgeRound = "forge.round"

	// EventTypeForgeContribution fires when a participant's contribution to
	// a round — and, during a Convergence round, their opinion — is
	// persisted.
	EventTypeForgeContribution = "forge.contribution"
)

// Forge round status values (used in ForgeRoundPayload.Status).
const (
	ForgeRoundStarted   = "started"
	ForgeRoundCompleted = "completed"
	ForgeRoundConverged = "converged"
	ForgeRoundRefining  = "refining"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	// EventTypeStreamChunk carries incremental provider text for a
	// Text-type LoopEvent still in flight — high-frequency, ephemeral.
	EventTypeStreamChunk = "stream.chunk"
)

// GlobalMissionsChannel is the channel for mission-level status events.
// A mission list view subscribes here for live status without opening a
// per-mission event stream.
const GlobalMissionsChannel = "missions"

// MissionChannel returns the channel name for one mission's events.
// Format: "mission:{mission_id}"
func MissionChannel(missionID string) string {
	return "mission:" + missionID
}

// ForgeChannel returns the channel name for one Forge deliberation's
// events. Format: "forge:{forge_id}"
func ForgeChannel(forgeID string) string {
	return "forge:" + forgeID
}
