package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// EventPublisher publishes notifications for SSE delivery.
// Persistent events are stored in the events table then broadcast via
// NOTIFY. Transient events (streaming chunks) are broadcast via NOTIFY only.
//
// Each public method accepts a specific typed payload struct — see
// payloads.go. Internally, payloads are marshaled to JSON and routed to the
// appropriate channel via persistAndNotify or notifyOnly.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher creates a new EventPublisher.
// The db parameter should be the *sql.DB backing the audit/events schema.
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// --- Typed public methods ---

// PublishLoopEvent persists and broadcasts one loop.event notification on
// the owning mission's channel.
func (p *EventPublisher) PublishLoopEvent(ctx context.Context, missionID string, payload LoopEventPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal LoopEventPayload: %w", err)
	}
	return p.persistAndNotify(ctx, MissionChannel(missionID), payloadJSON)
}

// PublishStreamChunk broadcasts a stream.chunk transient event (no DB
// persistence). Used for high-frequency provider streaming tokens —
// ephemeral, lost on disconnect.
func (p *EventPublisher) PublishStreamChunk(ctx context.Context, missionID string, payload StreamChunkPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal StreamChunkPayload: %w", err)
	}
	return p.notifyOnly(ctx, MissionChannel(missionID), payloadJSON)
}

// PublishMissionStatus persists a mission status event to the mission
// channel and broadcasts a transient copy to the global missions channel.
// Both publishes are best-effort: if the persistent one fails, the transient
// one is still attempted. Returns the first error encountered (if any).
func (p *EventPublisher) PublishMissionStatus(ctx context.Context, missionID string, payload MissionStatusPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal MissionStatusPayload: %w", err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, MissionChannel(missionID), payloadJSON); err != nil {
		slog.Warn("failed to publish mission status to mission channel",
			"mission_id", missionID, "status", payload.Status, "error", err)
		firstErr = err
	}

	if err := p.notifyOnly(ctx, GlobalMissionsChannel, payloadJSON); err != nil {
		slog.Warn("failed to publish mission status to global channel",
			"mission_id", missionID, "status", payload.Status, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// PublishForgeRound persists and broadcasts a forge.round event on the
// deliberation's channel.
func (p *EventPublisher) PublishForgeRound(ctx context.Context, forgeID string, payload ForgeRoundPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ForgeRoundPayload: %w", err)
	}
	return p.persistAndNotify(ctx, ForgeChannel(forgeID), payloadJSON)
}

// PublishForgeContribution persists and broadcasts a forge.contribution
// event on the deliberation's channel.
func (p *EventPublisher) PublishForgeContribution(ctx context.Context, forgeID string, payload ForgeContributionPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ForgeContributionPayload: %w", err)
	}
	return p.persistAndNotify(ctx, ForgeChannel(forgeID), payloadJSON)
}

// --- Internal core methods ---

// persistAndNotify persists a pre-marshaled event to the database and
// broadcasts via NOTIFY in a single transaction (pg_notify is transactional
// — held until COMMIT).
func (p *EventPublisher) persistAndNotify(ctx context.Context, channel string, payloadJSON []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (channel, payload, created_at) VALUES ($1, $2, $3) RETURNING id`,
		channel, payloadJSON, time.Now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}

	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting
// to DB.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for
// NOTIFY delivery and applies truncation if the result exceeds PostgreSQL's
// limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}

	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, extracting only the routing fields the client needs
// to fetch the complete event from the database.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type      string `json:"type"`
		MissionID string `json:"mission_id"`
		ForgeID   string `json:"forge_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":      routing.Type,
		"truncated": true,
	}
	if routing.MissionID != "" {
		truncated["mission_id"] = routing.MissionID
	}
	if routing.ForgeID != "" {
		truncated["forge_id"] = routing.ForgeID
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
