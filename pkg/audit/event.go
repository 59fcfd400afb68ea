// Package audit implements the audit event store and the batched capture
// pipeline feeding it. Persistence queries Postgres directly through pgx
// rather than through a generated ORM client (see DESIGN.md).
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategoryAuthN        Category = "authn"
	CategoryAuthZ        Category = "authz"
	CategoryConfig       Category = "config"
	CategoryDataTransfer Category = "data_transfer"
	CategorySecurity     Category = "security"
	CategorySystem       Category = "system"
	CategoryUserMgmt     Category = "user_mgmt"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ActorKind discriminates who or what an Actor represents.
type ActorKind string

const (
	ActorSystem  ActorKind = "system"
	ActorUser    ActorKind = "user"
	ActorUnknown ActorKind = "unknown"
)

type Actor struct {
	Kind      ActorKind `json:"kind"`
	Component string    `json:"component,omitempty"` // ActorSystem
	UserID    string    `json:"user_id,omitempty"`    // ActorUser
	SessionID string    `json:"session_id,omitempty"` // ActorUser, optional
}

func SystemActor(component string) Actor { return Actor{Kind: ActorSystem, Component: component} }
func UserActor(userID, sessionID string) Actor {
	return Actor{Kind: ActorUser, UserID: userID, SessionID: sessionID}
}
func UnknownActor() Actor { return Actor{Kind: ActorUnknown} }

type Target struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	ResourceName string `json:"resource_name,omitempty"`
}

// OutcomeKind tags the Outcome variant.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeDenied  OutcomeKind = "denied"
	OutcomePending OutcomeKind = "pending"
	OutcomeUnknown OutcomeKind = "unknown"
)

type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"` // OutcomeFailure, OutcomeDenied
}

func Success() Outcome                  { return Outcome{Kind: OutcomeSuccess} }
func Failure(reason string) Outcome     { return Outcome{Kind: OutcomeFailure, Reason: reason} }
func Denied(reason string) Outcome      { return Outcome{Kind: OutcomeDenied, Reason: reason} }
func (o Outcome) IsSuccess() bool       { return o.Kind == OutcomeSuccess }
func (o Outcome) IsFailure() bool       { return o.Kind == OutcomeFailure || o.Kind == OutcomeDenied }

// Event is an immutable audit record. Once persisted its bytes never
// change; corrections are new events referencing the original via
// CorrelationID.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Category      Category        `json:"category"`
	Action        string          `json:"action"`
	Severity      Severity        `json:"severity"`
	Actor         Actor           `json:"actor"`
	Target        *Target         `json:"target,omitempty"`
	Outcome       Outcome         `json:"outcome"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	IPAddress     string          `json:"ip_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
}

// CanonicalBytes serializes the event deterministically for hash-chaining:
// map keys are sorted by encoding/json's default object-key order isn't
// guaranteed for map[string]any, so Metadata is re-encoded through a
// sorted-key marshal to keep EventHash reproducible across processes.
func (e Event) CanonicalBytes() ([]byte, error) {
	type canonical struct {
		ID            string         `json:"id"`
		Timestamp     string         `json:"timestamp"`
		Category      Category       `json:"category"`
		Action        string         `json:"action"`
		Severity      Severity       `json:"severity"`
		Actor         Actor          `json:"actor"`
		Target        *Target        `json:"target,omitempty"`
		Outcome       Outcome        `json:"outcome"`
		Metadata      map[string]any `json:"metadata,omitempty"`
		CorrelationID string         `json:"correlation_id,omitempty"`
		IPAddress     string         `json:"ip_address,omitempty"`
		UserAgent     string         `json:"user_agent,omitempty"`
	}
	c := canonical{
		ID:            e.ID.String(),
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		Category:      e.Category,
		Action:        e.Action,
		Severity:      e.Severity,
		Actor:         e.Actor,
		Target:        e.Target,
		Outcome:       e.Outcome,
		Metadata:      e.Metadata,
		CorrelationID: e.CorrelationID,
		IPAddress:     e.IPAddress,
		UserAgent:     e.UserAgent,
	}
	return json.Marshal(c)
}

// Builder constructs an Event with sensible defaults (Outcome=Success,
// Severity derived by caller), mirroring AuditEventBuilder's fluent shape.
type Builder struct {
	e Event
}

func NewBuilder(category Category, action string) *Builder {
	return &Builder{e: Event{
		Category: category,
		Action:   action,
		Outcome:  Success(),
		Actor:    UnknownActor(),
	}}
}

func (b *Builder) Severity(s Severity) *Builder        { b.e.Severity = s; return b }
func (b *Builder) Actor2(a Actor) *Builder             { b.e.Actor = a; return b }
func (b *Builder) Target2(t Target) *Builder           { b.e.Target = &t; return b }
func (b *Builder) Outcome2(o Outcome) *Builder         { b.e.Outcome = o; return b }
func (b *Builder) CorrelationID(id string) *Builder    { b.e.CorrelationID = id; return b }
func (b *Builder) IPAddress(ip string) *Builder        { b.e.IPAddress = ip; return b }
func (b *Builder) UserAgent(ua string) *Builder        { b.e.UserAgent = ua; return b }
func (b *Builder) Metadata(key string, value any) *Builder {
	if b.e.Metadata == nil {
		b.e.Metadata = map[string]any{}
	}
	b.e.Metadata[key] = value
	return b
}

func defaultSeverity(action string, outcome Outcome) Severity {
	if outcome.IsFailure() {
		return SeverityHigh
	}
	return SeverityInfo
}

// Build finalizes the event, assigning ID/Timestamp and a default severity
// if none was set explicitly.
func (b *Builder) Build() Event {
	b.e.ID = uuid.New()
	b.e.Timestamp = time.Now().UTC()
	if b.e.Severity == "" {
		b.e.Severity = defaultSeverity(b.e.Action, b.e.Outcome)
	}
	return b.e
}
