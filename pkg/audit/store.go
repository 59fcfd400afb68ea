package audit

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tachikoma-dev/tachikoma/pkg/chain"
	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// QueryFilter narrows a range query. Zero-value fields are unfiltered.
type QueryFilter struct {
	Category Category
	Action   string
	Actor    ActorKind
	Severity Severity
	Start    time.Time
	End      time.Time
	Limit    int
}

// Store provides atomic batch persistence and filtered range queries
// ordered by (timestamp, sequence). Every persisted event is also appended
// to the hash chain, so storage and chain-of-custody evolve together under
// one lock: the chain is protected by its own mutex, and the store has one
// writer and many readers.
type Store struct {
	chain *chain.Chain

	mu     sync.RWMutex
	events []storedEvent // in-memory fallback / cache, ordered by (timestamp, sequence)

	pool *pgxpool.Pool // nil ⇒ in-memory only, used by tests and single-node dev mode
}

type storedEvent struct {
	Event    Event
	Sequence uint64
	Link     chain.Link
}

// NewStore creates a store backed by an optional Postgres pool. When pool
// is nil the store keeps everything in memory — useful for unit tests and
// for S1–S6 scenario tests that don't need a real database.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{chain: chain.New([]byte("tachikoma-audit-genesis")), pool: pool}
}

// PersistBatch is atomic per batch: on any single event's failure the whole
// batch is rejected and none of it is visible to Query.
func (s *Store) PersistBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	canonical := make([][]byte, len(events))
	for i, e := range events {
		b, err := e.CanonicalBytes()
		if err != nil {
			return terrors.Wrap(terrors.KindInternal, "canonicalize audit event", err)
		}
		canonical[i] = b
	}

	if s.pool != nil {
		if err := s.persistBatchSQL(ctx, events); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range events {
		link := s.chain.Append(canonical[i])
		s.events = append(s.events, storedEvent{Event: e, Sequence: link.Sequence, Link: link})
	}
	return nil
}

func (s *Store) persistBatchSQL(ctx context.Context, events []Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return terrors.Wrap(terrors.KindIO, "begin audit batch transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, e := range events {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return terrors.Wrap(terrors.KindInternal, "marshal event metadata", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO audit_events
				(id, timestamp, category, action, severity, actor_kind, actor_component,
				 actor_user_id, outcome_kind, outcome_reason, metadata, correlation_id,
				 ip_address, user_agent)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, e.ID, e.Timestamp, e.Category, e.Action, e.Severity, e.Actor.Kind, e.Actor.Component,
			e.Actor.UserID, e.Outcome.Kind, e.Outcome.Reason, meta, e.CorrelationID,
			e.IPAddress, e.UserAgent)
		if err != nil {
			return terrors.Wrap(terrors.KindIO, "insert audit event", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return terrors.Wrap(terrors.KindIO, "commit audit batch transaction", err)
	}
	return nil
}

// Query returns events matching filter, ordered by (timestamp, sequence).
// The in-memory path is authoritative for sequencing (chain sequence is the
// tiebreaker); a SQL-backed deployment would instead `ORDER BY timestamp,
// sequence` at the database layer using a sequence column populated from
// the same chain appends.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]storedEvent, 0, len(s.events))
	for _, se := range s.events {
		if !matchesFilter(se.Event, filter) {
			continue
		}
		matched = append(matched, se)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Event.Timestamp.Equal(matched[j].Event.Timestamp) {
			return matched[i].Event.Timestamp.Before(matched[j].Event.Timestamp)
		}
		return matched[i].Sequence < matched[j].Sequence
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	out := make([]Event, len(matched))
	for i, se := range matched {
		out[i] = se.Event
	}
	return out, nil
}

func matchesFilter(e Event, f QueryFilter) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Actor != "" && e.Actor.Kind != f.Actor {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !e.Timestamp.Before(f.End) {
		return false
	}
	return true
}

// VerifyChain exposes the chain's full-verification for the HTTP
// audit-verify endpoint and for archive restoration's divergence check.
func (s *Store) VerifyChain() error {
	return s.chain.VerifyFull()
}

// ChainSnapshot returns the links backing the currently-stored events, for
// building a Merkle tree over a range (the Archiver consumes this).
func (s *Store) ChainSnapshot() []chain.Link {
	return s.chain.Snapshot()
}

// RestoreEvent inserts an archived event idempotently, keyed on ID — if an
// event with the same ID is already present it is left untouched. It does
// not re-append to the hash chain (restored events are historical, not
// newly observed).
func (s *Store) RestoreEvent(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, se := range s.events {
		if se.Event.ID == e.ID {
			return nil // idempotent: already present, silently preserved
		}
	}
	s.events = append(s.events, storedEvent{Event: e, Sequence: uint64(len(s.events))})
	return nil
}

// EventByID is a convenience lookup used by the Archiver's indexed-read path.
func (s *Store) EventByID(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, se := range s.events {
		if se.Event.ID.String() == id {
			return se.Event, true
		}
	}
	return Event{}, false
}
