package forge

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Participant is one voice in a deliberation.
type Participant struct {
	ID     uuid.UUID
	Name   string
	Weight float64 // 0 = default (1.0), set via Engine.SetWeight
}

// Engine drives one deliberation session through its round sequence,
// accumulating rounds, the decision log, and the dissent log. All mutating
// methods take Engine's mutex, mirroring the single-writer pattern used
// elsewhere for shared append-only state.
type Engine struct {
	mu sync.Mutex

	sessionID            uuid.UUID
	participants         []Participant
	weights              map[string]float64
	rounds               []DeliberationRound
	maxRounds            int
	convergenceThreshold float64

	decisions DecisionLog
	dissents  DissentLog
}

func NewEngine(sessionID uuid.UUID, participants []Participant, maxRounds int, convergenceThreshold float64) *Engine {
	weights := make(map[string]float64, len(participants))
	for _, p := range participants {
		if p.Weight > 0 {
			weights[p.ID.String()] = p.Weight
		}
	}
	return &Engine{
		sessionID:            sessionID,
		participants:         participants,
		weights:              weights,
		maxRounds:            maxRounds,
		convergenceThreshold: convergenceThreshold,
		decisions:            DecisionLog{SessionID: sessionID},
		dissents:             DissentLog{SessionID: sessionID},
	}
}

// CurrentRound returns the most recently started round, or nil before the
// first StartRound call.
func (e *Engine) CurrentRound() *DeliberationRound {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rounds) == 0 {
		return nil
	}
	r := e.rounds[len(e.rounds)-1]
	return &r
}

// AllRounds returns every round run so far, in order.
func (e *Engine) AllRounds() []DeliberationRound {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]DeliberationRound, len(e.rounds))
	copy(out, e.rounds)
	return out
}

// CanContinue reports whether another round may be started under
// max_rounds.
func (e *Engine) CanContinue() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rounds) < e.maxRounds
}

// StartRound appends a new round and returns its ID for subsequent
// AddContribution calls.
func (e *Engine) StartRound(roundType RoundType) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rounds) >= e.maxRounds {
		return uuid.Nil, fmt.Errorf("forge: max_rounds (%d) reached", e.maxRounds)
	}
	round := DeliberationRound{
		ID:          uuid.New(),
		RoundNumber: len(e.rounds) + 1,
		RoundType:   roundType,
		Status:      RoundInProgress,
	}
	e.rounds = append(e.rounds, round)
	return round.ID, nil
}

// AddContribution appends a contribution to the current round.
func (e *Engine) AddContribution(participantID uuid.UUID, participantName, content string, opinion *Opinion) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rounds) == 0 {
		return fmt.Errorf("forge: no round in progress")
	}
	idx := len(e.rounds) - 1
	e.rounds[idx].Contributions = append(e.rounds[idx].Contributions, Contribution{
		ID:              uuid.New(),
		ParticipantID:   participantID,
		ParticipantName: participantName,
		Content:         content,
		Opinion:         opinion,
		Timestamp:       time.Now().UTC(),
	})
	return nil
}

// CloseRound marks the current round Complete (or Skipped) and runs
// divergence detection over its contributions.
func (e *Engine) CloseRound(skip bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rounds) == 0 {
		return
	}
	idx := len(e.rounds) - 1
	if skip {
		e.rounds[idx].Status = RoundSkipped
		return
	}
	e.detectDivergencesLocked(idx)
	e.rounds[idx].Status = RoundComplete
}

// detectDivergencesLocked flags a single divergence on "Primary approach"
// whenever a round contains both agreeing and disagreeing contributions.
// This mirrors a simple two-camp heuristic: it does not attempt to cluster
// finer-grained topics.
func (e *Engine) detectDivergencesLocked(idx int) {
	round := &e.rounds[idx]
	var agreements, disagreements []Contribution
	for _, c := range round.Contributions {
		if c.Opinion == nil {
			continue
		}
		switch {
		case c.Opinion.Stance.isAgree():
			agreements = append(agreements, c)
		case c.Opinion.Stance.isDisagree():
			disagreements = append(disagreements, c)
		}
	}
	if len(agreements) == 0 || len(disagreements) == 0 {
		round.Divergences = nil
		return
	}

	var positions []DivergentPosition
	for _, c := range append(agreements, disagreements...) {
		reasoning := ""
		stance := StancePartial
		if c.Opinion != nil {
			reasoning = c.Opinion.Reasoning
			stance = c.Opinion.Stance
		}
		positions = append(positions, DivergentPosition{
			ParticipantID:   c.ParticipantID,
			ParticipantName: c.ParticipantName,
			Position:        reasoning,
			Stance:          stance,
		})
	}
	round.Divergences = []Divergence{{
		ID:        uuid.New(),
		Topic:     "Primary approach",
		Positions: positions,
	}}
}

// NeedsRefinement reports whether the current round has unresolved
// divergences.
func (e *Engine) NeedsRefinement() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rounds) == 0 {
		return false
	}
	for _, d := range e.rounds[len(e.rounds)-1].Divergences {
		if !d.Resolved {
			return true
		}
	}
	return false
}

// AnalyzeDissent records one dissent per unresolved divergence in the
// current round, skipping any already logged (keyed by round number and
// topic). It returns the newly added dissent IDs.
func (e *Engine) AnalyzeDissent() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rounds) == 0 {
		return nil
	}
	round := e.rounds[len(e.rounds)-1]
	var added []string
	for _, d := range round.Divergences {
		if d.Resolved {
			continue
		}
		id := fmt.Sprintf("round_%d_topic_%s", round.RoundNumber, strings.ReplaceAll(d.Topic, " ", "_"))
		dissent := Dissent{
			ID: id,
			Description: fmt.Sprintf("unresolved disagreement in round %d on %q: %d participants with conflicting stances",
				round.RoundNumber, d.Topic, len(d.Positions)),
			Timestamp: time.Now().UTC(),
		}
		if e.dissents.add(dissent) {
			added = append(added, id)
		}
	}
	return added
}

// RecordDecision scores the current convergence round and, if converged,
// appends a Decision to the log.
func (e *Engine) RecordDecision(summary string) (ConvergenceScore, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	score := CalculateConvergenceWeighted(e.rounds, e.convergenceThreshold, e.weights)
	if !score.IsConverged {
		return score, false
	}
	e.decisions.Decisions = append(e.decisions.Decisions, Decision{
		ID:          uuid.New(),
		Summary:     summary,
		RoundNumber: len(e.rounds),
		Score:       score,
		Timestamp:   time.Now().UTC(),
	})
	return score, true
}

func (e *Engine) DecisionLog() DecisionLog {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.decisions
	out.Decisions = append([]Decision{}, e.decisions.Decisions...)
	return out
}

func (e *Engine) DissentLog() DissentLog {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.dissents
	out.Dissents = append([]Dissent{}, e.dissents.Dissents...)
	return out
}
