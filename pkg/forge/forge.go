// Package forge implements a multi-participant deliberation engine: rounds
// of draft, critique, response/synthesis, optional refinement, and a final
// convergence vote, with a decision log and a dissent log recording
// unresolved disagreement.
package forge

import (
	"time"

	"github.com/google/uuid"
)

// RoundType is a stage in one deliberation round.
type RoundType string

const (
	RoundDraft       RoundType = "draft"
	RoundCritique    RoundType = "critique"
	RoundResponse    RoundType = "response"
	RoundSynthesis   RoundType = "synthesis"
	RoundRefinement  RoundType = "refinement"
	RoundConvergence RoundType = "convergence"
)

// Stance is a participant's position on a contribution.
type Stance string

const (
	StanceStronglyAgree    Stance = "strongly_agree"
	StanceAgree            Stance = "agree"
	StancePartial          Stance = "partial"
	StanceDisagree         Stance = "disagree"
	StanceStronglyDisagree Stance = "strongly_disagree"
)

func (s Stance) isAgree() bool    { return s == StanceStronglyAgree || s == StanceAgree }
func (s Stance) isDisagree() bool { return s == StanceStronglyDisagree || s == StanceDisagree }

// Opinion is a participant's structured judgment on a round's content.
type Opinion struct {
	Stance    Stance
	Reasoning string
	Concerns  []string
	Strength  float64
}

// Contribution is one participant's statement within a round.
type Contribution struct {
	ID              uuid.UUID
	ParticipantID   uuid.UUID
	ParticipantName string
	Content         string
	Opinion         *Opinion
	Timestamp       time.Time
}

// DivergentPosition is one participant's side of a Divergence.
type DivergentPosition struct {
	ParticipantID   uuid.UUID
	ParticipantName string
	Position        string
	Stance          Stance
}

// Divergence records a topic on which participants hold opposing stances.
type Divergence struct {
	ID         uuid.UUID
	Topic      string
	Positions  []DivergentPosition
	Resolved   bool
	Resolution string
}

// RoundStatus tracks a round's lifecycle.
type RoundStatus string

const (
	RoundPending    RoundStatus = "pending"
	RoundInProgress RoundStatus = "in_progress"
	RoundComplete   RoundStatus = "complete"
	RoundSkipped    RoundStatus = "skipped"
)

// DeliberationRound is one stage of deliberation: a set of contributions,
// any divergences detected among them, and a lifecycle status.
type DeliberationRound struct {
	ID            uuid.UUID
	RoundNumber   int
	RoundType     RoundType
	Contributions []Contribution
	Divergences   []Divergence
	Status        RoundStatus
}

// Decision is one entry in the session's decision log: a final, converged
// outcome with the evidence supporting it.
type Decision struct {
	ID          uuid.UUID
	Summary     string
	RoundNumber int
	Score       ConvergenceScore
	Timestamp   time.Time
}

// Dissent is an unresolved disagreement surfaced during deliberation,
// recorded even if the session later converges around a different round.
type Dissent struct {
	ID          string
	Description string
	Timestamp   time.Time
}

// DecisionLog accumulates Decisions for one session.
type DecisionLog struct {
	SessionID uuid.UUID
	Decisions []Decision
}

// DissentLog accumulates Dissents for one session, deduplicated by ID.
type DissentLog struct {
	SessionID uuid.UUID
	Dissents  []Dissent
}

func (l *DissentLog) add(d Dissent) bool {
	for _, existing := range l.Dissents {
		if existing.ID == d.ID {
			return false
		}
	}
	l.Dissents = append(l.Dissents, d)
	return true
}
