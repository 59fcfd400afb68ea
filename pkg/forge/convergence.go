package forge

import "fmt"

// ConvergenceScore summarizes how close a round's contributions are to
// agreement.
type ConvergenceScore struct {
	Score             float64
	AgreementCount    int
	DisagreementCount int
	PartialCount      int
	IsConverged       bool
	BlockingConcerns  []string
}

// lastConvergenceRound returns the most recent round of type
// RoundConvergence, if any.
func lastConvergenceRound(rounds []DeliberationRound) *DeliberationRound {
	for i := len(rounds) - 1; i >= 0; i-- {
		if rounds[i].RoundType == RoundConvergence {
			return &rounds[i]
		}
	}
	return nil
}

// CalculateConvergence scores the most recent convergence round. Each
// participant contributes one vote of equal weight.
func CalculateConvergence(rounds []DeliberationRound, threshold float64) ConvergenceScore {
	return CalculateConvergenceWeighted(rounds, threshold, nil)
}

// CalculateConvergenceWeighted scores the most recent convergence round
// with optional per-participant weights (missing participants default to
// weight 1.0). A round is converged when the weighted score clears the
// threshold AND no participant, weighted or not, disagreed.
func CalculateConvergenceWeighted(rounds []DeliberationRound, threshold float64, weights map[string]float64) ConvergenceScore {
	round := lastConvergenceRound(rounds)
	if round == nil {
		return ConvergenceScore{BlockingConcerns: []string{"no convergence round completed"}}
	}

	var weightedAgree, weightedDisagree, weightedPartial, totalWeight float64
	var agreeCount, disagreeCount, partialCount int
	var blocking []string

	for _, c := range round.Contributions {
		if c.Opinion == nil {
			continue
		}
		weight := 1.0
		if weights != nil {
			if w, ok := weights[c.ParticipantID.String()]; ok {
				weight = w
			}
		}
		totalWeight += weight

		switch {
		case c.Opinion.Stance.isAgree():
			weightedAgree += weight
			agreeCount++
		case c.Opinion.Stance.isDisagree():
			weightedDisagree += weight
			disagreeCount++
			for _, concern := range c.Opinion.Concerns {
				blocking = append(blocking, fmt.Sprintf("%s: %s", c.ParticipantName, concern))
			}
		case c.Opinion.Stance == StancePartial:
			weightedPartial += weight
			partialCount++
		}
	}

	var score float64
	if totalWeight > 0 {
		score = (weightedAgree + weightedPartial*0.5) / totalWeight
	}

	return ConvergenceScore{
		Score:             score,
		AgreementCount:    agreeCount,
		DisagreementCount: disagreeCount,
		PartialCount:      partialCount,
		IsConverged:       score >= threshold && weightedDisagree == 0,
		BlockingConcerns:  blocking,
	}
}
