package compliance

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tachikoma-dev/tachikoma/pkg/audit"
)

// ControlStatus is the assessed state of one control over a report period.
type ControlStatus string

const (
	StatusCompliant          ControlStatus = "compliant"
	StatusPartiallyCompliant ControlStatus = "partially_compliant"
	StatusIndeterminate      ControlStatus = "indeterminate"
)

// Assessment is one control's evaluation for a report period.
type Assessment struct {
	Control         Control
	Status          ControlStatus
	EvidenceCount   int
	EvidenceEventIDs []uuid.UUID
	Findings        []string
	Recommendations []string
}

// Summary rolls up a report's assessments into pass/fail counts.
type Summary struct {
	TotalControls      int
	CompliantControls  int
	PartialControls    int
	IndeterminateCount int
}

// Report is the output of a compliance run over one time period.
type Report struct {
	ID           uuid.UUID
	Framework    Framework
	Title        string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	GeneratedAt  time.Time
	GeneratedBy  string
	Assessments  []Assessment
	Summary      Summary
}

// Config tunes report generation.
type Config struct {
	// MinEvidenceCount is the event count at/above which a control is
	// considered fully Compliant rather than PartiallyCompliant.
	MinEvidenceCount int
	// MaxSamples caps how many evidence event IDs are attached per
	// control assessment.
	MaxSamples int
}

func DefaultConfig() Config {
	return Config{MinEvidenceCount: 10, MaxSamples: 5}
}

// Generator produces Reports by querying the audit event store.
type Generator struct {
	store   *audit.Store
	library *Library
	cfg     Config
}

func NewGenerator(store *audit.Store, library *Library, cfg Config) *Generator {
	return &Generator{store: store, library: library, cfg: cfg}
}

// Generate assesses every control registered under framework against the
// audit events recorded in [periodStart, periodEnd).
func (g *Generator) Generate(ctx context.Context, framework Framework, periodStart, periodEnd time.Time, generatedBy string) (Report, error) {
	controls := g.library.ByFramework(framework)
	assessments := make([]Assessment, 0, len(controls))
	for _, c := range controls {
		a, err := g.assess(ctx, c, periodStart, periodEnd)
		if err != nil {
			return Report{}, err
		}
		assessments = append(assessments, a)
	}

	return Report{
		ID:          uuid.New(),
		Framework:   framework,
		Title:       framework.DisplayName() + " Compliance Report",
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		GeneratedAt: time.Now().UTC(),
		GeneratedBy: generatedBy,
		Assessments: assessments,
		Summary:     summarize(assessments),
	}, nil
}

func (g *Generator) assess(ctx context.Context, c Control, start, end time.Time) (Assessment, error) {
	var matched []audit.Event
	for _, category := range c.Categories {
		events, err := g.store.Query(ctx, audit.QueryFilter{Category: category, Start: start, End: end})
		if err != nil {
			return Assessment{}, err
		}
		matched = append(matched, events...)
	}

	var evidenceIDs []uuid.UUID
	matchingActionCount := 0
	for _, e := range matched {
		if !actionMatches(c.Actions, e.Action) {
			continue
		}
		matchingActionCount++
		if len(evidenceIDs) < g.cfg.MaxSamples {
			evidenceIDs = append(evidenceIDs, e.ID)
		}
	}

	status := StatusIndeterminate
	var findings, recommendations []string
	switch {
	case matchingActionCount >= g.cfg.MinEvidenceCount:
		status = StatusCompliant
	case matchingActionCount > 0:
		status = StatusPartiallyCompliant
	}
	if matchingActionCount < g.cfg.MinEvidenceCount {
		findings = append(findings, "insufficient audit evidence for control "+c.ID)
		recommendations = append(recommendations, "increase audit logging for this control area")
	}

	return Assessment{
		Control:          c,
		Status:           status,
		EvidenceCount:    matchingActionCount,
		EvidenceEventIDs: evidenceIDs,
		Findings:         findings,
		Recommendations:  recommendations,
	}, nil
}

func actionMatches(wanted []string, action string) bool {
	if len(wanted) == 0 {
		return true
	}
	action = strings.ToLower(action)
	for _, w := range wanted {
		if strings.Contains(action, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

func summarize(assessments []Assessment) Summary {
	s := Summary{TotalControls: len(assessments)}
	for _, a := range assessments {
		switch a.Status {
		case StatusCompliant:
			s.CompliantControls++
		case StatusPartiallyCompliant:
			s.PartialControls++
		default:
			s.IndeterminateCount++
		}
	}
	return s
}
