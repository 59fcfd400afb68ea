// Package masking redacts secrets and PII from primitive output and
// deliberation text before either reaches the audit log, a Forge
// participant, or a human reviewing a mission's progress narrative.
package masking

import (
	"log/slog"

	"github.com/tachikoma-dev/tachikoma/pkg/config"
)

// Service applies data masking to sandboxed primitive output and, when
// configured, Forge deliberation narrative. Created once at application
// startup (singleton). Thread-safe and stateless aside from compiled
// patterns.
type Service struct {
	cfg      config.MaskingConfig
	patterns []*CompiledPattern
	maskers  []Masker
}

// NewService creates a masking service with compiled patterns and
// registered structural maskers.
func NewService(cfg config.MaskingConfig) *Service {
	s := &Service{
		cfg:      cfg,
		patterns: builtinPatterns(),
		maskers:  []Masker{&StructuredSecretMasker{}},
	}

	slog.Info("masking service initialized",
		"enabled", cfg.Enabled,
		"mask_narrative", cfg.MaskNarrative,
		"patterns", len(s.patterns),
		"structural_maskers", len(s.maskers))

	return s
}

// MaskPrimitiveOutput redacts content returned by a sandboxed primitive
// (read_file, bash, code_search, an MCP tool call, ...) before it is handed
// back to the loop engine or persisted to the audit log. Fail-closed in
// intent: every masker here is defensive by contract (returns the original
// content rather than erroring), so there is no failure path that would
// leak content — a parse failure in the structural pass just means the
// regex sweep is the only thing applied.
func (s *Service) MaskPrimitiveOutput(content string) string {
	if !s.cfg.Enabled || content == "" {
		return content
	}
	return s.apply(content)
}

// MaskNarrative redacts content destined for a mission's progress
// narrative or a Forge round transcript. Fail-open and opt-in via
// MaskNarrative: deliberation text is meant to be read by other
// participants, so masking it by default would hide legitimate discussion
// of configuration values; operators handling sensitive workloads turn it
// on explicitly.
func (s *Service) MaskNarrative(content string) string {
	if !s.cfg.Enabled || !s.cfg.MaskNarrative || content == "" {
		return content
	}
	return s.apply(content)
}

// apply runs structural maskers (key-name aware) then the regex sweep.
func (s *Service) apply(content string) string {
	masked := content
	for _, m := range s.maskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
