package config

import "time"

// ProviderConfig selects and configures the LLM backend the loop engine
// drives.
type ProviderConfig struct {
	Kind      string `yaml:"kind" validate:"required,oneof=anthropic openai ollama"`
	Model     string `yaml:"model" validate:"required"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

// LoopConfig mirrors the recognized keys of loop.Config, expressed in YAML
// with duration strings instead of time.Duration.
type LoopConfig struct {
	MaxIterations      int      `yaml:"max_iterations" validate:"min=1"`
	RedlineThreshold   float64  `yaml:"redline_threshold" validate:"min=0,max=1"`
	IterationDelay     string   `yaml:"iteration_delay,omitempty"`
	MaxBackoff         string   `yaml:"max_backoff,omitempty"`
	ContextWindowSize  int      `yaml:"context_window_size,omitempty"`
	StopOnNoProgress   int      `yaml:"stop_on_no_progress,omitempty"`
	StopOnTestFailures int      `yaml:"stop_on_test_fail_streak,omitempty"`
	StopOnErrorRatePct float64  `yaml:"stop_on_error_rate_pct,omitempty"`
	AutoCommit         bool     `yaml:"auto_commit,omitempty"`
}

// TrackerConfig selects the task source the loop engine pulls work from.
type TrackerConfig struct {
	Kind string `yaml:"kind" validate:"required,oneof=markdown ticket"`
	Path string `yaml:"path,omitempty"`
}

// PrimitivesConfig bounds what the sandboxed primitive layer is allowed to
// touch and how fast it may be driven.
type PrimitivesConfig struct {
	WorkingDir          string   `yaml:"working_dir" validate:"required"`
	AllowedPathPrefixes []string `yaml:"allowed_path_prefixes,omitempty"`
	BlockedCommands     []string `yaml:"blocked_commands,omitempty"`
	RateLimitPerSecond  float64  `yaml:"rate_limit_per_second,omitempty"`
	RateLimitBurst      float64  `yaml:"rate_limit_burst,omitempty"`
	MaxOutputBytes      int      `yaml:"max_output_bytes,omitempty"`
}

// TransportType selects how an MCP client reaches a server process.
type TransportType string

const (
	TransportTypeStdio TransportType = "stdio"
	TransportTypeHTTP  TransportType = "http"
	TransportTypeSSE   TransportType = "sse"
)

// TransportConfig configures the connection to one MCP server.
type TransportConfig struct {
	Type        TransportType     `yaml:"type" validate:"required,oneof=stdio http sse"`
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	URL         string            `yaml:"url,omitempty"`
	BearerToken string            `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool             `yaml:"verify_ssl,omitempty"`
	Timeout     int               `yaml:"timeout_seconds,omitempty"`
}

// MCPServerConfig describes one Model Context Protocol server the
// primitive registry's optional tool catalog is backed by.
type MCPServerConfig struct {
	Transport TransportConfig `yaml:"transport" validate:"required"`
}

// AuditConfig points the audit event store and archiver at their storage.
type AuditConfig struct {
	DatabaseURLEnv string `yaml:"database_url_env,omitempty"`
	ArchiveDir     string `yaml:"archive_dir,omitempty"`
	ArchiveCodec   string `yaml:"archive_codec,omitempty" validate:"omitempty,oneof=gzip zstd lz4"`
}

// ComplianceConfig tunes the compliance report generator's thresholds.
type ComplianceConfig struct {
	MinEvidenceCount int `yaml:"min_evidence_count,omitempty"`
	MaxSamples       int `yaml:"max_samples,omitempty"`
}

// MaskingConfig tunes secret/PII redaction applied to primitive output and,
// optionally, deliberation narrative text before either is persisted to the
// audit log or shown to other Forge participants.
type MaskingConfig struct {
	Enabled       bool `yaml:"enabled,omitempty"`
	MaskNarrative bool `yaml:"mask_narrative,omitempty"`
}

// ForgeConfig tunes the multi-participant deliberation engine.
type ForgeConfig struct {
	MaxRounds            int     `yaml:"max_rounds,omitempty"`
	ConvergenceThreshold float64 `yaml:"convergence_threshold,omitempty"`
}

// HTTPConfig configures the mission-control HTTP surface.
type HTTPConfig struct {
	Port    string `yaml:"port,omitempty"`
	GinMode string `yaml:"gin_mode,omitempty"`
}

// RetentionConfig tunes the background cleanup loop that prunes session
// records once a Mission run has been terminal long enough that nothing
// will query it through the live API anymore.
type RetentionConfig struct {
	SessionRetention string `yaml:"session_retention,omitempty"`
	CleanupInterval  string `yaml:"cleanup_interval,omitempty"`
}

// SessionRetentionDuration parses RetentionConfig.SessionRetention,
// defaulting to 72h.
func (c RetentionConfig) SessionRetentionDuration() time.Duration {
	return parseDurationOr(c.SessionRetention, 72*time.Hour)
}

// CleanupIntervalDuration parses RetentionConfig.CleanupInterval,
// defaulting to 1h.
func (c RetentionConfig) CleanupIntervalDuration() time.Duration {
	return parseDurationOr(c.CleanupInterval, time.Hour)
}

// Config is the fully resolved, validated configuration for one tachikoma
// process.
type Config struct {
	Provider    ProviderConfig             `yaml:"provider" validate:"required"`
	Loop        LoopConfig                 `yaml:"loop"`
	Tracker     TrackerConfig              `yaml:"tracker" validate:"required"`
	Primitives  PrimitivesConfig           `yaml:"primitives" validate:"required"`
	MCPServers  map[string]MCPServerConfig `yaml:"mcp_servers,omitempty"`
	Audit       AuditConfig                `yaml:"audit,omitempty"`
	Masking     MaskingConfig              `yaml:"masking,omitempty"`
	Compliance  ComplianceConfig           `yaml:"compliance,omitempty"`
	Forge       ForgeConfig                `yaml:"forge,omitempty"`
	HTTP        HTTPConfig                 `yaml:"http,omitempty"`
	Retention   RetentionConfig            `yaml:"retention,omitempty"`
}

// IterationDelay parses LoopConfig.IterationDelay, defaulting to 1s on an
// empty or unparsable value.
func (c LoopConfig) IterationDelayDuration() time.Duration {
	return parseDurationOr(c.IterationDelay, time.Second)
}

// MaxBackoffDuration parses LoopConfig.MaxBackoff, defaulting to 30s.
func (c LoopConfig) MaxBackoffDuration() time.Duration {
	return parseDurationOr(c.MaxBackoff, 30*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
