package config

// Default returns a minimally viable configuration: an Anthropic provider,
// a markdown tracker reading ./TASKS.md, and a sandbox rooted at the
// current working directory. Loader.Load merges a user-supplied YAML file
// over this with mergo, so any field the file omits falls back here.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Kind:      "anthropic",
			Model:     "claude-sonnet-4-5",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 8192,
		},
		Loop: LoopConfig{
			MaxIterations:      100,
			RedlineThreshold:   0.75,
			IterationDelay:     "1s",
			MaxBackoff:         "30s",
			ContextWindowSize:  200_000,
			StopOnNoProgress:   5,
			StopOnTestFailures: 3,
		},
		Tracker: TrackerConfig{
			Kind: "markdown",
			Path: "./TASKS.md",
		},
		Primitives: PrimitivesConfig{
			WorkingDir:         ".",
			RateLimitPerSecond: 5,
			RateLimitBurst:     10,
			MaxOutputBytes:     64 * 1024,
		},
		Audit: AuditConfig{
			DatabaseURLEnv: "TACHIKOMA_DATABASE_URL",
			ArchiveDir:     "./audit-archive",
			ArchiveCodec:   "zstd",
		},
		Masking: MaskingConfig{
			Enabled:       true,
			MaskNarrative: false,
		},
		Compliance: ComplianceConfig{
			MinEvidenceCount: 10,
			MaxSamples:       5,
		},
		Forge: ForgeConfig{
			MaxRounds:            6,
			ConvergenceThreshold: 0.8,
		},
		HTTP: HTTPConfig{
			Port:    "8080",
			GinMode: "release",
		},
		Retention: RetentionConfig{
			SessionRetention: "72h",
			CleanupInterval:  "1h",
		},
	}
}
