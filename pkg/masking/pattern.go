package masking

import "regexp"

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns returns the fixed set of regex-based redactions applied to
// every piece of primitive output and, when configured, deliberation
// narrative text. A sandboxed primitive can read arbitrary files, so unlike
// the per-MCP-server pattern groups this is generalized from, there is no
// per-server override — the same broad sweep applies everywhere.
func builtinPatterns() []*CompiledPattern {
	raw := []struct {
		name, pattern, replacement, description string
	}{
		{"api_key", `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`, `"api_key": "[MASKED_API_KEY]"`, "API keys"},
		{"password", `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`, `"password": "[MASKED_PASSWORD]"`, "Passwords"},
		{"certificate", `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`, `[MASKED_CERTIFICATE]`, "PEM certificates and key blocks"},
		{"token", `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`, `"token": "[MASKED_TOKEN]"`, "Access tokens"},
		{"email", `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`, `[MASKED_EMAIL]`, "Email addresses"},
		{"ssh_key", `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`, `[MASKED_SSH_KEY]`, "SSH public keys"},
		{"private_key", `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`, `"private_key": "[MASKED_PRIVATE_KEY]"`, "Private keys"},
		{"secret_key", `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`, `"secret_key": "[MASKED_SECRET_KEY]"`, "Secret keys"},
		{"aws_access_key", `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`, `"aws_access_key_id": "[MASKED_AWS_KEY]"`, "AWS access keys"},
		{"aws_secret_key", `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`, `"aws_secret_access_key": "[MASKED_AWS_SECRET]"`, "AWS secret keys"},
		{"github_token", `(?i)(?:github[_-]?token|gh[ps]_[A-Za-z0-9_]{36,255})`, `[MASKED_GITHUB_TOKEN]`, "GitHub tokens"},
		{"slack_token", `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`, `[MASKED_SLACK_TOKEN]`, "Slack tokens"},
	}

	patterns := make([]*CompiledPattern, 0, len(raw))
	for _, r := range raw {
		patterns = append(patterns, &CompiledPattern{
			Name:        r.name,
			Regex:       regexp.MustCompile(r.pattern),
			Replacement: r.replacement,
			Description: r.description,
		})
	}
	return patterns
}
