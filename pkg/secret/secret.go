// Package secret provides a generic Secret[T] wrapper that never leaks its
// value through formatting or marshaling, plus free-form PII/secret
// detection over plain strings.
package secret

import (
	"encoding/json"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Secret wraps a value so that every formatting path — String, and JSON
// serialization — renders the literal "[REDACTED]" instead of the value.
// The only way to read the inner value is Expose. Go has no destructor
// hook equivalent to Rust's ZeroizeOnDrop; callers that need the memory
// wiped explicitly call Wipe once the value is no longer needed (valid for
// T = string/[]byte; a no-op for other types).
type Secret[T any] struct {
	value T
}

// New wraps v.
func New[T any](v T) Secret[T] { return Secret[T]{value: v} }

// Expose is the one sanctioned access path to the inner value.
func (s Secret[T]) Expose() T { return s.value }

// String implements fmt.Stringer; always "[REDACTED]".
func (s Secret[T]) String() string { return redacted }

// GoString implements fmt.GoStringer so %#v also redacts.
func (s Secret[T]) GoString() string { return "secret.Secret(" + redacted + ")" }

// MarshalJSON always serializes the literal string "[REDACTED]" regardless
// of the wrapped type, matching the Rust Secret<T>'s Serialize impl.
func (s Secret[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// UnmarshalJSON deserializes normally — deserialization is not redacted,
// only serialization, matching the Rust Deserialize impl.
func (s *Secret[T]) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &s.value)
}

// WipeString zeroes the backing bytes of a string-typed secret in place.
// Go strings are normally immutable and interned, so this only has any
// effect on a string that was built specifically to be wiped (e.g. from a
// []byte the caller controls); it is best-effort, not a security boundary.
func WipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	apiKeyPattern = regexp.MustCompile(`(?:sk|pk|api|key|token|ghp|hf)[-_][a-zA-Z0-9]{20,}`)
)

// apiKeyPrefixes are substring markers checked case-insensitively, wider
// than apiKeyPattern's strict hyphen-delimited form — used by
// LooksLikeAPIKey for a cheaper single-string classification check.
var apiKeyPrefixes = []string{"sk-", "pk-", "api_", "key-", "token-", "bearer ", "ghp_", "hf_"}

// LooksLikeAPIKey reports whether s carries a known provider prefix, or is a
// long alphanumeric-with-dash/underscore token (>=32 chars) that is
// plausibly an opaque credential.
func LooksLikeAPIKey(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range apiKeyPrefixes {
		if strings.Contains(lower, p) {
			return true
		}
	}
	if len(s) < 32 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// LooksLikeEmail is a loose heuristic (contains '@' and '.'), matching the
// original's PiiDetector::looks_like_email — intentionally not a full
// validator, just a fast pre-filter.
func LooksLikeEmail(s string) bool {
	return strings.Contains(s, "@") && strings.Contains(s, ".")
}

// Redact replaces emails with "[EMAIL]" and API-key-shaped substrings with
// "[API_KEY]" inside free-form text, for writing into audit metadata or
// logs without leaking credentials incidentally captured in tool output.
func Redact(s string) string {
	s = emailPattern.ReplaceAllString(s, "[EMAIL]")
	s = apiKeyPattern.ReplaceAllString(s, "[API_KEY]")
	return s
}
