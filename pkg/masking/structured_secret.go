package masking

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedValue replaces the value of any sensitive-looking key found in a
// structured document.
const MaskedValue = "[MASKED_SECRET_VALUE]"

// sensitiveKeyPattern matches map keys that plausibly hold a credential,
// regardless of the document's shape (Kubernetes Secret, CI config,
// .env-style JSON/YAML dump, etc — a sandboxed primitive can read any of
// these off disk).
var sensitiveKeyPattern = regexp.MustCompile(`(?i)^(password|passwd|pwd|secret|token|api[_-]?key|private[_-]?key|access[_-]?key|credential|auth|client[_-]?secret)s?$`)

// StructuredSecretMasker parses a YAML or JSON document and masks the value
// of any field whose key name looks like a credential, leaving the rest of
// the structure intact. This generalizes masking that needed resource-kind
// awareness (e.g. only a Kubernetes Secret's data/stringData, never a
// ConfigMap's) into a key-name heuristic that works over any structured
// primitive output.
type StructuredSecretMasker struct{}

// Name returns the unique identifier for this masker.
func (m *StructuredSecretMasker) Name() string { return "structured_secret" }

// AppliesTo performs a lightweight check for JSON/YAML-shaped input before
// attempting a full parse.
func (m *StructuredSecretMasker) AppliesTo(data string) bool {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return false
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return true
	}
	return strings.Contains(data, ":") && strings.Contains(data, "\n")
}

// Mask applies structural masking. Detects JSON vs YAML and applies the
// matching parser; returns the original data on parse/processing errors
// (defensive — the caller's regex sweep still runs afterward).
func (m *StructuredSecretMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)

	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked := m.maskJSON(data); masked != data {
			return masked
		}
	}

	if masked := m.maskYAML(data); masked != data {
		return masked
	}

	return data
}

// maskYAML parses multi-document YAML (documents separated by "---") and
// masks sensitive keys in each.
func (m *StructuredSecretMasker) maskYAML(data string) string {
	dec := yaml.NewDecoder(strings.NewReader(data))
	var docs []any
	for {
		var doc any
		if err := dec.Decode(&doc); err != nil {
			if err == io.EOF {
				break
			}
			return data
		}
		docs = append(docs, maskValue(doc))
	}
	if len(docs) == 0 {
		return data
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return data
		}
	}
	enc.Close()
	return buf.String()
}

// maskJSON parses a single JSON document and masks sensitive keys.
func (m *StructuredSecretMasker) maskJSON(data string) string {
	var doc any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return data
	}
	masked := maskValue(doc)
	out, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return data
	}
	return string(out)
}

// maskValue recurses through a decoded document, replacing the value of any
// sensitive-looking key.
func maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if sensitiveKeyPattern.MatchString(k) {
				out[k] = MaskedValue
				continue
			}
			out[k] = maskValue(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			if sensitiveKeyPattern.MatchString(ks) {
				out[ks] = MaskedValue
				continue
			}
			out[ks] = maskValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = maskValue(item)
		}
		return out
	default:
		return v
	}
}
