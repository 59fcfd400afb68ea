// Package primitive implements the sandboxed primitive registry and
// executor: path/command validators, rate limiting, the streaming
// tool-call accumulator, and the concrete primitives (read_file,
// list_files, bash, edit_file, code_search).
package primitive

import (
	"fmt"
	"path"
	"strings"

	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// ValidationErrors collects every rule a path/command violated, rather
// than stopping at the first, so callers can report all problems at once.
type ValidationErrors struct {
	Errors []*terrors.Error
}

func (v *ValidationErrors) add(e *terrors.Error) { v.Errors = append(v.Errors, e) }
func (v *ValidationErrors) HasErrors() bool       { return len(v.Errors) > 0 }
func (v *ValidationErrors) Error() string {
	msgs := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// PathValidator enforces path policy without ever touching the filesystem:
// every check is purely syntactic.
type PathValidator struct {
	Allowed        []string
	Denied         []string
	AllowAbsolute  bool
	AllowTraversal bool
	MaxLength      int
}

// NewPathValidator returns a validator seeded with safe defaults: a
// denylist of sensitive system paths, absolute paths allowed, traversal
// forbidden, 4096-byte cap.
func NewPathValidator() *PathValidator {
	return &PathValidator{
		Denied:        []string{"/etc/shadow", "/etc/passwd", "/root"},
		AllowAbsolute: true,
		MaxLength:     4096,
	}
}

func (v *PathValidator) Allow(p string) *PathValidator       { v.Allowed = append(v.Allowed, p); return v }
func (v *PathValidator) Deny(p string) *PathValidator        { v.Denied = append(v.Denied, p); return v }
func (v *PathValidator) NoAbsolute() *PathValidator          { v.AllowAbsolute = false; return v }
func (v *PathValidator) PermitTraversal() *PathValidator     { v.AllowTraversal = true; return v }

// NormalizePath collapses "." and resolves ".." against accumulated
// components, purely syntactically (no filesystem queries, no symlink
// resolution).
func NormalizePath(p string) string {
	parts := strings.Split(p, "/")
	var out []string
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	result := strings.Join(out, "/")
	if strings.HasPrefix(p, "/") {
		result = "/" + result
	}
	return result
}

func hasParentDirComponent(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// Validate checks p against every configured rule, returning all
// violations (possibly empty).
func (v *PathValidator) Validate(p string) *ValidationErrors {
	errs := &ValidationErrors{}

	if v.MaxLength > 0 && len(p) > v.MaxLength {
		errs.add(terrors.New(terrors.KindPathNotAllowed, fmt.Sprintf("path exceeds maximum length of %d", v.MaxLength)))
	}

	if !v.AllowAbsolute && path.IsAbs(p) {
		errs.add(terrors.New(terrors.KindPathNotAllowed, "absolute paths are not permitted").
			WithSuggestion("use a relative path instead"))
	}

	if !v.AllowTraversal && hasParentDirComponent(p) {
		errs.add(terrors.New(terrors.KindPathNotAllowed, "path contains a parent-directory (..) component").
			WithSuggestion("remove '..' components from the path"))
	}

	normalized := NormalizePath(p)
	for _, denied := range v.Denied {
		if strings.HasPrefix(normalized, denied) {
			errs.add(terrors.New(terrors.KindPathNotAllowed, fmt.Sprintf("path is under a denied prefix: %s", denied)))
		}
	}

	if len(v.Allowed) > 0 {
		allowed := false
		for _, a := range v.Allowed {
			if strings.HasPrefix(normalized, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			errs.add(terrors.New(terrors.KindPathNotAllowed, "path is outside the configured allowlist").
				WithSuggestion(fmt.Sprintf("allowed prefixes: %s", strings.Join(v.Allowed, ", "))))
		}
	}

	return errs
}

// ValidateAndResolve validates p, resolves it against base when relative,
// then re-validates the resolved form.
func (v *PathValidator) ValidateAndResolve(p, base string) (string, *ValidationErrors) {
	if errs := v.Validate(p); errs.HasErrors() {
		return "", errs
	}
	resolved := p
	if !path.IsAbs(p) {
		resolved = path.Join(base, p)
	}
	if errs := v.Validate(resolved); errs.HasErrors() {
		return "", errs
	}
	return resolved, &ValidationErrors{}
}

// HasPathTraversal reports whether p contains any ".." component.
func HasPathTraversal(p string) bool { return hasParentDirComponent(p) }

// SanitizeFilename extracts the final path component, defaulting to "" if
// p has none (e.g. p == "/" or "").
func SanitizeFilename(p string) string {
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// CommandValidator rejects empty commands, explicit blocked substrings,
// and a hard-coded dangerous-pattern set.
type CommandValidator struct {
	Blocked []string
}

var dangerousPatterns = []string{
	"rm -rf /",
	"dd if=/dev/",
	"nc -e /bin/",
	"| base64",
	"base64 | sh",
	"base64 | bash",
}

func NewCommandValidator(blocked ...string) *CommandValidator {
	return &CommandValidator{Blocked: blocked}
}

func (v *CommandValidator) Validate(command string) *ValidationErrors {
	errs := &ValidationErrors{}
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		errs.add(terrors.New(terrors.KindCommandBlocked, "command must not be empty"))
		return errs
	}
	for _, b := range v.Blocked {
		if b != "" && strings.Contains(command, b) {
			errs.add(terrors.New(terrors.KindCommandBlocked, fmt.Sprintf("command contains blocked substring: %q", b)))
		}
	}
	for _, p := range dangerousPatterns {
		if strings.Contains(command, p) {
			errs.add(terrors.New(terrors.KindCommandBlocked, fmt.Sprintf("command matches a known-dangerous pattern: %q", p)))
		}
	}
	return errs
}

// ShellQuote single-quotes s for safe shell interpolation, escaping
// embedded single quotes as '\''.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
