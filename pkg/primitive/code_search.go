package primitive

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// CodeSearch walks a directory tree and returns regex matches with
// surrounding context lines, in the shape of a ripgrep result list.
type CodeSearch struct {
	Validator   *PathValidator
	MaxFileSize int64
	MaxMatches  int
}

func NewCodeSearch(validator *PathValidator) *CodeSearch {
	return &CodeSearch{Validator: validator, MaxFileSize: 4 << 20, MaxMatches: 500}
}

type CodeSearchInput struct {
	Dir           string `json:"dir"`
	Pattern       string `json:"pattern"`
	Glob          string `json:"glob,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	ContextLines  int    `json:"context_lines,omitempty"`
}

type CodeMatch struct {
	Path        string   `json:"path"`
	Line        int      `json:"line"`
	Column      int      `json:"column"`
	LineContent string   `json:"line_content"`
	Before      []string `json:"before,omitempty"`
	After       []string `json:"after,omitempty"`
}

type CodeSearchOutput struct {
	Matches   []CodeMatch `json:"matches"`
	Truncated bool        `json:"truncated"`
}

func (CodeSearch) Name() string        { return "code_search" }
func (CodeSearch) Description() string { return "Search files under a directory for a regex pattern, with surrounding context lines." }
func (CodeSearch) InputSchema() string {
	return `{"type":"object","properties":{"dir":{"type":"string"},"pattern":{"type":"string"},"glob":{"type":"string"},"case_sensitive":{"type":"boolean"},"context_lines":{"type":"integer"}},"required":["dir","pattern"]}`
}

func (p CodeSearch) Execute(ctx context.Context, ec *ExecContext, rawInput json.RawMessage) (any, error) {
	var in CodeSearchInput
	if err := json.Unmarshal(rawInput, &in); err != nil {
		return nil, terrors.Wrap(terrors.KindValidation, "invalid code_search input", err)
	}
	if in.Pattern == "" {
		return nil, terrors.New(terrors.KindValidation, "pattern must not be empty")
	}

	resolvedDir, verrs := p.Validator.ValidateAndResolve(in.Dir, ec.WorkingDir)
	if verrs.HasErrors() {
		return nil, terrors.New(terrors.KindPathNotAllowed, verrs.Error())
	}

	pattern := in.Pattern
	if !in.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, terrors.Wrap(terrors.KindValidation, "invalid pattern", err)
	}

	context := in.ContextLines
	maxFileSize := p.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = 4 << 20
	}
	maxMatches := p.MaxMatches
	if maxMatches <= 0 {
		maxMatches = 500
	}

	var out CodeSearchOutput
	walkErr := filepath.WalkDir(resolvedDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(out.Matches) >= maxMatches {
			out.Truncated = true
			return nil
		}
		if in.Glob != "" {
			ok, gerr := filepath.Match(in.Glob, d.Name())
			if gerr != nil || !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileSize {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		var lines []string
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if scanner.Err() != nil {
			return nil
		}
		if looksBinary([]byte(strings.Join(lines, "\n"))) {
			return nil
		}

		rel, relErr := filepath.Rel(resolvedDir, path)
		if relErr != nil {
			rel = path
		}

		for i, line := range lines {
			loc := re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			if len(out.Matches) >= maxMatches {
				out.Truncated = true
				break
			}
			m := CodeMatch{Path: rel, Line: i + 1, Column: loc[0] + 1, LineContent: line}
			if context > 0 {
				start := i - context
				if start < 0 {
					start = 0
				}
				m.Before = append([]string{}, lines[start:i]...)
				end := i + 1 + context
				if end > len(lines) {
					end = len(lines)
				}
				m.After = append([]string{}, lines[i+1:end]...)
			}
			out.Matches = append(out.Matches, m)
		}
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return nil, terrors.Wrap(terrors.KindIO, "walk directory", walkErr)
	}
	if ctx.Err() != nil {
		return nil, terrors.Wrap(terrors.KindTimeout, "code_search canceled", ctx.Err())
	}

	return out, nil
}
