package primitive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// ListFiles implements the list_files primitive.
type ListFiles struct {
	Validator *PathValidator
}

type ListFilesInput struct {
	Dir   string `json:"dir"`
	Glob  string `json:"glob,omitempty"`
	Page  int    `json:"page,omitempty"`
	PerPage int  `json:"per_page,omitempty"`
}

type ListFilesOutput struct {
	Entries   []string `json:"entries"`
	Total     int      `json:"total"`
	Truncated bool     `json:"truncated"`
}

func (ListFiles) Name() string        { return "list_files" }
func (ListFiles) Description() string { return "List files in a directory, optionally filtered by glob, paged." }
func (ListFiles) InputSchema() string {
	return `{"type":"object","properties":{"dir":{"type":"string"},"glob":{"type":"string"},"page":{"type":"integer"},"per_page":{"type":"integer"}},"required":["dir"]}`
}

const defaultListPageSize = 200

func (p ListFiles) Execute(ctx context.Context, ec *ExecContext, rawInput json.RawMessage) (any, error) {
	var in ListFilesInput
	if err := json.Unmarshal(rawInput, &in); err != nil {
		return nil, terrors.Wrap(terrors.KindValidation, "invalid list_files input", err)
	}

	resolved, verrs := p.Validator.ValidateAndResolve(in.Dir, ec.WorkingDir)
	if verrs.HasErrors() {
		return nil, terrors.New(terrors.KindPathNotAllowed, verrs.Error())
	}

	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, terrors.New(terrors.KindNotFound, "directory not found: "+in.Dir)
		}
		return nil, terrors.Wrap(terrors.KindIO, "list directory", err)
	}

	var matched []string
	for _, de := range dirEntries {
		if in.Glob != "" {
			ok, err := filepath.Match(in.Glob, de.Name())
			if err != nil {
				return nil, terrors.Wrap(terrors.KindValidation, "invalid glob pattern", err)
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, de.Name())
	}

	total := len(matched)
	perPage := in.PerPage
	if perPage <= 0 {
		perPage = defaultListPageSize
	}
	page := in.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return ListFilesOutput{Entries: matched[start:end], Total: total, Truncated: end < total}, nil
}
