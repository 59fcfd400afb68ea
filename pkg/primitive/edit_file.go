package primitive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// EditFile implements textual search-and-replace with a unified-diff
// preview of the change.
type EditFile struct {
	Validator *PathValidator
}

type EditFileInput struct {
	Path        string `json:"path"`
	OldString   string `json:"old_string"`
	NewString   string `json:"new_string"`
	ReplaceAll  bool   `json:"replace_all,omitempty"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

type EditFileOutput struct {
	Diff           string `json:"diff"`
	ReplacementCount int  `json:"replacement_count"`
	Applied        bool   `json:"applied"`
}

func (EditFile) Name() string        { return "edit_file" }
func (EditFile) Description() string {
	return "Replace an exact string occurrence in a file and return a unified diff of the change."
}
func (EditFile) InputSchema() string {
	return `{"type":"object","properties":{"path":{"type":"string"},"old_string":{"type":"string"},"new_string":{"type":"string"},"replace_all":{"type":"boolean"},"dry_run":{"type":"boolean"}},"required":["path","old_string","new_string"]}`
}

func (p EditFile) Execute(ctx context.Context, ec *ExecContext, rawInput json.RawMessage) (any, error) {
	var in EditFileInput
	if err := json.Unmarshal(rawInput, &in); err != nil {
		return nil, terrors.Wrap(terrors.KindValidation, "invalid edit_file input", err)
	}
	if in.OldString == "" {
		return nil, terrors.New(terrors.KindValidation, "old_string must not be empty")
	}
	if in.OldString == in.NewString {
		return nil, terrors.New(terrors.KindValidation, "old_string and new_string are identical")
	}

	resolved, verrs := p.Validator.ValidateAndResolve(in.Path, ec.WorkingDir)
	if verrs.HasErrors() {
		return nil, terrors.New(terrors.KindPathNotAllowed, verrs.Error())
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, terrors.New(terrors.KindNotFound, "file not found: "+in.Path)
		}
		return nil, terrors.Wrap(terrors.KindIO, "read file", err)
	}
	original := string(data)

	count := strings.Count(original, in.OldString)
	if count == 0 {
		return nil, terrors.New(terrors.KindNotFound, "old_string not found in "+in.Path)
	}
	if count > 1 && !in.ReplaceAll {
		return nil, terrors.New(terrors.KindValidation, fmt.Sprintf("old_string matches %d times; pass replace_all or narrow the match", count))
	}

	var updated string
	if in.ReplaceAll {
		updated = strings.ReplaceAll(original, in.OldString, in.NewString)
	} else {
		updated = strings.Replace(original, in.OldString, in.NewString, 1)
	}

	diff := unifiedDiff(in.Path, original, updated)

	out := EditFileOutput{Diff: diff, ReplacementCount: count}
	if !in.DryRun {
		if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
			return nil, terrors.Wrap(terrors.KindIO, "write file", err)
		}
		out.Applied = true
	}
	return out, nil
}

// unifiedDiff produces a minimal line-based unified diff between two whole
// file contents. It does not attempt to minimize the hunk (no LCS), since
// callers only need a human-readable preview, not a minimal patch.
func unifiedDiff(path, before, after string) string {
	beforeLines := strings.Split(before, "\n")
	afterLines := strings.Split(after, "\n")

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n", path)
	fmt.Fprintf(&b, "+++ b/%s\n", path)
	fmt.Fprintf(&b, "@@ -1,%d +1,%d @@\n", len(beforeLines), len(afterLines))
	for _, line := range beforeLines {
		fmt.Fprintf(&b, "-%s\n", line)
	}
	for _, line := range afterLines {
		fmt.Fprintf(&b, "+%s\n", line)
	}
	return b.String()
}
