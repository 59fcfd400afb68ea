package primitive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tachikoma-dev/tachikoma/pkg/terrors"
)

// ReadFile implements the read_file primitive.
type ReadFile struct {
	Validator *PathValidator
}

type ReadFileInput struct {
	Path      string `json:"path"`
	ByteLimit int    `json:"byte_limit,omitempty"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`
}

type ReadFileOutput struct {
	Content   string `json:"content"`
	Size      int    `json:"size"`
	Truncated bool   `json:"truncated"`
}

func (ReadFile) Name() string        { return "read_file" }
func (ReadFile) Description() string { return "Read the contents of a file, optionally capped by byte limit or line range." }
func (ReadFile) InputSchema() string {
	return `{"type":"object","properties":{"path":{"type":"string"},"byte_limit":{"type":"integer"},"line_start":{"type":"integer"},"line_end":{"type":"integer"}},"required":["path"]}`
}

// nonPrintableRatioThreshold flags a file as binary when more than this
// fraction of sampled bytes are non-printable control characters.
const nonPrintableRatioThreshold = 0.3

func looksBinary(data []byte) bool {
	sample := data
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	if len(sample) == 0 {
		return false
	}
	nonPrintable := 0
	for _, b := range sample {
		if b == 0 {
			return true
		}
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(sample)) > nonPrintableRatioThreshold
}

func (p ReadFile) Execute(ctx context.Context, ec *ExecContext, rawInput json.RawMessage) (any, error) {
	var in ReadFileInput
	if err := json.Unmarshal(rawInput, &in); err != nil {
		return nil, terrors.Wrap(terrors.KindValidation, "invalid read_file input", err)
	}

	resolved, verrs := p.Validator.ValidateAndResolve(in.Path, ec.WorkingDir)
	if verrs.HasErrors() {
		return nil, terrors.New(terrors.KindPathNotAllowed, verrs.Error())
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, terrors.New(terrors.KindNotFound, "file not found: "+in.Path)
		}
		if os.IsPermission(err) {
			return nil, terrors.New(terrors.KindIO, "permission denied: "+in.Path)
		}
		return nil, terrors.Wrap(terrors.KindIO, "stat file", err)
	}
	if info.IsDir() {
		return nil, terrors.New(terrors.KindValidation, in.Path+" is not a file")
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, terrors.Wrap(terrors.KindIO, "read file", err)
	}

	if looksBinary(data) {
		return nil, terrors.New(terrors.KindValidation, "file appears to be binary")
	}

	content := string(data)
	truncated := false

	if in.LineStart > 0 || in.LineEnd > 0 {
		lines := strings.Split(content, "\n")
		start := in.LineStart
		if start <= 0 {
			start = 1
		}
		end := in.LineEnd
		if end <= 0 || end > len(lines) {
			end = len(lines)
		}
		if start > end || start > len(lines) {
			return nil, terrors.New(terrors.KindValidation, fmt.Sprintf("invalid line range [%d,%d] for %d lines", in.LineStart, in.LineEnd, len(lines)))
		}
		content = strings.Join(lines[start-1:end], "\n")
	}

	if in.ByteLimit > 0 && len(content) > in.ByteLimit {
		content = content[:in.ByteLimit]
		truncated = true
	}

	return ReadFileOutput{Content: content, Size: len(data), Truncated: truncated}, nil
}
