package primitive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecContext(dir string) *ExecContext {
	return &ExecContext{OperationID: "op-1", PrimitiveName: "test", WorkingDir: dir}
}

func TestBashCapturesOutputAndExitCode(t *testing.T) {
	b := NewBash(NewCommandValidator())
	in, _ := json.Marshal(BashInput{Command: "echo hello && exit 0"})
	res, err := b.Execute(context.Background(), newTestExecContext(t.TempDir()), in)
	require.NoError(t, err)
	out := res.(BashOutput)
	assert.Contains(t, out.Stdout, "hello")
	assert.Equal(t, 0, out.ExitCode)
	assert.False(t, out.TimedOut)
}

func TestBashBlocksDangerousCommand(t *testing.T) {
	b := NewBash(NewCommandValidator())
	in, _ := json.Marshal(BashInput{Command: "rm -rf /"})
	_, err := b.Execute(context.Background(), newTestExecContext(t.TempDir()), in)
	require.Error(t, err)
}

func TestBashTimesOut(t *testing.T) {
	b := NewBash(NewCommandValidator())
	in, _ := json.Marshal(BashInput{Command: "sleep 5", TimeoutMs: 50})
	res, err := b.Execute(context.Background(), newTestExecContext(t.TempDir()), in)
	require.NoError(t, err)
	out := res.(BashOutput)
	assert.True(t, out.TimedOut)
}

func TestBashTruncatesOversizedOutput(t *testing.T) {
	b := NewBash(NewCommandValidator())
	b.StdoutCapBytes = 16
	in, _ := json.Marshal(BashInput{Command: "printf '0123456789abcdefghij'"})
	res, err := b.Execute(context.Background(), newTestExecContext(t.TempDir()), in)
	require.NoError(t, err)
	out := res.(BashOutput)
	assert.True(t, out.StdoutTruncated)
	assert.Equal(t, 20, out.StdoutTotalBytes)
	assert.Len(t, out.Stdout, 16)
}

func TestEditFileReplacesSingleMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world\n"), 0o644))

	e := EditFile{Validator: NewPathValidator()}
	in, _ := json.Marshal(EditFileInput{Path: path, OldString: "world", NewString: "there"})
	res, err := e.Execute(context.Background(), newTestExecContext(dir), in)
	require.NoError(t, err)
	out := res.(EditFileOutput)
	assert.True(t, out.Applied)
	assert.Equal(t, 1, out.ReplacementCount)
	assert.Contains(t, out.Diff, "-hello world")
	assert.Contains(t, out.Diff, "+hello there")

	updated, _ := os.ReadFile(path)
	assert.Equal(t, "hello there\n", string(updated))
}

func TestEditFileRejectsAmbiguousMatchWithoutReplaceAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo foo foo\n"), 0o644))

	e := EditFile{Validator: NewPathValidator()}
	in, _ := json.Marshal(EditFileInput{Path: path, OldString: "foo", NewString: "bar"})
	_, err := e.Execute(context.Background(), newTestExecContext(dir), in)
	require.Error(t, err)
}

func TestEditFileReplaceAllAndDryRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo foo\n"), 0o644))

	e := EditFile{Validator: NewPathValidator()}
	in, _ := json.Marshal(EditFileInput{Path: path, OldString: "foo", NewString: "bar", ReplaceAll: true, DryRun: true})
	res, err := e.Execute(context.Background(), newTestExecContext(dir), in)
	require.NoError(t, err)
	out := res.(EditFileOutput)
	assert.False(t, out.Applied)
	assert.Equal(t, 2, out.ReplacementCount)

	unchanged, _ := os.ReadFile(path)
	assert.Equal(t, "foo foo\n", string(unchanged))
}

func TestCodeSearchFindsMatchesWithContext(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n\nfunc foo() {}\n\nfunc bar() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("no match here\n"), 0o644))

	cs := NewCodeSearch(NewPathValidator())
	in, _ := json.Marshal(CodeSearchInput{Dir: dir, Pattern: `func foo`, ContextLines: 1})
	res, err := cs.Execute(context.Background(), newTestExecContext(dir), in)
	require.NoError(t, err)
	out := res.(CodeSearchOutput)
	require.Len(t, out.Matches, 1)
	m := out.Matches[0]
	assert.Equal(t, "a.go", m.Path)
	assert.Equal(t, 3, m.Line)
	assert.Equal(t, []string{""}, m.Before)
	assert.Equal(t, []string{""}, m.After)
}

func TestCodeSearchRespectsGlobFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("target\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("target\n"), 0o644))

	cs := NewCodeSearch(NewPathValidator())
	in, _ := json.Marshal(CodeSearchInput{Dir: dir, Pattern: "target", Glob: "*.go"})
	res, err := cs.Execute(context.Background(), newTestExecContext(dir), in)
	require.NoError(t, err)
	out := res.(CodeSearchOutput)
	require.Len(t, out.Matches, 1)
	assert.Equal(t, "a.go", out.Matches[0].Path)
}
