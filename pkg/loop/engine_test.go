package loop_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachikoma-dev/tachikoma/pkg/loop"
	"github.com/tachikoma-dev/tachikoma/pkg/primitive"
	"github.com/tachikoma-dev/tachikoma/pkg/provider"
	"github.com/tachikoma-dev/tachikoma/pkg/tracker"
)

// scriptedProvider replays one canned stream response per call, in order.
type scriptedProvider struct {
	turns []streamTurn
	calls int
}

type streamTurn struct {
	chunks []provider.Chunk
	err    error
}

func (p *scriptedProvider) ModelName() string { return "scripted-model" }

func (p *scriptedProvider) Complete(context.Context, provider.Request) (provider.Response, error) {
	return provider.Response{}, fmt.Errorf("not used")
}

func (p *scriptedProvider) CompleteStream(_ context.Context, _ provider.Request) (<-chan provider.Chunk, error) {
	if p.calls >= len(p.turns) {
		return nil, fmt.Errorf("scriptedProvider: no more turns scripted")
	}
	turn := p.turns[p.calls]
	p.calls++
	if turn.err != nil {
		return nil, turn.err
	}
	ch := make(chan provider.Chunk, len(turn.chunks))
	for _, c := range turn.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

// echoPrimitive always succeeds, returning its raw input back.
type echoPrimitive struct{ fail bool }

func (echoPrimitive) Name() string        { return "echo" }
func (echoPrimitive) Description() string { return "echoes input" }
func (echoPrimitive) InputSchema() string { return `{"type":"object"}` }
func (p echoPrimitive) Execute(_ context.Context, _ *primitive.ExecContext, raw json.RawMessage) (any, error) {
	if p.fail {
		return nil, fmt.Errorf("echo: forced failure")
	}
	return map[string]string{"echoed": string(raw)}, nil
}

func newTestRegistry(fail bool) *primitive.Registry {
	reg := primitive.NewRegistry(nil, 0, nil)
	reg.Register(echoPrimitive{fail: fail})
	return reg
}

func textOnlyTurn(text string) streamTurn {
	return streamTurn{chunks: []provider.Chunk{&provider.TextChunk{Content: text}, &provider.UsageChunk{Usage: provider.Usage{InputTokens: 10, OutputTokens: 5}}}}
}

func toolCallTurn(id, name, args string) streamTurn {
	return streamTurn{chunks: []provider.Chunk{
		&provider.ToolCallChunk{Index: 0, ID: id, Name: name, ArgumentsDelta: args},
		&provider.UsageChunk{Usage: provider.Usage{InputTokens: 10, OutputTokens: 5}},
	}}
}

func TestEngineCompletesOnTextResponseWithNoCriteria(t *testing.T) {
	p := &scriptedProvider{turns: []streamTurn{textOnlyTurn("all done")}}
	mission := loop.NewMission(loop.DefaultConfig())
	engine := loop.NewEngine(mission, p, newTestRegistry(false), nil, "be helpful")

	task := &tracker.Task{ID: "T1", Name: "do the thing"}
	res, err := engine.Run(context.Background(), task)

	require.NoError(t, err)
	assert.Equal(t, loop.StopCompleted, res.StopReason)
	assert.Equal(t, "all done", res.FinalText)
	assert.Equal(t, loop.MissionComplete, mission.State())
}

func TestEngineExecutesToolCallThenCompletes(t *testing.T) {
	p := &scriptedProvider{turns: []streamTurn{
		toolCallTurn("call-1", "echo", `{"x":1}`),
		textOnlyTurn("wrapped up"),
	}}
	mission := loop.NewMission(loop.DefaultConfig())
	engine := loop.NewEngine(mission, p, newTestRegistry(false), nil, "system")

	res, err := engine.Run(context.Background(), &tracker.Task{ID: "T1", Name: "task"})
	require.NoError(t, err)
	assert.Equal(t, loop.StopCompleted, res.StopReason)
	assert.Equal(t, 2, res.IterationsUsed)

	var toolResults []loop.LoopEvent
drain:
	for {
		select {
		case evt := <-engine.Events():
			if evt.Type == loop.EventToolResult {
				toolResults = append(toolResults, evt)
			}
		default:
			break drain
		}
	}
	require.Len(t, toolResults, 1)
	assert.True(t, toolResults[0].ToolSuccess)
}

func TestEngineStopsAtMaxIterations(t *testing.T) {
	p := &scriptedProvider{turns: []streamTurn{
		toolCallTurn("c1", "echo", "{}"),
		toolCallTurn("c2", "echo", "{}"),
		toolCallTurn("c3", "echo", "{}"),
	}}
	cfg := loop.DefaultConfig()
	cfg.MaxIterations = 2
	cfg.IterationDelay = 0
	mission := loop.NewMission(cfg)
	engine := loop.NewEngine(mission, p, newTestRegistry(false), nil, "system")

	res, err := engine.Run(context.Background(), &tracker.Task{ID: "T1"})
	require.NoError(t, err)
	assert.Equal(t, loop.StopMaxIterations, res.StopReason)
	assert.Equal(t, 2, res.IterationsUsed)
}

func TestEngineFailsAfterThreeConsecutiveSameCallFailures(t *testing.T) {
	p := &scriptedProvider{turns: []streamTurn{
		toolCallTurn("dup", "echo", "{}"),
		toolCallTurn("dup", "echo", "{}"),
		toolCallTurn("dup", "echo", "{}"),
	}}
	cfg := loop.DefaultConfig()
	cfg.IterationDelay = 0
	mission := loop.NewMission(cfg)
	engine := loop.NewEngine(mission, p, newTestRegistry(true), nil, "system")

	_, err := engine.Run(context.Background(), &tracker.Task{ID: "T1"})
	require.Error(t, err)
	assert.Equal(t, loop.MissionError, mission.State())
}

func TestEngineRetriesTransientProviderFailure(t *testing.T) {
	p := &scriptedProvider{turns: []streamTurn{
		{err: provider.NewFailure(provider.FailureNetwork, "connection reset", nil)},
		textOnlyTurn("recovered"),
	}}
	cfg := loop.DefaultConfig()
	cfg.MaxBackoff = 10 * time.Millisecond
	mission := loop.NewMission(cfg)
	engine := loop.NewEngine(mission, p, newTestRegistry(false), nil, "system")

	res, err := engine.Run(context.Background(), &tracker.Task{ID: "T1"})
	require.NoError(t, err)
	assert.Equal(t, loop.StopCompleted, res.StopReason)
	assert.Equal(t, "recovered", res.FinalText)
}

func TestEngineStopsOnNoProgressStreak(t *testing.T) {
	p := &scriptedProvider{turns: []streamTurn{
		textOnlyTurn("still thinking"),
		textOnlyTurn("still thinking"),
		textOnlyTurn("still thinking"),
	}}
	cfg := loop.DefaultConfig()
	cfg.IterationDelay = 0
	cfg.StopOn = []loop.StopCondition{loop.StopOnNoProgress{N: 2}}
	mission := loop.NewMission(cfg)
	engine := loop.NewEngine(mission, p, newTestRegistry(false), nil, "system")

	task := &tracker.Task{ID: "T1", Criteria: []tracker.Criterion{{Text: "never done"}}}
	res, err := engine.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, loop.StopNoProgress, res.StopReason)
	assert.Equal(t, 2, res.IterationsUsed)
}

func TestMissionPauseAndResume(t *testing.T) {
	mission := loop.NewMission(loop.DefaultConfig())
	require.NoError(t, mission.Start())
	mission.RequestPause()
	assert.Equal(t, loop.MissionPaused, mission.State())
	mission.Resume()
	assert.Equal(t, loop.MissionRunning, mission.State())
}
