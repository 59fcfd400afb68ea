package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tachikoma-dev/tachikoma/pkg/primitive"
	"github.com/tachikoma-dev/tachikoma/pkg/provider"
	"github.com/tachikoma-dev/tachikoma/pkg/tracker"
)

// Engine drives one mission's iterations: compose conversation, stream a
// completion, execute any requested tool calls through the primitive
// registry, and repeat until a stop condition fires.
type Engine struct {
	Mission      *Mission
	Provider     provider.Provider
	Registry     *primitive.Registry
	Tracker      tracker.Tracker
	SystemPrompt string

	events chan LoopEvent
}

// NewEngine wires a mission to the backends it needs to run. The returned
// Events channel is buffered and must be drained by the caller; the engine
// never blocks on a full events channel for more than the buffer allows —
// a slow consumer risks dropped events, never a stalled loop.
func NewEngine(mission *Mission, p provider.Provider, registry *primitive.Registry, trk tracker.Tracker, systemPrompt string) *Engine {
	return &Engine{
		Mission:      mission,
		Provider:     p,
		Registry:     registry,
		Tracker:      trk,
		SystemPrompt: systemPrompt,
		events:       make(chan LoopEvent, 256),
	}
}

// Events returns the read side of the loop event broadcast channel.
func (e *Engine) Events() <-chan LoopEvent { return e.events }

func (e *Engine) emit(evt LoopEvent) {
	evt.MissionID = e.Mission.ID
	evt.Timestamp = time.Now().UTC()
	select {
	case e.events <- evt:
	default:
		// Buffer full: drop rather than block the loop on a slow consumer.
	}
}

// Run executes the loop against one task until a stop condition fires.
func (e *Engine) Run(ctx context.Context, task *tracker.Task) (Result, error) {
	if err := e.Mission.transition(MissionRunning); err != nil {
		return Result{}, err
	}
	if task != nil && e.Tracker != nil {
		_ = e.Tracker.Start(ctx, task.ID)
	}

	messages := e.initialMessages(task)
	tools := e.toolDefinitions()

	var totalInput, totalOutput int
	noProgressStreak := 0
	testFailStreak := 0
	totalCalls, failedCalls := 0, 0
	sameIDFailures := map[string]int{}

	stop := StopCompleted
	var finalText string
	iteration := 0

	for {
		if e.Mission.stopRequested() {
			stop = StopManual
			break
		}
		if ch, paused := e.Mission.pauseChannel(); paused {
			select {
			case <-ch:
			case <-ctx.Done():
				return e.finish(Result{IterationsUsed: iteration, InputTokens: totalInput, OutputTokens: totalOutput, StopReason: StopPaused}, ctx.Err())
			}
			if e.Mission.stopRequested() {
				stop = StopManual
				break
			}
		}

		if iteration >= e.Mission.Config.MaxIterations {
			stop = StopMaxIterations
			break
		}
		iteration++

		e.emit(LoopEvent{Type: EventIterationStart, Iteration: iteration})

		resp, streamErr := e.runIterationWithRetry(ctx, provider.Request{
			Model:    e.Provider.ModelName(),
			Messages: messages,
			Tools:    tools,
		}, iteration)
		if streamErr != nil {
			stop = StopError
			break
		}

		totalInput += resp.usage.InputTokens
		totalOutput += resp.usage.OutputTokens
		e.emit(LoopEvent{Type: EventTokenUpdate, Iteration: iteration, InputTokens: totalInput, OutTokens: totalOutput})

		if e.redlined(totalInput + totalOutput) {
			e.emit(LoopEvent{Type: EventRedline, Iteration: iteration})
			stop = StopRedlined
			break
		}

		messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: resp.text, ToolCalls: toProviderToolCalls(resp.toolCalls)})

		if len(resp.toolCalls) == 0 {
			finalText = resp.text
			if e.taskSatisfied(ctx, task) {
				stop = StopCompleted
				e.emit(LoopEvent{Type: EventSpecComplete, Iteration: iteration, TaskID: taskID(task)})
				break
			}
			noProgressStreak++
			if e.shouldStopOnNoProgress(noProgressStreak) {
				stop = StopNoProgress
				break
			}
			if !e.waitIterationDelay(ctx) {
				stop = StopError
				break
			}
			continue
		}

		noProgressStreak = 0

		for _, tc := range resp.toolCalls {
			e.emit(LoopEvent{Type: EventToolCall, Iteration: iteration, ToolCallID: tc.ID, ToolName: tc.Name, ToolArgs: tc.Arguments})

			ec := &primitive.ExecContext{OperationID: tc.ID, PrimitiveName: tc.Name, RateLimitKey: tc.Name}
			result, execErr := e.Registry.ExecuteByName(ctx, tc.Name, ec, json.RawMessage(tc.Arguments))

			totalCalls++
			success := execErr == nil
			content := ""
			if success {
				content = string(result.Output)
			} else {
				content = execErr.Error()
				failedCalls++
				testFailStreak++
				sameIDFailures[tc.ID]++
			}
			if success {
				testFailStreak = 0
				sameIDFailures[tc.ID] = 0
			}

			e.emit(LoopEvent{Type: EventToolResult, Iteration: iteration, ToolCallID: tc.ID, ToolName: tc.Name, ToolResult: content, ToolSuccess: success})

			messages = append(messages, provider.Message{Role: provider.RoleTool, Content: content, ToolCallID: tc.ID, ToolName: tc.Name})

			if sameIDFailures[tc.ID] >= 3 {
				return e.finish(Result{IterationsUsed: iteration, InputTokens: totalInput, OutputTokens: totalOutput, StopReason: StopError},
					fmt.Errorf("loop: tool call %s failed 3 consecutive times", tc.ID))
			}
		}

		if e.shouldStopOnTestFailStreak(testFailStreak) {
			stop = StopTestFailStreak
			break
		}
		if e.shouldStopOnErrorRate(failedCalls, totalCalls) {
			stop = StopError
			break
		}

		if !e.waitIterationDelay(ctx) {
			stop = StopError
			break
		}
	}

	return e.finish(Result{
		IterationsUsed: iteration,
		InputTokens:    totalInput,
		OutputTokens:   totalOutput,
		FinalText:      finalText,
		StopReason:     stop,
	}, nil)
}

func (e *Engine) finish(res Result, err error) (Result, error) {
	var next MissionState
	switch {
	case err != nil || res.StopReason == StopError:
		next = MissionError
	case res.StopReason == StopRedlined:
		next = MissionRedlined
	default:
		next = MissionComplete
	}
	_ = e.Mission.transition(next)
	return res, err
}

func taskID(task *tracker.Task) string {
	if task == nil {
		return ""
	}
	return task.ID
}

func (e *Engine) initialMessages(task *tracker.Task) []provider.Message {
	msgs := []provider.Message{{Role: provider.RoleSystem, Content: e.SystemPrompt}}
	if task != nil {
		msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: task.Name + "\n\n" + task.Description})
	}
	return msgs
}

func (e *Engine) toolDefinitions() []provider.ToolDefinition {
	catalog := e.Registry.ToolCatalog()
	out := make([]provider.ToolDefinition, len(catalog))
	for i, t := range catalog {
		out[i] = provider.ToolDefinition{Name: t.Name, Description: t.Description, ParametersSchema: t.ParametersSchema}
	}
	return out
}

func (e *Engine) redlined(totalTokens int) bool {
	window := e.Mission.Config.ContextWindowSize
	if window <= 0 {
		return false
	}
	return float64(totalTokens)/float64(window) >= e.Mission.Config.RedlineThreshold
}

func (e *Engine) taskSatisfied(ctx context.Context, task *tracker.Task) bool {
	if task == nil {
		return true
	}
	if e.Tracker == nil {
		return task.AllCriteriaComplete()
	}
	current, err := e.Tracker.Get(ctx, task.ID)
	if err != nil {
		return task.AllCriteriaComplete()
	}
	if current.AllCriteriaComplete() {
		_ = e.Tracker.Complete(ctx, task.ID)
		return true
	}
	return false
}

func (e *Engine) waitIterationDelay(ctx context.Context) bool {
	delay := e.Mission.Config.IterationDelay
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) shouldStopOnNoProgress(streak int) bool {
	for _, sc := range e.Mission.Config.StopOn {
		if np, ok := sc.(StopOnNoProgress); ok && streak >= np.N {
			return true
		}
	}
	return false
}

func (e *Engine) shouldStopOnTestFailStreak(streak int) bool {
	for _, sc := range e.Mission.Config.StopOn {
		if tf, ok := sc.(StopOnTestFailStreak); ok && streak >= tf.N {
			return true
		}
	}
	return false
}

func (e *Engine) shouldStopOnErrorRate(failed, total int) bool {
	if total == 0 {
		return false
	}
	for _, sc := range e.Mission.Config.StopOn {
		if er, ok := sc.(StopOnErrorRate); ok {
			if float64(failed)/float64(total)*100 >= er.Pct {
				return true
			}
		}
	}
	return false
}

func toProviderToolCalls(calls []primitive.ToolCall) []provider.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]provider.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = provider.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

// iterationResult is what one successful call to the provider yields, after
// streamed deltas have been accumulated.
type iterationResult struct {
	text      string
	toolCalls []primitive.ToolCall
	usage     provider.Usage
}

// runIterationWithRetry wraps one provider turn with the documented
// failure policy: one retry with exponential backoff, and — if that retry
// fails with RateLimited — a second retry after sleeping the hinted
// duration. Any other failure on the second attempt is fatal.
func (e *Engine) runIterationWithRetry(ctx context.Context, req provider.Request, iteration int) (iterationResult, error) {
	res, err := e.runIteration(ctx, req, iteration)
	if err == nil {
		return res, nil
	}

	backoff := e.backoffFor(err, 1)
	if !sleepCtx(ctx, backoff) {
		return iterationResult{}, ctx.Err()
	}

	res, err = e.runIteration(ctx, req, iteration)
	if err == nil {
		return res, nil
	}

	var failure *provider.Failure
	if errors.As(err, &failure) && failure.Kind == provider.FailureRateLimited {
		wait := 5 * time.Second
		if failure.RetryAfter != nil {
			wait = *failure.RetryAfter
		}
		if !sleepCtx(ctx, wait) {
			return iterationResult{}, ctx.Err()
		}
		return e.runIteration(ctx, req, iteration)
	}

	return iterationResult{}, err
}

func (e *Engine) backoffFor(err error, attempt int) time.Duration {
	var failure *provider.Failure
	if errors.As(err, &failure) && failure.Kind == provider.FailureRateLimited && failure.RetryAfter != nil {
		return *failure.RetryAfter
	}
	backoff := time.Duration(attempt) * time.Second
	if max := e.Mission.Config.MaxBackoff; max > 0 && backoff > max {
		backoff = max
	}
	return backoff
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// runIteration submits one request, streams the response, feeds tool-call
// deltas to an accumulator in submission order, and returns the fully
// assembled text/tool-calls/usage for the turn.
func (e *Engine) runIteration(ctx context.Context, req provider.Request, iteration int) (iterationResult, error) {
	chunks, err := e.Provider.CompleteStream(ctx, req)
	if err != nil {
		return iterationResult{}, err
	}

	acc := primitive.NewAccumulator()
	var order []int
	seen := map[int]bool{}
	var text string
	var usage provider.Usage

	for chunk := range chunks {
		switch c := chunk.(type) {
		case *provider.TextChunk:
			text += c.Content
			e.emit(LoopEvent{Type: EventText, Iteration: iteration, Text: c.Content})
		case *provider.ToolCallChunk:
			if !seen[c.Index] {
				seen[c.Index] = true
				order = append(order, c.Index)
			}
			delta := primitive.ToolCallDelta{Index: c.Index, ArgumentsDelta: c.ArgumentsDelta}
			if c.ID != "" {
				id := c.ID
				delta.ID = &id
			}
			if c.Name != "" {
				name := c.Name
				delta.Name = &name
			}
			acc.ProcessDelta(delta)
		case *provider.UsageChunk:
			usage = c.Usage
		case *provider.ErrorChunk:
			return iterationResult{}, c.Err
		}
	}

	for _, idx := range order {
		acc.Complete(idx)
	}
	acc.Finalize()

	return iterationResult{text: text, toolCalls: acc.Completed(), usage: usage}, nil
}
