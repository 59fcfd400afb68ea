package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicMessages captures the subset of the Anthropic SDK used by this
// backend, so tests can substitute a fake.
type AnthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Anthropic implements Provider on top of Claude's Messages API.
type Anthropic struct {
	msg         AnthropicMessages
	model       string
	maxTokens   int
	temperature float64
}

func NewAnthropic(msg AnthropicMessages, model string, maxTokens int) *Anthropic {
	return &Anthropic{msg: msg, model: model, maxTokens: maxTokens}
}

func NewAnthropicFromAPIKey(apiKey, model string, maxTokens int) *Anthropic {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&client.Messages, model, maxTokens)
}

func (a *Anthropic) ModelName() string { return a.model }

func (a *Anthropic) buildParams(req Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: at least one message is required")
	}
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	if maxTokens <= 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: max_tokens must be positive")
	}

	var system []sdk.TextBlockParam
	var msgs []sdk.MessageParam
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if m.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Content})
			}
			continue
		}
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		case RoleTool:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tool := sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
			}
			tools = append(tools, sdk.ToolUnionParam{OfTool: &tool})
		}
		params.Tools = tools
	}
	return params, nil
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return Response{}, NewFailure(FailureInvalidResponse, "build request", err)
	}
	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return Response{}, classifyAnthropicError(err)
	}

	var resp Response
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: string(block.Input)})
		}
	}
	resp.Usage = Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	resp.StopReason = string(msg.StopReason)
	return resp, nil
}

func (a *Anthropic) CompleteStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, NewFailure(FailureInvalidResponse, "build request", err)
	}
	stream := a.msg.NewStreaming(ctx, params)

	out := make(chan Chunk, 32)
	go func() {
		defer close(out)
		toolNames := map[int]string{}
		toolIDs := map[int]string{}
		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case sdk.ContentBlockStartEvent:
				if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
					idx := int(ev.Index)
					toolNames[idx] = tu.Name
					toolIDs[idx] = tu.ID
				}
			case sdk.ContentBlockDeltaEvent:
				idx := int(ev.Index)
				switch d := ev.Delta.AsAny().(type) {
				case sdk.TextDelta:
					if d.Text != "" {
						out <- &TextChunk{Content: d.Text}
					}
				case sdk.InputJSONDelta:
					if d.PartialJSON != "" {
						out <- &ToolCallChunk{Index: idx, ID: toolIDs[idx], Name: toolNames[idx], ArgumentsDelta: d.PartialJSON}
					}
				case sdk.ThinkingDelta:
					if d.Thinking != "" {
						out <- &ThinkingChunk{Content: d.Thinking}
					}
				}
			case sdk.MessageDeltaEvent:
				out <- &UsageChunk{Usage: Usage{
					InputTokens:  int(ev.Usage.InputTokens),
					OutputTokens: int(ev.Usage.OutputTokens),
					TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
				}}
			}
		}
		if err := stream.Err(); err != nil {
			out <- &ErrorChunk{Err: classifyAnthropicError(err)}
		}
	}()
	return out, nil
}

func classifyAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "rate limit"):
		return RateLimitedFailure(msg, 5*time.Second)
	case errors.Is(err, context.DeadlineExceeded):
		return NewFailure(FailureTimeout, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return NewFailure(FailureCanceled, "request canceled", err)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "dial"):
		return NewFailure(FailureNetwork, "network error", err)
	default:
		return NewFailure(FailureInvalidResponse, fmt.Sprintf("anthropic: %v", err), err)
	}
}
