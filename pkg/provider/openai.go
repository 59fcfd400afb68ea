package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIChatCompletions captures the subset of the OpenAI SDK used by this
// backend, so tests can substitute a fake.
type OpenAIChatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI implements Provider on top of the Chat Completions API.
type OpenAI struct {
	chat        OpenAIChatCompletions
	model       string
	maxTokens   int
}

func NewOpenAI(chat OpenAIChatCompletions, model string, maxTokens int) *OpenAI {
	return &OpenAI{chat: chat, model: model, maxTokens: maxTokens}
}

func NewOpenAIFromAPIKey(apiKey, model string, maxTokens int) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAI(&client.Chat.Completions, model, maxTokens)
}

func (o *OpenAI) ModelName() string { return o.model }

func (o *OpenAI) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("openai: at least one message is required")
	}
	model := req.Model
	if model == "" {
		model = o.model
	}

	var msgs []openai.ChatCompletionMessageParamUnion
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case RoleTool:
			msgs = append(msgs, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema map[string]any
			if t.ParametersSchema != "" {
				_ = json.Unmarshal([]byte(t.ParametersSchema), &schema)
			}
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  schema,
				},
			})
		}
		params.Tools = tools
	}
	return params, nil
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	params, err := o.buildParams(req)
	if err != nil {
		return Response{}, NewFailure(FailureInvalidResponse, "build request", err)
	}
	completion, err := o.chat.New(ctx, params)
	if err != nil {
		return Response{}, classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, NewFailure(FailureInvalidResponse, "no choices returned", nil)
	}
	choice := completion.Choices[0]

	var resp Response
	resp.Text = choice.Message.Content
	resp.StopReason = string(choice.FinishReason)
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	resp.Usage = Usage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:  int(completion.Usage.TotalTokens),
	}
	return resp, nil
}

// CompleteStream is not implemented against a streaming SDK call here; it
// issues a single non-streaming completion and replays it as one chunk
// sequence, so callers written against the streaming interface still work
// against this backend.
func (o *OpenAI) CompleteStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	out := make(chan Chunk, 4)
	go func() {
		defer close(out)
		resp, err := o.Complete(ctx, req)
		if err != nil {
			out <- &ErrorChunk{Err: err}
			return
		}
		if resp.Text != "" {
			out <- &TextChunk{Content: resp.Text}
		}
		for i, tc := range resp.ToolCalls {
			out <- &ToolCallChunk{Index: i, ID: tc.ID, Name: tc.Name, ArgumentsDelta: tc.Arguments}
		}
		out <- &UsageChunk{Usage: resp.Usage}
	}()
	return out, nil
}

func classifyOpenAIError(err error) error {
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
		return NewFailure(FailureInvalidResponse, "openai: "+msg, err)
	}
}
