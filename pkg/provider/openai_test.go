package provider_test

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachikoma-dev/tachikoma/pkg/provider"
)

type mockChatCompletions struct {
	response *openai.ChatCompletion
	err      error
}

func (m *mockChatCompletions) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return m.response, m.err
}

func TestOpenAICompleteExtractsTextAndToolCalls(t *testing.T) {
	mock := &mockChatCompletions{
		response: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{
					FinishReason: "stop",
					Message: openai.ChatCompletionMessage{
						Content: "hi there",
						ToolCalls: []openai.ChatCompletionMessageToolCall{
							{ID: "call_1", Function: openai.ChatCompletionMessageToolCallFunction{Name: "lookup", Arguments: `{"query":"docs"}`}},
						},
					},
				},
			},
			Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}
	p := provider.NewOpenAI(mock, "gpt-4o", 0)

	resp, err := p.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "ping"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "lookup", resp.ToolCalls[0].Name)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestOpenAICompleteRejectsEmptyMessages(t *testing.T) {
	p := provider.NewOpenAI(&mockChatCompletions{}, "gpt-4o", 0)
	_, err := p.Complete(context.Background(), provider.Request{})
	require.Error(t, err)
}

func TestOpenAICompleteStreamReplaysNonStreamingResult(t *testing.T) {
	mock := &mockChatCompletions{
		response: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "streamed"}}},
		},
	}
	p := provider.NewOpenAI(mock, "gpt-4o", 0)

	ch, err := p.CompleteStream(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "ping"}},
	})
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		if tc, ok := chunk.(*provider.TextChunk); ok {
			text += tc.Content
		}
	}
	assert.Equal(t, "streamed", text)
}
