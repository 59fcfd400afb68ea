package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tachikoma-dev/tachikoma/pkg/provider"
)

func TestOllamaCompleteParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]string{"role": "assistant", "content": "hello from ollama"},
			"done":              true,
			"prompt_eval_count": 3,
			"eval_count":        7,
		})
	}))
	defer server.Close()

	p := provider.NewOllama(server.URL, "llama3")
	resp, err := p.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from ollama", resp.Text)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestOllamaCompleteClassifiesRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := provider.NewOllama(server.URL, "llama3")
	_, err := p.Complete(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	var failure *provider.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, provider.FailureRateLimited, failure.Kind)
}

func TestOllamaStreamEmitsTextChunksThenUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"content": "foo"}})
		flusher.Flush()
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"content": "bar"}})
		flusher.Flush()
		_ = json.NewEncoder(w).Encode(map[string]any{"done": true, "prompt_eval_count": 2, "eval_count": 4})
	}))
	defer server.Close()

	p := provider.NewOllama(server.URL, "llama3")
	ch, err := p.CompleteStream(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var usage provider.Usage
	for chunk := range ch {
		switch c := chunk.(type) {
		case *provider.TextChunk:
			text += c.Content
		case *provider.UsageChunk:
			usage = c.Usage
		}
	}
	assert.Equal(t, "foobar", text)
	assert.Equal(t, 6, usage.TotalTokens)
}
