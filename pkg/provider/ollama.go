package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Ollama implements Provider against a local Ollama server's /api/chat
// endpoint. No third-party client exists for Ollama in this module's
// dependency set, so this talks HTTP directly (see DESIGN.md).
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{baseURL: baseURL, model: model, client: &http.Client{Timeout: 5 * time.Minute}}
}

func (o *Ollama) ModelName() string { return o.model }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Options  ollamaOptions    `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done               bool `json:"done"`
	PromptEvalCount    int  `json:"prompt_eval_count"`
	EvalCount          int  `json:"eval_count"`
}

func toOllamaMessages(msgs []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (o *Ollama) buildRequest(req Request, stream bool) ollamaChatRequest {
	model := req.Model
	if model == "" {
		model = o.model
	}
	return ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   stream,
		Options:  ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
}

func (o *Ollama) Complete(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(o.buildRequest(req, false))
	if err != nil {
		return Response{}, NewFailure(FailureInvalidResponse, "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Response{}, NewFailure(FailureInvalidResponse, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Response{}, classifyOllamaError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, RateLimitedFailure("ollama returned 429", 2*time.Second)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, NewFailure(FailureInvalidResponse, fmt.Sprintf("ollama returned status %d", resp.StatusCode), nil)
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, NewFailure(FailureInvalidResponse, "decode response", err)
	}

	return Response{
		Text:       parsed.Message.Content,
		Usage:      Usage{InputTokens: parsed.PromptEvalCount, OutputTokens: parsed.EvalCount, TotalTokens: parsed.PromptEvalCount + parsed.EvalCount},
		StopReason: "stop",
	}, nil
}

func (o *Ollama) CompleteStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	body, err := json.Marshal(o.buildRequest(req, true))
	if err != nil {
		return nil, NewFailure(FailureInvalidResponse, "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewFailure(FailureInvalidResponse, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, classifyOllamaError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, NewFailure(FailureInvalidResponse, fmt.Sprintf("ollama returned status %d", resp.StatusCode), nil)
	}

	out := make(chan Chunk, 32)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		totalIn, totalOut := 0, 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var parsed ollamaChatResponse
			if err := json.Unmarshal(line, &parsed); err != nil {
				continue
			}
			if parsed.Message.Content != "" {
				out <- &TextChunk{Content: parsed.Message.Content}
			}
			if parsed.Done {
				totalIn, totalOut = parsed.PromptEvalCount, parsed.EvalCount
			}
		}
		if err := scanner.Err(); err != nil {
			out <- &ErrorChunk{Err: NewFailure(FailureNetwork, "stream read error", err)}
			return
		}
		out <- &UsageChunk{Usage: Usage{InputTokens: totalIn, OutputTokens: totalOut, TotalTokens: totalIn + totalOut}}
	}()
	return out, nil
}

func classifyOllamaError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewFailure(FailureTimeout, "request timed out", err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return NewFailure(FailureCanceled, "request canceled", err)
	}
	return NewFailure(FailureNetwork, "network error", err)
}
