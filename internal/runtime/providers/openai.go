// Package providers implements the runtime.ChatModel interface for the LLM
// services behind the assistant runtimes. Each provider handles format
// conversion, retry on transient failures, and tool-calling plumbing for its
// SDK.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/finagent/internal/observability"
	"github.com/haasonsaas/finagent/internal/runtime"
	"github.com/haasonsaas/finagent/pkg/models"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultMaxRetries  = 3
	defaultRetryDelay  = time.Second
)

// OpenAIModel implements runtime.ChatModel on the OpenAI chat completions
// API with function calling. Safe for concurrent use.
type OpenAIModel struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	metrics    *observability.Metrics
}

// OpenAIConfig configures an OpenAIModel.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Metrics *observability.Metrics
}

// NewOpenAIModel creates an OpenAI-backed chat model. With an empty API key
// the model is constructed but Complete fails, matching how the server
// starts without provider credentials.
func NewOpenAIModel(cfg OpenAIConfig) *OpenAIModel {
	var client *openai.Client
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		client = openai.NewClientWithConfig(clientCfg)
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIModel{
		client:     client,
		model:      model,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		metrics:    cfg.Metrics,
	}
}

// Complete performs one non-streaming chat completion, retrying transient
// failures with linear backoff.
func (m *OpenAIModel) Complete(ctx context.Context, system string, history []runtime.ChatMessage, tools []runtime.Tool) (*runtime.ChatReply, error) {
	if m.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	req := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: convertOpenAIMessages(system, history),
	}
	if len(tools) > 0 {
		req.Tools = convertOpenAITools(tools)
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.retryDelay * time.Duration(attempt)):
			}
		}
		resp, lastErr = m.client.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			break
		}
		if !retryable(lastErr) {
			m.observe("openai", start, lastErr)
			return nil, fmt.Errorf("openai: %w", lastErr)
		}
	}
	m.observe("openai", start, lastErr)
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}

	choice := resp.Choices[0].Message
	reply := &runtime.ChatReply{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return reply, nil
}

func (m *OpenAIModel) observe(provider string, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.metrics.LLMRequestCounter.WithLabelValues(provider, m.model, status).Inc()
	m.metrics.LLMRequestDuration.WithLabelValues(provider, m.model).Observe(time.Since(start).Seconds())
}

// convertOpenAIMessages maps the runtime history to OpenAI's format. The
// system prompt leads the messages array; tool results become one tool-role
// message per result.
func convertOpenAIMessages(system string, history []runtime.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range history {
		if len(msg.ToolResults) > 0 {
			for _, tr := range msg.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}

		oaiMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				}
			}
		}
		out = append(out, oaiMsg)
	}
	return out
}

func convertOpenAITools(tools []runtime.Tool) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Schema(),
			},
		}
	}
	return out
}

// retryable classifies transient provider failures: rate limits, 5xx, and
// timeouts.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded", "overloaded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
