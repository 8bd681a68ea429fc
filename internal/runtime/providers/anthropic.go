package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/finagent/internal/observability"
	"github.com/haasonsaas/finagent/internal/runtime"
	"github.com/haasonsaas/finagent/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicModel implements runtime.ChatModel on the Anthropic Messages API
// with tool use. Safe for concurrent use.
type AnthropicModel struct {
	client     anthropic.Client
	model      string
	maxTokens  int
	maxRetries int
	retryDelay time.Duration
	metrics    *observability.Metrics
}

// AnthropicConfig configures an AnthropicModel.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Metrics   *observability.Metrics
}

// NewAnthropicModel creates an Anthropic-backed chat model.
func NewAnthropicModel(cfg AnthropicConfig) *AnthropicModel {
	options := []option.RequestOption{}
	if cfg.APIKey != "" {
		options = append(options, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicModel{
		client:     anthropic.NewClient(options...),
		model:      model,
		maxTokens:  maxTokens,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		metrics:    cfg.Metrics,
	}
}

// Complete performs one non-streaming message request, retrying transient
// failures with linear backoff.
func (m *AnthropicModel) Complete(ctx context.Context, system string, history []runtime.ChatMessage, tools []runtime.Tool) (*runtime.ChatReply, error) {
	messages, err := convertAnthropicMessages(history)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		Messages:  messages,
		MaxTokens: int64(m.maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(tools) > 0 {
		converted, err := convertAnthropicTools(tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		params.Tools = converted
	}

	start := time.Now()
	var msg *anthropic.Message
	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.retryDelay * time.Duration(attempt)):
			}
		}
		msg, lastErr = m.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}
		if !retryable(lastErr) {
			m.observeAnthropic(start, lastErr)
			return nil, fmt.Errorf("anthropic: %w", lastErr)
		}
	}
	m.observeAnthropic(start, lastErr)
	if lastErr != nil {
		return nil, fmt.Errorf("anthropic: max retries exceeded: %w", lastErr)
	}

	reply := &runtime.ChatReply{}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if reply.Content != "" {
				reply.Content += "\n"
			}
			reply.Content += variant.Text
		case anthropic.ToolUseBlock:
			reply.ToolCalls = append(reply.ToolCalls, models.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.JSON.Input.Raw()),
			})
		}
	}
	return reply, nil
}

func (m *AnthropicModel) observeAnthropic(start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.metrics.LLMRequestCounter.WithLabelValues("anthropic", m.model, status).Inc()
	m.metrics.LLMRequestDuration.WithLabelValues("anthropic", m.model).Observe(time.Since(start).Seconds())
}

// convertAnthropicMessages maps the runtime history to Anthropic's content
// block format. System messages are handled separately in params.System;
// tool results ride in user messages per the Messages API contract.
func convertAnthropicMessages(history []runtime.ChatMessage) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertAnthropicTools(tools []runtime.Tool) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", tool.Name())
		}
		param.OfTool.Description = anthropic.String(tool.Description())
		out = append(out, param)
	}
	return out, nil
}
