package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Metadata keys the session core reads and writes on messages.
const (
	MetaRequestReply = "request_reply"
	MetaToolCall     = "tool_call"
	MetaRawMessage   = "raw_message"
	MetaError        = "error"
)

// Message is the normalized unit of conversation output. Every payload the
// agent runtime emits, whether plain text or a structured tool-call object,
// becomes exactly one Message; the unnormalized original is preserved under
// Metadata[MetaRawMessage].
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id,omitempty"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// IsRequestReply reports whether this message is a blocking request for
// human input.
func (m *Message) IsRequestReply() bool {
	return m.metaBool(MetaRequestReply)
}

// IsToolCall reports whether this message represents a tool invocation.
func (m *Message) IsToolCall() bool {
	return m.metaBool(MetaToolCall)
}

// IsError reports whether this message surfaces a contained runtime failure.
func (m *Message) IsError() bool {
	return m.metaBool(MetaError)
}

func (m *Message) metaBool(key string) bool {
	if m == nil || m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[key].(bool)
	return ok && v
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// AgentConfig is the immutable configuration chosen at session creation.
type AgentConfig struct {
	Profile      string         `json:"profile,omitempty" yaml:"profile"`
	Provider     string         `json:"provider,omitempty" yaml:"provider"`
	Model        string         `json:"model,omitempty" yaml:"model"`
	SystemPrompt string         `json:"system_prompt,omitempty" yaml:"system_prompt"`
	ReportDir    string         `json:"report_dir,omitempty" yaml:"report_dir"`
	MaxTurns     int            `json:"max_turns,omitempty" yaml:"max_turns"`
	Extra        map[string]any `json:"extra,omitempty" yaml:"extra"`
}

// Session is the persisted record of one conversation instance. The live
// relay state (queues, worker) is owned by the sessions package; this record
// is what stores and the admin API see.
type Session struct {
	ID          string      `json:"id"`
	AgentType   string      `json:"agent_type"`
	AgentConfig AgentConfig `json:"agent_config"`
	Title       string      `json:"title,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
