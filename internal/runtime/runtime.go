// Package runtime defines the boundary between the session layer and the
// conversational engines that drive a session's turns. A Runtime is blocking
// and turn-based: Run hosts the whole conversation loop on the caller's
// goroutine and reports everything it produces through the Hooks observer
// installed at construction time.
package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/finagent/pkg/models"
)

// RawKind tags the shape of an unnormalized runtime payload.
type RawKind string

const (
	RawText       RawKind = "text"
	RawToolCall   RawKind = "tool_call"
	RawToolResult RawKind = "tool_result"
)

// RawMessage is the tagged variant a runtime emits before normalization.
// Exactly one of the payload fields is meaningful for a given Kind; Text may
// accompany tool calls when the model produced both.
type RawMessage struct {
	Kind        RawKind             `json:"kind"`
	Text        string              `json:"text,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// NewTextRaw builds a plain-text raw message.
func NewTextRaw(text string) RawMessage {
	return RawMessage{Kind: RawText, Text: text}
}

// Hooks is the observer a Runtime accepts at construction time. Deliver is
// invoked for every message the runtime produces; RequestInput suspends the
// runtime's goroutine until the session supplies an answer. Both are only
// ever called from the goroutine running Run.
type Hooks interface {
	Deliver(raw RawMessage, sender models.Role, requestReply bool) error
	RequestInput(prompt string) (string, error)
}

// Runtime is a blocking, turn-based conversational engine. Run drives the
// conversation starting from input and returns when the conversation ends,
// maxTurns is reached, or ctx is cancelled at a turn boundary.
type Runtime interface {
	Run(ctx context.Context, input string, maxTurns int) error
}

// Builder constructs a Runtime for one session from its immutable agent
// configuration and its relay hooks.
type Builder func(cfg models.AgentConfig, hooks Hooks) (Runtime, error)

// Factory maps agent type names to runtime builders. Registration happens at
// wiring time; lookups afterwards are read-only, so the lock only guards
// against misuse.
type Factory struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewFactory creates an empty runtime factory.
func NewFactory() *Factory {
	return &Factory{builders: map[string]Builder{}}
}

// Register adds a builder for the given agent type, replacing any previous
// registration.
func (f *Factory) Register(agentType string, builder Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[agentType] = builder
}

// Supports reports whether the agent type has a registered builder.
func (f *Factory) Supports(agentType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.builders[agentType]
	return ok
}

// Types returns the registered agent type names, sorted.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.builders))
	for name := range f.builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds a runtime for the agent type, or fails if the type is unknown.
func (f *Factory) New(agentType string, cfg models.AgentConfig, hooks Hooks) (Runtime, error) {
	f.mu.RLock()
	builder, ok := f.builders[agentType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent type %q", agentType)
	}
	return builder(cfg, hooks)
}
