package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/finagent/pkg/models"
)

// BasicRuntime is a deterministic runtime with canned replies. It needs no
// API keys, which makes it the default agent type for local runs and the
// fixture for session-layer tests.
type BasicRuntime struct {
	hooks   Hooks
	replies map[string]string
}

// NewBasicRuntime creates a scripted runtime. replies maps lowercased user
// input to the canned response; unknown inputs get an echo fallback.
func NewBasicRuntime(hooks Hooks, replies map[string]string) *BasicRuntime {
	if replies == nil {
		replies = map[string]string{
			"hello": "hi there",
			"hi":    "hi there",
		}
	}
	return &BasicRuntime{hooks: hooks, replies: replies}
}

// Run delivers exactly one assistant reply per invocation and returns. Each
// client message therefore maps to one worker run, and an idle session's
// outbound queue stays empty between sends.
func (b *BasicRuntime) Run(ctx context.Context, input string, maxTurns int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reply, ok := b.replies[strings.ToLower(strings.TrimSpace(input))]
	if !ok {
		reply = fmt.Sprintf("You said: %s", input)
	}
	return b.hooks.Deliver(NewTextRaw(reply), models.RoleAssistant, false)
}
