// Package relay normalizes the heterogeneous payloads coming out of an agent
// runtime into the uniform Message model and moves them across the session's
// queue boundary. The relay is installed as the runtime's Hooks at
// construction time and is only ever invoked from the session's worker
// goroutine, so transcript appends need no extra locking upstream.
package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/finagent/internal/queue"
	"github.com/haasonsaas/finagent/internal/runtime"
	"github.com/haasonsaas/finagent/pkg/models"
)

// Relay implements runtime.Hooks for one session.
type Relay struct {
	sessionID string
	inbound   *queue.Queue[string]
	outbound  *queue.Queue[*models.Message]
	append    func(*models.Message)
	next      runtime.Hooks
	logger    *slog.Logger

	// tsMu guards lastTS: timestamps are minted from both the worker
	// goroutine (Deliver) and the network side (Emit).
	tsMu   sync.Mutex
	lastTS time.Time
	now    func() time.Time
}

// Options configures a Relay.
type Options struct {
	SessionID string
	Inbound   *queue.Queue[string]
	Outbound  *queue.Queue[*models.Message]
	// Append receives every normalized message for the transcript.
	Append func(*models.Message)
	// Next, when set, receives every call after the relay's own processing,
	// preserving the underlying delivery chain.
	Next   runtime.Hooks
	Logger *slog.Logger
	Now    func() time.Time
}

// New creates a relay for one session.
func New(opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Relay{
		sessionID: opts.SessionID,
		inbound:   opts.Inbound,
		outbound:  opts.Outbound,
		append:    opts.Append,
		next:      opts.Next,
		logger:    logger,
		now:       now,
	}
}

// Normalize converts a raw runtime payload into a Message. Plain text maps
// content verbatim; structured payloads mark tool_call and synthesize content
// from the serialized payload when the text field is empty, so a tool-call
// message never has empty content. The original payload is always retained
// under raw_message.
func (r *Relay) Normalize(raw runtime.RawMessage, sender models.Role) *models.Message {
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: r.sessionID,
		Role:      sender,
		Content:   raw.Text,
		CreatedAt: r.timestamp(),
		Metadata: map[string]any{
			models.MetaToolCall:   false,
			models.MetaRawMessage: raw,
		},
	}

	switch raw.Kind {
	case runtime.RawToolCall:
		msg.ToolCalls = raw.ToolCalls
		msg.Metadata[models.MetaToolCall] = true
		if msg.Content == "" {
			msg.Content = serialize(raw.ToolCalls)
		}
	case runtime.RawToolResult:
		msg.ToolResults = raw.ToolResults
		msg.Metadata[models.MetaToolCall] = true
		if msg.Content == "" {
			msg.Content = serialize(raw.ToolResults)
		}
	}
	return msg
}

// Deliver normalizes the payload, records it, pushes it outbound, then
// forwards the call to the underlying delivery chain. Downstream errors are
// logged and propagated, never swallowed.
func (r *Relay) Deliver(raw runtime.RawMessage, sender models.Role, requestReply bool) error {
	msg := r.Normalize(raw, sender)
	msg.Metadata[models.MetaRequestReply] = requestReply
	r.record(msg)

	if r.next != nil {
		if err := r.next.Deliver(raw, sender, requestReply); err != nil {
			r.logger.Error("downstream delivery failed",
				"session_id", r.sessionID, "role", sender, "error", err)
			return err
		}
	}
	return nil
}

// RequestInput emits a request-reply system message, then blocks on the
// inbound queue until the session supplies an answer. This is the designed
// suspension point between asynchronous network input and the runtime's
// synchronous turn loop; it runs on the worker goroutine. A closed inbound
// queue yields the empty string.
func (r *Relay) RequestInput(prompt string) (string, error) {
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: r.sessionID,
		Role:      models.RoleSystem,
		Content:   prompt,
		CreatedAt: r.timestamp(),
		Metadata: map[string]any{
			models.MetaRequestReply: true,
			models.MetaToolCall:     false,
		},
	}
	r.record(msg)

	r.logger.Debug("waiting for user input", "session_id", r.sessionID)
	answer, ok := r.inbound.PopWait()
	if !ok {
		return "", nil
	}
	if r.next != nil {
		if _, err := r.next.RequestInput(prompt); err != nil {
			r.logger.Error("downstream input request failed",
				"session_id", r.sessionID, "error", err)
			return answer, err
		}
	}
	return answer, nil
}

// Emit appends a session-generated message (a client send) to the
// transcript without queuing it for delivery.
func (r *Relay) Emit(msg *models.Message) {
	r.fill(msg)
	if r.append != nil {
		r.append(msg)
	}
}

// Surface appends a session-generated message and queues it for delivery,
// used for worker failures reported as error-flagged messages.
func (r *Relay) Surface(msg *models.Message) {
	r.fill(msg)
	r.record(msg)
}

func (r *Relay) fill(msg *models.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SessionID == "" {
		msg.SessionID = r.sessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.timestamp()
	}
}

func (r *Relay) record(msg *models.Message) {
	if r.append != nil {
		r.append(msg)
	}
	if !r.outbound.Push(msg) {
		r.logger.Debug("outbound queue closed, dropping message",
			"session_id", r.sessionID, "role", msg.Role)
	}
}

// timestamp returns a per-session monotonically non-decreasing time.
func (r *Relay) timestamp() time.Time {
	r.tsMu.Lock()
	defer r.tsMu.Unlock()
	ts := r.now()
	if ts.Before(r.lastTS) {
		ts = r.lastTS
	}
	r.lastTS = ts
	return ts
}

func serialize(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
