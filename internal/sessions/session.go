// Package sessions owns the live conversation state: one Session per
// conversation, each hosting its agent runtime on a dedicated worker
// goroutine, plus the process-wide Registry and the persistence stores.
//
// Network handlers communicate with a session only through its two FIFO
// queues and the append-only transcript; no other mutable state crosses the
// goroutine boundary.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/finagent/internal/observability"
	"github.com/haasonsaas/finagent/internal/queue"
	"github.com/haasonsaas/finagent/internal/relay"
	"github.com/haasonsaas/finagent/internal/runtime"
	"github.com/haasonsaas/finagent/pkg/models"
)

// DefaultMaxTurns bounds a single worker run so pathological tool-call loops
// terminate.
const DefaultMaxTurns = 50

// Session owns exactly one agent runtime and its relay, runs the runtime off
// the network-handling goroutines, and exposes a non-blocking send /
// timed-receive contract.
type Session struct {
	id          string
	agentType   string
	agentConfig models.AgentConfig
	createdAt   time.Time

	rt       runtime.Runtime
	relay    *relay.Relay
	inbound  *queue.Queue[string]
	outbound *queue.Queue[*models.Message]

	store   Store
	logger  *slog.Logger
	metrics *observability.Metrics

	maxTurns int
	ctx      context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	running    bool
	terminated bool
	lastActive time.Time

	transcriptMu sync.Mutex
	transcript   []*models.Message
}

// Config configures a new Session.
type Config struct {
	AgentType   string
	AgentConfig models.AgentConfig
	Factory     *runtime.Factory
	Store       Store
	Logger      *slog.Logger
	Metrics     *observability.Metrics
	MaxTurns    int
}

// New validates the agent type, constructs the runtime with the relay hooks
// installed, and allocates a fresh session id. The worker goroutine is not
// started until the first Send.
func New(cfg Config) (*Session, error) {
	if cfg.Factory == nil || !cfg.Factory.Supports(cfg.AgentType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAgentType, cfg.AgentType)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if cfg.AgentConfig.MaxTurns > 0 {
		maxTurns = cfg.AgentConfig.MaxTurns
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          uuid.NewString(),
		agentType:   cfg.AgentType,
		agentConfig: cfg.AgentConfig,
		createdAt:   time.Now(),
		inbound:     queue.New[string](),
		outbound:    queue.New[*models.Message](),
		store:       cfg.Store,
		logger:      logger,
		metrics:     cfg.Metrics,
		maxTurns:    maxTurns,
		ctx:         ctx,
		cancel:      cancel,
		lastActive:  time.Now(),
	}

	s.relay = relay.New(relay.Options{
		SessionID: s.id,
		Inbound:   s.inbound,
		Outbound:  s.outbound,
		Append:    s.appendMessage,
		Logger:    logger,
	})

	rt, err := cfg.Factory.New(cfg.AgentType, cfg.AgentConfig, s.relay)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("construct runtime: %w", err)
	}
	s.rt = rt

	if s.store != nil {
		record := &models.Session{
			ID:          s.id,
			AgentType:   s.agentType,
			AgentConfig: s.agentConfig,
			CreatedAt:   s.createdAt,
		}
		if err := s.store.CreateSession(context.Background(), record); err != nil {
			logger.Warn("failed to persist session record", "session_id", s.id, "error", err)
		}
	}

	logger.Info("session created", "session_id", s.id, "agent_type", s.agentType)
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// AgentType returns the agent type chosen at creation.
func (s *Session) AgentType() string { return s.agentType }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Send submits client text to the session. If no worker is live, one is
// spawned to drive a runtime run starting from text; otherwise the text is
// pushed onto the inbound queue, resolving any pending input request. Send
// never blocks on runtime progress. A terminated session ignores sends.
func (s *Session) Send(text string) *models.Message {
	s.touch()

	msg := &models.Message{
		Role:     models.RoleUser,
		Content:  text,
		Metadata: map[string]any{models.MetaToolCall: false},
	}

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		s.logger.Debug("send on terminated session ignored", "session_id", s.id)
		return nil
	}
	spawn := !s.running
	if spawn {
		s.running = true
	}
	s.mu.Unlock()

	s.relay.Emit(msg)
	if spawn {
		go s.run(text)
	} else {
		s.inbound.Push(text)
	}
	return msg
}

// Receive pops one message from the outbound queue, waiting up to timeout.
// It returns nil on timeout; a timeout is a normal outcome, never an error.
func (s *Session) Receive(timeout time.Duration) *models.Message {
	s.touch()
	msg, ok := s.outbound.Pop(timeout)
	if !ok {
		return nil
	}
	return msg
}

// SendAndWait sends text and waits for the first substantive reply:
// tool-call messages are returned immediately, other messages only when
// their content differs from the just-sent input. Used by synchronous-style
// transports. Returns nil when timeout elapses first.
func (s *Session) SendAndWait(text string, timeout time.Duration) *models.Message {
	s.Send(text)
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			return nil
		}
		msg := s.Receive(remaining)
		if msg == nil {
			return nil
		}
		if msg.IsToolCall() {
			return msg
		}
		if msg.Content == text {
			continue
		}
		return msg
	}
}

// History returns a copy of the full transcript.
func (s *Session) History() []*models.Message {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()
	out := make([]*models.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Running reports whether a worker goroutine is currently live.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastActive returns the time of the last Send or Receive.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Terminate stops the session accepting further work and releases its queue
// resources. A worker blocked in an input request unblocks with the empty
// sentinel; an in-flight runtime turn is not aborted. Idempotent.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.mu.Unlock()

	s.cancel()
	s.inbound.Close()
	s.outbound.Close()
	s.logger.Info("session terminated", "session_id", s.id)
}

// run hosts one runtime execution on the worker goroutine. Runtime failures
// and panics are contained here: they are logged and surfaced as an
// error-flagged message, never raised across the goroutine boundary.
func (s *Session) run(text string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("session worker panic", "session_id", s.id, "panic", rec)
			s.surfaceError(fmt.Errorf("runtime panic: %v", rec))
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	err := s.rt.Run(s.ctx, text, s.maxTurns)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("runtime execution failed", "session_id", s.id, "error", err)
		s.surfaceError(err)
	}
}

func (s *Session) surfaceError(err error) {
	if s.metrics != nil {
		s.metrics.ErrorCounter.WithLabelValues("session", "runtime").Inc()
	}
	s.relay.Surface(&models.Message{
		Role:    models.RoleAssistant,
		Content: fmt.Sprintf("An error occurred: %v", err),
		Metadata: map[string]any{
			models.MetaError:    true,
			models.MetaToolCall: false,
		},
	})
}

// appendMessage is the relay's transcript sink.
func (s *Session) appendMessage(msg *models.Message) {
	s.transcriptMu.Lock()
	s.transcript = append(s.transcript, msg)
	s.transcriptMu.Unlock()

	if s.metrics != nil {
		s.metrics.MessageCounter.WithLabelValues(string(msg.Role)).Inc()
	}
	if s.store != nil {
		if err := s.store.AppendMessage(context.Background(), s.id, msg); err != nil {
			s.logger.Warn("failed to persist message", "session_id", s.id, "error", err)
		}
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}
