package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/finagent/internal/runtime"
	"github.com/haasonsaas/finagent/pkg/models"
)

func basicFactory() *runtime.Factory {
	f := runtime.NewFactory()
	f.Register("Basic", func(cfg models.AgentConfig, hooks runtime.Hooks) (runtime.Runtime, error) {
		return runtime.NewBasicRuntime(hooks, nil), nil
	})
	return f
}

func newBasicSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(Config{AgentType: "Basic", Factory: basicFactory()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Terminate)
	return s
}

// runtimeFunc adapts a function into a Runtime for scripted test agents.
type runtimeFunc func(ctx context.Context, input string, maxTurns int) error

func (f runtimeFunc) Run(ctx context.Context, input string, maxTurns int) error {
	return f(ctx, input, maxTurns)
}

func scriptedFactory(agentType string, script func(hooks runtime.Hooks) runtime.Runtime) *runtime.Factory {
	f := runtime.NewFactory()
	f.Register(agentType, func(cfg models.AgentConfig, hooks runtime.Hooks) (runtime.Runtime, error) {
		return script(hooks), nil
	})
	return f
}

func TestUnsupportedAgentType(t *testing.T) {
	_, err := New(Config{AgentType: "Nonexistent", Factory: basicFactory()})
	if !errors.Is(err, ErrUnsupportedAgentType) {
		t.Fatalf("New error = %v, want ErrUnsupportedAgentType", err)
	}
}

func TestFreshSessionIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s, err := New(Config{AgentType: "Basic", Factory: basicFactory()})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if s.ID() == "" {
			t.Fatal("empty session id")
		}
		if seen[s.ID()] {
			t.Fatalf("duplicate session id %s", s.ID())
		}
		seen[s.ID()] = true
		s.Terminate()
	}
}

func TestBasicEndToEnd(t *testing.T) {
	s := newBasicSession(t)

	s.Send("hello")

	reply := s.Receive(2 * time.Second)
	if reply == nil {
		t.Fatal("no reply within timeout")
	}
	if reply.Role != models.RoleAssistant {
		t.Fatalf("reply role = %q, want assistant", reply.Role)
	}
	if reply.Content != "hi there" {
		t.Fatalf("reply content = %q, want hi there", reply.Content)
	}

	// No further activity: receive times out, repeatedly and without side
	// effects.
	for i := 0; i < 3; i++ {
		if msg := s.Receive(20 * time.Millisecond); msg != nil {
			t.Fatalf("unexpected message after conversation settled: %+v", msg)
		}
	}
}

func TestReceiveZeroTimeoutIdempotent(t *testing.T) {
	s := newBasicSession(t)
	for i := 0; i < 5; i++ {
		if msg := s.Receive(0); msg != nil {
			t.Fatalf("Receive(0) on idle session = %+v, want nil", msg)
		}
	}
}

func TestSendNeverBlocksDuringLongTurn(t *testing.T) {
	factory := scriptedFactory("Slow", func(hooks runtime.Hooks) runtime.Runtime {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			<-ctx.Done()
			return ctx.Err()
		})
	})
	s, err := New(Config{AgentType: "Slow", Factory: factory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Terminate()

	for i := 0; i < 10; i++ {
		start := time.Now()
		s.Send(fmt.Sprintf("msg-%d", i))
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Fatalf("Send blocked for %v while worker busy", elapsed)
		}
	}
}

func TestRequestInputEndToEnd(t *testing.T) {
	factory := scriptedFactory("Confirming", func(hooks runtime.Hooks) runtime.Runtime {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			answer, err := hooks.RequestInput("confirm?")
			if err != nil {
				return err
			}
			return hooks.Deliver(runtime.NewTextRaw("resumed with: "+answer), models.RoleAssistant, false)
		})
	})
	s, err := New(Config{AgentType: "Confirming", Factory: factory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Terminate()

	s.Send("start")

	prompt := s.Receive(2 * time.Second)
	if prompt == nil {
		t.Fatal("no request-input prompt received")
	}
	if prompt.Role != models.RoleSystem || !prompt.IsRequestReply() {
		t.Fatalf("prompt = role %q request_reply %v", prompt.Role, prompt.IsRequestReply())
	}
	if prompt.Content != "confirm?" {
		t.Fatalf("prompt content = %q, want confirm?", prompt.Content)
	}

	s.Send("yes")

	reply := s.Receive(2 * time.Second)
	if reply == nil {
		t.Fatal("worker did not resume after answer")
	}
	if reply.Content != "resumed with: yes" {
		t.Fatalf("reply content = %q, want resumed with: yes", reply.Content)
	}
}

func TestOutboundPreservesProductionOrder(t *testing.T) {
	const n = 20
	factory := scriptedFactory("Sequencer", func(hooks runtime.Hooks) runtime.Runtime {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			for i := 0; i < n; i++ {
				if err := hooks.Deliver(runtime.NewTextRaw(fmt.Sprintf("part-%d", i)), models.RoleAssistant, false); err != nil {
					return err
				}
			}
			return nil
		})
	})
	s, err := New(Config{AgentType: "Sequencer", Factory: factory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Terminate()

	s.Send("go")
	for i := 0; i < n; i++ {
		msg := s.Receive(2 * time.Second)
		if msg == nil {
			t.Fatalf("missing message %d", i)
		}
		if want := fmt.Sprintf("part-%d", i); msg.Content != want {
			t.Fatalf("message %d content = %q, want %q", i, msg.Content, want)
		}
	}
}

func TestRuntimeErrorContained(t *testing.T) {
	factory := scriptedFactory("Failing", func(hooks runtime.Hooks) runtime.Runtime {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			return errors.New("model exploded")
		})
	})
	s, err := New(Config{AgentType: "Failing", Factory: factory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Terminate()

	s.Send("hello")

	msg := s.Receive(2 * time.Second)
	if msg == nil {
		t.Fatal("no error message surfaced")
	}
	if !msg.IsError() {
		t.Fatalf("message not error-flagged: %+v", msg.Metadata)
	}
	if want := "An error occurred: model exploded"; msg.Content != want {
		t.Fatalf("content = %q, want %q", msg.Content, want)
	}

	// The session survives the failure and accepts further sends.
	s.Send("again")
	if msg := s.Receive(2 * time.Second); msg == nil || !msg.IsError() {
		t.Fatalf("second run not surfaced as error: %+v", msg)
	}
}

func TestRuntimePanicContained(t *testing.T) {
	factory := scriptedFactory("Panicking", func(hooks runtime.Hooks) runtime.Runtime {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			panic("unexpected state")
		})
	})
	s, err := New(Config{AgentType: "Panicking", Factory: factory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Terminate()

	s.Send("hello")

	msg := s.Receive(2 * time.Second)
	if msg == nil {
		t.Fatal("no message surfaced after panic")
	}
	if !msg.IsError() || !strings.Contains(msg.Content, "unexpected state") {
		t.Fatalf("panic not surfaced as error message: %+v", msg)
	}
}

func TestSendAndWaitSkipsEcho(t *testing.T) {
	factory := scriptedFactory("Echoing", func(hooks runtime.Hooks) runtime.Runtime {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			// User echo first, then the substantive reply.
			if err := hooks.Deliver(runtime.NewTextRaw(input), models.RoleUser, false); err != nil {
				return err
			}
			return hooks.Deliver(runtime.NewTextRaw("analysis done"), models.RoleAssistant, false)
		})
	})
	s, err := New(Config{AgentType: "Echoing", Factory: factory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Terminate()

	reply := s.SendAndWait("analyze AAPL", 2*time.Second)
	if reply == nil {
		t.Fatal("SendAndWait returned nil")
	}
	if reply.Content != "analysis done" {
		t.Fatalf("SendAndWait returned %q, want analysis done", reply.Content)
	}
}

func TestSendAndWaitReturnsToolCallImmediately(t *testing.T) {
	factory := scriptedFactory("Calling", func(hooks runtime.Hooks) runtime.Runtime {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			raw := runtime.RawMessage{
				Kind:      runtime.RawToolCall,
				ToolCalls: []models.ToolCall{{ID: "c1", Name: "get_sec_report"}},
			}
			return hooks.Deliver(raw, models.RoleAssistant, false)
		})
	})
	s, err := New(Config{AgentType: "Calling", Factory: factory})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Terminate()

	reply := s.SendAndWait("report for AAPL", 2*time.Second)
	if reply == nil || !reply.IsToolCall() {
		t.Fatalf("SendAndWait = %+v, want tool call", reply)
	}
}

func TestTerminateIdempotentAndFinal(t *testing.T) {
	s := newBasicSession(t)
	s.Terminate()
	s.Terminate()

	if msg := s.Send("hello"); msg != nil {
		t.Fatalf("Send after Terminate = %+v, want nil", msg)
	}
	if msg := s.Receive(0); msg != nil {
		t.Fatalf("Receive after Terminate = %+v, want nil", msg)
	}
}

func TestHistoryRecordsTranscript(t *testing.T) {
	s := newBasicSession(t)

	s.Send("hello")
	if reply := s.Receive(2 * time.Second); reply == nil {
		t.Fatal("no reply")
	}

	history := s.History()
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Content != "hello" {
		t.Fatalf("history[0] = %+v", history[0])
	}
	if history[1].Role != models.RoleAssistant || history[1].Content != "hi there" {
		t.Fatalf("history[1] = %+v", history[1])
	}
}
