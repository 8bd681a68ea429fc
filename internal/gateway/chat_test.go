package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/finagent/internal/config"
	"github.com/haasonsaas/finagent/internal/runtime"
	"github.com/haasonsaas/finagent/internal/sessions"
	"github.com/haasonsaas/finagent/pkg/models"
)

// runtimeFunc adapts a function into a runtime for scripted test agents.
type runtimeFunc func(ctx context.Context, input string, maxTurns int) error

func (f runtimeFunc) Run(ctx context.Context, input string, maxTurns int) error {
	return f(ctx, input, maxTurns)
}

func testFactory() *runtime.Factory {
	f := runtime.NewFactory()
	f.Register("Basic", func(cfg models.AgentConfig, hooks runtime.Hooks) (runtime.Runtime, error) {
		return runtime.NewBasicRuntime(hooks, nil), nil
	})
	f.Register("Calling", func(cfg models.AgentConfig, hooks runtime.Hooks) (runtime.Runtime, error) {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			raw := runtime.RawMessage{
				Kind:      runtime.RawToolCall,
				ToolCalls: []models.ToolCall{{ID: "c1", Name: "get_sec_report", Input: json.RawMessage(`{"symbol":"AAPL"}`)}},
			}
			return hooks.Deliver(raw, models.RoleAssistant, false)
		}), nil
	})
	f.Register("Throttled", func(cfg models.AgentConfig, hooks runtime.Hooks) (runtime.Runtime, error) {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			return hooks.Deliver(runtime.NewTextRaw("Error code: 429 - Too Many Requests"), models.RoleAssistant, false)
		}), nil
	})
	f.Register("Silent", func(cfg models.AgentConfig, hooks runtime.Hooks) (runtime.Runtime, error) {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			return nil
		}), nil
	})
	f.Register("Confirming", func(cfg models.AgentConfig, hooks runtime.Hooks) (runtime.Runtime, error) {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			answer, err := hooks.RequestInput("confirm?")
			if err != nil {
				return err
			}
			return hooks.Deliver(runtime.NewTextRaw("resumed with: "+answer), models.RoleAssistant, false)
		}), nil
	})
	return f
}

func newTestGateway(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Session.ResponseTimeout = 2 * time.Second
	cfg.Session.DrainTimeout = 200 * time.Millisecond

	store := sessions.NewMemoryStore()
	registry := sessions.NewRegistry(sessions.RegistryConfig{
		Factory:  testFactory(),
		Store:    store,
		Defaults: sessions.Defaults{AgentType: "Basic"},
	})

	server := NewServer(Options{
		Config:   cfg,
		Registry: registry,
		Store:    store,
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		registry.Shutdown()
	})
	return server, ts
}

func postChat(t *testing.T, ts *httptest.Server, body map[string]any) (int, chatResponse) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(ts.URL+"/chat", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /chat: %v", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode, out
}

func TestChatCreatesSessionAndReplies(t *testing.T) {
	_, ts := newTestGateway(t)

	status, out := postChat(t, ts, map[string]any{"message": "hello"})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if out.SessionID == "" {
		t.Fatal("no session_id assigned")
	}
	if out.Error != nil {
		t.Fatalf("unexpected error: %s", *out.Error)
	}
	if out.Response == nil || *out.Response != "hi there" {
		t.Fatalf("response = %v, want hi there", out.Response)
	}

	// Same session id reused on the follow-up.
	status, second := postChat(t, ts, map[string]any{"message": "hello", "session_id": out.SessionID})
	if status != http.StatusOK || second.SessionID != out.SessionID {
		t.Fatalf("follow-up = %d %q", status, second.SessionID)
	}
}

func TestChatUnknownSessionIs404(t *testing.T) {
	_, ts := newTestGateway(t)
	status, _ := postChat(t, ts, map[string]any{"message": "hi", "session_id": "missing"})
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestChatUnsupportedAgentTypeIs400(t *testing.T) {
	_, ts := newTestGateway(t)
	status, _ := postChat(t, ts, map[string]any{"message": "hi", "agent_type": "Quant"})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestChatToolCallResponse(t *testing.T) {
	_, ts := newTestGateway(t)

	status, out := postChat(t, ts, map[string]any{"message": "analyze AAPL", "agent_type": "Calling"})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if out.ToolCall == nil || len(out.ToolCall.ToolCalls) != 1 {
		t.Fatalf("tool_call = %+v", out.ToolCall)
	}
	if out.ToolCall.ToolCalls[0].Name != "get_sec_report" {
		t.Fatalf("tool name = %q", out.ToolCall.ToolCalls[0].Name)
	}

	// An empty poll while a tool call is pending is rejected instead of
	// nudging the runtime forward.
	status, second := postChat(t, ts, map[string]any{"message": "  ", "session_id": out.SessionID})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if second.Error == nil || !strings.Contains(*second.Error, "feedback for the tool call") {
		t.Fatalf("error = %v, want pending-tool-call rejection", second.Error)
	}
	if second.ToolCall != nil {
		t.Fatal("tool_call returned alongside rejection")
	}
}

func TestChatRateLimitHeuristic(t *testing.T) {
	_, ts := newTestGateway(t)

	status, out := postChat(t, ts, map[string]any{"message": "hi", "agent_type": "Throttled"})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if out.Error == nil || !strings.Contains(*out.Error, "Rate limit exceeded") {
		t.Fatalf("error = %v, want rate limit message", out.Error)
	}
}

func TestChatTimeoutIsReportedNotFatal(t *testing.T) {
	server, ts := newTestGateway(t)
	server.config.Session.ResponseTimeout = 100 * time.Millisecond

	status, out := postChat(t, ts, map[string]any{"message": "hello", "agent_type": "Silent"})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if out.Error == nil || *out.Error != "No response received in time" {
		t.Fatalf("error = %v, want timeout report", out.Error)
	}
	if out.SessionID == "" {
		t.Fatal("timeout should still return the session id")
	}
}

func TestEndSession(t *testing.T) {
	_, ts := newTestGateway(t)

	_, out := postChat(t, ts, map[string]any{"message": "hello"})
	if out.SessionID == "" {
		t.Fatal("no session created")
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/session/"+out.SessionID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "success" || !strings.Contains(body["message"], out.SessionID) {
		t.Fatalf("body = %v", body)
	}

	// Second delete is a 404.
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/session/"+out.SessionID, nil)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE again: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp2.StatusCode)
	}
}

func TestListSessionsAndHistory(t *testing.T) {
	_, ts := newTestGateway(t)

	_, out := postChat(t, ts, map[string]any{"message": "hello"})

	resp, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	defer resp.Body.Close()
	var listing struct {
		Sessions []*models.Session `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Sessions) != 1 || listing.Sessions[0].ID != out.SessionID {
		t.Fatalf("sessions = %+v", listing.Sessions)
	}

	histResp, err := http.Get(fmt.Sprintf("%s/session/%s/history", ts.URL, out.SessionID))
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer histResp.Body.Close()
	var hist struct {
		SessionID string            `json:"session_id"`
		Messages  []*models.Message `json:"messages"`
	}
	if err := json.NewDecoder(histResp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Messages) != 2 {
		t.Fatalf("history has %d messages, want 2", len(hist.Messages))
	}
	if hist.Messages[1].Content != "hi there" {
		t.Fatalf("history[1] = %+v", hist.Messages[1])
	}

	missing, err := http.Get(ts.URL + "/session/nope/history")
	if err != nil {
		t.Fatalf("GET missing history: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing history status = %d, want 404", missing.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestGateway(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
