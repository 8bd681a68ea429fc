package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/finagent/pkg/models"
)

// storeUnderTest runs the shared store contract tests against each backend.
func storeUnderTest(t *testing.T, name string) Store {
	t.Helper()
	switch name {
	case "memory":
		return NewMemoryStore()
	case "sqlite":
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "finagent.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		return store
	default:
		t.Fatalf("unknown store backend %q", name)
		return nil
	}
}

func TestStoreSessionLifecycle(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			store := storeUnderTest(t, backend)
			defer store.Close()
			ctx := context.Background()

			record := &models.Session{
				ID:        "sess-1",
				AgentType: "SingleAssistantShadow",
				AgentConfig: models.AgentConfig{
					Profile:  "Expert_Investor",
					Provider: "openai",
				},
				CreatedAt: time.Now().UTC().Truncate(time.Second),
			}
			if err := store.CreateSession(ctx, record); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			got, err := store.GetSession(ctx, "sess-1")
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if got.AgentType != record.AgentType {
				t.Fatalf("AgentType = %q, want %q", got.AgentType, record.AgentType)
			}
			if got.AgentConfig.Profile != "Expert_Investor" {
				t.Fatalf("AgentConfig.Profile = %q", got.AgentConfig.Profile)
			}

			if _, err := store.GetSession(ctx, "missing"); err == nil {
				t.Fatal("GetSession(missing) succeeded")
			}

			if err := store.DeleteSession(ctx, "sess-1"); err != nil {
				t.Fatalf("DeleteSession: %v", err)
			}
			if _, err := store.GetSession(ctx, "sess-1"); err == nil {
				t.Fatal("GetSession succeeded after delete")
			}
		})
	}
}

func TestStoreListSessions(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			store := storeUnderTest(t, backend)
			defer store.Close()
			ctx := context.Background()

			base := time.Now().UTC().Truncate(time.Second)
			for i := 0; i < 3; i++ {
				agentType := "Basic"
				if i == 1 {
					agentType = "SingleAssistantShadow"
				}
				err := store.CreateSession(ctx, &models.Session{
					ID:        fmt.Sprintf("sess-%d", i),
					AgentType: agentType,
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				})
				if err != nil {
					t.Fatalf("CreateSession %d: %v", i, err)
				}
			}

			all, err := store.ListSessions(ctx, ListOptions{})
			if err != nil {
				t.Fatalf("ListSessions: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("ListSessions returned %d, want 3", len(all))
			}

			filtered, err := store.ListSessions(ctx, ListOptions{AgentType: "SingleAssistantShadow"})
			if err != nil {
				t.Fatalf("ListSessions filtered: %v", err)
			}
			if len(filtered) != 1 || filtered[0].ID != "sess-1" {
				t.Fatalf("filtered = %+v", filtered)
			}

			limited, err := store.ListSessions(ctx, ListOptions{Limit: 2})
			if err != nil {
				t.Fatalf("ListSessions limited: %v", err)
			}
			if len(limited) != 2 {
				t.Fatalf("limited returned %d, want 2", len(limited))
			}
		})
	}
}

func TestStoreTranscript(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			store := storeUnderTest(t, backend)
			defer store.Close()
			ctx := context.Background()

			if err := store.CreateSession(ctx, &models.Session{ID: "sess-1", AgentType: "Basic", CreatedAt: time.Now().UTC()}); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			msgs := []*models.Message{
				{ID: "m1", Role: models.RoleUser, Content: "hello", CreatedAt: time.Now().UTC()},
				{ID: "m2", Role: models.RoleAssistant, Content: "hi there", CreatedAt: time.Now().UTC()},
				{
					ID:   "m3",
					Role: models.RoleAssistant,
					ToolCalls: []models.ToolCall{
						{ID: "c1", Name: "get_sec_report", Input: json.RawMessage(`{"symbol":"AAPL"}`)},
					},
					Metadata:  map[string]any{models.MetaToolCall: true},
					CreatedAt: time.Now().UTC(),
				},
			}
			for _, msg := range msgs {
				if err := store.AppendMessage(ctx, "sess-1", msg); err != nil {
					t.Fatalf("AppendMessage %s: %v", msg.ID, err)
				}
			}

			history, err := store.History(ctx, "sess-1", 0)
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if len(history) != 3 {
				t.Fatalf("History returned %d messages, want 3", len(history))
			}
			if history[0].Content != "hello" || history[1].Content != "hi there" {
				t.Fatalf("history out of order: %q, %q", history[0].Content, history[1].Content)
			}
			if len(history[2].ToolCalls) != 1 || history[2].ToolCalls[0].Name != "get_sec_report" {
				t.Fatalf("tool calls not persisted: %+v", history[2])
			}
			if !history[2].IsToolCall() {
				t.Fatal("metadata not persisted")
			}

			limited, err := store.History(ctx, "sess-1", 2)
			if err != nil {
				t.Fatalf("History limited: %v", err)
			}
			if len(limited) != 2 {
				t.Fatalf("limited history returned %d, want 2", len(limited))
			}
		})
	}
}
