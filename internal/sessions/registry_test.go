package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/finagent/internal/runtime"
	"github.com/haasonsaas/finagent/pkg/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(RegistryConfig{
		Factory:  basicFactory(),
		Defaults: Defaults{AgentType: "Basic"},
	})
	t.Cleanup(r.Shutdown)
	return r
}

func TestGetOrCreateNew(t *testing.T) {
	r := newTestRegistry(t)

	s, created, err := r.GetOrCreate("", "Basic", models.AgentConfig{})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created {
		t.Fatal("created = false for fresh session")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}

	got, err := r.Get(s.ID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != s {
		t.Fatal("Get returned different session instance")
	}
}

func TestGetOrCreateExistingID(t *testing.T) {
	r := newTestRegistry(t)

	s, _, err := r.GetOrCreate("", "Basic", models.AgentConfig{})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	got, created, err := r.GetOrCreate(s.ID(), "", models.AgentConfig{})
	if err != nil {
		t.Fatalf("GetOrCreate existing: %v", err)
	}
	if created {
		t.Fatal("created = true for existing id")
	}
	if got != s {
		t.Fatal("lookup returned different session")
	}

	// A named id that does not exist is a lookup failure, not a creation.
	if _, _, err := r.GetOrCreate("no-such-id", "", models.AgentConfig{}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("GetOrCreate unknown id error = %v, want ErrSessionNotFound", err)
	}
}

func TestGetOrCreateAppliesDefaults(t *testing.T) {
	r := newTestRegistry(t)

	s, _, err := r.GetOrCreate("", "", models.AgentConfig{})
	if err != nil {
		t.Fatalf("GetOrCreate with empty agent type: %v", err)
	}
	if s.AgentType() != "Basic" {
		t.Fatalf("AgentType = %q, want default Basic", s.AgentType())
	}
}

func TestGetNotFound(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get error = %v, want ErrSessionNotFound", err)
	}
}

func TestCreateUnsupportedAgentType(t *testing.T) {
	r := newTestRegistry(t)
	if _, _, err := r.GetOrCreate("", "Quant", models.AgentConfig{}); !errors.Is(err, ErrUnsupportedAgentType) {
		t.Fatalf("GetOrCreate error = %v, want ErrUnsupportedAgentType", err)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	r := newTestRegistry(t)

	s, _, err := r.GetOrCreate("", "Basic", models.AgentConfig{})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if !r.Remove(s.ID()) {
		t.Fatal("Remove = false for live session")
	}
	if r.Remove(s.ID()) {
		t.Fatal("Remove = true for already-removed session")
	}
	if _, err := r.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get after Remove error = %v, want ErrSessionNotFound", err)
	}
}

func TestEvictIdleSkipsRunning(t *testing.T) {
	factory := basicFactory()
	factory.Register("Slow", func(cfg models.AgentConfig, hooks runtime.Hooks) (runtime.Runtime, error) {
		return runtimeFunc(func(ctx context.Context, input string, maxTurns int) error {
			<-ctx.Done()
			return ctx.Err()
		}), nil
	})
	r := NewRegistry(RegistryConfig{Factory: factory})
	defer r.Shutdown()

	idle, _, err := r.GetOrCreate("", "Basic", models.AgentConfig{})
	if err != nil {
		t.Fatalf("GetOrCreate idle: %v", err)
	}
	busy, _, err := r.GetOrCreate("", "Slow", models.AgentConfig{})
	if err != nil {
		t.Fatalf("GetOrCreate busy: %v", err)
	}
	busy.Send("work")

	time.Sleep(30 * time.Millisecond)

	if n := r.EvictIdle(10 * time.Millisecond); n != 1 {
		t.Fatalf("EvictIdle = %d, want 1", n)
	}
	if _, err := r.Get(idle.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("idle session not evicted")
	}
	if _, err := r.Get(busy.ID()); err != nil {
		t.Fatalf("running session evicted: %v", err)
	}
}

func TestShutdownTerminatesAll(t *testing.T) {
	r := newTestRegistry(t)

	var ids []string
	for i := 0; i < 3; i++ {
		s, _, err := r.GetOrCreate("", "Basic", models.AgentConfig{})
		if err != nil {
			t.Fatalf("GetOrCreate: %v", err)
		}
		ids = append(ids, s.ID())
	}

	r.Shutdown()

	if r.Len() != 0 {
		t.Fatalf("Len after Shutdown = %d, want 0", r.Len())
	}
	for _, id := range ids {
		if _, err := r.Get(id); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("session %s survived Shutdown", id)
		}
	}
}
