package sessions

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/finagent/internal/observability"
	"github.com/haasonsaas/finagent/internal/runtime"
	"github.com/haasonsaas/finagent/pkg/models"
)

// Registry is the process-wide mapping from session id to live Session. It
// is an explicit object handed to every transport handler; a single mutex
// guards insert and remove, while each session's internal state needs no
// cross-session locking.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	factory  *runtime.Factory
	store    Store
	logger   *slog.Logger
	metrics  *observability.Metrics
	defaults Defaults
}

// Defaults are applied when a client creates a session without naming an
// agent type.
type Defaults struct {
	AgentType   string
	AgentConfig models.AgentConfig
	MaxTurns    int
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Factory  *runtime.Factory
	Store    Store
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Defaults Defaults
}

// NewRegistry creates an empty session registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: map[string]*Session{},
		factory:  cfg.Factory,
		store:    cfg.Store,
		logger:   logger,
		metrics:  cfg.Metrics,
		defaults: cfg.Defaults,
	}
}

// Get returns the live session for id, or ErrSessionNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, nil
}

// GetOrCreate returns the existing session when sessionID is given (failing
// with ErrSessionNotFound if absent), or creates a new one keyed by its
// generated id when sessionID is empty. The second return reports whether a
// session was created.
func (r *Registry) GetOrCreate(sessionID, agentType string, agentConfig models.AgentConfig) (*Session, bool, error) {
	if sessionID != "" {
		session, err := r.Get(sessionID)
		return session, false, err
	}

	if agentType == "" {
		agentType = r.defaults.AgentType
	}
	if agentConfig.Profile == "" && r.defaults.AgentConfig.Profile != "" {
		agentConfig = r.defaults.AgentConfig
	}

	session, err := New(Config{
		AgentType:   agentType,
		AgentConfig: agentConfig,
		Factory:     r.factory,
		Store:       r.store,
		Logger:      r.logger,
		Metrics:     r.metrics,
		MaxTurns:    r.defaults.MaxTurns,
	})
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	r.sessions[session.ID()] = session
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(float64(count))
	}
	return session, true, nil
}

// Remove terminates and deletes the session. Removing a missing id is not an
// error at this layer; the return reports whether an entry was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if ok {
		session.Terminate()
		if r.metrics != nil {
			r.metrics.ActiveSessions.Set(float64(count))
		}
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns the live sessions' ids.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// EvictIdle removes sessions whose last activity is older than ttl and that
// have no live worker. It returns how many sessions were evicted.
func (r *Registry) EvictIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	var stale []*Session
	for id, session := range r.sessions {
		if session.LastActive().Before(cutoff) && !session.Running() {
			delete(r.sessions, id)
			stale = append(stale, session)
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	for _, session := range stale {
		r.logger.Info("evicting idle session", "session_id", session.ID())
		session.Terminate()
	}
	if len(stale) > 0 && r.metrics != nil {
		r.metrics.ActiveSessions.Set(float64(count))
	}
	return len(stale)
}

// Shutdown terminates every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		all = append(all, session)
	}
	r.sessions = map[string]*Session{}
	r.mu.Unlock()

	for _, session := range all {
		session.Terminate()
	}
	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(0)
	}
}
