package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/haasonsaas/finagent/internal/sessions"
	"github.com/haasonsaas/finagent/pkg/models"
)

// autoReplyText is sent to the runtime when a client polls with an empty
// message to let the agent continue its turn.
const autoReplyText = "auto reply"

var rateLimitStrings = []string{"429", "rate limit", "too many requests"}

type chatRequest struct {
	Message     string              `json:"message"`
	SessionID   string              `json:"session_id,omitempty"`
	AgentType   string              `json:"agent_type,omitempty"`
	AgentConfig *models.AgentConfig `json:"agent_config,omitempty"`
}

type chatResponse struct {
	SessionID string          `json:"session_id"`
	Response  *string         `json:"response"`
	ToolCall  *toolCallDetail `json:"tool_call"`
	Error     *string         `json:"error"`
}

type toolCallDetail struct {
	Content   string            `json:"content,omitempty"`
	ToolCalls []models.ToolCall `json:"tool_calls"`
}

// handleChat is the synchronous polling transport: send one message, wait up
// to the response timeout for the first substantive reply.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	var (
		session *sessions.Session
		err     error
	)
	if req.SessionID != "" {
		session, err = s.registry.Get(req.SessionID)
		if err != nil {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
	} else {
		agentConfig := models.AgentConfig{}
		if req.AgentConfig != nil {
			agentConfig = *req.AgentConfig
		}
		session, _, err = s.registry.GetOrCreate("", req.AgentType, agentConfig)
		if err != nil {
			if errors.Is(err, sessions.ErrUnsupportedAgentType) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.logger.Info("created session", "session_id", session.ID(), "agent_type", session.AgentType())
	}

	isAutoReply := strings.TrimSpace(req.Message) == ""
	text := req.Message
	if isAutoReply {
		text = autoReplyText
	}

	reply := session.SendAndWait(text, s.config.Session.ResponseTimeout)

	resp := chatResponse{SessionID: session.ID()}
	switch {
	case reply == nil:
		resp.Error = strptr("No response received in time")
	case reply.IsToolCall():
		if isAutoReply {
			resp.Error = strptr("Please provide feedback for the tool call before continuing.")
		} else {
			resp.ToolCall = &toolCallDetail{Content: reply.Content, ToolCalls: reply.ToolCalls}
		}
	case reply.IsError():
		resp.Error = strptr(reply.Content)
	default:
		resp.Response = strptr(reply.Content)
	}

	// Surface provider throttling as a transport-level error so pollers
	// back off instead of retrying immediately.
	if reply != nil && isRateLimited(reply.Content) {
		resp.Error = strptr("Rate limit exceeded. Please try again in a few minutes.")
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleEndSession terminates a session and removes it from the registry.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.Remove(id) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if s.store != nil {
		if err := s.store.DeleteSession(r.Context(), id); err != nil {
			s.logger.Warn("delete persisted session failed", "session_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Session %s ended", id),
	})
}

// handleListSessions returns persisted session records.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": []any{}})
		return
	}
	records, err := s.store.ListSessions(r.Context(), sessions.ListOptions{
		AgentType: r.URL.Query().Get("agent_type"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

// handleHistory returns the transcript for a session, preferring the live
// in-memory transcript and falling back to the store for ended sessions.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if session, err := s.registry.Get(id); err == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": id,
			"messages":   session.History(),
		})
		return
	}

	if s.store != nil {
		msgs, err := s.store.History(r.Context(), id, 0)
		if err == nil && len(msgs) > 0 {
			writeJSON(w, http.StatusOK, map[string]any{
				"session_id": id,
				"messages":   msgs,
			})
			return
		}
	}

	writeError(w, http.StatusNotFound, "Session not found")
}

func isRateLimited(content string) bool {
	lowered := strings.ToLower(content)
	for _, s := range rateLimitStrings {
		if strings.Contains(lowered, s) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func strptr(s string) *string { return &s }
