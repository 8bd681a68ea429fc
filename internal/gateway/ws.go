package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/finagent/internal/sessions"
	"github.com/haasonsaas/finagent/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsWriteWait       = 10 * time.Second

	defaultResponseTimeout = 30 * time.Second
	defaultDrainTimeout    = time.Second
)

// wsClientFrame is what clients send: a config frame to open the session,
// then message frames carrying user text.
type wsClientFrame struct {
	Type        string              `json:"type"`
	AgentType   string              `json:"agent_type,omitempty"`
	AgentConfig *models.AgentConfig `json:"agent_config,omitempty"`
	Content     string              `json:"content,omitempty"`
}

// wsServerFrame wraps each relayed message with its session id.
type wsServerFrame struct {
	SessionID string          `json:"session_id"`
	Message   *models.Message `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type wsHandler struct {
	server   *Server
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func (s *Server) newWSHandler() http.Handler {
	return &wsHandler{
		server: s,
		logger: s.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxPayloadBytes)

	session, err := h.handshake(conn)
	if err != nil {
		h.logger.Debug("ws handshake failed", "error", err)
		return
	}
	defer h.server.registry.Remove(session.ID())

	h.logger.Info("ws session opened", "session_id", session.ID(), "agent_type", session.AgentType())

	for {
		frame, err := h.readFrame(conn)
		if err != nil {
			return
		}
		if frame.Type != "message" {
			h.writeFrame(conn, &wsServerFrame{
				SessionID: session.ID(),
				Error:     fmt.Sprintf("unexpected frame type %q", frame.Type),
			})
			continue
		}

		session.Send(frame.Content)
		if err := h.stream(conn, session); err != nil {
			return
		}
	}
}

// handshake consumes the config frame and creates the session.
func (h *wsHandler) handshake(conn *websocket.Conn) (*sessions.Session, error) {
	frame, err := h.readFrame(conn)
	if err != nil {
		return nil, err
	}
	if frame.Type != "config" {
		h.writeFrame(conn, &wsServerFrame{Error: "first frame must be config"})
		return nil, fmt.Errorf("first frame was %q", frame.Type)
	}

	agentConfig := models.AgentConfig{}
	if frame.AgentConfig != nil {
		agentConfig = *frame.AgentConfig
	}
	session, _, err := h.server.registry.GetOrCreate("", frame.AgentType, agentConfig)
	if err != nil {
		h.writeFrame(conn, &wsServerFrame{Error: err.Error()})
		return nil, err
	}
	return session, nil
}

// stream relays outbound messages to the client until the queue drains or
// the worker asks for input. The first pop waits the full response timeout;
// once something arrived, subsequent pops use the short drain timeout so a
// settled queue hands control back to the client promptly.
func (h *wsHandler) stream(conn *websocket.Conn, session *sessions.Session) error {
	responseTimeout := h.server.config.Session.ResponseTimeout
	if responseTimeout <= 0 {
		responseTimeout = defaultResponseTimeout
	}
	drainTimeout := h.server.config.Session.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}

	timeout := responseTimeout
	for {
		msg := session.Receive(timeout)
		if msg == nil {
			return nil
		}
		if err := h.writeFrame(conn, &wsServerFrame{SessionID: session.ID(), Message: msg}); err != nil {
			return err
		}
		if msg.IsRequestReply() {
			// Worker is blocked on input; the next client frame resolves it.
			return nil
		}
		timeout = drainTimeout
	}
}

func (h *wsHandler) readFrame(conn *websocket.Conn) (*wsClientFrame, error) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame wsClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
		return &frame, nil
	}
}

func (h *wsHandler) writeFrame(conn *websocket.Conn, frame *wsServerFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
