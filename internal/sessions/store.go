package sessions

import (
	"context"

	"github.com/haasonsaas/finagent/pkg/models"
)

// Store is the interface for session and transcript persistence. The live
// session state (queues, worker) never touches the store; only the durable
// record and the message log do.
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, opts ListOptions) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	History(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	Close() error
}

// ListOptions configures session listing.
type ListOptions struct {
	AgentType string
	Limit     int
	Offset    int
}
