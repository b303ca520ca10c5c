package api

import (
	"context"
	"encoding/json"

	"github.com/soaringjerry/Emtrip/internal/models"
)

// Store is the persistence contract shared by the in-memory and SQLite
// backends. GetValue returns nil for a key that was never written.
type Store interface {
	GetValue(ctx context.Context, key string) (json.RawMessage, error)
	PutValue(ctx context.Context, key string, value json.RawMessage) error

	AddMessage(ctx context.Context, m *models.Message) error
	// ListMessages returns the messages under key in write order.
	ListMessages(ctx context.Context, key string, includeDeleted bool) ([]*models.Message, error)

	AddAudit(e AuditEntry)
	ListAudit() []AuditEntry
}

var _ Store = (*MemoryStore)(nil)
