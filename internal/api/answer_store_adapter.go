package api

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soaringjerry/Emtrip/internal/models"
	"github.com/soaringjerry/Emtrip/internal/services"
)

// answerStoreAdapter exposes survey answers kept in the message store.
type answerStoreAdapter struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

func newAnswerStoreAdapter(store Store, logger *zap.Logger) *answerStoreAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &answerStoreAdapter{store: store, now: time.Now, logger: logger}
}

func (a *answerStoreAdapter) GetAllMessages(ctx context.Context, key string, includeDeleted bool) ([]models.StoredAnswer, error) {
	msgs, err := a.store.ListMessages(ctx, key, includeDeleted)
	if err != nil {
		return nil, err
	}
	out := make([]models.StoredAnswer, 0, len(msgs))
	for _, m := range msgs {
		var ans models.StoredAnswer
		if err := json.Unmarshal(m.Data, &ans); err != nil {
			a.logger.Warn("skipping malformed stored answer", zap.String("id", m.ID), zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, ans)
	}
	return out, nil
}

func (a *answerStoreAdapter) PutMessage(ctx context.Context, key string, answer models.StoredAnswer) error {
	b, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return a.store.AddMessage(ctx, &models.Message{
		ID:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		Key:     key,
		Data:    b,
		WriteTs: float64(a.now().UnixMilli()) / 1000,
	})
}

var _ services.AnswerStore = (*answerStoreAdapter)(nil)
