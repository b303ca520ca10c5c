package api

import (
	"context"
	"encoding/json"

	"github.com/soaringjerry/Emtrip/internal/services"
)

type kvStoreAdapter struct {
	store Store
}

func newKVStoreAdapter(store Store) services.KVStore {
	return &kvStoreAdapter{store: store}
}

func (a *kvStoreAdapter) Get(ctx context.Context, key string) (json.RawMessage, error) {
	return a.store.GetValue(ctx, key)
}

func (a *kvStoreAdapter) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return a.store.PutValue(ctx, key, b)
}

var _ services.KVStore = (*kvStoreAdapter)(nil)
