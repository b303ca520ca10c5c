package services

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// KVStore is the durable key-value contract of the device storage plugin.
// Get returns nil when the key has never been written.
type KVStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value any) error
}

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type AuditEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
	Note   string
}

// truthy mirrors the loose "any value present" check used for persisted flags:
// absent, null, false, 0 and "" are false, everything else is true.
func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
