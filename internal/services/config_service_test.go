package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinStudyStoresOpcode(t *testing.T) {
	kv := newStubKV()
	client := &stubHTTPClient{bodies: map[string]string{
		"https://studies.example.org/demo.json": `{"version":2,"study_name":"demo","server":{"connectUrl":"https://api.example.org"}}`,
	}}
	svc := NewConfigService(kv, client, nil)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	cfg, err := svc.JoinStudy(context.Background(), " nrelop_demo_x ", "https://studies.example.org/demo.json")
	require.NoError(t, err)
	require.NotNil(t, cfg.Joined)
	assert.Equal(t, "nrelop_demo_x", cfg.Joined.Opcode)

	got, err := svc.GetConfig(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "demo", got.StudyName)
	assert.Equal(t, "https://api.example.org", got.Server.ConnectURL)
	assert.Equal(t, "nrelop_demo_x", got.Joined.Opcode)
}

func TestGetConfigAbsent(t *testing.T) {
	svc := NewConfigService(newStubKV(), &stubHTTPClient{}, nil)
	cfg, err := svc.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestJoinStudyFetchFailureWritesNothing(t *testing.T) {
	kv := newStubKV()
	svc := NewConfigService(kv, &stubHTTPClient{status: http.StatusInternalServerError, bodies: map[string]string{"https://x/c.json": "{}"}}, nil)

	_, err := svc.JoinStudy(context.Background(), "op", "https://x/c.json")
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorFetch, se.Code)
	assert.Empty(t, kv.setKeys)
}

func TestJoinStudyRequiresOpcode(t *testing.T) {
	svc := NewConfigService(newStubKV(), &stubHTTPClient{}, nil)
	_, err := svc.JoinStudy(context.Background(), "", "https://x/c.json")
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorInvalid, se.Code)
}

func TestGetConfigCorruptValue(t *testing.T) {
	kv := newStubKV()
	kv.values[AppConfigKey] = []byte(`"not an object"`)
	svc := NewConfigService(kv, &stubHTTPClient{}, nil)
	_, err := svc.GetConfig(context.Background())
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorStoreRead, se.Code)
}

func TestJoinStudyUnknownConfig(t *testing.T) {
	svc := NewConfigService(newStubKV(), &stubHTTPClient{}, nil)
	_, err := svc.JoinStudy(context.Background(), "op", "https://x/missing.json")
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorNotFound, se.Code)
}

func TestJoinStudyMalformedConfig(t *testing.T) {
	kv := newStubKV()
	svc := NewConfigService(kv, &stubHTTPClient{bodies: map[string]string{"https://x/c.json": "<html>"}}, nil)
	_, err := svc.JoinStudy(context.Background(), "op", "https://x/c.json")
	se, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorBadGateway, se.Code)
	assert.Empty(t, kv.setKeys)
}
