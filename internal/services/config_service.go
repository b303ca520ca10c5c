package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/Emtrip/internal/models"
)

// AppConfigKey is where the joined study config is kept.
const AppConfigKey = "config/app_ui_config"

// maxConfigBytes bounds downloaded study configs.
const maxConfigBytes = 1 << 20

type ConfigService struct {
	kv     KVStore
	client HTTPClient
	now    func() time.Time
	logger *zap.Logger
}

func NewConfigService(kv KVStore, client HTTPClient, logger *zap.Logger) *ConfigService {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigService{
		kv:     kv,
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// GetConfig returns the stored study config, or nil before the user has joined.
func (s *ConfigService) GetConfig(ctx context.Context) (*models.AppConfig, error) {
	raw, err := s.kv.Get(ctx, AppConfigKey)
	if err != nil {
		return nil, err
	}
	if !truthy(raw) {
		return nil, nil
	}
	var cfg models.AppConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, NewStoreReadError("decode stored config", err)
	}
	return &cfg, nil
}

// JoinStudy downloads the study config from configURL, stamps the opcode the
// user joined with and stores it. Nothing is written if the download fails.
func (s *ConfigService) JoinStudy(ctx context.Context, opcode, configURL string) (*models.AppConfig, error) {
	opcode = strings.TrimSpace(opcode)
	if opcode == "" || strings.TrimSpace(configURL) == "" {
		return nil, NewInvalidError("opcode and config_url required")
	}
	cfg, err := s.fetchConfig(ctx, configURL)
	if err != nil {
		return nil, err
	}
	cfg.Joined = &models.JoinedInfo{Opcode: opcode, ConfigURL: configURL, JoinedAt: s.now()}
	if err := s.kv.Set(ctx, AppConfigKey, cfg); err != nil {
		return nil, NewPersistenceError("write config", err)
	}
	s.logger.Info("joined study", zap.String("study", cfg.StudyName), zap.Int("version", cfg.Version))
	return cfg, nil
}

func (s *ConfigService) fetchConfig(ctx context.Context, configURL string) (*models.AppConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return nil, NewInvalidError("invalid config_url")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, NewFetchError("download config", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, NewNotFoundError("no study config at config_url")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewFetchError("download config", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigBytes))
	if err != nil {
		return nil, NewFetchError("read config body", err)
	}
	var cfg models.AppConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, &ServiceError{Code: ErrorBadGateway, Message: "study config is not valid JSON", Err: err}
	}
	return &cfg, nil
}
