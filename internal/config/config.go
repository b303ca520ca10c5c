package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/Emtrip/internal/utils"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "emtrip.yaml"

// Config holds all server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Survey  SurveyConfig  `yaml:"survey"`
	Consent ConsentConfig `yaml:"consent"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"cors_origin"`
	Commit     string `yaml:"-"`
	BuildTime  string `yaml:"-"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend       string `yaml:"backend"` // memory, sqlite
	SQLitePath    string `yaml:"sqlite_path"`
	SnapshotPath  string `yaml:"snapshot_path"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTL  string `yaml:"token_ttl"`
}

// SurveyConfig configures survey form loading.
type SurveyConfig struct {
	FormTimeout    string   `yaml:"form_timeout"`
	RestorableKeys []string `yaml:"restorable_keys"`
}

// ConsentConfig names the protocol version participants must approve.
type ConsentConfig struct {
	Category     string `yaml:"category"`
	ApprovalDate string `yaml:"approval_date"`
}

type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// ValidBackends lists the supported storage backends.
var ValidBackends = []string{"memory", "sqlite"}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080", CORSOrigin: "*"},
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "data/emtrip.db",
		},
		Auth: AuthConfig{TokenTTL: "720h"},
		Survey: SurveyConfig{
			FormTimeout:    "30s",
			RestorableKeys: []string{"manual/confirm_survey"},
		},
		Consent: ConsentConfig{Category: "emTripLog", ApprovalDate: "2016-07-14"},
	}
}

// Load reads the YAML file at path and applies EMTRIP_* overrides. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Addr = utils.SafeEnv("EMTRIP_ADDR", c.Server.Addr)
	c.Server.CORSOrigin = utils.SafeEnv("EMTRIP_CORS_ORIGIN", c.Server.CORSOrigin)
	c.Server.Commit = utils.SafeEnv("EMTRIP_COMMIT", c.Server.Commit)
	c.Server.BuildTime = utils.SafeEnv("EMTRIP_BUILD_TIME", c.Server.BuildTime)
	c.Storage.Backend = utils.SafeEnv("EMTRIP_STORAGE", c.Storage.Backend)
	c.Storage.SQLitePath = utils.SafeEnv("EMTRIP_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.SnapshotPath = utils.SafeEnv("EMTRIP_SNAPSHOT_PATH", c.Storage.SnapshotPath)
	c.Storage.MigrationsDir = utils.SafeEnv("EMTRIP_MIGRATIONS_DIR", c.Storage.MigrationsDir)
	c.Auth.JWTSecret = utils.SafeEnv("EMTRIP_JWT_SECRET", c.Auth.JWTSecret)
	c.Survey.FormTimeout = utils.SafeEnv("EMTRIP_FORM_TIMEOUT", c.Survey.FormTimeout)
	if keys := utils.EnvList("EMTRIP_RESTORABLE_KEYS"); len(keys) > 0 {
		c.Survey.RestorableKeys = keys
	}
	c.Logging.Debug = utils.EnvBool("EMTRIP_DEBUG", c.Logging.Debug)
}

// GetTokenTTL returns the bearer token lifetime.
func (c *Config) GetTokenTTL() time.Duration {
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// GetFormTimeout returns the survey form download timeout.
func (c *Config) GetFormTimeout() time.Duration {
	d, err := time.ParseDuration(c.Survey.FormTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server address not configured")
	}
	valid := false
	for _, b := range ValidBackends {
		if c.Storage.Backend == b {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid storage backend: %s (valid: %v)", c.Storage.Backend, ValidBackends)
	}
	if c.Storage.Backend == "sqlite" && strings.TrimSpace(c.Storage.SQLitePath) == "" {
		return fmt.Errorf("sqlite backend requires storage.sqlite_path")
	}
	for name, v := range map[string]string{"auth.token_ttl": c.Auth.TokenTTL, "survey.form_timeout": c.Survey.FormTimeout} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, v)
		}
	}
	if c.Consent.ApprovalDate == "" {
		return fmt.Errorf("consent.approval_date not configured")
	}
	return nil
}
