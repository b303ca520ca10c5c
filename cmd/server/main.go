package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/soaringjerry/Emtrip/internal/api"
	"github.com/soaringjerry/Emtrip/internal/config"
	dbstore "github.com/soaringjerry/Emtrip/internal/db"
	"github.com/soaringjerry/Emtrip/internal/forms"
	"github.com/soaringjerry/Emtrip/internal/middleware"
	"github.com/soaringjerry/Emtrip/internal/services"
	"github.com/soaringjerry/Emtrip/internal/utils"
)

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "emtrip-server",
	Short: "Local API for onboarding and trip survey sessions",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		zc := zap.NewProductionConfig()
		if verbose || cfg.Logging.Debug {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy a legacy JSON snapshot into a new SQLite database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return MigrateIfNeeded(cfg.Storage.SnapshotPath, cfg.Storage.SQLitePath, cfg.Storage.MigrationsDir, logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore returns the configured backend and a func releasing it.
func openStore() (api.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		if cfg.Storage.SnapshotPath == "" {
			return api.NewMemoryStore(), func() {}, nil
		}
		s, err := api.OpenMemoryStore(cfg.Storage.SnapshotPath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		if err := MigrateIfNeeded(cfg.Storage.SnapshotPath, cfg.Storage.SQLitePath, cfg.Storage.MigrationsDir, logger); err != nil {
			return nil, nil, fmt.Errorf("legacy migration: %w", err)
		}
		s, sqliteDB, err := dbstore.Open(cfg.Storage.SQLitePath, cfg.Storage.MigrationsDir, logger.Named("sqlite"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := sqliteDB.Close(); err != nil {
				logger.Warn("failed to close sqlite db", zap.Error(err))
			}
		}, nil
	}
}

func serve(ctx context.Context) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	auth := middleware.NewAuth(cfg.Auth.JWTSecret)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("EMTRIP_JWT_SECRET not set, using development secret")
	}
	router := api.NewRouter(store, api.RouterOptions{
		Auth:        auth,
		TokenTTL:    cfg.GetTokenTTL(),
		Client:      &http.Client{Timeout: cfg.GetFormTimeout()},
		FormFactory: forms.Factory,
		Consent: services.ConsentRequirement{
			Category:     cfg.Consent.Category,
			ApprovalDate: cfg.Consent.ApprovalDate,
		},
		Survey: services.SurveyOptions{
			RestorableKeys: cfg.Survey.RestorableKeys,
			FetchTimeout:   cfg.GetFormTimeout(),
		},
		Logger: logger,
	})

	mux := http.NewServeMux()
	router.Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		locale := middleware.LocaleFromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "Emtrip API",
			"locale":     locale,
			"msg":        utils.T(locale, "health.ok"),
			"backend":    cfg.Storage.Backend,
			"commit":     cfg.Server.Commit,
			"build_time": cfg.Server.BuildTime,
		})
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     cfg.Server.Commit,
			"build_time": cfg.Server.BuildTime,
		})
	})

	handler := middleware.CORS(cfg.Server.CORSOrigin)(
		middleware.SecureHeaders(middleware.NoStore(middleware.LocaleMiddleware(mux))))
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Emtrip server listening", zap.String("addr", cfg.Server.Addr), zap.String("backend", cfg.Storage.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
