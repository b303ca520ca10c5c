package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/soaringjerry/Emtrip/internal/api"
	dbstore "github.com/soaringjerry/Emtrip/internal/db"
)

// MigrateIfNeeded copies the legacy JSON snapshot into a fresh SQLite database.
// It does nothing once the database file exists or when there is no snapshot.
func MigrateIfNeeded(snapshotPath, sqlitePath, migrationsDir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sqlitePath == "" {
		return errors.New("sqlite path is required")
	}
	if _, err := os.Stat(sqlitePath); err == nil {
		return nil // already migrated
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("check sqlite file: %w", err)
	}

	legacyStore, err := api.NewMemoryStoreFromPath(snapshotPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load legacy snapshot: %w", err)
	}
	snapshot := legacyStore.Snapshot()

	logger.Info("first run detected, migrating legacy snapshot", zap.String("snapshot", snapshotPath), zap.String("sqlite", sqlitePath))

	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0o755); err != nil {
		return fmt.Errorf("create sqlite dir: %w", err)
	}
	dst, sqliteDB, err := dbstore.Open(sqlitePath, migrationsDir, logger.Named("sqlite"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sqliteDB.Close(); cerr != nil {
			logger.Warn("failed to close sqlite db", zap.Error(cerr))
		}
	}()

	if err := copySnapshotToStore(context.Background(), snapshot, dst); err != nil {
		_ = sqliteDB.Close()
		removeSQLiteFiles(sqlitePath)
		return fmt.Errorf("copy data: %w", err)
	}

	logger.Info("data migration completed",
		zap.Int("values", len(snapshot.Values)),
		zap.Int("messages", len(snapshot.Messages)),
		zap.Int("audit", len(snapshot.Audit)))
	return nil
}

// removeSQLiteFiles deletes a database together with its WAL side files so a
// failed migration is retried from scratch on the next start.
func removeSQLiteFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		_ = os.Remove(path + suffix)
	}
}

func copySnapshotToStore(ctx context.Context, snap *api.LegacySnapshot, dst api.Store) error {
	for k, v := range snap.Values {
		if err := dst.PutValue(ctx, k, v); err != nil {
			return err
		}
	}
	for _, m := range snap.Messages {
		if m == nil {
			continue
		}
		if err := dst.AddMessage(ctx, m); err != nil {
			return err
		}
	}
	for _, entry := range snap.Audit {
		dst.AddAudit(entry)
	}
	return nil
}
