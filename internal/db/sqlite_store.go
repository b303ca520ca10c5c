package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/soaringjerry/Emtrip/internal/api"
	"github.com/soaringjerry/Emtrip/internal/models"
)

type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(db *sql.DB, logger *zap.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Open opens the database at path, applies migrations and returns the store.
// The caller owns the returned *sql.DB.
func Open(path, migrationsDir string, logger *zap.Logger) (*SQLiteStore, *sql.DB, error) {
	sqliteDB, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := RunMigrations(sqliteDB, migrationsDir); err != nil {
		_ = sqliteDB.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	store, err := NewSQLiteStore(sqliteDB, logger)
	if err != nil {
		_ = sqliteDB.Close()
		return nil, nil, err
	}
	return store, sqliteDB, nil
}

// DSN builds the go-sqlite3 connection string for path.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", strings.ReplaceAll(path, "\\", "/"))
}

func (s *SQLiteStore) logErr(prefix string, err error) {
	if err != nil {
		s.logger.Warn("sqlite store: "+prefix, zap.Error(err))
	}
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func int64ToBool(v int64) bool { return v != 0 }

func (s *SQLiteStore) GetValue(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return json.RawMessage(value), nil
}

func (s *SQLiteStore) PutValue(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return errors.New("value is not valid JSON")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, m *models.Message) error {
	if m == nil || m.ID == "" || m.Key == "" {
		return errors.New("message id and key required")
	}
	data := string(m.Data)
	if data == "" {
		data = "null"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, key, data, write_ts, deleted) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Key, data, m.WriteTs, boolToInt64(m.Deleted))
	if err != nil {
		return fmt.Errorf("add message %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, key string, includeDeleted bool) ([]*models.Message, error) {
	query := `SELECT id, key, data, write_ts, deleted FROM messages WHERE key = ?`
	if !includeDeleted {
		query += ` AND deleted = 0`
	}
	query += ` ORDER BY write_ts, seq`
	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", key, err)
	}
	defer rows.Close()
	out := []*models.Message{}
	for rows.Next() {
		var (
			m       models.Message
			data    string
			deleted int64
		)
		if err := rows.Scan(&m.ID, &m.Key, &data, &m.WriteTs, &deleted); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Data = json.RawMessage(data)
		m.Deleted = int64ToBool(deleted)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages %s: %w", key, err)
	}
	return out, nil
}

func (s *SQLiteStore) AddAudit(e api.AuditEntry) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	var note sql.NullString
	if strings.TrimSpace(e.Note) != "" {
		note = sql.NullString{String: e.Note, Valid: true}
	}
	_, err := s.db.Exec(`INSERT INTO audit_log (time, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		e.Time.UTC().Format(time.RFC3339Nano), e.Actor, e.Action, e.Target, note)
	s.logErr("add audit", err)
}

func (s *SQLiteStore) ListAudit() []api.AuditEntry {
	rows, err := s.db.Query(`SELECT time, actor, action, target, note FROM audit_log ORDER BY seq`)
	if err != nil {
		s.logErr("list audit", err)
		return nil
	}
	defer rows.Close()
	out := []api.AuditEntry{}
	for rows.Next() {
		var (
			e    api.AuditEntry
			ts   string
			note sql.NullString
		)
		if err := rows.Scan(&ts, &e.Actor, &e.Action, &e.Target, &note); err != nil {
			s.logErr("scan audit", err)
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Time = t
		} else {
			s.logErr("parse audit time", err)
		}
		e.Note = note.String
		out = append(out, e)
	}
	s.logErr("list audit", rows.Err())
	return out
}

var _ api.Store = (*SQLiteStore)(nil)
