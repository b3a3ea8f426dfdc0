//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"claimrelay/internal/participant"
	logx "claimrelay/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps one row per participant; Save replaces the table
// contents in a single transaction.
type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	path string
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, path: path}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Load(ctx context.Context) (map[string]participant.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM participants`)
	if err != nil {
		return nil, &IOError{Op: "load", Path: s.path, Err: err}
	}
	defer rows.Close()

	out := map[string]participant.Record{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, &IOError{Op: "load", Path: s.path, Err: err}
		}
		var rec participant.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.Warn("skipping unreadable participant row", logx.String("id", id), logx.Err(err))
			continue
		}
		out[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, &IOError{Op: "load", Path: s.path, Err: err}
	}
	return out, nil
}

func (s *sqliteStore) Save(ctx context.Context, records map[string]participant.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM participants`); err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for id, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return &IOError{Op: "save", Path: s.path, Err: err}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants(id, record, updated_at) VALUES(?,?,?)`,
			id, string(b), now,
		); err != nil {
			return &IOError{Op: "save", Path: s.path, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &IOError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
