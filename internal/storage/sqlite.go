//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"stickerbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

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

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveRecipients(ctx context.Context, ids []int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recipients`); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT INTO recipients(chat_id) VALUES(?)`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadRecipients(ctx context.Context) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM recipients ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, payload []byte, acceptedAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if len(payload) == 0 {
		return errors.New("empty snapshot payload")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshot(id, accepted_at, payload) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET accepted_at=excluded.accepted_at, payload=excluded.payload`,
		acceptedAt.Format(time.RFC3339Nano), payload,
	)
	return err
}

func (s *sqliteStore) ClearSnapshot(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshot WHERE id = 1`)
	return err
}

func (s *sqliteStore) LoadSnapshot(ctx context.Context) ([]byte, time.Time, bool, error) {
	if s == nil || s.db == nil {
		return nil, time.Time{}, false, ErrDisabled
	}
	var at string
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT accepted_at, payload FROM snapshot WHERE id = 1`).Scan(&at, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		t = time.Time{}
	}
	return payload, t, true, nil
}
