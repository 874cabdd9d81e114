// sqlitestore.go implements a SQLite-backed StateStore. It is a drop-in
// replacement for the JSON FileStore for setups that prefer a database file
// over a blob.
package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps one row per session plus a meta row for the active id.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and ensures
// the schema exists.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		updated_at TEXT NOT NULL,
		payload    TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS store_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state schema: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Load reads all session rows ordered by recency plus the active id.
func (s *SQLiteStore) Load() (*State, error) {
	rows, err := s.db.Query(`SELECT payload FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	state := &State{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		var sess Session
		if err := json.Unmarshal([]byte(payload), &sess); err != nil {
			// One corrupt row does not poison the whole load.
			s.logger.Warn("skipping corrupt session row", "err", err)
			continue
		}
		state.Sessions = append(state.Sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	var active string
	err = s.db.QueryRow(`SELECT value FROM store_meta WHERE key = 'active_session'`).Scan(&active)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load active session id: %w", err)
	}
	state.ActiveSessionID = active
	return state, nil
}

// Save replaces the stored rows with the given state in one transaction.
func (s *SQLiteStore) Save(state *State) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin state save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	for _, sess := range state.Sessions {
		payload, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", sess.ID, err)
		}
		_, err = tx.Exec(
			`INSERT INTO sessions (id, updated_at, payload) VALUES (?, ?, ?)`,
			sess.ID, sess.UpdatedAt.UTC().Format(time.RFC3339Nano), string(payload),
		)
		if err != nil {
			return fmt.Errorf("insert session %s: %w", sess.ID, err)
		}
	}
	_, err = tx.Exec(
		`INSERT INTO store_meta (key, value) VALUES ('active_session', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		state.ActiveSessionID,
	)
	if err != nil {
		return fmt.Errorf("save active session id: %w", err)
	}
	return tx.Commit()
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
