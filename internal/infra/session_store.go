package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

const sessionDBName = "sessions.db"

// EncryptedSessionStore records worker lifetimes in a SQLCipher database.
type EncryptedSessionStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedSessionStore opens (or creates) the session database under dataDir.
func NewEncryptedSessionStore(dataDir string, key []byte) (*EncryptedSessionStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, sessionDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	// One connection keeps writes from the supervisor and reads from the CLI ordered.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedSessionStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *EncryptedSessionStore) createTables() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS worker_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pid INTEGER NOT NULL,
		hwnd INTEGER NOT NULL,
		process_name TEXT NOT NULL,
		client_type TEXT NOT NULL,
		capture_type TEXT NOT NULL,
		port INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL DEFAULT 0,
		exit_code INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT ''
	);
	`)
	return err
}

// Begin inserts a running session and returns its id.
func (s *EncryptedSessionStore) Begin(session domain.WorkerSession) (int64, error) {
	started := session.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	result, err := s.db.Exec(`
		INSERT INTO worker_sessions (pid, hwnd, process_name, client_type, capture_type, port, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.PID, session.HWND, session.ProcessName,
		string(session.ClientType), string(session.CaptureType),
		session.Port, started.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record session: %w", err)
	}
	return result.LastInsertId()
}

// End marks a session finished.
func (s *EncryptedSessionStore) End(id int64, exitCode int, reason string) error {
	result, err := s.db.Exec(`UPDATE worker_sessions SET ended_at = ?, exit_code = ?, reason = ? WHERE id = ?`,
		time.Now().UnixMilli(), exitCode, reason, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("session %d not found", id)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *EncryptedSessionStore) Recent(limit int) ([]domain.WorkerSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, pid, hwnd, process_name, client_type, capture_type, port, started_at, ended_at, exit_code, reason
		FROM worker_sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.WorkerSession
	for rows.Next() {
		var ws domain.WorkerSession
		var client, capture string
		var started, ended int64
		if err := rows.Scan(&ws.ID, &ws.PID, &ws.HWND, &ws.ProcessName, &client, &capture,
			&ws.Port, &started, &ended, &ws.ExitCode, &ws.Reason); err != nil {
			return nil, err
		}
		ws.ClientType = domain.ClientType(client)
		ws.CaptureType = domain.CaptureType(capture)
		ws.StartedAt = time.UnixMilli(started)
		if ended != 0 {
			ws.EndedAt = time.UnixMilli(ended)
		}
		sessions = append(sessions, ws)
	}
	return sessions, rows.Err()
}

// Path returns the database file path.
func (s *EncryptedSessionStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedSessionStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ domain.SessionStore = (*EncryptedSessionStore)(nil)
