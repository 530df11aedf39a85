package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/tutorlab/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session does not exist or does not belong
// to the calling owner. The two cases are deliberately indistinguishable: a
// session ID alone is never sufficient authorization.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id, updated_at);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession creates a new conversation session for the given owner.
func (s *Store) CreateSession(ownerID, title string) (model.Session, error) {
	now := time.Now().UTC()
	sess := model.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, owner_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerID, sess.Title, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// ListSessions returns the owner's sessions ordered by updated_at descending,
// each with at most its latest turn attached for preview.
func (s *Store) ListSessions(ownerID string) ([]model.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, title, created_at, updated_at
		 FROM sessions WHERE owner_id = ? ORDER BY updated_at DESC, id`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sessions {
		turn, err := s.latestTurn(sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].LastTurn = turn
	}
	return sessions, nil
}

func (s *Store) latestTurn(sessionID string) (*model.Turn, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, role, content, metadata, created_at
		 FROM turns WHERE session_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, sessionID,
	)
	turn, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

// GetSessionWithTurns returns the session and all its turns ordered by
// created_at ascending. Returns ErrNotFound if the session does not exist
// or is not owned by ownerID.
func (s *Store) GetSessionWithTurns(ownerID, sessionID string) (*model.Session, error) {
	var sess model.Session
	err := s.db.QueryRow(
		`SELECT id, owner_id, title, created_at, updated_at
		 FROM sessions WHERE id = ? AND owner_id = ?`, sessionID, ownerID,
	).Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, metadata, created_at
		 FROM turns WHERE session_id = ? ORDER BY created_at, rowid`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		sess.Turns = append(sess.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sess, nil
}

// AppendTurn appends a turn to the session and bumps its updated_at.
// Appends are idempotent: re-appending a turn with the same ID updates its
// content and metadata in place without disturbing the original ordering.
// Returns ErrNotFound under the usual ownership rule.
func (s *Store) AppendTurn(ownerID, sessionID string, turn model.Turn) (model.Turn, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE sessions SET updated_at = ? WHERE id = ? AND owner_id = ?`,
		now, sessionID, ownerID,
	)
	if err != nil {
		return model.Turn{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Turn{}, err
	}
	if affected == 0 {
		return model.Turn{}, ErrNotFound
	}

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	turn.SessionID = sessionID
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}

	metaJSON, err := marshalMetadata(turn.Metadata)
	if err != nil {
		return model.Turn{}, fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO turns (id, session_id, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata`,
		turn.ID, turn.SessionID, turn.Role, turn.Content, metaJSON, turn.CreatedAt,
	)
	if err != nil {
		return model.Turn{}, err
	}
	return turn, nil
}

// RenameSession sets a new session title, under the usual ownership rule.
func (s *Store) RenameSession(ownerID, sessionID, title string) (model.Session, error) {
	res, err := s.db.Exec(
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		title, time.Now().UTC(), sessionID, ownerID,
	)
	if err != nil {
		return model.Session{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Session{}, err
	}
	if affected == 0 {
		return model.Session{}, ErrNotFound
	}

	var sess model.Session
	err = s.db.QueryRow(
		`SELECT id, owner_id, title, created_at, updated_at FROM sessions WHERE id = ?`, sessionID,
	).Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	return sess, err
}

// DeleteSession hard-deletes a session and all its turns.
func (s *Store) DeleteSession(ownerID, sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ? AND owner_id = ?`, sessionID, ownerID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteTurn removes a single turn, under the usual ownership rule.
func (s *Store) DeleteTurn(ownerID, sessionID, turnID string) error {
	res, err := s.db.Exec(
		`DELETE FROM turns WHERE id = ? AND session_id = ?
		 AND EXISTS (SELECT 1 FROM sessions WHERE id = ? AND owner_id = ?)`,
		turnID, sessionID, sessionID, ownerID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (model.Turn, error) {
	var turn model.Turn
	var metaJSON sql.NullString
	err := row.Scan(&turn.ID, &turn.SessionID, &turn.Role, &turn.Content, &metaJSON, &turn.CreatedAt)
	if err != nil {
		return model.Turn{}, err
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &turn.Metadata); err != nil {
			return model.Turn{}, fmt.Errorf("unmarshal turn metadata: %w", err)
		}
	}
	return turn, nil
}

func marshalMetadata(meta model.Metadata) (any, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
