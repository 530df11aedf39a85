package store

import (
	"github.com/pavelanni/tutorlab/internal/model"
)

// ExportAllSessions returns every session with its full turn history,
// ordered by owner and creation time. Used by the export command; ownership
// scoping does not apply because the operator already has the database file.
func (s *Store) ExportAllSessions() ([]model.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, title, created_at, updated_at
		 FROM sessions ORDER BY owner_id, created_at`,
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
		full, err := s.GetSessionWithTurns(sessions[i].OwnerID, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Turns = full.Turns
	}
	return sessions, nil
}
