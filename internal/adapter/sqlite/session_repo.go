package sqlite

import (
	"database/sql"

	"github.com/vertextoedge/sharesplit/internal/domain"
)

// SaveSession inserts or updates the session row
func (s *Store) SaveSession(session *domain.ProcessingSession) error {
	query := `
		INSERT INTO sessions (id, source_url, attempt, stage)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_url = excluded.source_url,
			attempt = excluded.attempt,
			stage = excluded.stage
	`

	_, err := s.db.Exec(query, session.ID, session.SourceURL, session.Attempt, string(session.Stage))
	return err
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(id string) (*domain.ProcessingSession, error) {
	query := `
		SELECT id, source_url, attempt, stage, created_at
		FROM sessions
		WHERE id = ?
	`

	session := &domain.ProcessingSession{}
	var stage sql.NullString

	err := s.db.QueryRow(query, id).Scan(
		&session.ID, &session.SourceURL, &session.Attempt, &stage, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	if stage.Valid {
		session.Stage = domain.Stage(stage.String)
	}
	return session, nil
}

// ListSessions returns all persisted sessions
func (s *Store) ListSessions() ([]*domain.ProcessingSession, error) {
	query := `
		SELECT id, source_url, attempt, stage, created_at
		FROM sessions
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.ProcessingSession
	for rows.Next() {
		session := &domain.ProcessingSession{}
		var stage sql.NullString
		if err := rows.Scan(&session.ID, &session.SourceURL, &session.Attempt, &stage, &session.CreatedAt); err != nil {
			return nil, err
		}
		if stage.Valid {
			session.Stage = domain.Stage(stage.String)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// DeleteSession removes the session row
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	return err
}
