package sqlite

import (
	"context"
	"fmt"

	"github.com/kababayanbot/kababayan/internal/db"
)

func (s *sqliteClient) AddIncident(ctx context.Context, incident *db.Incident) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// plain insert, the audit trail is append-only
	query := `
		INSERT INTO incidents (id, user_id, type, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		incident.ID,
		incident.UserID,
		incident.Type,
		incident.Detail,
		incident.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add incident: %w", err)
	}
	return nil
}

func (s *sqliteClient) GetUserIncidents(ctx context.Context, userID int64) ([]*db.Incident, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var incidents []*db.Incident
	err := s.db.SelectContext(ctx, &incidents, `
		SELECT * FROM incidents WHERE user_id = ? ORDER BY created_at ASC
	`, userID)
	return incidents, err
}
