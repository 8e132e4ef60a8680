package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iamwavecut/tool"

	"github.com/kababayanbot/kababayan/internal/db"
)

func (s *sqliteClient) UpsertJoinRequest(ctx context.Context, request *db.JoinRequest) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO join_requests (user_id, chat_id, requested_at, status)
		VALUES (:user_id, :chat_id, :requested_at, :status)
		ON CONFLICT(user_id, chat_id) DO UPDATE SET
		requested_at=excluded.requested_at,
		status=excluded.status;
	`
	return tool.Err(s.db.NamedExecContext(ctx, query, request))
}

func (s *sqliteClient) SetJoinRequestStatus(ctx context.Context, userID, chatID int64, status string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `UPDATE join_requests SET status = ? WHERE user_id = ? AND chat_id = ?`
	_, err := s.db.ExecContext(ctx, query, status, userID, chatID)
	if err != nil {
		return fmt.Errorf("set join request status: %w", err)
	}
	return nil
}

func (s *sqliteClient) GetJoinRequest(ctx context.Context, userID, chatID int64) (*db.JoinRequest, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var request db.JoinRequest
	err := s.db.GetContext(ctx, &request, `
		SELECT * FROM join_requests WHERE user_id = ? AND chat_id = ?
	`, userID, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &request, nil
}

func (s *sqliteClient) CountJoinRequests(ctx context.Context, status string) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM join_requests WHERE status = ?`, status)
	return count, err
}
