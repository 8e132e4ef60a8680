package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iamwavecut/tool"

	"github.com/kababayanbot/kababayan/internal/db"
)

func (s *sqliteClient) UpsertVerifiedUser(ctx context.Context, user *db.VerifiedUser) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// banned is deliberately absent from the update set: verification
	// must never lift a ban.
	query := `
		INSERT INTO verified_users (id, username, first_name, phone, verified, verified_at)
		VALUES (:id, :username, :first_name, :phone, :verified, :verified_at)
		ON CONFLICT(id) DO UPDATE SET
		username=excluded.username,
		first_name=excluded.first_name,
		phone=excluded.phone,
		verified=excluded.verified,
		verified_at=excluded.verified_at;
	`
	return tool.Err(s.db.NamedExecContext(ctx, query, user))
}

func (s *sqliteClient) GetVerifiedUser(ctx context.Context, userID int64) (*db.VerifiedUser, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var user db.VerifiedUser
	err := s.db.GetContext(ctx, &user, `SELECT * FROM verified_users WHERE id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("get verified user %d: %w", userID, err)
	}
	return &user, nil
}

func (s *sqliteClient) SetBanned(ctx context.Context, userID int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO verified_users (id, banned) VALUES (?, TRUE)
		ON CONFLICT(id) DO UPDATE SET banned=TRUE
	`
	_, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("set banned %d: %w", userID, err)
	}
	return nil
}

func (s *sqliteClient) GetBannedIDs(ctx context.Context) (map[int64]struct{}, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var userIDs []int64
	err := s.db.SelectContext(ctx, &userIDs, `SELECT id FROM verified_users WHERE banned = TRUE`)
	if err != nil {
		return nil, err
	}
	results := make(map[int64]struct{}, len(userIDs))
	for _, userID := range userIDs {
		results[userID] = struct{}{}
	}
	return results, nil
}

func (s *sqliteClient) CountVerifiedUsers(ctx context.Context) (int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM verified_users WHERE verified = TRUE AND banned = FALSE`)
	return count, err
}
