package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iamwavecut/tool"

	"github.com/kababayanbot/kababayan/internal/db"
)

func (s *sqliteClient) UpsertManagedChat(ctx context.Context, chat *db.ManagedChat) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	query := `
		INSERT INTO managed_chats (id, title, type, active, registered_at)
		VALUES (:id, :title, :type, :active, :registered_at)
		ON CONFLICT(id) DO UPDATE SET
		title=excluded.title,
		type=excluded.type,
		active=excluded.active;
	`
	return tool.Err(s.db.NamedExecContext(ctx, query, chat))
}

func (s *sqliteClient) SetManagedChatActive(ctx context.Context, chatID int64, active bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE managed_chats SET active = ? WHERE id = ?`, active, chatID)
	if err != nil {
		return fmt.Errorf("set managed chat active: %w", err)
	}
	return nil
}

func (s *sqliteClient) GetManagedChat(ctx context.Context, chatID int64) (*db.ManagedChat, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var chat db.ManagedChat
	err := s.db.GetContext(ctx, &chat, `SELECT * FROM managed_chats WHERE id = ?`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &chat, nil
}

func (s *sqliteClient) GetActiveManagedChats(ctx context.Context) ([]*db.ManagedChat, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var chats []*db.ManagedChat
	err := s.db.SelectContext(ctx, &chats, `
		SELECT * FROM managed_chats WHERE active = TRUE ORDER BY registered_at ASC
	`)
	return chats, err
}
