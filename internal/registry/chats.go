package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kababayanbot/kababayan/internal/db"
)

type chatStore interface {
	UpsertManagedChat(ctx context.Context, chat *db.ManagedChat) error
	SetManagedChatActive(ctx context.Context, chatID int64, active bool) error
	GetManagedChat(ctx context.Context, chatID int64) (*db.ManagedChat, error)
	GetActiveManagedChats(ctx context.Context) ([]*db.ManagedChat, error)
}

// ChatRegistry tracks the groups and channels the bot administers with
// invite rights. Chats are deactivated on capability loss, never
// deleted.
type ChatRegistry struct {
	store  chatStore
	logger *log.Entry
}

func NewChatRegistry(store chatStore) *ChatRegistry {
	return &ChatRegistry{
		store:  store,
		logger: log.WithField("context", "chat_registry"),
	}
}

func (r *ChatRegistry) Register(ctx context.Context, chatID int64, title, chatType string) error {
	chat := &db.ManagedChat{
		ID:           chatID,
		Title:        title,
		Type:         chatType,
		Active:       true,
		RegisteredAt: time.Now().UTC(),
	}
	if err := r.store.UpsertManagedChat(ctx, chat); err != nil {
		return fmt.Errorf("register managed chat: %w", err)
	}
	r.logger.WithFields(log.Fields{
		"chat_id": chatID,
		"title":   title,
	}).Info("registered managed chat")
	return nil
}

func (r *ChatRegistry) Deactivate(ctx context.Context, chatID int64) error {
	chat, err := r.store.GetManagedChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		return err
	}
	if !chat.Active {
		return nil
	}
	if err := r.store.SetManagedChatActive(ctx, chatID, false); err != nil {
		return fmt.Errorf("deactivate managed chat: %w", err)
	}
	r.logger.WithField("chat_id", chatID).Info("deactivated managed chat")
	return nil
}

func (r *ChatRegistry) Active(ctx context.Context) ([]*db.ManagedChat, error) {
	return r.store.GetActiveManagedChats(ctx)
}

func (r *ChatRegistry) IsManaged(ctx context.Context, chatID int64) (bool, error) {
	chat, err := r.store.GetManagedChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return chat.Active, nil
}
