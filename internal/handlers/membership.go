package handlers

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/kababayanbot/kababayan/internal/event"
	"github.com/kababayanbot/kababayan/internal/policy/permissions"
)

type (
	membershipChats interface {
		Register(ctx context.Context, chatID int64, title, chatType string) error
		Deactivate(ctx context.Context, chatID int64) error
	}

	// Membership keeps the managed-chat set in sync with the bot's own
	// membership: gaining invite rights registers the chat, losing them
	// deactivates it.
	Membership struct {
		chats   membershipChats
		queue   notifyQueue
		adminID int64
		logger  *log.Entry
	}
)

func NewMembership(chats membershipChats, queue notifyQueue, adminID int64) *Membership {
	return &Membership{
		chats:   chats,
		queue:   queue,
		adminID: adminID,
		logger:  log.WithField("context", "membership"),
	}
}

func (m *Membership) Handle(ctx context.Context, u *api.Update, chat *api.Chat, _ *api.User) (bool, error) {
	if u == nil || u.MyChatMember == nil || chat == nil {
		return true, nil
	}
	if chat.IsPrivate() {
		return false, nil
	}

	entry := m.logger.WithFields(log.Fields{
		"chat_id": chat.ID,
		"title":   chat.Title,
		"status":  u.MyChatMember.NewChatMember.Status,
	})

	if permissions.CanManageInvites(&u.MyChatMember.NewChatMember) {
		if err := m.chats.Register(ctx, chat.ID, chat.Title, chatTypeOf(chat.Type)); err != nil {
			return false, err
		}
		entry.Info("chat registered as managed destination")
		m.queue.Enqueue(&event.Notification{
			Recipient: m.adminID,
			Kind:      event.KindAdminAlert,
			Data: map[string]string{
				"detail": "now managing chat " + chat.Title + " (" + itoa(chat.ID) + ")",
			},
		})
		return false, nil
	}

	if err := m.chats.Deactivate(ctx, chat.ID); err != nil {
		return false, err
	}
	entry.Info("chat deactivated")
	return false, nil
}
