package handlers

import (
	"context"
	"strconv"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/kababayanbot/kababayan/internal/bot"
	"github.com/kababayanbot/kababayan/internal/db"
	"github.com/kababayanbot/kababayan/internal/event"
)

type (
	// transport covers the synchronous calls a unit of work blocks on.
	// Everything else goes through the notification queue.
	transport interface {
		Approve(ctx context.Context, chatID, userID int64) error
		Decline(ctx context.Context, chatID, userID int64) error
		SendVerifyPrompt(ctx context.Context, userID int64, chatTitle, region string) error
	}

	notifyQueue interface {
		Enqueue(n *event.Notification)
	}

	auditStore interface {
		AddIncident(ctx context.Context, incident *db.Incident) error
	}
)

// TelegramTransport is the production transport.
type TelegramTransport struct {
	api      *api.BotAPI
	notifier *bot.Notifier
}

func NewTelegramTransport(botAPI *api.BotAPI) *TelegramTransport {
	return &TelegramTransport{
		api:      botAPI,
		notifier: bot.NewNotifier(botAPI),
	}
}

func (t *TelegramTransport) Approve(ctx context.Context, chatID, userID int64) error {
	return bot.ApproveJoinRequest(ctx, t.api, userID, chatID)
}

func (t *TelegramTransport) Decline(ctx context.Context, chatID, userID int64) error {
	return bot.DeclineJoinRequest(ctx, t.api, userID, chatID)
}

// SendVerifyPrompt is deliberately synchronous: a failed prompt means
// the requester is unreachable and the join request gets declined.
func (t *TelegramTransport) SendVerifyPrompt(ctx context.Context, userID int64, chatTitle, region string) error {
	return t.notifier.Send(ctx, &event.Notification{
		Recipient: userID,
		Kind:      event.KindVerifyPrompt,
		Data: map[string]string{
			"chat_title": chatTitle,
			"region":     region,
		},
	})
}

func (t *TelegramTransport) GetChat(ctx context.Context, chatID int64) (*api.ChatFullInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	info, err := t.api.GetChat(api.ChatInfoConfig{
		ChatConfig: api.ChatConfig{
			ChatID: chatID,
		},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "cant get chat")
	}
	return &info, nil
}

func (t *TelegramTransport) GetChatMember(ctx context.Context, chatID, userID int64) (*api.ChatMember, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	member, err := t.api.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			UserID: userID,
			ChatConfig: api.ChatConfig{
				ChatID: chatID,
			},
		},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "cant get chat member")
	}
	return &member, nil
}

func newIncident(userID int64, kind, detail string) *db.Incident {
	return &db.Incident{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      kind,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

// withRetry performs at most one immediate retry on a transport call.
func withRetry(ctx context.Context, call func(ctx context.Context) error) error {
	if err := call(ctx); err == nil {
		return nil
	}
	return call(ctx)
}
