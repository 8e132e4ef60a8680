package handlers

import (
	"context"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/kababayanbot/kababayan/internal/config"
	"github.com/kababayanbot/kababayan/internal/db"
	"github.com/kababayanbot/kababayan/internal/event"
	"github.com/kababayanbot/kababayan/internal/policy/permissions"
)

type (
	commandRegistry interface {
		IsAdmitted(ctx context.Context, userID int64) (bool, error)
		GetPhone(ctx context.Context, userID int64) (string, bool, error)
	}

	commandChats interface {
		Register(ctx context.Context, chatID int64, title, chatType string) error
		Active(ctx context.Context) ([]*db.ManagedChat, error)
	}

	statsStore interface {
		CountVerifiedUsers(ctx context.Context) (int, error)
		CountJoinRequests(ctx context.Context, status string) (int, error)
	}

	// memberChecker resolves the bot's own membership in a chat before
	// the chat can be registered as a managed destination.
	memberChecker interface {
		GetChat(ctx context.Context, chatID int64) (*api.ChatFullInfo, error)
		GetChatMember(ctx context.Context, chatID, userID int64) (*api.ChatMember, error)
	}

	// Commands serves the private-chat command surface, including the
	// administrator-only /stats and /register.
	Commands struct {
		users   commandRegistry
		chats   commandChats
		store   statsStore
		checker memberChecker
		queue   notifyQueue
		prompt  transport

		selfID  int64
		adminID int64
		region  string

		logger *log.Entry
	}
)

func NewCommands(
	users commandRegistry,
	chats commandChats,
	store statsStore,
	checker memberChecker,
	queue notifyQueue,
	prompt transport,
	selfID int64,
	cfg config.Config,
) *Commands {
	return &Commands{
		users:   users,
		chats:   chats,
		store:   store,
		checker: checker,
		queue:   queue,
		prompt:  prompt,
		selfID:  selfID,
		adminID: cfg.AdminID,
		region:  cfg.Region.TargetRegion,
		logger:  log.WithField("context", "commands"),
	}
}

func (c *Commands) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || u.Message == nil || !u.Message.IsCommand() || user == nil {
		return true, nil
	}
	if chat != nil && !chat.IsPrivate() {
		return true, nil
	}

	entry := c.logger.WithFields(log.Fields{
		"user_id": user.ID,
		"command": u.Message.Command(),
	})

	var err error
	switch u.Message.Command() {
	case "start":
		err = c.handleStart(ctx, user)
	case "status":
		err = c.handleStatus(ctx, user)
	case "help":
		c.queue.Enqueue(&event.Notification{Recipient: user.ID, Kind: event.KindHelp})
	case "stats":
		err = c.handleStats(ctx, user)
	case "register":
		err = c.handleRegister(ctx, user, u.Message.CommandArguments())
	default:
		return true, nil
	}
	if err != nil {
		entry.WithField("error", err.Error()).Error("command failed")
	}
	return false, nil
}

func (c *Commands) handleStart(ctx context.Context, user *api.User) error {
	admitted, err := c.users.IsAdmitted(ctx, user.ID)
	if err != nil {
		return err
	}
	if admitted {
		c.queue.Enqueue(&event.Notification{Recipient: user.ID, Kind: event.KindAlreadyDone})
		return nil
	}
	return c.prompt.SendVerifyPrompt(ctx, user.ID, "", c.region)
}

func (c *Commands) handleStatus(ctx context.Context, user *api.User) error {
	phone, verified, err := c.users.GetPhone(ctx, user.ID)
	if err != nil {
		return err
	}
	data := map[string]string{"verified": strconv.FormatBool(verified)}
	if verified {
		data["phone"] = phone
	}
	c.queue.Enqueue(&event.Notification{
		Recipient: user.ID,
		Kind:      event.KindStatusReport,
		Data:      data,
	})
	return nil
}

func (c *Commands) handleStats(ctx context.Context, user *api.User) error {
	if user.ID != c.adminID {
		return nil
	}
	verified, err := c.store.CountVerifiedUsers(ctx)
	if err != nil {
		return err
	}
	pending, err := c.store.CountJoinRequests(ctx, db.JoinStatusPending)
	if err != nil {
		return err
	}
	chats, err := c.chats.Active(ctx)
	if err != nil {
		return err
	}
	c.queue.Enqueue(&event.Notification{
		Recipient: user.ID,
		Kind:      event.KindAdminStats,
		Data: map[string]string{
			"verified": strconv.Itoa(verified),
			"pending":  strconv.Itoa(pending),
			"chats":    strconv.Itoa(len(chats)),
		},
	})
	return nil
}

// handleRegister adds a chat to the managed set by ID. The bot must
// already be a member with invite rights there, otherwise issued links
// would fail later for every verified user.
func (c *Commands) handleRegister(ctx context.Context, user *api.User, args string) error {
	if user.ID != c.adminID {
		return nil
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		c.queue.Enqueue(&event.Notification{
			Recipient: user.ID,
			Kind:      event.KindAdminAlert,
			Data:      map[string]string{"detail": "usage: /register <chat_id>"},
		})
		return nil
	}

	info, err := c.checker.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	member, err := c.checker.GetChatMember(ctx, chatID, c.selfID)
	if err != nil {
		return err
	}
	if !permissions.CanManageInvites(member) {
		c.queue.Enqueue(&event.Notification{
			Recipient: user.ID,
			Kind:      event.KindAdminAlert,
			Data: map[string]string{
				"detail": "cant register chat " + itoa(chatID) + ": missing invite rights",
			},
		})
		return nil
	}

	if err := c.chats.Register(ctx, chatID, info.Title, chatTypeOf(info.Type)); err != nil {
		return err
	}
	c.logger.WithFields(log.Fields{
		"chat_id": chatID,
		"title":   info.Title,
	}).Info("registered managed chat")
	c.queue.Enqueue(&event.Notification{
		Recipient: user.ID,
		Kind:      event.KindAdminAlert,
		Data:      map[string]string{"detail": "registered chat " + info.Title + " (" + itoa(chatID) + ")"},
	})
	return nil
}

func chatTypeOf(apiType string) string {
	if apiType == "channel" {
		return db.ChatTypeChannel
	}
	return db.ChatTypeGroup
}
