package invite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kababayanbot/kababayan/internal/db"
)

type (
	// LinkCreator is the transport call that mints a single invite link.
	LinkCreator interface {
		CreateLink(ctx context.Context, chatID int64, name string, memberLimit int, expireAt time.Time) (string, error)
	}

	// Outcome is the per-chat result of a fan-out issuance. Err is set
	// for chats where issuance failed; the rest are unaffected.
	Outcome struct {
		Chat *db.ManagedChat
		Link string
		Err  error
	}

	// Issuer mints fresh single-use invite links across all active
	// managed chats in parallel, so latency is bounded by the slowest
	// chat rather than the sum.
	Issuer struct {
		creator LinkCreator
		linkTTL time.Duration
		logger  *log.Entry
	}
)

func NewIssuer(creator LinkCreator, linkTTL time.Duration) *Issuer {
	return &Issuer{
		creator: creator,
		linkTTL: linkTTL,
		logger:  log.WithField("context", "invite_issuer"),
	}
}

// Issue requests one single-use link per chat, tagged with the
// requesting user. Every call mints fresh links; previously issued
// unused links are left alone.
func (i *Issuer) Issue(ctx context.Context, userID int64, chats []*db.ManagedChat) []Outcome {
	outcomes := make([]Outcome, len(chats))

	g, gctx := errgroup.WithContext(ctx)
	for idx, chat := range chats {
		g.Go(func() error {
			name := linkName(userID)
			var expireAt time.Time
			if i.linkTTL > 0 {
				expireAt = time.Now().Add(i.linkTTL)
			}
			link, err := i.creator.CreateLink(gctx, chat.ID, name, 1, expireAt)
			outcomes[idx] = Outcome{Chat: chat, Link: link, Err: err}
			if err != nil {
				i.logger.WithFields(log.Fields{
					"chat_id": chat.ID,
					"user_id": userID,
					"error":   err.Error(),
				}).Error("failed to create invite link")
			}
			// a failed chat must not cancel its siblings
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func linkName(userID int64) string {
	return fmt.Sprintf("kb-%d-%.8s", userID, uuid.New())
}

// TelegramLinkCreator issues invite links through the bot API.
type TelegramLinkCreator struct {
	bot *api.BotAPI
}

func NewTelegramLinkCreator(bot *api.BotAPI) *TelegramLinkCreator {
	return &TelegramLinkCreator{bot: bot}
}

func (t *TelegramLinkCreator) CreateLink(ctx context.Context, chatID int64, name string, memberLimit int, expireAt time.Time) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	cfg := api.CreateChatInviteLinkConfig{
		ChatConfig: api.ChatConfig{
			ChatID: chatID,
		},
		Name:        name,
		MemberLimit: memberLimit,
	}
	if !expireAt.IsZero() {
		cfg.ExpireDate = int(expireAt.Unix())
	}

	resp, err := t.bot.Request(cfg)
	if err != nil {
		return "", fmt.Errorf("create chat invite link: %w", err)
	}

	var link api.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", fmt.Errorf("decode chat invite link: %w", err)
	}
	return link.InviteLink, nil
}
