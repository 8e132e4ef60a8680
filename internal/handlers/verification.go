package handlers

import (
	"context"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/kababayanbot/kababayan/internal/bot"
	"github.com/kababayanbot/kababayan/internal/config"
	"github.com/kababayanbot/kababayan/internal/db"
	"github.com/kababayanbot/kababayan/internal/event"
	"github.com/kababayanbot/kababayan/internal/invite"
	"github.com/kababayanbot/kababayan/internal/observability"
	"github.com/kababayanbot/kababayan/internal/phone"
	"github.com/kababayanbot/kababayan/internal/rates"
)

type (
	verifyRegistry interface {
		LockUser(userID int64) func()
		IsBanned(ctx context.Context, userID int64) (bool, error)
		UpsertVerified(ctx context.Context, userID int64, userName, firstName, phone string) error
		Ban(ctx context.Context, userID int64) error
	}

	activeChats interface {
		Active(ctx context.Context) ([]*db.ManagedChat, error)
	}

	issuer interface {
		Issue(ctx context.Context, userID int64, chats []*db.ManagedChat) []invite.Outcome
	}

	// Verification handles shared-contact events: it classifies the
	// phone, updates the registry and hands out invites to every active
	// managed chat.
	Verification struct {
		users      verifyRegistry
		chats      activeChats
		issuer     issuer
		store      auditStore
		limiter    *rates.Limiter
		classifier *phone.Classifier
		queue      notifyQueue

		adminID int64

		logger *log.Entry
	}
)

func NewVerification(
	users verifyRegistry,
	chats activeChats,
	issuer issuer,
	store auditStore,
	limiter *rates.Limiter,
	classifier *phone.Classifier,
	queue notifyQueue,
	cfg config.Config,
) *Verification {
	return &Verification{
		users:      users,
		chats:      chats,
		issuer:     issuer,
		store:      store,
		limiter:    limiter,
		classifier: classifier,
		queue:      queue,
		adminID:    cfg.AdminID,
		logger:     log.WithField("context", "verification"),
	}
}

func (v *Verification) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || u.Message == nil || u.Message.Contact == nil || user == nil {
		return true, nil
	}
	if chat != nil && !chat.IsPrivate() {
		return true, nil
	}
	if err := v.processContact(ctx, u.Message.Contact, user); err != nil {
		v.logger.WithFields(log.Fields{
			"user_id": user.ID,
			"error":   err.Error(),
		}).Error("failed to process contact share")
	}
	return false, nil
}

func (v *Verification) processContact(ctx context.Context, contact *api.Contact, user *api.User) error {
	entry := v.logger.WithField("user_id", user.ID)

	// the shared contact must belong to the sender
	if contact.UserID != user.ID {
		entry.Info("contact owner mismatch")
		v.queue.Enqueue(&event.Notification{
			Recipient: user.ID,
			Kind:      event.KindOwnPhoneOnly,
		})
		observability.RecordVerification("identity_mismatch")
		return nil
	}

	unlock := v.users.LockUser(user.ID)
	defer unlock()

	banned, err := v.users.IsBanned(ctx, user.ID)
	if err != nil {
		return err
	}
	if banned {
		entry.Info("ignoring contact from banned user")
		return nil
	}

	// repeated verification attempts look like automated probing and
	// are punished harder than join spam
	if !v.limiter.Allow(user.ID, rates.ActionVerify) {
		entry.Warn("verify rate limit breached, banning")
		if err := v.users.Ban(ctx, user.ID); err != nil {
			return err
		}
		v.audit(ctx, newIncident(user.ID, db.IncidentVerifyRateLimit, contact.PhoneNumber))
		v.queue.Enqueue(&event.Notification{
			Recipient: v.adminID,
			Kind:      event.KindAdminAlert,
			Data: map[string]string{
				"detail": "banned user " + itoa(user.ID) + " for verification flooding",
			},
		})
		observability.RecordVerification("banned")
		return nil
	}
	v.limiter.Record(user.ID, rates.ActionVerify)

	result := v.classifier.Classify(contact.PhoneNumber)
	if !result.TargetRegion {
		entry.WithFields(log.Fields{
			"region": result.Region,
			"valid":  result.Valid,
		}).Info("phone does not match target region")
		v.audit(ctx, newIncident(user.ID, db.IncidentInvalidPhone, result.Canonical))
		v.queue.Enqueue(&event.Notification{
			Recipient: user.ID,
			Kind:      event.KindVerifyFailed,
			Data:      map[string]string{"region": orUnknown(result.Region)},
		})
		observability.RecordVerification("invalid_phone")
		return nil
	}

	if err := v.users.UpsertVerified(ctx, user.ID, user.UserName, user.FirstName, result.Canonical); err != nil {
		return err
	}
	observability.RecordVerification("verified")
	entry.WithField("phone", result.Canonical).Info("user verified")

	links := v.issueInvites(ctx, user.ID)

	v.queue.Enqueue(&event.Notification{
		Recipient: user.ID,
		Kind:      event.KindVerified,
		Data: map[string]string{
			"phone": result.Canonical,
			"links": strings.Join(links, "\n"),
		},
	})
	v.queue.Enqueue(&event.Notification{
		Recipient: v.adminID,
		Kind:      event.KindAdminVerified,
		Data: map[string]string{
			"user":    bot.GetUN(user),
			"name":    bot.GetFullName(user),
			"user_id": itoa(user.ID),
			"phone":   result.Canonical,
		},
	})
	return nil
}

func (v *Verification) issueInvites(ctx context.Context, userID int64) []string {
	chats, err := v.chats.Active(ctx)
	if err != nil {
		v.logger.WithField("error", err.Error()).Error("cant list active chats")
		return nil
	}
	if len(chats) == 0 {
		return nil
	}

	outcomes := v.issuer.Issue(ctx, userID, chats)
	links := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			observability.RecordInvite("failed")
			v.queue.Enqueue(&event.Notification{
				Recipient: v.adminID,
				Kind:      event.KindAdminAlert,
				Data: map[string]string{
					"detail": "invite issuance failed for chat " + itoa(outcome.Chat.ID),
					"error":  outcome.Err.Error(),
				},
			})
			continue
		}
		observability.RecordInvite("issued")
		links = append(links, outcome.Link)
	}
	return links
}

func (v *Verification) audit(ctx context.Context, incident *db.Incident) {
	if err := v.store.AddIncident(ctx, incident); err != nil {
		v.logger.WithField("error", err.Error()).Error("cant write incident")
	}
}

func orUnknown(region string) string {
	if region == "" {
		return "unknown"
	}
	return region
}
