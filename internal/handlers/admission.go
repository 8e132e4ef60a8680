package handlers

import (
	"context"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/kababayanbot/kababayan/internal/bot"
	"github.com/kababayanbot/kababayan/internal/config"
	"github.com/kababayanbot/kababayan/internal/db"
	"github.com/kababayanbot/kababayan/internal/event"
	"github.com/kababayanbot/kababayan/internal/observability"
	"github.com/kababayanbot/kababayan/internal/phone"
	"github.com/kababayanbot/kababayan/internal/rates"
)

type (
	admissionRegistry interface {
		LockUser(userID int64) func()
		IsBanned(ctx context.Context, userID int64) (bool, error)
		IsAdmitted(ctx context.Context, userID int64) (bool, error)
		GetPhone(ctx context.Context, userID int64) (string, bool, error)
	}

	joinStore interface {
		auditStore
		UpsertJoinRequest(ctx context.Context, request *db.JoinRequest) error
		SetJoinRequestStatus(ctx context.Context, userID, chatID int64, status string) error
	}

	// Admission runs the join-request state machine: NEW -> PENDING ->
	// APPROVED/REJECTED. A later request for the same (user, chat)
	// starts a fresh transition.
	Admission struct {
		transport  transport
		users      admissionRegistry
		store      joinStore
		limiter    *rates.Limiter
		classifier *phone.Classifier
		queue      notifyQueue

		selfID  int64
		adminID int64
		region  string

		logger *log.Entry
	}
)

func NewAdmission(
	transport transport,
	users admissionRegistry,
	store joinStore,
	limiter *rates.Limiter,
	classifier *phone.Classifier,
	queue notifyQueue,
	selfID int64,
	cfg config.Config,
) *Admission {
	return &Admission{
		transport:  transport,
		users:      users,
		store:      store,
		limiter:    limiter,
		classifier: classifier,
		queue:      queue,
		selfID:     selfID,
		adminID:    cfg.AdminID,
		region:     cfg.Region.TargetRegion,
		logger:     log.WithField("context", "admission"),
	}
}

func (a *Admission) Handle(ctx context.Context, u *api.Update, chat *api.Chat, user *api.User) (bool, error) {
	if u == nil || u.ChatJoinRequest == nil {
		return true, nil
	}
	if err := a.processJoinRequest(ctx, u.ChatJoinRequest); err != nil {
		a.logger.WithFields(log.Fields{
			"user_id": u.ChatJoinRequest.From.ID,
			"chat_id": u.ChatJoinRequest.Chat.ID,
			"error":   err.Error(),
		}).Error("failed to process join request")
	}
	return false, nil
}

func (a *Admission) processJoinRequest(ctx context.Context, req *api.ChatJoinRequest) error {
	userID := req.From.ID
	chatID := req.Chat.ID
	entry := a.logger.WithFields(log.Fields{"user_id": userID, "chat_id": chatID})

	unlock := a.users.LockUser(userID)
	defer unlock()

	// trusted identities skip every check
	if userID == a.selfID || userID == a.adminID {
		if err := a.approve(ctx, req, entry); err != nil {
			return err
		}
		return nil
	}

	if err := a.store.UpsertJoinRequest(ctx, &db.JoinRequest{
		UserID:      userID,
		ChatID:      chatID,
		RequestedAt: time.Now().UTC(),
		Status:      db.JoinStatusPending,
	}); err != nil {
		return err
	}

	banned, err := a.users.IsBanned(ctx, userID)
	if err != nil {
		return err
	}
	if banned {
		entry.Info("rejecting banned requester")
		a.audit(ctx, newIncident(userID, db.IncidentBannedJoin, req.Chat.Title))
		return a.reject(ctx, req, entry)
	}

	if !a.limiter.Allow(userID, rates.ActionJoin) {
		entry.Info("rejecting rate limited requester")
		a.audit(ctx, newIncident(userID, db.IncidentJoinRateLimit, req.Chat.Title))
		return a.reject(ctx, req, entry)
	}
	a.limiter.Record(userID, rates.ActionJoin)

	admitted, err := a.users.IsAdmitted(ctx, userID)
	if err != nil {
		return err
	}
	if admitted {
		stored, ok, err := a.users.GetPhone(ctx, userID)
		if err != nil {
			return err
		}
		// reclassify, the region policy may have changed since the
		// original verification
		if ok && a.classifier.Classify(stored).TargetRegion {
			if err := a.approve(ctx, req, entry); err != nil {
				return err
			}
			a.queue.Enqueue(&event.Notification{
				Recipient: userID,
				Kind:      event.KindApproved,
				Data:      map[string]string{"chat_title": req.Chat.Title},
			})
			a.queue.Enqueue(&event.Notification{
				Recipient: a.adminID,
				Kind:      event.KindAdminApproved,
				Data: map[string]string{
					"user":       bot.GetUN(&req.From),
					"user_id":    itoa(userID),
					"chat_title": req.Chat.Title,
				},
			})
			return nil
		}
		// stored flag says verified but the phone no longer passes:
		// force re-verification instead of silently rejecting
		entry.Warn("stored phone fails reclassification, forcing re-verification")
	}

	if err := a.transport.SendVerifyPrompt(ctx, userID, req.Chat.Title, a.region); err != nil {
		entry.WithField("error", err.Error()).Info("requester unreachable, declining")
		return a.reject(ctx, req, entry)
	}
	// stays pending until the requester shares a phone
	observability.RecordAdmission(db.JoinStatusPending)
	return nil
}

// approve persists the decision first; transport failures afterwards
// never roll it back.
func (a *Admission) approve(ctx context.Context, req *api.ChatJoinRequest, entry *log.Entry) error {
	if err := a.store.UpsertJoinRequest(ctx, &db.JoinRequest{
		UserID:      req.From.ID,
		ChatID:      req.Chat.ID,
		RequestedAt: time.Now().UTC(),
		Status:      db.JoinStatusApproved,
	}); err != nil {
		return err
	}
	observability.RecordAdmission(db.JoinStatusApproved)

	if err := withRetry(ctx, func(ctx context.Context) error {
		return a.transport.Approve(ctx, req.Chat.ID, req.From.ID)
	}); err != nil {
		entry.WithField("error", err.Error()).Error("cant approve join request")
		a.surfaceTransportError(req.From.ID, "approve failed", err)
	}
	return nil
}

func (a *Admission) reject(ctx context.Context, req *api.ChatJoinRequest, entry *log.Entry) error {
	if err := a.store.SetJoinRequestStatus(ctx, req.From.ID, req.Chat.ID, db.JoinStatusRejected); err != nil {
		return err
	}
	observability.RecordAdmission(db.JoinStatusRejected)

	if err := withRetry(ctx, func(ctx context.Context) error {
		return a.transport.Decline(ctx, req.Chat.ID, req.From.ID)
	}); err != nil {
		entry.WithField("error", err.Error()).Error("cant decline join request")
		a.surfaceTransportError(req.From.ID, "decline failed", err)
	}
	return nil
}

func (a *Admission) audit(ctx context.Context, incident *db.Incident) {
	if err := a.store.AddIncident(ctx, incident); err != nil {
		a.logger.WithField("error", err.Error()).Error("cant write incident")
	}
}

func (a *Admission) surfaceTransportError(userID int64, detail string, err error) {
	a.queue.Enqueue(&event.Notification{
		Recipient: a.adminID,
		Kind:      event.KindAdminAlert,
		Data: map[string]string{
			"detail": detail + " for user " + itoa(userID),
			"error":  err.Error(),
		},
	})
}
