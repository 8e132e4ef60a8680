package handlers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kababayanbot/kababayan/internal/db"
	"github.com/kababayanbot/kababayan/internal/event"
	"github.com/kababayanbot/kababayan/internal/rates"
)

func TestVerificationTargetRegionAdmits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	for _, chatID := range []int64{-300, -301} {
		if err := f.chats.Register(ctx, chatID, "Chat", db.ChatTypeGroup); err != nil {
			t.Fatalf("register chat: %v", err)
		}
	}
	issuer := &fakeIssuer{}
	v := f.verification(f.chats, issuer)

	u, chat, user := contactUpdate(200, 200, "09171234567")
	if _, err := v.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("handle: %v", err)
	}

	admitted, err := f.users.IsAdmitted(ctx, 200)
	if err != nil {
		t.Fatalf("is admitted: %v", err)
	}
	if !admitted {
		t.Fatal("expected user to be admitted after sharing a valid number")
	}
	stored, ok, err := f.users.GetPhone(ctx, 200)
	if err != nil || !ok {
		t.Fatalf("get phone: ok=%v err=%v", ok, err)
	}
	if stored != "+639171234567" {
		t.Fatalf("expected canonical form, got %q", stored)
	}

	if issuer.calls != 1 {
		t.Fatalf("expected one issuance fan-out, got %d", issuer.calls)
	}
	var verified *event.Notification
	for _, n := range f.queue.sent {
		if n.Kind == event.KindVerified {
			verified = n
		}
	}
	if verified == nil {
		t.Fatalf("expected verified notification, got %v", f.queue.kinds())
	}
	if links := strings.Split(verified.Data["links"], "\n"); len(links) != 2 {
		t.Fatalf("expected two invite links, got %q", verified.Data["links"])
	}
	var adminVerified *event.Notification
	for _, n := range f.queue.sent {
		if n.Kind == event.KindAdminVerified {
			adminVerified = n
		}
	}
	if adminVerified == nil {
		t.Fatalf("expected admin notification, got %v", f.queue.kinds())
	}
	if adminVerified.Data["name"] != "Some" {
		t.Fatalf("expected full name in admin notification, got %v", adminVerified.Data)
	}
}

func TestVerificationForeignNumberRefused(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	issuer := &fakeIssuer{}
	v := f.verification(f.chats, issuer)

	u, chat, user := contactUpdate(201, 201, "+14155552671")
	if _, err := v.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("handle: %v", err)
	}

	admitted, err := f.users.IsAdmitted(ctx, 201)
	if err != nil {
		t.Fatalf("is admitted: %v", err)
	}
	if admitted {
		t.Fatal("foreign number must not admit the user")
	}
	if issuer.calls != 0 {
		t.Fatalf("no invites expected, got %d issuances", issuer.calls)
	}
	if !f.queue.has(event.KindVerifyFailed) {
		t.Fatalf("expected verify failed notification, got %v", f.queue.kinds())
	}

	incidents, err := f.store.GetUserIncidents(ctx, 201)
	if err != nil {
		t.Fatalf("get incidents: %v", err)
	}
	if len(incidents) != 1 || incidents[0].Type != db.IncidentInvalidPhone {
		t.Fatalf("expected one invalid_phone incident, got %+v", incidents)
	}
}

func TestVerificationContactOwnerMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	v := f.verification(f.chats, &fakeIssuer{})

	// forwarding somebody else's contact card
	u, chat, user := contactUpdate(202, 999, "09171234567")
	if _, err := v.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("handle: %v", err)
	}

	admitted, err := f.users.IsAdmitted(ctx, 202)
	if err != nil {
		t.Fatalf("is admitted: %v", err)
	}
	if admitted {
		t.Fatal("somebody else's contact must not admit the sender")
	}
	if !f.queue.has(event.KindOwnPhoneOnly) {
		t.Fatalf("expected own-phone-only notice, got %v", f.queue.kinds())
	}
}

func TestVerificationFloodingBans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.limiter = rates.NewLimiter(rates.Policy{
		rates.ActionVerify: {Max: 2, Window: rates.Duration(time.Hour)},
	})
	v := f.verification(f.chats, &fakeIssuer{})

	// burn through the allowance with foreign numbers
	for i := 0; i < 2; i++ {
		u, chat, user := contactUpdate(203, 203, "+14155552671")
		if _, err := v.Handle(ctx, u, chat, user); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}

	u, chat, user := contactUpdate(203, 203, "09171234567")
	if _, err := v.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("handle: %v", err)
	}

	banned, err := f.users.IsBanned(ctx, 203)
	if err != nil {
		t.Fatalf("is banned: %v", err)
	}
	if !banned {
		t.Fatal("expected flooding sender to be banned")
	}
	admitted, err := f.users.IsAdmitted(ctx, 203)
	if err != nil {
		t.Fatalf("is admitted: %v", err)
	}
	if admitted {
		t.Fatal("the over-limit attempt must not be processed")
	}

	incidents, err := f.store.GetUserIncidents(ctx, 203)
	if err != nil {
		t.Fatalf("get incidents: %v", err)
	}
	var rateIncidents int
	for _, incident := range incidents {
		if incident.Type == db.IncidentVerifyRateLimit {
			rateIncidents++
		}
	}
	if rateIncidents != 1 {
		t.Fatalf("expected one verify_rate_limit incident, got %+v", incidents)
	}

	// once banned, further contacts are ignored entirely
	before := len(f.queue.sent)
	u, chat, user = contactUpdate(203, 203, "09171234567")
	if _, err := v.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.queue.sent) != before {
		t.Fatalf("banned sender must not trigger notifications, got %v", f.queue.kinds())
	}
}

func TestVerificationBanSurvivesLaterVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	v := f.verification(f.chats, &fakeIssuer{})

	if err := f.users.Ban(ctx, 204); err != nil {
		t.Fatalf("ban: %v", err)
	}

	u, chat, user := contactUpdate(204, 204, "09171234567")
	if _, err := v.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("handle: %v", err)
	}

	admitted, err := f.users.IsAdmitted(ctx, 204)
	if err != nil {
		t.Fatalf("is admitted: %v", err)
	}
	if admitted {
		t.Fatal("verification must never lift a ban")
	}
}

func TestVerificationPartialIssuanceFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	for _, chatID := range []int64{-310, -311, -312} {
		if err := f.chats.Register(ctx, chatID, "Chat", db.ChatTypeGroup); err != nil {
			t.Fatalf("register chat: %v", err)
		}
	}
	issuer := &fakeIssuer{fail: map[int64]error{-311: errTransport}}
	v := f.verification(f.chats, issuer)

	u, chat, user := contactUpdate(205, 205, "09171234567")
	if _, err := v.Handle(ctx, u, chat, user); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var verified *event.Notification
	for _, n := range f.queue.sent {
		if n.Kind == event.KindVerified {
			verified = n
		}
	}
	if verified == nil {
		t.Fatalf("partial failure must still deliver the successes, got %v", f.queue.kinds())
	}
	if links := strings.Split(verified.Data["links"], "\n"); len(links) != 2 {
		t.Fatalf("expected two surviving links, got %q", verified.Data["links"])
	}
	if !f.queue.has(event.KindAdminAlert) {
		t.Fatalf("expected admin alert about the failed chat, got %v", f.queue.kinds())
	}
}
