package db

import (
	"time"
)

type (
	// VerifiedUser is the durable record of a requester who completed
	// (or was banned from) phone verification. Banned always overrides
	// verified for admission purposes.
	VerifiedUser struct {
		ID         int64     `db:"id"`
		UserName   string    `db:"username"`
		FirstName  string    `db:"first_name"`
		Phone      string    `db:"phone"`
		Verified   bool      `db:"verified"`
		Banned     bool      `db:"banned"`
		VerifiedAt time.Time `db:"verified_at"`
	}

	// JoinRequest keeps one live row per (user, chat); a repeated request
	// overwrites the previous one.
	JoinRequest struct {
		UserID      int64     `db:"user_id"`
		ChatID      int64     `db:"chat_id"`
		RequestedAt time.Time `db:"requested_at"`
		Status      string    `db:"status"`
	}

	// ManagedChat is a group or channel the bot administers with invite
	// rights. Rows are deactivated, never deleted.
	ManagedChat struct {
		ID           int64     `db:"id"`
		Title        string    `db:"title"`
		Type         string    `db:"type"`
		Active       bool      `db:"active"`
		RegisteredAt time.Time `db:"registered_at"`
	}

	// Incident is an append-only audit record of a policy breach.
	Incident struct {
		ID        string    `db:"id"`
		UserID    int64     `db:"user_id"`
		Type      string    `db:"type"`
		Detail    string    `db:"detail"`
		CreatedAt time.Time `db:"created_at"`
	}
)

const (
	JoinStatusPending  = "pending"
	JoinStatusApproved = "approved"
	JoinStatusRejected = "rejected"

	ChatTypeGroup   = "group"
	ChatTypeChannel = "channel"

	IncidentBannedJoin      = "banned_join_attempt"
	IncidentJoinRateLimit   = "join_rate_limit"
	IncidentVerifyRateLimit = "verify_rate_limit"
	IncidentInvalidPhone    = "invalid_phone"
)
