package db

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

type Client interface {
	Close() error

	UpsertVerifiedUser(ctx context.Context, user *VerifiedUser) error
	GetVerifiedUser(ctx context.Context, userID int64) (*VerifiedUser, error)
	SetBanned(ctx context.Context, userID int64) error
	GetBannedIDs(ctx context.Context) (map[int64]struct{}, error)
	CountVerifiedUsers(ctx context.Context) (int, error)

	UpsertJoinRequest(ctx context.Context, request *JoinRequest) error
	SetJoinRequestStatus(ctx context.Context, userID, chatID int64, status string) error
	GetJoinRequest(ctx context.Context, userID, chatID int64) (*JoinRequest, error)
	CountJoinRequests(ctx context.Context, status string) (int, error)

	UpsertManagedChat(ctx context.Context, chat *ManagedChat) error
	SetManagedChatActive(ctx context.Context, chatID int64, active bool) error
	GetManagedChat(ctx context.Context, chatID int64) (*ManagedChat, error)
	GetActiveManagedChats(ctx context.Context) ([]*ManagedChat, error)

	AddIncident(ctx context.Context, incident *Incident) error
	GetUserIncidents(ctx context.Context, userID int64) ([]*Incident, error)
}
