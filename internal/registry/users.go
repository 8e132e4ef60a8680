package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kababayanbot/kababayan/internal/db"
)

const bannedRefreshInterval = time.Hour

type userStore interface {
	UpsertVerifiedUser(ctx context.Context, user *db.VerifiedUser) error
	GetVerifiedUser(ctx context.Context, userID int64) (*db.VerifiedUser, error)
	SetBanned(ctx context.Context, userID int64) error
	GetBannedIDs(ctx context.Context) (map[int64]struct{}, error)
}

// UserRegistry is the durable registry of verified and banned
// requesters. The in-memory banned set is a soft cache hydrated from
// the store at Start; the store stays authoritative on conflict.
type UserRegistry struct {
	store userStore

	knownBanned map[int64]struct{}
	mapMutex    sync.RWMutex

	userLocks *keyedMutex

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup

	logger *log.Entry
}

func NewUserRegistry(store userStore) *UserRegistry {
	return &UserRegistry{
		store:       store,
		knownBanned: map[int64]struct{}{},
		userLocks:   newKeyedMutex(),
		logger:      log.WithField("context", "user_registry"),
	}
}

func (r *UserRegistry) Start(ctx context.Context) error {
	r.runMutex.Lock()
	defer r.runMutex.Unlock()
	if r.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.runCancel = cancel

	if err := r.hydrate(runCtx); err != nil {
		cancel()
		return fmt.Errorf("hydrate banned cache: %w", err)
	}

	r.workersWg.Add(1)
	go func() {
		defer r.workersWg.Done()
		ticker := time.NewTicker(bannedRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := r.hydrate(runCtx); err != nil && !errorsIsCanceled(err) {
					r.logger.WithError(err).Error("failed to refresh banned cache")
				}
			}
		}
	}()

	r.started = true
	return nil
}

func (r *UserRegistry) Stop(ctx context.Context) error {
	r.runMutex.Lock()
	if !r.started {
		r.runMutex.Unlock()
		return nil
	}
	r.started = false
	cancel := r.runCancel
	r.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *UserRegistry) hydrate(ctx context.Context) error {
	banned, err := r.store.GetBannedIDs(ctx)
	if err != nil {
		return err
	}
	snapshot := make(map[int64]struct{}, len(banned))
	for userID := range banned {
		snapshot[userID] = struct{}{}
	}
	r.mapMutex.Lock()
	r.knownBanned = snapshot
	r.mapMutex.Unlock()
	return nil
}

// LockUser acquires the per-user mutex for a unit of work. Distinct
// users never contend.
func (r *UserRegistry) LockUser(userID int64) func() {
	return r.userLocks.Lock(userID)
}

// UpsertVerified records a successful verification. Idempotent; it
// never touches the banned flag.
func (r *UserRegistry) UpsertVerified(ctx context.Context, userID int64, userName, firstName, phone string) error {
	return r.store.UpsertVerifiedUser(ctx, &db.VerifiedUser{
		ID:         userID,
		UserName:   userName,
		FirstName:  firstName,
		Phone:      phone,
		Verified:   true,
		VerifiedAt: time.Now().UTC(),
	})
}

// IsAdmitted reports verified AND NOT banned from durable state.
func (r *UserRegistry) IsAdmitted(ctx context.Context, userID int64) (bool, error) {
	user, err := r.store.GetVerifiedUser(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if user.Banned {
		r.markKnownBanned(userID)
		return false, nil
	}
	return user.Verified, nil
}

// GetPhone returns the stored canonical phone, if any.
func (r *UserRegistry) GetPhone(ctx context.Context, userID int64) (string, bool, error) {
	user, err := r.store.GetVerifiedUser(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if user.Phone == "" {
		return "", false, nil
	}
	return user.Phone, true, nil
}

// Ban is irreversible from this interface: there is no unban.
func (r *UserRegistry) Ban(ctx context.Context, userID int64) error {
	if err := r.store.SetBanned(ctx, userID); err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	r.markKnownBanned(userID)
	return nil
}

// IsBanned prefers the soft cache but falls back to the store whenever
// the cache says no, so a stale cache can only cost one read.
func (r *UserRegistry) IsBanned(ctx context.Context, userID int64) (bool, error) {
	if r.isKnownBanned(userID) {
		return true, nil
	}
	user, err := r.store.GetVerifiedUser(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if user.Banned {
		r.markKnownBanned(userID)
	}
	return user.Banned, nil
}

func (r *UserRegistry) isKnownBanned(userID int64) bool {
	r.mapMutex.RLock()
	defer r.mapMutex.RUnlock()
	_, banned := r.knownBanned[userID]
	return banned
}

func (r *UserRegistry) markKnownBanned(userID int64) {
	r.mapMutex.Lock()
	r.knownBanned[userID] = struct{}{}
	r.mapMutex.Unlock()
}

func errorsIsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
