package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/kababayanbot/kababayan/internal/config"
	"github.com/kababayanbot/kababayan/internal/db"
	"github.com/kababayanbot/kababayan/internal/db/sqlite"
	"github.com/kababayanbot/kababayan/internal/event"
	"github.com/kababayanbot/kababayan/internal/invite"
	"github.com/kababayanbot/kababayan/internal/phone"
	"github.com/kababayanbot/kababayan/internal/rates"
	"github.com/kababayanbot/kababayan/internal/registry"
)

const (
	testAdminID int64 = 900
	testSelfID  int64 = 901
)

func testConfig() config.Config {
	return config.Config{
		AdminID: testAdminID,
		Region:  config.Region{TargetRegion: "PH", CallingCode: 63},
	}
}

func testPolicy() rates.Policy {
	return rates.Policy{
		rates.ActionJoin:   {Max: 5, Window: rates.Duration(24 * time.Hour)},
		rates.ActionVerify: {Max: 3, Window: rates.Duration(24 * time.Hour)},
	}
}

type fixture struct {
	store     db.Client
	users     *registry.UserRegistry
	chats     *registry.ChatRegistry
	transport *fakeTransport
	queue     *recordingQueue
	limiter   *rates.Limiter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, err := sqlite.NewSQLiteClient(context.Background(), t.TempDir(), "test.db")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{
		store:     client,
		users:     registry.NewUserRegistry(client),
		chats:     registry.NewChatRegistry(client),
		transport: &fakeTransport{},
		queue:     &recordingQueue{},
		limiter:   rates.NewLimiter(testPolicy()),
	}
}

func (f *fixture) admission() *Admission {
	return NewAdmission(f.transport, f.users, f.store, f.limiter, phClassifier(), f.queue, testSelfID, testConfig())
}

func (f *fixture) verification(chats activeChats, issuer issuer) *Verification {
	return NewVerification(f.users, chats, issuer, f.store, f.limiter, phClassifier(), f.queue, testConfig())
}

func phClassifier() *phone.Classifier {
	return phone.NewClassifier("PH", 63)
}

type fakeTransport struct {
	mu sync.Mutex

	approved        []int64
	declined        []int64
	prompted        []int64
	promptErr       error
	approveErr      error
	approveAttempts int
}

func (t *fakeTransport) Approve(_ context.Context, _, userID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.approveAttempts++
	if t.approveErr != nil {
		return t.approveErr
	}
	t.approved = append(t.approved, userID)
	return nil
}

func (t *fakeTransport) Decline(_ context.Context, _, userID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.declined = append(t.declined, userID)
	return nil
}

func (t *fakeTransport) SendVerifyPrompt(_ context.Context, userID int64, _, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.promptErr != nil {
		return t.promptErr
	}
	t.prompted = append(t.prompted, userID)
	return nil
}

type recordingQueue struct {
	mu   sync.Mutex
	sent []*event.Notification
}

func (q *recordingQueue) Enqueue(n *event.Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, n)
}

func (q *recordingQueue) kinds() []event.Kind {
	q.mu.Lock()
	defer q.mu.Unlock()
	kinds := make([]event.Kind, 0, len(q.sent))
	for _, n := range q.sent {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

func (q *recordingQueue) has(kind event.Kind) bool {
	for _, k := range q.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type fakeIssuer struct {
	mu    sync.Mutex
	calls int
	fail  map[int64]error
}

func (i *fakeIssuer) Issue(_ context.Context, userID int64, chats []*db.ManagedChat) []invite.Outcome {
	i.mu.Lock()
	i.calls++
	i.mu.Unlock()
	outcomes := make([]invite.Outcome, 0, len(chats))
	for _, chat := range chats {
		if err, ok := i.fail[chat.ID]; ok {
			outcomes = append(outcomes, invite.Outcome{Chat: chat, Err: err})
			continue
		}
		outcomes = append(outcomes, invite.Outcome{
			Chat: chat,
			Link: fmt.Sprintf("https://t.me/+link%d-%d", chat.ID, userID),
		})
	}
	return outcomes
}

func joinRequest(userID, chatID int64) *api.Update {
	return &api.Update{
		ChatJoinRequest: &api.ChatJoinRequest{
			Chat: api.Chat{ID: chatID, Title: "Test Chat", Type: "supergroup"},
			From: api.User{ID: userID, UserName: "someone"},
		},
	}
}

func contactUpdate(senderID, contactOwnerID int64, phoneNumber string) (*api.Update, *api.Chat, *api.User) {
	user := &api.User{ID: senderID, UserName: "someone", FirstName: "Some"}
	chat := &api.Chat{ID: senderID, Type: "private"}
	return &api.Update{
		Message: &api.Message{
			Chat: *chat,
			From: user,
			Contact: &api.Contact{
				PhoneNumber: phoneNumber,
				UserID:      contactOwnerID,
			},
		},
	}, chat, user
}

var errTransport = errors.New("transport unavailable")
