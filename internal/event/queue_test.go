package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []*Notification
	fails int
}

func (f *fakeSender) Send(ctx context.Context, n *Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("transport down")
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeSender) sentKinds() []Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]Kind, 0, len(f.sent))
	for _, n := range f.sent {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestQueueDelivers(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	queue := NewQueue(sender, 1)
	if err := queue.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Stop(ctx)
	}()

	queue.Enqueue(&Notification{Recipient: 42, Kind: KindApproved})
	waitFor(t, func() bool { return len(sender.sentKinds()) == 1 })
}

func TestQueueRetriesOnceThenAlertsAdmin(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{fails: 2}
	queue := NewQueue(sender, 1)
	if err := queue.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Stop(ctx)
	}()

	queue.Enqueue(&Notification{Recipient: 42, Kind: KindVerified})

	waitFor(t, func() bool {
		kinds := sender.sentKinds()
		return len(kinds) == 1 && kinds[0] == KindAdminAlert
	})
}

func TestQueueSingleRetrySucceeds(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{fails: 1}
	queue := NewQueue(sender, 1)
	if err := queue.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Stop(ctx)
	}()

	queue.Enqueue(&Notification{Recipient: 42, Kind: KindVerified})
	waitFor(t, func() bool {
		kinds := sender.sentKinds()
		return len(kinds) == 1 && kinds[0] == KindVerified
	})
}

func TestQueueStopDrainsPending(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	queue := NewQueue(sender, 1)
	if err := queue.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 10; i++ {
		queue.Enqueue(&Notification{Recipient: int64(i), Kind: KindHelp})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := queue.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := len(sender.sentKinds()); got != 10 {
		t.Fatalf("expected best-effort drain of 10 notifications, delivered %d", got)
	}
}
