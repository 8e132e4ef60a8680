package event

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type (
	Kind string

	// Notification is a structured outbound payload. Rendering it into
	// message text is the transport's concern, not ours.
	Notification struct {
		Recipient int64
		Kind      Kind
		Data      map[string]string
	}

	// Sender delivers a single notification over the transport.
	Sender interface {
		Send(ctx context.Context, n *Notification) error
	}

	// Queue is the outbound notification buffer. Delivery is
	// best-effort: one immediate retry per notification, failures are
	// surfaced to the administrator and never roll back any persisted
	// admission decision.
	Queue struct {
		q       chan *Notification
		sender  Sender
		adminID int64
		logger  *log.Entry

		runMutex  sync.Mutex
		started   bool
		runCancel context.CancelFunc
		workersWg sync.WaitGroup
	}
)

const (
	KindVerifyPrompt  Kind = "verify_prompt"
	KindAlreadyDone   Kind = "already_verified"
	KindApproved      Kind = "approved"
	KindVerified      Kind = "verified"
	KindVerifyFailed  Kind = "verify_failed"
	KindOwnPhoneOnly  Kind = "own_phone_only"
	KindStatusReport  Kind = "status_report"
	KindHelp          Kind = "help"
	KindAdminApproved Kind = "admin_approved"
	KindAdminVerified Kind = "admin_verified"
	KindAdminAlert    Kind = "admin_alert"
	KindAdminStats    Kind = "admin_stats"

	queueCapacity = 4096
	sendTimeout   = 10 * time.Second
)

func NewQueue(sender Sender, adminID int64) *Queue {
	return &Queue{
		q:       make(chan *Notification, queueCapacity),
		sender:  sender,
		adminID: adminID,
		logger:  log.WithField("context", "notify_queue"),
	}
}

// Enqueue never blocks the unit of work that produced the
// notification. A full queue drops the payload with a log line.
func (q *Queue) Enqueue(n *Notification) {
	if n == nil {
		return
	}
	select {
	case q.q <- n:
	default:
		q.logger.WithFields(log.Fields{
			"recipient": n.Recipient,
			"kind":      n.Kind,
		}).Warn("notification queue full, dropping")
	}
}

func (q *Queue) Start(ctx context.Context) error {
	q.runMutex.Lock()
	defer q.runMutex.Unlock()
	if q.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.runCancel = cancel

	q.workersWg.Add(1)
	go func() {
		defer q.workersWg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case n := <-q.q:
				q.deliver(runCtx, n)
			}
		}
	}()

	q.started = true
	return nil
}

func (q *Queue) Stop(ctx context.Context) error {
	q.runMutex.Lock()
	if !q.started {
		q.runMutex.Unlock()
		return nil
	}
	q.started = false
	cancel := q.runCancel
	q.runMutex.Unlock()

	q.drain(ctx)
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// drain flushes whatever is still queued, bounded by the shutdown
// context. No guarantee of completion.
func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-q.q:
			q.deliver(ctx, n)
		default:
			return
		}
	}
}

func (q *Queue) deliver(ctx context.Context, n *Notification) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	err := q.sender.Send(sendCtx, n)
	if err == nil {
		return
	}
	// one immediate retry, then surface to the administrator
	if err = q.sender.Send(sendCtx, n); err == nil {
		return
	}

	q.logger.WithFields(log.Fields{
		"recipient": n.Recipient,
		"kind":      n.Kind,
		"error":     err.Error(),
	}).Error("failed to deliver notification")

	if n.Recipient != q.adminID && n.Kind != KindAdminAlert {
		q.Enqueue(&Notification{
			Recipient: q.adminID,
			Kind:      KindAdminAlert,
			Data: map[string]string{
				"detail": "undeliverable notification " + string(n.Kind),
				"error":  err.Error(),
			},
		})
	}
}
