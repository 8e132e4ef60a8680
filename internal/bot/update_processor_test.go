package bot

import (
	"context"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
)

type chainHandler struct {
	calls   int
	proceed bool
}

func (h *chainHandler) Handle(_ context.Context, _ *api.Update, _ *api.Chat, _ *api.User) (bool, error) {
	h.calls++
	return h.proceed, nil
}

func freshMessage(text string) *api.Update {
	return &api.Update{
		Message: &api.Message{
			Date: int(time.Now().Unix()),
			Text: text,
			Chat: api.Chat{ID: 1, Type: "private"},
			From: &api.User{ID: 1},
		},
	}
}

func TestProcessorRunsEnabledHandlersInOrder(t *testing.T) {
	first := &chainHandler{proceed: true}
	second := &chainHandler{proceed: true}
	RegisterUpdateHandler("first", first)
	RegisterUpdateHandler("second", second)

	up := NewUpdateProcessor([]string{"first", "second", "unknown"})
	if err := up.Process(context.Background(), freshMessage("hi")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("expected both handlers called once, got %d and %d", first.calls, second.calls)
	}
}

func TestProcessorStopsWhenHandlerConsumes(t *testing.T) {
	first := &chainHandler{proceed: false}
	second := &chainHandler{proceed: true}
	RegisterUpdateHandler("consuming", first)
	RegisterUpdateHandler("after", second)

	up := NewUpdateProcessor([]string{"consuming", "after"})
	if err := up.Process(context.Background(), freshMessage("hi")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if second.calls != 0 {
		t.Fatalf("chain must stop after a consuming handler, got %d calls", second.calls)
	}
}

func TestProcessorSkipsOutdatedUpdate(t *testing.T) {
	handler := &chainHandler{proceed: true}
	RegisterUpdateHandler("stale", handler)

	up := NewUpdateProcessor([]string{"stale"})
	u := freshMessage("hi")
	u.Message.Date = int(time.Now().Add(-UpdateTimeout - time.Minute).Unix())
	if err := up.Process(context.Background(), u); err != nil {
		t.Fatalf("process: %v", err)
	}
	if handler.calls != 0 {
		t.Fatalf("outdated update must be skipped, got %d calls", handler.calls)
	}
}
