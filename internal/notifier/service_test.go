package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"claimrelay/internal/eventbus"
	kit "claimrelay/internal/transport"
	logx "claimrelay/pkg/logx"
)

type stubAdapter struct {
	err      error
	block    bool
	lastTo   kit.ChatTarget
	lastText string
	lastOpt  *kit.SendOptions
}

func (s *stubAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (s *stubAdapter) Stop(context.Context) error                     { return nil }
func (s *stubAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	s.lastTo, s.lastText, s.lastOpt = to, text, opt
	if s.block {
		<-ctx.Done()
		return kit.MessageRef{}, ctx.Err()
	}
	if s.err != nil {
		return kit.MessageRef{}, s.err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func TestNotifySendsToConfiguredChat(t *testing.T) {
	t.Parallel()
	ad := &stubAdapter{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	svc := New(Config{Target: kit.ChatTarget{ChatID: 77}, ParseMode: "HTML"}, ad, logx.Nop(), bus)
	res := svc.Notify(context.Background(), "<b>hi</b>")
	if !res.Sent || res.Err != nil || res.Message.MessageID != 1 {
		t.Fatalf("result = %+v", res)
	}
	if ad.lastTo.ChatID != 77 || ad.lastText != "<b>hi</b>" || ad.lastOpt.ParseMode != "HTML" {
		t.Fatalf("adapter saw to=%+v text=%q opt=%+v", ad.lastTo, ad.lastText, ad.lastOpt)
	}
	select {
	case e := <-events:
		if e.Type != EventSent {
			t.Fatalf("event type = %q", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a bus event")
	}
}

func TestNotifyFailureIsReportedNotRaised(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	svc := New(Config{Target: kit.ChatTarget{ChatID: 1}}, &stubAdapter{err: boom}, logx.Nop(), nil)
	res := svc.Notify(context.Background(), "x")
	if res.Sent || !errors.Is(res.Err, boom) {
		t.Fatalf("result = %+v", res)
	}
}

func TestNotifyTimeout(t *testing.T) {
	t.Parallel()
	svc := New(Config{Target: kit.ChatTarget{ChatID: 1}, Timeout: 20 * time.Millisecond}, &stubAdapter{block: true}, logx.Nop(), nil)
	res := svc.Notify(context.Background(), "x")
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", res.Err)
	}
}
