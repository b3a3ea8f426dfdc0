package notifier

import (
	"context"
	"time"

	"claimrelay/internal/eventbus"
	kit "claimrelay/internal/transport"
	logx "claimrelay/pkg/logx"
)

// Config controls notification delivery.
type Config struct {
	Target    kit.ChatTarget
	ParseMode string
	// Timeout bounds a single send; 0 means only the caller's context applies.
	Timeout time.Duration
}

// Result reports the outcome of one Notify call. Callers may ignore it.
type Result struct {
	Sent    bool
	Message kit.MessageRef
	Err     error
	Took    time.Duration
}

// Notifier is what the funnel depends on.
type Notifier interface {
	Notify(ctx context.Context, text string) Result
}

// Service sends text to the configured chat through a kit.Adapter.
type Service struct {
	cfg     Config
	adapter kit.Adapter
	log     logx.Logger
	bus     eventbus.Bus
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, adapter: adapter, log: log, bus: bus}
}

// Notify sends text and logs the outcome. Failures are logged and dropped.
func (s *Service) Notify(ctx context.Context, text string) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	ref, err := s.adapter.SendText(ctx, s.cfg.Target, text, &kit.SendOptions{
		ParseMode:      s.cfg.ParseMode,
		DisablePreview: true,
	})
	res := Result{Sent: err == nil, Message: ref, Err: err, Took: time.Since(start)}

	ev := Event{ChatID: s.cfg.Target.ChatID, At: start, Took: res.Took}
	evType := EventSent
	if err != nil {
		evType = EventFailed
		ev.Error = err.Error()
		s.log.Warn("notification failed", logx.Int64("chat_id", s.cfg.Target.ChatID), logx.Duration("took", res.Took), logx.Err(err))
	} else {
		s.log.Info("notification sent", logx.Int64("chat_id", s.cfg.Target.ChatID), logx.Int("message_id", ref.MessageID))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: evType, Time: start, Data: ev})
	}
	return res
}

const (
	EventSent   = "notify.sent"
	EventFailed = "notify.failed"
)

// Event is published on the bus after every send attempt.
type Event struct {
	ChatID int64         `json:"chat_id"`
	At     time.Time     `json:"at"`
	Took   time.Duration `json:"took"`
	Error  string        `json:"error,omitempty"`
}
