// Package funnel implements the participant progression
// submit → timer complete → verify and the inbound message classifier.
package funnel

import (
	"context"
	"errors"
	"sync"
	"time"

	"claimrelay/internal/eventbus"
	"claimrelay/internal/notifier"
	"claimrelay/internal/participant"
	"claimrelay/internal/storage"
	logx "claimrelay/pkg/logx"
)

const (
	EventClaimSubmitted  = "claim.submitted"
	EventTimerCompleted  = "timer.completed"
	EventUserVerified    = "user.verified"
	EventMessageReceived = "message.received"
)

// Claim is the submit-claim payload.
type Claim struct {
	Username    string                `json:"username"`
	DisplayName string                `json:"displayname"`
	UserID      string                `json:"userid"`
	SessionID   string                `json:"sessionId"`
	Timestamp   participant.Timestamp `json:"timestamp"`
}

// TimerDone is the timer-complete payload.
type TimerDone struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayname"`
	UserID      string `json:"userid"`
	SessionID   string `json:"sessionId"`
}

// Inbound is a chat message addressed to the relay.
type Inbound struct {
	Text   string
	FromID string
}

// CheckResult answers whether a participant exists.
type CheckResult struct {
	Exists    bool
	Completed bool
	Stage     participant.Stage
	Record    participant.Record
}

// Stats is the aggregate view over the registry.
type Stats struct {
	Total     int
	Completed int
	Pending   int
	Users     []participant.Record
}

// Outcome describes what HandleMessage did with a message.
type Outcome struct {
	Kind     Kind
	Known    bool
	Notified bool
}

// Deps wires a Controller. Store and Bus may be nil.
type Deps struct {
	Registry *participant.Registry
	Store    storage.Store
	Notifier notifier.Notifier
	Bus      eventbus.Bus
	Log      logx.Logger
	Format   Formatter
	Now      func() time.Time
}

type Controller struct {
	reg    *participant.Registry
	store  storage.Store
	notify notifier.Notifier
	bus    eventbus.Bus
	log    logx.Logger
	format Formatter
	now    func() time.Time

	// saveMu covers snapshot and write together so an older snapshot never lands last.
	saveMu sync.Mutex
}

func New(d Deps) *Controller {
	if d.Registry == nil {
		d.Registry = participant.NewRegistry()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Controller{
		reg:    d.Registry,
		store:  d.Store,
		notify: d.Notifier,
		bus:    d.Bus,
		log:    d.Log.With(logx.String("comp", "funnel")),
		format: d.Format,
		now:    d.Now,
	}
}

func (c *Controller) Registry() *participant.Registry { return c.reg }

// CheckUser reports whether id has a record. Unknown ids are a normal
// negative result.
func (c *Controller) CheckUser(id string) CheckResult {
	rec, ok := c.reg.Get(id)
	if !ok {
		return CheckResult{}
	}
	return CheckResult{Exists: true, Completed: rec.Completed, Stage: rec.Stage(), Record: rec}
}

// SubmitClaim creates or fully replaces the record for claim.UserID.
func (c *Controller) SubmitClaim(ctx context.Context, claim Claim) participant.Record {
	ctx = detach(ctx)
	at := claim.Timestamp
	if at.IsZero() {
		at = participant.At(c.now().UTC())
	}
	rec := participant.Record{
		Username:       claim.Username,
		DisplayName:    claim.DisplayName,
		UserID:         claim.UserID,
		SessionID:      claim.SessionID,
		SubmittedAt:    at,
		TimerStartedAt: at,
		Completed:      false,
	}
	c.reg.Put(claim.UserID, rec)
	c.log.Info("claim submitted", logx.String("userid", claim.UserID), logx.String("session", claim.SessionID))

	c.Persist(ctx)
	c.publish(EventClaimSubmitted, rec)
	c.send(ctx, c.format.ClaimSubmitted(claim, at.Time))
	return rec
}

// TimerComplete marks a known participant completed. The notification is
// sent for unknown ids too; the registry is left unchanged for them.
func (c *Controller) TimerComplete(ctx context.Context, t TimerDone) (participant.Record, bool) {
	ctx = detach(ctx)
	now := c.now().UTC()
	rec, err := c.reg.Update(t.UserID, func(r *participant.Record) {
		r.Completed = true
		r.TimerDoneAt = participant.At(now)
	})
	known := err == nil
	if known {
		c.log.Info("timer completed", logx.String("userid", t.UserID))
		c.Persist(ctx)
		c.publish(EventTimerCompleted, rec)
	} else if errors.Is(err, participant.ErrNotFound) {
		c.log.Debug("timer completed for unknown participant", logx.String("userid", t.UserID))
	}
	c.send(ctx, c.format.TimerCompleted(t, now))
	return rec, known
}

// HandleMessage classifies an inbound chat message. Only known participants
// produce notifications; nothing is written to the registry.
func (c *Controller) HandleMessage(ctx context.Context, in Inbound) Outcome {
	out := Outcome{Kind: Classify(in.Text)}
	if out.Kind == KindIgnore {
		return out
	}
	ctx = detach(ctx)
	rec, ok := c.reg.Get(in.FromID)
	out.Known = ok
	if !ok {
		c.log.Debug("message from unknown participant", logx.String("userid", in.FromID), logx.String("kind", out.Kind.String()))
		return out
	}

	now := c.now()
	switch out.Kind {
	case KindVerify:
		c.log.Info("participant verified", logx.String("userid", rec.UserID), logx.String("stage", rec.Stage().String()))
		c.publish(EventUserVerified, rec)
		c.send(ctx, c.format.Verified(rec, in.Text, now))
		out.Notified = true
	case KindGreeting:
		c.log.Debug("participant greeted", logx.String("userid", rec.UserID), logx.String("stage", rec.Stage().String()))
		c.publish(EventMessageReceived, rec)
		c.send(ctx, c.format.MessageReceived(rec, in.Text, now))
		out.Notified = true
	}
	return out
}

// Len is the number of participants; it does not copy the registry.
func (c *Controller) Len() int { return c.reg.Len() }

// Users returns every record ordered by id.
func (c *Controller) Users() []participant.Record { return c.reg.Values() }

func (c *Controller) Stats() Stats {
	users := c.reg.Values()
	st := Stats{Total: len(users), Users: users}
	for _, u := range users {
		if u.Completed {
			st.Completed++
		}
	}
	st.Pending = st.Total - st.Completed
	return st
}

// Persist writes the full registry snapshot. Failures are logged and
// swallowed.
func (c *Controller) Persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	snap := c.reg.Snapshot()
	if err := c.store.Save(ctx, snap); err != nil {
		c.log.Error("save failed", logx.Int("records", len(snap)), logx.Err(err))
		return
	}
	c.log.Debug("registry saved", logx.Int("records", len(snap)))
}

// Hydrate replaces the registry with the store contents. A missing or
// unreadable snapshot leaves it empty.
func (c *Controller) Hydrate(ctx context.Context) int {
	if c.store == nil {
		return 0
	}
	records, err := c.store.Load(ctx)
	switch {
	case err == nil:
	case storage.IsNotExist(err):
		c.log.Info("no saved data, starting empty")
		records = nil
	default:
		c.log.Warn("could not load saved data, starting empty", logx.Err(err))
		records = nil
	}
	c.reg.Replace(records)
	n := c.reg.Len()
	if n > 0 {
		c.log.Info("loaded participants", logx.Int("count", n))
	}
	return n
}

// detach keeps request values but drops cancellation: saves and
// notifications complete even when the client has gone away. Only
// notify.timeout bounds a send.
func detach(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}

func (c *Controller) send(ctx context.Context, text string) {
	if c.notify == nil {
		return
	}
	_ = c.notify.Notify(ctx, text)
}

func (c *Controller) publish(kind string, rec participant.Record) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: kind, Time: c.now(), Data: rec})
}
