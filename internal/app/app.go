package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"claimrelay/internal/eventbus"
	"claimrelay/internal/funnel"
	"claimrelay/internal/httpapi"
	"claimrelay/internal/notifier"
	"claimrelay/internal/participant"
	"claimrelay/internal/runtime/lifecycle"
	"claimrelay/internal/runtime/supervisor"
	"claimrelay/internal/storage"
	"claimrelay/internal/task/scheduler"
	kit "claimrelay/internal/transport"
	telegram "claimrelay/internal/transport/telegram/adapter"
	logx "claimrelay/pkg/logx"
)

const saveJobName = "registry.save"

// sdNotify reports state to systemd; a no-op outside a notify unit.
var sdNotify = daemon.SdNotify

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	notif   *notifier.Service
	funnel  *funnel.Controller
	http    *httpapi.Server
	sched   *scheduler.Service

	state     lifecycle.Tracker
	saveSpec  string
	pollInbox bool
	updates   chan kit.Update
	events    eventTally
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		Poll:        cfg.Telegram.PollUpdates,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging off, set the target, then apply the
	// final config so Apply never sees an enabled sink without a target.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, root := logx.New(baseLogCfg, ad)
	log := root.With(logx.String("comp", "app"))

	target, err := parseChatTarget(cfg.Telegram.ChatID)
	if err != nil {
		log.Warn("notifications will fail until chat_id is fixed", logx.Err(err))
	}
	logSvc.SetTelegramTarget(target)
	logSvc.Apply(mapLogConfig(cfg))

	bus := eventbus.New()

	var store storage.Store
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	} else {
		log.Warn("storage disabled; participants are kept in memory only")
	}

	ncfg, err := mapNotifierConfig(cfg, target)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")), bus)

	ctrl := funnel.New(funnel.Deps{
		Registry: participant.NewRegistry(),
		Store:    store,
		Notifier: notifSvc,
		Bus:      bus,
		Log:      root,
	})

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	saveSpec, err := saveSchedule(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		notif:     notifSvc,
		funnel:    ctrl,
		http:      httpapi.New(hcfg, ctrl, root),
		sched:     scheduler.New(scheduler.Config{}, root.With(logx.String("comp", "scheduler"))),
		saveSpec:  saveSpec,
		pollInbox: cfg.Telegram.PollUpdates,
		updates:   make(chan kit.Update, 256),
	}, nil
}

func (a *App) Funnel() *funnel.Controller { return a.funnel }

func (a *App) State() lifecycle.State { return a.state.Load() }

// HTTPAddr returns the bound listener address once started.
func (a *App) HTTPAddr() string { return a.http.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start loads saved participants, then starts the listener, the periodic
// save and the background loops.
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error { return validateConfig(cfg) })

	a.funnel.Hydrate(a.sup.Context())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if a.pollInbox {
		a.sup.Go0("updates.dispatch", func(c context.Context) { a.dispatchUpdates(c) })
	}

	a.sup.Go("http.serve", a.http.Serve)
	select {
	case <-a.http.Ready():
	case <-a.sup.Context().Done():
		if err := a.sup.Err(); err != nil {
			return err
		}
		return a.sup.Context().Err()
	}

	if err := a.sched.Add(saveJobName, a.saveSpec, 30*time.Second, func(c context.Context) error {
		a.funnel.Persist(c)
		return nil
	}); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.events.observe(e)
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, time.Minute),
	)

	a.state.Advance(lifecycle.StateRunning)
	if ok, err := sdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified", logx.String("state", "ready"))
	}

	cfg := a.cfgm.Get()
	a.log.Info("app started",
		logx.String("addr", a.http.Addr()),
		logx.String("chat_id", strings.TrimSpace(cfg.Telegram.ChatID)),
		logx.Bool("token_set", strings.TrimSpace(cfg.Telegram.Token) != ""),
		logx.Bool("poll_updates", a.pollInbox),
		logx.Int("participants", a.funnel.Registry().Len()),
		logx.String("save_every", a.saveSpec),
	)
	return nil
}

func (a *App) dispatchUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			a.funnel.HandleMessage(ctx, funnel.Inbound{
				Text:   up.Message.Text,
				FromID: strconv.FormatInt(up.Message.FromID, 10),
			})
		}
	}
}

// applyConfig applies what can change live (logging) and flags the rest.
func (a *App) applyConfig(prev, next *Config) {
	sections, attrs := SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)

	if target, err := parseChatTarget(next.Telegram.ChatID); err == nil {
		a.logs.SetTelegramTarget(target)
	}
	a.logs.Apply(mapLogConfig(next))

	for _, s := range sections {
		if s != "logging" {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	a.log.Info("config reloaded", fields...)
}

// Stop saves the registry and shuts every component down. Each step is
// bounded so one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if !a.state.Advance(lifecycle.StateDraining) {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = sdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("http", 2*time.Second, a.http.Stop)
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("save", 5*time.Second, func(c context.Context) error {
		a.funnel.Persist(c)
		return nil
	})
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.state.Advance(lifecycle.StateStopped)
	gc := a.sup.Counters()
	a.log.Info("stopped", append([]logx.Field{
		logx.String("reason", string(reason)),
		logx.Int64("goroutines_started", int64(gc.Started)),
		logx.Int64("goroutines_left", gc.Active),
	}, a.events.fields()...)...)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
