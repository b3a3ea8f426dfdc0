package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "claimrelay/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		parser: specParser,
		defs:   map[string]*scheduleDef{},
	}
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Normalize parses schedule with ParseSchedule and checks the result against
// the cron parser, returning the expression the service would arm.
func Normalize(schedule string) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	spec := ps.Spec()
	if _, err := specParser.Parse(spec); err != nil {
		return "", fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return spec, nil
}

// Add registers job under name using a schedule string accepted by
// ParseSchedule. A job with the same name is replaced. Jobs added before
// Start are armed when Start runs.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	spec, err := Normalize(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		if err := s.armLocked(d); err != nil {
			delete(s.defs, name)
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.String("raw", schedule))
	return nil
}

// Remove unregisters name. It reports whether a schedule was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

// Start begins triggering. Jobs run with a context derived from ctx that is
// cancelled by Stop.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.loc = s.loadLocationLocked()
	s.ctx, s.stop = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.armLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	c := s.c
	cancel := s.stop
	s.c = nil
	s.stop = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for jobs")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Entries lists the registered schedules ordered by name.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.defs))
	for _, d := range s.defs {
		e := Entry{Name: d.name, Spec: d.spec, Runs: d.runs.Load(), Skip: d.skips.Load()}
		if s.c != nil && d.entryID != 0 {
			ce := s.c.Entry(d.entryID)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (s *Service) armLocked(d *scheduleDef) error {
	ctx := s.ctx
	id, err := s.c.AddFunc(d.spec, func() { s.run(ctx, d) })
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) run(ctx context.Context, d *scheduleDef) {
	if ctx.Err() != nil {
		return
	}
	if !d.running.CompareAndSwap(false, true) {
		d.skips.Add(1)
		s.log.Warn("job still running; trigger skipped", logx.String("name", d.name))
		return
	}
	s.wg.Add(1)
	defer func() {
		d.running.Store(false)
		s.wg.Done()
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeRun(ctx, d.job)
	d.runs.Add(1)
	if err != nil {
		s.log.Error("job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
