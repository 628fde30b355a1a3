package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"flightwatch/internal/eventbus"
	logx "flightwatch/pkg/logx"
)

var ErrUnknownJob = errors.New("scheduler: unknown job")

const defaultJobTimeout = time.Minute

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change restarts cron with the same jobs.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Add registers job under name, replacing any job with the same name.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("scheduler: name required")
	}
	if job == nil {
		return errors.New("scheduler: job required")
	}
	sc, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if sc.Kind == KindCron {
		if _, err := s.parser.Parse(sc.Cron); err != nil {
			return fmt.Errorf("scheduler: %s: %w", name, err)
		}
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	e := &entry{name: name, sched: sc, timeout: timeout, job: job}
	s.defs = append(s.defs, e)
	if s.c != nil {
		s.registerLocked(e)
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("expr", sc.Expr()), logx.Duration("timeout", timeout))
	return nil
}

// Remove reports whether a job named name existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, e := range s.defs {
		if e.name == name {
			if s.c != nil && e.entryID != 0 {
				s.c.Remove(e.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = e
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var e *entry
	for _, d := range s.defs {
		if d.name == name {
			e = d
		}
	}
	s.mu.Unlock()
	if e == nil {
		return ErrUnknownJob
	}
	return s.run(ctx, e)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, e := range s.defs {
		s.registerLocked(e)
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for running jobs or ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	for _, e := range s.defs {
		e.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) registerLocked(e *entry) {
	runCtx := s.runCtx
	job := cron.FuncJob(func() { _ = s.run(runCtx, e) })
	if e.sched.Kind == KindInterval {
		sched, jitter := spreadInterval(e.sched.Every, time.Now().In(s.loc), e.name)
		e.spreadBy = jitter
		e.entryID = s.c.Schedule(sched, job)
		return
	}
	id, err := s.c.AddJob(e.sched.Cron, job)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", e.name), logx.Err(err))
		return
	}
	e.entryID = id
}

func (s *Service) run(ctx context.Context, e *entry) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err := e.job(ctx)
	dur := time.Since(start)

	e.mu.Lock()
	e.runs++
	e.lastRun = start
	e.lastDur = dur
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	e.mu.Unlock()

	ev := RunEvent{Name: e.name, Duration: dur}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("scheduled job failed", logx.String("name", e.name), logx.Duration("dur", dur), logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: "schedule.failed", Data: ev})
		return err
	}
	s.log.Debug("scheduled job done", logx.String("name", e.name), logx.Duration("dur", dur))
	s.bus.Publish(eventbus.Event{Type: "schedule.run", Data: ev})
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: s.cfg.Timezone}
	if snap.Timezone == "" && s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, e := range s.defs {
		it := ScheduleInfo{Name: e.name, Expr: e.sched.Expr(), Timeout: e.timeout}
		if s.c != nil && e.entryID != 0 {
			ce := s.c.Entry(e.entryID)
			it.Next, it.Prev = ce.Next, ce.Prev
		}
		e.mu.Lock()
		it.Runs, it.LastDur, it.LastErr = e.runs, e.lastDur, e.lastErr
		e.mu.Unlock()
		snap.Schedules = append(snap.Schedules, it)
	}
	return snap
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
