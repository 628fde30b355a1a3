// Package app wires configuration, logging, the tracking registry and its
// control surfaces into one supervised process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"flightwatch/internal/config"
	"flightwatch/internal/eventbus"
	"flightwatch/internal/flightaware"
	"flightwatch/internal/httpapi"
	"flightwatch/internal/notifier"
	rtsup "flightwatch/internal/runtime/supervisor"
	"flightwatch/internal/storage"
	"flightwatch/internal/task/scheduler"
	"flightwatch/internal/tracker"
	kit "flightwatch/internal/transport"
	telegram "flightwatch/internal/transport/telegram/adapter"
	"flightwatch/internal/transport/telegram/router"
	logx "flightwatch/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	fa    *flightaware.Client
	notif *notifier.Service
	reg   *tracker.Registry
	sched *scheduler.Service
	http  *httpapi.Service

	// tg and cmds are nil when no bot token is configured.
	tg   *telegram.Adapter
	cmds *router.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Bootstrap with the chat sink off; it is enabled once the sender exists.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg)

	a := &App{
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log.With(logx.String("comp", "app")),
		bus:     eventbus.New(),
		updates: make(chan kit.Update, 256),
	}

	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
		if err != nil {
			return nil, err
		}
		a.tg, err = telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		logSvc.SetSender(a.tg.LogSender(logTarget(cfg)))
	} else {
		a.log.Warn("telegram token not set; telegram notifications and commands disabled")
	}
	logSvc.Apply(logCfg)

	sc, _, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	faCfg, err := mapFlightAwareConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.fa = flightaware.New(faCfg, log.With(logx.String("comp", "flightaware")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	sinks := mapSinks(cfg, a.textSender())
	if len(sinks) == 0 {
		a.log.Warn("no notification sinks configured")
	}
	a.notif = notifier.New(ncfg, log.With(logx.String("comp", "notifier")), a.bus, a.store, sinks...)

	ts, err := mapTrackerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.reg = tracker.NewRegistry(a.fa, a.notif, tracker.Options{
		DefaultInterval: ts.interval,
		Digest:          ts.digest,
		Bus:             a.bus,
		Logger:          log.With(logx.String("comp", "tracker")),
	})

	a.sched = scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")), a.bus)
	if err := a.registerJobs(cfg); err != nil {
		return nil, err
	}

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.http = httpapi.New(hcfg, httpapi.Deps{
		Tracker:  a.reg,
		Fetcher:  a.fa,
		Notifier: a.notif,
		Audit:    a.store,
		Health:   a.health,
	}, log)

	if a.tg != nil && cfg.Telegram.Commands {
		a.cmds = router.New(log, a.tg, cfg.Telegram.OwnerUserIDs)
		a.cmds.SetCommands(router.FlightCommands(router.Deps{
			Tracker:  a.reg,
			Fetcher:  a.fa,
			Notifier: a.notif,
			Audit:    a.store,
		}))
	}
	return a, nil
}

// textSender avoids handing a typed nil adapter to the notifier.
func (a *App) textSender() notifier.TextSender {
	if a.tg == nil {
		return nil
	}
	return a.tg
}

// registerJobs (re)registers the scheduled jobs for cfg.
func (a *App) registerJobs(cfg *config.Config) error {
	if hb := strings.TrimSpace(cfg.Scheduler.Heartbeat); hb != "" {
		if err := a.sched.Add(jobHeartbeat, hb, 30*time.Second, heartbeatJob(a.reg, a.notif)); err != nil {
			return fmt.Errorf("scheduler.heartbeat: %w", err)
		}
	} else {
		a.sched.Remove(jobHeartbeat)
	}

	_, retention, _, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if a.store != nil && retention > 0 {
		if err := a.sched.Add(jobPrune, pruneSchedule(cfg), 5*time.Minute, pruneJob(a.store, retention, a.log)); err != nil {
			return fmt.Errorf("scheduler.prune: %w", err)
		}
	} else {
		a.sched.Remove(jobPrune)
	}
	return nil
}

// supervisors lists the live supervisors by component.
func (a *App) supervisors() map[string]*rtsup.Supervisor {
	out := map[string]*rtsup.Supervisor{}
	add := func(name string, s *rtsup.Supervisor) {
		if s != nil {
			out[name] = s
		}
	}
	add("app", a.sup)
	add("tracker", a.reg.Supervisor())
	add("notifier", a.notif.Supervisor())
	add("http", a.http.Supervisor())
	if a.tg != nil {
		add("telegram.adapter", a.tg.Supervisor())
	}
	if a.cmds != nil {
		add("telegram.commands", a.cmds.Supervisor())
	}
	return out
}

func (a *App) health() map[string]any {
	sups := map[string]rtsup.Counters{}
	for name, s := range a.supervisors() {
		sups[name] = s.Counters()
	}
	return map[string]any{
		"tracking":    a.reg.Status().IsTracking,
		"sinks":       a.notif.SinkNames(),
		"scheduler":   a.sched.Enabled(),
		"storage":     a.store != nil,
		"supervisors": sups,
	}
}

// Registry exposes the tracking registry.
func (a *App) Registry() *tracker.Registry { return a.reg }

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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	a.notif.Start(runCtx)
	a.reg.Start(runCtx)

	// Sending works without polling; poll only when commands are served.
	if a.cmds != nil {
		if err := a.tg.Start(runCtx, a.updates); err != nil {
			return err
		}
		mctx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		if err := a.tg.UpdateMenuCommands(mctx, a.cmds.MenuCommands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
		cancel()
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.cmds.DispatchLoop(c, a.updates)
		})
	}

	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}
	a.http.Start(runCtx)

	if a.store != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("audit.record", func(c context.Context) {
			defer unsub()
			recordAudit(c, events, a.store, a.log.With(logx.String("comp", "audit")))
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Bool("telegram", a.tg != nil),
		logx.Bool("commands", a.cmds != nil),
		logx.Any("sinks", a.notif.SinkNames()),
	)
	return nil
}

// validateRuntime runs the service mappings so a hot reload that would fail
// later is rejected before commit.
func validateRuntime(cfg *config.Config) error {
	if _, err := mapFlightAwareConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTrackerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	for path, raw := range map[string]string{
		"scheduler.heartbeat": cfg.Scheduler.Heartbeat,
		"scheduler.prune":     cfg.Scheduler.Prune,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := scheduler.ParseSchedule(raw); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// applyConfig pushes a reloaded config into the running services.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	if a.tg != nil {
		a.logs.SetSender(a.tg.LogSender(logTarget(next)))
	}
	a.logs.Apply(mapLogConfig(next))

	if a.cmds != nil {
		a.cmds.SetOwners(next.Telegram.OwnerUserIDs)
	}

	if fc, err := mapFlightAwareConfig(next); err != nil {
		a.log.Warn("invalid flightaware config; keeping previous", logx.Err(err))
	} else {
		a.fa.Apply(fc)
	}

	if nc, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(nc)
	}
	a.notif.SetSinks(mapSinks(next, a.textSender())...)

	if ts, err := mapTrackerConfig(next); err != nil {
		a.log.Warn("invalid tracker config; keeping previous", logx.Err(err))
	} else {
		a.reg.SetDefaultInterval(ts.interval)
		a.reg.SetDigestMode(ts.digest)
	}

	wasEnabled := a.sched.Enabled()
	a.sched.Apply(mapSchedulerConfig(next))
	if err := a.registerJobs(next); err != nil {
		a.log.Warn("scheduled jobs not updated", logx.Err(err))
	}
	switch {
	case wasEnabled && !next.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(sctx)
		cancel()
	case !wasEnabled && next.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	if hc, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step bounds one shutdown stage; the caller's deadline is never extended.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("tracker", 2*time.Second, a.reg.Stop)
	// Drain queued notifications before the bot goes away.
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.tg != nil {
		step("telegram", 2*time.Second, a.tg.Stop)
	}
	step("supervisor", 2*time.Second, a.sup.Wait)
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	a.logs.SetSender(nil)
	return a.logs.Close()
}
