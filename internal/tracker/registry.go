package tracker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"flightwatch/internal/eventbus"
	rtsup "flightwatch/internal/runtime/supervisor"
	logx "flightwatch/pkg/logx"
)

type Options struct {
	DefaultInterval time.Duration
	Digest          DigestMode
	// RetryBackoff is the wait after a failed poll. Zero means RetryBackoff.
	RetryBackoff time.Duration
	Bus          eventbus.Bus
	Logger       logx.Logger
}

// Registry owns the single tracking session. It is safe for concurrent use
// and is shared by every control surface.
type Registry struct {
	fetcher  Fetcher
	notifier Notifier
	bus      eventbus.Bus
	log      logx.Logger

	// startMu serializes start/stop so replacement is atomic.
	startMu sync.Mutex
	// gate is held while a message is handed to the notifier. stop takes it
	// too, so a stopped session can never deliver afterwards.
	gate sync.Mutex

	mu         sync.RWMutex
	cur        *session
	defaultIvl time.Duration
	mode       DigestMode
	backoff    time.Duration
	sup        *rtsup.Supervisor
}

func NewRegistry(f Fetcher, n Notifier, opts Options) *Registry {
	if opts.Logger.IsZero() {
		opts.Logger = logx.Nop()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop{}
	}
	if opts.Digest == "" {
		opts.Digest = DigestFull
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = RetryBackoff
	}
	return &Registry{
		fetcher:    f,
		notifier:   n,
		bus:        opts.Bus,
		log:        opts.Logger,
		defaultIvl: ClampInterval(opts.DefaultInterval),
		mode:       opts.Digest,
		backoff:    opts.RetryBackoff,
	}
}

// Start binds session loops to ctx. Calling it is optional; without it loops
// run until stopped.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sup == nil {
		r.sup = rtsup.New(ctx, rtsup.WithLogger(r.log))
	}
}

// Stop ends the current session and waits for loops to exit.
func (r *Registry) Stop(ctx context.Context) error {
	r.StopTracking()
	r.mu.RLock()
	sup := r.sup
	r.mu.RUnlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

func (r *Registry) supervisor() *rtsup.Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sup == nil {
		r.sup = rtsup.New(context.Background(), rtsup.WithLogger(r.log))
	}
	return r.sup
}

// Supervisor exposes loop goroutine stats.
func (r *Registry) Supervisor() *rtsup.Supervisor { return r.supervisor() }

func (r *Registry) SetDefaultInterval(d time.Duration) {
	r.mu.Lock()
	r.defaultIvl = ClampInterval(d)
	r.mu.Unlock()
}

// SetDigestMode applies to sessions started afterwards.
func (r *Registry) SetDigestMode(m DigestMode) {
	r.mu.Lock()
	r.mode = m
	r.mu.Unlock()
}

func (r *Registry) retryBackoff() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backoff
}

func (r *Registry) digestMode() DigestMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

func (r *Registry) StartTracking(flight string) error {
	return r.StartTrackingWith(flight, StartOptions{})
}

// StartTrackingWith replaces any current session with a new one for flight.
// It returns once the new loop is launched; the first fetch happens there.
func (r *Registry) StartTrackingWith(flight string, opts StartOptions) error {
	flight = strings.TrimSpace(flight)
	if flight == "" {
		return ErrEmptyFlight
	}

	r.startMu.Lock()
	defer r.startMu.Unlock()

	if old := r.current(); old != nil {
		if old.stop() {
			r.log.Info("tracking replaced", logx.Flight(old.flight), logx.String("by", flight))
		}
		r.fence()
	}

	r.mu.RLock()
	ivl := r.defaultIvl
	r.mu.RUnlock()
	if opts.Interval > 0 {
		ivl = opts.Interval
	}

	s := newSession(ulid.Make().String(), flight, ivl, r)
	r.mu.Lock()
	r.cur = s
	r.mu.Unlock()

	r.supervisor().Go0("tracker."+flight, s.run)
	return nil
}

// StopTracking stops and drops the current session. It reports whether a
// live session was stopped.
func (r *Registry) StopTracking() bool {
	r.startMu.Lock()
	defer r.startMu.Unlock()

	s := r.current()
	if s == nil {
		return false
	}
	live := s.stop()
	r.fence()

	r.mu.Lock()
	r.cur = nil
	r.mu.Unlock()
	if live {
		r.log.Info("tracking stopped", logx.Flight(s.flight))
	}
	return live
}

// Status never waits on a session loop. A terminal session stays visible
// until the next start.
func (r *Registry) Status() Status {
	s := r.current()
	if s == nil {
		r.mu.RLock()
		ivl := r.defaultIvl
		r.mu.RUnlock()
		return Status{State: StateIdle, IntervalSeconds: int(ivl / time.Second)}
	}
	return s.snapshot()
}

// SetInterval changes the live session's interval. seconds is clamped to
// [MinInterval, MaxInterval] either way.
func (r *Registry) SetInterval(seconds int) IntervalResult {
	d := ClampInterval(SecondsInterval(seconds))
	if seconds <= 0 {
		d = MinInterval
	}
	res := IntervalResult{EffectiveSeconds: int(d / time.Second)}
	if s := r.current(); s != nil {
		res.Applied = s.setInterval(d)
	}
	return res
}

// Refresh makes the live session poll now.
func (r *Registry) Refresh() bool {
	s := r.current()
	if s == nil {
		return false
	}
	return s.refresh()
}

func (r *Registry) current() *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

// fence waits for an in-progress delivery to finish.
func (r *Registry) fence() {
	r.gate.Lock()
	r.gate.Unlock() //nolint:staticcheck
}

func (r *Registry) deliver(s *session, text string) bool {
	r.gate.Lock()
	defer r.gate.Unlock()
	if s.isStopped() {
		s.log.Debug("dropping message from stopped session")
		return false
	}
	if r.notifier != nil {
		r.notifier.Notify(context.Background(), text)
	}
	return true
}
