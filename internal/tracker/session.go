package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flightwatch/internal/eventbus"
	logx "flightwatch/pkg/logx"
)

// session tracks one flight. Its loop goroutine is the only writer of the
// poll results; Stop and SetInterval may run concurrently.
type session struct {
	id      string
	flight  string
	fetcher Fetcher
	bus     eventbus.Bus
	log     logx.Logger
	mode    DigestMode
	// deliver hands a message to the notifier unless the session was stopped.
	deliver func(s *session, text string) bool

	mu           sync.Mutex
	state        State
	stopped      bool
	startedAt    time.Time
	lastUpdateAt time.Time
	lastDigest   string
	errorCount   int
	interval     time.Duration
	backoff      time.Duration

	stopCh     chan struct{}
	refreshCh  chan struct{}
	intervalCh chan struct{}
	done       chan struct{}
}

// newSession returns a session already in StateStarting so control calls made
// right after start see it as live.
func newSession(id, flight string, interval time.Duration, r *Registry) *session {
	return &session{
		id:         id,
		flight:     flight,
		fetcher:    r.fetcher,
		bus:        r.bus,
		log:        r.log.With(logx.Flight(flight), logx.String("session", id)),
		mode:       r.digestMode(),
		deliver:    r.deliver,
		state:      StateStarting,
		startedAt:  time.Now(),
		interval:   ClampInterval(interval),
		backoff:    r.retryBackoff(),
		stopCh:     make(chan struct{}),
		refreshCh:  make(chan struct{}, 1),
		intervalCh: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func (s *session) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		IsTracking:      s.state.Live(),
		Flight:          s.flight,
		SessionID:       s.id,
		State:           s.state,
		ErrorCount:      s.errorCount,
		IntervalSeconds: int(s.interval / time.Second),
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		st.StartedAt = &t
	}
	if !s.lastUpdateAt.IsZero() {
		t := s.lastUpdateAt
		st.LastUpdate = &t
	}
	return st
}

func (s *session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// stop marks the session stopped and wakes its loop. It reports whether the
// session was live.
func (s *session) stop() bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.stopped = true
	live := !s.state.Terminal()
	if live {
		s.state = StateStopped
	}
	s.mu.Unlock()

	close(s.stopCh)
	if live {
		s.publish(EventStopped, nil)
	}
	return live
}

// transition moves to a terminal state unless the session was stopped or is
// already terminal.
func (s *session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.state.Terminal() {
		return false
	}
	s.state = to
	return true
}

func (s *session) setInterval(d time.Duration) bool {
	s.mu.Lock()
	if !s.state.Live() {
		s.mu.Unlock()
		return false
	}
	s.interval = d
	s.mu.Unlock()
	signal(s.intervalCh)
	return true
}

func (s *session) refresh() bool {
	s.mu.Lock()
	live := s.state.Live() && !s.stopped
	s.mu.Unlock()
	if live {
		signal(s.refreshCh)
	}
	return live
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *session) publish(typ string, err error) {
	s.mu.Lock()
	d := EventData{SessionID: s.id, Flight: s.flight, State: s.state, ErrorCount: s.errorCount}
	s.mu.Unlock()
	if err != nil {
		d.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: d})
}

func (s *session) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if p := recover(); p != nil {
			if s.transition(StateAborted) {
				s.publish(EventAborted, fmt.Errorf("panic: %v", p))
			}
			panic(p)
		}
	}()

	if !s.begin(ctx) {
		return
	}
	retry := false
	for {
		if !s.sleep(ctx, retry) {
			return
		}
		var terminal bool
		terminal, retry = s.poll(ctx)
		s.publish(EventPolled, nil)
		if terminal {
			return
		}
	}
}

// begin performs the first fetch. It reports whether the loop should start.
func (s *session) begin(ctx context.Context) bool {
	if s.isStopped() {
		return false
	}
	s.log.Info("tracking starting")

	text, err := s.fetcher.FetchStatus(ctx, s.flight)
	if s.isStopped() {
		return false
	}
	if err != nil {
		s.mu.Lock()
		s.errorCount = 1
		s.mu.Unlock()
		if !s.transition(StateAborted) {
			return false
		}
		s.log.Warn("tracking failed to start", logx.Err(err))
		s.deliver(s, fmt.Sprintf("❌ Failed to start tracking %s: %v", s.flight, err))
		s.publish(EventAborted, err)
		return false
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.state = StateActive
	s.lastDigest = digest(text, s.mode)
	s.errorCount = 0
	s.mu.Unlock()

	if s.deliver(s, fmt.Sprintf("🛫 Flight tracking started for %s\n\n%s", s.flight, text)) {
		s.markUpdated()
	}
	s.publish(EventStarted, nil)
	return true
}

func (s *session) markUpdated() {
	s.mu.Lock()
	s.lastUpdateAt = time.Now()
	s.mu.Unlock()
}

// sleep waits for the poll interval, or the retry backoff after an error. An
// interval change re-arms the timer relative to when the wait began. It
// reports false when the loop must end.
func (s *session) sleep(ctx context.Context, retry bool) bool {
	began := time.Now()
	for {
		s.mu.Lock()
		d := s.interval
		if retry {
			d = s.backoff
		}
		s.mu.Unlock()
		remaining := d - time.Since(began)
		if remaining <= 0 {
			return !s.isStopped()
		}
		t := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-s.stopCh:
			t.Stop()
			return false
		case <-s.refreshCh:
			t.Stop()
			return !s.isStopped()
		case <-s.intervalCh:
			t.Stop()
		case <-t.C:
			return !s.isStopped()
		}
	}
}

// poll fetches once and reacts. It returns whether the session reached a
// terminal state and whether the next wait is a retry backoff.
func (s *session) poll(ctx context.Context) (terminal, retry bool) {
	text, err := s.fetcher.FetchStatus(ctx, s.flight)
	if s.isStopped() {
		return true, false
	}
	if err != nil {
		return s.failed(err), true
	}

	d := digest(text, s.mode)
	s.mu.Lock()
	s.errorCount = 0
	changed := d != s.lastDigest
	if changed {
		s.lastDigest = d
	}
	startedAt := s.startedAt
	s.mu.Unlock()

	if IsLanded(text) {
		if !s.transition(StateLanded) {
			return true, false
		}
		dur := time.Since(startedAt)
		s.log.Info("flight landed", logx.Duration("tracked", dur))
		s.deliver(s, fmt.Sprintf("🛬 Flight %s has landed!\nTracked for %dh %dm\n\n%s",
			s.flight, int(dur.Hours()), int(dur.Minutes())%60, text))
		s.publish(EventLanded, nil)
		return true, false
	}

	if !changed {
		s.log.Debug("status unchanged")
		s.publish(EventUnchanged, nil)
		return false, false
	}
	if s.deliver(s, fmt.Sprintf("🔄 Status update for %s\n\n%s", s.flight, text)) {
		s.markUpdated()
	}
	s.publish(EventUpdate, nil)
	return false, false
}

// failed records a failed poll and reports whether the error budget is spent.
func (s *session) failed(err error) bool {
	s.mu.Lock()
	s.errorCount++
	n := s.errorCount
	s.mu.Unlock()

	s.log.Warn("poll failed", logx.Int("errors", n), logx.Err(err))
	s.deliver(s, fmt.Sprintf("❌ Error tracking %s (%d/%d): %v", s.flight, n, MaxErrors, err))
	s.publish(EventError, err)
	if n < MaxErrors {
		return false
	}
	if !s.transition(StateAborted) {
		return true
	}
	s.log.Error("tracking aborted", logx.Int("errors", n))
	s.deliver(s, fmt.Sprintf("🚨 Giving up on %s after %d consecutive errors", s.flight, n))
	s.publish(EventAborted, err)
	return true
}
