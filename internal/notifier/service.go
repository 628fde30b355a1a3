package notifier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"flightwatch/internal/eventbus"
	rtsup "flightwatch/internal/runtime/supervisor"
	"flightwatch/internal/storage"
	logx "flightwatch/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	text string
	at   time.Time
}

// Service implements an async notification pipeline:
// queue + single worker + rate limit + retry, fanned out to sinks.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{log: log, bus: bus, store: store}
	s.setSinksLocked(sinks)
	s.applyLocked(cfg)
	return s
}

// Supervisor returns the notifier's internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// SetSinks replaces the delivery channels. Nil sinks are ignored.
func (s *Service) SetSinks(sinks ...Sink) {
	s.mu.Lock()
	s.setSinksLocked(sinks)
	s.mu.Unlock()
}

func (s *Service) setSinksLocked(sinks []Sink) {
	s.sinks = s.sinks[:0:0]
	for _, sk := range sinks {
		if sk != nil {
			s.sinks = append(s.sinks, sk)
		}
	}
}

// SinkNames lists the configured channels.
func (s *Service) SinkNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sinks))
	for _, sk := range s.sinks {
		out = append(out, sk.Name())
	}
	return out
}

// Apply updates limits and retry policy. Queue size takes effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	s.cfg = cfg
	// burst = rate per sec so short spikes don't block too hard
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the delivery worker. Cancelling ctx does not end the worker;
// only Stop does, so messages queued before shutdown still go out.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	// One worker keeps delivery order equal to enqueue order.
	sup.GoRestart("worker", func(c context.Context) error {
		s.workerLoop(c, q)
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping {
			return context.Canceled
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("notifier worker exited unexpectedly")
	})
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close so the worker drains.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
		s.log.Warn("notifier stop deadline reached; pending messages dropped", logx.Int("pending", len(q)))
	}
}

// Enqueue queues text for delivery to every sink.
func (s *Service) Enqueue(ctx context.Context, text string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	now := time.Now()
	select {
	case q <- job{text: text, at: now}:
		s.bus.Publish(eventbus.Event{Type: "notifier.queued", Time: now, Data: NotificationEvent{At: now}})
		return nil
	default:
		s.bus.Publish(eventbus.Event{Type: "notifier.dropped", Time: now, Data: NotificationEvent{At: now, Error: ErrQueueFull.Error()}})
		return ErrQueueFull
	}
}

// Notify is the fire-and-forget form of Enqueue; failures are only logged.
func (s *Service) Notify(ctx context.Context, text string) {
	if err := s.Enqueue(ctx, text); err != nil {
		s.log.Warn("notification not queued", logx.Err(err), logx.Int("len", len(text)))
	}
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	sinks := append([]Sink(nil), s.sinks...)
	cfg := s.cfg
	s.mu.Unlock()

	if len(sinks) == 0 {
		s.log.Info("no notification channels configured; message recorded only", logx.Int("len", len(j.text)))
	}

	item := HistoryItem{At: j.at, Text: j.text, Sinks: make([]SinkResult, 0, len(sinks))}
	for _, sk := range sinks {
		res := s.sendWithRetry(ctx, sk, j.text)
		item.Sinks = append(item.Sinks, res)
		s.journal(ctx, res, j.text)
	}
	s.appendHistory(item, cfg.HistorySize)
}

func (s *Service) sendWithRetry(runCtx context.Context, sk Sink, text string) SinkResult {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	res := SinkResult{Sink: sk.Name()}
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
retry:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		if err := lim.Wait(runCtx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(runCtx, cfg.SendTimeout)
		err := sk.Send(callCtx, text)
		cancel()
		if err == nil {
			res.OK = true
			now := time.Now()
			s.bus.Publish(eventbus.Event{Type: "notifier.sent", Time: now, Data: NotificationEvent{Sink: res.Sink, At: now, Attempts: attempt}})
			return res
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.String("sink", res.Sink), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts || isPermanent(err) {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-runCtx.Done():
			t.Stop()
			lastErr = runCtx.Err()
			break retry
		}
	}

	res.Error = lastErr.Error()
	s.log.Warn("notification delivery failed", logx.String("sink", res.Sink), logx.Int("attempts", res.Attempts), logx.Err(lastErr))
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: "notifier.failed", Time: now, Data: NotificationEvent{Sink: res.Sink, At: now, Attempts: res.Attempts, Error: res.Error}})
	return res
}

func (s *Service) journal(ctx context.Context, res SinkResult, text string) {
	if s.store == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := s.store.AppendDelivery(cctx, storage.DeliveryEntry{
		Sink: res.Sink, OK: res.OK, Attempts: res.Attempts, Error: res.Error, Text: text,
	})
	if err != nil {
		s.log.Debug("delivery journal write failed", logx.Err(err))
	}
}

// PermanentError marks a sink failure that retrying cannot fix
// (bad credentials, unknown chat).
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func isPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
