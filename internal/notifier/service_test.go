package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	kit "flightwatch/internal/transport"
	logx "flightwatch/pkg/logx"
)

type recordSink struct {
	name string

	mu    sync.Mutex
	texts []string
	// failures makes the first N sends fail.
	failures int
	err      error
}

func (r *recordSink) Name() string { return r.name }

func (r *recordSink) Send(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		if r.err != nil {
			return r.err
		}
		return errors.New("temporary failure")
	}
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordSink) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func fastConfig() Config {
	return Config{
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      3,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		SendTimeout:   time.Second,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNotifyFansOutInOrder(t *testing.T) {
	t.Parallel()
	tg := &recordSink{name: "telegram"}
	dc := &recordSink{name: "discord"}
	s := New(fastConfig(), logx.Nop(), nil, nil, tg, dc)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	want := []string{"🛫 start", "🔄 update", "🛬 landed"}
	for _, w := range want {
		s.Notify(context.Background(), w)
	}
	waitFor(t, "deliveries", func() bool { return len(s.History()) == len(want) })

	for _, sk := range []*recordSink{tg, dc} {
		got := sk.got()
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("%s got %q, want %q", sk.name, got, want)
		}
	}
	h := s.History()
	if len(h[0].Sinks) != 2 || !h[0].Sinks[0].OK || !h[0].Sinks[1].OK {
		t.Fatalf("unexpected sink results %+v", h[0].Sinks)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	t.Parallel()
	sk := &recordSink{name: "discord", failures: 2}
	s := New(fastConfig(), logx.Nop(), nil, nil, sk)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Enqueue(context.Background(), "hello"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, "delivery", func() bool { return len(s.History()) == 1 })

	res := s.History()[0].Sinks[0]
	if !res.OK || res.Attempts != 3 {
		t.Fatalf("got %+v, want ok after 3 attempts", res)
	}
}

func TestPermanentErrorNotRetried(t *testing.T) {
	t.Parallel()
	sk := &recordSink{name: "telegram", failures: 5, err: &PermanentError{Err: errors.New("chat not found")}}
	s := New(fastConfig(), logx.Nop(), nil, nil, sk)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Notify(context.Background(), "hello")
	waitFor(t, "delivery", func() bool { return len(s.History()) == 1 })

	res := s.History()[0].Sinks[0]
	if res.OK || res.Attempts != 1 || res.Error != "chat not found" {
		t.Fatalf("got %+v", res)
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), logx.Nop(), nil, nil)
	if err := s.Enqueue(context.Background(), "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}
	// Notify must not panic or block.
	s.Notify(context.Background(), "x")
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()
	sk := &recordSink{name: "telegram"}
	s := New(fastConfig(), logx.Nop(), nil, nil, sk)
	s.Start(context.Background())

	for i := 0; i < 5; i++ {
		s.Notify(context.Background(), "msg")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)

	if n := len(sk.got()); n != 5 {
		t.Fatalf("delivered %d, want 5", n)
	}
	if err := s.Enqueue(context.Background(), "late"); !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped after stop", err)
	}
}

func TestStopDrainsAfterRunContextCancelled(t *testing.T) {
	t.Parallel()
	sk := &recordSink{name: "discord"}
	s := New(fastConfig(), logx.Nop(), nil, nil, sk)
	runCtx, cancelRun := context.WithCancel(context.Background())
	s.Start(runCtx)

	for i := 0; i < 5; i++ {
		s.Notify(context.Background(), "msg")
	}
	// Shutdown cancels the run context before stopping the notifier.
	cancelRun()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)

	if n := len(sk.got()); n != 5 {
		t.Fatalf("delivered %d, want 5", n)
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.HistorySize = 2
	s := New(cfg, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	for _, m := range []string{"a", "b", "c"} {
		s.Notify(context.Background(), m)
	}
	waitFor(t, "history", func() bool {
		h := s.History()
		return len(h) == 2 && h[1].Text == "c"
	})
	if h := s.History(); h[0].Text != "b" {
		t.Fatalf("oldest kept = %q, want b", h[0].Text)
	}
}

func TestRetryDelayBounded(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v outside jitter window", d)
	}
}

func TestDiscordSink(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var p struct {
			Content string `json:"content"`
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		bodies = append(bodies, p.Content)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sk := NewDiscordSink(srv.URL)
	long := strings.Repeat("line of status text\n", 150) // > 2000 chars
	if err := sk.Send(context.Background(), long); err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) < 2 {
		t.Fatalf("expected chunked posts, got %d", len(bodies))
	}
	for i, b := range bodies {
		if n := len([]rune(b)); n > discordContentLimit {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
	}
}

func TestDiscordSinkErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request", http.StatusNotFound, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusBadGateway, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			err := NewDiscordSink(srv.URL).Send(context.Background(), "x")
			if err == nil {
				t.Fatal("expected error")
			}
			if isPermanent(err) != tc.permanent {
				t.Fatalf("permanent = %v, want %v (%v)", isPermanent(err), tc.permanent, err)
			}
		})
	}
}

type fakeSender struct {
	to   kit.ChatTarget
	text string
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.to, f.text = to, text
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func TestTelegramSink(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	sk := &TelegramSink{Sender: fs, Target: kit.ChatTarget{ChatID: -100, ThreadID: 7}}
	if err := sk.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if fs.to.ChatID != -100 || fs.to.ThreadID != 7 || fs.text != "hi" {
		t.Fatalf("unexpected send %+v %q", fs.to, fs.text)
	}
	if err := (&TelegramSink{Sender: fs}).Send(context.Background(), "x"); !isPermanent(err) {
		t.Fatalf("missing chat should be permanent, got %v", err)
	}
}

func TestSplitContent(t *testing.T) {
	t.Parallel()
	if got := splitContent("short", 10); len(got) != 1 {
		t.Fatalf("got %q", got)
	}
	got := splitContent(strings.Repeat("a", 25), 10)
	if len(got) != 3 || got[2] != "aaaaa" {
		t.Fatalf("got %q", got)
	}
}
