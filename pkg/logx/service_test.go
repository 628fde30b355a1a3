package logx

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	got  chan struct{}
}

func (c *captureSender) SendLog(ctx context.Context, text string) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, text)
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
	return nil
}

func TestFormatChatLineSortsFields(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"fetch failed","zeta":1,"flight":"NZ1"}`)
	got := formatChatLine(line)
	want := "[WARN] fetch failed\n- flight=NZ1\n- zeta=1"
	if got != want {
		t.Fatalf("formatChatLine = %q, want %q", got, want)
	}
}

func TestFormatChatLineNonJSON(t *testing.T) {
	t.Parallel()
	if got := formatChatLine([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("formatChatLine = %q", got)
	}
}

func TestChatSinkRespectsMinLevel(t *testing.T) {
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	})
	t.Cleanup(func() { _ = svc.Close() })

	sender := &captureSender{got: make(chan struct{}, 4)}
	svc.SetSender(sender)

	log.Info("routine poll")
	log.Warn("provider error", Flight("NZ101"))

	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("expected warn line to reach chat sink")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.msgs) != 1 {
		t.Fatalf("chat messages = %d, want 1: %v", len(sender.msgs), sender.msgs)
	}
	if !strings.HasPrefix(sender.msgs[0], "[WARN] provider error") {
		t.Fatalf("unexpected chat message %q", sender.msgs[0])
	}
	if !strings.Contains(sender.msgs[0], "flight=NZ101") {
		t.Fatalf("expected flight field in %q", sender.msgs[0])
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped")
	if l.With(String("k", "v")).IsZero() {
		t.Fatal("logger with fields should not be zero")
	}
}
