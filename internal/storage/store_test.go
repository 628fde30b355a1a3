package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "flightwatch/pkg/logx"
)

func nopLogger() logx.Logger { return logx.Nop() }

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: got (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected dsn error")
	}
}

// exerciseStore runs the same contract against every local driver.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	old := now.Add(-48 * time.Hour)
	entries := []AuditEntry{
		{At: old, Actor: "http:127.0.0.1", Action: "tracking.start", Flight: "NZ1"},
		{At: now.Add(-2 * time.Minute), Actor: "tracker", Action: "tracking.update", Flight: "NZ1"},
		{At: now.Add(-time.Minute), Actor: "tracker", Action: "tracking.landed", Flight: "NZ1", Detail: "2h 5m"},
	}
	for _, e := range entries {
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("append audit: %v", err)
		}
	}
	if err := st.AppendDelivery(ctx, DeliveryEntry{At: old, Sink: "telegram", OK: true, Attempts: 1, Text: "old"}); err != nil {
		t.Fatalf("append delivery: %v", err)
	}
	if err := st.AppendDelivery(ctx, DeliveryEntry{Sink: "discord", OK: false, Attempts: 3, Error: "http 500", Text: strings.Repeat("x", 2000)}); err != nil {
		t.Fatalf("append delivery: %v", err)
	}

	got, err := st.RecentAudit(ctx, 2)
	if err != nil {
		t.Fatalf("recent audit: %v", err)
	}
	if len(got) != 2 || got[0].Action != "tracking.landed" || got[1].Action != "tracking.update" {
		t.Fatalf("unexpected recent audit %+v", got)
	}
	if got[0].Detail != "2h 5m" {
		t.Fatalf("detail lost: %+v", got[0])
	}

	n, err := st.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}
	got, err = st.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("recent audit after prune: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries after prune, want 2", len(got))
	}

	// appends still work after prune
	if err := st.AppendAudit(ctx, AuditEntry{Actor: "tracker", Action: "tracking.stopped"}); err != nil {
		t.Fatalf("append after prune: %v", err)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "journal.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	exerciseStore(t, st)

	b, err := os.ReadFile(filepath.Join(dir, "journal.deliveries.jsonl"))
	if err != nil {
		t.Fatalf("read deliveries: %v", err)
	}
	if len(b) > 2*maxStoredText+200 {
		t.Fatalf("delivery text not clipped: %d bytes", len(b))
	}
}

func TestFileStoreRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "flightwatch.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	exerciseStore(t, st)
}

func TestClipText(t *testing.T) {
	t.Parallel()
	if got := clipText("short"); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("é", maxStoredText+10)
	if got := []rune(clipText(long)); len(got) != maxStoredText {
		t.Fatalf("clipped to %d runes, want %d", len(got), maxStoredText)
	}
}
