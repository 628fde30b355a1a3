package scheduler

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   Kind
		source string
		every  time.Duration
		expr   string
	}{
		{name: "cron", raw: "*/30 * * * *", kind: KindCron, source: "cron", expr: "*/30 * * * *"},
		{name: "descriptor", raw: "@daily", kind: KindCron, source: "cron", expr: "@daily"},
		{name: "prefixed cron", raw: "cron:0 8 * * *", kind: KindCron, source: "cron", expr: "0 8 * * *"},
		{name: "duration", raw: "90m", kind: KindInterval, source: "duration", every: 90 * time.Minute, expr: "@every 1h30m0s"},
		{name: "prefixed interval", raw: "every:45s", kind: KindInterval, source: "duration", every: 45 * time.Second, expr: "@every 45s"},
		{name: "hhmm", raw: "02:30", kind: KindInterval, source: "hhmm", every: 150 * time.Minute, expr: "@every 2h30m0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.Source != tt.source {
				t.Fatalf("got %s/%s, want %s/%s", got.Kind, got.Source, tt.kind, tt.source)
			}
			if tt.kind == KindInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if got.Expr() != tt.expr {
				t.Fatalf("Expr = %q, want %q", got.Expr(), tt.expr)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:00", "01:75", "interval:-5m", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Errorf("ParseSchedule(%q): expected error", raw)
		}
	}
}
