package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"flightwatch/internal/eventbus"
	"flightwatch/internal/storage"
	"flightwatch/internal/tracker"
	logx "flightwatch/pkg/logx"
)

const (
	jobHeartbeat = "tracking.heartbeat"
	jobPrune     = "storage.prune"
)

// heartbeatText renders the periodic "still tracking" report. It returns ""
// when nothing is live.
func heartbeatText(st tracker.Status, now time.Time) string {
	if !st.IsTracking {
		return ""
	}
	last := "no update yet"
	if st.LastUpdate != nil {
		last = "last update " + humanize.RelTime(*st.LastUpdate, now, "ago", "from now")
	}
	since := ""
	if st.StartedAt != nil {
		since = fmt.Sprintf(" (since %s)", humanize.RelTime(*st.StartedAt, now, "ago", "from now"))
	}
	return fmt.Sprintf("⏱ Still tracking %s%s, %s", st.Flight, since, last)
}

func heartbeatJob(reg interface{ Status() tracker.Status }, n tracker.Notifier) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if text := heartbeatText(reg.Status(), time.Now()); text != "" {
			n.Notify(ctx, text)
		}
		return nil
	}
}

func pruneJob(st storage.Store, retention time.Duration, log logx.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-retention)
		n, err := st.Prune(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		if n > 0 {
			log.Info("storage pruned", logx.Int64("removed", n), logx.Time("before", cutoff))
		}
		return nil
	}
}

// auditedEvents are the tracking transitions written to the audit log.
var auditedEvents = map[string]bool{
	tracker.EventStarted: true,
	tracker.EventUpdate:  true,
	tracker.EventError:   true,
	tracker.EventLanded:  true,
	tracker.EventAborted: true,
	tracker.EventStopped: true,
}

// auditEntry maps a bus event to an audit record; ok is false for events
// that are not audited.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	if !auditedEvents[e.Type] {
		return storage.AuditEntry{}, false
	}
	d, ok := e.Data.(tracker.EventData)
	if !ok {
		return storage.AuditEntry{}, false
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	return storage.AuditEntry{
		At:        at,
		Actor:     "tracker",
		Action:    e.Type,
		Flight:    d.Flight,
		SessionID: d.SessionID,
		Detail:    string(d.State),
		Error:     d.Error,
	}, true
}

// recordAudit writes tracking transitions from events until ctx is done or
// events is closed.
func recordAudit(ctx context.Context, events <-chan eventbus.Event, st storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			entry, ok := auditEntry(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := st.AppendAudit(wctx, entry); err != nil {
				log.Warn("audit write failed", logx.String("action", entry.Action), logx.Err(err))
			}
			cancel()
		}
	}
}
