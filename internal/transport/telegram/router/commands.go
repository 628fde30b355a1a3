package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"flightwatch/internal/config"
	"flightwatch/internal/storage"
	"flightwatch/internal/tracker"
	logx "flightwatch/pkg/logx"
)

// Tracker is the registry surface the commands drive.
type Tracker interface {
	StartTrackingWith(flight string, opts tracker.StartOptions) error
	StopTracking() bool
	Status() tracker.Status
	SetInterval(seconds int) tracker.IntervalResult
	Refresh() bool
}

type Notifier interface {
	Notify(ctx context.Context, text string)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Deps struct {
	Tracker  Tracker
	Fetcher  tracker.Fetcher
	Notifier Notifier
	// Audit is optional.
	Audit Auditor
}

var errUsage = errors.New("usage")

// FlightCommands returns the owner-only flight tracking commands.
func FlightCommands(d Deps) []Command {
	audit := func(ctx context.Context, req *Request, action, flight, detail string) {
		if d.Audit == nil {
			return
		}
		err := d.Audit.AppendAudit(ctx, storage.AuditEntry{
			At: time.Now(), Actor: req.Actor(), Action: action, Flight: flight, Detail: detail,
		})
		if err != nil {
			req.logger(logx.Nop()).Warn("audit append failed", logx.String("action", action), logx.Err(err))
		}
	}

	return []Command{
		{
			Name:        "track",
			Description: "start tracking a flight",
			Usage:       "/track <flight> [interval]",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) == 0 {
					return fmt.Errorf("%w: /track <flight> [interval]", errUsage)
				}
				flight := strings.ToUpper(req.Args[0])
				var opts tracker.StartOptions
				raw := req.Flags["interval"]
				if len(req.Args) > 1 {
					raw = req.Args[1]
				}
				if raw != "" {
					ivl, err := config.ParseSecondsOrDuration(raw)
					if err != nil {
						return err
					}
					opts.Interval = ivl
				}
				if err := d.Tracker.StartTrackingWith(flight, opts); err != nil {
					return err
				}
				audit(ctx, req, "tracking.start", flight, raw)
				st := d.Tracker.Status()
				return req.Reply(ctx, fmt.Sprintf("⏳ Starting to track %s, polling every %s", flight, formatSeconds(st.IntervalSeconds)))
			},
		},
		{
			Name:        "stop",
			Description: "stop tracking",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				prev := d.Tracker.Status()
				if !d.Tracker.StopTracking() {
					return req.Reply(ctx, "Not tracking any flight.")
				}
				audit(ctx, req, "tracking.stop", prev.Flight, "")
				return req.Reply(ctx, "⏹ Stopped tracking "+prev.Flight)
			},
		},
		{
			Name:        "status",
			Description: "show tracking status",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, FormatStatus(d.Tracker.Status(), time.Now()))
			},
		},
		{
			Name:        "interval",
			Description: "change the poll interval",
			Usage:       "/interval <seconds|duration>",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) == 0 {
					return fmt.Errorf("%w: /interval <seconds|duration>", errUsage)
				}
				ivl, err := config.ParseSecondsOrDuration(req.Args[0])
				if err != nil {
					return err
				}
				res := d.Tracker.SetInterval(int(ivl / time.Second))
				if !res.Applied {
					return req.Reply(ctx, fmt.Sprintf("Not tracking any flight (interval would be %s).", formatSeconds(res.EffectiveSeconds)))
				}
				audit(ctx, req, "tracking.interval", d.Tracker.Status().Flight, fmt.Sprint(res.EffectiveSeconds))
				return req.Reply(ctx, "⏱ Poll interval set to "+formatSeconds(res.EffectiveSeconds))
			},
		},
		{
			Name:        "refresh",
			Description: "poll the tracked flight now",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				if !d.Tracker.Refresh() {
					return req.Reply(ctx, "Not tracking any flight.")
				}
				audit(ctx, req, "tracking.refresh", d.Tracker.Status().Flight, "")
				return req.Reply(ctx, "🔄 Refresh requested")
			},
		},
		{
			Name:        "flight",
			Description: "look up a flight once and notify",
			Usage:       "/flight <flight>",
			Access:      AccessOwnerOnly,
			Timeout:     time.Minute,
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) == 0 {
					return fmt.Errorf("%w: /flight <flight>", errUsage)
				}
				flight := strings.ToUpper(req.Args[0])
				text, err := d.Fetcher.FetchStatus(ctx, flight)
				if err != nil {
					return err
				}
				if d.Notifier != nil {
					d.Notifier.Notify(context.WithoutCancel(ctx), text)
				}
				audit(ctx, req, "flight.query", flight, "")
				return req.Reply(ctx, text)
			},
		},
	}
}

// FormatStatus renders a registry status for chat.
func FormatStatus(st tracker.Status, now time.Time) string {
	if st.Flight == "" {
		return "Not tracking any flight."
	}
	var b strings.Builder
	if st.IsTracking {
		fmt.Fprintf(&b, "📡 Tracking %s (%s)\n", st.Flight, st.State)
	} else {
		fmt.Fprintf(&b, "💤 Last session %s ended: %s\n", st.Flight, st.State)
	}
	if st.StartedAt != nil {
		fmt.Fprintf(&b, "Started: %s\n", humanize.RelTime(*st.StartedAt, now, "ago", "from now"))
	}
	if st.LastUpdate != nil {
		fmt.Fprintf(&b, "Last update: %s\n", humanize.RelTime(*st.LastUpdate, now, "ago", "from now"))
	} else {
		b.WriteString("Last update: never\n")
	}
	fmt.Fprintf(&b, "Interval: %s\n", formatSeconds(st.IntervalSeconds))
	fmt.Fprintf(&b, "Errors: %d/%d", st.ErrorCount, tracker.MaxErrors)
	return b.String()
}

func formatSeconds(s int) string {
	return (time.Duration(s) * time.Second).String()
}
