package tracker

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultInterval = 3 * time.Hour
	MinInterval     = 5 * time.Minute
	MaxInterval     = 30 * 24 * time.Hour
	RetryBackoff    = 5 * time.Minute
	// MaxErrors consecutive failed polls abort a session.
	MaxErrors = 5
)

var ErrEmptyFlight = errors.New("tracker: flight identifier is empty")

// Fetcher returns a human-readable status text for a flight.
type Fetcher interface {
	FetchStatus(ctx context.Context, flight string) (string, error)
}

// Notifier delivers a message. It must not block on the network.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateLanded   State = "landed"
	StateStopped  State = "stopped"
	StateAborted  State = "aborted"
)

func (s State) Terminal() bool {
	return s == StateLanded || s == StateStopped || s == StateAborted
}

func (s State) Live() bool { return s == StateStarting || s == StateActive }

// Status is a point-in-time view of the registry.
type Status struct {
	IsTracking      bool       `json:"is_tracking"`
	Flight          string     `json:"flight_identifier,omitempty"`
	SessionID       string     `json:"session_id,omitempty"`
	State           State      `json:"state"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	LastUpdate      *time.Time `json:"last_update,omitempty"`
	ErrorCount      int        `json:"error_count"`
	IntervalSeconds int        `json:"interval_seconds"`
}

type IntervalResult struct {
	Applied          bool `json:"applied"`
	EffectiveSeconds int  `json:"effective_seconds"`
}

type StartOptions struct {
	// Interval overrides the registry default for this session. Zero keeps it.
	Interval time.Duration
}

// ClampInterval keeps d within [MinInterval, MaxInterval]. Zero or negative
// becomes DefaultInterval.
func ClampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInterval
	}
	if d < MinInterval {
		return MinInterval
	}
	return min(d, MaxInterval)
}

// SecondsInterval converts a seconds count without overflowing. The result
// is not clamped.
func SecondsInterval(seconds int) time.Duration {
	if int64(seconds) > int64(MaxInterval/time.Second) {
		return MaxInterval
	}
	return time.Duration(seconds) * time.Second
}

// Event types published on the bus. Data is always an EventData.
const (
	EventStarted   = "tracking.started"
	EventUpdate    = "tracking.update"
	EventUnchanged = "tracking.unchanged"
	EventError     = "tracking.error"
	EventLanded    = "tracking.landed"
	EventAborted   = "tracking.aborted"
	EventStopped   = "tracking.stopped"
	// EventPolled follows every completed poll, whatever the outcome.
	EventPolled = "tracking.polled"
)

type EventData struct {
	SessionID  string `json:"session_id"`
	Flight     string `json:"flight"`
	State      State  `json:"state"`
	ErrorCount int    `json:"error_count,omitempty"`
	Error      string `json:"error,omitempty"`
}
