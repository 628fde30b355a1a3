package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// SendTimeout bounds a single sink call.
	SendTimeout time.Duration
	HistorySize int
}

// Sink is one notification channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, text string) error
}

type SinkResult struct {
	Sink     string `json:"sink"`
	OK       bool   `json:"ok"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

type HistoryItem struct {
	At    time.Time    `json:"at"`
	Text  string       `json:"text"`
	Sinks []SinkResult `json:"sinks"`
}

// NotificationEvent is published on the event bus for each sink outcome.
type NotificationEvent struct {
	Sink     string    `json:"sink"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}
