package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines files
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL via lib/pq (DSN required)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an operator action or a tracking lifecycle transition.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Flight    string    `json:"flight,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// DeliveryEntry records the final outcome of one notification on one sink.
type DeliveryEntry struct {
	At       time.Time `json:"at"`
	Sink     string    `json:"sink"`
	OK       bool      `json:"ok"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	Text     string    `json:"text"`
}

// maxStoredText bounds the delivery text kept in the journal.
const maxStoredText = 512

func clipText(s string) string {
	r := []rune(s)
	if len(r) <= maxStoredText {
		return s
	}
	return string(r[:maxStoredText-1]) + "…"
}
