// Package httpapi exposes the tracking registry and one-shot flight queries
// as a small JSON API.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"flightwatch/internal/notifier"
	"flightwatch/internal/storage"
	"flightwatch/internal/tracker"
	logx "flightwatch/pkg/logx"
)

// Tracker is the registry surface the API drives.
type Tracker interface {
	StartTrackingWith(flight string, opts tracker.StartOptions) error
	StopTracking() bool
	Status() tracker.Status
	SetInterval(seconds int) tracker.IntervalResult
	Refresh() bool
}

type Notifier interface {
	Notify(ctx context.Context, text string)
	History() []notifier.HistoryItem
}

// Audit records operator actions. storage.Store satisfies it.
type Audit interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

type Deps struct {
	Tracker  Tracker
	Fetcher  tracker.Fetcher
	Notifier Notifier
	// Audit is optional.
	Audit Audit
	// Health returns extra fields for /health, e.g. supervisor counters.
	Health func() map[string]any
}

// NewRouter builds the control API.
func NewRouter(d Deps, ratePerSec int, log logx.Logger) *mux.Router {
	h := &handlers{deps: d, log: log}

	r := mux.NewRouter()
	r.Use(recoverPanic(log), requestLog(log))
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	if ratePerSec > 0 {
		api.Use(newIPLimiter(ratePerSec).middleware)
	}
	api.HandleFunc("/track-flight/{flight}", h.trackOnce).Methods(http.MethodGet)
	api.HandleFunc("/tracking", h.status).Methods(http.MethodGet)
	api.HandleFunc("/tracking", h.stop).Methods(http.MethodDelete)
	api.HandleFunc("/tracking/interval", h.setInterval).Methods(http.MethodPut)
	api.HandleFunc("/tracking/refresh", h.refresh).Methods(http.MethodPost)
	api.HandleFunc("/tracking/{flight}", h.start).Methods(http.MethodPost)
	api.HandleFunc("/notifications", h.notifications).Methods(http.MethodGet)
	api.HandleFunc("/audit", h.audit).Methods(http.MethodGet)
	return r
}
