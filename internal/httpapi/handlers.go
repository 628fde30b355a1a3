package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"flightwatch/internal/flightaware"
	"flightwatch/internal/storage"
	"flightwatch/internal/tracker"
	logx "flightwatch/pkg/logx"
)

type handlers struct {
	deps Deps
	log  logx.Logger
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *handlers) record(r *http.Request, action, flight, detail string) {
	if h.deps.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:     time.Now(),
		Actor:  "http:" + clientIP(r),
		Action: action,
		Flight: flight,
		Detail: detail,
	}
	if err := h.deps.Audit.AppendAudit(r.Context(), e); err != nil {
		h.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": "ok", "time": time.Now().UTC()}
	if h.deps.Health != nil {
		for k, v := range h.deps.Health() {
			out[k] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// trackOnce fetches the flight once and notifies the channels with the result.
func (h *handlers) trackOnce(w http.ResponseWriter, r *http.Request) {
	flight := strings.TrimSpace(mux.Vars(r)["flight"])
	if flight == "" {
		writeError(w, http.StatusBadRequest, tracker.ErrEmptyFlight.Error())
		return
	}
	text, err := h.deps.Fetcher.FetchStatus(r.Context(), flight)
	if err != nil {
		h.log.Warn("one-shot fetch failed", logx.Flight(flight), logx.Err(err))
		writeError(w, fetchStatusCode(err), err.Error())
		return
	}
	if h.deps.Notifier != nil {
		h.deps.Notifier.Notify(context.WithoutCancel(r.Context()), text)
	}
	h.record(r, "flight.query", flight, "")
	writeJSON(w, http.StatusOK, map[string]string{"message": text})
}

func fetchStatusCode(err error) int {
	var fe *flightaware.FetchError
	if !errors.As(err, &fe) {
		return http.StatusBadGateway
	}
	switch fe.Kind {
	case flightaware.KindNotFound:
		return http.StatusNotFound
	case flightaware.KindConfig:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	flight := strings.TrimSpace(mux.Vars(r)["flight"])
	var opts tracker.StartOptions
	if raw := r.URL.Query().Get("interval"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			writeError(w, http.StatusBadRequest, "interval must be a positive number of seconds")
			return
		}
		opts.Interval = tracker.SecondsInterval(secs)
	}
	if err := h.deps.Tracker.StartTrackingWith(flight, opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.record(r, "tracking.start", flight, r.URL.Query().Get("interval"))
	writeJSON(w, http.StatusAccepted, h.deps.Tracker.Status())
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	prev := h.deps.Tracker.Status()
	stopped := h.deps.Tracker.StopTracking()
	if stopped {
		h.record(r, "tracking.stop", prev.Flight, "")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Tracker.Status())
}

func (h *handlers) setInterval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seconds *int `json:"seconds"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	if err := dec.Decode(&body); err != nil || body.Seconds == nil {
		writeError(w, http.StatusBadRequest, `body must be {"seconds": n}`)
		return
	}
	res := h.deps.Tracker.SetInterval(*body.Seconds)
	if res.Applied {
		h.record(r, "tracking.interval", h.deps.Tracker.Status().Flight, strconv.Itoa(res.EffectiveSeconds))
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	ok := h.deps.Tracker.Refresh()
	if ok {
		h.record(r, "tracking.refresh", h.deps.Tracker.Status().Flight, "")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": ok})
}

func (h *handlers) notifications(w http.ResponseWriter, r *http.Request) {
	if h.deps.Notifier == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Notifier.History())
}

func (h *handlers) audit(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audit == nil {
		writeError(w, http.StatusNotFound, storage.ErrDisabled.Error())
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	items, err := h.deps.Audit.RecentAudit(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}
