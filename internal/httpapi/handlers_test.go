package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"flightwatch/internal/flightaware"
	"flightwatch/internal/notifier"
	"flightwatch/internal/storage"
	"flightwatch/internal/tracker"
	logx "flightwatch/pkg/logx"
)

type fakeTracker struct {
	mu      sync.Mutex
	flight  string
	opts    tracker.StartOptions
	live    bool
	refresh int
	ivl     int
}

func (f *fakeTracker) StartTrackingWith(flight string, opts tracker.StartOptions) error {
	if strings.TrimSpace(flight) == "" {
		return tracker.ErrEmptyFlight
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flight, f.opts, f.live = flight, opts, true
	return nil
}

func (f *fakeTracker) StopTracking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.live
	f.live = false
	return was
}

func (f *fakeTracker) Status() tracker.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := tracker.Status{IsTracking: f.live, State: tracker.StateIdle}
	if f.live {
		st.Flight, st.State = f.flight, tracker.StateStarting
	}
	return st
}

func (f *fakeTracker) SetInterval(seconds int) tracker.IntervalResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	eff := max(seconds, 300)
	f.ivl = eff
	return tracker.IntervalResult{Applied: f.live, EffectiveSeconds: eff}
}

func (f *fakeTracker) Refresh() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh++
	return f.live
}

type fakeFetcher struct {
	text string
	err  error
}

func (f fakeFetcher) FetchStatus(ctx context.Context, flight string) (string, error) {
	return f.text, f.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Notify(ctx context.Context, text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

func (n *fakeNotifier) History() []notifier.HistoryItem {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifier.HistoryItem
	for _, t := range n.texts {
		out = append(out, notifier.HistoryItem{Text: t})
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *fakeAudit) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

func (a *fakeAudit) RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]storage.AuditEntry(nil), a.entries...), nil
}

func (a *fakeAudit) actions() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return strings.Join(out, ",")
}

type env struct {
	srv    *httptest.Server
	trk    *fakeTracker
	notify *fakeNotifier
	audit  *fakeAudit
}

func newEnv(t *testing.T, fetch fakeFetcher, rps int) *env {
	t.Helper()
	e := &env{trk: &fakeTracker{}, notify: &fakeNotifier{}, audit: &fakeAudit{}}
	r := NewRouter(Deps{
		Tracker:  e.trk,
		Fetcher:  fetch,
		Notifier: e.notify,
		Audit:    e.audit,
		Health:   func() map[string]any { return map[string]any{"tracking": false} },
	}, rps, logx.Nop())
	e.srv = httptest.NewServer(r)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	t.Parallel()
	e := newEnv(t, fakeFetcher{}, 0)
	resp, body := e.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" || body["tracking"] != false {
		t.Fatalf("got %d %v", resp.StatusCode, body)
	}
}

func TestTrackOnceNotifies(t *testing.T) {
	t.Parallel()
	e := newEnv(t, fakeFetcher{text: "✈️ ANZ flight NZ1\nStatus: SCHEDULED"}, 0)
	resp, body := e.do(t, http.MethodGet, "/track-flight/NZ1", "")
	if resp.StatusCode != http.StatusOK || body["message"] != "✈️ ANZ flight NZ1\nStatus: SCHEDULED" {
		t.Fatalf("got %d %v", resp.StatusCode, body)
	}
	if len(e.notify.History()) != 1 {
		t.Fatal("expected one notification")
	}
	if got := e.audit.actions(); got != "flight.query" {
		t.Fatalf("audit = %s", got)
	}
}

func TestTrackOnceErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		code int
	}{
		{&flightaware.FetchError{Kind: flightaware.KindNotFound, StatusCode: 404, Message: "flight not found"}, http.StatusNotFound},
		{&flightaware.FetchError{Kind: flightaware.KindConfig, Message: "missing AEROAPI_KEY"}, http.StatusServiceUnavailable},
		{&flightaware.FetchError{Kind: flightaware.KindStatus, StatusCode: 500, Message: "API request failed"}, http.StatusBadGateway},
	}
	for _, tc := range tests {
		e := newEnv(t, fakeFetcher{err: tc.err}, 0)
		resp, body := e.do(t, http.MethodGet, "/track-flight/NZ1", "")
		if resp.StatusCode != tc.code || body["error"] != tc.err.Error() {
			t.Fatalf("%v: got %d %v", tc.err, resp.StatusCode, body)
		}
		if len(e.notify.History()) != 0 {
			t.Fatal("failed query must not notify")
		}
	}
}

func TestTrackingLifecycle(t *testing.T) {
	t.Parallel()
	e := newEnv(t, fakeFetcher{}, 0)

	resp, body := e.do(t, http.MethodPost, "/tracking/NZ103?interval=600", "")
	if resp.StatusCode != http.StatusAccepted || body["flight_identifier"] != "NZ103" || body["is_tracking"] != true {
		t.Fatalf("start: %d %v", resp.StatusCode, body)
	}
	e.trk.mu.Lock()
	ivl := e.trk.opts.Interval
	e.trk.mu.Unlock()
	if ivl != 10*time.Minute {
		t.Fatalf("interval = %v", ivl)
	}

	_, body = e.do(t, http.MethodGet, "/tracking", "")
	if body["state"] != "starting" {
		t.Fatalf("status: %v", body)
	}

	_, body = e.do(t, http.MethodPut, "/tracking/interval", `{"seconds": 100}`)
	if body["applied"] != true || body["effective_seconds"] != float64(300) {
		t.Fatalf("interval: %v", body)
	}

	_, body = e.do(t, http.MethodPost, "/tracking/refresh", "")
	if body["applied"] != true {
		t.Fatalf("refresh: %v", body)
	}

	_, body = e.do(t, http.MethodDelete, "/tracking", "")
	if body["stopped"] != true {
		t.Fatalf("stop: %v", body)
	}
	_, body = e.do(t, http.MethodDelete, "/tracking", "")
	if body["stopped"] != false {
		t.Fatalf("second stop: %v", body)
	}

	if got := e.audit.actions(); got != "tracking.start,tracking.interval,tracking.refresh,tracking.stop" {
		t.Fatalf("audit actions = %s", got)
	}
}

// gatedFetcher holds every fetch until release is closed.
type gatedFetcher struct {
	release chan struct{}
}

func (g gatedFetcher) FetchStatus(ctx context.Context, flight string) (string, error) {
	select {
	case <-g.release:
		return "Status: EN ROUTE", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestTrackingLifecycleWithRegistry(t *testing.T) {
	t.Parallel()
	fetch := gatedFetcher{release: make(chan struct{})}
	notify := &fakeNotifier{}
	reg := tracker.NewRegistry(fetch, notify, tracker.Options{DefaultInterval: 24 * time.Hour})
	reg.Start(context.Background())
	srv := httptest.NewServer(NewRouter(Deps{Tracker: reg, Fetcher: fetch, Notifier: notify}, 0, logx.Nop()))
	t.Cleanup(func() {
		srv.Close()
		close(fetch.release)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = reg.Stop(ctx)
	})
	e := &env{srv: srv}

	// The first fetch is still in flight for every call below.
	resp, body := e.do(t, http.MethodPost, "/tracking/NZ103", "")
	if resp.StatusCode != http.StatusAccepted || body["is_tracking"] != true || body["state"] != "starting" {
		t.Fatalf("start: %d %v", resp.StatusCode, body)
	}

	_, body = e.do(t, http.MethodPut, "/tracking/interval", `{"seconds": 10000000000}`)
	maxSecs := float64(tracker.MaxInterval / time.Second)
	if body["applied"] != true || body["effective_seconds"] != maxSecs {
		t.Fatalf("interval: %v", body)
	}

	_, body = e.do(t, http.MethodPost, "/tracking/refresh", "")
	if body["applied"] != true {
		t.Fatalf("refresh: %v", body)
	}

	_, body = e.do(t, http.MethodGet, "/tracking", "")
	if body["is_tracking"] != true || body["flight_identifier"] != "NZ103" || body["interval_seconds"] != maxSecs {
		t.Fatalf("status: %v", body)
	}

	_, body = e.do(t, http.MethodDelete, "/tracking", "")
	if body["stopped"] != true {
		t.Fatalf("stop: %v", body)
	}
	_, body = e.do(t, http.MethodGet, "/tracking", "")
	if body["is_tracking"] != false || body["state"] != "idle" {
		t.Fatalf("status after stop: %v", body)
	}
	if got := notify.History(); len(got) != 0 {
		t.Fatalf("stopped session notified: %v", got)
	}
}

func TestBadRequests(t *testing.T) {
	t.Parallel()
	e := newEnv(t, fakeFetcher{}, 0)
	tests := []struct {
		method, path, body string
	}{
		{http.MethodPost, "/tracking/NZ1?interval=abc", ""},
		{http.MethodPost, "/tracking/NZ1?interval=-5", ""},
		{http.MethodPut, "/tracking/interval", `{}`},
		{http.MethodPut, "/tracking/interval", `not json`},
		{http.MethodGet, "/audit?limit=0", ""},
	}
	for _, tc := range tests {
		resp, _ := e.do(t, tc.method, tc.path, tc.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s %s: got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	e := newEnv(t, fakeFetcher{}, 2)
	codes := []int{}
	for i := 0; i < 4; i++ {
		resp, _ := e.do(t, http.MethodGet, "/tracking", "")
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusOK || codes[3] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	// /health is not limited.
	if resp, _ := e.do(t, http.MethodGet, "/health", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("health limited: %d", resp.StatusCode)
	}
}

func TestRecoverPanic(t *testing.T) {
	t.Parallel()
	h := recoverPanic(logx.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:8080":     true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"bad":            false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}

func TestServiceServes(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{Tracker: &fakeTracker{}}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Addr() == "" {
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + s.Addr() + "/tracking")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestPprofMounted(t *testing.T) {
	t.Parallel()
	r := NewRouter(Deps{Tracker: &fakeTracker{}}, 0, logx.Nop())
	mountPprof(r)

	for _, path := range []string{"/debug/pprof/", "/debug/pprof/cmdline", "/debug/pprof/goroutine?debug=1"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: code = %d", path, rec.Code)
		}
	}
}
