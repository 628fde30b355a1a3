package httpapi

import (
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "flightwatch/pkg/logx"
)

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", rec.code),
				logx.String("ip", clientIP(r)),
				logx.Duration("dur", time.Since(start)),
			)
		})
	}
}

func recoverPanic(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					log.Error("http handler panicked",
						logx.String("path", r.URL.Path),
						logx.Any("panic", p),
						logx.String("stack", string(debug.Stack())),
					)
					writeError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ipLimiter keeps one token bucket per client IP.
type ipLimiter struct {
	rps   int
	mu    sync.Mutex
	byIP  map[string]*visitor
	sweep time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

const visitorTTL = 10 * time.Minute

func newIPLimiter(rps int) *ipLimiter {
	return &ipLimiter{rps: rps, byIP: map[string]*visitor{}, sweep: time.Now()}
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.sweep) > visitorTTL {
		for k, v := range l.byIP {
			if now.Sub(v.seen) > visitorTTL {
				delete(l.byIP, k)
			}
		}
		l.sweep = now
	}
	v, ok := l.byIP[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rate.Limit(l.rps), l.rps)}
		l.byIP[ip] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r), time.Now()) {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
