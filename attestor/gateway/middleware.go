package gateway

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	metrics "github.com/hashicorp/go-metrics"
	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/time/rate"
)

const (
	requestIDHeader = "X-Request-ID"
	visitorIdleTTL  = 3 * time.Minute
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests tags every request with an id, echoed back to the caller, and logs the outcome.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info("http request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
		)
		metrics.IncrCounterWithLabels([]string{"gateway", "requests"}, 1, []metrics.Label{
			{Name: "path", Value: r.URL.Path},
			{Name: "status", Value: strconv.Itoa(rec.status)},
		})
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// rateLimiter keeps one token bucket per client address. Buckets idle longer than
// visitorIdleTTL are dropped on the next sweep.
type rateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	visitors  cmap.ConcurrentMap[string, *visitor]
	lastSweep atomic.Int64
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		visitors: cmap.New[*visitor](),
	}
}

func (rl *rateLimiter) allow(client string) bool {
	now := rl.now()
	v := rl.visitors.Upsert(client, nil, func(exists bool, old, _ *visitor) *visitor {
		if exists {
			return old
		}
		return &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	})
	v.lastSeen.Store(now.UnixNano())
	rl.sweep(now)
	return v.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) sweep(now time.Time) {
	last := rl.lastSweep.Load()
	if now.UnixNano()-last < int64(time.Minute) || !rl.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	cutoff := now.Add(-visitorIdleTTL).UnixNano()
	var stale []string
	rl.visitors.IterCb(func(key string, v *visitor) {
		if v.lastSeen.Load() < cutoff {
			stale = append(stale, key)
		}
	})
	for _, key := range stale {
		rl.visitors.RemoveCb(key, func(_ string, v *visitor, exists bool) bool {
			return exists && v.lastSeen.Load() < cutoff
		})
	}
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientAddr(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl.limit)))
			writeJSON(w, http.StatusTooManyRequests, attestationResponse{
				Message: "too many requests",
				Error:   "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 || limit >= 1 {
		return 1
	}
	return int(1/float64(limit)) + 1
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}
