package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	licenseErrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
)

const (
	rateLimitRetryAfter = 60 // seconds, advisory
	visitorTTL          = 10 * time.Minute
	sweepInterval       = time.Minute
)

// PerIPRateLimiter throttles the public activation endpoints per client
// address. Each address gets its own token bucket; idle buckets are
// swept so the map does not grow with every scanner that probes once.
type PerIPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	logger   *slog.Logger
	stopCh   chan struct{}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPerIPRateLimiter creates a limiter allowing rps sustained requests
// with the given burst per address, and starts the idle-entry sweeper.
func NewPerIPRateLimiter(rps float64, burst int, logger *slog.Logger) *PerIPRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &PerIPRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		logger:   logger.With(slog.String("component", "rate-limiter")),
		stopCh:   make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Handler rejects over-limit requests with an RFC 7807 429.
func (rl *PerIPRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := clientIP(r)

		if !rl.allow(ip) {
			rl.logger.WarnContext(ctx, "rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", ip,
			)

			w.Header().Set("Retry-After", "60")
			writeProblem(w, licenseErrors.NewRateLimitProblem(
				r.URL.Path,
				infrastructure.GetTraceID(ctx),
				rateLimitRetryAfter,
			))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Stop terminates the sweeper goroutine.
func (rl *PerIPRateLimiter) Stop() {
	close(rl.stopCh)
}

func (rl *PerIPRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

func (rl *PerIPRateLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for ip, v := range rl.visitors {
				if now.Sub(v.lastSeen) > visitorTTL {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// clientIP returns the bare address for limiter keying. RealIP runs
// earlier in the chain, so RemoteAddr already reflects forwarding
// headers when present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
