package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxTrackedClients bounds the map before Allow starts evicting.
const maxTrackedClients = 100000

// RateLimitMessage is the toast shown when a client is throttled.
const RateLimitMessage = "Muitas requisições. Aguarde alguns segundos e tente novamente."

// RateLimiter limits requests per client IP over a sliding window.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
}

// NewRateLimiter starts a limiter allowing limit requests per window per IP.
// A background goroutine drops idle clients every window; call Stop to end it.
func NewRateLimiter(limit int, window time.Duration, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	go rl.sweep(max(window, time.Minute))
	return rl
}

// log returns the limiter's logger; limiters built as struct literals have none.
func (rl *RateLimiter) log() *zap.Logger {
	if rl.logger == nil {
		return zap.NewNop()
	}
	return rl.logger
}

func (rl *RateLimiter) sweep(every time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			rl.log().Error("rate limiter sweep panicked", zap.Any("panic", r))
		}
	}()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop ends the background sweep. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	if rl.stopCh == nil {
		return
	}
	select {
	case <-rl.stopCh:
	default:
		close(rl.stopCh)
	}
}

// Allow records a request from ip and reports whether it fits the limit.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if len(rl.requests) > maxTrackedClients {
		for k := range rl.requests {
			delete(rl.requests, k)
			if len(rl.requests) <= maxTrackedClients/2 {
				break
			}
		}
	}

	valid := prune(rl.requests[ip], now.Add(-rl.window))
	if len(valid) >= rl.limit {
		rl.requests[ip] = valid
		return false
	}
	rl.requests[ip] = append(valid, now)
	return true
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.window)
	for ip, times := range rl.requests {
		if valid := prune(times, cutoff); len(valid) == 0 {
			delete(rl.requests, ip)
		} else {
			rl.requests[ip] = valid
		}
	}
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	valid := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}

// GetClientIP returns the leftmost X-Forwarded-For entry, then X-Real-Ip,
// then the connection's remote host.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Limit rejects over-limit clients with 429 and a JSON toast body.
func (rl *RateLimiter) Limit() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip := GetClientIP(r)
			if rl.Allow(ip) {
				next(w, r)
				return
			}
			rl.log().Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
			retry := int(math.Ceil(rl.window.Seconds()))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": RateLimitMessage,
				"toast": map[string]string{"message": RateLimitMessage, "kind": "error"},
			})
		}
	}
}
