package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"golang.org/x/time/rate"
)

const (
	sweepInterval    = 5 * time.Minute
	idleClientExpiry = 10 * time.Minute
	projectHeader    = "X-Project-Id"
	forwardedHeader  = "X-Forwarded-For"
)

// RateLimiter throttles API callers with one token bucket per client.
// Clients are keyed by project header when present, otherwise by address.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	now     func() time.Time
	stop    chan struct{}
	stopped chan struct{}
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per client.
// Callers must Stop it to release the sweep goroutine.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		now:     time.Now,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Stop terminates the sweep goroutine and waits for it to exit.
func (rl *RateLimiter) Stop() {
	close(rl.stop)
	<-rl.stopped
}

// Allow consumes a token for clientID.
func (rl *RateLimiter) Allow(clientID string) bool {
	return rl.limiter(clientID).Allow()
}

// RetryAfter estimates how many seconds clientID must wait for a token.
func (rl *RateLimiter) RetryAfter(clientID string) int {
	reservation := rl.limiter(clientID).Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	if delay <= 0 {
		return 1
	}
	return int(delay.Seconds()) + 1
}

func (rl *RateLimiter) limiter(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[clientID]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientID] = c
	}
	c.lastSeen = rl.now()
	return c.limiter
}

func (rl *RateLimiter) sweepLoop() {
	defer close(rl.stopped)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idleClientExpiry)
	removed := 0
	for id, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// ClientID derives the rate limit key of a request.
func ClientID(r *http.Request) string {
	if project := strings.TrimSpace(r.Header.Get(projectHeader)); project != "" {
		return "project:" + project
	}

	if xff := r.Header.Get(forwardedHeader); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if host, _, err := net.SplitHostPort(first); err == nil {
			return "ip:" + host
		}
		return "ip:" + first
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware rejects requests over the limit with 429 and a Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ClientID(r)
		if rl.Allow(id) {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := rl.RetryAfter(id)
		util.Log(r.Context()).Warn("api rate limit exceeded",
			"client_id", id,
			"path", r.URL.Path,
			"retry_after", retryAfter,
		)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":       "rate_limit_exceeded",
			"message":     "Too many requests. Please retry after " + strconv.Itoa(retryAfter) + " seconds.",
			"retry_after": retryAfter,
		})
	})
}
