package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/teemow/mailgraph/internal/instrumentation"
)

// ErrInvalidIdentityKey is returned for identity keys that are not
// canonical UUIDs.
var ErrInvalidIdentityKey = errors.New("identity key must be a canonical UUID")

// ValidateIdentityKey checks that key is a UUID in canonical hyphenated
// form. An empty key is invalid here; callers that mint keys check for
// emptiness first.
func ValidateIdentityKey(key string) error {
	if len(key) != 36 {
		return ErrInvalidIdentityKey
	}
	id, err := uuid.Parse(key)
	if err != nil || id.String() != strings.ToLower(key) {
		return ErrInvalidIdentityKey
	}
	return nil
}

// APIKeyAuth validates a static API key from the Authorization bearer
// header or X-API-Key. Keys are held as SHA-256 digests and compared in
// constant time.
type APIKeyAuth struct {
	digests [][sha256.Size]byte
}

// NewAPIKeyAuth returns an authenticator for keys. Empty entries are
// ignored.
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	a := &APIKeyAuth{}
	for _, k := range keys {
		if k == "" {
			continue
		}
		a.digests = append(a.digests, sha256.Sum256([]byte(k)))
	}
	return a
}

// Enabled reports whether any key is configured.
func (a *APIKeyAuth) Enabled() bool { return a != nil && len(a.digests) > 0 }

// Valid reports whether key matches a configured key.
func (a *APIKeyAuth) Valid(key string) bool {
	if key == "" || a == nil {
		return false
	}
	d := sha256.Sum256([]byte(key))
	match := 0
	for i := range a.digests {
		match |= subtle.ConstantTimeCompare(d[:], a.digests[i][:])
	}
	return match == 1
}

func presentedKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get("X-API-Key")
}

// Middleware rejects requests without a valid key. When no keys are
// configured every request is rejected.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Valid(presentedKey(r)) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mailgraph"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "a valid API key is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiter is a per-client-IP token bucket.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	metrics *instrumentation.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second per IP with the given
// burst.
func NewRateLimiter(rps float64, burst int, metrics *instrumentation.Metrics, logger *slog.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		metrics: metrics,
		logger:  logger,
		clients: make(map[string]*clientLimiter),
	}
}

func (rl *RateLimiter) limiterFor(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Allow consumes a token for ip and returns the wait until the next token
// when none is available.
func (rl *RateLimiter) Allow(ip string, now time.Time) (bool, time.Duration) {
	res := rl.limiterFor(ip, now).ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Cleanup evicts limiters idle since before now minus the idle TTL and
// returns how many were removed.
func (rl *RateLimiter) Cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for ip, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.idleTTL {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

// Run evicts idle limiters every interval until done is closed.
func (rl *RateLimiter) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			if n := rl.Cleanup(now); n > 0 {
				rl.logger.Debug("evicted idle rate limiters", slog.Int("count", n))
			}
		}
	}
}

// Middleware answers 429 with Retry-After once a client exhausts its
// bucket.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.Allow(clientIP(r), time.Now())
		if !ok {
			secs := int(wait.Seconds() + 0.999)
			if secs < 1 {
				secs = 1
			}
			rl.metrics.RecordRateLimited(r.Context(), routePattern(r))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP uses RemoteAddr, which chi's RealIP middleware rewrites when
// proxies are trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
