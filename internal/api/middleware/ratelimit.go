package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
)

// RateLimitConfig configures per-client rate limiting
type RateLimitConfig struct {
	// RatePerSecond is the sustained number of requests per client
	RatePerSecond int

	// Burst is the bucket size; zero means 2x the rate
	Burst int

	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// and X-Real-IP headers are believed. Empty means the remote address
	// is always the client.
	TrustedProxies []string
}

// RateLimiter limits requests per client key
type RateLimiter struct {
	limiter ratelimit.RateLimiter
	trusted []netip.Prefix
}

// NewRateLimiter creates a token bucket limiter keyed by client
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rate := cfg.RatePerSecond
	if rate <= 0 {
		rate = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = rate * 2
	}
	trusted, err := ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		slog.Warn("ignoring invalid trusted proxies", "error", err)
	}
	return &RateLimiter{
		limiter: ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    burst,
			Interval: time.Second,
		}),
		trusted: trusted,
	}
}

// ParseTrustedProxies parses IP addresses and CIDRs. Valid entries are
// returned even when others fail to parse.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	var (
		out []netip.Prefix
		bad []string
	)
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		bad = append(bad, e)
	}
	if len(bad) > 0 {
		return out, fmt.Errorf("invalid proxy address: %s", strings.Join(bad, ", "))
	}
	return out, nil
}

// Close stops the limiter's background work
func (rl *RateLimiter) Close() error {
	return rl.limiter.Close()
}

// Wrap rejects requests over the limit with 429
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ClientIP(r, rl.trusted)
		if !rl.limiter.Allow(r.Context(), key) {
			slog.Warn("rate limit exceeded",
				"client", key,
				"path", r.URL.Path,
				"request_id", GetRequestID(r.Context()),
			)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"error":"Too many code execution requests, please wait before trying again"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the client address. Forwarding headers are only used
// when the request comes from a trusted proxy; X-Forwarded-For is read
// right to left, skipping trusted hops.
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	if !isTrusted(remote, trusted) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if i == 0 || !isTrusted(hop, trusted) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return remote
}

func isTrusted(host string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
