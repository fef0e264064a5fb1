package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/faucetdb/basin/internal/apperr"
	"github.com/faucetdb/basin/internal/model"
)

// RateLimitOptions configures a Limiter.
type RateLimitOptions struct {
	// IPPerMinute bounds requests that carry no credentials.
	IPPerMinute    int
	InternalHeader string
	InternalSecret string
}

// Limiter applies sliding one-minute windows per API key and client IP,
// and per IP alone for anonymous requests.
type Limiter struct {
	keys *httprate.RateLimiter
	ips  *httprate.RateLimiter
	opts RateLimitOptions
}

// NewLimiter creates a Limiter.
func NewLimiter(opts RateLimitOptions) *Limiter {
	if opts.IPPerMinute <= 0 {
		opts.IPPerMinute = model.DefaultRateLimit
	}
	return &Limiter{
		keys: httprate.NewRateLimiter(model.DefaultRateLimit, time.Minute),
		ips:  httprate.NewRateLimiter(opts.IPPerMinute, time.Minute),
		opts: opts,
	}
}

// LimitKey counts r against key's window and reports whether the request
// was rejected. The key's own ceiling overrides the default.
func (l *Limiter) LimitKey(w http.ResponseWriter, r *http.Request, key *model.APIKey) bool {
	if InternalBypass(r, l.opts.InternalHeader, l.opts.InternalSecret) {
		markUnlimited(w)
		return false
	}
	limit := key.Limit()
	r = r.WithContext(httprate.WithRequestLimit(r.Context(), limit))
	if l.keys.OnLimit(w, r, "key:"+strconv.FormatInt(key.ID, 10)+"|"+clientIP(r)) {
		writeRateLimited(w, limit)
		return true
	}
	return false
}

// LimitIP counts an anonymous request against its client IP.
func (l *Limiter) LimitIP(w http.ResponseWriter, r *http.Request) bool {
	if InternalBypass(r, l.opts.InternalHeader, l.opts.InternalSecret) {
		return false
	}
	if l.ips.OnLimit(w, r, "ip:"+clientIP(r)) {
		writeRateLimited(w, l.opts.IPPerMinute)
		return true
	}
	return false
}

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. It guards the unauthenticated
// session endpoint.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(requestsPerMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeRateLimited(w, requestsPerMinute)
		}),
	)
}

func clientIP(r *http.Request) string {
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func markUnlimited(w http.ResponseWriter) {
	w.Header().Set("X-RateLimit-Limit", "unlimited")
	w.Header().Set("X-RateLimit-Remaining", "unlimited")
}

type rateLimitedBody struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error_code"`
	RetryAfter int    `json:"retry_after"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
}

// writeRateLimited renders the 429 body. The limiter has already set the
// X-RateLimit-* headers.
func writeRateLimited(w http.ResponseWriter, limit int) {
	retry := 60
	if reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64); err == nil {
		if d := int(reset - time.Now().Unix()); d > 0 {
			retry = d
		}
	}
	if v, err := strconv.Atoi(w.Header().Get("Retry-After")); err == nil && v > 0 {
		retry = v
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(rateLimitedBody{
		Success:    false,
		Message:    "Too many requests. Please slow down.",
		ErrorCode:  apperr.CodeRateLimited,
		RetryAfter: retry,
		Limit:      limit,
		Remaining:  0,
	})
}
