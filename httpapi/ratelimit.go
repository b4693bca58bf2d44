package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	antboxerrors "github.com/kindalus/antbox-sub000/platform/errors"
)

// RequestThrottle is a per-caller token-bucket limiter over the HTTP
// surface: distinct from core/ratelimit.Limiter, which admission-controls
// concurrent Feature invocations. This one paces request throughput per
// caller so a single noisy API key or anonymous IP can't starve a tenant's
// listener, independent of what those requests end up doing.
type RequestThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRequestThrottle builds a throttle allowing rps requests per second per
// key, with burst extra requests tolerated.
func NewRequestThrottle(rps float64, burst int) *RequestThrottle {
	return &RequestThrottle{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (t *RequestThrottle) limiterFor(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(t.rps, t.burst)
		t.limiters[key] = l
	}
	return l
}

// Allow reports whether a request keyed by key (API key value, or client IP
// for anonymous callers) may proceed right now.
func (t *RequestThrottle) Allow(key string) bool {
	if t == nil {
		return true
	}
	return t.limiterFor(key).Allow()
}

// throttleKey prefers the caller's API key over its remote address, so one
// key's budget isn't shared across NAT'd clients and vice versa.
func throttleKey(r *http.Request) string {
	if key := r.Header.Get("Api-Key"); key != "" {
		return key
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func throttleMiddleware(t *RequestThrottle, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := throttleKey(r)
		if !t.Allow(key) {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeError(w, antboxerrors.TooMany(key))
			return
		}
		next.ServeHTTP(w, r)
	})
}
