package handler

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/metrics"
)

const visitorTTL = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClickThrottle is a per-client token bucket in front of the public click
// routes. It sheds floods before they reach the store; the business limits
// still apply to whatever gets through.
type ClickThrottle struct {
	limit   rate.Limit
	burst   int
	ips     IPResolver
	metrics *metrics.Metrics

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

func NewClickThrottle(requestsPerMinute float64, burst int, ips IPResolver, m *metrics.Metrics) *ClickThrottle {
	perSecond := requestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &ClickThrottle{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		ips:      ips,
		metrics:  m,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (t *ClickThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(t.ips.clientIP(r)) {
			t.metrics.ObserveThrottled()
			w.Header().Set("Retry-After", "60")
			writeErrorCode(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *ClickThrottle) allow(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastSweep) > visitorTTL {
		for key, v := range t.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(t.visitors, key)
			}
		}
		t.lastSweep = now
	}

	v, ok := t.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// IPResolver finds the client address of a request. Forwarding headers are
// only read when the direct peer is a trusted proxy; anything else could be
// set by the client itself.
type IPResolver struct {
	trusted []*net.IPNet
}

func NewIPResolver(trusted []*net.IPNet) IPResolver {
	return IPResolver{trusted: trusted}
}

func (res IPResolver) isTrusted(ip net.IP) bool {
	for _, n := range res.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the peer address, or for a trusted peer X-Real-IP, then the
// nearest untrusted X-Forwarded-For hop
func (res IPResolver) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil || !res.isTrusted(peer) {
		return host
	}

	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			break
		}
		if !res.isTrusted(ip) {
			return ip.String()
		}
	}
	return host
}
