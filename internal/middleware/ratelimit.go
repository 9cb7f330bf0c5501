package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxClients bounds the number of tracked clients.
const maxClients = 10000

// RateLimiter is a fixed-window request counter per client IP.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*client
	rate       int
	window     time.Duration
	trustProxy bool

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type client struct {
	remaining   int
	windowStart time.Time
}

// NewRateLimiter allows rate requests per window for each client. Call
// Close to stop the background pruning.
func NewRateLimiter(rate int, window time.Duration, trustProxy bool) *RateLimiter {
	rl := &RateLimiter{
		clients:    make(map[string]*client),
		rate:       rate,
		window:     window,
		trustProxy: trustProxy,
		stopCh:     make(chan struct{}),
	}

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.prune(time.Now())
			case <-rl.stopCh:
				return
			}
		}
	}()

	return rl
}

// Allow consumes one request for ip and reports whether it is within limits.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, ok := rl.clients[ip]
	if !ok {
		if len(rl.clients) >= maxClients {
			rl.evictOldest()
		}
		rl.clients[ip] = &client{remaining: rl.rate - 1, windowStart: now}
		return true
	}

	if now.Sub(c.windowStart) >= rl.window {
		c.remaining = rl.rate - 1
		c.windowStart = now
		return true
	}
	if c.remaining > 0 {
		c.remaining--
		return true
	}
	return false
}

func (rl *RateLimiter) prune(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, c := range rl.clients {
		if now.Sub(c.windowStart) > 2*rl.window {
			delete(rl.clients, ip)
		}
	}
}

// evictOldest must be called with mu held.
func (rl *RateLimiter) evictOldest() {
	var oldestIP string
	var oldest time.Time
	for ip, c := range rl.clients {
		if oldestIP == "" || c.windowStart.Before(oldest) {
			oldestIP, oldest = ip, c.windowStart
		}
	}
	delete(rl.clients, oldestIP)
}

// Close stops background pruning. Safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopCh)
		rl.wg.Wait()
	})
}

// Handler returns middleware rejecting clients over the limit with 429.
// Health checks are never limited.
func (rl *RateLimiter) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.Allow(clientIP(r, rl.trustProxy)) {
				w.Header().Set("Retry-After", "60")
				writeErrorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.", time.Now())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// normalizeIP returns the canonical form of an IP, mapping IPv4-in-IPv6
// to IPv4. Unparseable input is returned trimmed.
func normalizeIP(s string) string {
	s = strings.TrimSpace(s)
	ip := net.ParseIP(s)
	if ip == nil {
		return s
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.String()
}

// clientIP uses RemoteAddr unless trustProxy is set, in which case the
// first X-Forwarded-For entry or X-Real-IP wins.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := normalizeIP(first); ip != "" {
				return ip
			}
		}
		if ip := normalizeIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return normalizeIP(host)
}
