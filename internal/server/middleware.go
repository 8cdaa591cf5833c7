package server

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/mohit83k/hotspot/internal/gateway"
	"github.com/mohit83k/hotspot/internal/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe logs each request and records its latency by route template.
func (h *handlers) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		h.Metrics.ObserveHTTP(route, strconv.Itoa(rec.status), elapsed.Seconds())
		if route == "/metrics" || route == "/health" {
			return
		}
		h.Log.WithFields(map[string]any{
			"method":   r.Method,
			"route":    route,
			"status":   rec.status,
			"duration": elapsed.String(),
			"client":   h.Proxies.ClientIP(r),
		}).Info("Handled request")
	})
}

const (
	staleLimiterAfter = 30 * time.Minute
	sweepEvery        = 10 * time.Minute
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	proxies   gateway.Proxies
	log       logger.Logger
}

func newRateLimiter(perMinute, burst int, proxies gateway.Proxies, log logger.Logger) *rateLimiter {
	return &rateLimiter{
		clients:   make(map[string]*limiterEntry),
		limit:     rate.Every(time.Minute / time.Duration(max(perMinute, 1))),
		burst:     max(burst, 1),
		lastSweep: time.Now(),
		proxies:   proxies,
		log:       log,
	}
}

func (rl *rateLimiter) clientLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > sweepEvery {
		for key, e := range rl.clients {
			if now.Sub(e.lastAccess) > staleLimiterAfter {
				delete(rl.clients, key)
			}
		}
		rl.lastSweep = now
	}

	e, ok := rl.clients[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = e
	}
	e.lastAccess = now
	return e.limiter
}

func (rl *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := rl.proxies.ClientIP(r)
		if !rl.clientLimiter(ip).Allow() {
			rl.log.WithFields(map[string]any{"ip": ip, "path": r.URL.Path}).Warn("Rate limit exceeded")
			respondError(w, http.StatusTooManyRequests, "Too many requests, try again shortly.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors adds Access-Control headers for allowed origins and short-circuits
// preflight requests.
func cors(allowedOrigins []string, next http.Handler) http.Handler {
	allowAll := false
	normalized := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(origin)))
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || containsOrigin(normalized, origin)) {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func containsOrigin(allowed []string, origin string) bool {
	origin = strings.ToLower(origin)
	for _, candidate := range allowed {
		if candidate == origin {
			return true
		}
	}
	return false
}
