package ratelimit

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/putto11262002/roomchat/pkg/router"
)

var ErrLimitExceeded = router.NewJsonError(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests, please try again later")

// KeyFunc picks the bucket a request is counted in.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by the first X-Forwarded-For hop, falling back to
// the remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type config struct {
	keyFunc KeyFunc
	logger  *slog.Logger
}

type Option func(*config)

func WithKeyFunc(f KeyFunc) Option {
	return func(c *config) {
		c.keyFunc = f
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Middleware allows limit requests per key in every window. When the limiter
// itself fails the request is let through.
func Middleware(l Limiter, limit int, window time.Duration, opts ...Option) router.Middleware {
	cfg := config{
		keyFunc: ClientIP,
		logger:  slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) router.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			res, err := l.Allow(r.Context(), cfg.keyFunc(r), limit, window)
			if err != nil {
				cfg.logger.Warn(fmt.Sprintf("rate limiter unavailable: %v", err))
				next.ServeHTTP(w, r)
				return nil
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retry := math.Ceil(time.Until(res.ResetAt).Seconds())
				h.Set("Retry-After", strconv.Itoa(max(int(retry), 1)))
				return ErrLimitExceeded
			}

			next.ServeHTTP(w, r)
			return nil
		}
	}
}
