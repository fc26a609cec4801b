// Package shield provides the HTTP middleware in front of the domreplay API:
// security headers, body limits, request tracing, per-client rate limiting
// and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(shield.DefaultLimits(), logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// Limits tunes the default stack.
type Limits struct {
	MaxBody int64   // bytes accepted in a request body
	Rate    float64 // requests per second per client
	Burst   int
	// Exempt path prefixes bypass rate limiting.
	Exempt []string
}

// DefaultLimits suits a recorder uploading every ~100ms.
func DefaultLimits() Limits {
	return Limits{
		MaxBody: 8 << 20,
		Rate:    50,
		Burst:   100,
		Exempt:  []string{"/healthz"},
	}
}

// DefaultStack returns the middleware of the API, outermost first:
// HeadToGet, SecurityHeaders, TraceID, RateLimiter, MaxBody.
func DefaultStack(l Limits, logger *slog.Logger) []func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	rl := NewRateLimiter(l.Rate, l.Burst, l.Exempt...)
	rl.logger = logger
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		Tracer(logger),
		rl.Middleware,
		MaxBody(l.MaxBody),
	}
}
