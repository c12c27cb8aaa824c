package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// RequestRecorder receives one observation per finished request.
type RequestRecorder interface {
	RecordRequest(route string, statusCode int, d time.Duration)
}

// NewLoggingMiddleware attaches log to the request context and writes one
// access line per request. Level follows the status code.
func NewLoggingMiddleware(log zerolog.Logger, rec RequestRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		access := hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
			route := routePattern(r)
			if rec != nil {
				rec.RecordRequest(route, status, d)
			}

			var ev *zerolog.Event
			l := hlog.FromRequest(r)
			switch {
			case status >= 500:
				ev = l.Error()
			case status >= 400:
				ev = l.Warn()
			default:
				ev = l.Info()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Int("status", status).
				Int("size", size).
				Float64("duration_ms", float64(d.Nanoseconds())/float64(time.Millisecond)).
				Msg("http_request")
		})

		chain := hlog.NewHandler(log)(
			hlog.RemoteAddrHandler("ip")(
				hlog.UserAgentHandler("user_agent")(
					access(next))))
		return chain
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
