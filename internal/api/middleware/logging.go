package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logger returns a request logging middleware using zerolog.
// Server errors log at error level, client errors at warn, and scrape or
// probe traffic at debug. Websocket requests are logged when the session ends.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				msg := "request completed"
				if isUpgrade(r) {
					msg = "websocket session ended"
				}

				event := logger.Info()
				switch {
				case status >= 500:
					event = logger.Error()
				case status >= 400:
					event = logger.Warn()
				case r.URL.Path == "/metrics" || r.URL.Path == "/health":
					event = logger.Debug()
				}
				event.
					Str("method", r.Method).
					Str("route", routePattern(r)).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg(msg)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
