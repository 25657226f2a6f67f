package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/driveprofile/driveprofile/internal/api/models"
)

// Recovery turns a handler panic into a 500 problem. When the response has
// already started (or the connection was upgraded to a websocket) nothing
// more can be sent, so the panic is only logged.
//
// http.ErrAbortHandler is re-raised so net/http can abort the connection
// quietly.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newStatusRecorder(w)

			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				requestID := GetRequestID(r.Context())
				event := log.Error().
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("route", routePattern(r)).
					Bool("committed", rec.committed()).
					Interface("panic", v).
					Bytes("stack", debug.Stack())
				if id := chi.URLParam(r, "sessionId"); id != "" {
					event = event.Str("session_id", id)
				}
				event.Msg("panic recovered")

				if rec.committed() {
					return
				}
				problem := models.NewInternalError(requestID, "an unexpected error occurred")
				problem.Instance = r.URL.Path
				problem.Write(rec)
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
