package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// AccessLog logs one line per request with the request id, status, and
// duration. Websocket upgrades bypass the status recorder, so they are
// logged without one.
func AccessLog(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := GetRequestID(r.Context())

		reqLog := log.With().
			Str("rid", rid).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()

		if isWebsocketUpgrade(r) {
			reqLog.Info().Msg("websocket request")
			next.ServeHTTP(w, r)
			reqLog.Info().Dur("dur", time.Since(start)).Msg("websocket closed")
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		reqLog.Info().
			Int("status", rec.status).
			Dur("dur", time.Since(start)).
			Msg("request completed")
	})
}

func isWebsocketUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}
