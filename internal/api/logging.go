package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var debugLogging atomic.Bool

// SetDebugLogging enables per-request debug logs for the HTTP layer.
func SetDebugLogging(enabled bool) {
	debugLogging.Store(enabled)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !debugLogging.Load() {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("request served")
	})
}
