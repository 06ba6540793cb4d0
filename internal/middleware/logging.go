// internal/middleware/logging.go

package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// LogMiddleware is an HTTP middleware that logs incoming requests using Logrus.
// Logs the method, path, and duration of each request.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := r.URL.Path
			method := r.Method

			next.ServeHTTP(w, r)

			duration := time.Since(start)
			logger.WithFields(logrus.Fields{
				"method":   method,
				"path":     path,
				"duration": duration,
				"remote":   r.RemoteAddr,
			}).Info("HTTP Request")
		})
	}
}

// LogSessionConnect logs a message when a client joins a session over WebSocket.
func LogSessionConnect(logger *logrus.Logger, remoteAddr, sessionID, userID string) {
	logger.WithFields(logrus.Fields{
		"remote":  remoteAddr,
		"session": sessionID,
		"user":    userID,
	}).Info("session client connected")
}

// LogSessionDisconnect logs a message when a session WebSocket client disconnects.
func LogSessionDisconnect(logger *logrus.Logger, remoteAddr, sessionID string, err error) {
	fields := logrus.Fields{
		"remote":  remoteAddr,
		"session": sessionID,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("session client disconnected")
}
