package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tedhappy/ragflow-admin/auth"
	"github.com/tedhappy/ragflow-admin/observability"
)

// sessionKey is the gin context key holding the authenticated auth.Session.
const sessionKey = "ragadmin_session"

// logMiddleware logs each request and records it in the HTTP metrics.
func logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		observability.ObserveRequest(c.Request.Method, c.FullPath(), status, elapsed)

		// Scrapes and probes would drown the log.
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/health" {
			return
		}
		slog.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", elapsed.Round(time.Millisecond),
			"remote", c.ClientIP(),
		)
	}
}

// authMiddleware requires a live session bearer token.
func authMiddleware(sessions *auth.Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		session, err := sessions.Validate(token)
		if err != nil {
			abort(c, http.StatusUnauthorized, "session expired or invalid")
			return
		}
		c.Set(sessionKey, session)
		c.Next()
	}
}

// currentSession returns the session stored by authMiddleware.
func currentSession(c *gin.Context) (auth.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return auth.Session{}, false
	}
	s, ok := v.(auth.Session)
	return s, ok
}

// recoveryMiddleware catches panics, logs the stack trace, and returns 500.
func recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered",
					"error", fmt.Sprintf("%v", err),
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				abort(c, http.StatusInternalServerError, "internal server error")
			}
		}()
		c.Next()
	}
}

// corsMiddleware adds CORS headers. Origins is a comma-separated list of
// allowed origins, or "*". A request whose Origin is not listed gets no CORS
// headers. If origins is empty, CORS headers are never set.
func corsMiddleware(origins string) gin.HandlerFunc {
	allowed := make(map[string]bool)
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || !(allowed["*"] || allowed[origin]) {
			c.Next()
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
