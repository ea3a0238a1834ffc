package api

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/els0r/telemetry/logging"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	contentTypeHeaderKey        = "Content-Type"
	contentTypeHeaderValRFC9457 = "application/problem+json"
)

type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

const requestMsg = "handled request"

// RequestLoggingMiddleware logs all requests received via the including handler chain
func RequestLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := logging.FromContext(c.Request.Context())

		// call next handlers (duplicate the writer to capture the body)
		start := time.Now()
		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()
		duration := time.Since(start)

		statusCode := c.Writer.Status()
		size := c.Writer.Size()
		// size is set to -1 if there no data written
		if size < 0 {
			size = 0
		}
		logger = logger.With("req", slog.GroupValue(
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.RequestURI),
			slog.String("user-agent", c.Request.UserAgent()),
			slog.Duration("duration", duration),
		)).With("resp", slog.GroupValue(
			slog.Int("status_code", statusCode),
			slog.Int("size", size),
		))

		// If an error was signified via RFC9457 content type, include the body (i.e. the error message) in the log
		if strings.EqualFold(c.Writer.Header().Get(contentTypeHeaderKey), contentTypeHeaderValRFC9457) {
			logger = logger.With("error", blw.body.String())
		}

		switch {
		case 200 <= statusCode && statusCode < 300:
			logger.Info(requestMsg)
		case 300 <= statusCode && statusCode < 400:
			logger.Warn(requestMsg)
		case 400 <= statusCode:
			logger.Error(requestMsg)
		}
	}
}

// RateLimitMiddleware creates a global rate limit for all requests, rejecting
// with 429 any request the shared limiter does not allow.
func RateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

// RecursionDetectorMiddleware provides a means to avoid having a distributed introspection
// client query itself into oblivion
func RecursionDetectorMiddleware(headerKey, match string) gin.HandlerFunc {
	ErrRecursionDetected := errors.New("API query recursion detected, cross-check host configuration")
	return func(c *gin.Context) {
		if c.Request.Header.Get(headerKey) == match {
			logging.FromContext(c.Request.Context()).Error(c.AbortWithError(http.StatusBadRequest, ErrRecursionDetected).Error())
			return
		}
		c.Next()
	}
}
