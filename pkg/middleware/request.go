package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prohmpiriya/cinehub-booking/pkg/logger"
	"go.uber.org/zap"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
)

// quietPaths are polled by probes and not access logged
var quietPaths = map[string]bool{
	"/health": true,
	"/ready":  true,
}

// RequestID keeps the caller's X-Request-ID or issues a new one, and echoes it back
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one line per request. 5xx log at error, 4xx at warn.
func AccessLog(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if quietPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := make([]zap.Field, 0, 8+len(c.Params))
		fields = append(fields,
			zap.String("request_id", c.GetString(RequestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		)
		if userID := c.GetString(ContextKeyUserID); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		for _, p := range c.Params {
			fields = append(fields, zap.String(p.Key, p.Value))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		ctx := c.Request.Context()
		msg := c.Request.Method + " " + c.FullPath()
		switch {
		case status >= 500:
			log.ErrorContext(ctx, msg, fields...)
		case status >= 400:
			log.WarnContext(ctx, msg, fields...)
		default:
			log.InfoContext(ctx, msg, fields...)
		}
	}
}
