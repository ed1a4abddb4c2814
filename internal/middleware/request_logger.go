package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// quietPaths are probed constantly and only logged at debug level when healthy.
var quietPaths = []string{"/health", "/metrics"}

// RequestLogger creates a middleware that logs each request once it completes.
// Event streams are logged with their full duration.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		rawQuery := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		fields := make([]zap.Field, 0, 10)
		fields = append(fields,
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("bytes", c.Writer.Size()),
		)
		if id := GetRequestID(c); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if rawQuery != "" {
			fields = append(fields, zap.String("query", rawQuery))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		streamed := strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream")
		if err := c.Request.Context().Err(); err != nil && !streamed {
			logger.Warn("request closed early", append(fields, zap.Error(err))...)
			return
		}

		msg := "request"
		if streamed {
			msg = "stream finished"
		}
		logger.Check(levelFor(status, path), msg).Write(fields...)
	}
}

func levelFor(status int, path string) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	}
	for _, p := range quietPaths {
		if strings.HasPrefix(path, p) {
			return zapcore.DebugLevel
		}
	}
	return zapcore.InfoLevel
}

// Logger returns logger annotated with the request id.
func Logger(c *gin.Context, logger *zap.Logger) *zap.Logger {
	if id := GetRequestID(c); id != "" {
		return logger.With(zap.String("request_id", id))
	}
	return logger
}
