package middleware

import (
	"net/http"

	"github.com/capforge/api/internal/llm"
	"github.com/gin-gonic/gin"
)

// CircuitBreakerMiddleware rejects generation requests up front while the
// provider circuit is open, instead of queueing work that would fail.
func CircuitBreakerMiddleware(cb *llm.CircuitBreaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cb.Allow() {
			RespondErrorWithRetry(c, http.StatusServiceUnavailable, ErrCodeLLMUnavailable,
				"LLM provider is temporarily unavailable due to repeated failures",
				int(cb.RetryAfter().Milliseconds()))
			c.Abort()
			return
		}
		c.Next()
	}
}
