package middleware

import (
	"errors"
	"net/http"

	"github.com/capforge/api/internal/dsl"
	"github.com/capforge/api/internal/jobs"
	"github.com/capforge/api/internal/llm"
	"github.com/gin-gonic/gin"
)

// APIError is the JSON body of every error response.
type APIError struct {
	Error            string   `json:"error"`
	Code             string   `json:"code,omitempty"`
	RetryAfter       int      `json:"retryAfterMs,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
	ResolutionErrors []string `json:"resolutionErrors,omitempty"`
}

// Common error codes
const (
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeMissingAPIKey       = "MISSING_API_KEY"
	ErrCodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	ErrCodeInvalidDSL          = "INVALID_DSL"
	ErrCodeUnknownCapability   = "UNKNOWN_CAPABILITY"
	ErrCodeLLMUnavailable      = "LLM_UNAVAILABLE"
	ErrCodeQueueFull           = "QUEUE_FULL"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeUnavailable         = "UNAVAILABLE"
)

// ErrorFor maps an error onto its HTTP status and response body.
func ErrorFor(err error) (int, APIError) {
	var (
		keyErr      *llm.APIKeyError
		providerErr *llm.ProviderError
		validErr    *dsl.ValidationError
		resolveErr  *dsl.ResolutionError
	)
	switch {
	case errors.As(err, &keyErr):
		return http.StatusUnauthorized, APIError{Error: keyErr.Error(), Code: ErrCodeMissingAPIKey}
	case errors.As(err, &providerErr):
		return http.StatusBadRequest, APIError{Error: providerErr.Error(), Code: ErrCodeUnsupportedProvider}
	case errors.As(err, &validErr):
		return http.StatusUnprocessableEntity, APIError{Error: validErr.Error(), Code: ErrCodeInvalidDSL, ValidationErrors: validErr.Errors}
	case errors.As(err, &resolveErr):
		return http.StatusUnprocessableEntity, APIError{Error: resolveErr.Error(), Code: ErrCodeUnknownCapability, ResolutionErrors: resolveErr.Errors}
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrRunnerClosed):
		return http.StatusServiceUnavailable, APIError{Error: err.Error(), Code: ErrCodeQueueFull, RetryAfter: 5000}
	case errors.Is(err, llm.ErrCircuitOpen):
		return http.StatusServiceUnavailable, APIError{Error: err.Error(), Code: ErrCodeLLMUnavailable, RetryAfter: 5000}
	}
	return http.StatusInternalServerError, APIError{Error: err.Error(), Code: ErrCodeInternalError}
}

// RespondErr writes the mapped error response for err.
func RespondErr(c *gin.Context, err error) {
	status, body := ErrorFor(err)
	_ = c.Error(err)
	c.JSON(status, body)
}

// RespondError sends an error response with a code.
func RespondError(c *gin.Context, status int, code string, message string) {
	c.JSON(status, APIError{Error: message, Code: code})
}

// RespondErrorWithRetry sends an error response with a retry hint.
func RespondErrorWithRetry(c *gin.Context, status int, code string, message string, retryAfterMs int) {
	c.JSON(status, APIError{Error: message, Code: code, RetryAfter: retryAfterMs})
}

// BadRequest sends a 400 error
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, APIError{Error: message})
}

// Unauthorized sends a 401 error
func Unauthorized(c *gin.Context, message string) {
	RespondError(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// NotFound sends a 404 error
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, APIError{Error: message})
}

// InternalError sends a 500 error
func InternalError(c *gin.Context, message string) {
	RespondError(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// ServiceUnavailable sends a 503 error for a disabled or unreachable dependency.
func ServiceUnavailable(c *gin.Context, message string) {
	RespondError(c, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}
