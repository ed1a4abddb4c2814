package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/capforge/api/internal/middleware"
	"github.com/capforge/api/internal/usage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UsageReader sums recorded token usage.
type UsageReader interface {
	Totals(ctx context.Context, f usage.Filter) ([]usage.Total, error)
}

// UsageHandler reports token consumption from the usage ledger
type UsageHandler struct {
	ledger UsageReader
	now    func() time.Time
	logger *zap.Logger
}

// NewUsageHandler creates a new usage handler. A nil ledger answers 503.
func NewUsageHandler(ledger UsageReader, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{ledger: ledger, now: time.Now, logger: logger}
}

// UsageResponse lists totals per provider and model.
type UsageResponse struct {
	Since  *time.Time    `json:"since,omitempty"`
	Totals []usage.Total `json:"totals"`
}

// GetUsage returns token totals
// @Summary Token usage totals
// @Description Authenticated callers only see their own runs.
// @Tags usage
// @Produce json
// @Param window query string false "Look-back window as a Go duration, e.g. 24h"
// @Success 200 {object} UsageResponse
// @Failure 400 {object} middleware.APIError
// @Failure 503 {object} middleware.APIError
// @Router /usage [get]
func (h *UsageHandler) GetUsage(c *gin.Context) {
	logger := middleware.Logger(c, h.logger)
	if h.ledger == nil {
		middleware.ServiceUnavailable(c, "Usage ledger is not enabled")
		return
	}

	var f usage.Filter
	var resp UsageResponse
	if w := c.Query("window"); w != "" {
		window, err := time.ParseDuration(w)
		if err != nil || window <= 0 {
			middleware.BadRequest(c, "window must be a positive duration such as 24h")
			return
		}
		f.Since = h.now().Add(-window)
		resp.Since = &f.Since
	}
	f.Owner, _ = middleware.GetSubject(c)

	totals, err := h.ledger.Totals(c.Request.Context(), f)
	if err != nil {
		logger.Error("failed to read usage totals", zap.Error(err))
		middleware.InternalError(c, "Failed to read usage totals")
		return
	}
	resp.Totals = totals
	c.JSON(http.StatusOK, resp)
}
