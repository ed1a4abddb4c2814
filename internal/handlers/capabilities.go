package handlers

import (
	"net/http"

	"github.com/capforge/api/internal/capability"
	"github.com/gin-gonic/gin"
)

// CapabilityHandler exposes the loaded capability map to the widget
type CapabilityHandler struct {
	maps capability.Source
}

// NewCapabilityHandler creates a new capability handler
func NewCapabilityHandler(maps capability.Source) *CapabilityHandler {
	return &CapabilityHandler{maps: maps}
}

// CapabilitiesResponse carries the current map and its section counts.
type CapabilitiesResponse struct {
	CapabilityMap *capability.Map    `json:"capabilityMap"`
	Summary       capability.Summary `json:"summary"`
}

// GetCapabilities returns the current capability map
// @Summary Current capability map
// @Tags capabilities
// @Produce json
// @Success 200 {object} CapabilitiesResponse
// @Router /capabilities [get]
func (h *CapabilityHandler) GetCapabilities(c *gin.Context) {
	m := h.maps.Current()
	if m == nil {
		m = capability.Empty()
	}
	c.JSON(http.StatusOK, CapabilitiesResponse{CapabilityMap: m, Summary: capability.Summarize(m)})
}
