package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"postvolve/middleware"
)

// Read-only overview stats
func (h *Handler) GetStatsOverview(c *gin.Context) {
	stats, err := h.store.StatsOverview(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
