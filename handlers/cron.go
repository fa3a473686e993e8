package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PublishScheduled is the publishing cron trigger.
func (h *Handler) PublishScheduled(c *gin.Context) {
	summary, err := h.publisher.RunDue(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GenerateDaily is the content-generation cron trigger.
func (h *Handler) GenerateDaily(c *gin.Context) {
	summary, err := h.generator.RunDaily(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
