package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"postvolve/middleware"
)

func (h *Handler) ListNotifications(c *gin.Context) {
	unread := c.Query("unread") == "true"
	list, err := h.store.ListNotifications(c.Request.Context(), middleware.UserID(c), unread, 50)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// MarkNotificationsRead marks one notification read, or all when no id is
// given.
func (h *Handler) MarkNotificationsRead(c *gin.Context) {
	var req struct {
		ID string `json:"id" binding:"omitempty,uuid"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	n, err := h.store.MarkNotificationsRead(c.Request.Context(), middleware.UserID(c), req.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
