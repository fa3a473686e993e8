package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"postvolve/logger"
	"postvolve/middleware"
	"postvolve/models"
	"postvolve/services"
)

func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.store.ListAccounts(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (h *Handler) ConnectAccount(c *gin.Context) {
	platform := c.Param("platform")
	if !models.IsValidPlatform(platform) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown platform"})
		return
	}
	u, err := h.oauth.ConnectURL(c.Request.Context(), middleware.UserID(c), platform)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u})
}

// OAuthCallback finishes a connect flow and sends the browser back to the
// dashboard with the outcome in the query string.
func (h *Handler) OAuthCallback(c *gin.Context) {
	platform := c.Param("platform")
	if e := c.Query("error"); e != "" {
		h.redirectAccounts(c, "error", e)
		return
	}

	_, err := h.oauth.Callback(c.Request.Context(), platform, c.Query("code"), c.Query("state"))
	switch {
	case err == nil:
		h.redirectAccounts(c, "connected", platform)
	case errors.Is(err, services.ErrInvalidOAuthState):
		h.redirectAccounts(c, "error", "invalid_state")
	case errors.Is(err, services.ErrLimitReached):
		h.redirectAccounts(c, "error", "account_limit")
	default:
		logger.Warn("oauth callback failed", zap.String("platform", platform), zap.Error(err))
		h.redirectAccounts(c, "error", "connect_failed")
	}
}

func (h *Handler) redirectAccounts(c *gin.Context, key, value string) {
	q := url.Values{key: {value}}
	c.Redirect(http.StatusFound, h.appURL+"/dashboard/accounts?"+q.Encode())
}

func (h *Handler) DisconnectAccount(c *gin.Context) {
	if err := h.store.DeleteAccount(c.Request.Context(), middleware.UserID(c), c.Param("platform")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Account disconnected"})
}
