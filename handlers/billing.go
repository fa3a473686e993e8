package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"postvolve/logger"
	"postvolve/middleware"
	"postvolve/services"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBytes = 1 << 16

func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	err = h.billing.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, services.ErrInvalidSignature) {
		logger.Warn("stripe webhook rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) Checkout(c *gin.Context) {
	if !h.features.BillingEnabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "Billing not enabled"})
		return
	}

	var req struct {
		Plan string `json:"plan" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if !services.IsValidPlan(req.Plan) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan. Must be 'pro' or 'business'."})
		return
	}

	u, err := h.billing.Checkout(c.Request.Context(), middleware.UserID(c), middleware.UserEmail(c), req.Plan)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u})
}

func (h *Handler) Portal(c *gin.Context) {
	if !h.features.BillingEnabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "Billing not enabled"})
		return
	}
	u, err := h.billing.Portal(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u})
}

func (h *Handler) GetUsage(c *gin.Context) {
	usage, err := h.billing.Usage(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}
