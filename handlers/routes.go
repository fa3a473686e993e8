package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Register mounts every route. auth guards user endpoints; cron guards the
// scheduler triggers.
func (h *Handler) Register(r *gin.Engine, auth, cron gin.HandlerFunc) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")

	api.POST("/auth/signup", h.Signup)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", h.Logout)
	api.POST("/stripe/webhook", h.StripeWebhook)
	api.GET("/oauth/:platform/callback", h.OAuthCallback)

	jobs := api.Group("/cron", cron)
	{
		jobs.GET("/publish-scheduled", h.PublishScheduled)
		jobs.POST("/publish-scheduled", h.PublishScheduled)
		jobs.GET("/generate-daily", h.GenerateDaily)
		jobs.POST("/generate-daily", h.GenerateDaily)
	}

	user := api.Group("", auth)
	{
		user.GET("/auth/me", h.Me)

		user.POST("/posts", h.CreatePost)
		user.GET("/posts", h.ListPosts)
		user.POST("/posts/generate", h.GeneratePost)
		user.GET("/posts/:id", h.GetPost)
		user.PUT("/posts/:id", h.UpdatePost)
		user.DELETE("/posts/:id", h.DeletePost)
		user.POST("/posts/:id/schedule", h.SchedulePost)
		user.POST("/posts/:id/unschedule", h.UnschedulePost)
		user.POST("/posts/:id/publish", h.PublishPost)
		user.GET("/posts/:id/logs", h.GetPublishLogs)

		user.GET("/accounts", h.ListAccounts)
		user.GET("/accounts/:platform/connect", h.ConnectAccount)
		user.DELETE("/accounts/:platform", h.DisconnectAccount)

		user.GET("/schedules", h.ListSchedules)
		user.POST("/schedules", h.CreateSchedule)
		user.PUT("/schedules/:id", h.UpdateSchedule)
		user.DELETE("/schedules/:id", h.DeleteSchedule)

		user.GET("/notifications", h.ListNotifications)
		user.POST("/notifications/read", h.MarkNotificationsRead)

		user.GET("/stats/overview", h.GetStatsOverview)

		user.GET("/billing/usage", h.GetUsage)
		user.POST("/billing/checkout", h.Checkout)
		user.POST("/billing/portal", h.Portal)
	}
}
