package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"postvolve/middleware"
	"postvolve/models"
	"postvolve/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type PlatformInput struct {
	Platform string `json:"platform" binding:"required,platform"`
	Content  string `json:"content" binding:"max=63206"`
}

type PostInput struct {
	Title       string          `json:"title" binding:"max=300"`
	Body        string          `json:"body" binding:"required"`
	Category    string          `json:"category" binding:"max=200"`
	ImageURL    string          `json:"image_url" binding:"omitempty,url"`
	Platforms   []PlatformInput `json:"platforms" binding:"required,min=1,dive"`
	ScheduledAt *time.Time      `json:"scheduled_at"`
}

// apply copies the input onto p. A schedule time must lie in the future.
func (in *PostInput) apply(p *models.Post, now time.Time) error {
	p.Title = in.Title
	p.Body = in.Body
	p.Category = in.Category
	p.ImageURL = in.ImageURL

	seen := map[string]bool{}
	p.Platforms = p.Platforms[:0]
	for _, pi := range in.Platforms {
		if seen[pi.Platform] {
			return errors.New("platform listed twice: " + pi.Platform)
		}
		seen[pi.Platform] = true
		p.Platforms = append(p.Platforms, models.PostPlatform{Platform: pi.Platform, Content: pi.Content})
	}

	p.Status = models.PostStatusDraft
	p.ScheduledAt = nil
	if in.ScheduledAt != nil {
		if !in.ScheduledAt.After(now) {
			return errors.New("scheduled_at must be in the future")
		}
		at := in.ScheduledAt.UTC()
		p.Status = models.PostStatusScheduled
		p.ScheduledAt = &at
	}
	return nil
}

func (h *Handler) CreatePost(c *gin.Context) {
	var in PostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	p := &models.Post{UserID: middleware.UserID(c), Source: models.SourceManual}
	if err := in.apply(p, time.Now()); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.store.CreatePost(c.Request.Context(), p); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPosts(c *gin.Context) {
	limit := defaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxPageSize)
	}

	var before models.PostCursor
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be an RFC3339 timestamp"})
			return
		}
		before = models.PostCursor{CreatedAt: t, ID: c.Query("before_id")}
	}

	posts, err := h.store.ListPosts(c.Request.Context(), middleware.UserID(c), c.Query("status"), before, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{"posts": posts}
	if len(posts) == limit {
		last := posts[len(posts)-1]
		resp["next_before"] = last.CreatedAt.Format(time.RFC3339Nano)
		resp["next_before_id"] = last.ID
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetPost(c *gin.Context) {
	p, err := h.store.GetPost(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePost(c *gin.Context) {
	var in PostInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	p, err := h.store.GetPost(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !p.Editable() {
		c.JSON(http.StatusConflict, gin.H{"error": "Post can no longer be edited (status " + p.Status + ")"})
		return
	}
	if err := in.apply(p, time.Now()); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.store.UpdatePost(ctx, p); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) SchedulePost(c *gin.Context) {
	var req struct {
		ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !req.ScheduledAt.After(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_at must be in the future"})
		return
	}

	at := req.ScheduledAt.UTC()
	h.setSchedule(c, models.PostStatusScheduled, &at)
}

func (h *Handler) UnschedulePost(c *gin.Context) {
	h.setSchedule(c, models.PostStatusDraft, nil)
}

func (h *Handler) setSchedule(c *gin.Context, status string, at *time.Time) {
	ctx := c.Request.Context()
	userID, postID := middleware.UserID(c), c.Param("id")

	p, err := h.store.GetPost(ctx, userID, postID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !p.Editable() {
		c.JSON(http.StatusConflict, gin.H{"error": "Post cannot be rescheduled (status " + p.Status + ")"})
		return
	}
	if err := h.store.SetPostSchedule(ctx, userID, postID, status, at); err != nil {
		respondError(c, err)
		return
	}
	p.Status = status
	p.ScheduledAt = at
	c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePost(c *gin.Context) {
	ctx := c.Request.Context()
	userID, postID := middleware.UserID(c), c.Param("id")

	p, err := h.store.GetPost(ctx, userID, postID)
	if err != nil {
		respondError(c, err)
		return
	}
	if p.Status == models.PostStatusPublishing {
		c.JSON(http.StatusConflict, gin.H{"error": "Post is being published"})
		return
	}
	if err := h.store.DeletePost(ctx, userID, postID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted"})
}

func (h *Handler) PublishPost(c *gin.Context) {
	p, err := h.publisher.PublishNow(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) GetPublishLogs(c *gin.Context) {
	ctx := c.Request.Context()
	p, err := h.store.GetPost(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	logs, err := h.store.ListPublishLogs(ctx, p.ID, 100)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *Handler) GeneratePost(c *gin.Context) {
	var in services.GenerateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.generator.GenerateNow(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}
