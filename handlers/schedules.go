package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"postvolve/middleware"
	"postvolve/models"
)

type ScheduleInput struct {
	Category    string   `json:"category" binding:"required,max=200"`
	Tone        string   `json:"tone" binding:"max=100"`
	Platforms   []string `json:"platforms" binding:"required,min=1,dive,platform"`
	PostingTime string   `json:"posting_time" binding:"required"`
	Timezone    string   `json:"timezone" binding:"required"`
	Weekdays    []int    `json:"weekdays" binding:"required,min=1,dive,min=0,max=6"`
	Lane        string   `json:"lane" binding:"required,oneof=auto manual"`
	AutoPublish bool     `json:"auto_publish"`
	Enabled     *bool    `json:"enabled"`
}

// validate checks what binding tags cannot: clock format and a loadable zone.
func (in *ScheduleInput) validate() error {
	if _, err := time.Parse("15:04", in.PostingTime); err != nil {
		return fmt.Errorf("posting_time must be HH:MM")
	}
	if _, err := time.LoadLocation(in.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q", in.Timezone)
	}
	return nil
}

func (in *ScheduleInput) apply(g *models.GenerationSchedule) {
	g.Category = in.Category
	g.Tone = in.Tone
	g.Platforms = in.Platforms
	g.PostingTime = in.PostingTime
	g.Timezone = in.Timezone
	g.Weekdays = in.Weekdays
	g.Lane = in.Lane
	g.AutoPublish = in.AutoPublish
	g.Enabled = true
	if in.Enabled != nil {
		g.Enabled = *in.Enabled
	}
}

func (h *Handler) ListSchedules(c *gin.Context) {
	list, err := h.store.ListSchedules(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": list})
}

func (h *Handler) CreateSchedule(c *gin.Context) {
	var in ScheduleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if err := in.validate(); err != nil {
		badRequest(c, err)
		return
	}

	g := &models.GenerationSchedule{UserID: middleware.UserID(c)}
	in.apply(g)
	if err := h.store.CreateSchedule(c.Request.Context(), g); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, g)
}

func (h *Handler) UpdateSchedule(c *gin.Context) {
	var in ScheduleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if err := in.validate(); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	g, err := h.store.GetSchedule(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	in.apply(g)
	if err := h.store.UpdateSchedule(ctx, g); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) DeleteSchedule(c *gin.Context) {
	if err := h.store.DeleteSchedule(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Schedule deleted"})
}
