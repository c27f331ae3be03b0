package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

type scheduleRequest struct {
	Name                  string `json:"name" binding:"required"`
	Enabled               *bool  `json:"enabled"`
	IntervalHours         int    `json:"interval_hours"`
	IntervalMinutes       int    `json:"interval_minutes"`
	LimitPerRun           int    `json:"limit_per_run"`
	Folder                string `json:"folder"`
	CustomPrompt          string `json:"custom_prompt"`
	DeleteMarketingUnread bool   `json:"delete_marketing_unread"`
	SkipFlagged           *bool  `json:"skip_flagged"`
}

func (r *scheduleRequest) apply(sched *models.Schedule) {
	sched.Name = r.Name
	sched.Enabled = true
	if r.Enabled != nil {
		sched.Enabled = *r.Enabled
	}
	sched.IntervalHours = r.IntervalHours
	if sched.IntervalHours <= 0 && r.IntervalMinutes <= 0 {
		sched.IntervalHours = 24
	}
	sched.IntervalMinutes = r.IntervalMinutes
	sched.LimitPerRun = r.LimitPerRun
	if sched.LimitPerRun <= 0 {
		sched.LimitPerRun = 50
	}
	sched.Folder = r.Folder
	if sched.Folder == "" {
		sched.Folder = "INBOX"
	}
	sched.CustomPrompt = manifest.SanitizePrompt(r.CustomPrompt)
	sched.DeleteMarketingUnread = r.DeleteMarketingUnread
	sched.SkipFlagged = true
	if r.SkipFlagged != nil {
		sched.SkipFlagged = *r.SkipFlagged
	}
}

func (h *Handlers) ListSchedules() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "ListSchedules")
		defer span.Finish()
		tracing.TagComponentRest(span)

		schedules, err := h.repos.ScheduleRepository.List(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"schedules": schedules})
	}
}

func (h *Handlers) CreateSchedule() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "CreateSchedule")
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req scheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sched := &models.Schedule{}
		req.apply(sched)
		if err := h.repos.ScheduleRepository.Create(ctx, sched); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, sched)
	}
}

func (h *Handlers) UpdateSchedule() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "UpdateSchedule")
		defer span.Finish()
		tracing.TagComponentRest(span)

		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
			return
		}
		sched, err := h.repos.ScheduleRepository.GetByID(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if sched == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}

		var req scheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		wasEnabled := sched.Enabled
		req.apply(sched)
		if !wasEnabled && sched.Enabled {
			// Re-enabling re-anchors the cycle on the next tick.
			sched.NextRun = nil
		}
		if err := h.repos.ScheduleRepository.Update(ctx, sched); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sched)
	}
}

func (h *Handlers) DeleteSchedule() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "DeleteSchedule")
		defer span.Finish()
		tracing.TagComponentRest(span)

		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
			return
		}
		if err := h.repos.ScheduleRepository.Delete(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}

// TriggerSchedule fires a schedule immediately by backdating its next_run and
// running one scheduler tick.
func (h *Handlers) TriggerSchedule() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "TriggerSchedule")
		defer span.Finish()
		tracing.TagComponentRest(span)

		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
			return
		}
		sched, err := h.repos.ScheduleRepository.GetByID(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if sched == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		if err := h.repos.ScheduleRepository.SetNextRun(ctx, id, time.Now().UTC().Add(-time.Second)); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		go h.services.Scheduler.Tick(context.Background())
		c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
	}
}
