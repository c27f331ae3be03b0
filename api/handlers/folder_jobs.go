package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/services/orchestrator"
)

type folderJobRequest struct {
	Name                  string `json:"name"`
	Folder                string `json:"folder" binding:"required"`
	BatchSize             int    `json:"batch_size"`
	RateLimitPerHour      int    `json:"rate_limit_per_hour"`
	OldestFirst           *bool  `json:"oldest_first"`
	StartFromDaysAgo      *int   `json:"start_from_days_ago"`
	MaxEmails             *int   `json:"max_emails"`
	CustomPrompt          string `json:"custom_prompt"`
	DeleteMarketingUnread bool   `json:"delete_marketing_unread"`
	SkipFlagged           *bool  `json:"skip_flagged"`
	AggressiveTrash       bool   `json:"aggressive_trash"`
}

func (r *folderJobRequest) apply(job *models.FolderJob) {
	job.Name = r.Name
	if job.Name == "" {
		job.Name = "Drain " + r.Folder
	}
	job.Folder = r.Folder
	job.BatchSize = r.BatchSize
	if job.BatchSize <= 0 {
		job.BatchSize = 20
	}
	job.RateLimitPerHour = r.RateLimitPerHour
	if job.RateLimitPerHour <= 0 {
		job.RateLimitPerHour = 60
	}
	job.OldestFirst = true
	if r.OldestFirst != nil {
		job.OldestFirst = *r.OldestFirst
	}
	job.StartFromDaysAgo = r.StartFromDaysAgo
	job.MaxEmails = r.MaxEmails
	job.CustomPrompt = manifest.SanitizePrompt(r.CustomPrompt)
	job.DeleteMarketingUnread = r.DeleteMarketingUnread
	job.SkipFlagged = true
	if r.SkipFlagged != nil {
		job.SkipFlagged = *r.SkipFlagged
	}
	job.AggressiveTrash = r.AggressiveTrash
}

func (h *Handlers) ListFolderJobs() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "ListFolderJobs")
		defer span.Finish()
		tracing.TagComponentRest(span)

		jobs, err := h.repos.FolderJobRepository.List(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

func (h *Handlers) CreateFolderJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "CreateFolderJob")
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req folderJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		job := &models.FolderJob{Enabled: false, Status: models.JobStatusIdle}
		req.apply(job)
		if err := h.repos.FolderJobRepository.Create(ctx, job); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, job)
	}
}

func (h *Handlers) GetFolderJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "GetFolderJob")
		defer span.Finish()
		tracing.TagComponentRest(span)

		job, ok := h.loadJob(c, ctx, span)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func (h *Handlers) UpdateFolderJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "UpdateFolderJob")
		defer span.Finish()
		tracing.TagComponentRest(span)

		job, ok := h.loadJob(c, ctx, span)
		if !ok {
			return
		}
		if job.Status == models.JobStatusRunning {
			c.JSON(http.StatusConflict, gin.H{"error": "stop the job before editing it"})
			return
		}

		var req folderJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.apply(job)
		if err := h.repos.FolderJobRepository.Update(ctx, job); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func (h *Handlers) DeleteFolderJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "DeleteFolderJob")
		defer span.Finish()
		tracing.TagComponentRest(span)

		job, ok := h.loadJob(c, ctx, span)
		if !ok {
			return
		}
		if job.Status == models.JobStatusRunning {
			c.JSON(http.StatusConflict, gin.H{"error": "stop the job before deleting it"})
			return
		}
		if err := h.repos.FolderJobRepository.Delete(ctx, job.ID); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	}
}

// StartFolderJob starts (or resumes) the drain driver for a job.
func (h *Handlers) StartFolderJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "StartFolderJob")
		defer span.Finish()
		tracing.TagComponentRest(span)

		job, ok := h.loadJob(c, ctx, span)
		if !ok {
			return
		}

		sessionID, err := h.services.Orchestrator.StartJob(ctx, job.ID)
		if err != nil {
			tracing.TraceErr(span, err)
			if errors.Is(err, orchestrator.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "started", "session_id": sessionID})
	}
}

// StopFolderJob pauses the job after its current batch.
func (h *Handlers) StopFolderJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "StopFolderJob")
		defer span.Finish()
		tracing.TagComponentRest(span)

		job, ok := h.loadJob(c, ctx, span)
		if !ok {
			return
		}
		if err := h.services.Orchestrator.StopJob(ctx, job.ID); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "paused"})
	}
}

func (h *Handlers) loadJob(c *gin.Context, ctx context.Context, span opentracing.Span) (*models.FolderJob, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return nil, false
	}
	tracing.TagJob(span, id)

	job, err := h.repos.FolderJobRepository.GetByID(ctx, id)
	if err != nil {
		tracing.TraceErr(span, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil, false
	}
	return job, true
}
