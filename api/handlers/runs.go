package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

// ListRuns returns recent runs, newest first.
func (h *Handlers) ListRuns() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "ListRuns")
		defer span.Finish()
		tracing.TagComponentRest(span)

		limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if err != nil || limit <= 0 {
			limit = 20
		}
		runs, err := h.repos.RunRepository.ListRecent(ctx, limit)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	}
}

// ListRunActions returns the action log of one run in applied order.
func (h *Handlers) ListRunActions() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "ListRunActions")
		defer span.Finish()
		tracing.TagComponentRest(span)

		runID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		tracing.TagRun(span, runID)

		actions, err := h.repos.ActionRepository.ListByRun(ctx, runID)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"actions": actions})
	}
}

type manualRunRequest struct {
	Folder                string `json:"folder"`
	Limit                 int    `json:"limit"`
	CustomPrompt          string `json:"custom_prompt"`
	DeleteMarketingUnread bool   `json:"delete_marketing_unread"`
	SkipFlagged           *bool  `json:"skip_flagged"`
	AggressiveTrash       bool   `json:"aggressive_trash"`
	OldestFirst           *bool  `json:"oldest_first"`
}

// StartManualRun launches an inbox cleanup inside the server process. Events
// flow through the in-memory bus queue and the durable log, so progress is
// visible immediately and survives a page reload.
func (h *Handlers) StartManualRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "StartManualRun")
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req manualRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Folder == "" {
			req.Folder = "INBOX"
		}
		if req.Limit <= 0 {
			limit, err := h.repos.SettingsRepository.GetInt(ctx, models.SettingDefaultLimit, 50)
			if err != nil {
				limit = 50
			}
			req.Limit = limit
		}
		skipFlagged := true
		if req.SkipFlagged != nil {
			skipFlagged = *req.SkipFlagged
		}
		// inbox_zero_mode works oldest-first by default so the backlog drains
		// from the bottom.
		oldestFirst, err := h.repos.SettingsRepository.GetBool(ctx, models.SettingInboxZeroMode, true)
		if err != nil {
			oldestFirst = true
		}
		if req.OldestFirst != nil {
			oldestFirst = *req.OldestFirst
		}

		run := &models.Run{RunType: models.RunTypeManual, SourceFolder: req.Folder}
		if err := h.repos.RunRepository.Create(ctx, run); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		sessionID := fmt.Sprintf("manual_%d_%s", run.ID, uuid.NewString()[:8])
		tracing.TagSession(span, sessionID)

		parallel, err := h.repos.SettingsRepository.GetInt(ctx, models.SettingParallelBatches, 3)
		if err != nil {
			parallel = 3
		}

		m := manifest.Manifest{
			JobType:               manifest.JobTypeInboxCleanup,
			RunID:                 run.ID,
			SessionID:             sessionID,
			Folder:                req.Folder,
			BatchSize:             req.Limit,
			OldestFirst:           oldestFirst,
			CustomPrompt:          manifest.SanitizePrompt(req.CustomPrompt),
			DeleteMarketingUnread: req.DeleteMarketingUnread,
			SkipFlagged:           skipFlagged,
			AggressiveTrash:       req.AggressiveTrash,
			ParallelBatches:       parallel,
			DBPath:                h.cfg.AppConfig.DBPath,
		}

		h.services.Bus.Register(sessionID)
		go func() {
			// Detached from the request context: the run outlives the response.
			if runErr := h.services.WorkerService.Run(context.Background(), m, h.services.Bus.Emitter(sessionID)); runErr != nil {
				h.log.Errorf("manual run %d failed: %v", run.ID, runErr)
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "run_id": run.ID})
	}
}
