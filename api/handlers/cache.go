package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/internal/tracing"
)

func (h *Handlers) CacheStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "CacheStats")
		defer span.Finish()
		tracing.TagComponentRest(span)

		count, err := h.services.CacheService.ActiveEntries(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"active_entries": count})
	}
}

func (h *Handlers) ClearCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "ClearCache")
		defer span.Finish()
		tracing.TagComponentRest(span)

		if err := h.services.CacheService.Clear(ctx); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleared"})
	}
}
