package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/internal/tracing"
)

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Wipe deletes all run history, jobs, schedules, events and cache entries.
// Credentials and settings survive.
func (h *Handlers) Wipe() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "Wipe")
		defer span.Finish()
		tracing.TagComponentRest(span)

		if err := h.repos.WipeAll(ctx); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		h.log.Warn("all engine data wiped by request")
		c.JSON(http.StatusOK, gin.H{"status": "wiped"})
	}
}
