package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/services/events"
)

// StreamProgress serves a session's progress as server-sent events. The
// Last-Event-ID header resumes delivery past events the client already saw;
// only durable events carry ids, so resume applies to worker-process runs.
func (h *Handlers) StreamProgress() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, _ := tracing.StartTracerSpan(c.Request.Context(), "StreamProgress")
		defer span.Finish()
		tracing.TagComponentRest(span)

		sessionID := c.Param("session")
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing session id"})
			return
		}
		tracing.TagSession(span, sessionID)

		var afterID uint64
		if raw := c.GetHeader("Last-Event-ID"); raw != "" {
			if parsed, err := strconv.ParseUint(raw, 10, 64); err == nil {
				afterID = parsed
			}
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Writer.Flush()

		err := h.services.Bus.Stream(c.Request.Context(), sessionID, afterID, func(env events.Envelope) error {
			event := sse.Event{
				Event: env.Event,
				Data:  env.Data,
			}
			if env.ID != 0 {
				event.Id = strconv.FormatUint(env.ID, 10)
			}
			if writeErr := sse.Encode(c.Writer, event); writeErr != nil {
				return writeErr
			}
			c.Writer.Flush()
			return nil
		})
		if err != nil {
			h.log.Debugf("progress stream for %s ended: %v", sessionID, err)
		}
	}
}
