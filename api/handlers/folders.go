package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/internal/tracing"
)

// ListFolders dials the IMAP server and returns the mailbox's folder names.
func (h *Handlers) ListFolders() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "ListFolders")
		defer span.Finish()
		tracing.TagComponentRest(span)

		sess, err := h.dialSession(c, ctx, span)
		if err != nil {
			return
		}
		defer func() { _ = sess.Logout() }()

		folders, err := sess.ListFolders(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"folders": folders})
	}
}

type renameFolderRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

// RenameFolder renames an IMAP folder, creating parent levels as needed on
// servers that support it.
func (h *Handlers) RenameFolder() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "RenameFolder")
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req renameFolderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sess, err := h.dialSession(c, ctx, span)
		if err != nil {
			return
		}
		defer func() { _ = sess.Logout() }()

		if err := sess.RenameFolder(ctx, req.From, req.To); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "renamed"})
	}
}
