package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

// dialSession opens an IMAP session with the stored credentials. On failure
// the HTTP response is already written; callers just return.
func (h *Handlers) dialSession(c *gin.Context, ctx context.Context, span opentracing.Span) (interfaces.IMAPSession, error) {
	email, err := h.repos.CredentialRepository.Get(ctx, "email")
	if err != nil {
		tracing.TraceErr(span, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, err
	}
	password, err := h.repos.CredentialRepository.Get(ctx, "app_password")
	if err != nil {
		tracing.TraceErr(span, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, err
	}
	if email == "" || password == "" {
		err := errors.New("email and app_password must be configured first")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, err
	}

	sess, err := h.services.Dialer.Dial(ctx, email, password)
	if err != nil {
		tracing.TraceErr(span, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return nil, err
	}
	return sess, nil
}
