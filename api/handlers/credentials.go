package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/internal/tracing"
)

var credentialKeys = []string{"email", "app_password", "api_key"}

// GetCredentials reports which credentials are configured. Values are never
// returned.
func (h *Handlers) GetCredentials() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "GetCredentials")
		defer span.Finish()
		tracing.TagComponentRest(span)

		out := gin.H{}
		for _, key := range credentialKeys {
			meta, err := h.repos.CredentialRepository.Meta(ctx, key)
			if err != nil {
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out[key] = meta
		}
		c.JSON(http.StatusOK, out)
	}
}

// SaveCredentials stores the provided credentials. Keys absent from the body
// are left untouched.
func (h *Handlers) SaveCredentials() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "SaveCredentials")
		defer span.Finish()
		tracing.TagComponentRest(span)

		var body map[string]string
		if err := c.ShouldBindJSON(&body); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		saved := 0
		for _, key := range credentialKeys {
			value, ok := body[key]
			if !ok || value == "" {
				continue
			}
			if err := h.repos.CredentialRepository.Save(ctx, key, value); err != nil {
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			saved++
		}
		c.JSON(http.StatusOK, gin.H{"status": "saved", "updated": saved})
	}
}
