package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

var settingKeys = []string{
	models.SettingRateLimitPerHour,
	models.SettingBatchDelaySeconds,
	models.SettingDefaultLimit,
	models.SettingParallelBatches,
	models.SettingCacheTTLDays,
	models.SettingInboxZeroMode,
	models.SettingImapHost,
	models.SettingImapPort,
}

func (h *Handlers) GetSettings() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "GetSettings")
		defer span.Finish()
		tracing.TagComponentRest(span)

		out := gin.H{}
		for _, key := range settingKeys {
			value, err := h.repos.SettingsRepository.Get(ctx, key, "")
			if err != nil {
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out[key] = value
		}
		c.JSON(http.StatusOK, out)
	}
}

func (h *Handlers) SaveSettings() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := tracing.StartTracerSpan(c.Request.Context(), "SaveSettings")
		defer span.Finish()
		tracing.TagComponentRest(span)

		var body map[string]string
		if err := c.ShouldBindJSON(&body); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		for key, value := range body {
			if err := h.repos.SettingsRepository.Save(ctx, key, value); err != nil {
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "saved"})
	}
}
