package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/config"
	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

// Error kinds surfaced in error events. Matching is by substring of the API
// error body, same buckets the run report understands.
const (
	ErrKindRateLimit  = "RATE_LIMIT"
	ErrKindOverloaded = "API_OVERLOADED"
	ErrKindAPIError   = "API_ERROR"
)

type anthropicClient struct {
	cfg *config.AnthropicConfig
}

func NewAnthropicClient(cfg *config.AnthropicConfig) interfaces.LLMClient {
	return &anthropicClient{cfg: cfg}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *anthropicClient) Complete(ctx context.Context, apiKey, systemPrompt, userContent string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "anthropicClient.Complete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	payload, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: userContent}},
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.URL+"/v1/messages", bytes.NewBuffer(payload))
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", c.cfg.Version)

	client := &http.Client{
		Timeout: 60 * time.Second,
	}
	resp, err := client.Do(req)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "unable to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, string(body))
		tracing.TraceErr(span, err)
		return "", err
	}

	var response messagesResponse
	if err := json.Unmarshal(body, &response); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to unmarshal response")
	}
	if len(response.Content) == 0 {
		return "", errors.New("empty completion response")
	}
	return response.Content[0].Text, nil
}

// StripFence removes a single surrounding markdown code fence, which the model
// sometimes wraps around the JSON array despite instructions.
func StripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		} else {
			text = strings.TrimPrefix(text, "```json")
			text = strings.TrimPrefix(text, "```")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// ErrorKind maps an API failure onto the event error taxonomy.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate_limit"):
		return ErrKindRateLimit
	case strings.Contains(msg, "overloaded"):
		return ErrKindOverloaded
	default:
		return ErrKindAPIError
	}
}
