package interfaces

import (
	"context"

	"github.com/mailsweep/mailsweep/internal/models"
)

// Classification is one classifier verdict for one message.
type Classification struct {
	UID       uint32            `json:"uid,string"`
	Action    models.ActionKind `json:"action"`
	Folder    string            `json:"folder,omitempty"`
	Reason    string            `json:"reason"`
	From      string            `json:"from,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	FromCache bool              `json:"from_cache,omitempty"`
}

// LLMClient issues one completion request: a system prompt plus one user
// message, returning the raw response text.
type LLMClient interface {
	Complete(ctx context.Context, apiKey, systemPrompt, userContent string) (string, error)
}

// EventEmitter publishes one progress event for a run.
type EventEmitter func(event string, data map[string]interface{})
