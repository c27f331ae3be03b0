package manifest

import (
	"regexp"
	"strings"
)

// Prompt-injection protection. These patterns are stripped from any
// user-supplied custom prompt before it can reach a system prompt. The
// classifier additionally embeds the prompt inside a labelled supplemental
// block, so stripping here is the first of two layers.
var injectionPatterns = []string{
	`</?system\s*>`,
	`\[/?INST\]`,
	`ignore\s+(all\s+)?previous\s+instructions?`,
	`disregard\s+(all\s+)?previous\s+instructions?`,
	`you\s+are\s+now\b`,
	`new\s+instructions?:`,
	`system\s+prompt:`,
	`</?\s*prompt\s*>`,
	`<\|[^|]*\|>`,
	`---+\s*system\s*---+`,
}

var (
	injectionRe  = regexp.MustCompile(`(?i)` + strings.Join(injectionPatterns, "|"))
	whitespaceRe = regexp.MustCompile(`\s+`)
)

const maxPromptLen = 500

// SanitizePrompt removes known prompt-injection patterns, collapses
// whitespace and enforces the length cap. Idempotent: sanitising twice
// yields the same result.
func SanitizePrompt(text string) string {
	if text == "" {
		return ""
	}
	cleaned := injectionRe.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(whitespaceRe.ReplaceAllString(cleaned, " "))
	runes := []rune(cleaned)
	if len(runes) > maxPromptLen {
		return string(runes[:maxPromptLen])
	}
	return cleaned
}
