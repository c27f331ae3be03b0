package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
)

const maxRateLimitSleep = 60 * time.Second

// apply executes the IMAP operation for each classification, sequentially and
// in assembled order. Per-message failures are counted and surfaced but never
// stop the loop.
func (s *WorkerService) apply(
	ctx context.Context,
	sess interfaces.IMAPSession,
	classifications []interfaces.Classification,
	emails []interfaces.EmailHeader,
	m manifest.Manifest,
	rc *RunContext,
) models.RunCounters {
	isFolderJob := m.JobType == manifest.JobTypeFolderCleanup

	maxPerHour, err := s.settingsRepository.GetInt(ctx, models.SettingRateLimitPerHour, 200)
	if err != nil {
		s.log.Warnf("failed to read rate limit setting: %v", err)
		maxPerHour = 200
	}

	byUID := make(map[uint32]interfaces.EmailHeader, len(emails))
	for _, e := range emails {
		byUID[e.UID] = e
	}

	rc.Emit(ctx, models.EventPipeline, map[string]interface{}{
		"stage": "apply",
		"total": len(classifications),
	})

	for _, c := range classifications {
		s.waitForRateLimit(ctx, rc, maxPerHour)

		uid := strconv.FormatUint(uint64(c.UID), 10)
		action := c.Action
		if action == "" {
			action = models.ActionKeep
		}
		folder := c.Folder
		reason := c.Reason

		orig, known := byUID[c.UID]
		fromAddr := c.From
		subject := c.Subject
		isSeen := true
		isFlagged := false
		if known {
			fromAddr = orig.From
			subject = orig.Subject
			isSeen = orig.IsSeen
			isFlagged = orig.IsFlagged
		}

		// Fetch already dropped flagged messages; double-check here so cached
		// classifications can never touch starred mail.
		if m.SkipFlagged && isFlagged {
			rc.counters.Skipped++
			s.recordSkip(ctx, rc, c, uid, fromAddr, subject, "Flagged email — skipped")
			continue
		}

		// Drain guarantee: nothing stays behind, a keep goes to the inbox.
		if isFolderJob && action == models.ActionKeep {
			action = models.ActionInbox
			folder = "INBOX"
		}

		// Unread gate for inbox runs: unread mail is preserved unless it is
		// trash-classified and delete_marketing_unread is on.
		if !isFolderJob && !isSeen {
			if !action.IsTrash() {
				rc.counters.Skipped++
				s.recordSkip(ctx, rc, c, uid, fromAddr, subject, "Unread email — skipped")
				continue
			}
			if !m.DeleteMarketingUnread {
				rc.counters.Skipped++
				s.recordSkip(ctx, rc, c, uid, fromAddr, subject, "Unread marketing — feature disabled")
				continue
			}
		}

		base := map[string]interface{}{
			"uid":        uid,
			"from":       fromAddr,
			"subject":    subject,
			"action":     string(action),
			"folder":     folder,
			"reason":     reason,
			"from_cache": c.FromCache,
		}

		var opErr error
		switch {
		case action == models.ActionKeep:
			rc.counters.Kept++
			rc.LogAction(ctx, uid, fromAddr, subject, string(action), folder, reason)
			base["stage"] = "keep"
			rc.Emit(ctx, models.EventAction, base)

		case action == models.ActionInbox:
			if opErr = sess.Move(ctx, c.UID, m.Folder, "INBOX"); opErr == nil {
				rc.counters.Filed++
				rc.LogAction(ctx, uid, fromAddr, subject, string(action), "INBOX", reason)
				base["folder"] = "INBOX"
				base["stage"] = "filed"
				rc.Emit(ctx, models.EventAction, base)
			}

		case action.IsFile():
			if folder != "" {
				if opErr = sess.EnsureFolder(ctx, folder); opErr == nil {
					opErr = sess.Move(ctx, c.UID, m.Folder, folder)
				}
				if opErr == nil {
					rc.counters.Filed++
					rc.LogAction(ctx, uid, fromAddr, subject, string(action), folder, reason)
					base["stage"] = "filed"
					rc.Emit(ctx, models.EventAction, base)
				}
			} else {
				// No destination from the model; degrade to the inbox.
				if opErr = sess.Move(ctx, c.UID, m.Folder, "INBOX"); opErr == nil {
					rc.counters.Filed++
					rc.LogAction(ctx, uid, fromAddr, subject, string(models.ActionInbox), "INBOX", "No folder assigned — sent to INBOX")
					base["action"] = string(models.ActionInbox)
					base["folder"] = "INBOX"
					base["stage"] = "filed"
					base["reason"] = "No folder — sent to INBOX"
					rc.Emit(ctx, models.EventAction, base)
				}
			}

		case action.IsTrash():
			if opErr = sess.Trash(ctx, c.UID, m.Folder); opErr == nil {
				rc.counters.Trashed++
				rc.LogAction(ctx, uid, fromAddr, subject, string(action), "", reason)
				base["stage"] = "trash"
				rc.Emit(ctx, models.EventAction, base)
			}

		default:
			// Unknown verdict, keep safely.
			rc.counters.Kept++
			rc.LogAction(ctx, uid, fromAddr, subject, string(models.ActionKeep), "", fmt.Sprintf("Unknown action: %s", action))
			base["action"] = string(models.ActionKeep)
			base["stage"] = "keep"
			rc.Emit(ctx, models.EventAction, base)
		}

		if opErr != nil {
			rc.counters.Errors++
			s.log.Warnf("IMAP_MOVE_FAILED uid=%s: %v", uid, opErr)
			rc.Emit(ctx, models.EventError, map[string]interface{}{
				"code":        "IMAP_MOVE_FAILED",
				"message":     opErr.Error(),
				"remediation": "The destination folder may not exist or the IMAP server rejected the operation.",
				"uid":         uid,
				"subject":     subject,
			})
		}
		rc.UpdateCounters(ctx)
	}

	rc.Emit(ctx, models.EventPipeline, map[string]interface{}{
		"stage":   "done",
		"kept":    rc.counters.Kept,
		"filed":   rc.counters.Filed,
		"trashed": rc.counters.Trashed,
		"errors":  rc.counters.Errors,
		"skipped": rc.counters.Skipped,
	})
	return rc.counters
}

func (s *WorkerService) waitForRateLimit(ctx context.Context, rc *RunContext, maxPerHour int) {
	for {
		allowed, wait := s.limiter.CheckAndRecord(maxPerHour)
		if allowed {
			return
		}
		rc.Emit(ctx, models.EventStatus, map[string]interface{}{
			"msg": fmt.Sprintf("Rate limit — waiting %ds…", int(wait.Seconds())),
		})
		if wait > maxRateLimitSleep {
			wait = maxRateLimitSleep
		}
		s.sleep(wait)
	}
}

func (s *WorkerService) recordSkip(ctx context.Context, rc *RunContext, c interfaces.Classification, uid, fromAddr, subject, reason string) {
	rc.LogAction(ctx, uid, fromAddr, subject, string(models.ActionSkip), "", reason)
	rc.Emit(ctx, models.EventAction, map[string]interface{}{
		"uid":        uid,
		"from":       fromAddr,
		"subject":    subject,
		"action":     string(models.ActionSkip),
		"stage":      "skip",
		"reason":     reason,
		"from_cache": c.FromCache,
	})
	rc.UpdateCounters(ctx)
}
