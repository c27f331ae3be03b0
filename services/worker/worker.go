package worker

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/services/classifier"
)

var ErrCredentialsMissing = errors.New("one or more credentials are missing: set email, app_password and api_key in Settings")

// WorkerService runs one manifest end to end: connect, fetch, classify,
// apply, finalize. It is used both by the standalone worker process and by
// in-process manual runs.
type WorkerService struct {
	log logger.Logger

	credentialRepository interfaces.CredentialRepository
	settingsRepository   interfaces.SettingsRepository
	runRepository        interfaces.RunRepository
	actionRepository     interfaces.ActionRepository
	eventRepository      interfaces.EventRepository
	folderJobRepository  interfaces.FolderJobRepository

	dialer            interfaces.IMAPDialer
	classifierService *classifier.ClassifierService

	limiter *RateLimiter
	sleep   func(time.Duration)
}

func NewWorkerService(
	log logger.Logger,
	credentialRepository interfaces.CredentialRepository,
	settingsRepository interfaces.SettingsRepository,
	runRepository interfaces.RunRepository,
	actionRepository interfaces.ActionRepository,
	eventRepository interfaces.EventRepository,
	folderJobRepository interfaces.FolderJobRepository,
	dialer interfaces.IMAPDialer,
	classifierService *classifier.ClassifierService,
) *WorkerService {
	return &WorkerService{
		log:                  log,
		credentialRepository: credentialRepository,
		settingsRepository:   settingsRepository,
		runRepository:        runRepository,
		actionRepository:     actionRepository,
		eventRepository:      eventRepository,
		folderJobRepository:  folderJobRepository,
		dialer:               dialer,
		classifierService:    classifierService,
		limiter:              sharedRateLimiter,
		sleep:                time.Sleep,
	}
}

// Run executes one batch. A failure anywhere marks the run errored, emits a
// WORKER_CRASH event and returns the error; the process entrypoint turns that
// into a non-zero exit.
func (s *WorkerService) Run(ctx context.Context, m manifest.Manifest, sideEmit interfaces.EventEmitter) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WorkerService.Run")
	defer span.Finish()
	tracing.TagComponentWorker(span)
	tracing.TagRun(span, m.RunID)
	tracing.TagSession(span, m.SessionID)

	rc := NewRunContext(s.log, m, s.eventRepository, s.actionRepository, s.runRepository, sideEmit)

	err := s.runPipeline(ctx, m, rc)
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("worker crashed: %v", err)
		rc.Emit(ctx, models.EventError, map[string]interface{}{
			"code":        "WORKER_CRASH",
			"message":     err.Error(),
			"remediation": "Check credentials, folder name and server availability, then retry.",
		})
		if markErr := s.runRepository.MarkError(ctx, m.RunID); markErr != nil {
			s.log.Errorf("failed to mark run %d errored: %v", m.RunID, markErr)
		}
		return err
	}
	return nil
}

func (s *WorkerService) runPipeline(ctx context.Context, m manifest.Manifest, rc *RunContext) error {
	switch m.JobType {
	case manifest.JobTypeFolderCleanup, manifest.JobTypeInboxCleanup, manifest.JobTypeScheduledCleanup:
	default:
		return errors.Errorf("unknown job_type: %q", m.JobType)
	}

	email, password, apiKey, err := s.loadCredentials(ctx)
	if err != nil {
		return err
	}

	s.log.Infof("worker starting job_type=%s run_id=%d session=%s folder=%q batch_size=%d",
		m.JobType, m.RunID, m.SessionID, m.Folder, m.BatchSize)

	rc.Emit(ctx, models.EventStatus, map[string]interface{}{
		"msg":   "Connecting to IMAP…",
		"stage": "connect",
	})
	sess, err := s.dialer.Dial(ctx, email, password)
	if err != nil {
		rc.Emit(ctx, models.EventError, map[string]interface{}{
			"code":        "CONNECTION_FAILED",
			"message":     err.Error(),
			"remediation": "Verify your email address and app-specific password in Settings.",
		})
		return err
	}
	defer func() {
		if logoutErr := sess.Logout(); logoutErr != nil {
			s.log.Debugf("IMAP logout: %v", logoutErr)
		}
	}()

	rc.Emit(ctx, models.EventPipeline, map[string]interface{}{"stage": "fetch", "status": "running"})

	if m.JobType == manifest.JobTypeFolderCleanup {
		return s.runFolderBatch(ctx, m, rc, sess, apiKey)
	}
	return s.runInboxBatch(ctx, m, rc, sess, apiKey)
}

func (s *WorkerService) runFolderBatch(ctx context.Context, m manifest.Manifest, rc *RunContext, sess interfaces.IMAPSession, apiKey string) error {
	emails, totalInFolder, err := sess.FetchFromFolder(ctx, m.Folder, interfaces.FolderFetchOptions{
		Limit:        s.effectiveLimit(m),
		OldestFirst:  m.OldestFirst,
		SinceDaysAgo: m.StartFromDaysAgo,
		SkipFlagged:  m.SkipFlagged,
	})
	if err != nil {
		return err
	}
	s.log.Infof("fetched %d email(s) total_in_folder=%d", len(emails), totalInFolder)
	rc.Emit(ctx, models.EventPipeline, map[string]interface{}{
		"stage":  "fetch",
		"status": "done",
		"count":  len(emails),
		"total":  totalInFolder,
	})

	if m.JobID != nil {
		if err := s.folderJobRepository.SetRemaining(ctx, *m.JobID, totalInFolder); err != nil {
			s.log.Warnf("failed to record remaining count: %v", err)
		}
	}

	if len(emails) == 0 {
		s.log.Info("folder is empty — signalling completion")
		if err := s.runRepository.Finalize(ctx, m.RunID, models.RunStatusDone, models.RunCounters{}); err != nil {
			return err
		}
		rc.Emit(ctx, models.EventDone, map[string]interface{}{"empty": true, "total_in_folder": 0})
		return nil
	}

	if err := s.runRepository.SetTotal(ctx, m.RunID, len(emails)); err != nil {
		return err
	}

	classifications, err := s.classifierService.ClassifyAll(ctx, apiKey, emails, m, rc.Emitter(ctx))
	if err != nil {
		return err
	}

	counters := s.apply(ctx, sess, classifications, emails, m, rc)

	if err := s.runRepository.Finalize(ctx, m.RunID, models.RunStatusDone, counters); err != nil {
		return err
	}
	if m.JobID != nil {
		processed := counters.Kept + counters.Filed + counters.Trashed
		if err := s.folderJobRepository.AddProcessed(ctx, *m.JobID, processed, time.Now().UTC()); err != nil {
			s.log.Warnf("failed to bump processed count: %v", err)
		}
	}

	remaining := totalInFolder - len(emails)
	if remaining < 0 {
		remaining = 0
	}
	rc.Emit(ctx, models.EventDone, map[string]interface{}{
		"kept":      counters.Kept,
		"filed":     counters.Filed,
		"trashed":   counters.Trashed,
		"errors":    counters.Errors,
		"skipped":   counters.Skipped,
		"remaining": remaining,
	})
	s.log.Infof("worker finished remaining=%d", remaining)
	return nil
}

func (s *WorkerService) runInboxBatch(ctx context.Context, m manifest.Manifest, rc *RunContext, sess interfaces.IMAPSession, apiKey string) error {
	emails, err := sess.FetchInbox(ctx, m.Folder, interfaces.InboxFetchOptions{
		Limit:         s.effectiveLimit(m),
		OldestFirst:   m.OldestFirst,
		IncludeUnread: m.DeleteMarketingUnread,
		SinceDaysAgo:  m.StartFromDaysAgo,
		SkipFlagged:   m.SkipFlagged,
	})
	if err != nil {
		return err
	}
	s.log.Infof("fetched %d email(s)", len(emails))
	rc.Emit(ctx, models.EventPipeline, map[string]interface{}{
		"stage":  "fetch",
		"status": "done",
		"count":  len(emails),
	})

	if len(emails) == 0 {
		s.log.Info("no emails to process")
		if err := s.runRepository.Finalize(ctx, m.RunID, models.RunStatusDone, models.RunCounters{}); err != nil {
			return err
		}
		rc.Emit(ctx, models.EventDone, map[string]interface{}{
			"total": 0, "kept": 0, "filed": 0, "trashed": 0, "errors": 0, "skipped": 0,
		})
		return nil
	}

	if err := s.runRepository.SetTotal(ctx, m.RunID, len(emails)); err != nil {
		return err
	}

	classifications, err := s.classifierService.ClassifyAll(ctx, apiKey, emails, m, rc.Emitter(ctx))
	if err != nil {
		return err
	}

	counters := s.apply(ctx, sess, classifications, emails, m, rc)

	if err := s.runRepository.Finalize(ctx, m.RunID, models.RunStatusDone, counters); err != nil {
		return err
	}
	rc.Emit(ctx, models.EventDone, map[string]interface{}{
		"total":   len(emails),
		"kept":    counters.Kept,
		"filed":   counters.Filed,
		"trashed": counters.Trashed,
		"errors":  counters.Errors,
		"skipped": counters.Skipped,
	})
	s.log.Info("worker finished successfully")
	return nil
}

func (s *WorkerService) loadCredentials(ctx context.Context) (email, password, apiKey string, err error) {
	email, err = s.credentialRepository.Get(ctx, "email")
	if err != nil {
		return "", "", "", err
	}
	password, err = s.credentialRepository.Get(ctx, "app_password")
	if err != nil {
		return "", "", "", err
	}
	apiKey, err = s.credentialRepository.Get(ctx, "api_key")
	if err != nil {
		return "", "", "", err
	}
	if email == "" || password == "" || apiKey == "" {
		return "", "", "", ErrCredentialsMissing
	}
	s.log.Infof("credentials loaded email=%s", email)
	return email, password, apiKey, nil
}

// effectiveLimit caps the fetch at max_emails when the manifest carries one.
func (s *WorkerService) effectiveLimit(m manifest.Manifest) int {
	limit := m.BatchSize
	if m.MaxEmails != nil && *m.MaxEmails < limit {
		limit = *m.MaxEmails
	}
	if limit < 0 {
		limit = 0
	}
	return limit
}
