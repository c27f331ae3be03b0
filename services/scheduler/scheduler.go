package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	cronv3 "github.com/robfig/cron/v3"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

// Scheduler fires enabled schedules when their next_run comes due. The tick
// runs once a minute; due schedules launch one worker process each and are
// advanced by their interval immediately, so a slow worker can never make a
// schedule fire twice.
type Scheduler struct {
	log logger.Logger

	scheduleRepository   interfaces.ScheduleRepository
	runRepository        interfaces.RunRepository
	credentialRepository interfaces.CredentialRepository
	settingsRepository   interfaces.SettingsRepository

	runner interfaces.WorkerRunner
	dbPath string

	cron   *cronv3.Cron
	tickMu sync.Mutex

	now func() time.Time
}

func NewScheduler(
	log logger.Logger,
	scheduleRepository interfaces.ScheduleRepository,
	runRepository interfaces.RunRepository,
	credentialRepository interfaces.CredentialRepository,
	settingsRepository interfaces.SettingsRepository,
	runner interfaces.WorkerRunner,
	dbPath string,
) *Scheduler {
	return &Scheduler{
		log:                  log,
		scheduleRepository:   scheduleRepository,
		runRepository:        runRepository,
		credentialRepository: credentialRepository,
		settingsRepository:   settingsRepository,
		runner:               runner,
		dbPath:               dbPath,
		now:                  time.Now,
	}
}

func (s *Scheduler) Start() error {
	s.cron = cronv3.New()
	if _, err := s.cron.AddFunc("@every 1m", func() {
		s.Tick(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("scheduler started")
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.log.Info("scheduler stopped")
}

// Tick evaluates every enabled schedule once. Overlapping ticks are
// serialized; a tick that is still running when the next fires makes the next
// one wait rather than double-fire.
func (s *Scheduler) Tick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	span, ctx := opentracing.StartSpanFromContext(ctx, "Scheduler.Tick")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	schedules, err := s.scheduleRepository.ListEnabled(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Errorf("failed to list schedules: %v", err)
		return
	}

	now := s.now().UTC()
	for i := range schedules {
		sched := schedules[i]

		if sched.NextRun == nil {
			// First sighting after creation or re-enable: anchor the cycle.
			next := now.Add(sched.Interval())
			if err := s.scheduleRepository.SetNextRun(ctx, sched.ID, next); err != nil {
				s.log.Errorf("failed to init next_run for schedule %d: %v", sched.ID, err)
			}
			continue
		}
		if sched.NextRun.After(now) {
			continue
		}

		if err := s.fire(ctx, &sched, now); err != nil {
			s.log.Errorf("schedule %d failed to fire: %v", sched.ID, err)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, sched *models.Schedule, now time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Scheduler.fire")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	ready, err := s.credentialsReady(ctx)
	if err != nil {
		return err
	}
	if !ready {
		// Advance anyway so a freshly configured account does not trigger a
		// burst of missed cycles. last_run marks the attempt, as on a fire.
		s.log.Warnf("schedule %d skipped: credentials not configured", sched.ID)
		return s.scheduleRepository.MarkFired(ctx, sched.ID, now.Add(sched.Interval()), now)
	}

	run := &models.Run{
		RunType:      models.RunTypeScheduled,
		SourceFolder: sched.Folder,
	}
	if run.SourceFolder == "" {
		run.SourceFolder = "INBOX"
	}
	if err := s.runRepository.Create(ctx, run); err != nil {
		return err
	}

	sessionID := fmt.Sprintf("sched_%d_%s", run.ID, uuid.NewString()[:8])
	tracing.TagSession(span, sessionID)

	parallel, err := s.settingsRepository.GetInt(ctx, models.SettingParallelBatches, 3)
	if err != nil {
		parallel = 3
	}
	m := manifest.FromSchedule(sched, run.ID, sessionID, parallel, s.dbPath)

	name := fmt.Sprintf("inbox-sched-%d-%d", sched.ID, run.ID)
	if _, err := s.runner.Launch(ctx, name, m); err != nil {
		tracing.TraceErr(span, err)
		if markErr := s.runRepository.MarkError(ctx, run.ID); markErr != nil {
			s.log.Errorf("failed to mark run %d errored: %v", run.ID, markErr)
		}
		// Still advance: a broken binary should not pile up due schedules.
		if advErr := s.scheduleRepository.MarkFired(ctx, sched.ID, now.Add(sched.Interval()), now); advErr != nil {
			s.log.Errorf("failed to advance schedule %d: %v", sched.ID, advErr)
		}
		return err
	}

	s.log.Infof("schedule %d fired run=%d session=%s", sched.ID, run.ID, sessionID)
	return s.scheduleRepository.MarkFired(ctx, sched.ID, now.Add(sched.Interval()), now)
}

func (s *Scheduler) credentialsReady(ctx context.Context) (bool, error) {
	for _, key := range []string{"email", "app_password", "api_key"} {
		value, err := s.credentialRepository.Get(ctx, key)
		if err != nil {
			return false, err
		}
		if value == "" {
			return false, nil
		}
	}
	return true, nil
}
