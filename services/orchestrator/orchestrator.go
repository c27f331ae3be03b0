package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

const (
	workerPollInterval = 3 * time.Second
	startWaitTimeout   = 3 * time.Second
)

var ErrJobNotFound = errors.New("folder job not found")

// Orchestrator drives folder-drain jobs batch by batch: for each batch it
// creates a run row, launches one worker process and waits for it to exit.
// One driver goroutine per job; the enabled flag on the job row is the pause
// signal shared with the UI.
type Orchestrator struct {
	log logger.Logger

	folderJobRepository       interfaces.FolderJobRepository
	runRepository             interfaces.RunRepository
	eventRepository           interfaces.EventRepository
	workerContainerRepository interfaces.WorkerContainerRepository
	settingsRepository        interfaces.SettingsRepository

	runner interfaces.WorkerRunner
	dbPath string

	driverMu sync.Mutex
	drivers  map[uint64]bool

	// test seams
	sleep func(time.Duration)
	poll  time.Duration
}

func NewOrchestrator(
	log logger.Logger,
	folderJobRepository interfaces.FolderJobRepository,
	runRepository interfaces.RunRepository,
	eventRepository interfaces.EventRepository,
	workerContainerRepository interfaces.WorkerContainerRepository,
	settingsRepository interfaces.SettingsRepository,
	runner interfaces.WorkerRunner,
	dbPath string,
) *Orchestrator {
	return &Orchestrator{
		log:                       log,
		folderJobRepository:       folderJobRepository,
		runRepository:             runRepository,
		eventRepository:           eventRepository,
		workerContainerRepository: workerContainerRepository,
		settingsRepository:        settingsRepository,
		runner:                    runner,
		dbPath:                    dbPath,
		drivers:                   make(map[uint64]bool),
		sleep:                     time.Sleep,
		poll:                      workerPollInterval,
	}
}

// StartJob enables the job and starts its driver unless one is already
// running. It waits briefly for the driver to stamp a session id so the
// caller can subscribe to progress right away.
func (o *Orchestrator) StartJob(ctx context.Context, jobID uint64) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.StartJob")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagJob(span, jobID)

	job, err := o.folderJobRepository.GetByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", ErrJobNotFound
	}

	// Completed jobs are startable again; new mail may have landed in the
	// folder since the last drain. The first batch resets the completion
	// stamp along with the session.
	if err := o.folderJobRepository.SetEnabled(ctx, jobID, true); err != nil {
		return "", err
	}

	if !o.tryAcquire(jobID) {
		// A driver is already working this job; hand back its session.
		return job.SessionID, nil
	}

	go o.drive(jobID)

	deadline := time.Now().Add(startWaitTimeout)
	for time.Now().Before(deadline) {
		job, err := o.folderJobRepository.GetByID(ctx, jobID)
		if err == nil && job != nil && job.Status == models.JobStatusRunning && job.SessionID != "" {
			return job.SessionID, nil
		}
		o.sleep(100 * time.Millisecond)
	}
	job, err = o.folderJobRepository.GetByID(ctx, jobID)
	if err != nil || job == nil {
		return "", err
	}
	return job.SessionID, nil
}

// StopJob pauses the job. The current worker finishes its batch; the driver
// notices the flag before launching the next one.
func (o *Orchestrator) StopJob(ctx context.Context, jobID uint64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.StopJob")
	defer span.Finish()
	tracing.TagComponentService(span)
	tracing.TagJob(span, jobID)

	if err := o.folderJobRepository.SetEnabled(ctx, jobID, false); err != nil {
		return err
	}
	return o.folderJobRepository.UpdateStatus(ctx, jobID, models.JobStatusPaused)
}

func (o *Orchestrator) tryAcquire(jobID uint64) bool {
	o.driverMu.Lock()
	defer o.driverMu.Unlock()
	if o.drivers[jobID] {
		return false
	}
	o.drivers[jobID] = true
	return true
}

func (o *Orchestrator) release(jobID uint64) {
	o.driverMu.Lock()
	defer o.driverMu.Unlock()
	delete(o.drivers, jobID)
}

// drive is the per-job loop. It owns the job row's status field for the
// lifetime of the driver.
func (o *Orchestrator) drive(jobID uint64) {
	defer o.release(jobID)
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			o.log.Errorf("driver for job %d panicked: %v", jobID, r)
			o.emit(ctx, jobID, nil, "", models.EventError, map[string]interface{}{
				"code":        "FATAL",
				"message":     fmt.Sprintf("job driver crashed: %v", r),
				"remediation": "Restart the job. If it keeps crashing, check the server logs.",
			})
			_ = o.folderJobRepository.UpdateStatus(ctx, jobID, models.JobStatusError)
		}
	}()

	for {
		o.waitOutOrphans(ctx, jobID)

		enabled, err := o.folderJobRepository.IsEnabled(ctx, jobID)
		if err != nil {
			o.log.Errorf("failed to read enabled flag for job %d: %v", jobID, err)
			return
		}
		if !enabled {
			o.log.Infof("job %d paused", jobID)
			_ = o.folderJobRepository.UpdateStatus(ctx, jobID, models.JobStatusPaused)
			return
		}

		job, err := o.folderJobRepository.GetByID(ctx, jobID)
		if err != nil || job == nil {
			o.log.Errorf("job %d disappeared: %v", jobID, err)
			return
		}

		done, err := o.runBatch(ctx, job)
		if err != nil {
			o.log.Errorf("job %d batch failed: %v", jobID, err)
			_ = o.folderJobRepository.UpdateStatus(ctx, jobID, models.JobStatusError)
			return
		}
		if done {
			return
		}

		delay, err := o.settingsRepository.GetInt(ctx, models.SettingBatchDelaySeconds, 5)
		if err != nil {
			delay = 5
		}
		if !o.interruptibleDelay(ctx, jobID, time.Duration(delay)*time.Second) {
			_ = o.folderJobRepository.UpdateStatus(ctx, jobID, models.JobStatusPaused)
			return
		}
	}
}

// runBatch executes one worker cycle. It returns done=true when the job
// reached a terminal state (completed or paused mid-poll).
func (o *Orchestrator) runBatch(ctx context.Context, job *models.FolderJob) (bool, error) {
	jobID := job.ID

	run := &models.Run{
		RunType:      models.RunTypeFolderJob,
		SourceFolder: job.Folder,
		JobID:        &jobID,
	}
	if err := o.runRepository.Create(ctx, run); err != nil {
		return false, err
	}

	sessionID := fmt.Sprintf("job_%d_%s", jobID, uuid.NewString()[:8])
	if err := o.folderJobRepository.SetSessionRunning(ctx, jobID, sessionID); err != nil {
		return false, err
	}

	parallel, err := o.settingsRepository.GetInt(ctx, models.SettingParallelBatches, 3)
	if err != nil {
		parallel = 3
	}
	m := manifest.FromFolderJob(job, run.ID, sessionID, parallel, o.dbPath)

	wc := &models.WorkerContainer{
		JobID:         jobID,
		RunID:         &run.ID,
		ContainerName: fmt.Sprintf("inbox-worker-%d-%d", jobID, run.ID),
		Status:        models.WorkerStatusStarting,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.workerContainerRepository.Create(ctx, wc); err != nil {
		return false, err
	}

	pid, err := o.runner.Launch(ctx, wc.ContainerName, m)
	if err != nil {
		o.emit(ctx, jobID, &run.ID, sessionID, models.EventError, map[string]interface{}{
			"code":        "LAUNCH_FAILED",
			"message":     err.Error(),
			"remediation": "Check that the worker binary is present and executable.",
		})
		_ = o.runRepository.MarkError(ctx, run.ID)
		_ = o.workerContainerRepository.MarkFinished(ctx, jobID, run.ID, models.WorkerStatusError)
		return false, err
	}
	if err := o.workerContainerRepository.MarkRunning(ctx, jobID, run.ID, strconv.Itoa(pid)); err != nil {
		o.log.Warnf("failed to record worker pid: %v", err)
	}

	exitCode, paused := o.superviseWorker(ctx, jobID, pid)
	if paused {
		// The worker keeps running its batch; the driver steps aside now so
		// the pause takes effect before the next launch.
		_ = o.folderJobRepository.UpdateStatus(ctx, jobID, models.JobStatusPaused)
		return true, nil
	}

	status := models.WorkerStatusDone
	if exitCode != 0 {
		status = models.WorkerStatusError
	}
	if err := o.workerContainerRepository.MarkFinished(ctx, jobID, run.ID, status); err != nil {
		o.log.Warnf("failed to mark worker finished: %v", err)
	}

	if exitCode != 0 {
		// A killed worker cannot finalize its own run row; the driver does.
		if markErr := o.runRepository.MarkError(ctx, run.ID); markErr != nil {
			o.log.Warnf("failed to mark run %d errored: %v", run.ID, markErr)
		}
		o.emit(ctx, jobID, &run.ID, sessionID, models.EventError, map[string]interface{}{
			"code":        "WORKER_CRASH",
			"message":     fmt.Sprintf("worker exited with code %d", exitCode),
			"remediation": "Check the worker logs, then restart the job.",
		})
		return false, errors.Errorf("worker exited with code %d", exitCode)
	}

	finished, err := o.runRepository.GetByID(ctx, run.ID)
	if err != nil {
		return false, err
	}
	if finished != nil && finished.Total == 0 {
		// Empty fetch means the folder is drained.
		if err := o.folderJobRepository.MarkCompleted(ctx, jobID); err != nil {
			return false, err
		}
		o.emit(ctx, jobID, &run.ID, sessionID, models.EventDone, map[string]interface{}{
			"job_complete": true,
			"job_id":       jobID,
		})
		o.log.Infof("job %d completed: folder is empty", jobID)
		return true, nil
	}
	return false, nil
}

// superviseWorker polls until the worker exits or the job is paused.
func (o *Orchestrator) superviseWorker(ctx context.Context, jobID uint64, pid int) (exitCode int, paused bool) {
	for {
		running, code := o.runner.Poll(pid)
		if !running {
			return code, false
		}
		enabled, err := o.folderJobRepository.IsEnabled(ctx, jobID)
		if err == nil && !enabled {
			return 0, true
		}
		o.sleep(o.poll)
	}
}

// waitOutOrphans blocks while workers recorded by a previous host process are
// still alive, then reaps their rows. At most one worker per job may touch
// the mailbox at a time.
func (o *Orchestrator) waitOutOrphans(ctx context.Context, jobID uint64) {
	for {
		active, err := o.workerContainerRepository.ListActiveForJob(ctx, jobID)
		if err != nil {
			o.log.Warnf("failed to list workers for job %d: %v", jobID, err)
			return
		}
		alive := false
		for _, wc := range active {
			pid, convErr := strconv.Atoi(wc.ContainerID)
			if convErr == nil && o.runner.Alive(pid) {
				alive = true
				continue
			}
			if wc.RunID != nil {
				_ = o.workerContainerRepository.MarkFinished(ctx, jobID, *wc.RunID, models.WorkerStatusError)
			}
		}
		if !alive {
			return
		}
		o.log.Infof("waiting for orphan worker of job %d to finish", jobID)
		o.sleep(o.poll)
	}
}

// interruptibleDelay sleeps in one-second slices, returning false as soon as
// the job is disabled.
func (o *Orchestrator) interruptibleDelay(ctx context.Context, jobID uint64, d time.Duration) bool {
	for waited := time.Duration(0); waited < d; waited += time.Second {
		enabled, err := o.folderJobRepository.IsEnabled(ctx, jobID)
		if err == nil && !enabled {
			return false
		}
		step := time.Second
		if remaining := d - waited; remaining < step {
			step = remaining
		}
		o.sleep(step)
	}
	return true
}

func (o *Orchestrator) emit(ctx context.Context, jobID uint64, runID *uint64, sessionID string, event string, data map[string]interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	if sessionID == "" {
		// Driver-level failures may happen before a session exists; stamp a
		// synthetic one so the event is still attributable.
		sessionID = fmt.Sprintf("job_%d_driver", jobID)
	}
	jid := jobID
	if appendErr := o.eventRepository.Append(ctx, &models.JobEvent{
		JobID:     &jid,
		RunID:     runID,
		SessionID: sessionID,
		Event:     event,
		Data:      string(raw),
		CreatedAt: time.Now().UTC(),
	}); appendErr != nil {
		o.log.Warnf("failed to append %s event for job %d: %v", event, jobID, appendErr)
	}
}
