package orchestrator

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/repository"
)

// fakeRunner simulates worker processes synchronously: Launch runs the
// scripted behaviour against the database immediately, so the first Poll
// already reports the exit.
type fakeRunner struct {
	mu        sync.Mutex
	launches  []manifest.Manifest
	names     []string
	behave    func(m manifest.Manifest) int // returns exit code
	exits     map[int]int
	nextPID   int
	alive     map[int]bool
	launchErr error
}

func newFakeRunner(behave func(m manifest.Manifest) int) *fakeRunner {
	return &fakeRunner{
		behave:  behave,
		exits:   make(map[int]int),
		alive:   make(map[int]bool),
		nextPID: 1000,
	}
}

func (f *fakeRunner) Launch(ctx context.Context, name string, m manifest.Manifest) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return 0, f.launchErr
	}
	f.launches = append(f.launches, m)
	f.names = append(f.names, name)
	f.nextPID++
	f.exits[f.nextPID] = f.behave(m)
	return f.nextPID, nil
}

func (f *fakeRunner) Poll(pid int) (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alive[pid] {
		return true, 0
	}
	code, ok := f.exits[pid]
	if !ok {
		return false, 0
	}
	return false, code
}

func (f *fakeRunner) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func setupOrchestrator(t *testing.T, runner *fakeRunner) (*Orchestrator, *repository.Repositories) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.MigrateDB(db))
	repos := repository.InitRepositories(db)

	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()

	o := NewOrchestrator(log,
		repos.FolderJobRepository, repos.RunRepository, repos.EventRepository,
		repos.WorkerContainerRepository, repos.SettingsRepository,
		runner, "/tmp/test.db")
	o.sleep = func(time.Duration) { time.Sleep(time.Millisecond) }
	o.poll = time.Millisecond
	return o, repos
}

func createJob(t *testing.T, repos *repository.Repositories, folder string) *models.FolderJob {
	job := &models.FolderJob{Name: "drain " + folder, Folder: folder, Enabled: true, BatchSize: 20}
	require.NoError(t, repos.FolderJobRepository.Create(context.Background(), job))
	return job
}

func waitForStatus(t *testing.T, repos *repository.Repositories, jobID uint64, want models.JobStatus) *models.FolderJob {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := repos.FolderJobRepository.GetByID(context.Background(), jobID)
		require.NoError(t, err)
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %d never reached status %s", jobID, want)
	return nil
}

// drainBehaviour finalizes each run as a worker would: n batches with emails,
// then an empty one.
func drainBehaviour(t *testing.T, repos *repository.Repositories, nonEmptyBatches int) func(m manifest.Manifest) int {
	var count int
	var mu sync.Mutex
	return func(m manifest.Manifest) int {
		mu.Lock()
		count++
		batch := count
		mu.Unlock()
		ctx := context.Background()
		if batch <= nonEmptyBatches {
			if err := repos.RunRepository.SetTotal(ctx, m.RunID, m.BatchSize); err != nil {
				t.Errorf("SetTotal: %v", err)
			}
			if err := repos.RunRepository.Finalize(ctx, m.RunID, models.RunStatusDone, models.RunCounters{Trashed: m.BatchSize}); err != nil {
				t.Errorf("Finalize: %v", err)
			}
			return 0
		}
		if err := repos.RunRepository.Finalize(ctx, m.RunID, models.RunStatusDone, models.RunCounters{}); err != nil {
			t.Errorf("Finalize: %v", err)
		}
		return 0
	}
}

func TestJobRunsToCompletionOnEmptyFetch(t *testing.T) {
	runner := newFakeRunner(nil)
	o, repos := setupOrchestrator(t, runner)
	runner.behave = drainBehaviour(t, repos, 2)

	job := createJob(t, repos, "Archive/Old")
	sessionID, err := o.StartJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)

	got := waitForStatus(t, repos, job.ID, models.JobStatusCompleted)
	assert.False(t, got.Enabled)
	assert.Zero(t, got.TotalRemaining)
	require.NotNil(t, got.CompletedAt)

	// Two full batches plus the empty probe.
	runner.mu.Lock()
	launches := len(runner.launches)
	names := append([]string(nil), runner.names...)
	runner.mu.Unlock()
	assert.Equal(t, 3, launches)
	for _, name := range names {
		assert.Contains(t, name, "inbox-worker-")
	}

	// The completion event is durable.
	events, err := repos.EventRepository.ListAfter(context.Background(), got.SessionID, 0, 0)
	require.NoError(t, err)
	var sawComplete bool
	for _, e := range events {
		if e.Event == models.EventDone {
			var data map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(e.Data), &data))
			if data["job_complete"] == true {
				sawComplete = true
			}
		}
	}
	assert.True(t, sawComplete)
}

func TestStartJobIsIdempotentWhileDriving(t *testing.T) {
	runner := newFakeRunner(nil)
	o, repos := setupOrchestrator(t, runner)

	// Pin the worker as running so the driver stays in the supervise loop.
	blockPID := make(chan int, 1)
	runner.behave = func(m manifest.Manifest) int {
		runner.alive[runner.nextPID] = true
		blockPID <- runner.nextPID
		return 0
	}

	job := createJob(t, repos, "Archive/Big")
	first, err := o.StartJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := o.StartJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second, "second start must not spawn a second driver")

	runner.mu.Lock()
	assert.Len(t, runner.launches, 1)
	runner.mu.Unlock()

	// Release the pinned worker so the goroutine can exit.
	pid := <-blockPID
	runner.mu.Lock()
	runID := runner.launches[0].RunID
	runner.mu.Unlock()
	require.NoError(t, repos.RunRepository.Finalize(context.Background(), runID, models.RunStatusDone, models.RunCounters{}))
	runner.mu.Lock()
	runner.alive[pid] = false
	runner.mu.Unlock()
	waitForStatus(t, repos, job.ID, models.JobStatusCompleted)
}

func TestStopJobPausesBeforeNextBatch(t *testing.T) {
	runner := newFakeRunner(nil)
	o, repos := setupOrchestrator(t, runner)
	ctx := context.Background()

	var once sync.Once
	runner.behave = func(m manifest.Manifest) int {
		// First batch disables the job mid-flight, as the stop endpoint would.
		once.Do(func() {
			if err := o.StopJob(ctx, mustJobID(m)); err != nil {
				t.Errorf("StopJob: %v", err)
			}
		})
		if err := repos.RunRepository.SetTotal(ctx, m.RunID, 5); err != nil {
			t.Errorf("SetTotal: %v", err)
		}
		return 0
	}

	job := createJob(t, repos, "Archive/Paused")
	_, err := o.StartJob(ctx, job.ID)
	require.NoError(t, err)

	waitForStatus(t, repos, job.ID, models.JobStatusPaused)
	runner.mu.Lock()
	assert.Len(t, runner.launches, 1)
	runner.mu.Unlock()
}

func TestLaunchFailureMarksJobError(t *testing.T) {
	runner := newFakeRunner(func(m manifest.Manifest) int { return 0 })
	runner.launchErr = errors.New("fork failed")
	o, repos := setupOrchestrator(t, runner)

	job := createJob(t, repos, "Archive/Broken")
	_, err := o.StartJob(context.Background(), job.ID)
	require.NoError(t, err)

	got := waitForStatus(t, repos, job.ID, models.JobStatusError)

	events, listErr := repos.EventRepository.ListAfter(context.Background(), got.SessionID, 0, 0)
	require.NoError(t, listErr)
	var sawLaunchFailed bool
	for _, e := range events {
		if e.Event == models.EventError {
			var data map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(e.Data), &data))
			if data["code"] == "LAUNCH_FAILED" {
				sawLaunchFailed = true
			}
		}
	}
	assert.True(t, sawLaunchFailed)

	runs, err := repos.RunRepository.ListByJob(context.Background(), job.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusError, runs[0].Status)
}

func TestWorkerCrashStopsDriver(t *testing.T) {
	// Exits without touching the database, like a worker killed mid-batch.
	runner := newFakeRunner(func(m manifest.Manifest) int { return 137 })
	o, repos := setupOrchestrator(t, runner)
	ctx := context.Background()

	job := createJob(t, repos, "Archive/Crashy")
	_, err := o.StartJob(ctx, job.ID)
	require.NoError(t, err)

	got := waitForStatus(t, repos, job.ID, models.JobStatusError)
	runner.mu.Lock()
	assert.Len(t, runner.launches, 1)
	runner.mu.Unlock()

	// The driver finalizes the run the dead worker could not.
	runs, err := repos.RunRepository.ListByJob(ctx, job.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusError, runs[0].Status)
	require.NotNil(t, runs[0].FinishedAt)

	events, err := repos.EventRepository.ListAfter(ctx, got.SessionID, 0, 0)
	require.NoError(t, err)
	var sawCrash bool
	for _, e := range events {
		if e.Event == models.EventError {
			var data map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(e.Data), &data))
			if data["code"] == "WORKER_CRASH" {
				sawCrash = true
			}
		}
	}
	assert.True(t, sawCrash)
}

func TestCompletedJobCanBeRestarted(t *testing.T) {
	runner := newFakeRunner(nil)
	o, repos := setupOrchestrator(t, runner)
	ctx := context.Background()

	// First pass finds the folder already empty and completes the job.
	runner.behave = drainBehaviour(t, repos, 0)
	job := createJob(t, repos, "Archive/Refilled")
	_, err := o.StartJob(ctx, job.ID)
	require.NoError(t, err)
	done := waitForStatus(t, repos, job.ID, models.JobStatusCompleted)
	require.NotNil(t, done.CompletedAt)
	firstSession := done.SessionID

	// New mail arrived; starting again must run the job, not reject it.
	runner.behave = drainBehaviour(t, repos, 1)
	secondSession, err := o.StartJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, secondSession)
	assert.NotEqual(t, firstSession, secondSession)

	again := waitForStatus(t, repos, job.ID, models.JobStatusCompleted)
	require.NotNil(t, again.CompletedAt)

	// One empty probe, then one full batch plus its empty probe.
	runner.mu.Lock()
	assert.Equal(t, 3, len(runner.launches))
	runner.mu.Unlock()
}

func TestRecoverOnStartResumesInterruptedJobs(t *testing.T) {
	runner := newFakeRunner(nil)
	o, repos := setupOrchestrator(t, runner)
	ctx := context.Background()
	runner.behave = drainBehaviour(t, repos, 1)

	// Simulate a job that was mid-run when the previous process died.
	job := createJob(t, repos, "Archive/Interrupted")
	require.NoError(t, repos.FolderJobRepository.SetSessionRunning(ctx, job.ID, "job_stale_session"))

	// Stale worker row whose pid is long gone.
	staleRun := &models.Run{RunType: models.RunTypeFolderJob, JobID: &job.ID, SourceFolder: job.Folder}
	require.NoError(t, repos.RunRepository.Create(ctx, staleRun))
	require.NoError(t, repos.WorkerContainerRepository.Create(ctx, &models.WorkerContainer{
		JobID: job.ID, RunID: &staleRun.ID, ContainerName: "inbox-worker-stale",
		Status: models.WorkerStatusRunning, CreatedAt: time.Now().UTC(),
	}))

	o.RecoverOnStart(ctx)

	waitForStatus(t, repos, job.ID, models.JobStatusCompleted)
	runner.mu.Lock()
	assert.Equal(t, 2, len(runner.launches))
	runner.mu.Unlock()

	// The stale worker row was reaped.
	active, err := repos.WorkerContainerRepository.ListActiveForJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRecoverOnStartIgnoresIdleJobs(t *testing.T) {
	runner := newFakeRunner(func(m manifest.Manifest) int { return 0 })
	o, repos := setupOrchestrator(t, runner)

	createJob(t, repos, "Archive/Idle") // idle, never started

	o.RecoverOnStart(context.Background())
	time.Sleep(50 * time.Millisecond)

	runner.mu.Lock()
	assert.Empty(t, runner.launches)
	runner.mu.Unlock()
}

func mustJobID(m manifest.Manifest) uint64 {
	if m.JobID == nil {
		return 0
	}
	return *m.JobID
}
