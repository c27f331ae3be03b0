package scheduler

import (
	"context"
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

type recordingRunner struct {
	mu       sync.Mutex
	launches []manifest.Manifest
	names    []string
	err      error
}

func (r *recordingRunner) Launch(ctx context.Context, name string, m manifest.Manifest) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.launches = append(r.launches, m)
	r.names = append(r.names, name)
	return 4242, nil
}

func (r *recordingRunner) Poll(pid int) (bool, int) { return false, 0 }
func (r *recordingRunner) Alive(pid int) bool       { return false }

func setupScheduler(t *testing.T, runner *recordingRunner) (*Scheduler, *repository.Repositories) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.MigrateDB(db))
	repos := repository.InitRepositories(db)

	log := logger.NewAppLogger(&logger.Config{DevMode: true})
	log.InitLogger()

	s := NewScheduler(log,
		repos.ScheduleRepository, repos.RunRepository,
		repos.CredentialRepository, repos.SettingsRepository,
		runner, "/tmp/test.db")
	return s, repos
}

func saveCredentials(t *testing.T, repos *repository.Repositories) {
	ctx := context.Background()
	require.NoError(t, repos.CredentialRepository.Save(ctx, "email", "user@example.com"))
	require.NoError(t, repos.CredentialRepository.Save(ctx, "app_password", "secret"))
	require.NoError(t, repos.CredentialRepository.Save(ctx, "api_key", "sk-test"))
}

func TestFirstTickAnchorsNextRunWithoutFiring(t *testing.T) {
	runner := &recordingRunner{}
	s, repos := setupScheduler(t, runner)
	saveCredentials(t, repos)
	ctx := context.Background()

	sched := &models.Schedule{Name: "nightly", Enabled: true, IntervalHours: 24, LimitPerRun: 50}
	require.NoError(t, repos.ScheduleRepository.Create(ctx, sched))

	now := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.Tick(ctx)

	assert.Empty(t, runner.launches)
	got, err := repos.ScheduleRepository.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRun)
	assert.WithinDuration(t, now.Add(24*time.Hour), got.NextRun.UTC(), time.Second)
}

func TestDueScheduleFiresAndAdvances(t *testing.T) {
	runner := &recordingRunner{}
	s, repos := setupScheduler(t, runner)
	saveCredentials(t, repos)
	ctx := context.Background()

	sched := &models.Schedule{
		Name: "hourly", Enabled: true, IntervalMinutes: 60, LimitPerRun: 25,
		Folder: "INBOX", SkipFlagged: true,
	}
	require.NoError(t, repos.ScheduleRepository.Create(ctx, sched))

	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	require.NoError(t, repos.ScheduleRepository.SetNextRun(ctx, sched.ID, past))

	s.now = func() time.Time { return now }
	s.Tick(ctx)

	require.Len(t, runner.launches, 1)
	m := runner.launches[0]
	assert.Equal(t, manifest.JobTypeScheduledCleanup, m.JobType)
	assert.Equal(t, "INBOX", m.Folder)
	assert.Equal(t, 25, m.BatchSize)
	assert.True(t, m.OldestFirst)
	assert.Contains(t, m.SessionID, "sched_")
	assert.Contains(t, runner.names[0], "inbox-sched-")

	got, err := repos.ScheduleRepository.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRun)
	assert.WithinDuration(t, now.Add(time.Hour), got.NextRun.UTC(), time.Second)
	require.NotNil(t, got.LastRun)
	assert.WithinDuration(t, now, got.LastRun.UTC(), time.Second)

	runs, err := repos.RunRepository.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunTypeScheduled, runs[0].RunType)
}

func TestFutureScheduleDoesNotFire(t *testing.T) {
	runner := &recordingRunner{}
	s, repos := setupScheduler(t, runner)
	saveCredentials(t, repos)
	ctx := context.Background()

	sched := &models.Schedule{Name: "later", Enabled: true, IntervalHours: 1, LimitPerRun: 10}
	require.NoError(t, repos.ScheduleRepository.Create(ctx, sched))
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repos.ScheduleRepository.SetNextRun(ctx, sched.ID, now.Add(10*time.Minute)))

	s.now = func() time.Time { return now }
	s.Tick(ctx)

	assert.Empty(t, runner.launches)
}

func TestMissingCredentialsSkipsButAdvances(t *testing.T) {
	runner := &recordingRunner{}
	s, repos := setupScheduler(t, runner)
	ctx := context.Background()

	sched := &models.Schedule{Name: "noauth", Enabled: true, IntervalHours: 2, LimitPerRun: 10}
	require.NoError(t, repos.ScheduleRepository.Create(ctx, sched))
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repos.ScheduleRepository.SetNextRun(ctx, sched.ID, now.Add(-time.Minute)))

	s.now = func() time.Time { return now }
	s.Tick(ctx)

	assert.Empty(t, runner.launches)
	got, err := repos.ScheduleRepository.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(2*time.Hour), got.NextRun.UTC(), time.Second)
	require.NotNil(t, got.LastRun)
	assert.WithinDuration(t, now, got.LastRun.UTC(), time.Second)

	runs, err := repos.RunRepository.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "no run row when the schedule is skipped")
}

func TestLaunchFailureMarksRunErrorAndAdvances(t *testing.T) {
	runner := &recordingRunner{err: errors.New("fork failed")}
	s, repos := setupScheduler(t, runner)
	saveCredentials(t, repos)
	ctx := context.Background()

	sched := &models.Schedule{Name: "broken", Enabled: true, IntervalHours: 1, LimitPerRun: 10}
	require.NoError(t, repos.ScheduleRepository.Create(ctx, sched))
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repos.ScheduleRepository.SetNextRun(ctx, sched.ID, now.Add(-time.Minute)))

	s.now = func() time.Time { return now }
	s.Tick(ctx)

	runs, err := repos.RunRepository.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusError, runs[0].Status)

	got, err := repos.ScheduleRepository.GetByID(ctx, sched.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), got.NextRun.UTC(), time.Second)
}

func TestDisabledScheduleIsIgnored(t *testing.T) {
	runner := &recordingRunner{}
	s, repos := setupScheduler(t, runner)
	saveCredentials(t, repos)
	ctx := context.Background()

	sched := &models.Schedule{Name: "off", Enabled: false, IntervalHours: 1, LimitPerRun: 10}
	require.NoError(t, repos.ScheduleRepository.Create(ctx, sched))
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repos.ScheduleRepository.SetNextRun(ctx, sched.ID, now.Add(-time.Minute)))

	s.now = func() time.Time { return now }
	s.Tick(ctx)

	assert.Empty(t, runner.launches)
}
