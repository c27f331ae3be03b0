package interfaces

import (
	"context"
	"time"

	"github.com/mailsweep/mailsweep/internal/models"
)

type CredentialMeta struct {
	Set       bool       `json:"set"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type CredentialRepository interface {
	Save(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Meta(ctx context.Context, key string) (CredentialMeta, error)
}

type SettingsRepository interface {
	Get(ctx context.Context, key, fallback string) (string, error)
	GetInt(ctx context.Context, key string, fallback int) (int, error)
	GetBool(ctx context.Context, key string, fallback bool) (bool, error)
	Save(ctx context.Context, key, value string) error
}

type ScheduleRepository interface {
	Create(ctx context.Context, sched *models.Schedule) error
	Update(ctx context.Context, sched *models.Schedule) error
	Delete(ctx context.Context, id uint64) error
	GetByID(ctx context.Context, id uint64) (*models.Schedule, error)
	List(ctx context.Context) ([]models.Schedule, error)
	ListEnabled(ctx context.Context) ([]models.Schedule, error)
	SetNextRun(ctx context.Context, id uint64, nextRun time.Time) error
	MarkFired(ctx context.Context, id uint64, nextRun, lastRun time.Time) error
}

type FolderJobRepository interface {
	Create(ctx context.Context, job *models.FolderJob) error
	Update(ctx context.Context, job *models.FolderJob) error
	Delete(ctx context.Context, id uint64) error
	GetByID(ctx context.Context, id uint64) (*models.FolderJob, error)
	List(ctx context.Context) ([]models.FolderJob, error)
	ListRunningEnabled(ctx context.Context) ([]models.FolderJob, error)
	UpdateStatus(ctx context.Context, id uint64, status models.JobStatus) error
	SetSessionRunning(ctx context.Context, id uint64, sessionID string) error
	SetEnabled(ctx context.Context, id uint64, enabled bool) error
	IsEnabled(ctx context.Context, id uint64) (bool, error)
	SetRemaining(ctx context.Context, id uint64, remaining int) error
	AddProcessed(ctx context.Context, id uint64, processed int, lastRun time.Time) error
	MarkCompleted(ctx context.Context, id uint64) error
}

type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id uint64) (*models.Run, error)
	SetTotal(ctx context.Context, id uint64, total int) error
	UpdateCounters(ctx context.Context, id uint64, c models.RunCounters) error
	Finalize(ctx context.Context, id uint64, status models.RunStatus, c models.RunCounters) error
	MarkError(ctx context.Context, id uint64) error
	ListRecent(ctx context.Context, limit int) ([]models.Run, error)
	ListByJob(ctx context.Context, jobID uint64, limit int) ([]models.Run, error)
}

type ActionRepository interface {
	Append(ctx context.Context, action *models.Action) error
	ListByRun(ctx context.Context, runID uint64) ([]models.Action, error)
}

type CacheRepository interface {
	Lookup(ctx context.Context, hashes []string, cutoff time.Time) (map[string]models.CacheEntry, error)
	Store(ctx context.Context, entries []models.CacheEntry) error
	CountActive(ctx context.Context, cutoff time.Time) (int64, error)
	Clear(ctx context.Context) error
}

type EventRepository interface {
	Append(ctx context.Context, event *models.JobEvent) error
	ListAfter(ctx context.Context, sessionID string, afterID uint64, limit int) ([]models.JobEvent, error)
}

type WorkerContainerRepository interface {
	Create(ctx context.Context, wc *models.WorkerContainer) error
	MarkRunning(ctx context.Context, jobID, runID uint64, containerID string) error
	MarkFinished(ctx context.Context, jobID, runID uint64, status models.WorkerStatus) error
	ListActiveForJob(ctx context.Context, jobID uint64) ([]models.WorkerContainer, error)
}
