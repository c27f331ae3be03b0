package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

type workerContainerRepository struct {
	db *gorm.DB
}

func NewWorkerContainerRepository(db *gorm.DB) interfaces.WorkerContainerRepository {
	return &workerContainerRepository{db: db}
}

func (r *workerContainerRepository) Create(ctx context.Context, wc *models.WorkerContainer) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WorkerContainerRepository.Create")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, wc.JobID)

	if wc.CreatedAt.IsZero() {
		wc.CreatedAt = time.Now().UTC()
	}
	if wc.Status == "" {
		wc.Status = models.WorkerStatusStarting
	}
	if err := r.db.WithContext(ctx).Create(wc).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create worker record")
	}
	return nil
}

func (r *workerContainerRepository) MarkRunning(ctx context.Context, jobID, runID uint64, containerID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WorkerContainerRepository.MarkRunning")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, jobID)
	tracing.TagRun(span, runID)

	err := r.db.WithContext(ctx).Model(&models.WorkerContainer{}).
		Where("job_id = ? AND run_id = ?", jobID, runID).
		Updates(map[string]interface{}{
			"status":       models.WorkerStatusRunning,
			"container_id": containerID,
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to mark worker running")
	}
	return nil
}

func (r *workerContainerRepository) MarkFinished(ctx context.Context, jobID, runID uint64, status models.WorkerStatus) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WorkerContainerRepository.MarkFinished")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, jobID)
	tracing.TagRun(span, runID)

	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&models.WorkerContainer{}).
		Where("job_id = ? AND run_id = ?", jobID, runID).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": now,
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to mark worker finished")
	}
	return nil
}

func (r *workerContainerRepository) ListActiveForJob(ctx context.Context, jobID uint64) ([]models.WorkerContainer, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WorkerContainerRepository.ListActiveForJob")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, jobID)

	var workers []models.WorkerContainer
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND status IN ?", jobID, []models.WorkerStatus{models.WorkerStatusStarting, models.WorkerStatusRunning}).
		Order("id asc").
		Find(&workers).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list active workers")
	}
	return workers, nil
}
