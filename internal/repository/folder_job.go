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

type folderJobRepository struct {
	db *gorm.DB
}

func NewFolderJobRepository(db *gorm.DB) interfaces.FolderJobRepository {
	return &folderJobRepository{db: db}
}

func (r *folderJobRepository) Create(ctx context.Context, job *models.FolderJob) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.Create")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.JobStatusIdle
	}
	if job.TotalRemaining == 0 {
		job.TotalRemaining = -1
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create folder job")
	}
	return nil
}

func (r *folderJobRepository) Update(ctx context.Context, job *models.FolderJob) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.Update")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to update folder job")
	}
	return nil
}

func (r *folderJobRepository) Delete(ctx context.Context, id uint64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.Delete")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	if err := r.db.WithContext(ctx).Delete(&models.FolderJob{}, id).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to delete folder job")
	}
	return nil
}

func (r *folderJobRepository) GetByID(ctx context.Context, id uint64) (*models.FolderJob, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	var job models.FolderJob
	err := r.db.WithContext(ctx).First(&job, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to get folder job")
	}
	return &job, nil
}

func (r *folderJobRepository) List(ctx context.Context) ([]models.FolderJob, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.List")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	var jobs []models.FolderJob
	if err := r.db.WithContext(ctx).Order("id asc").Find(&jobs).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list folder jobs")
	}
	return jobs, nil
}

func (r *folderJobRepository) ListRunningEnabled(ctx context.Context) ([]models.FolderJob, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.ListRunningEnabled")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	var jobs []models.FolderJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND enabled = ?", models.JobStatusRunning, true).
		Order("id asc").
		Find(&jobs).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list running folder jobs")
	}
	return jobs, nil
}

func (r *folderJobRepository) UpdateStatus(ctx context.Context, id uint64, status models.JobStatus) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.UpdateStatus")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, id)

	err := r.db.WithContext(ctx).Model(&models.FolderJob{}).Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to update folder job status")
	}
	return nil
}

func (r *folderJobRepository) SetSessionRunning(ctx context.Context, id uint64, sessionID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.SetSessionRunning")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, id)

	err := r.db.WithContext(ctx).Model(&models.FolderJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.JobStatusRunning,
			"session_id":   sessionID,
			"completed_at": nil,
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to set folder job running")
	}
	return nil
}

func (r *folderJobRepository) SetEnabled(ctx context.Context, id uint64, enabled bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.SetEnabled")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, id)

	err := r.db.WithContext(ctx).Model(&models.FolderJob{}).Where("id = ?", id).
		Update("enabled", enabled).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to set folder job enabled")
	}
	return nil
}

func (r *folderJobRepository) IsEnabled(ctx context.Context, id uint64) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.IsEnabled")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, id)

	var job models.FolderJob
	err := r.db.WithContext(ctx).Select("enabled").First(&job, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		tracing.TraceErr(span, err)
		return false, errors.Wrap(err, "failed to read folder job enabled flag")
	}
	return job.Enabled, nil
}

func (r *folderJobRepository) SetRemaining(ctx context.Context, id uint64, remaining int) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.SetRemaining")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, id)

	err := r.db.WithContext(ctx).Model(&models.FolderJob{}).Where("id = ?", id).
		Update("total_remaining", remaining).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to set folder job remaining")
	}
	return nil
}

func (r *folderJobRepository) AddProcessed(ctx context.Context, id uint64, processed int, lastRun time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.AddProcessed")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, id)

	err := r.db.WithContext(ctx).Model(&models.FolderJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_processed": gorm.Expr("total_processed + ?", processed),
			"last_run":        lastRun,
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to add folder job processed count")
	}
	return nil
}

func (r *folderJobRepository) MarkCompleted(ctx context.Context, id uint64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "FolderJobRepository.MarkCompleted")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, id)

	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&models.FolderJob{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.JobStatusCompleted,
			"enabled":         false,
			"total_remaining": 0,
			"completed_at":    now,
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to mark folder job completed")
	}
	return nil
}
