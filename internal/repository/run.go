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

type runRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) interfaces.RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(ctx context.Context, run *models.Run) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RunRepository.Create")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create run")
	}
	return nil
}

func (r *runRepository) GetByID(ctx context.Context, id uint64) (*models.Run, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RunRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagRun(span, id)

	var run models.Run
	err := r.db.WithContext(ctx).First(&run, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to get run")
	}
	return &run, nil
}

func (r *runRepository) SetTotal(ctx context.Context, id uint64, total int) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RunRepository.SetTotal")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagRun(span, id)

	err := r.db.WithContext(ctx).Model(&models.Run{}).Where("id = ?", id).
		Update("total", total).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to set run total")
	}
	return nil
}

func (r *runRepository) UpdateCounters(ctx context.Context, id uint64, c models.RunCounters) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RunRepository.UpdateCounters")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagRun(span, id)

	err := r.db.WithContext(ctx).Model(&models.Run{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"kept":    c.Kept,
			"filed":   c.Filed,
			"trashed": c.Trashed,
			"errors":  c.Errors,
			"skipped": c.Skipped,
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to update run counters")
	}
	return nil
}

func (r *runRepository) Finalize(ctx context.Context, id uint64, status models.RunStatus, c models.RunCounters) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RunRepository.Finalize")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagRun(span, id)

	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&models.Run{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"finished_at": now,
			"kept":        c.Kept,
			"filed":       c.Filed,
			"trashed":     c.Trashed,
			"errors":      c.Errors,
			"skipped":     c.Skipped,
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to finalize run")
	}
	return nil
}

func (r *runRepository) MarkError(ctx context.Context, id uint64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RunRepository.MarkError")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagRun(span, id)

	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&models.Run{}).
		Where("id = ? AND status = ?", id, models.RunStatusRunning).
		Updates(map[string]interface{}{
			"status":      models.RunStatusError,
			"finished_at": now,
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to mark run errored")
	}
	return nil
}

func (r *runRepository) ListRecent(ctx context.Context, limit int) ([]models.Run, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RunRepository.ListRecent")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	var runs []models.Run
	err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&runs).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list recent runs")
	}
	return runs, nil
}

func (r *runRepository) ListByJob(ctx context.Context, jobID uint64, limit int) ([]models.Run, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RunRepository.ListByJob")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagJob(span, jobID)

	var runs []models.Run
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id desc").Limit(limit).Find(&runs).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list runs for job")
	}
	return runs, nil
}
