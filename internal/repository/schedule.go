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

type scheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) interfaces.ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (r *scheduleRepository) Create(ctx context.Context, sched *models.Schedule) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ScheduleRepository.Create")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(sched).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to create schedule")
	}
	return nil
}

func (r *scheduleRepository) Update(ctx context.Context, sched *models.Schedule) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ScheduleRepository.Update")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	if err := r.db.WithContext(ctx).Save(sched).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to update schedule")
	}
	return nil
}

func (r *scheduleRepository) Delete(ctx context.Context, id uint64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ScheduleRepository.Delete")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	if err := r.db.WithContext(ctx).Delete(&models.Schedule{}, id).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to delete schedule")
	}
	return nil
}

func (r *scheduleRepository) GetByID(ctx context.Context, id uint64) (*models.Schedule, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ScheduleRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	var sched models.Schedule
	err := r.db.WithContext(ctx).First(&sched, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to get schedule")
	}
	return &sched, nil
}

func (r *scheduleRepository) List(ctx context.Context) ([]models.Schedule, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ScheduleRepository.List")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	var scheds []models.Schedule
	if err := r.db.WithContext(ctx).Order("id asc").Find(&scheds).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	return scheds, nil
}

func (r *scheduleRepository) ListEnabled(ctx context.Context) ([]models.Schedule, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ScheduleRepository.ListEnabled")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	var scheds []models.Schedule
	err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("id asc").Find(&scheds).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list enabled schedules")
	}
	return scheds, nil
}

func (r *scheduleRepository) SetNextRun(ctx context.Context, id uint64, nextRun time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ScheduleRepository.SetNextRun")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	err := r.db.WithContext(ctx).Model(&models.Schedule{}).Where("id = ?", id).
		Update("next_run", nextRun).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to set next run")
	}
	return nil
}

func (r *scheduleRepository) MarkFired(ctx context.Context, id uint64, nextRun, lastRun time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ScheduleRepository.MarkFired")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	err := r.db.WithContext(ctx).Model(&models.Schedule{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"next_run": nextRun,
			"last_run": lastRun,
		}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to mark schedule fired")
	}
	return nil
}
