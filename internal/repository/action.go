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

type actionRepository struct {
	db *gorm.DB
}

func NewActionRepository(db *gorm.DB) interfaces.ActionRepository {
	return &actionRepository{db: db}
}

func (r *actionRepository) Append(ctx context.Context, action *models.Action) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ActionRepository.Append")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagRun(span, action.RunID)

	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(action).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to append action")
	}
	return nil
}

func (r *actionRepository) ListByRun(ctx context.Context, runID uint64) ([]models.Action, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ActionRepository.ListByRun")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagRun(span, runID)

	var actions []models.Action
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("id asc").Find(&actions).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list actions for run")
	}
	return actions, nil
}
