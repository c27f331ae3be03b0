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

type eventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) interfaces.EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Append(ctx context.Context, event *models.JobEvent) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EventRepository.Append")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagSession(span, event.SessionID)

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to append job event")
	}
	return nil
}

func (r *eventRepository) ListAfter(ctx context.Context, sessionID string, afterID uint64, limit int) ([]models.JobEvent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EventRepository.ListAfter")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)
	tracing.TagSession(span, sessionID)

	var events []models.JobEvent
	query := r.db.WithContext(ctx).
		Where("session_id = ? AND id > ?", sessionID, afterID).
		Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list job events")
	}
	return events, nil
}
