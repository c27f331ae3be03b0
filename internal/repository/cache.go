package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

type cacheRepository struct {
	db *gorm.DB
}

func NewCacheRepository(db *gorm.DB) interfaces.CacheRepository {
	return &cacheRepository{db: db}
}

func (r *cacheRepository) Lookup(ctx context.Context, hashes []string, cutoff time.Time) (map[string]models.CacheEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CacheRepository.Lookup")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	result := make(map[string]models.CacheEntry, len(hashes))
	if len(hashes) == 0 {
		return result, nil
	}
	var entries []models.CacheEntry
	err := r.db.WithContext(ctx).
		Where("hash IN ? AND classified_at > ?", hashes, cutoff).
		Find(&entries).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to look up cache entries")
	}
	for _, entry := range entries {
		result[entry.Hash] = entry
	}
	return result, nil
}

func (r *cacheRepository) Store(ctx context.Context, entries []models.CacheEntry) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CacheRepository.Store")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range entries {
		if entries[i].ClassifiedAt.IsZero() {
			entries[i].ClassifiedAt = now
		}
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"action", "folder", "reason", "classified_at"}),
		}).
		Create(&entries).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to store cache entries")
	}
	return nil
}

func (r *cacheRepository) CountActive(ctx context.Context, cutoff time.Time) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CacheRepository.CountActive")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	var count int64
	err := r.db.WithContext(ctx).Model(&models.CacheEntry{}).
		Where("classified_at > ?", cutoff).
		Count(&count).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, errors.Wrap(err, "failed to count cache entries")
	}
	return count, nil
}

func (r *cacheRepository) Clear(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CacheRepository.Clear")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	err := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.CacheEntry{}).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to clear cache")
	}
	return nil
}
