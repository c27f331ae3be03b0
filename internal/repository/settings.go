package repository

import (
	"context"
	"strconv"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/models"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

type settingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) interfaces.SettingsRepository {
	return &settingsRepository{db: db}
}

func (r *settingsRepository) Get(ctx context.Context, key, fallback string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SettingsRepository.Get")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	var setting models.Setting
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fallback, nil
		}
		tracing.TraceErr(span, err)
		return fallback, errors.Wrap(err, "failed to get setting")
	}
	return setting.Value, nil
}

func (r *settingsRepository) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	raw, err := r.Get(ctx, key, strconv.Itoa(fallback))
	if err != nil {
		return fallback, err
	}
	value, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return fallback, nil
	}
	return value, nil
}

func (r *settingsRepository) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	def := "0"
	if fallback {
		def = "1"
	}
	raw, err := r.Get(ctx, key, def)
	if err != nil {
		return fallback, err
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true, nil
	default:
		return false, nil
	}
}

func (r *settingsRepository) Save(ctx context.Context, key, value string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SettingsRepository.Save")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	setting := models.Setting{Key: key, Value: value}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&setting).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to save setting")
	}
	return nil
}
