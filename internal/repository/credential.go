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

type credentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) interfaces.CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) Save(ctx context.Context, key, value string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialRepository.Save")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	cred := models.Credential{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&cred).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to save credential")
	}
	return nil
}

func (r *credentialRepository) Get(ctx context.Context, key string) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialRepository.Get")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	var cred models.Credential
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to get credential")
	}
	return cred.Value, nil
}

func (r *credentialRepository) Meta(ctx context.Context, key string) (interfaces.CredentialMeta, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "CredentialRepository.Meta")
	defer span.Finish()
	tracing.TagComponentSqliteRepository(span)

	var cred models.Credential
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return interfaces.CredentialMeta{}, nil
		}
		tracing.TraceErr(span, err)
		return interfaces.CredentialMeta{}, errors.Wrap(err, "failed to get credential")
	}
	updatedAt := cred.UpdatedAt
	return interfaces.CredentialMeta{Set: cred.Value != "", UpdatedAt: &updatedAt}, nil
}
