package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/models"
)

type Repositories struct {
	db *gorm.DB

	CredentialRepository      interfaces.CredentialRepository
	SettingsRepository        interfaces.SettingsRepository
	ScheduleRepository        interfaces.ScheduleRepository
	FolderJobRepository       interfaces.FolderJobRepository
	RunRepository             interfaces.RunRepository
	ActionRepository          interfaces.ActionRepository
	CacheRepository           interfaces.CacheRepository
	EventRepository           interfaces.EventRepository
	WorkerContainerRepository interfaces.WorkerContainerRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:                        db,
		CredentialRepository:      NewCredentialRepository(db),
		SettingsRepository:        NewSettingsRepository(db),
		ScheduleRepository:        NewScheduleRepository(db),
		FolderJobRepository:       NewFolderJobRepository(db),
		RunRepository:             NewRunRepository(db),
		ActionRepository:          NewActionRepository(db),
		CacheRepository:           NewCacheRepository(db),
		EventRepository:           NewEventRepository(db),
		WorkerContainerRepository: NewWorkerContainerRepository(db),
	}
}

// MigrateDB creates the schema and seeds default settings.
func MigrateDB(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Credential{},
		&models.Setting{},
		&models.Schedule{},
		&models.FolderJob{},
		&models.Run{},
		&models.Action{},
		&models.CacheEntry{},
		&models.JobEvent{},
		&models.WorkerContainer{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}
	return seedDefaultSettings(db)
}

var defaultSettings = map[string]string{
	models.SettingRateLimitPerHour:  "200",
	models.SettingBatchDelaySeconds: "5",
	models.SettingInboxZeroMode:     "1",
	models.SettingDefaultLimit:      "50",
	models.SettingParallelBatches:   "3",
	models.SettingCacheTTLDays:      "30",
	models.SettingImapHost:          "imap.mail.me.com",
	models.SettingImapPort:          "993",
}

func seedDefaultSettings(db *gorm.DB) error {
	for key, value := range defaultSettings {
		var existing models.Setting
		result := db.Where("key = ?", key).First(&existing)
		if result.Error == nil {
			continue
		}
		if result.Error != gorm.ErrRecordNotFound {
			return errors.Wrap(result.Error, "failed to read setting")
		}
		if err := db.Create(&models.Setting{Key: key, Value: value}).Error; err != nil {
			return errors.Wrapf(err, "failed to seed setting %s", key)
		}
	}
	return nil
}

// WipeAll clears every table. The only path that deletes event or action rows.
func (r *Repositories) WipeAll(ctx context.Context) error {
	tables := []interface{}{
		&models.JobEvent{},
		&models.WorkerContainer{},
		&models.Action{},
		&models.Run{},
		&models.FolderJob{},
		&models.Schedule{},
		&models.CacheEntry{},
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			if err := tx.Where("1 = 1").Delete(table).Error; err != nil {
				return errors.Wrap(err, "failed to wipe table")
			}
		}
		return nil
	})
}
