package models

import "time"

// Credential is an opaque secret keyed by name (email, app_password, api_key).
type Credential struct {
	Key       string    `gorm:"column:key;type:varchar(100);primaryKey"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (Credential) TableName() string {
	return "credentials"
}

// Setting is a string-valued runtime tunable.
type Setting struct {
	Key   string `gorm:"column:key;type:varchar(100);primaryKey"`
	Value string `gorm:"column:value;type:text;not null"`
}

func (Setting) TableName() string {
	return "settings"
}

// Setting keys understood by the engine.
const (
	SettingRateLimitPerHour  = "rate_limit_per_hour"
	SettingBatchDelaySeconds = "batch_delay_seconds"
	SettingDefaultLimit      = "default_limit"
	SettingParallelBatches   = "parallel_batches"
	SettingCacheTTLDays      = "cache_ttl_days"
	SettingInboxZeroMode     = "inbox_zero_mode"
	SettingImapHost          = "imap_host"
	SettingImapPort          = "imap_port"
)
