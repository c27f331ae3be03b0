package models

import "time"

type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// FolderJob is a long-running drain task that clears an IMAP folder
// batch-by-batch. Enabled doubles as the pause signal: a running job with
// enabled=false stops before its next batch.
type FolderJob struct {
	ID                    uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name                  string     `gorm:"column:name;type:varchar(255);not null"`
	Folder                string     `gorm:"column:folder;type:varchar(255);not null"`
	Enabled               bool       `gorm:"column:enabled;not null;default:true"`
	Status                JobStatus  `gorm:"column:status;type:varchar(20);not null;default:idle"`
	BatchSize             int        `gorm:"column:batch_size;not null;default:20"`
	RateLimitPerHour      int        `gorm:"column:rate_limit_per_hour;not null;default:60"`
	OldestFirst           bool       `gorm:"column:oldest_first;not null;default:true"`
	StartFromDaysAgo      *int       `gorm:"column:start_from_days_ago"`
	MaxEmails             *int       `gorm:"column:max_emails"`
	CustomPrompt          string     `gorm:"column:custom_prompt;type:text"`
	DeleteMarketingUnread bool       `gorm:"column:delete_marketing_unread;not null;default:false"`
	SkipFlagged           bool       `gorm:"column:skip_flagged;not null;default:true"`
	AggressiveTrash       bool       `gorm:"column:aggressive_trash;not null;default:false"`
	TotalProcessed        int        `gorm:"column:total_processed;default:0"`
	TotalRemaining        int        `gorm:"column:total_remaining;default:-1"`
	SessionID             string     `gorm:"column:session_id;type:varchar(100)"`
	LastRun               *time.Time `gorm:"column:last_run"`
	CreatedAt             time.Time  `gorm:"column:created_at;not null"`
	CompletedAt           *time.Time `gorm:"column:completed_at"`
}

func (FolderJob) TableName() string {
	return "folder_jobs"
}

// Schedule is a recurring trigger for inbox cleanup runs. Exactly one of
// IntervalHours/IntervalMinutes is authoritative; minutes win when set.
type Schedule struct {
	ID                    uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name                  string     `gorm:"column:name;type:varchar(255);not null"`
	Enabled               bool       `gorm:"column:enabled;not null;default:true"`
	IntervalHours         int        `gorm:"column:interval_hours;not null;default:24"`
	IntervalMinutes       int        `gorm:"column:interval_minutes;default:0"`
	LimitPerRun           int        `gorm:"column:limit_per_run;not null;default:50"`
	Folder                string     `gorm:"column:folder;type:varchar(255);not null;default:INBOX"`
	CustomPrompt          string     `gorm:"column:custom_prompt;type:text"`
	DeleteMarketingUnread bool       `gorm:"column:delete_marketing_unread;not null;default:false"`
	SkipFlagged           bool       `gorm:"column:skip_flagged;not null;default:true"`
	NextRun               *time.Time `gorm:"column:next_run"`
	LastRun               *time.Time `gorm:"column:last_run"`
	CreatedAt             time.Time  `gorm:"column:created_at;not null"`
}

func (Schedule) TableName() string {
	return "schedules"
}

// Interval returns the effective firing interval.
func (s *Schedule) Interval() time.Duration {
	if s.IntervalMinutes > 0 {
		return time.Duration(s.IntervalMinutes) * time.Minute
	}
	return time.Duration(s.IntervalHours) * time.Hour
}
