package models

import "time"

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusError   RunStatus = "error"
)

type RunType string

const (
	RunTypeManual    RunType = "manual"
	RunTypeScheduled RunType = "scheduled"
	RunTypeFolderJob RunType = "folder_job"
)

// Run records one batch execution. Counters increase monotonically while the
// run is live; a terminal status always sets FinishedAt.
type Run struct {
	ID           uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	StartedAt    time.Time  `gorm:"column:started_at;not null"`
	FinishedAt   *time.Time `gorm:"column:finished_at"`
	Status       RunStatus  `gorm:"column:status;type:varchar(20);not null;default:running"`
	RunType      RunType    `gorm:"column:run_type;type:varchar(20);not null;default:manual"`
	SourceFolder string     `gorm:"column:source_folder;type:varchar(255);default:INBOX"`
	JobID        *uint64    `gorm:"column:job_id;index"`
	Total        int        `gorm:"column:total;default:0"`
	Kept         int        `gorm:"column:kept;default:0"`
	Filed        int        `gorm:"column:filed;default:0"`
	Trashed      int        `gorm:"column:trashed;default:0"`
	Errors       int        `gorm:"column:errors;default:0"`
	Skipped      int        `gorm:"column:skipped;default:0"`
}

func (Run) TableName() string {
	return "runs"
}

// RunCounters is the monotonic progress snapshot written back after every
// applied message.
type RunCounters struct {
	Kept    int `json:"kept"`
	Filed   int `json:"filed"`
	Trashed int `json:"trashed"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// Action records one IMAP outcome. Append-only.
type Action struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     uint64    `gorm:"column:run_id;index;not null"`
	UID       string    `gorm:"column:uid;type:varchar(20);not null"`
	FromAddr  string    `gorm:"column:from_addr;type:varchar(500)"`
	Subject   string    `gorm:"column:subject;type:varchar(1000)"`
	Action    string    `gorm:"column:action;type:varchar(20);not null"`
	Folder    string    `gorm:"column:folder;type:varchar(255)"`
	Reason    string    `gorm:"column:reason;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (Action) TableName() string {
	return "actions"
}

// CacheEntry memoises one classification, keyed by the message fingerprint.
type CacheEntry struct {
	Hash         string    `gorm:"column:hash;type:varchar(64);primaryKey"`
	Action       string    `gorm:"column:action;type:varchar(20);not null"`
	Folder       string    `gorm:"column:folder;type:varchar(255)"`
	Reason       string    `gorm:"column:reason;type:text"`
	ClassifiedAt time.Time `gorm:"column:classified_at;index;not null"`
}

func (CacheEntry) TableName() string {
	return "email_cache"
}
