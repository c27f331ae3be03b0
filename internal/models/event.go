package models

import "time"

// Event names carried on the progress bus and in the durable log.
const (
	EventStatus   = "status"
	EventPipeline = "pipeline"
	EventAction   = "action"
	EventCached   = "cached"
	EventError    = "error"
	EventDone     = "done"
)

// JobEvent is one durable progress event. Ids are strictly increasing, so
// ordering within a session is derivable; rows are never updated or deleted
// outside a full data wipe.
type JobEvent struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	JobID     *uint64   `gorm:"column:job_id"`
	RunID     *uint64   `gorm:"column:run_id"`
	SessionID string    `gorm:"column:session_id;type:varchar(100);index;not null"`
	Event     string    `gorm:"column:event;type:varchar(20);not null"`
	Data      string    `gorm:"column:data;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (JobEvent) TableName() string {
	return "job_events"
}

type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusRunning  WorkerStatus = "running"
	WorkerStatusDone     WorkerStatus = "done"
	WorkerStatusError    WorkerStatus = "error"
)

// WorkerContainer is the supervision handle for one worker instance. Workers
// normally run as sibling processes; ContainerID then holds the pid. Hosts
// that launch workers as containers store the container id instead — the
// naming convention inbox-worker-<job>-<run> is the same either way.
type WorkerContainer struct {
	ID            uint64       `gorm:"column:id;primaryKey;autoIncrement"`
	JobID         uint64       `gorm:"column:job_id;index;not null"`
	RunID         *uint64      `gorm:"column:run_id"`
	ContainerID   string       `gorm:"column:container_id;type:varchar(100)"`
	ContainerName string       `gorm:"column:container_name;type:varchar(100)"`
	Status        WorkerStatus `gorm:"column:status;type:varchar(20);default:starting"`
	CreatedAt     time.Time    `gorm:"column:created_at;not null"`
	FinishedAt    *time.Time   `gorm:"column:finished_at"`
}

func (WorkerContainer) TableName() string {
	return "worker_containers"
}
