package manifest

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/internal/models"
)

// EnvManifest is the environment variable carrying the encoded manifest
// across the worker process boundary.
const EnvManifest = "MANIFEST"

type JobType string

const (
	JobTypeInboxCleanup     JobType = "inbox_cleanup"
	JobTypeScheduledCleanup JobType = "scheduled_cleanup"
	JobTypeFolderCleanup    JobType = "folder_cleanup"
)

var ErrManifestMissing = errors.New("MANIFEST environment variable is not set")

// Manifest is the immutable parameter set for one worker run. It is the only
// thing the orchestrator hands a worker: everything else (credentials,
// settings) the worker looks up itself through the shared store.
type Manifest struct {
	// Identity
	JobType   JobType `json:"job_type"`
	RunID     uint64  `json:"run_id"`
	SessionID string  `json:"session_id"`

	// Target
	Folder string  `json:"folder"`
	JobID  *uint64 `json:"job_id,omitempty"`

	// Volume
	BatchSize        int  `json:"batch_size"`
	OldestFirst      bool `json:"oldest_first"`
	StartFromDaysAgo *int `json:"start_from_days_ago,omitempty"`
	MaxEmails        *int `json:"max_emails,omitempty"`

	// Classification tuning
	CustomPrompt          string `json:"custom_prompt"`
	DeleteMarketingUnread bool   `json:"delete_marketing_unread"`
	SkipFlagged           bool   `json:"skip_flagged"`
	AggressiveTrash       bool   `json:"aggressive_trash"`

	// Runtime
	ParallelBatches int    `json:"parallel_batches"`
	DBPath          string `json:"db_path"`
}

func (m Manifest) Encode() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode manifest")
	}
	return string(raw), nil
}

// Decode parses an encoded manifest. The custom prompt is sanitised again on
// decode: the value crossed a process boundary, so the constructor-side
// sanitisation alone is not trusted.
func Decode(raw string) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Manifest{}, errors.Wrap(err, "failed to decode manifest")
	}
	m.CustomPrompt = SanitizePrompt(m.CustomPrompt)
	if m.Folder == "" {
		m.Folder = "INBOX"
	}
	return m, nil
}

// FromEnv reads the manifest of the current worker process.
func FromEnv() (Manifest, error) {
	raw := os.Getenv(EnvManifest)
	if raw == "" {
		return Manifest{}, ErrManifestMissing
	}
	return Decode(raw)
}

// FromFolderJob builds a folder-drain manifest from a job row snapshot.
func FromFolderJob(job *models.FolderJob, runID uint64, sessionID string, parallelBatches int, dbPath string) Manifest {
	jobID := job.ID
	return Manifest{
		JobType:               JobTypeFolderCleanup,
		RunID:                 runID,
		SessionID:             sessionID,
		Folder:                job.Folder,
		JobID:                 &jobID,
		BatchSize:             job.BatchSize,
		OldestFirst:           job.OldestFirst,
		StartFromDaysAgo:      job.StartFromDaysAgo,
		MaxEmails:             job.MaxEmails,
		CustomPrompt:          SanitizePrompt(job.CustomPrompt),
		DeleteMarketingUnread: job.DeleteMarketingUnread,
		SkipFlagged:           job.SkipFlagged,
		AggressiveTrash:       job.AggressiveTrash,
		ParallelBatches:       parallelBatches,
		DBPath:                dbPath,
	}
}

// FromSchedule builds a scheduled-cleanup manifest from a schedule row.
func FromSchedule(sched *models.Schedule, runID uint64, sessionID string, parallelBatches int, dbPath string) Manifest {
	folder := sched.Folder
	if folder == "" {
		folder = "INBOX"
	}
	return Manifest{
		JobType:               JobTypeScheduledCleanup,
		RunID:                 runID,
		SessionID:             sessionID,
		Folder:                folder,
		BatchSize:             sched.LimitPerRun,
		OldestFirst:           true,
		CustomPrompt:          SanitizePrompt(sched.CustomPrompt),
		DeleteMarketingUnread: sched.DeleteMarketingUnread,
		SkipFlagged:           sched.SkipFlagged,
		ParallelBatches:       parallelBatches,
		DBPath:                dbPath,
	}
}
