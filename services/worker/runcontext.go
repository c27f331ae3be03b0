package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/manifest"
	"github.com/mailsweep/mailsweep/internal/models"
)

// RunContext is the capability object the pipeline stages hold: emit an
// event, record an action, write back counters. Everything is bound to one
// run so stages never carry ids around.
type RunContext struct {
	log      logger.Logger
	manifest manifest.Manifest

	eventRepository  interfaces.EventRepository
	actionRepository interfaces.ActionRepository
	runRepository    interfaces.RunRepository

	// sideEmit mirrors every event into the in-process progress queue for
	// runs driven inside the server process. Nil for sibling workers, whose
	// events travel through the durable log only.
	sideEmit interfaces.EventEmitter

	counters models.RunCounters
}

func NewRunContext(
	log logger.Logger,
	m manifest.Manifest,
	eventRepository interfaces.EventRepository,
	actionRepository interfaces.ActionRepository,
	runRepository interfaces.RunRepository,
	sideEmit interfaces.EventEmitter,
) *RunContext {
	return &RunContext{
		log:              log,
		manifest:         m,
		eventRepository:  eventRepository,
		actionRepository: actionRepository,
		runRepository:    runRepository,
		sideEmit:         sideEmit,
	}
}

// Emit appends one durable event for this run's session.
func (rc *RunContext) Emit(ctx context.Context, event string, data map[string]interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		rc.log.Warnf("failed to marshal event data: %v", err)
		raw = []byte("{}")
	}
	runID := rc.manifest.RunID
	jobEvent := &models.JobEvent{
		JobID:     rc.manifest.JobID,
		RunID:     &runID,
		SessionID: rc.manifest.SessionID,
		Event:     event,
		Data:      string(raw),
		CreatedAt: time.Now().UTC(),
	}
	if err := rc.eventRepository.Append(ctx, jobEvent); err != nil {
		rc.log.Warnf("failed to append %s event: %v", event, err)
	}
	if rc.sideEmit != nil {
		rc.sideEmit(event, data)
	}
}

// Emitter adapts the context to the plain emitter signature the classifier
// stages expect.
func (rc *RunContext) Emitter(ctx context.Context) interfaces.EventEmitter {
	return func(event string, data map[string]interface{}) {
		rc.Emit(ctx, event, data)
	}
}

// LogAction appends one Action row.
func (rc *RunContext) LogAction(ctx context.Context, uid, fromAddr, subject, action, folder, reason string) {
	row := &models.Action{
		RunID:     rc.manifest.RunID,
		UID:       uid,
		FromAddr:  fromAddr,
		Subject:   subject,
		Action:    action,
		Folder:    folder,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := rc.actionRepository.Append(ctx, row); err != nil {
		rc.log.Warnf("failed to log action for uid=%s: %v", uid, err)
	}
}

// UpdateCounters writes the current counters back to the run row. Called
// after every applied message so a crash loses at most one message of
// progress.
func (rc *RunContext) UpdateCounters(ctx context.Context) {
	if err := rc.runRepository.UpdateCounters(ctx, rc.manifest.RunID, rc.counters); err != nil {
		rc.log.Warnf("failed to update run counters: %v", err)
	}
}

func (rc *RunContext) Counters() models.RunCounters {
	return rc.counters
}
