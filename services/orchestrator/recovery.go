package orchestrator

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/mailsweep/mailsweep/internal/tracing"
)

const recoveryGrace = 3 * time.Second

// RecoverOnStart resumes every enabled folder job that was mid-run when the
// previous host process died. Each resumed driver first waits out any orphan
// worker still holding the mailbox, so restart never doubles up on a job.
func (o *Orchestrator) RecoverOnStart(ctx context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.RecoverOnStart")
	defer span.Finish()
	tracing.TagComponentService(span)

	// Give the database and any exiting workers a moment to settle.
	o.sleep(recoveryGrace)

	jobs, err := o.folderJobRepository.ListRunningEnabled(ctx)
	if err != nil {
		o.log.Errorf("recovery scan failed: %v", err)
		return
	}
	if len(jobs) == 0 {
		o.log.Info("no interrupted jobs to recover")
		return
	}

	for _, job := range jobs {
		if !o.tryAcquire(job.ID) {
			continue
		}
		o.log.Infof("recovering interrupted job %d (%s)", job.ID, job.Folder)
		go o.drive(job.ID)
	}
}
