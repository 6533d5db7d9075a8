package loader

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// handleJobMetrics upserts an online monitoring measurement. The owning job
// instance is resolved through the workflow/job/job_instance natural key
// join; if an earlier measurement exists for the same (job instance,
// dag_job_id) it is updated in place, carrying over its surrogate key,
// otherwise a new row is inserted.
func (l *Loader) handleJobMetrics(ctx context.Context, r Record) error {
	jm := new(JobMetrics)
	l.mapRecord(ctx, r, jm)

	id, err := l.store.JobInstanceIDBySchedulerID(ctx, jm.WfUUID, jm.DagJobID, jm.SchedID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguous) {
		l.logger.Error(ctx, errors.Wrap(err, "no job instance for monitoring record", j.MKV{
			"wf_uuid":    jm.WfUUID,
			"dag_job_id": jm.DagJobID,
			"sched_id":   jm.SchedID,
		}), nil)
		return nil
	} else if err != nil {
		return err
	}
	jm.JobInstanceID = id

	existing, err := l.store.JobMetricsID(ctx, id, jm.DagJobID)
	if errors.Is(err, ErrNotFound) {
		_, err := l.store.Insert(ctx, jm)
		return err
	} else if err != nil {
		return err
	}

	jm.ID = existing
	return l.store.Update(ctx, jm)
}

// handleStaticEnd marks the end of the static description section and
// forces a flush so all static rows are durable before execution events
// start referencing them.
func (l *Loader) handleStaticEnd(ctx context.Context, r Record) error {
	l.logger.Debug(ctx, "static end", MKV{"event": r.Event()})
	if l.batch {
		return l.hardFlush(ctx)
	}
	return nil
}
