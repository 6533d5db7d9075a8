package loader

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// handleJobInstance is a small state machine keyed by the event phase.
//
// On submit start and prescript start the instance is looked up quietly (a
// miss is the expected case) and inserted immediately - even in batched mode
// - then re-resolved to seed the cache, since later events in the same batch
// window will reference it. A prescript start additionally records its state
// transition.
//
// On main end and postscript end the instance must already exist; the row is
// merged with its final outcome and the state transition recorded. Any other
// phase reaches this handler only via misrouting and is ignored.
func (l *Loader) handleJobInstance(ctx context.Context, r Record, kind EventKind) error {
	ji := new(JobInstance)
	l.mapRecord(ctx, r, ji)

	wfID, ok := l.workflowID(ctx, ji.WfUUID)
	if !ok {
		l.logger.Error(ctx, errors.Wrap(ErrNotFound, "no wf_id for job instance", j.MKV{
			"wf_uuid":     ji.WfUUID,
			"exec_job_id": ji.ExecJobID,
		}), nil)
		return nil
	}

	jobID, ok := l.jobID(ctx, wfID, ji.ExecJobID)
	if !ok {
		l.logger.Error(ctx, errors.Wrap(ErrNotFound, "no job_id for job instance", j.MKV{
			"wf_uuid":     ji.WfUUID,
			"exec_job_id": ji.ExecJobID,
		}), nil)
		return nil
	}
	ji.JobID = jobID

	switch kind {
	case EventSubmitStart, EventPreScriptStart:
		_, exists := l.jobInstanceID(ctx, ji.WfUUID, ji.ExecJobID, ji.JobSubmitSeq, true)
		if !exists {
			id, err := l.store.Insert(ctx, ji)
			if err != nil {
				return err
			}
			ji.ID = id
			// Seed the cache for the events that follow.
			l.jobInstanceID(ctx, ji.WfUUID, ji.ExecJobID, ji.JobSubmitSeq, false)
		}

		if kind == EventPreScriptStart {
			return l.handleJobState(ctx, r)
		}
		return nil

	case EventMainEnd, EventPostScriptEnd:
		id, ok := l.jobInstanceID(ctx, ji.WfUUID, ji.ExecJobID, ji.JobSubmitSeq, false)
		if !ok {
			return nil
		}
		ji.ID = id

		if l.batch {
			l.stageUpdate(ji)
		} else if err := l.store.Update(ctx, ji); err != nil {
			return err
		}
		return l.handleJobState(ctx, r)
	}

	return nil
}
