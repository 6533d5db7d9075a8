package loader

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// handleInvocation inserts the outcome of a single executable invocation.
func (l *Loader) handleInvocation(ctx context.Context, r Record) error {
	iv := new(Invocation)
	l.mapRecord(ctx, r, iv)

	wfID, ok := l.workflowID(ctx, iv.WfUUID)
	if !ok {
		return nil
	}
	iv.WfID = wfID

	id, ok := l.jobInstanceID(ctx, iv.WfUUID, iv.ExecJobID, iv.JobSubmitSeq, false)
	if !ok {
		l.logger.Error(ctx, errors.Wrap(ErrNotFound, "no job_instance_id for invocation", j.MKV{
			"wf_uuid":     iv.WfUUID,
			"exec_job_id": iv.ExecJobID,
		}), nil)
		return nil
	}
	iv.JobInstanceID = id

	if l.batch {
		l.stageInsert(iv)
		return nil
	}
	_, err := l.store.Insert(ctx, iv)
	return err
}
