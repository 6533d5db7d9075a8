package loader

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// handleTaskMap points a task row at the concrete job it was planned into.
// The rows being updated may still be sitting in the batch buffers, so the
// first mapping event for a workflow forces a flush. A miss or an ambiguous
// match is logged and skipped, never fatal.
func (l *Loader) handleTaskMap(ctx context.Context, r Record) error {
	wfUUID := r["xwf.id"]

	if !l.taskMapFlushed[wfUUID] {
		if l.batch {
			if err := l.hardFlush(ctx); err != nil {
				return err
			}
		}
		l.taskMapFlushed[wfUUID] = true
	}

	wfID, ok := l.workflowID(ctx, wfUUID)
	if !ok {
		return nil
	}
	jobID, ok := l.jobID(ctx, wfID, r["job.id"])
	if !ok {
		l.logger.Error(ctx, errors.Wrap(ErrNotFound, "no job_id for task map", j.MKV{
			"wf_uuid": wfUUID,
			"job_id":  r["job.id"],
		}), nil)
		return nil
	}

	err := l.store.SetTaskJob(ctx, wfID, r["task.id"], jobID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguous) {
		l.logger.Error(ctx, errors.Wrap(err, "cannot map task", j.MKV{
			"wf_uuid": wfUUID,
			"task_id": r["task.id"],
		}), nil)
		return nil
	}
	return err
}

// handleSubworkflowMap points a job instance at the sub workflow it spawned.
func (l *Loader) handleSubworkflowMap(ctx context.Context, r Record) error {
	l.logger.Debug(ctx, "subwf map", MKV{"xwf.id": r["xwf.id"]})

	wfID, ok := l.workflowID(ctx, r["xwf.id"])
	if !ok {
		return nil
	}
	subwfID, ok := l.workflowID(ctx, r["subwf.id"])
	if !ok {
		return nil
	}
	jobID, ok := l.jobID(ctx, wfID, r["job.id"])
	if !ok {
		return nil
	}

	var seq int
	if err := setInt(&seq, "job_submit_seq", r["job_inst.id"]); err != nil {
		l.logger.Error(ctx, err, MKV{"event": r.Event()})
		return nil
	}

	err := l.store.SetJobInstanceSubworkflow(ctx, jobID, seq, subwfID)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguous) {
		l.logger.Error(ctx, errors.Wrap(err, "cannot map subworkflow", j.MKV{
			"wf_uuid":  r["xwf.id"],
			"subwf_id": r["subwf.id"],
		}), nil)
		return nil
	}
	return err
}
