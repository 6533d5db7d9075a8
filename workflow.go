package loader

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

const (
	stateWorkflowStarted    = "WORKFLOW_STARTED"
	stateWorkflowTerminated = "WORKFLOW_TERMINATED"
)

// handleWorkflow inserts a workflow row. Workflow inserts are always written
// synchronously, whether batching or not: every dependent row needs the
// workflow's surrogate key to be resolvable. A workflow whose own UUID
// differs from its declared root UUID is a sub workflow and references the
// root's surrogate key; a root workflow performs a second write to point its
// root reference at itself once the first insert has assigned its key.
func (l *Loader) handleWorkflow(ctx context.Context, r Record) error {
	wf := new(Workflow)
	l.mapRecord(ctx, r, wf)

	isRoot := wf.RootXwfUUID == wf.WfUUID
	if !isRoot {
		if id, ok := l.workflowID(ctx, wf.RootXwfUUID); ok {
			wf.RootWfID = id
		}
	}
	if wf.ParentWfUUID != "" {
		if id, ok := l.workflowID(ctx, wf.ParentWfUUID); ok {
			wf.ParentWfID = id
		}
	}

	id, err := l.store.Insert(ctx, wf)
	if err != nil {
		return err
	}
	wf.ID = id

	if isRoot {
		if rootID, ok := l.workflowID(ctx, wf.WfUUID); ok {
			wf.RootWfID = rootID
			if err := l.store.Update(ctx, wf); err != nil {
				return err
			}
		}
	}

	if wf.RootWfID == 0 {
		l.logger.Error(ctx, errors.Wrap(ErrNotFound, "could not determine root_wf_id",
			j.KV("wf_uuid", wf.WfUUID)), nil)
	}

	return nil
}

// handleWorkflowState records a workflow level state transition. A
// termination purges every cache entry scoped to the workflow, but only
// after the row is durable: immediately in synchronous mode, at flush time
// in batched mode.
func (l *Loader) handleWorkflowState(ctx context.Context, r Record, kind EventKind) error {
	ws := new(WorkflowState)
	l.mapRecord(ctx, r, ws)

	wfID, ok := l.workflowID(ctx, ws.WfUUID)
	if !ok {
		return nil
	}
	ws.WfID = wfID

	if kind == EventWorkflowStart {
		ws.State = stateWorkflowStarted
	} else {
		ws.State = stateWorkflowTerminated
	}

	if l.batch {
		l.stageInsert(ws)
		return nil
	}

	if _, err := l.store.Insert(ctx, ws); err != nil {
		return err
	}
	if kind == EventWorkflowEnd {
		l.invalidate(ctx, ws.WfUUID, ws.WfID)
	}
	return nil
}
