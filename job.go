package loader

import "context"

// handleJob inserts a static DAG node.
func (l *Loader) handleJob(ctx context.Context, r Record) error {
	jb := new(Job)
	l.mapRecord(ctx, r, jb)

	wfID, ok := l.workflowID(ctx, jb.WfUUID)
	if !ok {
		return nil
	}
	jb.WfID = wfID

	if l.batch {
		l.stageInsert(jb)
		return nil
	}
	_, err := l.store.Insert(ctx, jb)
	return err
}

// handleJobEdge inserts a static DAG dependency edge.
func (l *Loader) handleJobEdge(ctx context.Context, r Record) error {
	je := new(JobEdge)
	l.mapRecord(ctx, r, je)

	wfID, ok := l.workflowID(ctx, je.WfUUID)
	if !ok {
		return nil
	}
	je.WfID = wfID

	if l.batch {
		l.stageInsert(je)
		return nil
	}
	_, err := l.store.Insert(ctx, je)
	return err
}

// handleTask inserts an abstract task.
func (l *Loader) handleTask(ctx context.Context, r Record) error {
	t := new(Task)
	l.mapRecord(ctx, r, t)

	wfID, ok := l.workflowID(ctx, t.WfUUID)
	if !ok {
		return nil
	}
	t.WfID = wfID

	if l.batch {
		l.stageInsert(t)
		return nil
	}
	_, err := l.store.Insert(ctx, t)
	return err
}

// handleTaskEdge inserts an abstract task dependency edge. The first task
// edge of a workflow forces a flush so that the batched task rows it refers
// to are durable.
func (l *Loader) handleTaskEdge(ctx context.Context, r Record) error {
	te := new(TaskEdge)
	l.mapRecord(ctx, r, te)

	if !l.taskEdgeFlushed[te.WfUUID] {
		if l.batch {
			if err := l.hardFlush(ctx); err != nil {
				return err
			}
		}
		l.taskEdgeFlushed[te.WfUUID] = true
	}

	wfID, ok := l.workflowID(ctx, te.WfUUID)
	if !ok {
		return nil
	}
	te.WfID = wfID

	if l.batch {
		l.stageInsert(te)
		return nil
	}
	_, err := l.store.Insert(ctx, te)
	return err
}
