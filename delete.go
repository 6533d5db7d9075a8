package loader

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// DeleteWorkflow removes the workflow identified by wfUUID and everything
// transitively owned by it: sub workflows, jobs, tasks, edges, instances,
// state logs, hosts, invocations and metrics. The loader itself never
// deletes; this is the operator facing cleanup entry point.
func DeleteWorkflow(ctx context.Context, s Store, wfUUID string) error {
	id, err := s.WorkflowID(ctx, wfUUID)
	if err != nil {
		return errors.Wrap(err, "resolving workflow for delete", j.KV("wf_uuid", wfUUID))
	}
	return s.DeleteWorkflowTree(ctx, id)
}
