package loader

import (
	"context"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// jobKey is the natural uniqueness tuple of a Job within one workflow.
type jobKey struct {
	wfID      int64
	execJobID string
}

// instanceKey is the natural uniqueness tuple of a JobInstance within one
// job.
type instanceKey struct {
	jobID        int64
	jobSubmitSeq int
}

// The resolver functions share one contract: check the cache, on miss query
// the store by natural key, cache the found value before returning it. Zero
// or multiple matches are logged (unless quiet) and reported as not found;
// resolution failures never propagate past the calling handler. The caches
// are purely a query volume optimisation - removing them must not change
// write outcomes.

// workflowID resolves a workflow UUID to its surrogate key.
func (l *Loader) workflowID(ctx context.Context, wfUUID string) (int64, bool) {
	if id, ok := l.wfIDs[wfUUID]; ok {
		return id, true
	}

	id, err := l.store.WorkflowID(ctx, wfUUID)
	if err != nil {
		l.logger.Error(ctx, errors.Wrap(err, "resolving wf_id", j.KV("wf_uuid", wfUUID)), nil)
		return 0, false
	}

	l.wfIDs[wfUUID] = id
	return id, true
}

// rootWorkflowID resolves a workflow UUID to the surrogate key of its root
// workflow.
func (l *Loader) rootWorkflowID(ctx context.Context, wfUUID string) (int64, bool) {
	if id, ok := l.rootWfIDs[wfUUID]; ok {
		return id, true
	}

	id, err := l.store.RootWorkflowID(ctx, wfUUID)
	if err != nil {
		l.logger.Error(ctx, errors.Wrap(err, "resolving root_wf_id", j.KV("wf_uuid", wfUUID)), nil)
		return 0, false
	}

	l.rootWfIDs[wfUUID] = id
	return id, true
}

// jobID resolves (workflow id, exec_job_id) to a job surrogate key.
func (l *Loader) jobID(ctx context.Context, wfID int64, execJobID string) (int64, bool) {
	key := jobKey{wfID: wfID, execJobID: execJobID}
	if id, ok := l.jobIDs[key]; ok {
		return id, true
	}

	id, err := l.store.JobID(ctx, wfID, execJobID)
	if err != nil {
		l.logger.Error(ctx, errors.Wrap(err, "resolving job_id", j.MKV{
			"wf_id":       strconv.FormatInt(wfID, 10),
			"exec_job_id": execJobID,
		}), nil)
		return 0, false
	}

	l.jobIDs[key] = id
	return id, true
}

// jobInstanceID resolves a job instance surrogate key from the workflow
// UUID, job name and submission sequence a record carries. Quiet lookups
// suppress the resolution error log for call sites that expect frequent
// misses, such as first seen job instances.
func (l *Loader) jobInstanceID(ctx context.Context, wfUUID, execJobID string, jobSubmitSeq int, quiet bool) (int64, bool) {
	wfID, ok := l.workflowID(ctx, wfUUID)
	if !ok {
		return 0, false
	}
	jobID, ok := l.jobID(ctx, wfID, execJobID)
	if !ok {
		return 0, false
	}

	key := instanceKey{jobID: jobID, jobSubmitSeq: jobSubmitSeq}
	if id, ok := l.instanceIDs[key]; ok {
		return id, true
	}

	id, err := l.store.JobInstanceID(ctx, jobID, jobSubmitSeq)
	if err != nil {
		if !quiet {
			l.logger.Error(ctx, errors.Wrap(err, "resolving job_instance_id", j.MKV{
				"job_id":         strconv.FormatInt(jobID, 10),
				"job_submit_seq": strconv.Itoa(jobSubmitSeq),
			}), nil)
		}
		return 0, false
	}

	l.instanceIDs[key] = id
	return id, true
}

// invalidate purges every cache entry scoped to the terminated workflow.
// Surrogate keys are workflow scoped and a replay or retry may reuse the
// same UUID, so stale entries would resolve to rows of a dead run.
func (l *Loader) invalidate(ctx context.Context, wfUUID string, wfID int64) {
	l.logger.Debug(ctx, "flushing caches", MKV{"wf_uuid": wfUUID})

	// Collect the workflow's job ids first: the instance and host mapping
	// caches are keyed by job id, not workflow id.
	jobIDs := make(map[int64]bool)
	for k := range l.jobIDs {
		if k.wfID == wfID {
			jobIDs[l.jobIDs[k]] = true
			delete(l.jobIDs, k)
		}
	}
	for k := range l.instanceIDs {
		if jobIDs[k.jobID] {
			delete(l.instanceIDs, k)
		}
	}
	for k := range l.hostsMapped {
		if jobIDs[k.jobID] {
			delete(l.hostsMapped, k)
		}
	}

	// A terminating root workflow invalidates its host deduplication
	// entries too.
	if rootID, ok := l.rootWfIDs[wfUUID]; ok && rootID == wfID {
		for k := range l.hostsWritten {
			if k.WfID == rootID {
				delete(l.hostsWritten, k)
			}
		}
	}

	delete(l.wfIDs, wfUUID)
	delete(l.rootWfIDs, wfUUID)
	delete(l.taskMapFlushed, wfUUID)
	delete(l.taskEdgeFlushed, wfUUID)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
