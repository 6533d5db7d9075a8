package loader

import (
	"context"
	"strings"
)

// jobStateLabels maps an event kind to its failure and success labels.
// Events that carry a status select index 0 for failure and index 1 for
// success; statusless events carry the same label in both slots.
var jobStateLabels = map[EventKind][2]string{
	EventPreScriptStart:  {"PRE_SCRIPT_STARTED", "PRE_SCRIPT_STARTED"},
	EventPreScriptTerm:   {"PRE_SCRIPT_TERMINATED", "PRE_SCRIPT_TERMINATED"},
	EventPreScriptEnd:    {"PRE_SCRIPT_FAILED", "PRE_SCRIPT_SUCCESS"},
	EventSubmitEnd:       {"SUBMIT_FAILED", "SUBMIT"},
	EventMainStart:       {"EXECUTE", "EXECUTE"},
	EventMainTerm:        {"JOB_EVICTED", "JOB_TERMINATED"},
	EventMainEnd:         {"JOB_FAILURE", "JOB_SUCCESS"},
	EventPostScriptStart: {"POST_SCRIPT_STARTED", "POST_SCRIPT_STARTED"},
	EventPostScriptTerm:  {"POST_SCRIPT_TERMINATED", "POST_SCRIPT_TERMINATED"},
	EventPostScriptEnd:   {"POST_SCRIPT_FAILED", "POST_SCRIPT_SUCCESS"},
	EventHeldStart:       {"JOB_HELD", "JOB_HELD"},
	EventHeldEnd:         {"JOB_RELEASED", "JOB_RELEASED"},
	EventImageInfo:       {"IMAGE_SIZE", "IMAGE_SIZE"},
	EventAbortInfo:       {"JOB_ABORTED", "JOB_ABORTED"},
	EventGridSubmitEnd:   {"GRID_SUBMIT_FAILED", "GRID_SUBMIT"},
	EventGlobusSubmitEnd: {"GLOBUS_SUBMIT_FAILED", "GLOBUS_SUBMIT"},
}

// jobStateLabel selects the state label for an event. Tags outside the table
// derive their label from the third dot segment of the tag, upper cased.
func jobStateLabel(tag string, status int, hasStatus bool) string {
	labels, ok := jobStateLabels[KindOf(tag)]
	if !ok {
		parts := strings.Split(tag, ".")
		if len(parts) < 3 {
			return strings.ToUpper(tag)
		}
		return strings.ToUpper(parts[2])
	}

	if hasStatus && status <= 0 {
		return labels[0]
	}
	if hasStatus {
		return labels[1]
	}
	return labels[0]
}

// handleJobState appends a state transition row for a job instance.
func (l *Loader) handleJobState(ctx context.Context, r Record) error {
	js := new(JobState)
	l.mapRecord(ctx, r, js)

	js.State = jobStateLabel(js.Event, js.Status, js.HasStatus)

	id, ok := l.jobInstanceID(ctx, js.WfUUID, js.ExecJobID, js.JobSubmitSeq, false)
	if !ok {
		return nil
	}
	js.JobInstanceID = id

	if l.batch {
		l.stageInsert(js)
		return nil
	}
	_, err := l.store.Insert(ctx, js)
	return err
}
