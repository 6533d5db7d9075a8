package loader

import "strings"

// Record is one line of workflow execution telemetry, already parsed into
// field name to value pairs by the upstream feeder. All values arrive as
// strings; numeric coercion happens while mapping the record onto a typed
// entity. Every record carries an "event" field with a dot segmented tag
// identifying the event kind.
type Record map[string]string

const (
	// FieldEvent is the record field holding the event tag.
	FieldEvent = "event"
	// FieldLevel is log transport noise and never mapped onto entities.
	FieldLevel = "level"
)

// Event returns the record's event tag, or an empty string if absent.
func (r Record) Event() string {
	return r[FieldEvent]
}

// jobInstancePrefix namespaces the job instance lifecycle events. Unknown
// tags under this prefix are treated as generic job state transitions.
const jobInstancePrefix = "stampede.job_inst."

// EventKind enumerates every event tag the loader handles. Dispatch is a
// closed switch over this enum rather than a mutable handler table so that
// unknown kinds are an explicit default branch.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventWorkflowPlan
	EventTaskMap
	EventStaticStart
	EventStaticEnd
	EventWorkflowStart
	EventWorkflowEnd
	EventSubworkflowMap
	EventTaskInfo
	EventTaskEdge
	EventJobInfo
	EventJobEdge
	EventPreScriptStart
	EventPreScriptTerm
	EventPreScriptEnd
	EventSubmitStart
	EventSubmitEnd
	EventHeldStart
	EventHeldEnd
	EventMainStart
	EventMainTerm
	EventMainEnd
	EventPostScriptStart
	EventPostScriptTerm
	EventPostScriptEnd
	EventHostInfo
	EventImageInfo
	EventAbortInfo
	EventGridSubmitStart
	EventGridSubmitEnd
	EventGlobusSubmitStart
	EventGlobusSubmitEnd
	EventInvocationStart
	EventInvocationEnd
	EventJobMonitoring
)

var eventKinds = map[string]EventKind{
	"stampede.wf.plan":                    EventWorkflowPlan,
	"stampede.wf.map.task_job":            EventTaskMap,
	"stampede.static.start":               EventStaticStart,
	"stampede.static.end":                 EventStaticEnd,
	"stampede.xwf.start":                  EventWorkflowStart,
	"stampede.xwf.end":                    EventWorkflowEnd,
	"stampede.xwf.map.subwf_job":          EventSubworkflowMap,
	"stampede.task.info":                  EventTaskInfo,
	"stampede.task.edge":                  EventTaskEdge,
	"stampede.job.info":                   EventJobInfo,
	"stampede.job.edge":                   EventJobEdge,
	"stampede.job_inst.pre.start":         EventPreScriptStart,
	"stampede.job_inst.pre.term":          EventPreScriptTerm,
	"stampede.job_inst.pre.end":           EventPreScriptEnd,
	"stampede.job_inst.submit.start":      EventSubmitStart,
	"stampede.job_inst.submit.end":        EventSubmitEnd,
	"stampede.job_inst.held.start":        EventHeldStart,
	"stampede.job_inst.held.end":          EventHeldEnd,
	"stampede.job_inst.main.start":        EventMainStart,
	"stampede.job_inst.main.term":         EventMainTerm,
	"stampede.job_inst.main.end":          EventMainEnd,
	"stampede.job_inst.post.start":        EventPostScriptStart,
	"stampede.job_inst.post.term":         EventPostScriptTerm,
	"stampede.job_inst.post.end":          EventPostScriptEnd,
	"stampede.job_inst.host.info":         EventHostInfo,
	"stampede.job_inst.image.info":        EventImageInfo,
	"stampede.job_inst.abort.info":        EventAbortInfo,
	"stampede.job_inst.grid.submit.start": EventGridSubmitStart,
	"stampede.job_inst.grid.submit.end":   EventGridSubmitEnd,
	"stampede.job_inst.globus.submit.start": EventGlobusSubmitStart,
	"stampede.job_inst.globus.submit.end":   EventGlobusSubmitEnd,
	"stampede.inv.start":                  EventInvocationStart,
	"stampede.inv.end":                    EventInvocationEnd,
	"stampede.job.monitoring":             EventJobMonitoring,
}

var eventTags = func() map[EventKind]string {
	m := make(map[EventKind]string, len(eventKinds))
	for tag, k := range eventKinds {
		m[k] = tag
	}
	return m
}()

// KindOf maps an event tag to its kind, returning EventUnknown for tags the
// loader has no handler for.
func KindOf(tag string) EventKind {
	return eventKinds[tag]
}

func (k EventKind) String() string {
	tag, ok := eventTags[k]
	if !ok {
		return "unknown"
	}
	return tag
}

// isJobInstanceTag reports whether an unrecognised tag still belongs to the
// job instance namespace and should fall back to the job state handler.
func isJobInstanceTag(tag string) bool {
	return strings.HasPrefix(tag, jobInstancePrefix)
}
