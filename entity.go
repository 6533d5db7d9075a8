package loader

import (
	"strconv"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Entity is one typed row bound for the store. Dependent entities carry the
// surrogate key of their parent, never the natural key, and no entity is
// written before those surrogate keys have been resolved.
//
// The set of entities is closed: setField is unexported so every mapping from
// record fields to columns lives in this file and is checked at compile time.
type Entity interface {
	// Table returns the logical table the entity is persisted to.
	Table() string

	// setField assigns a single canonical record attribute to the entity,
	// coercing string values to the column's type. Unknown attributes and
	// failed coercions return an error; the mapper logs and drops the field
	// without aborting the record.
	setField(name, value string) error
}

// Workflow is the root entity. Root workflows self reference via RootWfID
// after their first insert assigns a surrogate key. RootWfID and ParentWfID
// of zero mean unset (persisted as null).
type Workflow struct {
	ID             int64
	WfUUID         string
	DAXLabel       string
	DAXVersion     string
	DAXFile        string
	DAGFileName    string
	Timestamp      float64
	SubmitHostname string
	SubmitDir      string
	// PlannerArguments holds the sanitized argv of the planner invocation.
	PlannerArguments string
	User             string
	GridDN           string
	PlannerVersion   string
	RootXwfUUID      string
	ParentWfUUID     string
	RootWfID         int64
	ParentWfID       int64
	Event            string
}

func (w *Workflow) Table() string { return "workflow" }

func (w *Workflow) setField(name, value string) error {
	switch name {
	case "event":
		w.Event = value
	case "wf_uuid":
		w.WfUUID = value
	case "dax_label":
		w.DAXLabel = value
	case "dax_version":
		w.DAXVersion = value
	case "dax_file":
		w.DAXFile = value
	case "dag_file_name":
		w.DAGFileName = value
	case "ts":
		return setFloat(&w.Timestamp, name, value)
	case "submit_hostname":
		w.SubmitHostname = value
	case "submit_dir":
		w.SubmitDir = value
	case "argv":
		w.PlannerArguments = value
	case "user":
		w.User = value
	case "grid_dn":
		w.GridDN = value
	case "planner_version":
		w.PlannerVersion = value
	case "root_xwf_id":
		w.RootXwfUUID = value
	case "parent_wf_uuid":
		w.ParentWfUUID = value
	default:
		return errUnknownField(w, name, value)
	}
	return nil
}

// WorkflowState is the append only log of workflow level state transitions,
// emitted on the execution start and end events.
type WorkflowState struct {
	WfID         int64
	WfUUID       string
	State        string
	Timestamp    float64
	RestartCount int
	Status       int
	Event        string
}

func (ws *WorkflowState) Table() string { return "workflow_state" }

func (ws *WorkflowState) setField(name, value string) error {
	switch name {
	case "event":
		ws.Event = value
	case "wf_uuid":
		ws.WfUUID = value
	case "ts":
		return setFloat(&ws.Timestamp, name, value)
	case "restart_count":
		return setInt(&ws.RestartCount, name, value)
	case "status":
		return setInt(&ws.Status, name, value)
	default:
		return errUnknownField(ws, name, value)
	}
	return nil
}

// Job is a static DAG node, keyed by (workflow, exec_job_id).
type Job struct {
	ID         int64
	WfID       int64
	WfUUID     string
	ExecJobID  string
	SubmitFile string
	TypeDesc   string
	Clustered  bool
	MaxRetries int
	Executable string
	Argv       string
	TaskCount  int
	Timestamp  float64
	Event      string
}

func (jb *Job) Table() string { return "job" }

func (jb *Job) setField(name, value string) error {
	switch name {
	case "event":
		jb.Event = value
	case "wf_uuid":
		jb.WfUUID = value
	case "exec_job_id":
		jb.ExecJobID = value
	case "submit_file":
		jb.SubmitFile = value
	case "type_desc":
		jb.TypeDesc = value
	case "clustered":
		return setBool(&jb.Clustered, name, value)
	case "max_retries":
		return setInt(&jb.MaxRetries, name, value)
	case "executable":
		jb.Executable = value
	case "argv":
		jb.Argv = value
	case "task_count":
		return setInt(&jb.TaskCount, name, value)
	case "ts":
		return setFloat(&jb.Timestamp, name, value)
	default:
		return errUnknownField(jb, name, value)
	}
	return nil
}

// JobEdge is a static DAG dependency edge between two jobs of one workflow.
type JobEdge struct {
	WfID            int64
	WfUUID          string
	ParentExecJobID string
	ChildExecJobID  string
	Timestamp       float64
	Event           string
}

func (je *JobEdge) Table() string { return "job_edge" }

func (je *JobEdge) setField(name, value string) error {
	switch name {
	case "event":
		je.Event = value
	case "wf_uuid":
		je.WfUUID = value
	case "parent_exec_job_id":
		je.ParentExecJobID = value
	case "child_exec_job_id":
		je.ChildExecJobID = value
	case "ts":
		return setFloat(&je.Timestamp, name, value)
	default:
		return errUnknownField(je, name, value)
	}
	return nil
}

// Task is an abstract workflow task. The task to job mapping arrives in a
// later event and is applied as a targeted update.
type Task struct {
	ID             int64
	WfID           int64
	JobID          int64
	WfUUID         string
	AbsTaskID      string
	Transformation string
	Argv           string
	TypeDesc       string
	Timestamp      float64
	Event          string
}

func (t *Task) Table() string { return "task" }

func (t *Task) setField(name, value string) error {
	switch name {
	case "event":
		t.Event = value
	case "wf_uuid":
		t.WfUUID = value
	case "abs_task_id":
		t.AbsTaskID = value
	case "transformation":
		t.Transformation = value
	case "argv":
		t.Argv = value
	case "type_desc":
		t.TypeDesc = value
	case "ts":
		return setFloat(&t.Timestamp, name, value)
	default:
		return errUnknownField(t, name, value)
	}
	return nil
}

// TaskEdge is an abstract DAG dependency edge between two tasks.
type TaskEdge struct {
	WfID            int64
	WfUUID          string
	ParentAbsTaskID string
	ChildAbsTaskID  string
	Timestamp       float64
	Event           string
}

func (te *TaskEdge) Table() string { return "task_edge" }

func (te *TaskEdge) setField(name, value string) error {
	switch name {
	case "event":
		te.Event = value
	case "wf_uuid":
		te.WfUUID = value
	case "parent_abs_task_id":
		te.ParentAbsTaskID = value
	case "child_abs_task_id":
		te.ChildAbsTaskID = value
	case "ts":
		return setFloat(&te.Timestamp, name, value)
	default:
		return errUnknownField(te, name, value)
	}
	return nil
}

// JobInstance is one concrete execution attempt of a Job, keyed by
// (job, job_submit_seq). It is created on the submit or prescript start
// event and mutated in place by the main and postscript end events.
type JobInstance struct {
	ID               int64
	JobID            int64
	HostID           int64
	SubwfID          int64
	WfUUID           string
	ExecJobID        string
	JobSubmitSeq     int
	SchedID          string
	Site             string
	User             string
	WorkDir          string
	ClusterStart     float64
	ClusterDuration  float64
	LocalDuration    float64
	StdoutFile       string
	StdoutText       string
	StderrFile       string
	StderrText       string
	StdinFile        string
	MultiplierFactor int
	Exitcode         int
	Status           int
	Timestamp        float64
	Event            string
}

func (ji *JobInstance) Table() string { return "job_instance" }

func (ji *JobInstance) setField(name, value string) error {
	switch name {
	case "event":
		ji.Event = value
	case "wf_uuid":
		ji.WfUUID = value
	case "exec_job_id":
		ji.ExecJobID = value
	case "job_submit_seq":
		return setInt(&ji.JobSubmitSeq, name, value)
	case "sched_id":
		ji.SchedID = value
	case "site":
		ji.Site = value
	case "user":
		ji.User = value
	case "work_dir":
		ji.WorkDir = value
	case "cluster_start":
		return setFloat(&ji.ClusterStart, name, value)
	case "cluster_duration":
		return setFloat(&ji.ClusterDuration, name, value)
	case "local_duration":
		return setFloat(&ji.LocalDuration, name, value)
	case "stdout_file":
		ji.StdoutFile = value
	case "stdout_text":
		ji.StdoutText = value
	case "stderr_file":
		ji.StderrFile = value
	case "stderr_text":
		ji.StderrText = value
	case "stdin_file":
		ji.StdinFile = value
	case "multiplier_factor":
		return setInt(&ji.MultiplierFactor, name, value)
	case "exitcode":
		return setInt(&ji.Exitcode, name, value)
	case "status":
		return setInt(&ji.Status, name, value)
	case "ts":
		return setFloat(&ji.Timestamp, name, value)
	default:
		return errUnknownField(ji, name, value)
	}
	return nil
}

// JobState is the append only state transition log of a job instance.
type JobState struct {
	JobInstanceID     int64
	WfUUID            string
	ExecJobID         string
	JobSubmitSeq      int
	JobstateSubmitSeq int64
	State             string
	Timestamp         float64
	Status            int
	// HasStatus distinguishes a genuine zero status from a statusless event
	// when selecting the state label.
	HasStatus bool
	Event     string
}

func (js *JobState) Table() string { return "job_state" }

func (js *JobState) setField(name, value string) error {
	switch name {
	case "event":
		js.Event = value
	case "wf_uuid":
		js.WfUUID = value
	case "exec_job_id":
		js.ExecJobID = value
	case "job_submit_seq":
		return setInt(&js.JobSubmitSeq, name, value)
	case "jobstate_submit_seq":
		return setInt64(&js.JobstateSubmitSeq, name, value)
	case "status":
		err := setInt(&js.Status, name, value)
		if err != nil {
			return err
		}
		js.HasStatus = true
	case "ts":
		return setFloat(&js.Timestamp, name, value)
	default:
		return errUnknownField(js, name, value)
	}
	return nil
}

// Host identifies a compute host, deduplicated per workflow root. The event
// also carries the job instance identity so the same record can drive the
// host to job instance mapping update.
type Host struct {
	ID           int64
	WfID         int64
	WfUUID       string
	Site         string
	Hostname     string
	IP           string
	Uname        string
	TotalMemory  int64
	ExecJobID    string
	JobSubmitSeq int
	Timestamp    float64
	Event        string
}

func (h *Host) Table() string { return "host" }

func (h *Host) setField(name, value string) error {
	switch name {
	case "event":
		h.Event = value
	case "wf_uuid":
		h.WfUUID = value
	case "site":
		h.Site = value
	case "hostname":
		h.Hostname = value
	case "ip":
		h.IP = value
	case "uname":
		h.Uname = value
	case "total_memory":
		return setInt64(&h.TotalMemory, name, value)
	case "exec_job_id":
		h.ExecJobID = value
	case "job_submit_seq":
		return setInt(&h.JobSubmitSeq, name, value)
	case "ts":
		return setFloat(&h.Timestamp, name, value)
	default:
		return errUnknownField(h, name, value)
	}
	return nil
}

// Invocation captures the outcome and durations of a single executable
// invocation within a job instance.
type Invocation struct {
	ID             int64
	WfID           int64
	JobInstanceID  int64
	WfUUID         string
	ExecJobID      string
	JobSubmitSeq   int
	TaskSubmitSeq  int
	AbsTaskID      string
	StartTime      float64
	RemoteDuration float64
	RemoteCPUTime  float64
	Exitcode       int
	Transformation string
	Executable     string
	Argv           string
	Timestamp      float64
	Event          string
}

func (iv *Invocation) Table() string { return "invocation" }

func (iv *Invocation) setField(name, value string) error {
	switch name {
	case "event":
		iv.Event = value
	case "wf_uuid":
		iv.WfUUID = value
	case "exec_job_id":
		iv.ExecJobID = value
	case "job_submit_seq":
		return setInt(&iv.JobSubmitSeq, name, value)
	case "task_submit_seq":
		return setInt(&iv.TaskSubmitSeq, name, value)
	case "abs_task_id":
		iv.AbsTaskID = value
	case "start_time":
		return setFloat(&iv.StartTime, name, value)
	case "remote_duration":
		return setFloat(&iv.RemoteDuration, name, value)
	case "remote_cpu_time":
		return setFloat(&iv.RemoteCPUTime, name, value)
	case "exitcode":
		return setInt(&iv.Exitcode, name, value)
	case "transformation":
		iv.Transformation = value
	case "executable":
		iv.Executable = value
	case "argv":
		iv.Argv = value
	case "ts":
		return setFloat(&iv.Timestamp, name, value)
	default:
		return errUnknownField(iv, name, value)
	}
	return nil
}

// JobMetrics is an online monitoring measurement, upserted per
// (job instance, dag_job_id).
type JobMetrics struct {
	ID               int64
	JobInstanceID    int64
	WfUUID           string
	DagJobID         string
	SchedID          string
	Site             string
	Hostname         string
	ExecName         string
	KickstartPid     int
	Timestamp        float64
	Stime            float64
	Utime            float64
	Iowait           float64
	Vmsize           int64
	Pmsize           int64
	ReadBytes        int64
	WriteBytes       int64
	Syscr            float64
	Syscw            float64
	Threads          int
	BytesTransferred float64
	TransferDuration float64
	Event            string
}

func (jm *JobMetrics) Table() string { return "job_metrics" }

func (jm *JobMetrics) setField(name, value string) error {
	switch name {
	case "event":
		jm.Event = value
	case "wf_uuid":
		jm.WfUUID = value
	case "dag_job_id":
		jm.DagJobID = value
	case "sched_id":
		jm.SchedID = value
	case "site":
		jm.Site = value
	case "hostname":
		jm.Hostname = value
	case "exec_name":
		jm.ExecName = value
	case "kickstart_pid":
		return setInt(&jm.KickstartPid, name, value)
	case "ts":
		return setFloat(&jm.Timestamp, name, value)
	case "stime":
		return setFloat(&jm.Stime, name, value)
	case "utime":
		return setFloat(&jm.Utime, name, value)
	case "iowait":
		return setFloat(&jm.Iowait, name, value)
	case "vmsize":
		return setInt64(&jm.Vmsize, name, value)
	case "pmsize":
		return setInt64(&jm.Pmsize, name, value)
	case "read_bytes":
		return setInt64(&jm.ReadBytes, name, value)
	case "write_bytes":
		return setInt64(&jm.WriteBytes, name, value)
	case "syscr":
		return setFloat(&jm.Syscr, name, value)
	case "syscw":
		return setFloat(&jm.Syscw, name, value)
	case "threads":
		return setInt(&jm.Threads, name, value)
	case "bytes_transferred":
		return setFloat(&jm.BytesTransferred, name, value)
	case "transfer_duration":
		return setFloat(&jm.TransferDuration, name, value)
	default:
		return errUnknownField(jm, name, value)
	}
	return nil
}

func errUnknownField(e Entity, name, value string) error {
	return errors.Wrap(ErrUnmappableField, "", j.MKV{
		"table": e.Table(),
		"field": name,
		"value": value,
	})
}

func setFloat(dst *float64, name, value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return errors.Wrap(ErrUnmappableField, "not a float", j.MKV{
			"field": name,
			"value": value,
		})
	}
	*dst = f
	return nil
}

func setInt(dst *int, name, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return errors.Wrap(ErrUnmappableField, "not an integer", j.MKV{
			"field": name,
			"value": value,
		})
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, name, value string) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return errors.Wrap(ErrUnmappableField, "not an integer", j.MKV{
			"field": name,
			"value": value,
		})
	}
	*dst = n
	return nil
}

func setBool(dst *bool, name, value string) error {
	switch strings.ToLower(value) {
	case "1", "t", "true", "yes", "on":
		*dst = true
	case "0", "f", "false", "no", "off", "":
		*dst = false
	default:
		return errors.Wrap(ErrUnmappableField, "not a boolean", j.MKV{
			"field": name,
			"value": value,
		})
	}
	return nil
}
