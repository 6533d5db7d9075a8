package loader_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/flowtrace/loader"
	"github.com/flowtrace/loader/memstore"
)

const ts = "1596254400.0"

func process(t *testing.T, l *loader.Loader, rs ...loader.Record) {
	t.Helper()
	for _, r := range rs {
		jtest.RequireNil(t, l.Process(context.Background(), r))
	}
}

func planEvent(wfUUID, rootUUID, parentUUID string) loader.Record {
	r := loader.Record{
		"event":       "stampede.wf.plan",
		"xwf.id":      wfUUID,
		"root.xwf.id": rootUUID,
		"ts":          ts,
		"dax.label":   "diamond",
		"user":        "vahi",
	}
	if parentUUID != "" {
		r["parent.xwf.id"] = parentUUID
	}
	return r
}

func jobEvent(wfUUID, execJobID string) loader.Record {
	return loader.Record{
		"event":       "stampede.job.info",
		"xwf.id":      wfUUID,
		"job.id":      execJobID,
		"submit_file": execJobID + ".sub",
		"type_desc":   "compute",
		"clustered":   "0",
		"max_retries": "3",
		"executable":  "/bin/analyze",
		"task_count":  "1",
		"ts":          ts,
	}
}

func taskEvent(wfUUID, absTaskID string) loader.Record {
	return loader.Record{
		"event":          "stampede.task.info",
		"xwf.id":         wfUUID,
		"task.id":        absTaskID,
		"transformation": "analyze",
		"type_desc":      "compute",
		"ts":             ts,
	}
}

func submitStartEvent(wfUUID, execJobID, seq string) loader.Record {
	return loader.Record{
		"event":       "stampede.job_inst.submit.start",
		"xwf.id":      wfUUID,
		"job.id":      execJobID,
		"job_inst.id": seq,
		"sched.id":    "42.0",
		"site":        "condorpool",
		"ts":          ts,
	}
}

func mainStartEvent(wfUUID, execJobID, seq string) loader.Record {
	return loader.Record{
		"event":       "stampede.job_inst.main.start",
		"xwf.id":      wfUUID,
		"job.id":      execJobID,
		"job_inst.id": seq,
		"js.id":       "3",
		"ts":          ts,
	}
}

func mainEndEvent(wfUUID, execJobID, seq, status string) loader.Record {
	return loader.Record{
		"event":       "stampede.job_inst.main.end",
		"xwf.id":      wfUUID,
		"job.id":      execJobID,
		"job_inst.id": seq,
		"js.id":       "5",
		"status":      status,
		"exitcode":    "0",
		"local.dur":   "12.5",
		"site":        "condorpool",
		"ts":          ts,
	}
}

func hostEvent(wfUUID, execJobID, seq string) loader.Record {
	return loader.Record{
		"event":        "stampede.job_inst.host.info",
		"xwf.id":       wfUUID,
		"job.id":       execJobID,
		"job_inst.id":  seq,
		"site":         "condorpool",
		"hostname":     "node1",
		"ip":           "10.0.0.1",
		"uname":        "linux",
		"total_memory": "8192",
		"ts":           ts,
	}
}

func wfStartEvent(wfUUID string) loader.Record {
	return loader.Record{
		"event":         "stampede.xwf.start",
		"xwf.id":        wfUUID,
		"restart_count": "0",
		"ts":            ts,
	}
}

func wfEndEvent(wfUUID string) loader.Record {
	return loader.Record{
		"event":         "stampede.xwf.end",
		"xwf.id":        wfUUID,
		"restart_count": "0",
		"status":        "0",
		"ts":            ts,
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	s := memstore.New()
	l := loader.New(s)
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		wfStartEvent(wf),
		taskEvent(wf, "ID0000001"),
		jobEvent(wf, "analyze_ID0000001"),
		loader.Record{
			"event":   "stampede.wf.map.task_job",
			"xwf.id":  wf,
			"task.id": "ID0000001",
			"job.id":  "analyze_ID0000001",
		},
		submitStartEvent(wf, "analyze_ID0000001", "1"),
		mainStartEvent(wf, "analyze_ID0000001", "1"),
		hostEvent(wf, "analyze_ID0000001", "1"),
		mainEndEvent(wf, "analyze_ID0000001", "1", "1"),
		loader.Record{
			"event":           "stampede.inv.end",
			"xwf.id":          wf,
			"job.id":          "analyze_ID0000001",
			"job_inst.id":     "1",
			"inv.id":          "1",
			"task.id":         "ID0000001",
			"dur":             "8.5",
			"remote_cpu_time": "7.9",
			"exitcode":        "0",
			"transformation":  "analyze",
			"executable":      "/bin/analyze",
			"ts":              ts,
		},
		wfEndEvent(wf),
	)

	wfs := s.Workflows()
	require.Len(t, wfs, 1)
	require.Equal(t, wf, wfs[0].WfUUID)
	// A root workflow points its root reference at itself.
	require.Equal(t, wfs[0].ID, wfs[0].RootWfID)
	require.Zero(t, wfs[0].ParentWfID)

	states := s.WorkflowStates()
	require.Len(t, states, 2)
	require.Equal(t, "WORKFLOW_STARTED", states[0].State)
	require.Equal(t, "WORKFLOW_TERMINATED", states[1].State)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, "analyze_ID0000001", jobs[0].ExecJobID)
	require.Equal(t, wfs[0].ID, jobs[0].WfID)

	tasks := s.Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, jobs[0].ID, tasks[0].JobID)

	hosts := s.Hosts()
	require.Len(t, hosts, 1)
	require.Equal(t, "node1", hosts[0].Hostname)

	instances := s.JobInstances()
	require.Len(t, instances, 1)
	require.Equal(t, jobs[0].ID, instances[0].JobID)
	require.Equal(t, hosts[0].ID, instances[0].HostID)
	require.Equal(t, 12.5, instances[0].LocalDuration)

	var labels []string
	for _, js := range s.JobStates() {
		require.Equal(t, instances[0].ID, js.JobInstanceID)
		labels = append(labels, js.State)
	}
	require.Equal(t, []string{"EXECUTE", "JOB_SUCCESS"}, labels)

	invs := s.Invocations()
	require.Len(t, invs, 1)
	require.Equal(t, instances[0].ID, invs[0].JobInstanceID)
	require.Equal(t, 8.5, invs[0].RemoteDuration)
}

func TestSubWorkflowReferences(t *testing.T) {
	s := memstore.New()
	l := loader.New(s)
	root := uuid.NewString()
	sub := uuid.NewString()

	process(t, l,
		planEvent(root, root, ""),
		planEvent(sub, root, root),
	)

	wfs := s.Workflows()
	require.Len(t, wfs, 2)
	rootWf, subWf := wfs[0], wfs[1]
	require.Equal(t, rootWf.ID, subWf.RootWfID)
	require.Equal(t, rootWf.ID, subWf.ParentWfID)
}

func TestSubworkflowMap(t *testing.T) {
	s := memstore.New()
	l := loader.New(s)
	root := uuid.NewString()
	sub := uuid.NewString()

	process(t, l,
		planEvent(root, root, ""),
		jobEvent(root, "subdax_analysis"),
		submitStartEvent(root, "subdax_analysis", "1"),
		planEvent(sub, root, root),
		loader.Record{
			"event":       "stampede.xwf.map.subwf_job",
			"xwf.id":      root,
			"subwf.id":    sub,
			"job.id":      "subdax_analysis",
			"job_inst.id": "1",
		},
	)

	subID := s.Workflows()[1].ID
	instances := s.JobInstances()
	require.Len(t, instances, 1)
	require.Equal(t, subID, instances[0].SubwfID)
}

func TestResolveBeforeWriteDrops(t *testing.T) {
	s := memstore.New()
	l := loader.New(s)
	wf := uuid.NewString()

	// No workflow row exists, so dependents must be dropped, not written.
	process(t, l,
		jobEvent(wf, "analyze_ID0000001"),
		taskEvent(wf, "ID0000001"),
		submitStartEvent(wf, "analyze_ID0000001", "1"),
		wfStartEvent(wf),
	)

	require.Empty(t, s.Jobs())
	require.Empty(t, s.Tasks())
	require.Empty(t, s.JobInstances())
	require.Empty(t, s.WorkflowStates())
}

func TestUnknownEventDropped(t *testing.T) {
	s := memstore.New()
	l := loader.New(s)

	process(t, l, loader.Record{"event": "stampede.no.such.event"})

	require.Empty(t, s.Workflows())
	require.Zero(t, s.Lookups())
}

func TestJobInstanceNamespaceFallback(t *testing.T) {
	s := memstore.New()
	l := loader.New(s)
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		jobEvent(wf, "analyze_ID0000001"),
		submitStartEvent(wf, "analyze_ID0000001", "1"),
		loader.Record{
			"event":       "stampede.job_inst.requeue.info",
			"xwf.id":      wf,
			"job.id":      "analyze_ID0000001",
			"job_inst.id": "1",
			"js.id":       "9",
			"ts":          ts,
		},
	)

	states := s.JobStates()
	require.Len(t, states, 1)
	require.Equal(t, "REQUEUE", states[0].State)
}

func TestHostDedupImmediate(t *testing.T) {
	s := memstore.New()
	l := loader.New(s)
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		jobEvent(wf, "analyze_ID0000001"),
		jobEvent(wf, "analyze_ID0000002"),
		submitStartEvent(wf, "analyze_ID0000001", "1"),
		submitStartEvent(wf, "analyze_ID0000002", "1"),
		hostEvent(wf, "analyze_ID0000001", "1"),
		hostEvent(wf, "analyze_ID0000002", "1"),
	)

	hosts := s.Hosts()
	require.Len(t, hosts, 1)

	for _, ji := range s.JobInstances() {
		require.Equal(t, hosts[0].ID, ji.HostID)
	}
}

func TestHostDedupBatched(t *testing.T) {
	s := memstore.New()
	l := loader.New(s, loader.WithBatching())
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		jobEvent(wf, "analyze_ID0000001"),
	)
	// The host events reference the job row, force it out of the buffers.
	jtest.RequireNil(t, l.Finish(context.Background()))

	l = loader.New(s, loader.WithBatching())
	process(t, l,
		submitStartEvent(wf, "analyze_ID0000001", "1"),
		hostEvent(wf, "analyze_ID0000001", "1"),
		hostEvent(wf, "analyze_ID0000001", "1"),
	)
	jtest.RequireNil(t, l.Finish(context.Background()))

	hosts := s.Hosts()
	require.Len(t, hosts, 1)

	instances := s.JobInstances()
	require.Len(t, instances, 1)
	require.Equal(t, hosts[0].ID, instances[0].HostID)
}

func TestBatchFlushThreshold(t *testing.T) {
	s := memstore.New()
	clock := clocktesting.NewFakeClock(time.Now())
	l := loader.New(s, loader.WithBatching(), loader.WithFlushThreshold(4), loader.WithClock(clock))
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		taskEvent(wf, "ID0000001"),
		taskEvent(wf, "ID0000002"),
	)
	require.Empty(t, s.Tasks())

	// The fourth record since the last flush crosses the threshold.
	process(t, l, taskEvent(wf, "ID0000003"))
	require.Len(t, s.Tasks(), 3)
}

func TestBatchFlushInterval(t *testing.T) {
	s := memstore.New()
	clock := clocktesting.NewFakeClock(time.Now())
	l := loader.New(s, loader.WithBatching(), loader.WithClock(clock))
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		taskEvent(wf, "ID0000001"),
	)
	require.Empty(t, s.Tasks())

	clock.Step(31 * time.Second)
	process(t, l, taskEvent(wf, "ID0000002"))
	require.Len(t, s.Tasks(), 2)
}

func TestFinishFlushes(t *testing.T) {
	s := memstore.New()
	l := loader.New(s, loader.WithBatching())
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		taskEvent(wf, "ID0000001"),
	)
	require.Empty(t, s.Tasks())

	jtest.RequireNil(t, l.Finish(context.Background()))
	require.Len(t, s.Tasks(), 1)
}

func TestBatchConflictIsolation(t *testing.T) {
	s := memstore.New()
	l := loader.New(s, loader.WithBatching())
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		taskEvent(wf, "ID0000001"),
		taskEvent(wf, "ID0000001"),
		taskEvent(wf, "ID0000002"),
	)
	jtest.RequireNil(t, l.Finish(context.Background()))

	// The duplicate row is dropped, its batch mates survive.
	tasks := s.Tasks()
	require.Len(t, tasks, 2)
	require.Equal(t, "ID0000001", tasks[0].AbsTaskID)
	require.Equal(t, "ID0000002", tasks[1].AbsTaskID)
}

func TestTaskMapForcesFlush(t *testing.T) {
	s := memstore.New()
	l := loader.New(s, loader.WithBatching())
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		jobEvent(wf, "analyze_ID0000001"),
		taskEvent(wf, "ID0000001"),
	)
	require.Empty(t, s.Tasks())

	process(t, l, loader.Record{
		"event":   "stampede.wf.map.task_job",
		"xwf.id":  wf,
		"task.id": "ID0000001",
		"job.id":  "analyze_ID0000001",
	})

	tasks := s.Tasks()
	require.Len(t, tasks, 1)
	require.Equal(t, s.Jobs()[0].ID, tasks[0].JobID)
}

func TestSyncConflictsDropped(t *testing.T) {
	s := memstore.New()
	l := loader.New(s)
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		jobEvent(wf, "analyze_ID0000001"),
		jobEvent(wf, "analyze_ID0000001"),
	)

	require.Len(t, s.Jobs(), 1)
}

func TestConnectionRetryBounded(t *testing.T) {
	s := memstore.New()
	clock := clocktesting.NewFakeClock(time.Now())
	l := loader.New(s, loader.WithClock(clock))
	wf := uuid.NewString()

	// One initial failure plus two failed retries, then recovery.
	s.SetPingErrs(io.ErrClosedPipe, io.ErrClosedPipe, io.ErrClosedPipe)
	process(t, l, planEvent(wf, wf, ""))
	require.Len(t, s.Workflows(), 1)

	// The initial check and all bounded retries fail: fatal.
	s.SetPingErrs(io.ErrClosedPipe, io.ErrClosedPipe, io.ErrClosedPipe, io.ErrClosedPipe)
	err := l.Process(context.Background(), wfStartEvent(wf))
	jtest.Require(t, loader.ErrConnLost, err)
}

// updateConnDropStore loses the connection on the first Update so the record
// gets replayed from the top against already committed rows.
type updateConnDropStore struct {
	*memstore.Store
	dropped bool
}

func (s *updateConnDropStore) Update(ctx context.Context, e loader.Entity) error {
	if !s.dropped {
		s.dropped = true
		return errors.Wrap(loader.ErrConnLost, "")
	}
	return s.Store.Update(ctx, e)
}

func TestReconnectReplayConflictDropped(t *testing.T) {
	s := &updateConnDropStore{Store: memstore.New()}
	l := loader.New(s)
	wf := uuid.NewString()

	// The root self reference update fails after the workflow insert already
	// committed. The replay's insert then conflicts on wf_uuid; the record is
	// dropped and the stream continues.
	process(t, l,
		planEvent(wf, wf, ""),
		wfStartEvent(wf),
	)

	require.Len(t, s.Workflows(), 1)
	require.Len(t, s.WorkflowStates(), 1)
}

func TestFlushRetriesOnLostConnection(t *testing.T) {
	s := memstore.New()
	clock := clocktesting.NewFakeClock(time.Now())
	l := loader.New(s, loader.WithBatching(), loader.WithClock(clock))
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		taskEvent(wf, "ID0000001"),
	)

	s.SetFlushErrs(loader.ErrConnLost)
	jtest.RequireNil(t, l.Finish(context.Background()))
	require.Len(t, s.Tasks(), 1)
}

func TestFlushRetriesExhausted(t *testing.T) {
	s := memstore.New()
	clock := clocktesting.NewFakeClock(time.Now())
	l := loader.New(s, loader.WithBatching(), loader.WithClock(clock))
	wf := uuid.NewString()

	process(t, l,
		planEvent(wf, wf, ""),
		taskEvent(wf, "ID0000001"),
	)

	// Every bounded attempt fails: the outage surfaces as an error and the
	// buffers are kept for a later flush.
	s.SetFlushErrs(loader.ErrConnLost, loader.ErrConnLost, loader.ErrConnLost)
	err := l.Finish(context.Background())
	jtest.Require(t, loader.ErrConnLost, err)
	require.Empty(t, s.Tasks())

	jtest.RequireNil(t, l.Finish(context.Background()))
	require.Len(t, s.Tasks(), 1)
}

func TestCacheInvalidationScoped(t *testing.T) {
	s := memstore.New()
	l := loader.New(s)
	wf1 := uuid.NewString()
	wf2 := uuid.NewString()

	process(t, l,
		planEvent(wf1, wf1, ""),
		jobEvent(wf1, "analyze_ID0000001"),
		submitStartEvent(wf1, "analyze_ID0000001", "1"),
		planEvent(wf2, wf2, ""),
		jobEvent(wf2, "analyze_ID0000001"),
		submitStartEvent(wf2, "analyze_ID0000001", "1"),
	)

	// All keys are cached now: another state event resolves without queries.
	before := s.Lookups()
	process(t, l, mainStartEvent(wf1, "analyze_ID0000001", "1"))
	require.Equal(t, before, s.Lookups())

	// Terminating wf1 purges its cache entries but leaves wf2's alone.
	process(t, l, wfEndEvent(wf1))

	before = s.Lookups()
	process(t, l, mainStartEvent(wf2, "analyze_ID0000001", "1"))
	require.Equal(t, before, s.Lookups())

	process(t, l, mainStartEvent(wf1, "analyze_ID0000001", "1"))
	require.Greater(t, s.Lookups(), before)
}

func TestJobMetricsUpsert(t *testing.T) {
	s := memstore.New()
	l := loader.New(s)
	wf := uuid.NewString()

	monitoring := func(stime string) loader.Record {
		return loader.Record{
			"event":      "stampede.job.monitoring",
			"xwf.id":     wf,
			"dag_job_id": "analyze_ID0000001",
			"sched.id":   "42.0",
			"hostname":   "node1",
			"stime":      stime,
			"utime":      "0.5",
			"ts":         ts,
		}
	}

	process(t, l,
		planEvent(wf, wf, ""),
		jobEvent(wf, "analyze_ID0000001"),
		submitStartEvent(wf, "analyze_ID0000001", "1"),
		monitoring("1.5"),
		monitoring("2.5"),
	)

	rows := s.Metrics()
	require.Len(t, rows, 1)
	require.Equal(t, 2.5, rows[0].Stime)
	require.Equal(t, s.JobInstances()[0].ID, rows[0].JobInstanceID)
}

func TestDeleteWorkflow(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	l := loader.New(s)
	root := uuid.NewString()
	sub := uuid.NewString()

	process(t, l,
		planEvent(root, root, ""),
		jobEvent(root, "subdax_analysis"),
		submitStartEvent(root, "subdax_analysis", "1"),
		planEvent(sub, root, root),
		jobEvent(sub, "analyze_ID0000001"),
		submitStartEvent(sub, "analyze_ID0000001", "1"),
		mainEndEvent(sub, "analyze_ID0000001", "1", "1"),
	)

	err := loader.DeleteWorkflow(ctx, s, root)
	jtest.RequireNil(t, err)

	require.Empty(t, s.Workflows())
	require.Empty(t, s.Jobs())
	require.Empty(t, s.JobInstances())
	require.Empty(t, s.JobStates())

	err = loader.DeleteWorkflow(ctx, s, root)
	jtest.Require(t, loader.ErrNotFound, err)
}
