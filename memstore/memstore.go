// Package memstore provides an in memory implementation of loader.Store for
// testing. It enforces the same uniqueness tuples as the relational schema
// so conflict handling can be exercised without a database, and counts
// natural key lookups so cache behaviour is observable.
package memstore

import (
	"context"
	"sync"

	"github.com/luno/jettison/errors"

	"github.com/flowtrace/loader"
)

func New() *Store {
	return &Store{}
}

var _ loader.Store = (*Store)(nil)

type Store struct {
	mu  sync.Mutex
	seq int64

	workflows      []loader.Workflow
	workflowStates []loader.WorkflowState
	jobs           []loader.Job
	jobEdges       []loader.JobEdge
	tasks          []loader.Task
	taskEdges      []loader.TaskEdge
	jobInstances   []loader.JobInstance
	jobStates      []loader.JobState
	hosts          []loader.Host
	invocations    []loader.Invocation
	jobMetrics     []loader.JobMetrics

	lookups int

	pingErrs  []error
	flushErrs []error

	closed bool
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// SetPingErrs queues errors to be returned by the next Ping calls, one per
// call, before Ping goes back to succeeding.
func (s *Store) SetPingErrs(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErrs = append(s.pingErrs, errs...)
}

// SetFlushErrs queues errors to be returned by the next Flush calls before
// any rows are applied.
func (s *Store) SetFlushErrs(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushErrs = append(s.flushErrs, errs...)
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pingErrs) > 0 {
		err := s.pingErrs[0]
		s.pingErrs = s.pingErrs[1:]
		return err
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, e loader.Entity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(e)
}

func (s *Store) insertLocked(e loader.Entity) (int64, error) {
	switch v := e.(type) {
	case *loader.Workflow:
		for _, w := range s.workflows {
			if w.WfUUID == v.WfUUID {
				return 0, errors.Wrap(loader.ErrConflict, "duplicate workflow")
			}
		}
		cp := *v
		cp.ID = s.nextID()
		s.workflows = append(s.workflows, cp)
		return cp.ID, nil

	case *loader.WorkflowState:
		cp := *v
		s.workflowStates = append(s.workflowStates, cp)
		return 0, nil

	case *loader.Job:
		for _, jb := range s.jobs {
			if jb.WfID == v.WfID && jb.ExecJobID == v.ExecJobID {
				return 0, errors.Wrap(loader.ErrConflict, "duplicate job")
			}
		}
		cp := *v
		cp.ID = s.nextID()
		s.jobs = append(s.jobs, cp)
		return cp.ID, nil

	case *loader.JobEdge:
		s.jobEdges = append(s.jobEdges, *v)
		return 0, nil

	case *loader.Task:
		for _, t := range s.tasks {
			if t.WfID == v.WfID && t.AbsTaskID == v.AbsTaskID {
				return 0, errors.Wrap(loader.ErrConflict, "duplicate task")
			}
		}
		cp := *v
		cp.ID = s.nextID()
		s.tasks = append(s.tasks, cp)
		return cp.ID, nil

	case *loader.TaskEdge:
		s.taskEdges = append(s.taskEdges, *v)
		return 0, nil

	case *loader.JobInstance:
		for _, ji := range s.jobInstances {
			if ji.JobID == v.JobID && ji.JobSubmitSeq == v.JobSubmitSeq {
				return 0, errors.Wrap(loader.ErrConflict, "duplicate job instance")
			}
		}
		cp := *v
		cp.ID = s.nextID()
		s.jobInstances = append(s.jobInstances, cp)
		return cp.ID, nil

	case *loader.JobState:
		s.jobStates = append(s.jobStates, *v)
		return 0, nil

	case *loader.Host:
		for _, h := range s.hosts {
			if h.WfID == v.WfID && h.Site == v.Site && h.Hostname == v.Hostname && h.IP == v.IP {
				return 0, errors.Wrap(loader.ErrConflict, "duplicate host")
			}
		}
		cp := *v
		cp.ID = s.nextID()
		s.hosts = append(s.hosts, cp)
		return cp.ID, nil

	case *loader.Invocation:
		for _, iv := range s.invocations {
			if iv.JobInstanceID == v.JobInstanceID && iv.TaskSubmitSeq == v.TaskSubmitSeq {
				return 0, errors.Wrap(loader.ErrConflict, "duplicate invocation")
			}
		}
		cp := *v
		cp.ID = s.nextID()
		s.invocations = append(s.invocations, cp)
		return cp.ID, nil

	case *loader.JobMetrics:
		cp := *v
		cp.ID = s.nextID()
		s.jobMetrics = append(s.jobMetrics, cp)
		return cp.ID, nil
	}

	return 0, errors.New("unsupported entity")
}

func (s *Store) Update(ctx context.Context, e loader.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(e)
}

func (s *Store) updateLocked(e loader.Entity) error {
	switch v := e.(type) {
	case *loader.Workflow:
		for i := range s.workflows {
			if s.workflows[i].ID == v.ID {
				s.workflows[i] = *v
				return nil
			}
		}
	case *loader.JobInstance:
		for i := range s.jobInstances {
			if s.jobInstances[i].ID == v.ID {
				// Merge semantics: host and subworkflow references assigned
				// by targeted updates survive a lifecycle merge.
				cp := *v
				if cp.HostID == 0 {
					cp.HostID = s.jobInstances[i].HostID
				}
				if cp.SubwfID == 0 {
					cp.SubwfID = s.jobInstances[i].SubwfID
				}
				s.jobInstances[i] = cp
				return nil
			}
		}
	case *loader.JobMetrics:
		for i := range s.jobMetrics {
			if s.jobMetrics[i].ID == v.ID {
				s.jobMetrics[i] = *v
				return nil
			}
		}
	}
	return errors.Wrap(loader.ErrNotFound, "update target missing")
}

func (s *Store) Flush(ctx context.Context, inserts []loader.Entity, updates []loader.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.flushErrs) > 0 {
		err := s.flushErrs[0]
		s.flushErrs = s.flushErrs[1:]
		return err
	}

	// Clone slice state so the transaction can roll back.
	prev := storeState{
		seq:            s.seq,
		workflows:      append([]loader.Workflow(nil), s.workflows...),
		workflowStates: append([]loader.WorkflowState(nil), s.workflowStates...),
		jobs:           append([]loader.Job(nil), s.jobs...),
		jobEdges:       append([]loader.JobEdge(nil), s.jobEdges...),
		tasks:          append([]loader.Task(nil), s.tasks...),
		taskEdges:      append([]loader.TaskEdge(nil), s.taskEdges...),
		jobInstances:   append([]loader.JobInstance(nil), s.jobInstances...),
		jobStates:      append([]loader.JobState(nil), s.jobStates...),
		hosts:          append([]loader.Host(nil), s.hosts...),
		invocations:    append([]loader.Invocation(nil), s.invocations...),
		jobMetrics:     append([]loader.JobMetrics(nil), s.jobMetrics...),
	}

	rollback := func() {
		s.seq = prev.seq
		s.workflows = prev.workflows
		s.workflowStates = prev.workflowStates
		s.jobs = prev.jobs
		s.jobEdges = prev.jobEdges
		s.tasks = prev.tasks
		s.taskEdges = prev.taskEdges
		s.jobInstances = prev.jobInstances
		s.jobStates = prev.jobStates
		s.hosts = prev.hosts
		s.invocations = prev.invocations
		s.jobMetrics = prev.jobMetrics
	}

	for _, e := range inserts {
		if _, err := s.insertLocked(e); err != nil {
			rollback()
			return err
		}
	}
	for _, e := range updates {
		if err := s.updateLocked(e); err != nil {
			rollback()
			return err
		}
	}
	return nil
}

type storeState struct {
	seq            int64
	workflows      []loader.Workflow
	workflowStates []loader.WorkflowState
	jobs           []loader.Job
	jobEdges       []loader.JobEdge
	tasks          []loader.Task
	taskEdges      []loader.TaskEdge
	jobInstances   []loader.JobInstance
	jobStates      []loader.JobState
	hosts          []loader.Host
	invocations    []loader.Invocation
	jobMetrics     []loader.JobMetrics
}

func (s *Store) WorkflowID(ctx context.Context, wfUUID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++

	var ids []int64
	for _, w := range s.workflows {
		if w.WfUUID == wfUUID {
			ids = append(ids, w.ID)
		}
	}
	return one(ids)
}

func (s *Store) RootWorkflowID(ctx context.Context, wfUUID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++

	var ids []int64
	for _, w := range s.workflows {
		if w.WfUUID == wfUUID {
			ids = append(ids, w.RootWfID)
		}
	}
	return one(ids)
}

func (s *Store) JobID(ctx context.Context, wfID int64, execJobID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++

	var ids []int64
	for _, jb := range s.jobs {
		if jb.WfID == wfID && jb.ExecJobID == execJobID {
			ids = append(ids, jb.ID)
		}
	}
	return one(ids)
}

func (s *Store) JobInstanceID(ctx context.Context, jobID int64, jobSubmitSeq int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++

	var ids []int64
	for _, ji := range s.jobInstances {
		if ji.JobID == jobID && ji.JobSubmitSeq == jobSubmitSeq {
			ids = append(ids, ji.ID)
		}
	}
	return one(ids)
}

func (s *Store) HostID(ctx context.Context, key loader.HostKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++

	var ids []int64
	for _, h := range s.hosts {
		if h.WfID == key.WfID && h.Site == key.Site && h.Hostname == key.Hostname && h.IP == key.IP {
			ids = append(ids, h.ID)
		}
	}
	return one(ids)
}

func (s *Store) HostKeys(ctx context.Context) ([]loader.HostKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []loader.HostKey
	for _, h := range s.hosts {
		keys = append(keys, loader.HostKey{
			WfID:     h.WfID,
			Site:     h.Site,
			Hostname: h.Hostname,
			IP:       h.IP,
		})
	}
	return keys, nil
}

func (s *Store) SetTaskJob(ctx context.Context, wfID int64, absTaskID string, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx []int
	for i, t := range s.tasks {
		if t.WfID == wfID && t.AbsTaskID == absTaskID {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return errors.Wrap(loader.ErrNotFound, "no matching task")
	}
	if len(idx) > 1 {
		return errors.Wrap(loader.ErrAmbiguous, "multiple matching tasks")
	}
	s.tasks[idx[0]].JobID = jobID
	return nil
}

func (s *Store) SetJobInstanceSubworkflow(ctx context.Context, jobID int64, jobSubmitSeq int, subwfID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx []int
	for i, ji := range s.jobInstances {
		if ji.JobID == jobID && ji.JobSubmitSeq == jobSubmitSeq {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return errors.Wrap(loader.ErrNotFound, "no matching job instance")
	}
	if len(idx) > 1 {
		return errors.Wrap(loader.ErrAmbiguous, "multiple matching job instances")
	}
	s.jobInstances[idx[0]].SubwfID = subwfID
	return nil
}

func (s *Store) SetJobInstanceHost(ctx context.Context, jobID int64, jobSubmitSeq int, hostID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx []int
	for i, ji := range s.jobInstances {
		if ji.JobID == jobID && ji.JobSubmitSeq == jobSubmitSeq {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return errors.Wrap(loader.ErrNotFound, "no matching job instance")
	}
	if len(idx) > 1 {
		return errors.Wrap(loader.ErrAmbiguous, "multiple matching job instances")
	}
	s.jobInstances[idx[0]].HostID = hostID
	return nil
}

func (s *Store) JobInstanceIDBySchedulerID(ctx context.Context, wfUUID, execJobID, schedID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++

	var ids []int64
	for _, w := range s.workflows {
		if w.WfUUID != wfUUID {
			continue
		}
		for _, jb := range s.jobs {
			if jb.WfID != w.ID || jb.ExecJobID != execJobID {
				continue
			}
			for _, ji := range s.jobInstances {
				if ji.JobID == jb.ID && ji.SchedID == schedID {
					ids = append(ids, ji.ID)
				}
			}
		}
	}
	return one(ids)
}

func (s *Store) JobMetricsID(ctx context.Context, jobInstanceID int64, dagJobID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++

	var ids []int64
	for _, jm := range s.jobMetrics {
		if jm.JobInstanceID == jobInstanceID && jm.DagJobID == dagJobID {
			ids = append(ids, jm.ID)
		}
	}
	return one(ids)
}

func (s *Store) DeleteWorkflowTree(ctx context.Context, wfID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteTreeLocked(wfID)
	return nil
}

func (s *Store) deleteTreeLocked(wfID int64) {
	// Collect child ids before recursing: the recursion rewrites the
	// workflow slice in place.
	var children []int64
	for _, w := range s.workflows {
		if w.ParentWfID == wfID && w.ID != wfID {
			children = append(children, w.ID)
		}
	}
	for _, child := range children {
		s.deleteTreeLocked(child)
	}

	jobIDs := make(map[int64]bool)
	for _, jb := range s.jobs {
		if jb.WfID == wfID {
			jobIDs[jb.ID] = true
		}
	}
	instanceIDs := make(map[int64]bool)
	for _, ji := range s.jobInstances {
		if jobIDs[ji.JobID] {
			instanceIDs[ji.ID] = true
		}
	}

	s.jobStates = filter(s.jobStates, func(js loader.JobState) bool { return !instanceIDs[js.JobInstanceID] })
	s.invocations = filter(s.invocations, func(iv loader.Invocation) bool { return !instanceIDs[iv.JobInstanceID] })
	s.jobMetrics = filter(s.jobMetrics, func(jm loader.JobMetrics) bool { return !instanceIDs[jm.JobInstanceID] })
	s.jobInstances = filter(s.jobInstances, func(ji loader.JobInstance) bool { return !jobIDs[ji.JobID] })
	s.jobs = filter(s.jobs, func(jb loader.Job) bool { return jb.WfID != wfID })
	s.jobEdges = filter(s.jobEdges, func(je loader.JobEdge) bool { return je.WfID != wfID })
	s.tasks = filter(s.tasks, func(t loader.Task) bool { return t.WfID != wfID })
	s.taskEdges = filter(s.taskEdges, func(te loader.TaskEdge) bool { return te.WfID != wfID })
	s.hosts = filter(s.hosts, func(h loader.Host) bool { return h.WfID != wfID })
	s.workflowStates = filter(s.workflowStates, func(ws loader.WorkflowState) bool { return ws.WfID != wfID })
	s.workflows = filter(s.workflows, func(w loader.Workflow) bool { return w.ID != wfID })
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Accessors below return value copies for test assertions.

func (s *Store) Workflows() []loader.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loader.Workflow(nil), s.workflows...)
}

func (s *Store) WorkflowStates() []loader.WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loader.WorkflowState(nil), s.workflowStates...)
}

func (s *Store) Jobs() []loader.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loader.Job(nil), s.jobs...)
}

func (s *Store) Tasks() []loader.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loader.Task(nil), s.tasks...)
}

func (s *Store) JobInstances() []loader.JobInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loader.JobInstance(nil), s.jobInstances...)
}

func (s *Store) JobStates() []loader.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loader.JobState(nil), s.jobStates...)
}

func (s *Store) Hosts() []loader.Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loader.Host(nil), s.hosts...)
}

func (s *Store) Invocations() []loader.Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loader.Invocation(nil), s.invocations...)
}

func (s *Store) Metrics() []loader.JobMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]loader.JobMetrics(nil), s.jobMetrics...)
}

// Lookups returns how many natural key lookup queries the store has served,
// cache hits excluded by definition.
func (s *Store) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func one(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, errors.Wrap(loader.ErrNotFound, "")
	}
	if len(ids) > 1 {
		return 0, errors.Wrap(loader.ErrAmbiguous, "")
	}
	return ids[0], nil
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
