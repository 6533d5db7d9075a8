// Package sqlstore implements loader.Store on MySQL. Every statement is
// parameterized; record values never reach the SQL text. Driver errors are
// classified into the loader sentinels so the engine's conflict isolation and
// reconnect logic stay backend agnostic.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"

	"github.com/go-sql-driver/mysql"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/flowtrace/loader"
)

const (
	mysqlErrDupEntry     = 1062
	mysqlErrNoReferenced = 1452
)

func New(dbc *sql.DB) *Store {
	return &Store{dbc: dbc}
}

var _ loader.Store = (*Store)(nil)

type Store struct {
	dbc *sql.DB
}

func (s *Store) Ping(ctx context.Context) error {
	err := s.dbc.PingContext(ctx)
	if err != nil {
		return errors.Wrap(loader.ErrConnLost, err.Error())
	}
	return nil
}

func (s *Store) Close() error {
	return s.dbc.Close()
}

// execer is a common interface for *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) Insert(ctx context.Context, e loader.Entity) (int64, error) {
	return insert(ctx, s.dbc, e)
}

func (s *Store) Update(ctx context.Context, e loader.Entity) error {
	return update(ctx, s.dbc, e)
}

func (s *Store) Flush(ctx context.Context, inserts []loader.Entity, updates []loader.Entity) error {
	tx, err := s.dbc.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin flush")
	}
	defer tx.Rollback()

	for _, e := range inserts {
		if _, err := insert(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, e := range updates {
		if err := update(ctx, tx, e); err != nil {
			return err
		}
	}

	return classify(tx.Commit(), "commit flush")
}

func insert(ctx context.Context, dbc execer, e loader.Entity) (int64, error) {
	var (
		res sql.Result
		err error
	)

	switch v := e.(type) {
	case *loader.Workflow:
		res, err = dbc.ExecContext(ctx, "insert into workflow set "+
			" wf_uuid=?, dax_label=?, dax_version=?, dax_file=?, dag_file_name=?,"+
			" timestamp=?, submit_hostname=?, submit_dir=?, planner_arguments=?,"+
			" user=?, grid_dn=?, planner_version=?, root_wf_id=?, parent_wf_id=? ",
			v.WfUUID, v.DAXLabel, v.DAXVersion, v.DAXFile, v.DAGFileName,
			v.Timestamp, v.SubmitHostname, v.SubmitDir, v.PlannerArguments,
			v.User, v.GridDN, v.PlannerVersion, nullID(v.RootWfID), nullID(v.ParentWfID),
		)

	case *loader.WorkflowState:
		res, err = dbc.ExecContext(ctx, "insert into workflow_state set "+
			" wf_id=?, state=?, timestamp=?, restart_count=?, status=? ",
			v.WfID, v.State, v.Timestamp, v.RestartCount, v.Status,
		)

	case *loader.Job:
		res, err = dbc.ExecContext(ctx, "insert into job set "+
			" wf_id=?, exec_job_id=?, submit_file=?, type_desc=?, clustered=?,"+
			" max_retries=?, executable=?, argv=?, task_count=? ",
			v.WfID, v.ExecJobID, v.SubmitFile, v.TypeDesc, v.Clustered,
			v.MaxRetries, v.Executable, v.Argv, v.TaskCount,
		)

	case *loader.JobEdge:
		res, err = dbc.ExecContext(ctx, "insert into job_edge set "+
			" wf_id=?, parent_exec_job_id=?, child_exec_job_id=? ",
			v.WfID, v.ParentExecJobID, v.ChildExecJobID,
		)

	case *loader.Task:
		res, err = dbc.ExecContext(ctx, "insert into task set "+
			" wf_id=?, job_id=?, abs_task_id=?, transformation=?, argv=?, type_desc=? ",
			v.WfID, nullID(v.JobID), v.AbsTaskID, v.Transformation, v.Argv, v.TypeDesc,
		)

	case *loader.TaskEdge:
		res, err = dbc.ExecContext(ctx, "insert into task_edge set "+
			" wf_id=?, parent_abs_task_id=?, child_abs_task_id=? ",
			v.WfID, v.ParentAbsTaskID, v.ChildAbsTaskID,
		)

	case *loader.JobInstance:
		res, err = dbc.ExecContext(ctx, "insert into job_instance set "+
			" job_id=?, host_id=?, subwf_id=?, job_submit_seq=?, sched_id=?, site=?,"+
			" user=?, work_dir=?, cluster_start=?, cluster_duration=?, local_duration=?,"+
			" stdout_file=?, stdout_text=?, stderr_file=?, stderr_text=?, stdin_file=?,"+
			" multiplier_factor=?, exitcode=? ",
			v.JobID, nullID(v.HostID), nullID(v.SubwfID), v.JobSubmitSeq, v.SchedID, v.Site,
			v.User, v.WorkDir, v.ClusterStart, v.ClusterDuration, v.LocalDuration,
			v.StdoutFile, v.StdoutText, v.StderrFile, v.StderrText, v.StdinFile,
			v.MultiplierFactor, v.Exitcode,
		)

	case *loader.JobState:
		res, err = dbc.ExecContext(ctx, "insert into job_state set "+
			" job_instance_id=?, state=?, timestamp=?, jobstate_submit_seq=? ",
			v.JobInstanceID, v.State, v.Timestamp, v.JobstateSubmitSeq,
		)

	case *loader.Host:
		res, err = dbc.ExecContext(ctx, "insert into host set "+
			" wf_id=?, site=?, hostname=?, ip=?, uname=?, total_memory=? ",
			v.WfID, v.Site, v.Hostname, v.IP, v.Uname, v.TotalMemory,
		)

	case *loader.Invocation:
		res, err = dbc.ExecContext(ctx, "insert into invocation set "+
			" wf_id=?, job_instance_id=?, task_submit_seq=?, abs_task_id=?, start_time=?,"+
			" remote_duration=?, remote_cpu_time=?, exitcode=?, transformation=?,"+
			" executable=?, argv=? ",
			v.WfID, v.JobInstanceID, v.TaskSubmitSeq, v.AbsTaskID, v.StartTime,
			v.RemoteDuration, v.RemoteCPUTime, v.Exitcode, v.Transformation,
			v.Executable, v.Argv,
		)

	case *loader.JobMetrics:
		res, err = dbc.ExecContext(ctx, "insert into job_metrics set "+
			" job_instance_id=?, dag_job_id=?, sched_id=?, site=?, hostname=?, exec_name=?,"+
			" kickstart_pid=?, ts=?, stime=?, utime=?, iowait=?, vmsize=?, pmsize=?,"+
			" read_bytes=?, write_bytes=?, syscr=?, syscw=?, threads=?,"+
			" bytes_transferred=?, transfer_duration=? ",
			v.JobInstanceID, v.DagJobID, v.SchedID, v.Site, v.Hostname, v.ExecName,
			v.KickstartPid, v.Timestamp, v.Stime, v.Utime, v.Iowait, v.Vmsize, v.Pmsize,
			v.ReadBytes, v.WriteBytes, v.Syscr, v.Syscw, v.Threads,
			v.BytesTransferred, v.TransferDuration,
		)

	default:
		return 0, errors.New("unsupported entity", j.KV("table", e.Table()))
	}

	if err != nil {
		return 0, classify(err, "insert "+e.Table())
	}
	return res.LastInsertId()
}

func update(ctx context.Context, dbc execer, e loader.Entity) error {
	var err error

	switch v := e.(type) {
	case *loader.Workflow:
		_, err = dbc.ExecContext(ctx, "update workflow set "+
			" root_wf_id=?, parent_wf_id=? where id=?",
			nullID(v.RootWfID), nullID(v.ParentWfID), v.ID,
		)

	case *loader.JobInstance:
		// host_id and subwf_id are owned by their targeted updates and must
		// survive the lifecycle merge.
		_, err = dbc.ExecContext(ctx, "update job_instance set "+
			" sched_id=?, site=?, user=?, work_dir=?, cluster_start=?,"+
			" cluster_duration=?, local_duration=?, stdout_file=?, stdout_text=?,"+
			" stderr_file=?, stderr_text=?, stdin_file=?, multiplier_factor=?,"+
			" exitcode=? where id=?",
			v.SchedID, v.Site, v.User, v.WorkDir, v.ClusterStart,
			v.ClusterDuration, v.LocalDuration, v.StdoutFile, v.StdoutText,
			v.StderrFile, v.StderrText, v.StdinFile, v.MultiplierFactor,
			v.Exitcode, v.ID,
		)

	case *loader.JobMetrics:
		_, err = dbc.ExecContext(ctx, "update job_metrics set "+
			" sched_id=?, site=?, hostname=?, exec_name=?, kickstart_pid=?, ts=?,"+
			" stime=?, utime=?, iowait=?, vmsize=?, pmsize=?, read_bytes=?,"+
			" write_bytes=?, syscr=?, syscw=?, threads=?, bytes_transferred=?,"+
			" transfer_duration=? where id=?",
			v.SchedID, v.Site, v.Hostname, v.ExecName, v.KickstartPid, v.Timestamp,
			v.Stime, v.Utime, v.Iowait, v.Vmsize, v.Pmsize, v.ReadBytes,
			v.WriteBytes, v.Syscr, v.Syscw, v.Threads, v.BytesTransferred,
			v.TransferDuration, v.ID,
		)

	default:
		return errors.New("unsupported entity update", j.KV("table", e.Table()))
	}

	return classify(err, "update "+e.Table())
}

func (s *Store) WorkflowID(ctx context.Context, wfUUID string) (int64, error) {
	return s.scanID(ctx, "select id from workflow where wf_uuid=? limit 2", wfUUID)
}

func (s *Store) RootWorkflowID(ctx context.Context, wfUUID string) (int64, error) {
	return s.scanID(ctx, "select root_wf_id from workflow where wf_uuid=? limit 2", wfUUID)
}

func (s *Store) JobID(ctx context.Context, wfID int64, execJobID string) (int64, error) {
	return s.scanID(ctx, "select id from job where wf_id=? and exec_job_id=? limit 2",
		wfID, execJobID)
}

func (s *Store) JobInstanceID(ctx context.Context, jobID int64, jobSubmitSeq int) (int64, error) {
	return s.scanID(ctx, "select id from job_instance where job_id=? and job_submit_seq=? limit 2",
		jobID, jobSubmitSeq)
}

func (s *Store) HostID(ctx context.Context, key loader.HostKey) (int64, error) {
	return s.scanID(ctx, "select id from host where wf_id=? and site=? and hostname=? and ip=? limit 2",
		key.WfID, key.Site, key.Hostname, key.IP)
}

func (s *Store) HostKeys(ctx context.Context) ([]loader.HostKey, error) {
	rows, err := s.dbc.QueryContext(ctx, "select wf_id, site, hostname, ip from host")
	if err != nil {
		return nil, classify(err, "list host keys")
	}
	defer rows.Close()

	var keys []loader.HostKey
	for rows.Next() {
		var k loader.HostKey
		err := rows.Scan(&k.WfID, &k.Site, &k.Hostname, &k.IP)
		if err != nil {
			return nil, errors.Wrap(err, "scan host key")
		}
		keys = append(keys, k)
	}
	if rows.Err() != nil {
		return nil, classify(rows.Err(), "rows")
	}
	return keys, nil
}

func (s *Store) SetTaskJob(ctx context.Context, wfID int64, absTaskID string, jobID int64) error {
	id, err := s.scanID(ctx, "select id from task where wf_id=? and abs_task_id=? limit 2",
		wfID, absTaskID)
	if err != nil {
		return err
	}

	_, err = s.dbc.ExecContext(ctx, "update task set job_id=? where id=?", jobID, id)
	return classify(err, "set task job")
}

func (s *Store) SetJobInstanceSubworkflow(ctx context.Context, jobID int64, jobSubmitSeq int, subwfID int64) error {
	id, err := s.JobInstanceID(ctx, jobID, jobSubmitSeq)
	if err != nil {
		return err
	}

	_, err = s.dbc.ExecContext(ctx, "update job_instance set subwf_id=? where id=?", subwfID, id)
	return classify(err, "set job instance subworkflow")
}

func (s *Store) SetJobInstanceHost(ctx context.Context, jobID int64, jobSubmitSeq int, hostID int64) error {
	id, err := s.JobInstanceID(ctx, jobID, jobSubmitSeq)
	if err != nil {
		return err
	}

	_, err = s.dbc.ExecContext(ctx, "update job_instance set host_id=? where id=?", hostID, id)
	return classify(err, "set job instance host")
}

func (s *Store) JobInstanceIDBySchedulerID(ctx context.Context, wfUUID, execJobID, schedID string) (int64, error) {
	return s.scanID(ctx, "select ji.id from job_instance ji "+
		" join job j on ji.job_id = j.id "+
		" join workflow w on j.wf_id = w.id "+
		" where w.wf_uuid=? and j.exec_job_id=? and ji.sched_id=? limit 2",
		wfUUID, execJobID, schedID)
}

func (s *Store) JobMetricsID(ctx context.Context, jobInstanceID int64, dagJobID string) (int64, error) {
	return s.scanID(ctx, "select id from job_metrics where job_instance_id=? and dag_job_id=? limit 2",
		jobInstanceID, dagJobID)
}

func (s *Store) DeleteWorkflowTree(ctx context.Context, wfID int64) error {
	tx, err := s.dbc.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin delete")
	}
	defer tx.Rollback()

	err = deleteTree(ctx, tx, wfID)
	if err != nil {
		return err
	}

	return classify(tx.Commit(), "commit delete")
}

func deleteTree(ctx context.Context, tx *sql.Tx, wfID int64) error {
	rows, err := tx.QueryContext(ctx,
		"select id from workflow where parent_wf_id=? and id != ?", wfID, wfID)
	if err != nil {
		return classify(err, "list sub workflows")
	}

	var children []int64
	for rows.Next() {
		var id int64
		err := rows.Scan(&id)
		if err != nil {
			rows.Close()
			return errors.Wrap(err, "scan sub workflow")
		}
		children = append(children, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return classify(err, "rows")
	}
	rows.Close()

	for _, child := range children {
		err := deleteTree(ctx, tx, child)
		if err != nil {
			return err
		}
	}

	// Dependents first so foreign keys never dangle mid transaction.
	stmts := []string{
		"delete js from job_state js join job_instance ji on js.job_instance_id = ji.id" +
			" join job j on ji.job_id = j.id where j.wf_id=?",
		"delete iv from invocation iv join job_instance ji on iv.job_instance_id = ji.id" +
			" join job j on ji.job_id = j.id where j.wf_id=?",
		"delete jm from job_metrics jm join job_instance ji on jm.job_instance_id = ji.id" +
			" join job j on ji.job_id = j.id where j.wf_id=?",
		"delete ji from job_instance ji join job j on ji.job_id = j.id where j.wf_id=?",
		"delete from task_edge where wf_id=?",
		"delete from task where wf_id=?",
		"delete from job_edge where wf_id=?",
		"delete from job where wf_id=?",
		"delete from host where wf_id=?",
		"delete from workflow_state where wf_id=?",
	}
	for _, stmt := range stmts {
		_, err := tx.ExecContext(ctx, stmt, wfID)
		if err != nil {
			return classify(err, "delete owned rows")
		}
	}

	_, err = tx.ExecContext(ctx, "delete from workflow where id=?", wfID)
	return classify(err, "delete workflow")
}

// scanID resolves a natural key query to exactly one surrogate id. The query
// must carry "limit 2" so ambiguity is detectable without a full scan.
func (s *Store) scanID(ctx context.Context, query string, args ...any) (int64, error) {
	rows, err := s.dbc.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, classify(err, "lookup")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id sql.NullInt64
		err := rows.Scan(&id)
		if err != nil {
			return 0, errors.Wrap(err, "scan id")
		}
		ids = append(ids, id.Int64)
	}
	if rows.Err() != nil {
		return 0, classify(rows.Err(), "rows")
	}

	if len(ids) == 0 {
		return 0, errors.Wrap(loader.ErrNotFound, "")
	}
	if len(ids) > 1 {
		return 0, errors.Wrap(loader.ErrAmbiguous, "")
	}
	return ids[0], nil
}

// nullID persists zero surrogate keys as null so self references and not yet
// resolved references satisfy foreign key constraints.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func classify(err error, msg string) error {
	if err == nil {
		return nil
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) {
		if me.Number == mysqlErrDupEntry || me.Number == mysqlErrNoReferenced {
			return errors.Wrap(loader.ErrConflict, me.Message)
		}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return errors.Wrap(loader.ErrConnLost, msg)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(loader.ErrNotFound, msg)
	}
	return errors.Wrap(err, msg)
}
