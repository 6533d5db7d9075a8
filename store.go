package loader

import "context"

// HostKey is the natural uniqueness tuple of a Host row. WfID is the
// surrogate id of the owning workflow root.
type HostKey struct {
	WfID     int64
	Site     string
	Hostname string
	IP       string
}

// Store is the relational backend the loader writes to. Implementations must
// classify their driver errors into the package sentinels: lookups return
// ErrNotFound or ErrAmbiguous, writes return ErrConflict on constraint
// violations and ErrConnLost when the connection is unusable, so that the
// engine's conflict isolation and reconnect logic work against any backend.
//
// Implementations are adapters/sqlstore style: see the sqlstore and memstore
// packages.
type Store interface {
	// Ping verifies that the connection is usable, re-establishing it where
	// the underlying driver supports that.
	Ping(ctx context.Context) error

	// Insert writes a single entity in its own transaction and returns the
	// assigned surrogate key.
	Insert(ctx context.Context, e Entity) (int64, error)

	// Update merges an entity onto the existing row identified by its
	// surrogate key.
	Update(ctx context.Context, e Entity) error

	// Flush applies all inserts and updates in one transaction. On any
	// constraint violation the whole transaction is rolled back and
	// ErrConflict returned; the engine then replays the batch row by row.
	Flush(ctx context.Context, inserts []Entity, updates []Entity) error

	// WorkflowID resolves a workflow UUID to its surrogate key.
	WorkflowID(ctx context.Context, wfUUID string) (int64, error)

	// RootWorkflowID resolves a workflow UUID to the surrogate key of its
	// root workflow.
	RootWorkflowID(ctx context.Context, wfUUID string) (int64, error)

	// JobID resolves (workflow id, exec_job_id) to a job surrogate key.
	JobID(ctx context.Context, wfID int64, execJobID string) (int64, error)

	// JobInstanceID resolves (job id, job_submit_seq) to a job instance
	// surrogate key.
	JobInstanceID(ctx context.Context, jobID int64, jobSubmitSeq int) (int64, error)

	// HostID resolves a host uniqueness tuple to its surrogate key.
	HostID(ctx context.Context, key HostKey) (int64, error)

	// HostKeys lists the uniqueness tuples of every persisted host, used to
	// seed the deduplication cache on first use.
	HostKeys(ctx context.Context) ([]HostKey, error)

	// SetTaskJob points a task row at its concrete job. Zero matching rows
	// return ErrNotFound, more than one ErrAmbiguous.
	SetTaskJob(ctx context.Context, wfID int64, absTaskID string, jobID int64) error

	// SetJobInstanceSubworkflow points a job instance at the sub workflow it
	// spawned. Match errors as for SetTaskJob.
	SetJobInstanceSubworkflow(ctx context.Context, jobID int64, jobSubmitSeq int, subwfID int64) error

	// SetJobInstanceHost assigns the host reference of a job instance.
	// Match errors as for SetTaskJob.
	SetJobInstanceHost(ctx context.Context, jobID int64, jobSubmitSeq int, hostID int64) error

	// JobInstanceIDBySchedulerID resolves a job instance through the
	// workflow/job/job_instance natural key join used by online monitoring
	// records.
	JobInstanceIDBySchedulerID(ctx context.Context, wfUUID, execJobID, schedID string) (int64, error)

	// JobMetricsID returns the surrogate key of an existing measurement for
	// (job instance, dag_job_id), or ErrNotFound if none was recorded yet.
	JobMetricsID(ctx context.Context, jobInstanceID int64, dagJobID string) (int64, error)

	// DeleteWorkflowTree removes a workflow and everything transitively
	// owned by it, including sub workflows.
	DeleteWorkflowTree(ctx context.Context, wfID int64) error

	// Close releases the connection.
	Close() error
}
