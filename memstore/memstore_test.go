package memstore_test

import (
	"context"
	"io"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/flowtrace/loader"
	"github.com/flowtrace/loader/memstore"
)

func TestUniquenessTuples(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	wfID, err := s.Insert(ctx, &loader.Workflow{WfUUID: "wf-1"})
	jtest.RequireNil(t, err)
	_, err = s.Insert(ctx, &loader.Workflow{WfUUID: "wf-1"})
	jtest.Require(t, loader.ErrConflict, err)

	jobID, err := s.Insert(ctx, &loader.Job{WfID: wfID, ExecJobID: "analyze"})
	jtest.RequireNil(t, err)
	_, err = s.Insert(ctx, &loader.Job{WfID: wfID, ExecJobID: "analyze"})
	jtest.Require(t, loader.ErrConflict, err)

	jiID, err := s.Insert(ctx, &loader.JobInstance{JobID: jobID, JobSubmitSeq: 1})
	jtest.RequireNil(t, err)
	_, err = s.Insert(ctx, &loader.JobInstance{JobID: jobID, JobSubmitSeq: 1})
	jtest.Require(t, loader.ErrConflict, err)

	_, err = s.Insert(ctx, &loader.Host{WfID: wfID, Site: "local", Hostname: "n1", IP: "10.0.0.1"})
	jtest.RequireNil(t, err)
	_, err = s.Insert(ctx, &loader.Host{WfID: wfID, Site: "local", Hostname: "n1", IP: "10.0.0.1"})
	jtest.Require(t, loader.ErrConflict, err)

	_, err = s.Insert(ctx, &loader.Invocation{JobInstanceID: jiID, TaskSubmitSeq: 1})
	jtest.RequireNil(t, err)
	_, err = s.Insert(ctx, &loader.Invocation{JobInstanceID: jiID, TaskSubmitSeq: 1})
	jtest.Require(t, loader.ErrConflict, err)
}

func TestFlushAtomicity(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	wfID, err := s.Insert(ctx, &loader.Workflow{WfUUID: "wf-1"})
	jtest.RequireNil(t, err)

	err = s.Flush(ctx, []loader.Entity{
		&loader.Job{WfID: wfID, ExecJobID: "a"},
		&loader.Job{WfID: wfID, ExecJobID: "b"},
		&loader.Job{WfID: wfID, ExecJobID: "a"},
	}, nil)
	jtest.Require(t, loader.ErrConflict, err)

	// The whole batch rolled back, including the valid rows.
	require.Empty(t, s.Jobs())

	err = s.Flush(ctx, []loader.Entity{
		&loader.Job{WfID: wfID, ExecJobID: "a"},
		&loader.Job{WfID: wfID, ExecJobID: "b"},
	}, nil)
	jtest.RequireNil(t, err)
	require.Len(t, s.Jobs(), 2)
}

func TestLookupCounter(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	_, err := s.Insert(ctx, &loader.Workflow{WfUUID: "wf-1"})
	jtest.RequireNil(t, err)
	require.Zero(t, s.Lookups())

	_, err = s.WorkflowID(ctx, "wf-1")
	jtest.RequireNil(t, err)
	_, err = s.WorkflowID(ctx, "wf-2")
	jtest.Require(t, loader.ErrNotFound, err)
	require.Equal(t, 2, s.Lookups())
}

func TestPingErrs(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	jtest.RequireNil(t, s.Ping(ctx))

	s.SetPingErrs(io.ErrClosedPipe)
	jtest.Require(t, io.ErrClosedPipe, s.Ping(ctx))
	jtest.RequireNil(t, s.Ping(ctx))
}

func TestSetTaskJob(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	wfID, err := s.Insert(ctx, &loader.Workflow{WfUUID: "wf-1"})
	jtest.RequireNil(t, err)

	_, err = s.Insert(ctx, &loader.Task{WfID: wfID, AbsTaskID: "ID1"})
	jtest.RequireNil(t, err)

	err = s.SetTaskJob(ctx, wfID, "ID2", 1)
	jtest.Require(t, loader.ErrNotFound, err)

	err = s.SetTaskJob(ctx, wfID, "ID1", 7)
	jtest.RequireNil(t, err)
	require.Equal(t, int64(7), s.Tasks()[0].JobID)
}
