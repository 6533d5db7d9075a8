package loader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	require.Equal(t, EventWorkflowPlan, KindOf("stampede.wf.plan"))
	require.Equal(t, EventMainEnd, KindOf("stampede.job_inst.main.end"))
	require.Equal(t, EventJobMonitoring, KindOf("stampede.job.monitoring"))
	require.Equal(t, EventUnknown, KindOf("stampede.no.such.event"))
	require.Equal(t, EventUnknown, KindOf(""))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "stampede.xwf.end", EventWorkflowEnd.String())
	require.Equal(t, "unknown", EventUnknown.String())
}

func TestIsJobInstanceTag(t *testing.T) {
	require.True(t, isJobInstanceTag("stampede.job_inst.requeue.info"))
	require.False(t, isJobInstanceTag("stampede.job.info"))
	require.False(t, isJobInstanceTag("stampede.inv.end"))
}

func TestRecordEvent(t *testing.T) {
	require.Equal(t, "stampede.wf.plan", Record{"event": "stampede.wf.plan"}.Event())
	require.Empty(t, Record{}.Event())
}
