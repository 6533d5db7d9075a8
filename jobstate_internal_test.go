package loader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStateLabel(t *testing.T) {
	tests := []struct {
		name      string
		tag       string
		status    int
		hasStatus bool
		exp       string
	}{
		{
			name:      "main end success",
			tag:       "stampede.job_inst.main.end",
			status:    1,
			hasStatus: true,
			exp:       "JOB_SUCCESS",
		},
		{
			name:      "main end failure",
			tag:       "stampede.job_inst.main.end",
			status:    0,
			hasStatus: true,
			exp:       "JOB_FAILURE",
		},
		{
			name:      "main end negative status",
			tag:       "stampede.job_inst.main.end",
			status:    -1,
			hasStatus: true,
			exp:       "JOB_FAILURE",
		},
		{
			name: "statusless start",
			tag:  "stampede.job_inst.main.start",
			exp:  "EXECUTE",
		},
		{
			name:      "submit end success",
			tag:       "stampede.job_inst.submit.end",
			status:    1,
			hasStatus: true,
			exp:       "SUBMIT",
		},
		{
			name:      "postscript failure",
			tag:       "stampede.job_inst.post.end",
			status:    0,
			hasStatus: true,
			exp:       "POST_SCRIPT_FAILED",
		},
		{
			name: "held start",
			tag:  "stampede.job_inst.held.start",
			exp:  "JOB_HELD",
		},
		{
			name: "unknown tag derives from third segment",
			tag:  "stampede.job_inst.requeue.info",
			exp:  "REQUEUE",
		},
		{
			name: "short unknown tag upper cased whole",
			tag:  "weird",
			exp:  "WEIRD",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.exp, jobStateLabel(tc.tag, tc.status, tc.hasStatus))
		})
	}
}
