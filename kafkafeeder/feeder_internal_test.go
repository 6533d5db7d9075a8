package kafkafeeder

import (
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/flowtrace/loader"
)

func TestDecodeRecord(t *testing.T) {
	data := []byte(`{
		"event": "stampede.job.info",
		"xwf.id": "5b2a2f2e-2b5f-4f3e-9c3f-3f0f8a2f1e1d",
		"job.id": "analyze_ID0000004",
		"task_count": 1,
		"ts": 1596254400.123,
		"clustered": false,
		"ignored": null,
		"also.ignored": ["a", "b"]
	}`)

	r, err := decodeRecord(data)
	jtest.RequireNil(t, err)

	require.Equal(t, loader.Record{
		"event":      "stampede.job.info",
		"xwf.id":     "5b2a2f2e-2b5f-4f3e-9c3f-3f0f8a2f1e1d",
		"job.id":     "analyze_ID0000004",
		"task_count": "1",
		"ts":         "1596254400.123",
		"clustered":  "false",
	}, r)

	require.Equal(t, loader.EventJobInfo, loader.KindOf(r.Event()))
}

func TestDecodeRecordInvalid(t *testing.T) {
	_, err := decodeRecord([]byte("not json"))
	require.Error(t, err)
}
