package loader

import "context"

type Logger interface {
	// Debug will be used by the loader for debug logs such as per-record
	// processing traces.
	Debug(ctx context.Context, msg string, meta MKV)
	// Error is used when writing errors to the logs. No record failure other
	// than connectivity loss aborts the stream, so most handler errors end
	// up here rather than being returned.
	Error(ctx context.Context, err error, meta MKV)
}

// MKV is a multiple key value store for the logger to format into its output.
type MKV = map[string]string
