package loader

import (
	"context"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/flowtrace/loader/internal/metrics"
)

const (
	// connBackoff is the fixed wait between reconnection attempts.
	connBackoff = 5 * time.Second
	// maxConnAttempts bounds reconnection attempts so a sustained outage
	// terminates the loader instead of retrying forever.
	maxConnAttempts = 3
)

// checkConnection verifies that the storage connection is usable before a
// risky operation. On failure it waits a fixed backoff and retries up to
// maxConnAttempts times; exhaustion returns ErrConnLost, the loader's only
// fatal condition. Non batched processing guards every record, batched
// processing guards only at flush time.
func (l *Loader) checkConnection(ctx context.Context) error {
	err := l.store.Ping(ctx)
	if err == nil {
		return nil
	}

	for attempt := 1; attempt <= maxConnAttempts; attempt++ {
		l.logger.Error(ctx, errors.Wrap(err, "lost connection - attempting reconnect",
			j.KV("attempt", attempt)), nil)

		l.clock.Sleep(connBackoff)
		metrics.Reconnects.Inc()

		err = l.store.Ping(ctx)
		if err == nil {
			l.logger.Debug(ctx, "connection re-established", nil)
			return nil
		}
	}

	return errors.Wrap(ErrConnLost, "reconnect attempts exhausted",
		j.KV("attempts", maxConnAttempts))
}
