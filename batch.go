package loader

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/flowtrace/loader/internal/metrics"
)

// maxFlushAttempts bounds how many times a flush is retried from the top
// after a lost connection. The original design reattempted indefinitely;
// bounding it means a sustained outage surfaces as ErrConnLost instead of
// retrying forever.
const maxFlushAttempts = 3

// stageInsert buffers an entity for the next flush.
func (l *Loader) stageInsert(e Entity) {
	l.inserts = append(l.inserts, e)
}

// stageUpdate buffers a merge style row for the next flush. Updates are kept
// apart from inserts so the flush can apply them in order after the inserts.
func (l *Loader) stageUpdate(e Entity) {
	l.updates = append(l.updates, e)
}

// resetFlushState resets the flush counter and timer after a flush.
func (l *Loader) resetFlushState() {
	if !l.batch {
		return
	}
	l.flushCount = 0
	l.lastFlush = l.clock.Now()
}

// checkFlush triggers a flush when the number of records processed since the
// previous flush reaches the configured threshold, or when the configured
// interval has elapsed, whichever comes first.
func (l *Loader) checkFlush(ctx context.Context) error {
	if !l.batch {
		return nil
	}

	l.flushCount++

	if l.flushCount >= l.flushThreshold {
		l.logger.Debug(ctx, "flush: flush count", nil)
		return l.hardFlush(ctx)
	}

	if l.clock.Since(l.lastFlush) > l.flushInterval {
		l.logger.Debug(ctx, "flush: time based", nil)
		return l.hardFlush(ctx)
	}

	return nil
}

// hardFlush commits all buffered work. The buffered inserts and updates go
// into a single transaction; if that transaction hits a constraint violation
// it is rolled back and replayed row by row so only the offending rows are
// lost. A lost connection rolls back and retries the whole flush after
// reconnecting, up to maxFlushAttempts passes. Host mapping operations are
// idempotent row level updates applied outside the bulk transaction, and
// cache invalidation for any workflow termination rows runs only after the
// batch is durable.
func (l *Loader) hardFlush(ctx context.Context) error {
	if !l.batch {
		return nil
	}

	l.logger.Debug(ctx, "hard flush", MKV{
		"inserts":   itoa(len(l.inserts)),
		"updates":   itoa(len(l.updates)),
		"host_maps": itoa(len(l.hostMaps)),
	})

	start := l.clock.Now()

	var ends []*WorkflowState
	for _, e := range l.inserts {
		if ws, ok := e.(*WorkflowState); ok && KindOf(ws.Event) == EventWorkflowEnd {
			ends = append(ends, ws)
		}
	}

	flushed := false
	for attempt := 0; attempt < maxFlushAttempts; attempt++ {
		if err := l.checkConnection(ctx); err != nil {
			return err
		}

		err := l.store.Flush(ctx, l.inserts, l.updates)
		if errors.Is(err, ErrConnLost) {
			l.logger.Error(ctx, errors.Wrap(err, "connection problem during commit: reattempting batch",
				j.KV("attempt", attempt+1)), nil)
			continue
		} else if errors.Is(err, ErrConflict) {
			l.logger.Error(ctx, errors.Wrap(err, "integrity error on batch flush: committing per row"), nil)
			err = l.fallbackFlush(ctx)
		}
		if err != nil {
			return err
		}

		flushed = true
		break
	}
	if !flushed {
		return errors.Wrap(ErrConnLost, "flush attempts exhausted",
			j.KV("attempts", maxFlushAttempts))
	}

	for _, h := range l.hostMaps {
		if err := l.mapHostToJobInstance(ctx, h); err != nil {
			return err
		}
	}

	for _, ws := range ends {
		l.invalidate(ctx, ws.WfUUID, ws.WfID)
	}

	metrics.FlushSize.Observe(float64(len(l.inserts) + len(l.updates)))
	metrics.FlushDuration.Observe(l.clock.Since(start).Seconds())

	l.inserts = nil
	l.updates = nil
	l.hostMaps = nil
	l.resetFlushState()

	l.logger.Debug(ctx, "hard flush end", nil)
	return nil
}

// fallbackFlush replays the buffers as per row commits after a bulk
// transaction hit a constraint violation, so the valid rows still make it
// in. Each conflicting row is logged and dropped.
func (l *Loader) fallbackFlush(ctx context.Context) error {
	for _, e := range l.inserts {
		_, err := l.store.Insert(ctx, e)
		if errors.Is(err, ErrConflict) {
			l.logger.Error(ctx, errors.Wrap(err, "insert failed for event",
				j.KV("table", e.Table())), nil)
			continue
		} else if err != nil {
			return err
		}
	}

	for _, e := range l.updates {
		err := l.store.Update(ctx, e)
		if errors.Is(err, ErrConflict) {
			l.logger.Error(ctx, errors.Wrap(err, "update failed for event",
				j.KV("table", e.Table())), nil)
			continue
		} else if err != nil {
			return err
		}
	}

	return nil
}
