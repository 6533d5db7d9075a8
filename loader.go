package loader

import (
	"context"
	"os"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/flowtrace/loader/internal/logger"
	"github.com/flowtrace/loader/internal/metrics"
)

const (
	defaultFlushThreshold = 1000
	defaultFlushInterval  = 30 * time.Second
)

type options struct {
	batch          bool
	perf           bool
	flushThreshold int
	flushInterval  time.Duration
	clock          clock.Clock
	logger         Logger
}

func defaultOptions() options {
	return options{
		flushThreshold: defaultFlushThreshold,
		flushInterval:  defaultFlushInterval,
		clock:          clock.RealClock{},
		logger:         logger.New(os.Stderr),
	}
}

type Option func(o *options)

// WithBatching enables the buffered write path: handlers enqueue rows into
// categorized buffers which are flushed on a size or time trigger instead of
// committing synchronously per record.
func WithBatching() Option {
	return func(o *options) {
		o.batch = true
	}
}

// WithFlushThreshold overrides the insert buffer size that triggers a flush
// in batched mode.
func WithFlushThreshold(n int) Option {
	return func(o *options) {
		o.flushThreshold = n
	}
}

// WithFlushInterval overrides the elapsed time since the previous flush that
// triggers a flush in batched mode.
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) {
		o.flushInterval = d
	}
}

// WithClock overrides the clock used for flush timing and reconnect backoff.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger overrides the default slog JSON logger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPerformance enables timing instrumentation: per record insert timing
// is accumulated and a summary is logged by Finish.
func WithPerformance() Option {
	return func(o *options) {
		o.perf = true
	}
}

// Loader is the event to relational loading engine. It receives one trace
// record at a time via Process, classifies it, resolves the natural keys it
// carries into surrogate keys through a multi level lookup cache, and
// commits the resulting typed row either immediately or through the batched
// write path.
//
// A Loader is single threaded: Process runs to completion, including any
// cascading flush, before the next record is accepted. Run multiple
// independent loaders for multiple input streams; cross instance consistency
// relies on storage level uniqueness constraints plus per row conflict
// fallback.
type Loader struct {
	store  Store
	clock  clock.Clock
	logger Logger

	batch          bool
	flushThreshold int
	flushInterval  time.Duration

	// surrogate key caches, scoped per workflow and purged on termination
	wfIDs       map[string]int64
	rootWfIDs   map[string]int64
	jobIDs      map[jobKey]int64
	instanceIDs map[instanceKey]int64

	// hostsWritten is lazily seeded from the store on the first host event.
	hostsWritten map[HostKey]bool
	hostsMapped  map[instanceKey]bool

	// first mapping/edge event per workflow forces a flush so that the rows
	// about to be updated are durable
	taskMapFlushed  map[string]bool
	taskEdgeFlushed map[string]bool

	// batched mode buffers
	inserts    []Entity
	updates    []Entity
	hostMaps   []*Host
	flushCount int
	lastFlush  time.Time

	perf       bool
	insertTime time.Duration
	insertNum  int
	startTime  time.Time
}

// New returns a loader writing to the provided store. The store must already
// be connected and its schema initialised.
func New(store Store, opts ...Option) *Loader {
	opt := defaultOptions()
	for _, o := range opts {
		o(&opt)
	}

	return &Loader{
		store:           store,
		clock:           opt.clock,
		logger:          opt.logger,
		batch:           opt.batch,
		flushThreshold:  opt.flushThreshold,
		flushInterval:   opt.flushInterval,
		wfIDs:           make(map[string]int64),
		rootWfIDs:       make(map[string]int64),
		jobIDs:          make(map[jobKey]int64),
		instanceIDs:     make(map[instanceKey]int64),
		hostsMapped:     make(map[instanceKey]bool),
		taskMapFlushed:  make(map[string]bool),
		taskEdgeFlushed: make(map[string]bool),
		lastFlush:       opt.clock.Now(),
		perf:            opt.perf,
		startTime:       opt.clock.Now(),
	}
}

// Process ingests a single trace record. All failures are handled internally
// and logged; the only error ever returned is an unrecovered connectivity
// loss, which is fatal to the loader.
func (l *Loader) Process(ctx context.Context, r Record) error {
	tag := r.Event()
	l.logger.Debug(ctx, "process", MKV{"event": tag})

	if !l.batch {
		if err := l.checkConnection(ctx); err != nil {
			return err
		}
	}

	start := l.clock.Now()
	err := l.dispatch(ctx, r)
	if errors.Is(err, ErrConnLost) {
		l.logger.Error(ctx, errors.Wrap(err, "connection seemingly lost - attempting to refresh"), MKV{"event": tag})
		if gErr := l.checkConnection(ctx); gErr != nil {
			return gErr
		}
		err = l.dispatch(ctx, r)
	}
	if errors.Is(err, ErrConflict) {
		// An insert violated a constraint. Drop the record and carry on with
		// the stream. The replay after a reconnect lands here too when the
		// first attempt already committed part of the record.
		l.logger.Error(ctx, errors.Wrap(err, "insert failed for event"), MKV{"event": tag})
		err = nil
	}
	if err != nil {
		return err
	}

	if l.perf {
		l.insertTime += l.clock.Since(start)
		l.insertNum++
	}
	metrics.RecordLatency.WithLabelValues(tag).Observe(l.clock.Since(start).Seconds())

	return l.checkFlush(ctx)
}

// dispatch routes a record to its handler by event kind. Unknown tags under
// the job instance namespace fall back to the generic job state handler; all
// other unknown tags are logged and dropped.
func (l *Loader) dispatch(ctx context.Context, r Record) error {
	switch kind := KindOf(r.Event()); kind {
	case EventWorkflowPlan:
		return l.handleWorkflow(ctx, r)
	case EventWorkflowStart, EventWorkflowEnd:
		return l.handleWorkflowState(ctx, r, kind)
	case EventJobInfo:
		return l.handleJob(ctx, r)
	case EventJobEdge:
		return l.handleJobEdge(ctx, r)
	case EventTaskInfo:
		return l.handleTask(ctx, r)
	case EventTaskEdge:
		return l.handleTaskEdge(ctx, r)
	case EventSubmitStart, EventPreScriptStart, EventMainEnd, EventPostScriptEnd:
		return l.handleJobInstance(ctx, r, kind)
	case EventPreScriptTerm, EventPreScriptEnd, EventSubmitEnd,
		EventHeldStart, EventHeldEnd, EventMainStart, EventMainTerm,
		EventPostScriptStart, EventPostScriptTerm, EventImageInfo,
		EventAbortInfo, EventGridSubmitEnd, EventGlobusSubmitEnd:
		return l.handleJobState(ctx, r)
	case EventHostInfo:
		return l.handleHost(ctx, r)
	case EventInvocationEnd:
		return l.handleInvocation(ctx, r)
	case EventTaskMap:
		return l.handleTaskMap(ctx, r)
	case EventSubworkflowMap:
		return l.handleSubworkflowMap(ctx, r)
	case EventJobMonitoring:
		return l.handleJobMetrics(ctx, r)
	case EventStaticEnd:
		return l.handleStaticEnd(ctx, r)
	case EventStaticStart, EventGridSubmitStart, EventGlobusSubmitStart, EventInvocationStart:
		// Intentionally ignored markers.
		l.logger.Debug(ctx, "noop", MKV{"event": r.Event()})
		return nil
	default:
		if isJobInstanceTag(r.Event()) {
			l.logger.Debug(ctx, "corner case jobstate event", MKV{"event": r.Event()})
			return l.handleJobState(ctx, r)
		}
		metrics.UnhandledEvents.Inc()
		l.logger.Error(ctx, errors.Wrap(ErrUnhandledEvent, "", j.KV("event", r.Event())), nil)
		return nil
	}
}

// Finish forces a final flush in batched mode, logs the performance summary
// if enabled, and releases the storage connection.
func (l *Loader) Finish(ctx context.Context) error {
	if l.batch {
		l.logger.Debug(ctx, "executing final flush", nil)
		if err := l.hardFlush(ctx); err != nil {
			return err
		}
	}

	if l.perf && l.insertNum > 0 {
		runTime := l.clock.Since(l.startTime)
		l.logger.Debug(ctx, "loader performance", MKV{
			"insert_time": l.insertTime.String(),
			"insert_num":  itoa(l.insertNum),
			"total_time":  runTime.String(),
			"mean_time":   (l.insertTime / time.Duration(l.insertNum)).String(),
		})
	}

	return l.store.Close()
}
