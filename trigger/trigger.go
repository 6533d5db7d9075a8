// Package trigger runs pattern interval workflow triggers. A trigger scans a
// file glob on a fixed schedule and submits a new workflow run for every
// batch of input files that appeared since its previous scan. A trigger
// retires itself when a scan finds nothing new or a submission fails.
package trigger

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"

	"github.com/flowtrace/loader"
	"github.com/flowtrace/loader/internal/logger"
)

// Submitter starts one workflow run. The default implementation shells out to
// the submit command with the run name, the workflow script and the matched
// input files.
type Submitter func(ctx context.Context, runName, script string, inputs, extraArgs []string) error

// Config describes one pattern interval trigger. Triggers are identified by
// Ensemble and Name; starting a second trigger with the same identity fails.
type Config struct {
	Ensemble           string
	Name               string
	WorkflowNamePrefix string
	FilePattern        string
	WorkflowScript     string
	Interval           time.Duration
	AdditionalArgs     []string
}

func (c Config) id() string {
	return c.Ensemble + "::" + c.Name
}

type options struct {
	clock  clock.PassiveClock
	logger loader.Logger
	submit Submitter
}

type Option func(*options)

func WithClock(c clock.PassiveClock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithLogger(l loader.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithSubmitter(s Submitter) Option {
	return func(o *options) {
		o.submit = s
	}
}

type Manager struct {
	opts options

	cron *cron.Cron

	mu      sync.Mutex
	running map[string]*state
}

type state struct {
	cfg     Config
	entry   cron.EntryID
	lastRan time.Time
}

func New(opts ...Option) *Manager {
	o := options{
		clock:  clock.RealClock{},
		logger: logger.New(os.Stderr),
		submit: execSubmit,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Manager{
		opts:    o,
		cron:    cron.New(),
		running: make(map[string]*state),
	}
}

func (m *Manager) Start() {
	m.cron.Start()
}

// Stop halts scheduling and waits for in flight scans to complete.
func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
}

// StartTrigger registers and schedules a trigger.
func (m *Manager) StartTrigger(ctx context.Context, cfg Config) error {
	if cfg.Interval <= 0 {
		return errors.New("non positive trigger interval", j.KV("trigger", cfg.id()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[cfg.id()]; ok {
		return errors.New("trigger already running", j.KV("trigger", cfg.id()))
	}

	st := &state{cfg: cfg}
	spec := fmt.Sprintf("@every %s", cfg.Interval)
	entry, err := m.cron.AddFunc(spec, func() {
		m.fire(ctx, st)
	})
	if err != nil {
		return errors.Wrap(err, "schedule trigger", j.KV("spec", spec))
	}

	st.entry = entry
	m.running[cfg.id()] = st

	m.opts.logger.Debug(ctx, "trigger started", loader.MKV{
		"trigger": cfg.id(),
		"pattern": cfg.FilePattern,
	})
	return nil
}

// StopTrigger removes a trigger by identity.
func (m *Manager) StopTrigger(ctx context.Context, ensemble, name string) error {
	id := ensemble + "::" + name

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.running[id]
	if !ok {
		return errors.Wrap(loader.ErrNotFound, "no such trigger", j.KV("trigger", id))
	}

	m.cron.Remove(st.entry)
	delete(m.running, id)

	m.opts.logger.Debug(ctx, "trigger stopped", loader.MKV{"trigger": id})
	return nil
}

// Running lists the identities of all registered triggers.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id := range m.running {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) fire(ctx context.Context, st *state) {
	now := m.opts.clock.Now()

	inputs, err := scanPattern(st.cfg.FilePattern, st.lastRan, now)
	if err != nil {
		m.opts.logger.Error(ctx, err, loader.MKV{"trigger": st.cfg.id()})
		m.retire(ctx, st)
		return
	}
	if len(inputs) == 0 {
		m.opts.logger.Debug(ctx, "no new input files, trigger done", loader.MKV{
			"trigger": st.cfg.id(),
		})
		m.retire(ctx, st)
		return
	}

	runName := fmt.Sprintf("%s.%s_%d", st.cfg.Ensemble, st.cfg.WorkflowNamePrefix, now.Unix())
	err = m.opts.submit(ctx, runName, st.cfg.WorkflowScript, inputs, st.cfg.AdditionalArgs)
	if err != nil {
		m.opts.logger.Error(ctx, err, loader.MKV{
			"trigger": st.cfg.id(),
			"run":     runName,
		})
		m.retire(ctx, st)
		return
	}

	m.opts.logger.Debug(ctx, "workflow submitted", loader.MKV{
		"trigger": st.cfg.id(),
		"run":     runName,
		"inputs":  strings.Join(inputs, " "),
	})
	st.lastRan = now
}

func (m *Manager) retire(ctx context.Context, st *state) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cron.Remove(st.entry)
	delete(m.running, st.cfg.id())
}

// scanPattern returns the files matching pattern whose modification time t
// satisfies since <= t < now, so each file is picked up by exactly one scan.
func scanPattern(pattern string, since, now time.Time) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrap(err, "bad file pattern", j.KV("pattern", pattern))
	}

	var inputs []string
	for _, match := range matches {
		abs, err := filepath.Abs(match)
		if err != nil {
			return nil, errors.Wrap(err, "resolve match")
		}
		info, err := os.Stat(abs)
		if err != nil {
			// Matched but already gone, skip it.
			continue
		}
		mt := info.ModTime()
		if !mt.Before(since) && mt.Before(now) {
			inputs = append(inputs, abs)
		}
	}
	return inputs, nil
}

func execSubmit(ctx context.Context, runName, script string, inputs, extraArgs []string) error {
	args := []string{"submit", runName, script, "--inputs"}
	args = append(args, inputs...)
	args = append(args, extraArgs...)

	cmd := exec.CommandContext(ctx, "flowtrace-em", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err != nil {
		return errors.Wrap(err, "submit command failed", j.KV("run", runName))
	}
	return nil
}
