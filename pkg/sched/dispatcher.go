// Package sched implements the job lifecycle engine: the capacity-aware
// dispatcher loop, the afterok dependency resolver, per-job supervisors,
// and the queue operations (submit, hold, release, cancel, cleanup) that
// mutate the store.
package sched

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sbsched/sbs/pkg/events"
	"github.com/sbsched/sbs/pkg/mail"
	"github.com/sbsched/sbs/pkg/store"
)

// Config configures the dispatcher loop.
type Config struct {
	// MaxProcs is the CPU slot budget shared by running jobs.
	// Default: host CPU count.
	MaxProcs int

	// MaxMemMB is the memory budget in megabytes. Zero or -1 means
	// unlimited. Memory is accounting-only; the kernel is not asked to
	// enforce it.
	MaxMemMB int64

	// Forever keeps the loop alive when the queue drains instead of
	// exiting once no non-terminal jobs remain.
	Forever bool

	// PollInterval is the idle sleep between ticks that changed nothing.
	// Default: 10s.
	PollInterval time.Duration

	// ReclaimStale lets the runner take over a run.lock whose recorded
	// owner process is provably dead.
	ReclaimStale bool
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxProcs:     runtime.NumCPU(),
		MaxMemMB:     -1,
		PollInterval: 10 * time.Second,
	}
}

type jobRes struct {
	procs int
	memMB int64
}

// Dispatcher is the runner: it admits QUEUED jobs to RUNNING in id order
// within the resource budgets, one dispatcher per store, and communicates
// with its supervisors only through the store.
//
// Dispatcher is safe for single use only. Create a new Dispatcher for
// each run.
type Dispatcher struct {
	store    *store.Store
	cfg      Config
	logger   *zap.Logger
	notifier mail.Notifier
	events   *events.Writer
	runnerID string

	availProcs int
	availMemMB int64

	// declared resources per admitted job, for release at reap time
	// even when the job record has been deleted underneath us.
	running map[int]jobRes

	wg sync.WaitGroup
}

// New creates a dispatcher for one run over st.
func New(st *store.Store, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxProcs <= 0 {
		cfg.MaxProcs = def.MaxProcs
	}
	if cfg.MaxMemMB <= 0 {
		cfg.MaxMemMB = -1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Dispatcher{
		store:    st,
		cfg:      cfg,
		logger:   zap.NewNop(),
		notifier: mail.Discard{},
		runnerID: uuid.New().String(),
		running:  make(map[int]jobRes),
	}
}

// WithLogger sets the runner's logger. Returns the dispatcher for chaining.
func (d *Dispatcher) WithLogger(logger *zap.Logger) *Dispatcher {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// WithNotifier sets the mail notifier used for terminal-state and
// dependency-cancellation notices.
func (d *Dispatcher) WithNotifier(n mail.Notifier) *Dispatcher {
	if n != nil {
		d.notifier = n
	}
	return d
}

// WithEvents attaches a JSONL event writer for runner lifecycle records.
func (d *Dispatcher) WithEvents(w *events.Writer) *Dispatcher {
	d.events = w
	return d
}

// RunnerID identifies this run; it is stamped into the run.lock owner
// record and every event record.
func (d *Dispatcher) RunnerID() string {
	return d.runnerID
}

// Run executes the dispatcher loop until the queue drains (unless
// Forever), a shutdown is requested, or ctx is cancelled.
//
// On ctx cancellation the loop exits promptly and releases run.lock;
// already-started children keep running and their running-set markers
// stay behind, to be re-adopted by the next runner's startup scan.
func (d *Dispatcher) Run(ctx context.Context) error {
	runLock := d.store.RunLock()
	if err := runLock.TryAcquire(); err != nil {
		if d.cfg.ReclaimStale && runLock.Stale() {
			d.logger.Warn("Reclaiming stale run lock", zap.String("path", runLock.Path()))
			if err := runLock.Release(); err != nil {
				return err
			}
			if err := runLock.TryAcquire(); err != nil {
				return err
			}
		} else {
			return fmt.Errorf("another runner is active: %w", err)
		}
	}
	defer func() { _ = runLock.Release() }()
	if err := runLock.WriteOwner(d.runnerID, os.Getpid()); err != nil {
		return err
	}

	if err := d.adoptRunning(); err != nil {
		return err
	}

	d.logger.Info("Runner started",
		zap.String("runner_id", d.runnerID),
		zap.Int("max_procs", d.cfg.MaxProcs),
		zap.Int64("max_mem_mb", d.cfg.MaxMemMB),
		zap.Bool("forever", d.cfg.Forever))
	d.emitRunner(events.TypeRunnerStart)
	defer d.emitRunner(events.TypeRunnerStop)

	for {
		done, changed, err := d.tick(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !changed {
			select {
			case <-ctx.Done():
				d.logger.Info("Runner interrupted", zap.String("runner_id", d.runnerID))
				return nil
			case <-time.After(d.cfg.PollInterval):
			}
		} else if ctx.Err() != nil {
			d.logger.Info("Runner interrupted", zap.String("runner_id", d.runnerID))
			return nil
		}
	}
}

// adoptRunning seeds the availability counters from the on-disk running
// set, so a runner started after a crash resumes the prior accounting.
func (d *Dispatcher) adoptRunning() error {
	d.availProcs = d.cfg.MaxProcs
	d.availMemMB = d.cfg.MaxMemMB

	ids, err := d.store.RunningIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		res := d.declaredResources(id)
		d.running[id] = res
		d.availProcs -= res.procs
		if d.availMemMB >= 0 {
			d.availMemMB -= res.memMB
		}
		d.logger.Info("Adopted running job",
			zap.Int("job_id", id),
			zap.Int("procs", res.procs),
			zap.Int64("mem_mb", res.memMB))
	}
	return nil
}

func (d *Dispatcher) declaredResources(id int) jobRes {
	res := jobRes{procs: 1}
	settings, err := d.store.ReadSettings(id)
	if err != nil {
		return res
	}
	res.procs = settings.Procs()
	if mem, err := settings.MemMB(); err == nil && mem > 0 {
		res.memMB = mem
	}
	return res
}

// tick runs one dispatcher iteration, strictly in the order
// reap → shutdown-check → exit-check → dependency resolve → admission.
func (d *Dispatcher) tick(ctx context.Context) (done, changed bool, err error) {
	changed = d.reap() || changed

	requested, kill, err := d.store.ConsumeShutdown()
	if err != nil {
		return false, false, err
	}
	if requested {
		return true, changed, d.shutdown(kill)
	}

	if !d.cfg.Forever {
		idle, err := d.queueDrained()
		if err != nil {
			return false, false, err
		}
		if idle {
			d.wg.Wait()
			d.logger.Info("Queue drained, runner exiting")
			return true, changed, nil
		}
	}

	changed = d.resolve() || changed
	changed = d.admit(ctx) || changed

	return false, changed, nil
}

// reap releases the resources of jobs whose supervisor has moved them out
// of RUNNING, and drops their running-set markers.
func (d *Dispatcher) reap() bool {
	ids, err := d.store.RunningIDs()
	if err != nil {
		d.logger.Warn("Failed to scan running set", zap.Error(err))
		return false
	}
	changed := false
	for _, id := range ids {
		state, err := d.store.ReadStatus(id)
		if err == nil && state == store.StateRunning {
			continue
		}

		res, ok := d.running[id]
		if !ok {
			res = d.declaredResources(id)
		}
		delete(d.running, id)
		d.availProcs += res.procs
		if d.availMemMB >= 0 {
			d.availMemMB += res.memMB
		}
		if err := d.store.UnmarkRunning(id); err != nil {
			d.logger.Warn("Failed to unmark running job", zap.Int("job_id", id), zap.Error(err))
		}
		changed = true

		rc, haveRC, _ := d.store.ReadReturnCode(id)
		var rcPtr *int
		if haveRC {
			rcPtr = &rc
		}
		d.logger.Info("Reaped job",
			zap.Int("job_id", id),
			zap.String("state", stateLabel(state, err)),
			zap.Int("avail_procs", d.availProcs),
			zap.Int64("avail_mem_mb", d.availMemMB))
		d.emitJob(events.TypeReap, id, res, stateLabel(state, err), rcPtr)
	}
	return changed
}

func stateLabel(state store.State, err error) string {
	if err != nil {
		return "gone"
	}
	return state.Name()
}

// queueDrained reports whether no job remains in a non-terminal state.
func (d *Dispatcher) queueDrained() (bool, error) {
	ids, err := d.store.ListIDs()
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		state, err := d.store.ReadStatus(id)
		if err != nil {
			// Deleted or half-written records do not keep the runner alive.
			continue
		}
		if !state.Terminal() {
			return false, nil
		}
	}
	return true, nil
}

// admit repeatedly selects the lowest-id QUEUED job that fits the current
// availability, spawns its supervisor, and marks it RUNNING.
//
// The memory check is strictly less-than: a job whose declared memory
// exactly equals the remaining budget is not admitted. Long-standing
// behavior, kept on purpose.
func (d *Dispatcher) admit(ctx context.Context) bool {
	changed := false
	for {
		if ctx.Err() != nil || d.availProcs <= 0 {
			return changed
		}
		id, res, ok := d.selectRunnable()
		if !ok {
			return changed
		}

		d.availProcs -= res.procs
		if d.availMemMB >= 0 {
			d.availMemMB -= res.memMB
		}
		d.running[id] = res

		if err := d.store.AppendStatus(id, store.StateRunning, time.Now()); err != nil {
			d.logger.Error("Failed to mark job running", zap.Int("job_id", id), zap.Error(err))
			return changed
		}
		if err := d.store.MarkRunning(id); err != nil {
			d.logger.Error("Failed to add running marker", zap.Int("job_id", id), zap.Error(err))
		}

		sup := &Supervisor{
			Store:    d.store,
			Logger:   d.logger,
			Notifier: d.notifier,
		}
		d.wg.Add(1)
		go func(jobID int) {
			defer d.wg.Done()
			sup.Run(jobID)
		}(id)

		d.logger.Info("Admitted job",
			zap.Int("job_id", id),
			zap.Int("procs", res.procs),
			zap.Int64("mem_mb", res.memMB),
			zap.Int("avail_procs", d.availProcs),
			zap.Int64("avail_mem_mb", d.availMemMB))
		d.emitJob(events.TypeAdmit, id, res, store.StateRunning.Name(), nil)
		changed = true
	}
}

// selectRunnable scans jobs by ascending id for the first QUEUED job that
// fits the availability counters.
func (d *Dispatcher) selectRunnable() (int, jobRes, bool) {
	ids, err := d.store.ListIDs()
	if err != nil {
		d.logger.Warn("Failed to list jobs", zap.Error(err))
		return 0, jobRes{}, false
	}
	for _, id := range ids {
		state, err := d.store.ReadStatus(id)
		if err != nil || state != store.StateQueued {
			continue
		}
		res := d.declaredResources(id)
		if res.procs > d.availProcs {
			continue
		}
		if d.availMemMB >= 0 && res.memMB >= d.availMemMB {
			continue
		}
		return id, res, true
	}
	return 0, jobRes{}, false
}

// shutdown performs the sentinel-requested exit. With kill set, every
// running job is cancelled first; either way the loop waits for its
// supervisors and reaps them before returning.
func (d *Dispatcher) shutdown(kill bool) error {
	d.logger.Info("Shutdown requested", zap.Bool("kill", kill))
	if d.events != nil {
		_ = d.events.WriteShutdown(&events.ShutdownEvent{Kill: kill})
	}
	if kill {
		ids, err := d.store.RunningIDs()
		if err != nil {
			return err
		}
		for _, id := range ids {
			cancelled, err := Cancel(d.store, id)
			if err != nil {
				d.logger.Warn("Failed to cancel running job", zap.Int("job_id", id), zap.Error(err))
				continue
			}
			if cancelled {
				res := d.running[id]
				d.emitJob(events.TypeCancel, id, res, store.StateCancel.Name(), nil)
			}
		}
	}
	d.wg.Wait()
	d.reap()
	return nil
}

func (d *Dispatcher) emitRunner(eventType string) {
	if d.events == nil {
		return
	}
	ev := &events.RunnerEvent{
		PID:      os.Getpid(),
		MaxProcs: d.cfg.MaxProcs,
		MaxMemMB: d.cfg.MaxMemMB,
	}
	switch eventType {
	case events.TypeRunnerStart:
		_ = d.events.WriteRunnerStart(ev)
	case events.TypeRunnerStop:
		_ = d.events.WriteRunnerStop(ev)
	}
}

func (d *Dispatcher) emitJob(eventType string, id int, res jobRes, state string, rc *int) {
	if d.events == nil {
		return
	}
	ev := &events.JobEvent{
		JobID:      id,
		State:      state,
		Procs:      res.procs,
		MemMB:      res.memMB,
		ReturnCode: rc,
		AvailProcs: d.availProcs,
		AvailMemMB: d.availMemMB,
	}
	switch eventType {
	case events.TypeAdmit:
		_ = d.events.WriteAdmit(ev)
	case events.TypeReap:
		_ = d.events.WriteReap(ev)
	case events.TypeCancel:
		_ = d.events.WriteCancel(ev)
	}
}
