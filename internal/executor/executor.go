// Package executor drives periodic tasks from one background goroutine.
//
// Each cycle the loop reads the clock once, runs every registered task in
// registration order with that timestamp, and then lets the metronome pace it to
// the next period boundary. A task that returns an error or panics is logged and
// counted; the rest of the cycle, and every later cycle, still runs.
//
// Registration is safe from any goroutine at any time. The task list is
// copy-on-write, so a cycle in progress always iterates a consistent snapshot and
// never blocks a writer.
package executor

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"cadence/internal/clock"
	"cadence/internal/metronome"
	"cadence/internal/observability"
	rtsup "cadence/internal/runtime/supervisor"
	logx "cadence/pkg/logx"
)

// DefaultPeriod is used when New is given no metronome.
const DefaultPeriod = 20 * time.Millisecond

type Option func(*Executor)

func WithLogger(log logx.Logger) Option {
	return func(e *Executor) { e.log = log }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithErrorLogRate bounds how many task failures per second reach the log.
// Failures past the limit are still counted; the next logged failure reports how
// many were suppressed.
func WithErrorLogRate(limit rate.Limit, burst int) Option {
	return func(e *Executor) {
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(limit, burst)
	}
}

type pacer struct{ m metronome.Metronome }

type Executor struct {
	clock   clock.Clock
	pacer   atomic.Pointer[pacer]
	log     logx.Logger
	metrics *observability.Metrics
	limiter *rate.Limiter
	sup     *rtsup.Supervisor

	tasks atomic.Pointer[[]Executable]

	// mu serializes task-list writers and guards the run state.
	mu          sync.Mutex
	keepRunning bool
	done        chan struct{} // non-nil while a loop goroutine is alive

	cycles     atomic.Uint64
	failures   atomic.Uint64
	overruns   atomic.Uint64
	suppressed atomic.Uint64
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running      bool
	Tasks        int
	Period       time.Duration
	Cycles       uint64
	TaskFailures uint64
	Overruns     uint64
}

func New(clk clock.Clock, m metronome.Metronome, opts ...Option) *Executor {
	if clk == nil {
		clk = clock.System()
	}
	e := &Executor{clock: clk}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	if e.limiter == nil {
		e.limiter = rate.NewLimiter(rate.Every(time.Second), 5)
	}
	if m == nil {
		m, _ = metronome.New(metronome.Park, DefaultPeriod)
	}
	e.pacer.Store(&pacer{m: m})
	empty := []Executable{}
	e.tasks.Store(&empty)
	e.sup = rtsup.New(context.Background(), rtsup.WithLogger(e.log))
	return e
}

// Register adds t to the end of the cycle. It returns false if t is nil, not
// comparable, or already registered.
func (e *Executor) Register(t Executable) bool {
	if !registrable(t) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := *e.tasks.Load()
	for _, x := range cur {
		if x == t {
			return false
		}
	}
	next := make([]Executable, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, t)
	e.tasks.Store(&next)
	return true
}

// Unregister removes t. It returns false if t is nil or was not registered.
// A cycle already in progress still runs t one last time.
func (e *Executor) Unregister(t Executable) bool {
	if !registrable(t) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := *e.tasks.Load()
	for i, x := range cur {
		if x != t {
			continue
		}
		next := make([]Executable, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		e.tasks.Store(&next)
		return true
	}
	return false
}

func (e *Executor) UnregisterAll() {
	e.mu.Lock()
	empty := []Executable{}
	e.tasks.Store(&empty)
	e.mu.Unlock()
}

// SetMetronome replaces the pacing strategy. The loop picks it up at its next boundary.
func (e *Executor) SetMetronome(m metronome.Metronome) {
	if m == nil {
		return
	}
	e.pacer.Store(&pacer{m: m})
}

// Start launches the loop goroutine if none is running. It is idempotent, and
// calling it while a stop is still pending keeps the existing loop alive.
func (e *Executor) Start() {
	e.mu.Lock()
	e.keepRunning = true
	if e.done != nil {
		e.mu.Unlock()
		return
	}
	done := make(chan struct{})
	e.done = done
	e.mu.Unlock()

	e.sup.Go("executor.loop", func(ctx context.Context) error {
		return e.loop(done)
	})
	e.log.Info("executor started", logx.Duration("period", e.pacer.Load().m.Period()), logx.Int("tasks", len(*e.tasks.Load())))
}

// Stop asks the loop to exit at its next boundary. It neither interrupts a task
// that is running nor cuts the current pause short. Use Wait to block until exit.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.keepRunning = false
	e.mu.Unlock()
}

// Wait blocks until the loop goroutine has exited or ctx is done.
func (e *Executor) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done != nil && e.keepRunning
}

func (e *Executor) Snapshot() Snapshot {
	return Snapshot{
		Running:      e.Running(),
		Tasks:        len(*e.tasks.Load()),
		Period:       e.pacer.Load().m.Period(),
		Cycles:       e.cycles.Load(),
		TaskFailures: e.failures.Load(),
		Overruns:     e.overruns.Load(),
	}
}

func (e *Executor) loop(done chan struct{}) error {
	defer e.exited(done)
	for e.proceed(done) {
		e.cycle()
		e.pacer.Load().m.Pause()
	}
	return nil
}

// cycle runs every registered task once against a single clock reading.
func (e *Executor) cycle() {
	start := time.Now()
	now := e.clock.CurrentTimeInMillis()
	for _, t := range *e.tasks.Load() {
		e.runTask(t, now)
	}
	took := time.Since(start)

	period := e.pacer.Load().m.Period()
	e.cycles.Add(1)
	if took > period {
		e.overruns.Add(1)
	}
	e.metrics.ObserveCycle(took, period)
}

// proceed is the loop boundary. When a stop is pending it detaches the loop
// under the lock, so a concurrent Start spawns a fresh goroutine.
func (e *Executor) proceed(done chan struct{}) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.keepRunning {
		return true
	}
	if e.done == done {
		e.done = nil
	}
	return false
}

func (e *Executor) exited(done chan struct{}) {
	e.mu.Lock()
	if e.done == done {
		e.done = nil
	}
	e.mu.Unlock()
	close(done)
	e.log.Info("executor stopped", logx.Uint64("cycles", e.cycles.Load()))
}

func (e *Executor) runTask(t Executable, now int64) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &panicError{value: r, stack: string(debug.Stack())}
			}
		}()
		return t.Execute(now)
	}()
	if err == nil {
		return
	}

	name := taskName(t)
	e.failures.Add(1)
	e.metrics.TaskFailed(name)

	if !e.limiter.Allow() {
		e.suppressed.Add(1)
		return
	}
	fields := []logx.Field{logx.String("task", name), logx.Int64("time_ms", now), logx.Err(err)}
	if n := e.suppressed.Swap(0); n > 0 {
		fields = append(fields, logx.Uint64("suppressed", n))
	}
	var pe *panicError
	if errors.As(err, &pe) {
		fields = append(fields, logx.Stack(pe.stack))
	}
	e.log.Error("task failed", fields...)
}
