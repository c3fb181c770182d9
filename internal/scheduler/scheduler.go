package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"cadence/internal/command"
	"cadence/internal/observability"
	logx "cadence/pkg/logx"
)

type Option func(*Scheduler)

func WithListener(l Listener) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.listener = l
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

type Scheduler struct {
	listener Listener
	log      logx.Logger
	metrics  *observability.Metrics
	cmds     *commands

	mu    sync.Mutex
	queue []*tree
	kill  bool

	// pending counts submissions not yet admitted or dropped. It is released only
	// after admission, so IsEmpty never sees a tree in neither place.
	pending   atomic.Int64
	submitted atomic.Uint64
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Live      int64
	Queued    int64
	Submitted uint64
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{listener: NopListener{}}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.cmds = newCommands(s.log, s.metrics)
	return s
}

// Submit builds the runner tree for cmd and queues it for the next Execute. A nil
// command, typed nil pointers included, is ignored and yields the zero Handle.
// Errors wrap ErrInvalidComposition.
func (s *Scheduler) Submit(cmd command.Command) (Handle, error) {
	if command.IsNil(cmd) {
		return Handle{}, nil
	}
	t := &tree{
		id:       uuid.New(),
		cmd:      cmd,
		listener: s.listener,
		log:      s.log,
		metrics:  s.metrics,
	}
	root, err := build(t, cmd, nil)
	if err != nil {
		return Handle{}, err
	}
	t.root = root
	t.requires = requirements(root)

	s.pending.Add(1)
	s.submitted.Add(1)
	s.mu.Lock()
	s.queue = append(s.queue, t)
	s.mu.Unlock()
	return Handle{t: t}, nil
}

func (s *Scheduler) Name() string { return "scheduler" }

// Execute runs one tick. It must only be called from one goroutine at a time.
func (s *Scheduler) Execute(timeInMillis int64) error {
	s.mu.Lock()
	queued := s.queue
	s.queue = nil
	kill := s.kill
	s.kill = false
	s.mu.Unlock()

	if kill {
		s.cmds.killAll(timeInMillis)
	}
	for _, t := range queued {
		if t.cancel.Load() {
			t.now = timeInMillis
			t.interrupt()
			t.finished.Store(true)
		} else {
			s.cmds.admit(t, timeInMillis)
		}
		s.pending.Add(-1)
	}
	s.cmds.step(timeInMillis)
	return nil
}

// KillAll interrupts every live and queued tree at the next Execute.
// Submissions made after KillAll returns are not affected.
func (s *Scheduler) KillAll() {
	s.mu.Lock()
	s.kill = true
	for _, t := range s.queue {
		t.cancel.Store(true)
	}
	s.mu.Unlock()
}

// IsEmpty reports whether no tree is live or queued.
func (s *Scheduler) IsEmpty() bool {
	return s.pending.Load() == 0 && s.cmds.isEmpty()
}

func (s *Scheduler) Snapshot() Snapshot {
	return Snapshot{
		Live:      s.cmds.live.Load(),
		Queued:    s.pending.Load(),
		Submitted: s.submitted.Load(),
	}
}

// Handle refers to one submission. The zero Handle, returned for a nil
// command, reports COMPLETE and Done.
type Handle struct {
	t *tree
}

func (h Handle) ID() uuid.UUID {
	if h.t == nil {
		return uuid.Nil
	}
	return h.t.id
}

// State is PENDING until any runner of the tree starts, RUNNING until the
// outermost runner is terminal, then that runner's final state. Forks may
// outlive it; see Done.
func (h Handle) State() State {
	if h.t == nil {
		return Complete
	}
	return State(h.t.state.Load())
}

// Done reports whether the whole tree, forks included, has left the scheduler.
func (h Handle) Done() bool {
	return h.t == nil || h.t.finished.Load()
}

// Cancel interrupts the tree at the next Execute. It is a no-op once the tree
// is done.
func (h Handle) Cancel() {
	if h.t != nil {
		h.t.cancel.Store(true)
	}
}
