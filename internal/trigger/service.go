package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cadence/internal/command"
	"cadence/internal/scheduler"
	logx "cadence/pkg/logx"
)

const submitWarnThrottle = 5 * time.Second

// Submitter accepts commands. *scheduler.Scheduler satisfies it.
type Submitter interface {
	Submit(cmd command.Command) (scheduler.Handle, error)
}

// Factory builds the command for one firing. It runs on a cron goroutine.
type Factory func() command.Command

type Config struct {
	Timezone string // IANA name; empty means local time
}

type Options struct {
	// AllowOverlap submits even when the previous firing's command is still live.
	// By default such a firing is skipped.
	AllowOverlap bool
	// Spread delays the first firing of an interval trigger by a random amount up
	// to min(interval, 30s), so triggers added together do not fire together.
	Spread bool
}

type triggerDef struct {
	name    string
	spec    Spec
	factory Factory
	opt     Options
	entryID cron.EntryID

	mu      sync.Mutex
	last    scheduler.Handle
	fired   uint64
	skipped uint64
	failed  uint64
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   []*triggerDef
	submit Submitter

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

type Info struct {
	Name    string
	Spec    string
	Next    time.Time
	Prev    time.Time
	Fired   uint64
	Skipped uint64
	Failed  uint64
}

type Snapshot struct {
	Running  bool
	Timezone string
	Triggers []Info
}

func New(cfg Config, submit Submitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		submit: submit,
		// Both 5-field and 6-field (leading seconds) specs are accepted.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		lastWarn: map[string]time.Time{},
	}
}

// Add registers a trigger, replacing any trigger with the same name.
func (s *Service) Add(name, schedule string, factory Factory) error {
	return s.AddOpt(name, schedule, Options{}, factory)
}

func (s *Service) AddOpt(name, schedule string, opt Options, factory Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	if factory == nil {
		return ErrNoFactory
	}
	spec, err := s.parse(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &triggerDef{name: name, spec: spec, factory: factory, opt: opt}
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Registered with cron on Start.
		return nil
	}
	if err := s.scheduleLocked(d); err != nil {
		s.log.Error("trigger register failed", logx.String("trigger", name), logx.String("spec", spec.Expr()), logx.Err(err))
		return err
	}
	s.log.Debug("trigger registered", logx.String("trigger", name), logx.String("spec", spec.Expr()), logx.String("next", s.previewLocked(spec, 3)))
	return nil
}

// Validate reports whether schedule would be accepted by Add.
func (s *Service) Validate(schedule string) error {
	_, err := s.parse(schedule)
	return err
}

func (s *Service) parse(schedule string) (Spec, error) {
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return Spec{}, err
	}
	if spec.Kind == KindCron {
		if _, err := s.parser.Parse(spec.Cron); err != nil {
			return Spec{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	}
	return spec, nil
}

// Remove unregisters the named trigger. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("trigger removed", logx.String("trigger", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

// Fire runs the named trigger once, now, as if its schedule had come due.
func (s *Service) Fire(name string) error {
	s.mu.Lock()
	var d *triggerDef
	for _, x := range s.defs {
		if x.name == name {
			d = x
			break
		}
	}
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, name)
	}
	return s.fire(d)
}

func (s *Service) fire(d *triggerDef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opt.AllowOverlap && !d.last.Done() {
		d.skipped++
		s.log.Debug("trigger skipped", logx.String("trigger", d.name), logx.Err(ErrStillRunning))
		return ErrStillRunning
	}

	cmd, err := build(d.factory)
	if err == nil {
		var h scheduler.Handle
		h, err = s.submit.Submit(cmd)
		if err == nil {
			d.last = h
			d.fired++
			return nil
		}
	}
	d.failed++
	s.reportSubmitError(d.name, err)
	return err
}

func build(f Factory) (cmd command.Command, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trigger factory panicked: %v", r)
		}
	}()
	cmd = f()
	if cmd == nil {
		return nil, errors.New("trigger factory returned nil")
	}
	return cmd, nil
}

func (s *Service) scheduleLocked(d *triggerDef) error {
	job := cron.FuncJob(func() { _ = s.fire(d) })

	if d.spec.Kind == KindInterval {
		sched := cron.Schedule(cron.Every(d.spec.Every))
		if d.opt.Spread {
			sched = withSpread(sched, d.spec.Every, time.Now().In(s.loc), d.name)
		}
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}
	id, err := s.c.AddJob(d.spec.Cron, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// Start begins firing. It is idempotent.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("trigger service started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = s.location()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.scheduleLocked(d); err != nil {
			s.log.Error("trigger register failed", logx.String("trigger", d.name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts firing and waits for running cron jobs (submissions only) or ctx.
// Definitions are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger service stopped")
}

// Apply swaps the config. A timezone change restarts cron so calendar
// triggers are recomputed in the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || !changed {
		return
	}
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("trigger service restarted", logx.String("tz", s.loc.String()))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.loc
	if loc == nil {
		loc = s.location()
	}
	out := Snapshot{Running: s.c != nil, Timezone: loc.String(), Triggers: make([]Info, 0, len(s.defs))}
	for _, d := range s.defs {
		it := Info{Name: d.name, Spec: d.spec.Expr()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		d.mu.Lock()
		it.Fired, it.Skipped, it.Failed = d.fired, d.skipped, d.failed
		d.mu.Unlock()
		out.Triggers = append(out.Triggers, it)
	}
	return out
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewLocked lists the next n firing times when debug logging is on.
func (s *Service) previewLocked(spec Spec, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec.Expr())
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}

// reportSubmitError logs at most one warning per trigger per throttle window.
func (s *Service) reportSubmitError(name string, err error) {
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < submitWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()
	s.log.Warn("trigger failed to submit command", logx.String("trigger", name), logx.Err(err))
}
