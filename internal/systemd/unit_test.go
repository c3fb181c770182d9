package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/internal/command"
	"cadence/internal/scheduler"
	logx "cadence/pkg/logx"
)

type fakeJob struct {
	mu      sync.Mutex
	calls   []string
	release chan error
}

func (f *fakeJob) run(ctx context.Context, op UnitOp, unit string) error {
	f.mu.Lock()
	f.calls = append(f.calls, string(op)+" "+unit)
	f.mu.Unlock()
	select {
	case err := <-f.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeJob) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestUnitName(t *testing.T) {
	assert.Equal(t, "nginx.service", UnitName(" nginx "))
	assert.Equal(t, "backup.timer", UnitName("backup.timer"))
	assert.Equal(t, "", UnitName(""))
}

func TestUnitCommandWaitsForJob(t *testing.T) {
	job := &fakeJob{release: make(chan error, 1)}
	cmd := newUnitCommand(UnitRestart, "nginx", job.run, logx.Nop())
	assert.Equal(t, "restart-unit(nginx.service)", command.Describe(cmd))

	cmd.Initialize()
	require.Eventually(t, func() bool { return len(job.seen()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"restart nginx.service"}, job.seen())
	assert.False(t, cmd.Execute())

	job.release <- errors.New("job failed")
	require.Eventually(t, cmd.Execute, time.Second, time.Millisecond)
	assert.EqualError(t, cmd.Err(), "job failed")
	cmd.End()

	// Reusable: a second run starts a fresh job.
	cmd.Initialize()
	job.release <- nil
	require.Eventually(t, cmd.Execute, time.Second, time.Millisecond)
	assert.NoError(t, cmd.Err())
	cmd.End()
}

func TestUnitCommandInterruptCancelsJob(t *testing.T) {
	job := &fakeJob{release: make(chan error)}
	lock := command.NewRequirable("unit nginx.service")
	first := newUnitCommand(UnitStop, "nginx", job.run, logx.Nop(), command.Requires(lock))
	second := newUnitCommand(UnitStart, "nginx", job.run, logx.Nop(), command.Requires(lock))

	s := scheduler.New()
	h1, err := s.Submit(first)
	require.NoError(t, err)
	require.NoError(t, s.Execute(0))
	assert.Equal(t, scheduler.Running, h1.State())

	h2, err := s.Submit(second)
	require.NoError(t, err)
	require.NoError(t, s.Execute(20))
	assert.Equal(t, scheduler.Interrupted, h1.State())
	assert.Equal(t, scheduler.Running, h2.State())

	require.Eventually(t, func() bool {
		_ = s.Execute(40)
		return first.Execute()
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, first.Err(), context.Canceled)

	s.KillAll()
	require.NoError(t, s.Execute(60))
	assert.Equal(t, scheduler.Interrupted, h2.State())
}
