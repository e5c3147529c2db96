package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/manthysbr/censord/internal/core/domain"
)

func testScalerConfig() domain.ScalerConfig {
	return domain.DefaultConfig().Scaler
}

func newTestAutoscaler(t *testing.T, cfg domain.ScalerConfig, rt *fakeRuntime, obs *staticBacklog) (*Autoscaler, *testclock.FakeClock) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	fakeClock := testclock.NewFakeClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	a, err := NewAutoscaler(logger, cfg, rt, obs, WithScalerClock(fakeClock))
	require.NoError(t, err)
	return a, fakeClock
}

func TestDesiredWorkers(t *testing.T) {
	cfg := testScalerConfig() // min 1, max 5, C 600, λ 50, Tr 2s

	tests := []struct {
		name    string
		backlog int
		mutate  func(*domain.ScalerConfig)
		want    int
	}{
		{name: "reference case", backlog: 1000, want: 2},
		{name: "idle floor", backlog: 0, want: 1},
		{name: "exactly one worker", backlog: 500, want: 1},
		{name: "just over one worker", backlog: 501, want: 2},
		{name: "clamped to max", backlog: 100000, want: 5},
		{name: "negative backlog", backlog: -10, want: 1},
		{name: "raised floor", backlog: 0, mutate: func(c *domain.ScalerConfig) { c.MinWorkers = 3 }, want: 3},
		{name: "zero capacity with demand", backlog: 1, mutate: func(c *domain.ScalerConfig) { c.Capacity = 0 }, want: 5},
		{name: "zero capacity without demand", backlog: 0, mutate: func(c *domain.ScalerConfig) {
			c.Capacity = 0
			c.ArrivalRate = 0
		}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			assert.Equal(t, tt.want, DesiredWorkers(tt.backlog, c))
		})
	}
}

func TestDesiredWorkers_AlwaysWithinBounds(t *testing.T) {
	for _, bounds := range [][2]int{{1, 5}, {0, 1}, {2, 2}, {0, 10}} {
		cfg := testScalerConfig()
		cfg.MinWorkers, cfg.MaxWorkers = bounds[0], bounds[1]
		for b := 0; b <= 20000; b += 37 {
			n := DesiredWorkers(b, cfg)
			require.GreaterOrEqual(t, n, cfg.MinWorkers, "backlog %d", b)
			require.LessOrEqual(t, n, cfg.MaxWorkers, "backlog %d", b)
		}
	}
}

func TestNewAutoscaler_RejectsInvalidConfig(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := testScalerConfig()
	cfg.MaxWorkers = 0

	_, err := NewAutoscaler(logger, cfg, newFakeRuntime(), &staticBacklog{})
	assert.Error(t, err)
}

func TestAutoscaler_ScalesUpOneWorkerPerTickWithCooldown(t *testing.T) {
	rt := newFakeRuntime()
	obs := &staticBacklog{backlog: 2000} // desired ceil(2100/600) = 4
	a, fakeClock := newTestAutoscaler(t, testScalerConfig(), rt, obs)
	ctx := context.Background()

	report := a.Tick(ctx)
	assert.Equal(t, ActionScaleUp, report.Action)
	assert.Equal(t, 4, report.Desired)
	assert.Equal(t, 1, report.Running)

	report = a.Tick(ctx)
	assert.Equal(t, ActionCooldown, report.Action)
	assert.Equal(t, 1, a.Running())

	fakeClock.Step(29 * time.Second)
	assert.Equal(t, ActionCooldown, a.Tick(ctx).Action)

	fakeClock.Step(2 * time.Second)
	report = a.Tick(ctx)
	assert.Equal(t, ActionScaleUp, report.Action)
	assert.Equal(t, 2, report.Running)
}

func TestAutoscaler_ScalesDownOldestFirst(t *testing.T) {
	cfg := testScalerConfig()
	cfg.MinWorkers = 3
	rt := newFakeRuntime()
	obs := &staticBacklog{backlog: 0}
	a, fakeClock := newTestAutoscaler(t, cfg, rt, obs)
	ctx := context.Background()

	a.bootstrap(ctx, cfg)
	require.Equal(t, 3, a.Running())

	cfg.MinWorkers = 1
	require.NoError(t, a.UpdateConfig(cfg))

	// The bootstrap counts as a scaling action.
	assert.Equal(t, ActionCooldown, a.Tick(ctx).Action)

	fakeClock.Step(31 * time.Second)
	assert.Equal(t, ActionScaleDown, a.Tick(ctx).Action)
	fakeClock.Step(31 * time.Second)
	assert.Equal(t, ActionScaleDown, a.Tick(ctx).Action)
	fakeClock.Step(31 * time.Second)
	assert.Equal(t, ActionNone, a.Tick(ctx).Action)

	assert.Equal(t, []domain.ProcessID{"w-1", "w-2"}, rt.stoppedIDs())
	workers := a.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, domain.ProcessID("w-3"), workers[0].ID)
}

func TestAutoscaler_ObservationFailureSkipsTick(t *testing.T) {
	rt := newFakeRuntime()
	obs := &staticBacklog{err: errors.New("connection refused")}
	a, _ := newTestAutoscaler(t, testScalerConfig(), rt, obs)

	report := a.Tick(context.Background())

	assert.Equal(t, ActionObserveFailed, report.Action)
	assert.Equal(t, 0, a.Running())
	assert.True(t, a.Status().LastAction.IsZero())
}

type blockingBacklog struct{}

func (blockingBacklog) BacklogDepth(ctx context.Context) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestAutoscaler_ObservationIsBoundedByTimeout(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := testScalerConfig()
	cfg.ObserveTimeout = 20 * time.Millisecond

	a, err := NewAutoscaler(logger, cfg, newFakeRuntime(), blockingBacklog{})
	require.NoError(t, err)

	start := time.Now()
	report := a.Tick(context.Background())

	assert.Equal(t, ActionObserveFailed, report.Action)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAutoscaler_ReapsCrashedWorkers(t *testing.T) {
	cfg := testScalerConfig()
	cfg.MinWorkers = 2
	rt := newFakeRuntime()
	obs := &staticBacklog{}
	a, fakeClock := newTestAutoscaler(t, cfg, rt, obs)
	ctx := context.Background()

	a.bootstrap(ctx, cfg)
	rt.kill("w-1")
	fakeClock.Step(time.Minute)

	report := a.Tick(ctx)

	assert.Equal(t, 1, report.Reaped)
	assert.Equal(t, ActionScaleUp, report.Action)
	ids := []domain.ProcessID{}
	for _, w := range a.Workers() {
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []domain.ProcessID{"w-2", "w-3"}, ids)
	assert.Empty(t, rt.stoppedIDs(), "reaped workers are not stopped again")
}

func TestAutoscaler_UnknownLivenessKeepsWorker(t *testing.T) {
	rt := newFakeRuntime()
	a, _ := newTestAutoscaler(t, testScalerConfig(), rt, &staticBacklog{})
	ctx := context.Background()
	a.bootstrap(ctx, testScalerConfig())

	rt.aliveErr = errors.New("docker daemon unavailable")
	report := a.Tick(ctx)

	assert.Equal(t, 0, report.Reaped)
	assert.Equal(t, 1, a.Running())
}

func TestAutoscaler_FailedStartDoesNotStartCooldown(t *testing.T) {
	rt := newFakeRuntime()
	rt.startErr = errors.New("exec: no such file")
	a, _ := newTestAutoscaler(t, testScalerConfig(), rt, &staticBacklog{backlog: 1000})
	ctx := context.Background()

	assert.Equal(t, ActionFailed, a.Tick(ctx).Action)
	assert.Equal(t, 0, a.Running())

	rt.mu.Lock()
	rt.startErr = nil
	rt.mu.Unlock()

	assert.Equal(t, ActionScaleUp, a.Tick(ctx).Action)
}

func TestAutoscaler_FailedStopKeepsWorkerTracked(t *testing.T) {
	cfg := testScalerConfig()
	cfg.MinWorkers = 2
	rt := newFakeRuntime()
	a, fakeClock := newTestAutoscaler(t, cfg, rt, &staticBacklog{})
	ctx := context.Background()
	a.bootstrap(ctx, cfg)

	cfg.MinWorkers = 1
	require.NoError(t, a.UpdateConfig(cfg))
	rt.stopErr = errors.New("permission denied")
	fakeClock.Step(time.Minute)

	assert.Equal(t, ActionFailed, a.Tick(ctx).Action)
	assert.Equal(t, 2, a.Running())
}

func TestAutoscaler_RunBootstrapsTicksAndStopsAll(t *testing.T) {
	rt := newFakeRuntime()
	obs := &staticBacklog{backlog: 2000}
	a, fakeClock := newTestAutoscaler(t, testScalerConfig(), rt, obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, fakeClock.HasWaiters, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, a.Running())

	fakeClock.Step(5 * time.Second)
	require.Eventually(t, func() bool { return a.Status().LastTick.Action == ActionCooldown }, time.Second, 5*time.Millisecond)

	fakeClock.Step(30 * time.Second)
	require.Eventually(t, func() bool { return a.Running() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("autoscaler did not stop")
	}

	assert.ElementsMatch(t, []domain.ProcessID{"w-1", "w-2"}, rt.stoppedIDs())
	assert.Equal(t, 0, a.Running())
}

func TestAutoscaler_UpdateConfig(t *testing.T) {
	a, _ := newTestAutoscaler(t, testScalerConfig(), newFakeRuntime(), &staticBacklog{})

	bad := testScalerConfig()
	bad.MinWorkers = 9
	assert.Error(t, a.UpdateConfig(bad))
	assert.Equal(t, 1, a.Status().Config.MinWorkers)

	next := testScalerConfig()
	next.PollInterval = time.Second
	require.NoError(t, a.UpdateConfig(next))
	next.PollInterval = 2 * time.Second
	require.NoError(t, a.UpdateConfig(next))

	select {
	case d := <-a.pollChanged:
		assert.Equal(t, 2*time.Second, d)
	default:
		t.Fatal("expected a pending poll interval change")
	}
	assert.Equal(t, 2*time.Second, a.Status().Config.PollInterval)
}
