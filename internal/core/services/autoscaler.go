package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/ports"
	"github.com/manthysbr/censord/internal/metrics"
)

// ScaleAction is what one tick decided to do.
type ScaleAction string

const (
	ActionNone          ScaleAction = "none"
	ActionCooldown      ScaleAction = "cooldown"
	ActionScaleUp       ScaleAction = "scale_up"
	ActionScaleDown     ScaleAction = "scale_down"
	ActionObserveFailed ScaleAction = "observe_failed"
	ActionFailed        ScaleAction = "failed"
)

// TickReport describes one pass of the control loop.
type TickReport struct {
	Backlog int         `json:"backlog"`
	Desired int         `json:"desired"`
	Running int         `json:"running"`
	Reaped  int         `json:"reaped"`
	Action  ScaleAction `json:"action"`
}

// AutoscalerStatus is a point-in-time view of the autoscaler.
type AutoscalerStatus struct {
	Config     domain.ScalerConfig    `json:"config"`
	Workers    []domain.WorkerProcess `json:"workers"`
	LastTick   TickReport             `json:"last_tick"`
	LastAction time.Time              `json:"last_action"`
}

// DesiredWorkers computes clamp(ceil((backlog + λ·Tr) / C), min, max).
// A non-positive capacity means any demand saturates the pool.
func DesiredWorkers(backlog int, cfg domain.ScalerConfig) int {
	if backlog < 0 {
		backlog = 0
	}
	demand := float64(backlog) + cfg.ArrivalRate*cfg.TargetResidency.Seconds()

	var n int
	switch {
	case cfg.Capacity > 0:
		n = int(math.Ceil(demand / cfg.Capacity))
	case demand > 0:
		n = cfg.MaxWorkers
	default:
		n = cfg.MinWorkers
	}

	return min(max(n, cfg.MinWorkers), cfg.MaxWorkers)
}

// Autoscaler keeps the number of worker agents in line with the dispatcher
// backlog. It only ever changes the pool by one worker per tick and retires
// the oldest worker first.
type Autoscaler struct {
	logger   *slog.Logger
	runtime  ports.WorkerRuntime
	observer ports.BacklogObserver
	metrics  *metrics.Scaler
	clock    clock.WithTicker

	mu         sync.Mutex
	cfg        domain.ScalerConfig
	tracked    *queue.Queue // domain.WorkerProcess, oldest first
	lastAction time.Time
	lastTick   TickReport

	pollChanged chan time.Duration
}

type AutoscalerOption func(*Autoscaler)

func WithScalerMetrics(m *metrics.Scaler) AutoscalerOption {
	return func(a *Autoscaler) { a.metrics = m }
}

func WithScalerClock(c clock.WithTicker) AutoscalerOption {
	return func(a *Autoscaler) { a.clock = c }
}

func NewAutoscaler(logger *slog.Logger, cfg domain.ScalerConfig, runtime ports.WorkerRuntime, observer ports.BacklogObserver, opts ...AutoscalerOption) (*Autoscaler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Autoscaler{
		logger:      logger,
		runtime:     runtime,
		observer:    observer,
		clock:       clock.RealClock{},
		cfg:         cfg,
		tracked:     queue.New(),
		pollChanged: make(chan time.Duration, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Run starts the minimum pool, then ticks every poll interval until ctx is
// done. On exit every tracked worker is stopped.
func (a *Autoscaler) Run(ctx context.Context) error {
	cfg := a.config()
	a.logger.Info("autoscaler starting",
		"min_workers", cfg.MinWorkers,
		"max_workers", cfg.MaxWorkers,
		"poll_interval", cfg.PollInterval,
		"cooldown", cfg.Cooldown,
	)

	a.bootstrap(ctx, cfg)

	ticker := a.clock.NewTicker(cfg.PollInterval)
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("autoscaler stopping", "workers", a.Running())
			return a.StopAll(context.WithoutCancel(ctx))
		case interval := <-a.pollChanged:
			ticker.Stop()
			ticker = a.clock.NewTicker(interval)
			a.logger.Info("poll interval changed", "poll_interval", interval)
		case <-ticker.C():
			report := a.Tick(ctx)
			a.logger.Debug("autoscaler tick",
				"backlog", report.Backlog,
				"desired", report.Desired,
				"running", report.Running,
				"action", report.Action,
			)
		}
	}
}

func (a *Autoscaler) bootstrap(ctx context.Context, cfg domain.ScalerConfig) {
	started := 0
	for i := 0; i < cfg.MinWorkers; i++ {
		if a.scaleUp(ctx) {
			started++
		}
	}
	if started > 0 {
		a.mu.Lock()
		a.lastAction = a.clock.Now()
		a.mu.Unlock()
	}
	a.logger.Info("initial workers started", "started", started, "requested", cfg.MinWorkers)
}

// Tick runs one reap/observe/decide/act pass.
func (a *Autoscaler) Tick(ctx context.Context) TickReport {
	cfg := a.config()
	report := TickReport{Reaped: a.reap(ctx)}
	report.Running = a.Running()

	observeCtx, cancel := context.WithTimeout(ctx, cfg.ObserveTimeout)
	backlog, err := a.observer.BacklogDepth(observeCtx)
	cancel()
	if err != nil {
		a.logger.Warn("skipping tick", "error", domain.NewError(domain.KindScalerObservation, "observe backlog", "", err))
		a.metrics.RecordObserveError()
		report.Action = ActionObserveFailed
		return a.record(report)
	}

	report.Backlog = backlog
	report.Desired = DesiredWorkers(backlog, cfg)
	a.metrics.SetBacklog(backlog)
	a.metrics.SetDesired(report.Desired)

	switch {
	case report.Desired == report.Running:
		report.Action = ActionNone
	case a.coolingDown(cfg):
		report.Action = ActionCooldown
	case report.Desired > report.Running:
		report.Action = ActionFailed
		if a.scaleUp(ctx) {
			report.Action = ActionScaleUp
			a.markAction()
		}
	default:
		report.Action = ActionFailed
		if a.scaleDown(ctx, cfg.StopGrace) {
			report.Action = ActionScaleDown
			a.markAction()
		}
	}

	report.Running = a.Running()
	return a.record(report)
}

// reap drops tracked workers that are no longer running.
// A worker whose state cannot be read is kept.
func (a *Autoscaler) reap(ctx context.Context) int {
	workers := a.Workers()
	dead := make(map[domain.ProcessID]struct{})
	for _, w := range workers {
		alive, err := a.runtime.Alive(ctx, w.ID)
		if err != nil {
			a.logger.Warn("failed to check worker", "worker_id", w.ID, "error", err)
			continue
		}
		if !alive {
			dead[w.ID] = struct{}{}
		}
	}
	if len(dead) == 0 {
		return 0
	}

	a.mu.Lock()
	survivors := queue.New()
	for a.tracked.Length() > 0 {
		w := a.tracked.Remove().(domain.WorkerProcess)
		if _, gone := dead[w.ID]; gone {
			a.logger.Warn("worker exited", "worker_id", w.ID, "pid", w.PID, "container_id", w.ContainerID)
			continue
		}
		survivors.Add(w)
	}
	a.tracked = survivors
	running := a.tracked.Length()
	a.mu.Unlock()

	a.metrics.SetRunning(running)
	return len(dead)
}

func (a *Autoscaler) scaleUp(ctx context.Context) bool {
	p, err := a.runtime.Start(ctx)
	if err != nil {
		a.logger.Error("scale up failed", "error", domain.NewError(domain.KindWorkerStartup, "start worker", "", err))
		a.metrics.RecordAction("up", "failed")
		return false
	}

	a.mu.Lock()
	a.tracked.Add(p)
	running := a.tracked.Length()
	a.mu.Unlock()

	a.logger.Info("worker started", "worker_id", p.ID, "runtime", p.Runtime, "pid", p.PID, "container_id", p.ContainerID, "running", running)
	a.metrics.RecordAction("up", "ok")
	a.metrics.SetRunning(running)
	return true
}

func (a *Autoscaler) scaleDown(ctx context.Context, grace time.Duration) bool {
	a.mu.Lock()
	if a.tracked.Length() == 0 {
		a.mu.Unlock()
		return false
	}
	oldest := a.tracked.Peek().(domain.WorkerProcess)
	a.mu.Unlock()

	if err := a.runtime.Stop(ctx, oldest.ID, grace); err != nil {
		a.logger.Error("scale down failed", "error", domain.NewError(domain.KindWorkerShutdown, "stop worker", "", err), "worker_id", oldest.ID)
		a.metrics.RecordAction("down", "failed")
		return false
	}

	a.mu.Lock()
	// Only the control loop mutates the queue, so the head is still oldest.
	a.tracked.Remove()
	running := a.tracked.Length()
	a.mu.Unlock()

	a.logger.Info("worker stopped", "worker_id", oldest.ID, "running", running)
	a.metrics.RecordAction("down", "ok")
	a.metrics.SetRunning(running)
	return true
}

// StopAll stops every tracked worker in parallel.
func (a *Autoscaler) StopAll(ctx context.Context) error {
	grace := a.config().StopGrace

	a.mu.Lock()
	workers := make([]domain.WorkerProcess, 0, a.tracked.Length())
	for a.tracked.Length() > 0 {
		workers = append(workers, a.tracked.Remove().(domain.WorkerProcess))
	}
	a.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gCtx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			if err := a.runtime.Stop(gCtx, w.ID, grace); err != nil {
				a.logger.Error("failed to stop worker", "worker_id", w.ID, "error", err)
				mu.Lock()
				errs = append(errs, domain.NewError(domain.KindWorkerShutdown, "stop worker "+string(w.ID), "", err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	a.metrics.SetRunning(0)
	return errors.Join(errs...)
}

// UpdateConfig swaps the scaler parameters. The new values apply from the next tick.
func (a *Autoscaler) UpdateConfig(cfg domain.ScalerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	prev := a.cfg.PollInterval
	a.cfg = cfg
	a.mu.Unlock()

	if cfg.PollInterval != prev {
		select {
		case a.pollChanged <- cfg.PollInterval:
		default:
			// A pending change is still queued; replace it.
			select {
			case <-a.pollChanged:
			default:
			}
			a.pollChanged <- cfg.PollInterval
		}
	}
	a.logger.Info("autoscaler config updated", "min_workers", cfg.MinWorkers, "max_workers", cfg.MaxWorkers, "cooldown", cfg.Cooldown)
	return nil
}

func (a *Autoscaler) Status() AutoscalerStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AutoscalerStatus{
		Config:     a.cfg,
		Workers:    a.workersLocked(),
		LastTick:   a.lastTick,
		LastAction: a.lastAction,
	}
}

func (a *Autoscaler) Running() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracked.Length()
}

// Workers returns the tracked workers, oldest first.
func (a *Autoscaler) Workers() []domain.WorkerProcess {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workersLocked()
}

func (a *Autoscaler) workersLocked() []domain.WorkerProcess {
	out := make([]domain.WorkerProcess, a.tracked.Length())
	for i := range out {
		out[i] = a.tracked.Get(i).(domain.WorkerProcess)
	}
	return out
}

func (a *Autoscaler) config() domain.ScalerConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *Autoscaler) coolingDown(cfg domain.ScalerConfig) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.lastAction.IsZero() && a.clock.Since(a.lastAction) < cfg.Cooldown
}

func (a *Autoscaler) markAction() {
	a.mu.Lock()
	a.lastAction = a.clock.Now()
	a.mu.Unlock()
}

func (a *Autoscaler) record(r TickReport) TickReport {
	a.mu.Lock()
	a.lastTick = r
	a.mu.Unlock()
	return r
}
