package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"k8s.io/utils/clock"

	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/ports"
)

type worker struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error // set before done is closed
}

// Runtime starts worker agents as child processes of the current binary.
type Runtime struct {
	logger *slog.Logger
	spec   domain.WorkerSpec
	clock  clock.PassiveClock

	mu      sync.Mutex
	workers map[domain.ProcessID]*worker
}

var _ ports.WorkerRuntime = (*Runtime)(nil)

type Option func(*Runtime)

// WithClock sets the clock used to stamp StartedAt.
func WithClock(c clock.PassiveClock) Option {
	return func(r *Runtime) { r.clock = c }
}

func NewRuntime(logger *slog.Logger, spec domain.WorkerSpec, opts ...Option) (*Runtime, error) {
	if spec.Binary == "" {
		return nil, errors.New("process runtime: binary is required")
	}
	r := &Runtime{
		logger:  logger,
		spec:    spec,
		clock:   clock.RealClock{},
		workers: make(map[domain.ProcessID]*worker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start launches one worker process. The process outlives ctx; only Stop ends it.
func (r *Runtime) Start(ctx context.Context) (domain.WorkerProcess, error) {
	if err := ctx.Err(); err != nil {
		return domain.WorkerProcess{}, err
	}

	cmd := exec.Command(r.spec.Binary, r.spec.Args...)
	cmd.Env = os.Environ()
	for k, v := range r.spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return domain.WorkerProcess{}, fmt.Errorf("failed to start %s: %w", r.spec.Binary, err)
	}

	w := &worker{cmd: cmd, done: make(chan struct{})}
	go func() {
		w.err = cmd.Wait()
		close(w.done)
	}()

	id := domain.ProcessID(fmt.Sprintf("proc-%d", cmd.Process.Pid))
	r.mu.Lock()
	r.workers[id] = w
	r.mu.Unlock()

	return domain.WorkerProcess{
		ID:        id,
		Runtime:   domain.RuntimeProcess,
		PID:       cmd.Process.Pid,
		StartedAt: r.clock.Now(),
	}, nil
}

// Stop sends SIGTERM, waits up to grace for the process to exit, then kills it.
func (r *Runtime) Stop(ctx context.Context, id domain.ProcessID, grace time.Duration) error {
	r.mu.Lock()
	w, ok := r.workers[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrWorkerNotFound, id)
	}
	defer r.forget(id)

	select {
	case <-w.done:
		return nil
	default:
	}

	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Warn("failed to signal worker", "worker_id", id, "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-w.done:
		r.logger.Debug("worker exited after SIGTERM", "worker_id", id)
		return nil
	case <-timer.C:
		r.logger.Warn("worker ignored SIGTERM, killing", "worker_id", id, "grace", grace)
	case <-ctx.Done():
		r.logger.Warn("stop interrupted, killing worker", "worker_id", id)
	}

	if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill worker %s: %w", id, err)
	}
	<-w.done
	return nil
}

func (r *Runtime) Alive(_ context.Context, id domain.ProcessID) (bool, error) {
	r.mu.Lock()
	w, ok := r.workers[id]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	select {
	case <-w.done:
		r.logger.Info("worker process exited", "worker_id", id, "error", w.err)
		r.forget(id)
		return false, nil
	default:
		return true, nil
	}
}

func (r *Runtime) forget(id domain.ProcessID) {
	r.mu.Lock()
	delete(r.workers, id)
	r.mu.Unlock()
}
