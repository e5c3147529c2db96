package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"k8s.io/utils/clock"

	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/ports"
	"github.com/manthysbr/censord/internal/metrics"
)

const (
	outcomeSuccess = "success"
	outcomeCancel  = "canceled"
)

// Dispatcher accepts filtering jobs and hands each one to the next live worker.
// It owns the worker registry and the result log.
type Dispatcher struct {
	logger   *slog.Logger
	client   ports.WorkerClient
	registry *WorkerRegistry
	results  *ResultStore
	insults  []string
	bus      *EventBus
	metrics  *metrics.Dispatcher
	clock    clock.PassiveClock

	inFlight atomic.Int64
}

type DispatcherOption func(*Dispatcher)

// WithEventBus publishes result and membership events on bus.
func WithEventBus(bus *EventBus) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

func WithDispatcherMetrics(m *metrics.Dispatcher) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithDispatcherClock(c clock.PassiveClock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

func NewDispatcher(logger *slog.Logger, client ports.WorkerClient, results *ResultStore, insults domain.InsultSet, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger:   logger,
		client:   client,
		registry: NewWorkerRegistry(),
		results:  results,
		insults:  insults.Words(),
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterWorker adds a worker to the registry. Registering a live address again
// is not an error and leaves the registry unchanged.
func (d *Dispatcher) RegisterWorker(raw string) (domain.RegistrationStatus, error) {
	addr, err := domain.ParseWorkerAddress(raw)
	if err != nil {
		return "", err
	}

	status := domain.StatusAlreadyRegistered
	if d.registry.Add(addr, d.clock.Now()) {
		status = domain.StatusRegistered
		d.logger.Info("worker registered", "worker", addr, "workers", d.registry.Len())
		d.publish(TopicWorkers, EventTypeWorkerRegistered, addr)
	} else {
		d.logger.Debug("worker already registered", "worker", addr)
	}

	d.metrics.RecordRegistration(string(status))
	d.metrics.SetWorkers(d.registry.Len())
	return status, nil
}

// UnregisterWorker removes a worker. Absent or malformed addresses are a no-op.
func (d *Dispatcher) UnregisterWorker(raw string) domain.RegistrationStatus {
	addr, err := domain.ParseWorkerAddress(raw)
	if err != nil || !d.registry.Remove(addr) {
		d.metrics.RecordRegistration(string(domain.StatusNotRegistered))
		return domain.StatusNotRegistered
	}

	d.logger.Info("worker unregistered", "worker", addr, "workers", d.registry.Len())
	d.publish(TopicWorkers, EventTypeWorkerUnregistered, addr)
	d.metrics.RecordRegistration(string(domain.StatusUnregistered))
	d.metrics.SetWorkers(d.registry.Len())
	return domain.StatusUnregistered
}

// Submit filters text on exactly one worker and records the result.
// There is no retry: on a transport failure the worker is evicted and the
// caller is expected to resubmit.
func (d *Dispatcher) Submit(ctx context.Context, text string) (domain.Result, error) {
	if !utf8.ValidString(text) {
		d.metrics.RecordJob(string(domain.KindValidation), 0)
		return domain.Result{}, domain.NewError(domain.KindValidation, "submit", "", errors.New("text must be valid UTF-8"))
	}

	d.metrics.SetBacklog(d.inFlight.Add(1))
	defer func() { d.metrics.SetBacklog(d.inFlight.Add(-1)) }()

	job := domain.NewJob(text, d.clock.Now())

	worker, ok := d.registry.Next()
	if !ok {
		d.metrics.RecordJob(string(domain.KindNoWorkers), 0)
		return domain.Result{}, domain.NewError(domain.KindNoWorkers, "submit", "", nil)
	}

	start := d.clock.Now()
	filtered, err := d.client.Process(ctx, worker.Address, job.Text, d.insults)
	elapsed := d.clock.Since(start)

	if err != nil {
		return domain.Result{}, d.dispatchFailed(ctx, job, worker.Address, err, elapsed)
	}

	result := d.results.Append(ctx, domain.Result{
		JobID:       job.ID,
		Original:    job.Text,
		Filtered:    filtered,
		ProcessedBy: worker.Address,
		SubmittedAt: job.SubmittedAt,
		CompletedAt: d.clock.Now(),
	})
	d.metrics.RecordJob(outcomeSuccess, elapsed)
	d.logger.Debug("job processed", "job_id", job.ID, "worker", worker.Address, "seq", result.Seq, "elapsed", elapsed)
	d.publish(TopicResults, EventTypeResult, result)

	return result, nil
}

func (d *Dispatcher) dispatchFailed(ctx context.Context, job domain.Job, addr domain.WorkerAddress, err error, elapsed time.Duration) error {
	// The caller gave up; that says nothing about the worker.
	if ctxErr := ctx.Err(); ctxErr != nil {
		d.metrics.RecordJob(outcomeCancel, elapsed)
		return fmt.Errorf("submit job %s: %w", job.ID, ctxErr)
	}

	if errors.Is(err, domain.ErrWorkerUnreachable) {
		if d.registry.Remove(addr) {
			d.logger.Warn("worker evicted", "worker", addr, "job_id", job.ID, "error", err)
			d.metrics.RecordEviction()
			d.metrics.SetWorkers(d.registry.Len())
			d.publish(TopicWorkers, EventTypeWorkerEvicted, addr)
		}
		d.metrics.RecordJob(string(domain.KindWorkerUnreachable), elapsed)
		return domain.NewError(domain.KindWorkerUnreachable, "submit", addr, err)
	}

	d.logger.Error("worker failed to process job", "worker", addr, "job_id", job.ID, "error", err)
	d.metrics.RecordJob(string(domain.KindProcessing), elapsed)
	return domain.NewError(domain.KindProcessing, "submit", addr, err)
}

// Results returns the whole result log in completion order.
func (d *Dispatcher) Results() []domain.Result {
	return d.results.Snapshot()
}

// ResultsTail returns the newest n results, oldest first.
func (d *Dispatcher) ResultsTail(n int) []domain.Result {
	return d.results.Tail(n)
}

func (d *Dispatcher) ClearResults(ctx context.Context) error {
	if err := d.results.Clear(ctx); err != nil {
		return err
	}
	d.logger.Info("result log cleared")
	return nil
}

// Workers returns the registry in insertion order.
func (d *Dispatcher) Workers() []domain.WorkerHandle {
	return d.registry.Snapshot()
}

// Backlog is the number of submissions currently waiting on a worker.
func (d *Dispatcher) Backlog() int {
	return int(d.inFlight.Load())
}

// BacklogDepth implements ports.BacklogObserver for in-process autoscaling.
func (d *Dispatcher) BacklogDepth(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return d.Backlog(), nil
}

func (d *Dispatcher) publish(topic string, typ EventType, payload any) {
	if d.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to encode event", "type", typ, "error", err)
		return
	}
	d.bus.Publish(Event{
		Topic:     topic,
		Type:      typ,
		Data:      string(data),
		Timestamp: d.clock.Now().Unix(),
	})
}

var _ ports.BacklogObserver = (*Dispatcher)(nil)
