package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/manthysbr/censord/internal/core/domain"
)

// Submitter is anything that accepts a text for filtering: the in-process
// Dispatcher or the HTTP dispatcher client.
type Submitter interface {
	Submit(ctx context.Context, text string) (domain.Result, error)
}

// StressConfig defines the load shape
type StressConfig struct {
	Jobs        int
	Concurrency int64
	Texts       []string
}

// StressReport summarizes one stress run.
type StressReport struct {
	Submitted  int                      `json:"submitted"`
	Succeeded  int                      `json:"succeeded"`
	Failures   map[domain.ErrorKind]int `json:"failures"`
	Other      int                      `json:"other"`
	Elapsed    time.Duration            `json:"elapsed"`
	Throughput float64                  `json:"throughput"` // successful jobs per second
}

// StressRunner fires a fixed number of jobs at a Submitter with bounded concurrency.
type StressRunner struct {
	logger    *slog.Logger
	submitter Submitter
	clock     clock.PassiveClock
}

func NewStressRunner(logger *slog.Logger, submitter Submitter) *StressRunner {
	return &StressRunner{
		logger:    logger,
		submitter: submitter,
		clock:     clock.RealClock{},
	}
}

// Run submits cfg.Jobs texts, cycling through cfg.Texts. It stops early when ctx is done.
func (r *StressRunner) Run(ctx context.Context, cfg StressConfig) (StressReport, error) {
	if cfg.Jobs <= 0 {
		return StressReport{}, errors.New("stress: jobs must be positive")
	}
	if len(cfg.Texts) == 0 {
		return StressReport{}, errors.New("stress: at least one text is required")
	}
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = 10
	}

	sem := semaphore.NewWeighted(limit)
	report := StressReport{Failures: make(map[domain.ErrorKind]int)}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	r.logger.Info("stress run starting", "jobs", cfg.Jobs, "concurrency", limit)
	start := r.clock.Now()

	for i := 0; i < cfg.Jobs; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			r.logger.Warn("stress run interrupted", "submitted", i, "error", err)
			break
		}
		report.Submitted++

		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			defer sem.Release(1)

			_, err := r.submitter.Submit(ctx, text)

			mu.Lock()
			defer mu.Unlock()
			switch kind := domain.KindOf(err); {
			case err == nil:
				report.Succeeded++
			case kind != "":
				report.Failures[kind]++
			default:
				report.Other++
			}
		}(cfg.Texts[i%len(cfg.Texts)])
	}
	wg.Wait()

	report.Elapsed = r.clock.Since(start)
	if secs := report.Elapsed.Seconds(); secs > 0 {
		report.Throughput = float64(report.Succeeded) / secs
	}
	r.logger.Info("stress run finished",
		"submitted", report.Submitted,
		"succeeded", report.Succeeded,
		"elapsed", report.Elapsed,
		"throughput", report.Throughput,
	)
	return report, ctx.Err()
}
