package ports

import (
	"context"
	"time"

	"github.com/manthysbr/censord/internal/core/domain"
)

// WorkerClient is the dispatch transport: it asks one worker agent to filter one text.
type WorkerClient interface {
	// Process returns the filtered text. Transport failures are reported as
	// domain.ErrWorkerUnreachable, application failures as domain.ErrProcessing.
	Process(ctx context.Context, addr domain.WorkerAddress, text string, insults []string) (string, error)
}

// Registrar is the dispatcher's registration surface, as seen by a worker agent.
type Registrar interface {
	Register(ctx context.Context, addr domain.WorkerAddress) (domain.RegistrationStatus, error)
	Unregister(ctx context.Context, addr domain.WorkerAddress) (domain.RegistrationStatus, error)
}

// BacklogObserver reports how many jobs are submitted but not yet completed.
type BacklogObserver interface {
	BacklogDepth(ctx context.Context) (int, error)
}

// WorkerRuntime abstracts how worker agent processes are started and stopped
// (local processes, Docker containers).
type WorkerRuntime interface {
	// Start launches one worker agent.
	Start(ctx context.Context) (domain.WorkerProcess, error)

	// Stop asks the worker to terminate, waits up to grace, then forces it down.
	Stop(ctx context.Context, id domain.ProcessID, grace time.Duration) error

	// Alive reports whether the worker is still running.
	Alive(ctx context.Context, id domain.ProcessID) (bool, error)
}

// ResultJournal persists the result log (DuckDB).
type ResultJournal interface {
	AppendResult(ctx context.Context, result domain.Result) error
	ListResults(ctx context.Context) ([]domain.Result, error)
	ClearResults(ctx context.Context) error
}
