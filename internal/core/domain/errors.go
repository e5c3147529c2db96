package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the dispatcher and the autoscaler.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindNoWorkers         ErrorKind = "no_workers_available"
	KindWorkerUnreachable ErrorKind = "worker_unreachable"
	KindProcessing        ErrorKind = "processing_error"
	KindScalerObservation ErrorKind = "scaler_observation"
	KindWorkerStartup     ErrorKind = "worker_startup"
	KindWorkerShutdown    ErrorKind = "worker_shutdown"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrNoWorkersAvailable = errors.New("no workers available")
	ErrWorkerUnreachable  = errors.New("worker unreachable")
	ErrProcessing         = errors.New("processing error")
	ErrScalerObservation  = errors.New("backlog observation failed")
	ErrWorkerStartup      = errors.New("worker startup failed")
	ErrWorkerShutdown     = errors.New("worker shutdown failed")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:        ErrValidation,
	KindNoWorkers:         ErrNoWorkersAvailable,
	KindWorkerUnreachable: ErrWorkerUnreachable,
	KindProcessing:        ErrProcessing,
	KindScalerObservation: ErrScalerObservation,
	KindWorkerStartup:     ErrWorkerStartup,
	KindWorkerShutdown:    ErrWorkerShutdown,
}

// Sentinel returns the sentinel error matching the kind, or nil for unknown kinds.
func (k ErrorKind) Sentinel() error {
	return kindSentinels[k]
}

// Retryable reports whether a caller may resubmit after an error of this kind.
func (k ErrorKind) Retryable() bool {
	return k == KindNoWorkers || k == KindWorkerUnreachable
}

// Error carries a kind plus the operation and worker involved.
// errors.Is matches it against the kind's sentinel.
type Error struct {
	Kind   ErrorKind
	Op     string
	Worker WorkerAddress
	Err    error
}

// NewError builds an *Error. err may be nil.
func NewError(kind ErrorKind, op string, worker WorkerAddress, err error) *Error {
	return &Error{Kind: kind, Op: op, Worker: worker, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if s := e.Kind.Sentinel(); s != nil {
		msg = s.Error()
	}
	if e.Worker != "" {
		msg = fmt.Sprintf("%s (worker %s)", msg, e.Worker)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.Sentinel()
	return s != nil && s == target
}

// KindOf extracts the kind of err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}
