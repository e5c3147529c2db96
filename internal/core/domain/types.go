package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// WorkerAddress is the base URL a worker agent serves on, e.g. "http://127.0.0.1:9001".
// It doubles as the worker's identity in the registry.
type WorkerAddress string

// ParseWorkerAddress validates raw as an absolute http(s) URL with a host and
// returns it normalized (no trailing slash).
func ParseWorkerAddress(raw string) (WorkerAddress, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewError(KindValidation, "parse address", "", errors.New("address is empty"))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", NewError(KindValidation, "parse address", "", fmt.Errorf("address %q: %w", raw, err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", NewError(KindValidation, "parse address", "", fmt.Errorf("address %q: scheme must be http or https", raw))
	}
	if u.Host == "" || u.Hostname() == "" {
		return "", NewError(KindValidation, "parse address", "", fmt.Errorf("address %q: missing host", raw))
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", NewError(KindValidation, "parse address", "", fmt.Errorf("address %q: query and fragment are not allowed", raw))
	}

	return WorkerAddress(strings.TrimRight(u.String(), "/")), nil
}

// WorkerHandle is a live entry of the dispatcher's worker registry.
type WorkerHandle struct {
	Address      WorkerAddress `json:"address"`
	RegisteredAt time.Time     `json:"registered_at"`
}

// RegistrationStatus reports the outcome of a register/unregister call.
type RegistrationStatus string

const (
	StatusRegistered        RegistrationStatus = "registered"
	StatusAlreadyRegistered RegistrationStatus = "already_registered"
	StatusUnregistered      RegistrationStatus = "unregistered"
	StatusNotRegistered     RegistrationStatus = "not_found"
)

// ProcessID identifies a worker process started by a WorkerRuntime.
type ProcessID string

// WorkerProcess is a worker agent started by the autoscaler.
type WorkerProcess struct {
	ID          ProcessID `json:"id"`
	Runtime     string    `json:"runtime"`
	PID         int       `json:"pid,omitempty"`
	ContainerID string    `json:"container_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// WorkerSpec defines how a worker agent process should be spawned
type WorkerSpec struct {
	Binary  string            `json:"binary"`  // process runtime: executable path
	Image   string            `json:"image"`   // docker runtime: image reference
	Network string            `json:"network"` // docker runtime: network mode
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

var (
	ErrWorkerNotFound = errors.New("worker not found")
)
