package domain

import (
	"fmt"
	"time"
)

const (
	RuntimeProcess = "process"
	RuntimeDocker  = "docker"
)

// LogConfig configures the slog handler
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"` // debug, info, warn, error
}

// DispatcherConfig configures the coordinator service
type DispatcherConfig struct {
	Listen         string        `mapstructure:"listen" json:"listen"`
	DBPath         string        `mapstructure:"db_path" json:"db_path"` // empty keeps results in memory only
	AllowedOrigins []string      `mapstructure:"allowed_origins" json:"allowed_origins"`
	WorkerTimeout  time.Duration `mapstructure:"worker_timeout" json:"worker_timeout"` // bound on one dispatch round-trip
}

// WorkerConfig configures a worker agent
type WorkerConfig struct {
	Listen        string `mapstructure:"listen" json:"listen"`
	Advertise     string `mapstructure:"advertise" json:"advertise"` // address registered with the dispatcher, defaults to the bound listener
	DispatcherURL string `mapstructure:"dispatcher_url" json:"dispatcher_url"`
}

// ScalerConfig configures the autoscaler control loop.
//
// Desired workers N = clamp(ceil((B + ArrivalRate*TargetResidency) / Capacity), MinWorkers, MaxWorkers)
// where B is the observed backlog.
type ScalerConfig struct {
	MinWorkers      int           `mapstructure:"min_workers" json:"min_workers"`
	MaxWorkers      int           `mapstructure:"max_workers" json:"max_workers"`
	PollInterval    time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	Cooldown        time.Duration `mapstructure:"cooldown" json:"cooldown"`
	Capacity        float64       `mapstructure:"capacity" json:"capacity"`                 // jobs/second one worker sustains
	TargetResidency time.Duration `mapstructure:"target_residency" json:"target_residency"` // Tr
	ArrivalRate     float64       `mapstructure:"arrival_rate" json:"arrival_rate"`         // lambda, jobs/second
	StopGrace       time.Duration `mapstructure:"stop_grace" json:"stop_grace"`
	ObserveTimeout  time.Duration `mapstructure:"observe_timeout" json:"observe_timeout"`

	Runtime       string `mapstructure:"runtime" json:"runtime"` // "process" or "docker"
	DispatcherURL string `mapstructure:"dispatcher_url" json:"dispatcher_url"`
	MetricsListen string `mapstructure:"metrics_listen" json:"metrics_listen"`
	DockerImage   string `mapstructure:"docker_image" json:"docker_image"`
	DockerNetwork string `mapstructure:"docker_network" json:"docker_network"`
}

// Validate checks bounds and intervals.
func (c ScalerConfig) Validate() error {
	switch {
	case c.MinWorkers < 0:
		return fmt.Errorf("scaler.min_workers must be >= 0, got %d", c.MinWorkers)
	case c.MaxWorkers < 1:
		return fmt.Errorf("scaler.max_workers must be >= 1, got %d", c.MaxWorkers)
	case c.MaxWorkers < c.MinWorkers:
		return fmt.Errorf("scaler.max_workers (%d) must be >= scaler.min_workers (%d)", c.MaxWorkers, c.MinWorkers)
	case c.PollInterval <= 0:
		return fmt.Errorf("scaler.poll_interval must be positive, got %s", c.PollInterval)
	case c.Cooldown < 0:
		return fmt.Errorf("scaler.cooldown must be >= 0, got %s", c.Cooldown)
	case c.Capacity < 0:
		return fmt.Errorf("scaler.capacity must be >= 0, got %g", c.Capacity)
	case c.ArrivalRate < 0:
		return fmt.Errorf("scaler.arrival_rate must be >= 0, got %g", c.ArrivalRate)
	case c.TargetResidency < 0:
		return fmt.Errorf("scaler.target_residency must be >= 0, got %s", c.TargetResidency)
	case c.StopGrace <= 0:
		return fmt.Errorf("scaler.stop_grace must be positive, got %s", c.StopGrace)
	case c.ObserveTimeout <= 0:
		return fmt.Errorf("scaler.observe_timeout must be positive, got %s", c.ObserveTimeout)
	}
	if c.Runtime != RuntimeProcess && c.Runtime != RuntimeDocker {
		return fmt.Errorf("scaler.runtime must be %q or %q, got %q", RuntimeProcess, RuntimeDocker, c.Runtime)
	}
	return nil
}

// AppConfig is the main application configuration
type AppConfig struct {
	Log        LogConfig        `mapstructure:"log" json:"log"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" json:"dispatcher"`
	Worker     WorkerConfig     `mapstructure:"worker" json:"worker"`
	Scaler     ScalerConfig     `mapstructure:"scaler" json:"scaler"`
	Insults    []string         `mapstructure:"insults" json:"insults"`
}

// Validate checks the sections that have invariants.
func (c *AppConfig) Validate() error {
	if err := c.Scaler.Validate(); err != nil {
		return err
	}
	if c.Dispatcher.WorkerTimeout <= 0 {
		return fmt.Errorf("dispatcher.worker_timeout must be positive, got %s", c.Dispatcher.WorkerTimeout)
	}
	return nil
}

// InsultSet builds the configured trigger set, falling back to the defaults.
func (c *AppConfig) InsultSet() InsultSet {
	if len(c.Insults) == 0 {
		return DefaultInsultSet()
	}
	return NewInsultSet(c.Insults...)
}

// DefaultConfig returns safe defaults. Scaler constants come from a single
// worker measured at roughly 600 jobs/second.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Log: LogConfig{Level: "info"},
		Dispatcher: DispatcherConfig{
			Listen:         ":8080",
			AllowedOrigins: []string{"http://localhost:5173"},
			WorkerTimeout:  10 * time.Second,
		},
		Worker: WorkerConfig{
			Listen:        "127.0.0.1:0",
			DispatcherURL: "http://127.0.0.1:8080",
		},
		Scaler: ScalerConfig{
			MinWorkers:      1,
			MaxWorkers:      5,
			PollInterval:    5 * time.Second,
			Cooldown:        30 * time.Second,
			Capacity:        600,
			TargetResidency: 2 * time.Second,
			ArrivalRate:     50,
			StopGrace:       5 * time.Second,
			ObserveTimeout:  2 * time.Second,
			Runtime:         RuntimeProcess,
			DispatcherURL:   "http://127.0.0.1:8080",
			MetricsListen:   ":9090",
			DockerImage:     "censord:latest",
			DockerNetwork:   "host",
		},
		Insults: append([]string(nil), DefaultInsults...),
	}
}
