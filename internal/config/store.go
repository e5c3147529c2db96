package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/manthysbr/censord/internal/core/domain"
)

// EnvPrefix is prepended to every environment override, e.g. CENSORD_SCALER_MAX_WORKERS.
const EnvPrefix = "CENSORD"

// OnChangeFunc is called with the new configuration after a successful reload.
type OnChangeFunc func(cfg *domain.AppConfig)

// Store owns the viper instance and the last valid configuration.
type Store struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	v        *viper.Viper
	config   *domain.AppConfig
	onChange []OnChangeFunc
}

// NewStore wraps v, which may already carry bound command-line flags.
// Defaults and environment lookup are registered immediately.
func NewStore(logger *slog.Logger, v *viper.Viper) *Store {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Store{
		logger: logger,
		v:      v,
		config: domain.DefaultConfig(),
	}
}

// SetDefaults registers every key of domain.DefaultConfig with v.
func SetDefaults(v *viper.Viper) {
	d := domain.DefaultConfig()

	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("dispatcher.listen", d.Dispatcher.Listen)
	v.SetDefault("dispatcher.db_path", d.Dispatcher.DBPath)
	v.SetDefault("dispatcher.allowed_origins", d.Dispatcher.AllowedOrigins)
	v.SetDefault("dispatcher.worker_timeout", d.Dispatcher.WorkerTimeout)

	v.SetDefault("worker.listen", d.Worker.Listen)
	v.SetDefault("worker.advertise", d.Worker.Advertise)
	v.SetDefault("worker.dispatcher_url", d.Worker.DispatcherURL)

	v.SetDefault("scaler.min_workers", d.Scaler.MinWorkers)
	v.SetDefault("scaler.max_workers", d.Scaler.MaxWorkers)
	v.SetDefault("scaler.poll_interval", d.Scaler.PollInterval)
	v.SetDefault("scaler.cooldown", d.Scaler.Cooldown)
	v.SetDefault("scaler.capacity", d.Scaler.Capacity)
	v.SetDefault("scaler.target_residency", d.Scaler.TargetResidency)
	v.SetDefault("scaler.arrival_rate", d.Scaler.ArrivalRate)
	v.SetDefault("scaler.stop_grace", d.Scaler.StopGrace)
	v.SetDefault("scaler.observe_timeout", d.Scaler.ObserveTimeout)
	v.SetDefault("scaler.runtime", d.Scaler.Runtime)
	v.SetDefault("scaler.dispatcher_url", d.Scaler.DispatcherURL)
	v.SetDefault("scaler.metrics_listen", d.Scaler.MetricsListen)
	v.SetDefault("scaler.docker_image", d.Scaler.DockerImage)
	v.SetDefault("scaler.docker_network", d.Scaler.DockerNetwork)

	v.SetDefault("insults", d.Insults)
}

// Load reads path, or censord.yaml from the working directory when path is
// empty. A missing default file is not an error; a missing explicit one is.
func (s *Store) Load(path string) error {
	if path != "" {
		s.v.SetConfigFile(path)
	} else {
		s.v.SetConfigName("censord")
		s.v.SetConfigType("yaml")
		s.v.AddConfigPath(".")
		s.v.AddConfigPath("/etc/censord")
	}

	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		s.logger.Debug("no config file found, using defaults and environment")
	} else {
		s.logger.Info("config loaded", "file", s.v.ConfigFileUsed())
	}

	cfg, err := s.decode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
	return nil
}

func (s *Store) decode() (*domain.AppConfig, error) {
	var cfg domain.AppConfig
	if err := s.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Config returns a copy of the current configuration.
func (s *Store) Config() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s.config
	cp.Insults = append([]string(nil), s.config.Insults...)
	cp.Dispatcher.AllowedOrigins = append([]string(nil), s.config.Dispatcher.AllowedOrigins...)
	return &cp
}

// OnChange registers a callback for reloads triggered by Watch.
func (s *Store) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Watch reloads the config file whenever it changes on disk. Invalid edits
// are logged and the previous configuration stays in effect.
func (s *Store) Watch() {
	if s.v.ConfigFileUsed() == "" {
		s.logger.Debug("no config file to watch")
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.logger.Info("config file changed", "file", e.Name, "op", e.Op.String())
		if err := s.reload(); err != nil {
			s.logger.Error("config reload rejected", "error", err)
		}
	})
	s.v.WatchConfig()
}

func (s *Store) reload() error {
	if err := s.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := s.decode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.config = cfg
	callbacks := make([]OnChangeFunc, len(s.onChange))
	copy(callbacks, s.onChange)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(s.Config())
	}
	return nil
}

// Viper exposes the underlying instance for flag binding.
func (s *Store) Viper() *viper.Viper {
	return s.v
}
