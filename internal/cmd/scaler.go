package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/censord/internal/adapters/dispatcherclient"
	"github.com/manthysbr/censord/internal/adapters/docker"
	"github.com/manthysbr/censord/internal/adapters/process"
	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/ports"
	"github.com/manthysbr/censord/internal/core/services"
	"github.com/manthysbr/censord/internal/metrics"
)

var scalerCmd = &cobra.Command{
	Use:   "scaler",
	Short: "Run the autoscaler that keeps the worker pool sized to the backlog",
	Long: `Run the autoscaler control loop. It starts min_workers agents, then every
poll_interval reads the dispatcher backlog and adds or stops one worker at a
time, respecting the cooldown. Scaler parameters are reloaded when the config
file changes. On shutdown every worker it started is stopped.`,
	RunE: runScaler,
}

func init() {
	rootCmd.AddCommand(scalerCmd)

	scalerCmd.Flags().String("runtime", domain.RuntimeProcess, "worker runtime: process or docker")
	scalerCmd.Flags().String("dispatcher", "http://127.0.0.1:8080", "dispatcher base URL")
	scalerCmd.Flags().Int("min", 1, "minimum number of workers")
	scalerCmd.Flags().Int("max", 5, "maximum number of workers")
	scalerCmd.Flags().String("metrics-listen", ":9090", "address serving /metrics and /status")
	bindFlag(scalerCmd.Flags(), "runtime", "scaler.runtime")
	bindFlag(scalerCmd.Flags(), "dispatcher", "scaler.dispatcher_url")
	bindFlag(scalerCmd.Flags(), "min", "scaler.min_workers")
	bindFlag(scalerCmd.Flags(), "max", "scaler.max_workers")
	bindFlag(scalerCmd.Flags(), "metrics-listen", "scaler.metrics_listen")
}

func runScaler(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := store.Config()
	log := logger.With("component", "scaler")

	runtime, err := newWorkerRuntime(ctx, log, cfg.Scaler)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	observer := dispatcherclient.New(cfg.Scaler.DispatcherURL, cfg.Scaler.ObserveTimeout)
	scaler, err := services.NewAutoscaler(log, cfg.Scaler, runtime, observer,
		services.WithScalerMetrics(metrics.NewScaler(reg)),
	)
	if err != nil {
		return fmt.Errorf("failed to init autoscaler: %w", err)
	}

	store.OnChange(func(next *domain.AppConfig) {
		if err := scaler.UpdateConfig(next.Scaler); err != nil {
			log.Error("scaler config rejected", "error", err)
			return
		}
		log.Info("scaler config reloaded", "min", next.Scaler.MinWorkers, "max", next.Scaler.MaxWorkers)
	})
	store.Watch()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(reg))
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(scaler.Status())
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              cfg.Scaler.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scaler.Run(gCtx)
	})

	g.Go(func() error {
		log.Info("starting scaler metrics server", "addr", cfg.Scaler.MetricsListen)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newWorkerRuntime builds the runtime named by cfg.Runtime. Both runtimes
// launch this same binary's worker command pointed at the dispatcher.
func newWorkerRuntime(ctx context.Context, log *slog.Logger, cfg domain.ScalerConfig) (ports.WorkerRuntime, error) {
	spec := domain.WorkerSpec{
		Args: []string{"worker"},
		Env: map[string]string{
			"CENSORD_WORKER_DISPATCHER_URL": cfg.DispatcherURL,
		},
	}
	if cfgFile != "" {
		spec.Args = append(spec.Args, "--config", cfgFile)
	}

	switch cfg.Runtime {
	case domain.RuntimeDocker:
		spec.Image = cfg.DockerImage
		spec.Network = cfg.DockerNetwork
		// The config file path is meaningless inside the container.
		spec.Args = []string{"worker"}

		rt, err := docker.NewRuntime(log.With("runtime", "docker"), spec)
		if err != nil {
			return nil, err
		}
		n, err := rt.ReapOrphans(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to reap orphan workers: %w", err)
		}
		if n > 0 {
			log.Info("reaped orphan workers", "count", n)
		}
		return rt, nil

	case domain.RuntimeProcess:
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve own executable: %w", err)
		}
		spec.Binary = self
		return process.NewRuntime(log.With("runtime", "process"), spec)

	default:
		return nil, fmt.Errorf("unknown worker runtime %q", cfg.Runtime)
	}
}
