package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/censord/internal/adapters/duckdb"
	"github.com/manthysbr/censord/internal/adapters/httpworker"
	"github.com/manthysbr/censord/internal/core/ports"
	"github.com/manthysbr/censord/internal/core/services"
	"github.com/manthysbr/censord/internal/metrics"
	"github.com/manthysbr/censord/pkg/api"
)

var dispatcherCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Run the job dispatcher and its HTTP API",
	RunE:  runDispatcher,
}

func init() {
	rootCmd.AddCommand(dispatcherCmd)

	dispatcherCmd.Flags().String("listen", ":8080", "address the API listens on")
	dispatcherCmd.Flags().String("db", "", "DuckDB file that journals results (empty keeps them in memory)")
	bindFlag(dispatcherCmd.Flags(), "listen", "dispatcher.listen")
	bindFlag(dispatcherCmd.Flags(), "db", "dispatcher.db_path")
}

func runDispatcher(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := store.Config()
	log := logger.With("component", "dispatcher")

	var journal ports.ResultJournal
	if cfg.Dispatcher.DBPath != "" {
		repo, err := duckdb.NewRepository(cfg.Dispatcher.DBPath)
		if err != nil {
			return fmt.Errorf("failed to init result journal: %w", err)
		}
		defer repo.Close()
		journal = repo
	}

	results := services.NewResultStore(log, journal)
	if err := results.Load(ctx); err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	eventBus := services.NewEventBus(log)
	dispatcher := services.NewDispatcher(log,
		httpworker.NewClient(cfg.Dispatcher.WorkerTimeout),
		results,
		cfg.InsultSet(),
		services.WithEventBus(eventBus),
		services.WithDispatcherMetrics(metrics.NewDispatcher(reg)),
	)

	apiServer := api.NewServer(logger.With("component", "api"), dispatcher, eventBus, api.WithMetricsHandler(metrics.Handler(reg)))
	handler, err := apiServer.Handler()
	if err != nil {
		return fmt.Errorf("failed to build api handler: %w", err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Dispatcher.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	httpServer := &http.Server{
		Addr:              cfg.Dispatcher.Listen,
		Handler:           c.Handler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting dispatcher api", "addr", cfg.Dispatcher.Listen, "insults", len(cfg.Insults))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down dispatcher api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
