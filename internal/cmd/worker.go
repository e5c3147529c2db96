package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/manthysbr/censord/internal/adapters/dispatcherclient"
	"github.com/manthysbr/censord/pkg/agent"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker agent that registers with the dispatcher",
	Long: `Run a worker agent. The agent binds its listener, registers the resulting
address with the dispatcher and filters texts until it is interrupted, at
which point it unregisters and drains.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().String("listen", "127.0.0.1:0", "address the agent listens on")
	workerCmd.Flags().String("advertise", "", "address registered with the dispatcher")
	workerCmd.Flags().String("dispatcher", "http://127.0.0.1:8080", "dispatcher base URL")
	bindFlag(workerCmd.Flags(), "listen", "worker.listen")
	bindFlag(workerCmd.Flags(), "advertise", "worker.advertise")
	bindFlag(workerCmd.Flags(), "dispatcher", "worker.dispatcher_url")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := store.Config()
	registrar := dispatcherclient.New(cfg.Worker.DispatcherURL, 5*time.Second)

	server := agent.NewServer(logger.With("component", "worker"), agent.Config{
		Listen:    cfg.Worker.Listen,
		Advertise: cfg.Worker.Advertise,
	}, registrar, cfg.InsultSet())

	return server.Run(ctx)
}
