package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/manthysbr/censord/internal/config"
)

// viperKey is the flag annotation naming the config key a flag overrides.
const viperKey = "censord/viper-key"

var (
	cfgFile string
	store   *config.Store
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "censord",
	Short: "Distributed profanity filter with a reactive worker autoscaler",
	Long: `censord runs a dispatcher that spreads text-filtering jobs across a pool
of worker agents, and an autoscaler that grows or shrinks that pool from the
dispatcher's backlog.

Configuration comes from a YAML file (--config), CENSORD_* environment
variables and command-line flags, in increasing order of precedence.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./censord.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	bindFlag(rootCmd.PersistentFlags(), "log-level", "log.level")
}

// bindFlag marks flag name as an override for a config key. The binding
// itself happens in initConfig once the viper instance exists.
func bindFlag(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, viperKey, []string{key}); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", name, err))
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	v := viper.New()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[viperKey]
		if len(keys) == 0 || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(keys[0], f)
	})
	if bindErr != nil {
		return fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	store = config.NewStore(newLogger("info").With("component", "config"), v)
	if err := store.Load(cfgFile); err != nil {
		return err
	}

	logger = newLogger(store.Config().Log.Level)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
