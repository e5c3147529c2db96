package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/censord/internal/adapters/dispatcherclient"
	"github.com/manthysbr/censord/internal/adapters/httpworker"
	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/services"
	"github.com/manthysbr/censord/pkg/agent"
	"github.com/manthysbr/censord/pkg/api"
)

// executeCommand runs the root command with args and returns captured output
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		dispatcherURL = ""
	})
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// startCluster runs a dispatcher API and one registered worker agent in process.
func startCluster(t *testing.T) *services.Dispatcher {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	bus := services.NewEventBus(logger)
	d := services.NewDispatcher(logger, httpworker.NewClient(5*time.Second),
		services.NewResultStore(logger, nil), domain.DefaultInsultSet(), services.WithEventBus(bus))
	handler, err := api.NewServer(logger, d, bus).Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	worker := agent.NewServer(logger, agent.Config{Listen: "127.0.0.1:0"},
		dispatcherclient.New(srv.URL, 5*time.Second), domain.DefaultInsultSet())
	require.NoError(t, worker.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		worker.Shutdown(ctx)
	})

	dispatcherURL = srv.URL
	return d
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"dispatcher", "worker", "scaler", "submit", "results", "workers", "stress"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestInitConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "censord.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scaler:\n  max_workers: 4\n  min_workers: 2\n"), 0o644))

	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })
	require.NoError(t, scalerCmd.Flags().Set("max", "9"))

	require.NoError(t, initConfig(scalerCmd, nil))
	cfg := store.Config()
	assert.Equal(t, 9, cfg.Scaler.MaxWorkers)
	assert.Equal(t, 2, cfg.Scaler.MinWorkers)
}

func TestNewLogger_FallsBackToInfo(t *testing.T) {
	assert.True(t, newLogger("debug").Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, newLogger("bogus").Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, newLogger("bogus").Enabled(context.Background(), slog.LevelInfo))
}

func TestSubmitCommand_EndToEnd(t *testing.T) {
	d := startCluster(t)

	out, err := executeCommand(t, "submit", "--dispatcher", dispatcherURL, "you stupid idiot", "have a nice day")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var first domain.Result
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "you CENSORED CENSORED", first.Filtered)
	assert.Equal(t, int64(1), first.Seq)
	assert.Len(t, d.Results(), 2)
}

func TestResultsCommand_ListAndClear(t *testing.T) {
	d := startCluster(t)
	for _, text := range []string{"one dummy", "two", "three moron"} {
		_, err := d.Submit(context.Background(), text)
		require.NoError(t, err)
	}

	out, err := executeCommand(t, "results", "--dispatcher", dispatcherURL, "--limit", "2")
	require.NoError(t, err)
	assert.NotContains(t, out, "one CENSORED")
	assert.Contains(t, out, "three CENSORED")

	_, err = executeCommand(t, "results", "clear", "--dispatcher", dispatcherURL)
	require.NoError(t, err)
	assert.Empty(t, d.Results())
}

func TestSubmitCommand_NoWorkers(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	d := services.NewDispatcher(logger, httpworker.NewClient(time.Second),
		services.NewResultStore(logger, nil), domain.DefaultInsultSet())
	handler, err := api.NewServer(logger, d, nil).Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	out, err := executeCommand(t, "submit", "--dispatcher", srv.URL, "hello")
	require.Error(t, err)
	assert.Contains(t, out, "no workers available")
}

func TestReadLines(t *testing.T) {
	lines, err := readLines(strings.NewReader("first line\r\n\nsecond\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first line", "second"}, lines)

	_, err = readLines(strings.NewReader("\n\n"))
	assert.Error(t, err)
}
