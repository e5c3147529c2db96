package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/manthysbr/censord/internal/adapters/dispatcherclient"
	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/services"
)

var dispatcherURL string

var submitCmd = &cobra.Command{
	Use:   "submit [text...]",
	Short: "Submit texts for filtering",
	Long: `Submit each argument as one job. Without arguments, every line read from
standard input is submitted. Results are printed as JSON lines.`,
	RunE: runSubmit,
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List filtered results in completion order",
	RunE:  runResults,
}

var resultsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the dispatcher's result log",
	Args:  cobra.NoArgs,
	RunE:  runResultsClear,
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List registered workers",
	Args:  cobra.NoArgs,
	RunE:  runWorkers,
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Fire a burst of jobs at the dispatcher and report throughput",
	Args:  cobra.NoArgs,
	RunE:  runStress,
}

func init() {
	for _, c := range []*cobra.Command{submitCmd, resultsCmd, workersCmd, stressCmd} {
		c.Flags().StringVar(&dispatcherURL, "dispatcher", "", "dispatcher base URL (default worker.dispatcher_url)")
		rootCmd.AddCommand(c)
	}
	resultsClearCmd.Flags().StringVar(&dispatcherURL, "dispatcher", "", "dispatcher base URL (default worker.dispatcher_url)")
	resultsCmd.AddCommand(resultsClearCmd)

	resultsCmd.Flags().Int("limit", 0, "only show the newest n results")
	submitCmd.Flags().Duration("timeout", 30*time.Second, "per-job timeout")

	stressCmd.Flags().Int("jobs", 1000, "number of jobs to submit")
	stressCmd.Flags().Int64("concurrency", 20, "jobs in flight at once")
	stressCmd.Flags().StringArray("text", []string{"you stupid idiot", "have a nice day", "what the heck, moron"}, "text to submit, repeatable")
}

func newDispatcherClient(timeout time.Duration) *dispatcherclient.Client {
	url := dispatcherURL
	if url == "" {
		url = store.Config().Worker.DispatcherURL
	}
	return dispatcherclient.New(url, timeout)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	client := newDispatcherClient(timeout)
	enc := json.NewEncoder(cmd.OutOrStdout())

	texts := args
	if len(texts) == 0 {
		lines, err := readLines(cmd.InOrStdin())
		if err != nil {
			return err
		}
		texts = lines
	}

	var failed int
	for _, text := range texts {
		res, err := client.Submit(cmd.Context(), text)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "submit %q: %v\n", text, err)
			continue
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(texts))
	}
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if len(lines) == 0 {
		return nil, errors.New("nothing to submit")
	}
	return lines, nil
}

func runResults(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	results, err := newDispatcherClient(10*time.Second).Results(cmd.Context(), limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func runResultsClear(cmd *cobra.Command, _ []string) error {
	if err := newDispatcherClient(10*time.Second).ClearResults(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "result log cleared")
	return nil
}

func runWorkers(cmd *cobra.Command, _ []string) error {
	workers, err := newDispatcherClient(10*time.Second).Workers(cmd.Context())
	if err != nil {
		return err
	}
	if len(workers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no workers registered")
		return nil
	}
	for _, w := range workers {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\tregistered %s\n", w.Address, w.RegisteredAt.Format(time.RFC3339))
	}
	return nil
}

func runStress(cmd *cobra.Command, _ []string) error {
	jobs, _ := cmd.Flags().GetInt("jobs")
	concurrency, _ := cmd.Flags().GetInt64("concurrency")
	texts, _ := cmd.Flags().GetStringArray("text")

	runner := services.NewStressRunner(logger.With("component", "stress"), newDispatcherClient(30*time.Second))
	report, err := runner.Run(cmd.Context(), services.StressConfig{
		Jobs:        jobs,
		Concurrency: concurrency,
		Texts:       texts,
	})
	if err != nil && !errors.Is(err, cmd.Context().Err()) {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "submitted:  %d\n", report.Submitted)
	fmt.Fprintf(out, "succeeded:  %d\n", report.Succeeded)
	for _, kind := range []domain.ErrorKind{domain.KindNoWorkers, domain.KindWorkerUnreachable, domain.KindProcessing, domain.KindValidation} {
		if n := report.Failures[kind]; n > 0 {
			fmt.Fprintf(out, "%-11s %d\n", string(kind)+":", n)
		}
	}
	if report.Other > 0 {
		fmt.Fprintf(out, "other:      %d\n", report.Other)
	}
	fmt.Fprintf(out, "elapsed:    %s\n", report.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "throughput: %.1f jobs/s\n", report.Throughput)
	return err
}
