package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/submit_service.yaml"

type backendOpener func(configPath string) (*backend, error)

func newRootCmd(open backendOpener) *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "submitctl",
		Short:         "Inspect and drive the ejudge submit queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to config file")

	withBackend := func(run func(cmd *cobra.Command, b *backend, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			b, err := open(configPath)
			if err != nil {
				return err
			}
			defer b.Close()
			return run(cmd, b, args)
		}
	}

	root.AddCommand(
		newStatsCmd(withBackend),
		newEnqueueCmd(withBackend),
		newRejudgeStuckCmd(withBackend),
		newQuarantineCmd(withBackend),
	)
	return root
}

type backendRunner func(run func(cmd *cobra.Command, b *backend, args []string) error) func(*cobra.Command, []string) error

func newStatsCmd(withBackend backendRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show last put id, last get id and queue length",
		Args:  cobra.NoArgs,
		RunE: withBackend(func(cmd *cobra.Command, b *backend, _ []string) error {
			stats, err := b.queue.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		}),
	}
}

func newEnqueueCmd(withBackend backendRunner) *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "enqueue <run-id>",
		Short: "Queue an existing run for delivery",
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(func(cmd *cobra.Command, b *backend, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || runID <= 0 {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			dest := endpoint
			if dest == "" {
				dest = b.endpoint
			}
			job, err := b.queue.Enqueue(cmd.Context(), runID, dest)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		}),
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Judge URL for the job (defaults to judge.endpoint)")
	return cmd
}

func newRejudgeStuckCmd(withBackend backendRunner) *cobra.Command {
	var (
		afterID int64
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "rejudge-stuck",
		Short: "Re-queue runs still waiting in the queue state",
		Args:  cobra.NoArgs,
		RunE: withBackend(func(cmd *cobra.Command, b *backend, _ []string) error {
			rejudger, err := b.rejudger()
			if err != nil {
				return err
			}
			ids, err := rejudger.RejudgeStuck(cmd.Context(), afterID, limit)
			if ids == nil {
				ids = []int64{}
			}
			if printErr := printJSON(cmd.OutOrStdout(), map[string]interface{}{"requeued": ids}); printErr != nil {
				return printErr
			}
			return err
		}),
	}
	cmd.Flags().Int64Var(&afterID, "after", 0, "Only runs with an id greater than this")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of runs (0 uses the service default)")
	return cmd
}

func newQuarantineCmd(withBackend backendRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "quarantine",
		Short: "Move an undecodable queue head to the corrupt list",
		Args:  cobra.NoArgs,
		RunE: withBackend(func(cmd *cobra.Command, b *backend, _ []string) error {
			stats, err := b.queue.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if stats.Length == 0 {
				return fmt.Errorf("queue %s is empty", stats.Namespace)
			}
			raw, err := b.queue.QuarantineHead(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"quarantined": raw})
		}),
	}
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
