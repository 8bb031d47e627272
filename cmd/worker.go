package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the periodic outreach driver",
	Long:  "Starts the cron scheduler: imports CSVs, sweeps for replies, processes the send queue on the configured schedules, and retires unresponsive leads. With --once it runs a single import/sweep/send cycle and exits.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initOutreach(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		if workerOnce {
			return env.Worker.RunOnce(ctx)
		}
		return env.Worker.Start(ctx)
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "run one full cycle and exit")
	rootCmd.AddCommand(workerCmd)
}
