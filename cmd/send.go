package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sendMax int

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Process the send queue once",
	Long:  "Selects due follow-ups and fresh leads up to the per-run and daily budgets, composes and dispatches one email each, and advances the sequence.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if sendMax > 0 {
			cfg.Sequence.MaxPerRun = sendMax
		}

		env, err := initOutreach(ctx, "send")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Worker.SendCycle(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("send cycle complete",
			zap.Int("due", stats.Due),
			zap.Int("attempted", stats.Attempted),
			zap.Int("sent", stats.Sent),
			zap.Int("failed", stats.Failed),
			zap.Int("bounced", stats.Bounced),
			zap.Int("stale", stats.Stale),
			zap.Int("skipped", stats.Skipped),
			zap.Bool("daily_limit_hit", stats.DailyLimitHit),
		)
		return nil
	},
}

func init() {
	sendCmd.Flags().IntVar(&sendMax, "max", 0, "max emails this run (default from config)")
	rootCmd.AddCommand(sendCmd)
}
