package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/sequence"
)

var repliesCmd = &cobra.Command{
	Use:   "replies",
	Short: "Sweep active threads for replies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initOutreach(ctx, "replies")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Checker.Sweep(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("reply sweep complete",
			zap.Int("checked", stats.Checked),
			zap.Int("replies", stats.Replies),
			zap.Int("errors", stats.Errors),
		)
		return nil
	},
}

var repliesMarkCmd = &cobra.Command{
	Use:   "mark <email>",
	Short: "Manually mark a lead as replied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		lead, err := st.GetLeadByEmail(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "look up %s", args[0])
		}
		if lead == nil {
			return eris.Errorf("no lead with email %s", args[0])
		}

		eng := sequence.New(st, cfg.Sequence)
		if err := eng.RecordReply(ctx, lead.ID); err != nil {
			return err
		}

		zap.L().Info("lead marked replied",
			zap.String("lead_id", lead.ID),
			zap.String("email", lead.Email),
		)
		return nil
	},
}

func init() {
	repliesCmd.AddCommand(repliesMarkCmd)
	rootCmd.AddCommand(repliesCmd)
}
