package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
)

var statsHours int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show an outreach metrics snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, statsHours)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Leads total\t%d\n", snap.LeadsTotal)
		for _, status := range []model.LeadStatus{
			model.LeadStatusNew, model.LeadStatusContacted,
			model.LeadStatusFollowup1, model.LeadStatusFollowup2, model.LeadStatusFollowup3,
			model.LeadStatusReplied, model.LeadStatusEngaged,
			model.LeadStatusUnresponsive, model.LeadStatusUnsubscribed,
		} {
			if n := snap.LeadsByStatus[status]; n > 0 {
				fmt.Fprintf(w, "  %s\t%d\n", status, n)
			}
		}
		fmt.Fprintf(w, "Sent (last %dh)\t%d\n", snap.LookbackHours, snap.EmailsSent)
		fmt.Fprintf(w, "Failed\t%d\n", snap.EmailsFailed)
		fmt.Fprintf(w, "Bounced\t%d\n", snap.EmailsBounced)
		fmt.Fprintf(w, "Replies\t%d (%.1f%%)\n", snap.Replies, snap.ReplyRate*100)
		fmt.Fprintf(w, "Follow-ups due\t%d\n", snap.DueFollowups)
		fmt.Fprintf(w, "Active templates\t%d\n", snap.ActiveTemplates)
		if snap.TopTemplate != "" {
			fmt.Fprintf(w, "Best template\t%s (%.1f%%)\n", snap.TopTemplate, snap.TopTemplateReplyRate*100)
		}
		return w.Flush()
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsHours, "hours", 24, "lookback window in hours")
	rootCmd.AddCommand(statsCmd)
}
