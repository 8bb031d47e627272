package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/research"
	"github.com/sells-group/outreach-cli/internal/store"
	anthropicpkg "github.com/sells-group/outreach-cli/pkg/anthropic"
)

var (
	researchLimit    int
	researchInsights bool
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Qualify and score uncontacted leads",
	Long:  "Checks each new lead against the target criteria, fetches its website for tech-stack and context signals, and scores it. With --insights, drafts a personalized opener per qualified lead via the Anthropic batch API.",
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

		leads, err := st.ListLeads(ctx, store.LeadFilter{
			Status: model.LeadStatusNew,
			Limit:  researchLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list new leads")
		}
		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No new leads to research.")
			return nil
		}

		timeout := time.Duration(cfg.Research.TimeoutSecs) * time.Second
		analyzer := research.NewAnalyzer(research.NewScraper(timeout), cfg.Research)

		analyses := make(map[string]*model.Analysis, len(leads))
		qualified := 0
		for _, lead := range leads {
			a := analyzer.Analyze(ctx, lead)
			analyses[lead.ID] = a
			if a.Qualified {
				qualified++
			}
		}

		var insights map[string]string
		if researchInsights {
			if cfg.Anthropic.Key == "" {
				return eris.New("anthropic key is required for --insights (OUTREACH_ANTHROPIC_KEY)")
			}
			ai := anthropicpkg.NewClient(cfg.Anthropic.Key)
			insights, err = research.InsightDrafts(ctx, ai, cfg.Anthropic, leads, analyses)
			if err != nil {
				return eris.Wrap(err, "draft insights")
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EMAIL\tCOMPANY\tSCORE\tQUALIFIED\tTECH\tREASONS")
		for _, lead := range leads {
			a := analyses[lead.ID]
			fmt.Fprintf(w, "%s\t%s\t%.1f\t%v\t%s\t%s\n",
				lead.Email, lead.Company, a.TargetScore, a.Qualified,
				strings.Join(a.DetectedTech, ","), strings.Join(a.Reasons, "; "),
			)
		}
		w.Flush() //nolint:errcheck

		for id, opener := range insights {
			if lead := findLead(leads, id); lead != nil {
				fmt.Printf("\n--- %s (%s) ---\n%s\n", lead.Email, lead.Company, opener)
			}
		}

		zap.L().Info("research complete",
			zap.Int("analyzed", len(leads)),
			zap.Int("qualified", qualified),
		)
		return nil
	},
}

func findLead(leads []model.Lead, id string) *model.Lead {
	for i := range leads {
		if leads[i].ID == id {
			return &leads[i]
		}
	}
	return nil
}

func init() {
	researchCmd.Flags().IntVar(&researchLimit, "limit", 50, "max leads to analyze")
	researchCmd.Flags().BoolVar(&researchInsights, "insights", false, "draft AI openers for qualified leads")
	rootCmd.AddCommand(researchCmd)
}
