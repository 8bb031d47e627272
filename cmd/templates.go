package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/composer"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage email templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates with usage and reply stats",
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

		templates, err := st.ListTemplates(ctx)
		if err != nil {
			return eris.Wrap(err, "list templates")
		}
		if len(templates) == 0 {
			fmt.Fprintln(os.Stderr, "No templates. Run `outreach-cli templates seed` to load the defaults.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTAGE\tACTIVE\tVARIANTS\tSENT\tREPLIES\tREPLY RATE")
		for i := range templates {
			t := &templates[i]
			fmt.Fprintf(w, "%s\t%s\t%v\t%dx%d\t%d\t%d\t%.1f%%\n",
				t.Name, t.Stage, t.Active, len(t.Subjects), len(t.Bodies),
				t.TotalSent, t.TotalReplies, t.ReplyRate()*100,
			)
		}
		return w.Flush()
	},
}

var templatesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the default template set",
	Long:  "Inserts the built-in templates for every sequence stage. Existing templates with the same name are left untouched.",
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

		inserted, err := st.SeedTemplates(ctx, composer.DefaultTemplates())
		if err != nil {
			return eris.Wrap(err, "seed templates")
		}

		zap.L().Info("templates seeded", zap.Int("inserted", inserted))
		return nil
	},
}

func init() {
	templatesCmd.AddCommand(templatesListCmd, templatesSeedCmd)
	rootCmd.AddCommand(templatesCmd)
}
