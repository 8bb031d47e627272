package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/leadimport"
	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	importCSVPath string
	importDir     string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import leads from Apollo CSV exports",
	Long:  "Imports a single CSV with --csv, or sweeps every *.csv in the configured drop directory and moves them to the processed folder.",
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

		importCfg := cfg.Import
		if importDir != "" {
			importCfg.Dir = importDir
		}
		importer := leadimport.New(st, importCfg)

		var stats *leadimport.Stats
		if importCSVPath != "" {
			stats, err = importer.ImportFile(ctx, importCSVPath, model.LeadSourceApolloCSV)
		} else {
			stats, err = importer.ImportAll(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.Int("files", stats.Files),
			zap.Int("total_rows", stats.Total),
			zap.Int("imported", stats.Imported),
			zap.Int("duplicates", stats.Duplicates),
			zap.Int("skipped", stats.Skipped),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to a single CSV file (default: sweep the drop directory)")
	importCmd.Flags().StringVar(&importDir, "dir", "", "override the configured CSV drop directory")
	rootCmd.AddCommand(importCmd)
}
