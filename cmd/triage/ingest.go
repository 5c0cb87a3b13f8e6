package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-triage/internal/catalog"
	"github.com/miradorstack/mirador-triage/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [workbook.xlsx]",
	Short: "Index historical incidents from a spreadsheet export",
	Long: `Reads the first sheet of an .xlsx export (INC, Short Desc, Created Date, Updated Date,
Assignee, Group, Created By, Updated By), embeds each short description and writes the
records to the incident store and the SQLite catalog. Incidents already in the catalog
are skipped, so re-running an import only adds new rows.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().Int("batch-size", 0, "records per store/catalog write (defaults to ingest.batchSize)")
	ingestCmd.Flags().String("json-dir", "", "also export each new record as JSON into this directory")
	ingestCmd.Flags().Bool("no-progress", false, "disable the progress bar")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	jsonDir, _ := cmd.Flags().GetString("json-dir")
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	if batchSize <= 0 {
		batchSize = cfg.Ingest.BatchSize
	}
	if jsonDir == "" {
		jsonDir = cfg.Ingest.JSONDir
	}

	deps, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	cat, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	defer cat.Close()

	opts := ingest.Options{BatchSize: batchSize, JSONDir: jsonDir}
	var bar *progressbar.ProgressBar
	if !noProgress {
		opts.Progress = func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Indexing incidents"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set(done)
		}
	}

	ingester := ingest.NewIngester(deps.embedder, deps.index, cat, opts, logger)
	res, err := ingester.IngestFile(cmd.Context(), args[0])
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}

	total, _ := cat.Count(cmd.Context())
	indexed, _ := cat.IndexedCount(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d new incidents (%d indexed, %d without description, %d duplicates, %d skipped, %d failed).\n",
		res.Indexed+res.CatalogOnly, res.Indexed, res.CatalogOnly, res.Duplicates, res.Skipped, res.Failed)
	fmt.Fprintf(cmd.OutOrStdout(), "Catalog: %d incidents, %d indexed.\n", total, indexed)
	return nil
}
