package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-triage/internal/services"
	"github.com/miradorstack/mirador-triage/internal/tracker"
)

var batchCmd = &cobra.Command{
	Use:   "batch [ISSUE-KEY...]",
	Short: "Analyze several Jira issues and post a report on each",
	Long: `Processes issue keys given as arguments or read from --file (one per line or comma
separated, lines starting with # are ignored). Issues are processed concurrently by
batch.workers workers; a failure on one issue does not stop the others.`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().String("file", "", "file containing issue keys")
	batchCmd.Flags().Float64("threshold", services.UseDefaultThreshold, "minimum similarity in [0,1] (defaults to analysis.similarityThreshold)")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	text := strings.Join(args, "\n")
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read keys: %w", err)
		}
		text += "\n" + string(data)
	}
	keys := tracker.ParseKeys(text)
	if len(keys) == 0 {
		return errors.New("no valid issue keys found")
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	deps, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	res, err := deps.service.BatchProcess(cmd.Context(), keys, threshold)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	processed := make([]string, 0, len(res.Results))
	for key := range res.Results {
		processed = append(processed, key)
	}
	sort.Strings(processed)
	for _, key := range processed {
		state := "failed"
		if res.Results[key] {
			state = "updated"
		}
		fmt.Fprintf(out, "%-16s %s\n", key, state)
	}
	fmt.Fprintf(out, "Processed %d issues: %d successful, %d failed\n", res.Total, res.Successful, res.Failed)
	return nil
}
