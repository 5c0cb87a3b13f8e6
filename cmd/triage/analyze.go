package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-triage/internal/services"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Recommend an assignee and next steps for a problem description or Jira issue",
	Long: `Analyzes free text (--text) or the description of a Jira issue (--issue) against the
incident index and prints the markdown report. With --issue and --post the report is
added to the issue as a comment.`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().String("text", "", "problem description to analyze")
	analyzeCmd.Flags().String("issue", "", "Jira issue key whose description is analyzed")
	analyzeCmd.Flags().Bool("post", false, "post the report as a comment on --issue")
	analyzeCmd.Flags().Float64("threshold", services.UseDefaultThreshold, "minimum similarity in [0,1] (defaults to analysis.similarityThreshold)")
	analyzeCmd.Flags().Int("limit", 0, "maximum similar incidents (defaults to analysis.maxSimilarIncidents)")
	analyzeCmd.Flags().Bool("json", false, "print the full analysis as JSON")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	text, _ := cmd.Flags().GetString("text")
	issue, _ := cmd.Flags().GetString("issue")
	post, _ := cmd.Flags().GetBool("post")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if (text == "") == (issue == "") {
		return errors.New("exactly one of --text or --issue is required")
	}
	if post && issue == "" {
		return errors.New("--post requires --issue")
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
	svc := deps.service
	out := cmd.OutOrStdout()

	if post {
		res, err := svc.ProcessIssue(cmd.Context(), strings.ToUpper(issue), threshold)
		if err != nil {
			return err
		}
		if !res.Success {
			fmt.Fprintf(out, "%s: not updated (%s)\n", res.IssueKey, res.Reason)
			return nil
		}
		fmt.Fprintf(out, "%s: report posted\n", res.IssueKey)
		return nil
	}

	if issue != "" {
		desc, err := svc.IssueDescription(cmd.Context(), strings.ToUpper(issue))
		if err != nil {
			return err
		}
		text = desc
	}

	analysis, err := svc.Analyze(cmd.Context(), text, threshold, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	}
	fmt.Fprintln(out, analysis.Report)
	return nil
}
