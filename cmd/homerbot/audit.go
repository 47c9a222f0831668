package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/homer-bot/homerbot/pkg/audit"
	"github.com/homer-bot/homerbot/pkg/config"
	"github.com/homer-bot/homerbot/pkg/models"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage stored call transcripts",
	}

	cmd.AddCommand(
		newAuditSearchCmd(&configPath),
		newAuditShowCmd(&configPath),
		newAuditStatsCmd(&configPath),
		newAuditCleanupCmd(&configPath),
	)
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	return cmd
}

func newAuditSearchCmd(configPath *string) *cobra.Command {
	var (
		model     string
		since     string
		requestID string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search transcripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(cmd, *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			q := models.TranscriptQuery{
				Model:     model,
				RequestID: requestID,
				Limit:     limit,
			}
			if since != "" {
				t, err := time.Parse(time.DateOnly, since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				q.Since = t
			}

			out, err := l.Query(context.Background(), q)
			if err != nil {
				return err
			}
			fmt.Print(formatTranscripts(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "filter by model")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "filter by HTTP request ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "max transcripts to return")
	return cmd
}

func newAuditShowCmd(configPath *string) *cobra.Command {
	var requestID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the transcript of a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestID == "" {
				return fmt.Errorf("--request-id is required")
			}

			l, cleanup, err := openAuditLogger(cmd, *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			out, err := l.Query(context.Background(), models.TranscriptQuery{RequestID: requestID, Limit: 1})
			if err != nil {
				return err
			}
			if len(out) == 0 {
				fmt.Println("No transcript found for that request ID.")
				return nil
			}

			tr := out[0]
			fmt.Printf("Call ID:    %s\n", tr.CallID)
			fmt.Printf("Request ID: %s\n", tr.RequestID)
			fmt.Printf("Model:      %s\n", tr.Model)
			fmt.Printf("Provider:   %s\n", tr.Provider)
			fmt.Printf("Duration:   %dms\n", tr.DurationMs)
			fmt.Printf("Time:       %s\n", tr.CreatedAt.Format(time.RFC3339))
			if tr.Error != "" {
				fmt.Printf("Error:      %s\n", tr.Error)
			}
			if tr.Input != "" {
				fmt.Printf("\n--- Input ---\n%s\n", tr.Input)
			}
			if tr.Output != "" {
				fmt.Printf("\n--- Output ---\n%s\n", tr.Output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "request ID to show")
	return cmd
}

func newAuditStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show transcript counts by model and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(cmd, *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatTranscriptStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete transcripts older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(cmd, *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d transcripts.\n", deleted)
			return nil
		},
	}
}

func openAuditLogger(cmd *cobra.Command, configPath string) (*audit.Logger, func(), error) {
	cfg, err := config.LoadOrDefault(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, nil, err
	}

	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatTranscripts(out []models.Transcript) string {
	if len(out) == 0 {
		return "No transcripts found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-22s %-20s %8s %-6s %-20s\n",
		"CALL ID", "REQUEST ID", "MODEL", "DURATION", "STATUS", "TIME")
	b.WriteString(strings.Repeat("-", 120) + "\n")
	for _, tr := range out {
		status := "ok"
		if tr.Error != "" {
			status = "error"
		}
		fmt.Fprintf(&b, "%-38s %-22s %-20s %6dms %-6s %-20s\n",
			tr.CallID, tr.RequestID, tr.Model, tr.DurationMs, status,
			tr.CreatedAt.Format(time.DateTime))
	}
	return b.String()
}

func formatTranscriptStats(stats []models.TranscriptStat) string {
	if len(stats) == 0 {
		return "No transcript stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-25s %-12s %8s\n", "MODEL", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 48) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-25s %-12s %8d\n", s.Model, s.Day, s.Count)
	}
	return b.String()
}
