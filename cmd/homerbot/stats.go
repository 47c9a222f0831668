package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/homer-bot/homerbot/pkg/config"
	"github.com/homer-bot/homerbot/pkg/models"
	"github.com/homer-bot/homerbot/pkg/tracker"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		since      time.Duration
		recent     int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show LLM call latency and token statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath, 0)
			if err != nil {
				return err
			}
			defer tr.Close()

			return runStats(context.Background(), tr, os.Stdout, recent, since)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "summarize calls newer than this")
	cmd.Flags().IntVar(&recent, "recent", 0, "list the N most recent calls instead of a summary")
	return cmd
}

func runStats(ctx context.Context, tr tracker.Tracker, out io.Writer, recent int, since time.Duration) error {
	if recent > 0 {
		records, err := tr.Recent(ctx, recent)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(out, "No calls recorded.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tMODEL\tMODE\tDURATION\tTTFT\tTOKENS\tERROR")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%dms\t%s\t%s\t%s\n",
				humanize.Time(r.CreatedAt), r.Model, mode(r.Streaming), r.DurationMs,
				seconds(r.TimeToFirstToken), tokens(r.TotalTokens), r.Error)
		}
		return w.Flush()
	}

	summaries, err := tr.Summary(ctx, time.Now().Add(-since))
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No usage data found.")
		return nil
	}
	return printSummaries(out, summaries)
}

func printSummaries(out io.Writer, summaries []models.CallSummary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tREQUESTS\tERRORS\tPROMPT\tCOMPLETION\tTOTAL\tAVG DURATION\tAVG TTFT")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.0fms\t%.3fs\n",
			s.Model,
			humanize.Comma(int64(s.RequestCount)), humanize.Comma(int64(s.ErrorCount)),
			humanize.Comma(s.TotalPrompt), humanize.Comma(s.TotalCompletion), humanize.Comma(s.TotalTokens),
			s.AvgDurationMs, s.AvgTimeToFirstToken)
	}
	return w.Flush()
}

func mode(streaming bool) string {
	if streaming {
		return "stream"
	}
	return "full"
}

func seconds(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3fs", *v)
}

func tokens(v *int) string {
	if v == nil {
		return "-"
	}
	return humanize.Comma(int64(*v))
}
