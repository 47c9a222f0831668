package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/homer-bot/homerbot/pkg/config"
	"github.com/homer-bot/homerbot/pkg/models"
	"github.com/spf13/cobra"
)

// The response cache lives in the server process, so these commands talk to
// a running server.
func newCacheCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the response cache of a running server",
	}

	baseURL := func(cmd *cobra.Command) (string, error) {
		if addr != "" {
			return strings.TrimRight(addr, "/"), nil
		}
		cfg, err := config.LoadOrDefault(configPath, cmd.Flags().Changed("config"))
		if err != nil {
			return "", err
		}
		return serverURL(cfg.Listen), nil
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := baseURL(cmd)
			if err != nil {
				return err
			}
			var stats models.CacheStats
			if err := callServer(cmd.Context(), http.MethodGet, base+"/api/cache/stats", &stats); err != nil {
				return err
			}
			ratio := 0.0
			if lookups := stats.Hits + stats.Misses; lookups > 0 {
				ratio = float64(stats.Hits) / float64(lookups) * 100
			}
			fmt.Printf("Entries:  %s / %s\nHits:     %s\nMisses:   %s\nHit rate: %.1f%%\nTTL:      %s\n",
				humanize.Comma(stats.Entries), humanize.Comma(int64(stats.Capacity)),
				humanize.Comma(stats.Hits), humanize.Comma(stats.Misses), ratio,
				time.Duration(stats.TTLSeconds)*time.Second)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := baseURL(cmd)
			if err != nil {
				return err
			}
			url := base + "/api/cache/clear"
			if expiredOnly {
				url += "?expired=true"
			}
			var out struct {
				Removed int `json:"removed"`
			}
			if err := callServer(cmd.Context(), http.MethodPost, url, &out); err != nil {
				return err
			}
			if expiredOnly {
				fmt.Printf("%d expired cache entries cleared.\n", out.Removed)
			} else {
				fmt.Printf("%d cache entries cleared.\n", out.Removed)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "server base URL (default derived from the listen address)")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func serverURL(listen string) string {
	host := listen
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host
}

func callServer(ctx context.Context, method, url string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contact server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
