package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qianyu-bot/qianyu/internal/config"
	"github.com/qianyu-bot/qianyu/internal/store"
)

var (
	statsSince  string
	statsFormat string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show delivery counts per platform",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsSince, "since", "30d", "time window (e.g. 7d, 48h)")
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statsCmd)
}

// staleDays is how long a platform may go without a successful delivery
// before doctor and stats flag it.
const staleDays = 7

func statsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = db.Close() }()

	sinceDur, err := parseDuration(statsSince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}

	stats, err := db.Stats(cmd.Context(), time.Now().Add(-sinceDur))
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	out := cmd.OutOrStdout()
	switch statsFormat {
	case "json":
		return printStatsJSON(out, stats)
	case "terminal", "":
		printStats(out, stats, sinceDur, time.Now())
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

type jsonPlatformStats struct {
	Platform string     `json:"platform"`
	Sent     int        `json:"sent"`
	Failed   int        `json:"failed"`
	LastSent *time.Time `json:"last_sent,omitempty"`
}

func printStatsJSON(w io.Writer, stats []store.PlatformStats) error {
	out := make([]jsonPlatformStats, 0, len(stats))
	for _, ps := range stats {
		js := jsonPlatformStats{Platform: ps.Platform, Sent: ps.Sent, Failed: ps.Failed}
		if !ps.LastSent.IsZero() {
			last := ps.LastSent
			js.LastSent = &last
		}
		out = append(out, js)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"platforms": out})
}

func printStats(w io.Writer, stats []store.PlatformStats, since time.Duration, now time.Time) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No deliveries journaled yet. Start the bot with 'qianyu run'.")
		return
	}

	totalSent, totalFailed := 0, 0
	for _, ps := range stats {
		totalSent += ps.Sent
		totalFailed += ps.Failed
	}
	fmt.Fprintf(w, "qianyu stats: %s, %d sent, %d failed across %d platforms\n\n",
		formatStatsDuration(since), totalSent, totalFailed, len(stats))

	fmt.Fprintf(w, "  %-20s  %5s  %6s  %s\n", "Platform", "Sent", "Failed", "Last sent")
	staleThreshold := now.AddDate(0, 0, -staleDays)
	for _, ps := range stats {
		last := "never"
		if !ps.LastSent.IsZero() {
			last = humanize.RelTime(ps.LastSent, now, "ago", "from now")
		}
		fmt.Fprintf(w, "  %-20s  %5d  %6d  %s\n", ps.Platform, ps.Sent, ps.Failed, last)
	}

	fmt.Fprintln(w)
	for _, ps := range stats {
		if ps.Sent > 0 && ps.LastSent.Before(staleThreshold) {
			fmt.Fprintf(w, "  stale: %s has not delivered for %d+ days\n", ps.Platform, staleDays)
		}
		if ps.Failed > 0 && ps.Failed >= ps.Sent {
			fmt.Fprintf(w, "  failing: %s has more failed than successful sends, check channel permissions\n", ps.Platform)
		}
	}
}

func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func formatStatsDuration(d time.Duration) string {
	hours := int(d.Hours())
	if hours == 24 {
		return "1 day"
	}
	if hours > 24 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
