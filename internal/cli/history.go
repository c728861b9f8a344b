package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qianyu-bot/qianyu/internal/config"
	"github.com/qianyu-bot/qianyu/internal/store"
)

var (
	historySince    string
	historyPlatform string
	historyFailed   bool
	historyLimit    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List journaled deliveries",
	RunE:  historyAction,
}

func init() {
	historyCmd.Flags().StringVar(&historySince, "since", "24h", "time window (e.g. 7d, 48h)")
	historyCmd.Flags().StringVar(&historyPlatform, "platform", "", "only show one platform key (bilibili, twitter, rss-<feed name>)")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "only show failed deliveries")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 100, "maximum number of rows")
	rootCmd.AddCommand(historyCmd)
}

func historyAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = db.Close() }()

	sinceDur, err := parseDuration(historySince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}

	filter := store.DeliveryFilter{Platform: historyPlatform, Limit: historyLimit}
	if historyFailed {
		filter.Status = store.StatusFailed
	}
	deliveries, err := db.ListDeliveries(cmd.Context(), time.Now().Add(-sinceDur), filter)
	if err != nil {
		return err
	}

	printHistory(cmd.OutOrStdout(), deliveries, sinceDur)
	return nil
}

func printHistory(w io.Writer, deliveries []store.Delivery, since time.Duration) {
	if len(deliveries) == 0 {
		fmt.Fprintf(w, "No deliveries in the last %s.\n", formatStatsDuration(since))
		return
	}

	fmt.Fprintf(w, "%d deliveries in the last %s\n\n", len(deliveries), formatStatsDuration(since))
	fmt.Fprintf(w, "  %-14s  %-8s  %-9s  %-20s  %-20s  %s\n", "When", "Platform", "Kind", "Post", "Channel", "Status")
	for _, d := range deliveries {
		status := d.Status
		if d.Error != "" {
			status += ": " + d.Error
		}
		fmt.Fprintf(w, "  %-14s  %-8s  %-9s  %-20s  %-20s  %s\n",
			humanize.Time(d.DeliveredAt), d.Platform, d.Kind, d.PostID, d.ChannelID, status)
	}
}
