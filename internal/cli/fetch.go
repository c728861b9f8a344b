package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qianyu-bot/qianyu/internal/config"
	"github.com/qianyu-bot/qianyu/internal/format"
	"github.com/qianyu-bot/qianyu/internal/novelty"
	"github.com/qianyu-bot/qianyu/internal/source"
)

var (
	fetchTest   bool
	fetchRender bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <platform>",
	Short: "Fetch one page from a platform and show what would be relayed",
	Long:  "fetch runs a single request against the live platform API and prints the newest post and the recent window, without touching Discord. <platform> is bilibili, twitter, or an RSS feed name.",
	Args:  cobra.ExactArgs(1),
	RunE:  fetchAction,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchTest, "test", false, "use test_platforms")
	fetchCmd.Flags().BoolVar(&fetchRender, "render", false, "fetch the post detail and print the rendered message")
	rootCmd.AddCommand(fetchCmd)
}

func fetchAction(cmd *cobra.Command, args []string) error {
	if err := loadEnv(configDir); err != nil {
		return err
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	platforms, _, err := cfg.Active(fetchTest)
	if err != nil {
		return err
	}
	built, err := buildPlatforms(platforms, cfg.AvatarURL)
	if err != nil {
		return fmt.Errorf("build platforms: %w", err)
	}
	pl, ok := findPlatform(built, args[0])
	if !ok {
		keys := make([]string, 0, len(built))
		for _, b := range built {
			keys = append(keys, b.key)
		}
		return fmt.Errorf("no enabled platform %q (have %s)", args[0], strings.Join(keys, ", "))
	}

	ctx := cmd.Context()
	posts, err := pl.src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", pl.key, err)
	}

	out := cmd.OutOrStdout()
	window := novelty.NewWindow(pl.poll.WindowSize)
	window.Replace(posts)
	printFetch(out, pl.label, posts, window)
	if len(posts) == 0 || !fetchRender {
		return nil
	}

	newest := novelty.Newest(posts)
	if d, ok := pl.src.(source.Detailer); ok {
		newest, err = d.Detail(ctx, newest)
		if err != nil {
			return fmt.Errorf("fetch detail: %w", err)
		}
	}
	msg, err := pl.render(newest)
	if errors.Is(err, format.ErrUnknownPostType) {
		fmt.Fprintf(out, "\nUnknown post type: %v\n", err)
		return nil
	}
	if err != nil {
		return err
	}
	printMessage(out, msg, pl.rules.Suppressed(msg.Text()))
	return nil
}

func printFetch(w io.Writer, label string, posts []source.Post, window *novelty.Window) {
	fmt.Fprintf(w, "[%s] fetched %d posts\n", label, len(posts))
	if len(posts) == 0 {
		return
	}
	newest := novelty.Newest(posts)
	fmt.Fprintf(w, "\nNewest: %s  %s  %s\n", newest.ID, publishedAgo(newest.Published), newest.URL)

	byID := make(map[string]source.Post, len(posts))
	for _, p := range posts {
		if _, ok := byID[p.ID]; !ok {
			byID[p.ID] = p
		}
	}
	fmt.Fprintf(w, "\nRecent window (%d of %d):\n", window.Len(), window.Size())
	for i, id := range window.IDs() {
		fmt.Fprintf(w, "  %d. %-22s %s\n", i+1, id, publishedAgo(byID[id].Published))
	}
}

func printMessage(w io.Writer, msg format.Message, suppressed bool) {
	fmt.Fprintf(w, "\nKind: %s\n", msg.Kind)
	if suppressed {
		fmt.Fprintln(w, "Suppressed: yes (would not be relayed)")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, msg.Text())
	if msg.Embed.URL != "" {
		fmt.Fprintln(w, msg.Embed.URL)
	}
}

func publishedAgo(unix int64) string {
	if unix <= 0 {
		return "(no timestamp)"
	}
	return humanize.Time(time.Unix(unix, 0))
}
