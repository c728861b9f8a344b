package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/qianyu-bot/qianyu/internal/config"
	"github.com/qianyu-bot/qianyu/internal/source"
	"github.com/qianyu-bot/qianyu/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, credentials and local state",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(out, false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(out, true, "config directory %s", configDir)
	}

	if err := loadEnv(configDir); err != nil {
		printCheck(out, false, ".env: %v", err)
		ok = false
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(out, false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(out, true, "config.yaml (%d enabled platforms)", cfg.Platforms.Enabled())

	// Credentials
	if !checkCredentials(out, cfg, cfg.Platforms, cfg.Discord.TokenEnv, cfg.Discord.Token) {
		ok = false
	}
	if cfg.TestPlatforms != nil {
		if cfg.Discord.TestToken == "" {
			printInfo(out, "test mode: %s not set", cfg.Discord.TestTokenEnv)
		} else {
			printCheck(out, true, "test bot token (%s)", cfg.Discord.TestTokenEnv)
		}
	}

	// Journal
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(out, false, "journal: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		printCheck(out, true, "journal %s", cfg.Storage.Path)
	}

	// Scratch dir
	if err := checkWritable(cfg.ScratchDir); err != nil {
		printCheck(out, false, "scratch dir %s: %v", cfg.ScratchDir, err)
		ok = false
	} else {
		printCheck(out, true, "scratch dir %s", cfg.ScratchDir)
	}

	// Build every source so URL and credential errors surface here.
	if built, err := buildPlatforms(cfg.Platforms, cfg.AvatarURL); err != nil {
		printCheck(out, false, "platforms: %v", err)
		ok = false
	} else {
		printCheck(out, true, "platforms")
		printPlatforms(out, built)
	}

	// Delivery health (info-level, non-fatal)
	if db != nil {
		checkDeliveryHealth(cmd.Context(), out, db)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Fprintln(out, "\nAll checks passed.")
	return nil
}

func checkCredentials(w io.Writer, cfg *config.Config, p config.PlatformsConfig, tokenEnv, token string) bool {
	ok := true
	if token == "" {
		printCheck(w, false, "discord token (%s not set)", tokenEnv)
		ok = false
	} else {
		printCheck(w, true, "discord token (%s)", tokenEnv)
	}

	if b := p.Bilibili; b != nil && b.IsEnabled() {
		if b.Cookie == "" {
			// The space feed answers anonymous requests with -352 sooner.
			printInfo(w, "bilibili: %s not set, requests are anonymous", b.CookieEnv)
		} else {
			printCheck(w, true, "bilibili cookie (%s)", b.CookieEnv)
		}
	}
	if t := p.Twitter; t != nil && t.IsEnabled() {
		if t.APIKey == "" || t.APISecret == "" {
			printCheck(w, false, "twitter credentials (%s, %s)", t.APIKeyEnv, t.APISecretEnv)
			ok = false
		} else {
			printCheck(w, true, "twitter credentials (%s, %s)", t.APIKeyEnv, t.APISecretEnv)
		}
	}
	if cfg.AvatarURL == "" {
		printInfo(w, "avatar_url not set, embed footers carry no icon")
	}
	return ok
}

func printPlatforms(w io.Writer, platforms []platform) {
	for _, pl := range platforms {
		target := ""
		switch src := pl.src.(type) {
		case *source.BilibiliSource:
			target = "uid " + src.UserID()
		case *source.TwitterSource:
			target = "@" + src.Username()
		case *source.RSSSource:
			target = src.FeedURL()
		}
		printInfo(w, "%s: %s, %d post channels, %d suppress groups", pl.key, target, len(pl.poll.PostChannels), pl.rules.Len())
	}
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

func checkDeliveryHealth(ctx context.Context, w io.Writer, db *store.Store) {
	// Look back 30 days for delivery health assessment
	since := time.Now().AddDate(0, 0, -30)
	stats, err := db.Stats(ctx, since)
	if err != nil || len(stats) == 0 {
		return // no data yet, skip
	}

	staleThreshold := time.Now().AddDate(0, 0, -staleDays)
	fmt.Fprintln(w)
	for _, ps := range stats {
		if ps.LastSent.IsZero() {
			printInfo(w, "failing: %s has %d failed deliveries and none sent", ps.Platform, ps.Failed)
			continue
		}
		if ps.LastSent.Before(staleThreshold) {
			daysAgo := int(time.Since(ps.LastSent).Hours() / 24)
			printInfo(w, "stale: %s last delivered %d days ago", ps.Platform, daysAgo)
		}
	}
}

func printCheck(w io.Writer, pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Fprintf(w, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "[INFO] %s\n", fmt.Sprintf(format, args...))
}
