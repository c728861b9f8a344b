package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/qianyu-bot/qianyu/internal/config"
	"github.com/qianyu-bot/qianyu/internal/discord"
	"github.com/qianyu-bot/qianyu/internal/poller"
	"github.com/qianyu-bot/qianyu/internal/store"
)

var runTest bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and start polling every enabled platform",
	RunE:  runAction,
}

func init() {
	runCmd.Flags().BoolVar(&runTest, "test", false, "use test_platforms and the test bot token")
	rootCmd.AddCommand(runCmd)
}

// loadEnv loads .env from the working directory and the config dir.
// Variables already set in the environment win, and missing files are
// ignored.
func loadEnv(dir string) error {
	for _, path := range []string{".env", filepath.Join(dir, ".env")} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func runAction(cmd *cobra.Command, _ []string) error {
	logger := defaultLogger()

	if err := loadEnv(configDir); err != nil {
		return err
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	platforms, token, err := cfg.Active(runTest)
	if err != nil {
		return err
	}
	if token == "" {
		env := cfg.Discord.TokenEnv
		if runTest {
			env = cfg.Discord.TestTokenEnv
		}
		return fmt.Errorf("discord token is empty; set %s", env)
	}

	built, err := buildPlatforms(platforms, cfg.AvatarURL)
	if err != nil {
		return fmt.Errorf("build platforms: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = db.Close() }()
	if n, err := db.PruneOld(ctx, cfg.Storage.RetainDays); err != nil {
		logger.Warn("prune journal failed", "error", err)
	} else if n > 0 {
		logger.Info("pruned journal", "deliveries", n, "retain_days", cfg.Storage.RetainDays)
	}

	bot, err := discord.NewBot(token, botConfig(cfg), logger)
	if err != nil {
		return err
	}
	if err := bot.Open(); err != nil {
		return err
	}
	defer func() { _ = bot.Close() }()

	dispatcher := bot.Dispatcher()
	pollers := make([]*poller.Poller, 0, len(built))
	for _, pl := range built {
		p, err := newPoller(pl, cfg.ScratchDir, dispatcher, db, logger)
		if err != nil {
			return fmt.Errorf("%s: %w", pl.key, err)
		}
		pollers = append(pollers, p)
	}

	logger.Info("qianyu started", "version", Version, "pollers", len(pollers), "test", runTest)
	return runPollers(ctx, pollers, bot.RunStatus, logger)
}

// runPollers runs every poller plus the status loop until ctx is cancelled.
func runPollers(ctx context.Context, pollers []*poller.Poller, status func(context.Context) error, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	if status != nil {
		g.Go(func() error { return status(gctx) })
	}
	for _, p := range pollers {
		g.Go(func() error { return p.Run(gctx) })
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("qianyu stopped")
	return nil
}

func botConfig(cfg *config.Config) discord.BotConfig {
	versions := make([]discord.Version, 0, len(cfg.Versions))
	for _, v := range cfg.Versions {
		versions = append(versions, discord.Version{Version: v.Version, Notes: v.Notes})
	}
	return discord.BotConfig{
		Name:           cfg.Name,
		Prefix:         cfg.Prefix,
		Color:          cfg.Color,
		OwnerID:        cfg.OwnerID,
		Description:    cfg.Description,
		ThumbnailURL:   cfg.ThumbnailURL,
		License:        cfg.License,
		Attributions:   cfg.Attributions,
		Versions:       versions,
		StatusInterval: cfg.Discord.StatusInterval.Duration,
	}
}
