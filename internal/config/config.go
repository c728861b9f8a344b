package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qianyu-bot/qianyu/internal/filter"
	"github.com/qianyu-bot/qianyu/internal/novelty"
)

const (
	DefaultConfigFile     = "config.yaml"
	DefaultName           = "Qianyu"
	DefaultPrefix         = "!"
	DefaultColor          = 0x3d6878
	DefaultStoragePath    = ".qianyu/qianyu.db"
	DefaultRetainDays     = 30
	DefaultScratchDir     = ".qianyu/scratch"
	DefaultInterval       = 60 * time.Second
	DefaultStatusInterval = 60 * time.Second
	MinInterval           = 5 * time.Second

	DefaultTokenEnv          = "DISCORD_TOKEN"
	DefaultTestTokenEnv      = "DISCORD_TEST_TOKEN"
	DefaultBilibiliCookieEnv = "BILIBILI_COOKIE"
	DefaultTwitterKeyEnv     = "TWITTER_API_KEY"
	DefaultTwitterSecretEnv  = "TWITTER_API_SECRET"

	BilibiliColor = 0xfb7299
	TwitterColor  = 0x2488e0
)

// DefaultBilibiliSuppress drops lottery-win announcements.
var DefaultBilibiliSuppress = [][]string{{"恭喜", "中奖"}}

// Duration wraps time.Duration for YAML unmarshaling from strings like "60s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Name         string   `yaml:"name"`
	Prefix       string   `yaml:"prefix"`
	Color        int      `yaml:"color"`
	OwnerID      string   `yaml:"owner_id"`
	AvatarURL    string   `yaml:"avatar_url"`
	Description  string   `yaml:"description"`
	ThumbnailURL string   `yaml:"thumbnail_url"`
	License      string   `yaml:"license"`
	Attributions []string `yaml:"attributions"`

	Discord    DiscordConfig  `yaml:"discord"`
	Storage    StorageConfig  `yaml:"storage"`
	ScratchDir string         `yaml:"scratch_dir"`
	Versions   []VersionEntry `yaml:"versions"`

	Platforms     PlatformsConfig  `yaml:"platforms"`
	TestPlatforms *PlatformsConfig `yaml:"test_platforms"`
}

type DiscordConfig struct {
	TokenEnv       string   `yaml:"token_env"`
	TestTokenEnv   string   `yaml:"test_token_env"`
	StatusInterval Duration `yaml:"status_interval"`

	// Resolved from env vars at load time.
	Token     string `yaml:"-"`
	TestToken string `yaml:"-"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

type VersionEntry struct {
	Version string `yaml:"version"`
	Notes   string `yaml:"notes"`
}

type PlatformsConfig struct {
	Bilibili *BilibiliConfig `yaml:"bilibili"`
	Twitter  *TwitterConfig  `yaml:"twitter"`
	RSS      []RSSFeedConfig `yaml:"rss"`
}

// PollConfig holds the settings shared by every platform poller.
type PollConfig struct {
	Enabled      *bool      `yaml:"enabled"`
	Interval     Duration   `yaml:"interval"`
	WindowSize   int        `yaml:"window_size"`
	Title        string     `yaml:"title"`
	Color        int        `yaml:"color"`
	PostChannels []string   `yaml:"post_channels"`
	DebugChannel string     `yaml:"debug_channel"`
	Suppress     [][]string `yaml:"suppress"`
}

// IsEnabled reports whether the poller should run. A configured platform is
// enabled unless it says otherwise.
func (p PollConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type BilibiliConfig struct {
	PollConfig  `yaml:",inline"`
	UserID      string `yaml:"user_id"`
	DisplayName string `yaml:"display_name"`
	CookieEnv   string `yaml:"cookie_env"`

	// Resolved from env var at load time.
	Cookie string `yaml:"-"`
}

type TwitterConfig struct {
	PollConfig   `yaml:",inline"`
	Username     string `yaml:"username"`
	APIKeyEnv    string `yaml:"api_key_env"`
	APISecretEnv string `yaml:"api_secret_env"`

	// Resolved from env vars at load time.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

type RSSFeedConfig struct {
	PollConfig `yaml:",inline"`
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`
}

// Enabled returns the number of enabled pollers.
func (p PlatformsConfig) Enabled() int {
	n := 0
	if p.Bilibili != nil && p.Bilibili.IsEnabled() {
		n++
	}
	if p.Twitter != nil && p.Twitter.IsEnabled() {
		n++
	}
	for _, f := range p.RSS {
		if f.IsEnabled() {
			n++
		}
	}
	return n
}

// Active returns the platforms to poll and the Discord token to use. Test
// mode swaps in test_platforms and the test token.
func (c *Config) Active(test bool) (PlatformsConfig, string, error) {
	if !test {
		return c.Platforms, c.Discord.Token, nil
	}
	if c.TestPlatforms == nil {
		return PlatformsConfig{}, "", errors.New("test mode requires test_platforms")
	}
	return *c.TestPlatforms, c.Discord.TestToken, nil
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Color == 0 {
		cfg.Color = DefaultColor
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = DefaultScratchDir
	}
	if cfg.Discord.TokenEnv == "" {
		cfg.Discord.TokenEnv = DefaultTokenEnv
	}
	if cfg.Discord.TestTokenEnv == "" {
		cfg.Discord.TestTokenEnv = DefaultTestTokenEnv
	}
	if cfg.Discord.StatusInterval.Duration == 0 {
		cfg.Discord.StatusInterval.Duration = DefaultStatusInterval
	}

	applyPlatformDefaults(&cfg.Platforms, cfg.Color)
	if cfg.TestPlatforms != nil {
		applyPlatformDefaults(cfg.TestPlatforms, cfg.Color)
	}
}

func applyPlatformDefaults(p *PlatformsConfig, color int) {
	if b := p.Bilibili; b != nil {
		applyPollDefaults(&b.PollConfig, BilibiliColor)
		if b.Suppress == nil {
			b.Suppress = DefaultBilibiliSuppress
		}
		if b.CookieEnv == "" {
			b.CookieEnv = DefaultBilibiliCookieEnv
		}
	}
	if t := p.Twitter; t != nil {
		applyPollDefaults(&t.PollConfig, TwitterColor)
		if t.APIKeyEnv == "" {
			t.APIKeyEnv = DefaultTwitterKeyEnv
		}
		if t.APISecretEnv == "" {
			t.APISecretEnv = DefaultTwitterSecretEnv
		}
	}
	for i := range p.RSS {
		applyPollDefaults(&p.RSS[i].PollConfig, color)
	}
}

func applyPollDefaults(p *PollConfig, color int) {
	if p.Interval.Duration == 0 {
		p.Interval.Duration = DefaultInterval
	}
	if p.WindowSize == 0 {
		p.WindowSize = novelty.DefaultSize
	}
	if p.Color == 0 {
		p.Color = color
	}
}

func resolveEnv(cfg *Config) {
	cfg.Discord.Token = os.Getenv(cfg.Discord.TokenEnv)
	cfg.Discord.TestToken = os.Getenv(cfg.Discord.TestTokenEnv)

	resolvePlatformEnv(&cfg.Platforms)
	if cfg.TestPlatforms != nil {
		resolvePlatformEnv(cfg.TestPlatforms)
	}
}

func resolvePlatformEnv(p *PlatformsConfig) {
	if b := p.Bilibili; b != nil && b.CookieEnv != "" {
		b.Cookie = os.Getenv(b.CookieEnv)
	}
	if t := p.Twitter; t != nil {
		if t.APIKeyEnv != "" {
			t.APIKey = os.Getenv(t.APIKeyEnv)
		}
		if t.APISecretEnv != "" {
			t.APISecret = os.Getenv(t.APISecretEnv)
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Storage.RetainDays < 0 {
		return errors.New("storage.retain_days: must not be negative")
	}
	if cfg.Discord.StatusInterval.Duration < 0 {
		return errors.New("discord.status_interval: must be positive")
	}
	if err := validatePlatforms("platforms", cfg.Platforms); err != nil {
		return err
	}
	if cfg.TestPlatforms != nil {
		if err := validatePlatforms("test_platforms", *cfg.TestPlatforms); err != nil {
			return err
		}
	}
	return nil
}

func validatePlatforms(key string, p PlatformsConfig) error {
	if p.Enabled() == 0 {
		return fmt.Errorf("%s: at least one platform must be enabled", key)
	}

	if b := p.Bilibili; b != nil && b.IsEnabled() {
		if _, err := strconv.ParseUint(b.UserID, 10, 64); err != nil {
			return fmt.Errorf("%s.bilibili.user_id: must be a numeric uid, got %q", key, b.UserID)
		}
		if err := validatePoll(key+".bilibili", b.PollConfig); err != nil {
			return err
		}
	}
	if t := p.Twitter; t != nil && t.IsEnabled() {
		if strings.TrimSpace(strings.TrimPrefix(t.Username, "@")) == "" {
			return fmt.Errorf("%s.twitter.username: required", key)
		}
		if err := validatePoll(key+".twitter", t.PollConfig); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(p.RSS))
	for i, f := range p.RSS {
		if !f.IsEnabled() {
			continue
		}
		fkey := fmt.Sprintf("%s.rss[%d]", key, i)
		if strings.TrimSpace(f.URL) == "" {
			return fmt.Errorf("%s.url: required", fkey)
		}
		if f.Name != "" {
			if seen[f.Name] {
				return fmt.Errorf("%s.name: duplicate feed name %q", fkey, f.Name)
			}
			seen[f.Name] = true
		}
		if err := validatePoll(fkey, f.PollConfig); err != nil {
			return err
		}
	}
	return nil
}

func validatePoll(key string, p PollConfig) error {
	if p.Interval.Duration < MinInterval {
		return fmt.Errorf("%s.interval: must be at least %s, got %s", key, MinInterval, p.Interval.Duration)
	}
	if p.WindowSize < 1 {
		return fmt.Errorf("%s.window_size: must be at least 1, got %d", key, p.WindowSize)
	}
	if len(p.PostChannels) == 0 {
		return fmt.Errorf("%s.post_channels: at least one channel is required", key)
	}
	for _, ch := range p.PostChannels {
		if strings.TrimSpace(ch) == "" {
			return fmt.Errorf("%s.post_channels: empty channel id", key)
		}
	}
	if _, err := filter.Compile(p.Suppress); err != nil {
		return fmt.Errorf("%s.suppress: %w", key, err)
	}
	return nil
}
