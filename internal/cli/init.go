package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/qianyu-bot/qianyu/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0
	for _, f := range []struct {
		name string
		data string
		mode os.FileMode
	}{
		{config.DefaultConfigFile, exampleConfig, 0o644},
		{".env.example", exampleEnv, 0o600},
	} {
		wrote, err := writeIfNotExists(out, filepath.Join(configDir, f.name), []byte(f.data), f.mode)
		if err != nil {
			return err
		}
		if wrote {
			created++
		}
	}

	if created == 0 {
		fmt.Fprintf(out, "Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Fprintf(out, "Initialized %s with %d files. Copy .env.example to .env and fill in the secrets.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(w io.Writer, path string, data []byte, mode os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# qianyu configuration

name: Qianyu
prefix: "!"
color: 0x3d6878
owner_id: ""
avatar_url: ""
description: "Fetches news and important notifications from multiple platforms."

discord:
  token_env: DISCORD_TOKEN
  test_token_env: DISCORD_TEST_TOKEN
  status_interval: 60s

storage:
  path: .qianyu/qianyu.db
  retain_days: 30

scratch_dir: .qianyu/scratch

versions:
  - version: "1.0.0"
    notes: "Initial release."

platforms:
  bilibili:
    user_id: "1265652806"
    display_name: ""
    cookie_env: BILIBILI_COOKIE
    interval: 60s
    window_size: 5
    post_channels:
      - "your_channel_id"
    debug_channel: "your_debug_channel_id"
    # Each group drops a post when all of its patterns match.
    suppress:
      - ["恭喜", "中奖"]

  # twitter:
  #   username: your_account
  #   api_key_env: TWITTER_API_KEY
  #   api_secret_env: TWITTER_API_SECRET
  #   interval: 5m
  #   post_channels: ["your_channel_id"]
  #   debug_channel: "your_debug_channel_id"

  rss: []
  # - name: news
  #   url: https://example.com/feed.xml
  #   post_channels: ["your_channel_id"]

# Used by 'qianyu run --test'.
# test_platforms:
#   bilibili:
#     user_id: "1265652806"
#     post_channels: ["your_test_channel_id"]
#     debug_channel: "your_test_channel_id"
`

const exampleEnv = `DISCORD_TOKEN=
DISCORD_TEST_TOKEN=
BILIBILI_COOKIE=
TWITTER_API_KEY=
TWITTER_API_SECRET=
`
