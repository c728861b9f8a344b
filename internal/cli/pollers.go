package cli

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/qianyu-bot/qianyu/internal/config"
	"github.com/qianyu-bot/qianyu/internal/filter"
	"github.com/qianyu-bot/qianyu/internal/format"
	"github.com/qianyu-bot/qianyu/internal/poller"
	"github.com/qianyu-bot/qianyu/internal/scratch"
	"github.com/qianyu-bot/qianyu/internal/source"
)

// platform is one configured poll target with its source and renderer.
type platform struct {
	key          string // unique id, also the scratch file prefix
	label        string
	announcement string
	src          source.Source
	render       format.Func
	rules        *filter.Rules
	poll         config.PollConfig
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// buildPlatforms creates a source, formatter and filter for every enabled
// platform in p.
func buildPlatforms(p config.PlatformsConfig, footerIconURL string) ([]platform, error) {
	var out []platform

	if b := p.Bilibili; b != nil && b.IsEnabled() {
		src, err := source.NewBilibili(b.UserID, b.Cookie)
		if err != nil {
			return nil, err
		}
		title := b.Title
		if title == "" && b.DisplayName != "" {
			title = "New Post by " + b.DisplayName
		}
		pl, err := newPlatform("bilibili", "Bilibili", src, b.PollConfig, format.Options{Color: b.Color, Title: title, FooterIconURL: footerIconURL})
		if err != nil {
			return nil, err
		}
		pl.announcement = fmt.Sprintf("[Bilibili] Listening dynamics of user with buid ``%s``.", src.UserID())
		out = append(out, pl)
	}

	if t := p.Twitter; t != nil && t.IsEnabled() {
		src, err := source.NewTwitter(t.Username, t.APIKey, t.APISecret)
		if err != nil {
			return nil, err
		}
		pl, err := newPlatform("twitter", "Twitter", src, t.PollConfig, format.Options{Color: t.Color, Title: t.Title, FooterIconURL: footerIconURL})
		if err != nil {
			return nil, err
		}
		pl.announcement = fmt.Sprintf("[Twitter] Listening dynamics of user with xusername ``%s``.", src.Username())
		out = append(out, pl)
	}

	for _, f := range p.RSS {
		if !f.IsEnabled() {
			continue
		}
		src, err := source.NewRSS(f.Name, f.URL)
		if err != nil {
			return nil, err
		}
		key := "rss-" + strings.Trim(unsafeKeyChars.ReplaceAllString(src.Label(), "-"), "-")
		title := f.Title
		if title == "" {
			title = "New Post on " + src.Label()
		}
		pl, err := newPlatform(key, "RSS:"+src.Label(), src, f.PollConfig, format.Options{Color: f.Color, Title: title, FooterIconURL: footerIconURL})
		if err != nil {
			return nil, err
		}
		pl.announcement = fmt.Sprintf("[RSS:%s] Listening feed ``%s``.", src.Label(), src.FeedURL())
		out = append(out, pl)
	}

	seen := make(map[string]bool, len(out))
	for _, pl := range out {
		if seen[pl.key] {
			return nil, fmt.Errorf("two platforms share the key %q; give the feeds distinct names", pl.key)
		}
		seen[pl.key] = true
	}
	return out, nil
}

func newPlatform(key, label string, src source.Source, poll config.PollConfig, opts format.Options) (platform, error) {
	render, err := format.New(src.Name(), opts)
	if err != nil {
		return platform{}, err
	}
	rules, err := filter.Compile(poll.Suppress)
	if err != nil {
		return platform{}, fmt.Errorf("%s: %w", key, err)
	}
	return platform{key: key, label: label, src: src, render: render, rules: rules, poll: poll}, nil
}

// findPlatform returns the platform whose key or label matches name.
func findPlatform(platforms []platform, name string) (platform, bool) {
	for _, pl := range platforms {
		if strings.EqualFold(pl.key, name) || strings.EqualFold(pl.label, name) || strings.EqualFold(pl.key, "rss-"+name) {
			return pl, true
		}
	}
	return platform{}, false
}

// newPoller wires pl to the shared dispatcher and journal.
func newPoller(pl platform, scratchDir string, d poller.Dispatcher, j poller.Journal, logger *slog.Logger) (*poller.Poller, error) {
	slot, err := scratch.NewSlot(scratchDir, pl.key)
	if err != nil {
		return nil, err
	}
	return poller.New(poller.Config{
		Key:          pl.key,
		Label:        pl.label,
		Announcement: pl.announcement,
		Source:       pl.src,
		Format:       pl.render,
		Dispatcher:   d,
		Filter:       pl.rules,
		Journal:      j,
		Scratch:      slot,
		Interval:     pl.poll.Interval.Duration,
		WindowSize:   pl.poll.WindowSize,
		PostChannels: pl.poll.PostChannels,
		DebugChannel: pl.poll.DebugChannel,
		Logger:       logger,
	})
}
