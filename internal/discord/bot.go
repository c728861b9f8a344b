package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildMessageTyping

// Version is one release entry shown in the about card and presence.
type Version struct {
	Version string
	Notes   string
}

// BotConfig holds the bot's identity and chat settings.
type BotConfig struct {
	Name           string
	Prefix         string
	Color          int
	OwnerID        string
	Description    string
	ThumbnailURL   string
	License        string
	Attributions   []string
	Versions       []Version
	StatusInterval time.Duration
}

// LatestVersion returns the last configured version, or "dev".
func (c BotConfig) LatestVersion() Version {
	if len(c.Versions) == 0 {
		return Version{Version: "dev"}
	}
	return c.Versions[len(c.Versions)-1]
}

// Bot owns the Discord gateway session.
type Bot struct {
	session *discordgo.Session
	cfg     BotConfig
	log     *slog.Logger
	started time.Time
	nowFn   func() time.Time
}

func NewBot(token string, cfg BotConfig, logger *slog.Logger) (*Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("discord token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = intents

	b := &Bot{session: s, cfg: cfg, log: logger, nowFn: time.Now}
	b.started = b.nowFn()
	s.AddHandler(b.onReady)
	s.AddHandler(b.onMessageCreate)
	return b, nil
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

func (b *Bot) Close() error {
	return b.session.Close()
}

// Dispatcher returns a dispatcher that sends through this bot's session.
func (b *Bot) Dispatcher() *Dispatcher {
	return NewDispatcher(b.session, b.log)
}

// RunStatus refreshes the presence every status interval until ctx is done.
func (b *Bot) RunStatus(ctx context.Context) error {
	interval := b.cfg.StatusInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.updateStatus()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.updateStatus()
		}
	}
}

func (b *Bot) updateStatus() {
	status := statusString(b.cfg.LatestVersion().Version, b.nowFn().Sub(b.started))
	err := b.session.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status: string(discordgo.StatusOnline),
		Activities: []*discordgo.Activity{{
			Name:  status,
			State: status,
			Type:  discordgo.ActivityTypeCustom,
		}},
	})
	if err != nil {
		b.log.Debug("update presence failed", "error", err)
	}
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("logged in", "user", r.User.String())
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	self := ""
	if s.State != nil && s.State.User != nil {
		self = s.State.User.ID
	}

	var reply *discordgo.MessageSend
	switch command(b.cfg.Prefix, m.Content, mentions(m.Mentions, self)) {
	case "ping":
		reply = &discordgo.MessageSend{Content: "pong!"}
	case "about":
		reply = &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{b.about(s)}}
	default:
		return
	}

	reply.Reference = m.Reference()
	if _, err := s.ChannelMessageSendComplex(m.ChannelID, reply); err != nil {
		b.log.Warn("reply failed", "channel", m.ChannelID, "error", err)
	}
}

func (b *Bot) about(s *discordgo.Session) *discordgo.MessageEmbed {
	owner := ownerAuthor(s, b.cfg.OwnerID)
	return aboutEmbed(b.cfg, owner, b.started)
}

func ownerAuthor(s *discordgo.Session, ownerID string) *discordgo.MessageEmbedAuthor {
	if ownerID == "" {
		return nil
	}
	u, err := s.User(ownerID)
	if err != nil {
		return nil
	}
	return &discordgo.MessageEmbedAuthor{Name: u.Username, IconURL: u.AvatarURL("")}
}

// command maps a chat message to a bot command name. A mention containing
// "about" yields "about"; "<prefix>ping" yields "ping".
func command(prefix, content string, mentioned bool) string {
	if mentioned && strings.Contains(content, "about") {
		return "about"
	}
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return ""
	}
	if strings.TrimSpace(strings.TrimPrefix(content, prefix)) == "ping" {
		return "ping"
	}
	return ""
}

func mentions(users []*discordgo.User, id string) bool {
	if id == "" {
		return false
	}
	for _, u := range users {
		if u != nil && u.ID == id {
			return true
		}
	}
	return false
}

func aboutEmbed(cfg BotConfig, owner *discordgo.MessageEmbedAuthor, started time.Time) *discordgo.MessageEmbed {
	latest := cfg.LatestVersion()
	e := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       cfg.Name,
		Description: cfg.Description,
		Color:       cfg.Color,
		Author:      owner,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Prefix", Value: orDash(cfg.Prefix), Inline: true},
			{Name: "Version", Value: latest.Version, Inline: true},
		},
	}
	if cfg.ThumbnailURL != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: cfg.ThumbnailURL}
	}
	if cfg.License != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "License", Value: cfg.License, Inline: true})
	}
	if latest.Notes != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Version info", Value: clip(latest.Notes, maxFieldValue)})
	}
	if len(cfg.Attributions) > 0 {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Attributions", Value: clip(strings.Join(cfg.Attributions, "\n"), maxFieldValue)})
	}
	if !started.IsZero() {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Online since", Value: humanize.Time(started)})
	}
	return e
}

// statusString renders the presence line, e.g. "🦄 · v1.2.0: 1d 2h 3m".
func statusString(version string, uptime time.Duration) string {
	if uptime < 0 {
		uptime = 0
	}
	total := int64(uptime / time.Minute)
	days := total / (24 * 60)
	hours := (total % (24 * 60)) / 60
	minutes := total % 60
	return fmt.Sprintf("🦄 · v%s: %dd %dh %dm", version, days, hours, minutes)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
