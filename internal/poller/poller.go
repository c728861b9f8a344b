// Package poller drives one platform: on every tick it fetches the recent
// posts, detects a new one and relays it.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/qianyu-bot/qianyu/internal/discord"
	"github.com/qianyu-bot/qianyu/internal/filter"
	"github.com/qianyu-bot/qianyu/internal/format"
	"github.com/qianyu-bot/qianyu/internal/novelty"
	"github.com/qianyu-bot/qianyu/internal/scratch"
	"github.com/qianyu-bot/qianyu/internal/source"
	"github.com/qianyu-bot/qianyu/internal/store"
)

// DefaultInterval is the poll period when none is configured.
const DefaultInterval = 60 * time.Second

// State is the phase of the current tick.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateNoveltyFound
	StateNoNovelty
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateNoveltyFound:
		return "novelty_found"
	case StateNoNovelty:
		return "no_novelty"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dispatcher delivers rendered posts and operator notices.
type Dispatcher interface {
	Deliver(ctx context.Context, channels []string, msg format.Message) []discord.Result
	Notify(ctx context.Context, channel, text string) error
	Upload(ctx context.Context, channel, name string, r io.Reader) error
}

// Journal records delivery attempts.
type Journal interface {
	RecordDelivery(ctx context.Context, d store.Delivery) (store.Delivery, error)
}

// Ticker abstracts time.Ticker so tests can drive the loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Config wires one poller.
type Config struct {
	// Key identifies the poller in the delivery journal, e.g. "rss-news".
	// Defaults to Source.Name().
	Key string

	// Label prefixes operator notices, e.g. "Bilibili" gives "[Bilibili] ...".
	Label string

	// Announcement is posted to the debug channel once when Run starts.
	Announcement string

	Source     source.Source
	Format     format.Func
	Dispatcher Dispatcher

	// Filter, Journal and Scratch are optional.
	Filter  *filter.Rules
	Journal Journal
	Scratch *scratch.Slot

	Interval     time.Duration
	WindowSize   int
	PostChannels []string
	DebugChannel string

	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger

	// NewTicker defaults to NewTimeTicker.
	NewTicker func(time.Duration) Ticker
}

// Poller owns the recent window of one platform. Ticks never overlap, so
// the window needs no locking.
type Poller struct {
	cfg    Config
	log    *slog.Logger
	window *novelty.Window
	state  atomic.Int32

	credentialsValid bool
}

func New(cfg Config) (*Poller, error) {
	if cfg.Source == nil {
		return nil, errors.New("poller: source is required")
	}
	if cfg.Format == nil {
		return nil, errors.New("poller: formatter is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("poller: dispatcher is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTimeTicker
	}
	if cfg.Key == "" {
		cfg.Key = cfg.Source.Name()
	}
	if cfg.Label == "" {
		cfg.Label = cfg.Source.Name()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:              cfg,
		log:              logger.With("platform", cfg.Label),
		window:           novelty.NewWindow(cfg.WindowSize),
		credentialsValid: true,
	}, nil
}

// State returns the phase of the tick in progress, or StateIdle.
func (p *Poller) State() State { return State(p.state.Load()) }

// WindowIDs returns the identifiers currently tracked, newest first.
func (p *Poller) WindowIDs() []string { return p.window.IDs() }

// CredentialsValid reports whether the last fetch was not rejected for
// expired credentials.
func (p *Poller) CredentialsValid() bool { return p.credentialsValid }

// Run announces the poller and then ticks once per interval until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.announce(ctx)

	ticker := p.cfg.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info("poller started", "interval", p.cfg.Interval, "window", p.window.Size())
	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return nil
		case <-ticker.C():
			p.Tick(ctx)
		}
	}
}

func (p *Poller) announce(ctx context.Context) {
	if p.cfg.Announcement == "" || p.cfg.DebugChannel == "" {
		return
	}
	if err := p.cfg.Dispatcher.Notify(ctx, p.cfg.DebugChannel, p.cfg.Announcement); err != nil {
		p.log.Warn("announce failed", "error", err)
	}
}

// Tick runs one fetch, detect and relay cycle and returns the state it
// ended in. Errors and panics end the tick without stopping the poller.
func (p *Poller) Tick(ctx context.Context) (result State) {
	p.state.Store(int32(StateFetching))
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("tick panicked", "panic", r)
			result = StateNoNovelty
		}
		p.state.Store(int32(StateIdle))
	}()

	posts, err := p.cfg.Source.Fetch(ctx)
	if err != nil {
		p.fetchFailed(ctx, err)
		return StateNoNovelty
	}
	if !p.credentialsValid {
		p.credentialsValid = true
		p.log.Info("credentials valid again")
	}

	post, ok := novelty.Detect(posts, p.window)
	if !ok {
		p.log.Debug("no new post", "fetched", len(posts), "window", p.window.Len())
		p.state.Store(int32(StateNoNovelty))
		return StateNoNovelty
	}

	p.state.Store(int32(StateNoveltyFound))
	p.log.Info("new post", "id", post.ID, "published", post.Published)
	if err := p.relay(ctx, post); err != nil {
		p.log.Warn("relay failed", "id", post.ID, "error", err)
	}
	return StateNoveltyFound
}

func (p *Poller) fetchFailed(ctx context.Context, err error) {
	switch {
	case errors.Is(err, source.ErrCredentialsExpired):
		if !p.credentialsValid {
			p.log.Debug("fetch failed, credentials still expired", "error", err)
			return
		}
		p.credentialsValid = false
		p.log.Warn("credentials expired", "error", err)
		p.notify(ctx, "Credentials expired or rejected, please refresh them. Further warnings are muted until a fetch succeeds.")
	case errors.Is(err, source.ErrRateLimited):
		p.log.Warn("rate limited", "error", err)
	case ctx.Err() != nil:
		p.log.Debug("fetch cancelled", "error", err)
	default:
		p.log.Warn("fetch failed", "error", err)
	}
}

// relay fetches the full post, renders it and delivers it. A failure after
// the window update loses the post.
func (p *Poller) relay(ctx context.Context, post source.Post) error {
	if d, ok := p.cfg.Source.(source.Detailer); ok {
		full, err := d.Detail(ctx, post)
		if err != nil {
			return fmt.Errorf("fetch detail: %w", err)
		}
		post = full
	}

	p.writeScratch(post)
	defer p.removeScratch()

	msg, err := p.cfg.Format(post)
	if errors.Is(err, format.ErrUnknownPostType) {
		p.log.Warn("unknown post type, not relayed", "id", post.ID, "error", err)
		p.notify(ctx, fmt.Sprintf("Unknown post type for ``%s``, not relayed. Raw payload attached.", post.ID))
		p.uploadScratch(ctx)
		return nil
	}
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}

	if p.cfg.Filter.Suppressed(msg.Text()) {
		p.log.Info("post suppressed", "id", post.ID, "kind", msg.Kind)
		return nil
	}

	p.uploadScratch(ctx)

	results := p.cfg.Dispatcher.Deliver(ctx, p.cfg.PostChannels, msg)
	for _, r := range results {
		p.record(ctx, post, msg, r)
	}
	failed := discord.Failed(results)
	for _, r := range failed {
		p.log.Warn("delivery failed", "id", post.ID, "channel", r.ChannelID, "error", r.Err)
	}
	p.log.Info("post delivered", "id", post.ID, "kind", msg.Kind, "sent", len(results)-len(failed), "channels", len(results))
	return nil
}

func (p *Poller) record(ctx context.Context, post source.Post, msg format.Message, r discord.Result) {
	if p.cfg.Journal == nil {
		return
	}
	d := store.Delivery{
		Platform:  p.cfg.Key,
		PostID:    post.ID,
		Kind:      string(msg.Kind),
		PostURL:   post.URL,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Status:    store.StatusSent,
	}
	if r.Err != nil {
		d.Status = store.StatusFailed
		d.Error = r.Err.Error()
	}
	// The journal outlives a cancelled tick so failed shutdown sends are kept.
	if _, err := p.cfg.Journal.RecordDelivery(context.WithoutCancel(ctx), d); err != nil {
		p.log.Warn("journal delivery failed", "id", post.ID, "channel", r.ChannelID, "error", err)
	}
}

func (p *Poller) notify(ctx context.Context, text string) {
	if p.cfg.DebugChannel == "" {
		return
	}
	msg := fmt.Sprintf("[%s] %s", p.cfg.Label, strings.TrimSpace(text))
	if err := p.cfg.Dispatcher.Notify(ctx, p.cfg.DebugChannel, msg); err != nil {
		p.log.Warn("operator notice failed", "error", err)
	}
}

func (p *Poller) writeScratch(post source.Post) {
	if p.cfg.Scratch == nil {
		return
	}
	if err := p.cfg.Scratch.Write(post.Payload); err != nil {
		p.log.Warn("write scratch failed", "error", err)
	}
}

func (p *Poller) uploadScratch(ctx context.Context) {
	if p.cfg.Scratch == nil || p.cfg.DebugChannel == "" {
		return
	}
	f, err := p.cfg.Scratch.Open()
	if err != nil {
		p.log.Warn("open scratch failed", "error", err)
		return
	}
	defer func() { _ = f.Close() }()
	if err := p.cfg.Dispatcher.Upload(ctx, p.cfg.DebugChannel, p.cfg.Scratch.Name(), f); err != nil {
		p.log.Warn("upload raw post failed", "error", err)
	}
}

func (p *Poller) removeScratch() {
	if p.cfg.Scratch == nil {
		return
	}
	if err := p.cfg.Scratch.Remove(); err != nil {
		p.log.Warn("remove scratch failed", "error", err)
	}
}
