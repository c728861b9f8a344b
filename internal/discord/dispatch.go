// Package discord delivers rendered posts to Discord channels and runs the
// bot's chat commands and presence.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/qianyu-bot/qianyu/internal/format"
)

// Sender is the subset of *discordgo.Session used for outgoing messages.
type Sender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Result is the outcome of delivering one message to one channel.
type Result struct {
	ChannelID string
	MessageID string
	Err       error
}

// Dispatcher sends messages through a Sender. It holds no per-call state
// and is safe for concurrent use when the Sender is.
type Dispatcher struct {
	sender Sender
	log    *slog.Logger
}

func NewDispatcher(sender Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sender: sender, log: logger}
}

// Deliver sends msg to every channel independently. A failure on one
// channel does not stop delivery to the others.
func (d *Dispatcher) Deliver(ctx context.Context, channels []string, msg format.Message) []Result {
	send := MessageSend(msg)
	results := make([]Result, 0, len(channels))
	for _, ch := range channels {
		r := Result{ChannelID: ch}
		if err := ctx.Err(); err != nil {
			r.Err = err
			results = append(results, r)
			continue
		}
		m, err := d.sender.ChannelMessageSendComplex(ch, send, discordgo.WithContext(ctx))
		if err != nil {
			r.Err = fmt.Errorf("send to channel %s: %w", ch, err)
			d.log.Warn("delivery failed", "channel", ch, "error", err)
		} else if m != nil {
			r.MessageID = m.ID
		}
		results = append(results, r)
	}
	return results
}

// Notify posts plain text to channel.
func (d *Dispatcher) Notify(ctx context.Context, channel, text string) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("notify: channel is required")
	}
	_, err := d.sender.ChannelMessageSendComplex(channel, &discordgo.MessageSend{
		Content: clip(text, maxContent),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("notify channel %s: %w", channel, err)
	}
	return nil
}

// Upload attaches the contents of r to channel as a file named name.
func (d *Dispatcher) Upload(ctx context.Context, channel, name string, r io.Reader) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("upload: channel is required")
	}
	_, err := d.sender.ChannelMessageSendComplex(channel, &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: name, ContentType: "application/json", Reader: r}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("upload %s to channel %s: %w", name, channel, err)
	}
	return nil
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
