// Package format turns raw platform posts into chat messages.
//
// Each platform payload is first classified into a Kind, then rendered by
// the one function registered for that kind. Payloads that match no known
// shape yield ErrUnknownPostType.
package format

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qianyu-bot/qianyu/internal/source"
)

// ErrUnknownPostType is returned when a payload matches no known post shape.
var ErrUnknownPostType = errors.New("unknown post type")

// Kind tags a classified payload.
type Kind string

const (
	KindUnknown  Kind = "unknown"
	KindDynamic  Kind = "dynamic"
	KindVideo    Kind = "video"
	KindForward  Kind = "forward"
	KindArticle  Kind = "article"
	KindTweet    Kind = "tweet"
	KindFeedItem Kind = "feed_item"
)

// Message is a rendered notification.
type Message struct {
	Kind    Kind
	Content string
	Embed   Embed
}

// Embed is a platform-neutral rich card.
type Embed struct {
	Title       string
	URL         string
	Description string
	Color       int
	Author      Author
	ImageURL    string
	Timestamp   time.Time
	Fields      []Field
	Footer      Footer
}

type Author struct {
	Name    string
	IconURL string
	URL     string
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

type Footer struct {
	Text    string
	IconURL string
}

// Text returns the human-readable parts of m joined by newlines.
func (m Message) Text() string {
	parts := []string{m.Content, m.Embed.Title, m.Embed.Description}
	for _, f := range m.Embed.Fields {
		parts = append(parts, f.Value)
	}
	return strings.Join(parts, "\n")
}

// Options carries per-poller presentation settings.
type Options struct {
	Color         int
	Title         string // headline; platform-specific default when empty
	FooterIconURL string
}

// Func renders one post.
type Func func(source.Post) (Message, error)

// New returns the formatter for platform.
func New(platform string, opts Options) (Func, error) {
	switch platform {
	case "bilibili":
		return func(p source.Post) (Message, error) { return Bilibili(p, opts) }, nil
	case "twitter":
		return func(p source.Post) (Message, error) { return Twitter(p, opts) }, nil
	case "rss":
		return func(p source.Post) (Message, error) { return RSS(p, opts) }, nil
	default:
		return nil, fmt.Errorf("format: no formatter for platform %q", platform)
	}
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
