package format

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/qianyu-bot/qianyu/internal/source"
)

const (
	rssFooter        = "Content fetched from RSS."
	rssMaxDescRunes  = 4096
	rssDefaultHeader = "New Post"
)

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// RSS renders a gofeed item.
func RSS(p source.Post, opts Options) (Message, error) {
	var item gofeed.Item
	if err := json.Unmarshal(p.Payload, &item); err != nil {
		return Message{}, fmt.Errorf("rss %s: decode: %w", p.ID, ErrUnknownPostType)
	}

	raw := item.Description
	if raw == "" {
		raw = item.Content
	}
	text := htmlText(raw)
	if item.Title == "" && text == "" {
		return Message{}, fmt.Errorf("rss %s: empty item: %w", p.ID, ErrUnknownPostType)
	}

	e := Embed{
		Title:       item.Title,
		URL:         item.Link,
		Description: truncateRunes(text, rssMaxDescRunes),
		Color:       opts.Color,
		ImageURL:    itemImage(&item),
		Footer:      Footer{Text: rssFooter, IconURL: opts.FooterIconURL},
	}
	if item.Author != nil {
		e.Author = Author{Name: item.Author.Name}
	}
	if item.PublishedParsed != nil {
		e.Timestamp = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		e.Timestamp = item.UpdatedParsed.UTC()
	}

	content := opts.Title
	if content == "" {
		content = rssDefaultHeader
	}
	return Message{Kind: KindFeedItem, Content: content, Embed: e}, nil
}

// htmlText flattens an HTML fragment to text, one line per block element.
func htmlText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := strings.ReplaceAll(doc.Text(), "\r", "")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	text = blankLinesRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
