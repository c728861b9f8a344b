package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	rssSourceName   = "rss"
	rssFetchTimeout = 30 * time.Second
	rssUserAgent    = "Mozilla/5.0 (compatible; qianyu/1.0; +https://github.com/qianyu-bot/qianyu)"
	rssMaxRetries   = 3
)

// RSSSource fetches posts from a single RSS/Atom feed.
type RSSSource struct {
	name    string
	feedURL string
	client  *http.Client
}

// NewRSS creates an RSS/Atom source. name labels the feed in logs and
// defaults to the feed host.
func NewRSS(name, feedURL string) (*RSSSource, error) {
	u, err := url.Parse(strings.TrimSpace(feedURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("rss: invalid feed url %q", feedURL)
	}
	if strings.TrimSpace(name) == "" {
		name = u.Host
	}
	return &RSSSource{
		name:    name,
		feedURL: u.String(),
		client: &http.Client{
			Timeout:   rssFetchTimeout,
			Transport: &rssTransport{base: http.DefaultTransport},
		},
	}, nil
}

func (rs *RSSSource) Name() string {
	return rssSourceName
}

// Label returns the configured feed name.
func (rs *RSSSource) Label() string {
	return rs.name
}

// FeedURL returns the polled feed address.
func (rs *RSSSource) FeedURL() string {
	return rs.feedURL
}

func (rs *RSSSource) Fetch(ctx context.Context) ([]Post, error) {
	var lastErr error
	for attempt := range rssMaxRetries {
		posts, err := rs.fetchFeed(ctx)
		if err == nil {
			return posts, nil
		}
		if !isRetryableError(err) {
			return nil, err
		}
		lastErr = err
		if attempt < rssMaxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second // 1s, 2s, 4s
			if err := rssSleepFunc(ctx, backoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// rssTransport injects a User-Agent header into every request.
type rssTransport struct {
	base http.RoundTripper
}

func (t *rssTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", rssUserAgent)
	return t.base.RoundTrip(req)
}

// rssSleepFunc waits between retries. Overridden in tests.
var rssSleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var herr gofeed.HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode >= 500
	}
	s := err.Error()
	// Timeout errors
	if strings.Contains(s, "timeout") || strings.Contains(s, "Timeout") {
		return true
	}
	// Connection errors
	return strings.Contains(s, "connection refused") || strings.Contains(s, "no such host")
}

func (rs *RSSSource) fetchFeed(ctx context.Context) ([]Post, error) {
	ctx, cancel := context.WithTimeout(ctx, rssFetchTimeout)
	defer cancel()

	fp := gofeed.NewParser()
	fp.Client = rs.client
	feed, err := fp.ParseURLWithContext(rs.feedURL, ctx)
	if err != nil {
		var herr gofeed.HTTPError
		if errors.As(err, &herr) && herr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("rss: fetch %s: %w", rs.feedURL, ErrRateLimited)
		}
		return nil, fmt.Errorf("rss: fetch %s: %w", rs.feedURL, err)
	}

	return postsFromFeed(feed)
}

func postsFromFeed(feed *gofeed.Feed) ([]Post, error) {
	var posts []Post
	for _, item := range feed.Items {
		id := itemID(item)
		if id == "" {
			continue
		}

		payload, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("rss: encode item %s: %w", id, err)
		}

		var published int64
		if ts := itemPublishedTime(item); !ts.IsZero() {
			published = ts.Unix()
		}

		posts = append(posts, Post{
			Platform:  rssSourceName,
			ID:        id,
			Published: published,
			URL:       item.Link,
			Payload:   payload,
		})
	}
	return posts, nil
}

func itemPublishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}
