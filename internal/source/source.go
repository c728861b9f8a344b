package source

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrCredentialsExpired is wrapped by fetch errors caused by rejected
	// cookies or tokens.
	ErrCredentialsExpired = errors.New("credentials expired")

	// ErrRateLimited is wrapped by fetch errors caused by platform throttling.
	ErrRateLimited = errors.New("rate limited")
)

// Post represents a single item fetched from a platform.
type Post struct {
	Platform  string          // platform identifier: "bilibili", "twitter", "rss"
	ID        string          // platform-unique ID
	Published int64           // publication time, unix seconds
	URL       string          // link to the original item
	Payload   json.RawMessage // raw platform post body
}

// Source fetches the most recent posts of one monitored account.
type Source interface {
	// Name returns the platform identifier (e.g. "bilibili").
	Name() string

	// Fetch returns one page of recent posts. Order is not guaranteed.
	Fetch(ctx context.Context) ([]Post, error)
}

// Detailer is implemented by sources whose feed entries are summaries and
// need a second request to obtain the full post body.
type Detailer interface {
	Detail(ctx context.Context, p Post) (Post, error)
}
