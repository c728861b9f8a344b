package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	twitterSourceName = "twitter"
	twitterAPIBase    = "https://api.twitter.com"
	twitterTokenURL   = "https://api.x.com/oauth2/token"
	twitterTimeout    = 15 * time.Second
	twitterPageSize   = 10
	twitterMaxBody    = 4 << 20
)

var errNotFound = errors.New("not found")

// TwitterSource fetches the timeline of one X account using an app-only
// bearer token.
type TwitterSource struct {
	username string
	userID   string
	apiBase  string
	client   *http.Client
	cc       *clientcredentials.Config
	token    *oauth2.Token
}

// NewTwitter creates a Twitter source for username. The bearer token is
// obtained with the OAuth 2.0 client credentials flow from apiKey and
// apiSecret on first use.
func NewTwitter(username, apiKey, apiSecret string) (*TwitterSource, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, errors.New("twitter: username is required")
	}
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("twitter: api key and secret are required")
	}

	return &TwitterSource{
		username: username,
		apiBase:  twitterAPIBase,
		client:   &http.Client{Timeout: twitterTimeout},
		cc: &clientcredentials.Config{
			ClientID:     apiKey,
			ClientSecret: apiSecret,
			TokenURL:     twitterTokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
	}, nil
}

func (t *TwitterSource) Name() string {
	return twitterSourceName
}

// Username returns the monitored account handle.
func (t *TwitterSource) Username() string {
	return t.username
}

func (t *TwitterSource) Fetch(ctx context.Context) ([]Post, error) {
	if t.userID == "" {
		id, err := t.lookupUserID(ctx)
		if err != nil {
			return nil, err
		}
		t.userID = id
	}

	q := url.Values{}
	q.Set("max_results", fmt.Sprint(twitterPageSize))
	q.Set("tweet.fields", "created_at,text,public_metrics")

	body, err := t.get(ctx, "/2/users/"+url.PathEscape(t.userID)+"/tweets?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("twitter: timeline: %w", err)
	}

	var timeline struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &timeline); err != nil {
		return nil, fmt.Errorf("twitter: decode timeline: %w", err)
	}

	return t.postsFromTimeline(timeline.Data)
}

// Detail fetches p with its author and media expansions.
func (t *TwitterSource) Detail(ctx context.Context, p Post) (Post, error) {
	q := url.Values{}
	q.Set("tweet.fields", "created_at,text,attachments,author_id")
	q.Set("expansions", "author_id,attachments.media_keys")
	q.Set("user.fields", "name,username,profile_image_url")
	q.Set("media.fields", "url,type")

	body, err := t.get(ctx, "/2/tweets/"+url.PathEscape(p.ID)+"?"+q.Encode())
	if err != nil {
		return Post{}, fmt.Errorf("twitter: detail %s: %w", p.ID, err)
	}

	p.Payload = json.RawMessage(body)
	return p, nil
}

func (t *TwitterSource) postsFromTimeline(tweets []json.RawMessage) ([]Post, error) {
	var posts []Post
	for _, raw := range tweets {
		var tw struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
		}
		if err := json.Unmarshal(raw, &tw); err != nil {
			return nil, fmt.Errorf("twitter: decode tweet: %w", err)
		}
		if tw.ID == "" {
			continue
		}

		var published int64
		if ts, err := time.Parse(time.RFC3339, tw.CreatedAt); err == nil {
			published = ts.Unix()
		}

		posts = append(posts, Post{
			Platform:  twitterSourceName,
			ID:        tw.ID,
			Published: published,
			URL:       "https://x.com/" + t.username + "/status/" + tw.ID,
			Payload:   raw,
		})
	}
	return posts, nil
}

func (t *TwitterSource) lookupUserID(ctx context.Context) (string, error) {
	body, err := t.get(ctx, "/2/users/by/username/"+url.PathEscape(t.username))
	if err != nil {
		return "", fmt.Errorf("twitter: lookup @%s: %w", t.username, err)
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("twitter: decode user: %w", err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("twitter: user @%s not found", t.username)
	}
	return resp.Data.ID, nil
}

// bearer returns the cached token, requesting a new one under ctx when it
// is missing or expired.
func (t *TwitterSource) bearer(ctx context.Context) (*oauth2.Token, error) {
	if t.token.Valid() {
		return t.token, nil
	}
	tok, err := t.cc.Token(context.WithValue(ctx, oauth2.HTTPClient, t.client))
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil &&
			(rerr.Response.StatusCode == http.StatusUnauthorized || rerr.Response.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("obtain bearer token: %w", ErrCredentialsExpired)
		}
		return nil, fmt.Errorf("obtain bearer token: %w", err)
	}
	t.token = tok
	return tok, nil
}

func (t *TwitterSource) get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, twitterTimeout)
	defer cancel()

	tok, err := t.bearer(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.apiBase+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tok.SetAuthHeader(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		t.token = nil
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrCredentialsExpired)
	case http.StatusNotFound:
		return nil, errNotFound
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrRateLimited)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, twitterMaxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
