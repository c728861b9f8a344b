package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	bilibiliSourceName  = "bilibili"
	bilibiliAPIBase     = "https://api.bilibili.com"
	bilibiliVCBase      = "https://api.vc.bilibili.com"
	bilibiliFeedTimeout = 15 * time.Second
	bilibiliNavTimeout  = 10 * time.Second
	bilibiliUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"
	bilibiliMaxBody     = 8 << 20

	bilibiliCodeNotLoggedIn = -101
	bilibiliCodeRiskControl = -352
	bilibiliCodeIntercepted = -412
)

// BilibiliSource fetches the dynamics feed of one Bilibili space.
type BilibiliSource struct {
	userID  string
	cookie  string
	client  *http.Client
	apiBase string
	vcBase  string
	nowFn   func() time.Time

	keys *wbiKeys
}

// NewBilibili creates a Bilibili source for the space of userID. cookie is
// the raw Cookie header of a logged-in browser session.
func NewBilibili(userID, cookie string) (*BilibiliSource, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("bilibili: user id is required")
	}
	return &BilibiliSource{
		userID:  userID,
		cookie:  strings.TrimSpace(cookie),
		client:  &http.Client{Timeout: bilibiliFeedTimeout},
		apiBase: bilibiliAPIBase,
		vcBase:  bilibiliVCBase,
		nowFn:   time.Now,
	}, nil
}

func (b *BilibiliSource) Name() string {
	return bilibiliSourceName
}

// UserID returns the monitored space id.
func (b *BilibiliSource) UserID() string {
	return b.userID
}

func (b *BilibiliSource) Fetch(ctx context.Context) ([]Post, error) {
	query, err := b.signed(ctx, b.spaceParams())
	if err != nil {
		return nil, err
	}

	body, err := b.get(ctx, b.apiBase+"/x/polymer/web-dynamic/v1/feed/space?"+query, bilibiliFeedTimeout, b.spaceHeaders)
	if err != nil {
		return nil, fmt.Errorf("bilibili: feed: %w", err)
	}

	var resp bilibiliFeedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("bilibili: decode feed: %w", err)
	}
	if err := b.checkCode(resp.bilibiliEnvelope); err != nil {
		return nil, fmt.Errorf("bilibili: feed: %w", err)
	}

	return postsFromItems(resp.Data.Items)
}

// Detail fetches the full dynamic card of p. The returned post carries the
// whole detail response as payload.
func (b *BilibiliSource) Detail(ctx context.Context, p Post) (Post, error) {
	params := b.spaceParams()
	params["dynamic_id"] = p.ID
	query, err := b.signed(ctx, params)
	if err != nil {
		return Post{}, err
	}

	body, err := b.get(ctx, b.vcBase+"/dynamic_svr/v1/dynamic_svr/get_dynamic_detail?"+query, bilibiliFeedTimeout, b.spaceHeaders)
	if err != nil {
		return Post{}, fmt.Errorf("bilibili: detail %s: %w", p.ID, err)
	}

	var env bilibiliEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Post{}, fmt.Errorf("bilibili: decode detail %s: %w", p.ID, err)
	}
	if err := b.checkCode(env); err != nil {
		return Post{}, fmt.Errorf("bilibili: detail %s: %w", p.ID, err)
	}

	p.Payload = json.RawMessage(body)
	return p, nil
}

func postsFromItems(items []json.RawMessage) ([]Post, error) {
	var posts []Post
	for _, raw := range items {
		var item bilibiliFeedItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("bilibili: decode item: %w", err)
		}
		if item.IDStr == "" {
			continue
		}
		posts = append(posts, Post{
			Platform:  bilibiliSourceName,
			ID:        item.IDStr,
			Published: item.Modules.ModuleAuthor.PubTS,
			URL:       "https://www.bilibili.com/opus/" + item.IDStr,
			Payload:   raw,
		})
	}
	return posts, nil
}

func (b *BilibiliSource) spaceParams() map[string]string {
	return map[string]string{
		"host_mid":     b.userID,
		"timezone":     "-480",
		"offset":       "",
		"platform":     "web",
		"web_location": "1550101",
	}
}

func (b *BilibiliSource) signed(ctx context.Context, params map[string]string) (string, error) {
	if b.keys == nil {
		keys, err := b.fetchWBIKeys(ctx)
		if err != nil {
			return "", err
		}
		b.keys = &keys
	}
	return signQuery(params, *b.keys, b.nowFn())
}

func (b *BilibiliSource) fetchWBIKeys(ctx context.Context) (wbiKeys, error) {
	body, err := b.get(ctx, b.apiBase+"/x/web-interface/nav", bilibiliNavTimeout, b.navHeaders)
	if err != nil {
		return wbiKeys{}, fmt.Errorf("bilibili: wbi init: %w", err)
	}

	var nav bilibiliNavResponse
	if err := json.Unmarshal(body, &nav); err != nil {
		return wbiKeys{}, fmt.Errorf("bilibili: decode nav: %w", err)
	}
	if err := b.checkCode(nav.bilibiliEnvelope); err != nil {
		return wbiKeys{}, fmt.Errorf("bilibili: wbi init: %w", err)
	}

	keys, err := newWBIKeys(nav.Data.WBIImg.ImgURL, nav.Data.WBIImg.SubURL)
	if err != nil {
		return wbiKeys{}, fmt.Errorf("bilibili: %w", err)
	}
	return keys, nil
}

// checkCode maps API result codes to errors. An auth failure also drops the
// cached WBI keys so the next tick derives them again.
func (b *BilibiliSource) checkCode(env bilibiliEnvelope) error {
	switch env.Code {
	case 0:
		return nil
	case bilibiliCodeNotLoggedIn:
		b.keys = nil
		return fmt.Errorf("code %d %s: %w", env.Code, env.Message, ErrCredentialsExpired)
	case bilibiliCodeRiskControl, bilibiliCodeIntercepted:
		return fmt.Errorf("code %d %s: %w", env.Code, env.Message, ErrRateLimited)
	default:
		return fmt.Errorf("code %d: %s", env.Code, env.Message)
	}
}

func (b *BilibiliSource) get(ctx context.Context, rawURL string, timeout time.Duration, headers func(*http.Request)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	headers(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		b.keys = nil
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrCredentialsExpired)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPreconditionFailed:
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, bilibiliMaxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (b *BilibiliSource) spaceHeaders(req *http.Request) {
	b.commonHeaders(req)
	req.Header.Set("Referer", "https://space.bilibili.com/"+b.userID+"/dynamic")
	req.Header.Set("Origin", "https://space.bilibili.com")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
}

func (b *BilibiliSource) navHeaders(req *http.Request) {
	b.commonHeaders(req)
	req.Header.Set("Referer", "https://www.bilibili.com/")
	req.Header.Set("Origin", "https://www.bilibili.com")
}

func (b *BilibiliSource) commonHeaders(req *http.Request) {
	if b.cookie != "" {
		req.Header.Set("Cookie", b.cookie)
	}
	req.Header.Set("User-Agent", bilibiliUserAgent)
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-site")
}

type bilibiliEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type bilibiliFeedResponse struct {
	bilibiliEnvelope
	Data struct {
		Items []json.RawMessage `json:"items"`
	} `json:"data"`
}

type bilibiliFeedItem struct {
	IDStr   string `json:"id_str"`
	Modules struct {
		ModuleAuthor struct {
			PubTS int64 `json:"pub_ts"`
		} `json:"module_author"`
	} `json:"modules"`
}

type bilibiliNavResponse struct {
	bilibiliEnvelope
	Data struct {
		WBIImg struct {
			ImgURL string `json:"img_url"`
			SubURL string `json:"sub_url"`
		} `json:"wbi_img"`
	} `json:"data"`
}
