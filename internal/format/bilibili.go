package format

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qianyu-bot/qianyu/internal/source"
)

const (
	bilibiliFooter       = "Content fetched from Bilibili."
	bilibiliDefaultTitle = "New Post on Bilibili"
)

type bilibiliDetail struct {
	Data struct {
		Card struct {
			Card string `json:"card"`
			Desc struct {
				BVID string `json:"bvid"`
			} `json:"desc"`
		} `json:"card"`
	} `json:"data"`
}

type bilibiliPicture struct {
	ImgSrc string `json:"img_src"`
}

type bilibiliDynamicCard struct {
	User struct {
		Name    string `json:"name"`
		HeadURL string `json:"head_url"`
		UID     int64  `json:"uid"`
	} `json:"user"`
	Item struct {
		Description string            `json:"description"`
		Pictures    []bilibiliPicture `json:"pictures"`
		UploadTime  int64             `json:"upload_time"`
	} `json:"item"`
}

type bilibiliVideoCard struct {
	Owner struct {
		Name string `json:"name"`
		Face string `json:"face"`
		Mid  int64  `json:"mid"`
	} `json:"owner"`
	Title   string `json:"title"`
	Dynamic string `json:"dynamic"`
	Desc    string `json:"desc"`
	Pic     string `json:"pic"`
	Pubdate int64  `json:"pubdate"`
}

type bilibiliForwardCard struct {
	User struct {
		UName string `json:"uname"`
		Face  string `json:"face"`
		UID   int64  `json:"uid"`
	} `json:"user"`
	Item struct {
		Content  string            `json:"content"`
		Pictures []bilibiliPicture `json:"pictures"`
	} `json:"item"`
	Origin     string `json:"origin"`
	OriginUser struct {
		Info struct {
			UName string `json:"uname"`
		} `json:"info"`
	} `json:"origin_user"`
}

type bilibiliArticleCard struct {
	Author struct {
		Name string `json:"name"`
		Face string `json:"face"`
		Mid  int64  `json:"mid"`
	} `json:"author"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	ImageURLs   []string `json:"image_urls"`
	PublishTime int64    `json:"publish_time"`
}

// ClassifyBilibili tags a decoded dynamic card by the fields it carries.
func ClassifyBilibili(card map[string]json.RawMessage) Kind {
	switch {
	case has(card, "title") && has(card, "summary"):
		return KindArticle
	case has(card, "title") && has(card, "videos"):
		return KindVideo
	case has(card, "title"):
		return KindUnknown
	case has(card, "origin"):
		return KindForward
	default:
		return KindDynamic
	}
}

func has(m map[string]json.RawMessage, key string) bool {
	v, ok := m[key]
	return ok && string(v) != "null"
}

// Bilibili renders a dynamic detail response.
func Bilibili(p source.Post, opts Options) (Message, error) {
	var detail bilibiliDetail
	if err := json.Unmarshal(p.Payload, &detail); err != nil {
		return Message{}, fmt.Errorf("bilibili %s: decode detail: %w", p.ID, ErrUnknownPostType)
	}
	raw := []byte(detail.Data.Card.Card)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Message{}, fmt.Errorf("bilibili %s: decode card: %w", p.ID, ErrUnknownPostType)
	}

	base := Embed{
		Title:  opts.Title,
		URL:    "https://www.bilibili.com/opus/" + p.ID,
		Color:  opts.Color,
		Footer: Footer{Text: bilibiliFooter, IconURL: opts.FooterIconURL},
	}
	if base.Title == "" {
		base.Title = bilibiliDefaultTitle
	}

	kind := ClassifyBilibili(fields)
	var (
		msg Message
		err error
	)
	switch kind {
	case KindDynamic:
		msg, err = bilibiliDynamic(raw, base)
	case KindVideo:
		msg, err = bilibiliVideo(raw, base, detail.Data.Card.Desc.BVID)
	case KindForward:
		msg, err = bilibiliForward(raw, base)
	case KindArticle:
		msg, err = bilibiliArticle(raw, base)
	default:
		return Message{}, fmt.Errorf("bilibili %s: %w", p.ID, ErrUnknownPostType)
	}
	if err != nil {
		return Message{}, fmt.Errorf("bilibili %s: %s: %w", p.ID, kind, err)
	}
	msg.Kind = kind
	return msg, nil
}

func spaceURL(uid int64) string {
	return fmt.Sprintf("https://space.bilibili.com/%d/dynamic", uid)
}

func firstPicture(pics []bilibiliPicture) string {
	if len(pics) == 0 {
		return ""
	}
	return pics[0].ImgSrc
}

func bilibiliDynamic(raw []byte, e Embed) (Message, error) {
	var c bilibiliDynamicCard
	if err := json.Unmarshal(raw, &c); err != nil {
		return Message{}, ErrUnknownPostType
	}
	e.Author = Author{Name: c.User.Name, IconURL: c.User.HeadURL, URL: spaceURL(c.User.UID)}
	e.Description = c.Item.Description
	e.ImageURL = firstPicture(c.Item.Pictures)
	e.Timestamp = unix(c.Item.UploadTime)
	return Message{Content: "New Post by " + c.User.Name, Embed: e}, nil
}

func bilibiliVideo(raw []byte, e Embed, bvid string) (Message, error) {
	var c bilibiliVideoCard
	if err := json.Unmarshal(raw, &c); err != nil {
		return Message{}, ErrUnknownPostType
	}
	e.Author = Author{Name: c.Owner.Name, IconURL: c.Owner.Face, URL: spaceURL(c.Owner.Mid)}
	e.Title = "New Post by " + c.Owner.Name
	e.Description = c.Dynamic
	if e.Description == "" {
		e.Description = c.Desc
	}
	e.ImageURL = c.Pic
	e.Timestamp = unix(c.Pubdate)

	content := "New Video by " + c.Owner.Name
	if bvid != "" {
		content += fmt.Sprintf(" [▶](https://vxbilibili.com/video/%s?lang=en)", bvid)
	}
	return Message{Content: content, Embed: e}, nil
}

// bilibiliForward renders a repost. Reposts carry no upload time.
func bilibiliForward(raw []byte, e Embed) (Message, error) {
	var c bilibiliForwardCard
	if err := json.Unmarshal(raw, &c); err != nil {
		return Message{}, ErrUnknownPostType
	}
	e.Author = Author{Name: c.User.UName, IconURL: c.User.Face, URL: spaceURL(c.User.UID)}
	e.Description = c.Item.Content
	e.ImageURL = firstPicture(c.Item.Pictures)
	e.Fields = []Field{{
		Name:  "Original Post:",
		Value: quote(c.OriginUser.Info.UName, originText(c.Origin)),
	}}
	return Message{Content: "New Post by " + c.User.UName, Embed: e}, nil
}

// originText extracts the readable text of a reposted card, which may be a
// plain dynamic or a video.
func originText(origin string) string {
	var o struct {
		Item struct {
			Description string `json:"description"`
			Content     string `json:"content"`
		} `json:"item"`
		Dynamic string `json:"dynamic"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal([]byte(origin), &o); err != nil {
		return ""
	}
	for _, s := range []string{o.Item.Description, o.Item.Content, o.Dynamic, o.Title} {
		if s != "" {
			return s
		}
	}
	return ""
}

func quote(author, text string) string {
	return fmt.Sprintf("> **%s**\n> ", author) + strings.Join(strings.Split(text, "\n"), "\n> ")
}

func bilibiliArticle(raw []byte, e Embed) (Message, error) {
	var c bilibiliArticleCard
	if err := json.Unmarshal(raw, &c); err != nil {
		return Message{}, ErrUnknownPostType
	}
	e.Author = Author{Name: c.Author.Name, IconURL: c.Author.Face, URL: spaceURL(c.Author.Mid)}
	e.Title = "New Post by " + c.Author.Name
	e.Description = "**" + c.Title + "**"
	e.Fields = []Field{{Name: "article", Value: strings.ReplaceAll(c.Summary, " ", "\n")}}
	if len(c.ImageURLs) > 0 {
		e.ImageURL = c.ImageURLs[0]
	}
	e.Timestamp = unix(c.PublishTime)
	return Message{Content: "New Article by " + c.Author.Name, Embed: e}, nil
}
