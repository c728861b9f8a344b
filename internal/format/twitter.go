package format

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/qianyu-bot/qianyu/internal/source"
)

const twitterFooter = "Content fetched from X."

type tweetDetail struct {
	Data struct {
		ID          string `json:"id"`
		Text        string `json:"text"`
		CreatedAt   string `json:"created_at"`
		AuthorID    string `json:"author_id"`
		Attachments struct {
			MediaKeys []string `json:"media_keys"`
		} `json:"attachments"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"users"`
		Media []struct {
			MediaKey string `json:"media_key"`
			Type     string `json:"type"`
			URL      string `json:"url"`
		} `json:"media"`
	} `json:"includes"`
}

// ClassifyTweet tags a tweet lookup response. A tweet without its author
// expansion cannot be rendered.
func ClassifyTweet(d tweetDetail) Kind {
	if d.Data.ID == "" || len(d.Includes.Users) == 0 {
		return KindUnknown
	}
	return KindTweet
}

// Twitter renders a tweet lookup response with author and media expansions.
func Twitter(p source.Post, opts Options) (Message, error) {
	var d tweetDetail
	if err := json.Unmarshal(p.Payload, &d); err != nil {
		return Message{}, fmt.Errorf("twitter %s: decode: %w", p.ID, ErrUnknownPostType)
	}
	if ClassifyTweet(d) != KindTweet {
		return Message{}, fmt.Errorf("twitter %s: missing tweet or author: %w", p.ID, ErrUnknownPostType)
	}
	msg := tweet(d, opts)
	msg.Kind = KindTweet
	return msg, nil
}

func tweet(d tweetDetail, opts Options) Message {
	author := d.Includes.Users[0]
	for _, u := range d.Includes.Users {
		if u.ID != "" && u.ID == d.Data.AuthorID {
			author = u
			break
		}
	}

	title := opts.Title
	if title == "" {
		title = "New Post by " + author.Username
	}

	e := Embed{
		Title:       title,
		URL:         fmt.Sprintf("https://x.com/%s/status/%s", author.Username, d.Data.ID),
		Description: d.Data.Text,
		Color:       opts.Color,
		Author: Author{
			Name:    author.Name,
			IconURL: author.ProfileImageURL,
			URL:     "https://x.com/" + author.Username,
		},
		ImageURL: firstPhoto(d),
		Footer:   Footer{Text: twitterFooter, IconURL: opts.FooterIconURL},
	}
	if ts, err := time.Parse(time.RFC3339, d.Data.CreatedAt); err == nil {
		e.Timestamp = ts.UTC()
	}

	return Message{Content: "New Post by " + author.Name, Embed: e}
}

// firstPhoto returns the URL of the first attached photo, in attachment
// order. Videos and GIFs carry no direct url and are skipped.
func firstPhoto(d tweetDetail) string {
	for _, key := range d.Data.Attachments.MediaKeys {
		for _, m := range d.Includes.Media {
			if m.MediaKey == key && m.Type == "photo" && m.URL != "" {
				return m.URL
			}
		}
	}
	return ""
}
