package discord

import (
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/qianyu-bot/qianyu/internal/format"
)

// Discord API limits, counted in characters.
const (
	maxContent     = 2000
	maxTitle       = 256
	maxDescription = 4096
	maxFields      = 25
	maxFieldName   = 256
	maxFieldValue  = 1024
	maxFooter      = 2048
	maxAuthorName  = 256
)

// MessageSend converts a rendered message into a Discord payload, clipping
// every part to the API limits.
func MessageSend(msg format.Message) *discordgo.MessageSend {
	send := &discordgo.MessageSend{Content: clip(msg.Content, maxContent)}
	if e := messageEmbed(msg.Embed); e != nil {
		send.Embeds = []*discordgo.MessageEmbed{e}
	}
	return send
}

func messageEmbed(e format.Embed) *discordgo.MessageEmbed {
	if e.Title == "" && e.Description == "" && len(e.Fields) == 0 && e.ImageURL == "" {
		return nil
	}

	out := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       clip(e.Title, maxTitle),
		URL:         e.URL,
		Description: clip(e.Description, maxDescription),
		Color:       e.Color,
	}
	if e.Author.Name != "" {
		out.Author = &discordgo.MessageEmbedAuthor{
			Name:    clip(e.Author.Name, maxAuthorName),
			URL:     e.Author.URL,
			IconURL: e.Author.IconURL,
		}
	}
	if e.ImageURL != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	if e.Footer.Text != "" {
		out.Footer = &discordgo.MessageEmbedFooter{
			Text:    clip(e.Footer.Text, maxFooter),
			IconURL: e.Footer.IconURL,
		}
	}
	for i, f := range e.Fields {
		if i == maxFields {
			break
		}
		// Discord rejects empty field names and values.
		name, value := f.Name, f.Value
		if name == "" {
			name = "\u200b"
		}
		if value == "" {
			value = "\u200b"
		}
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   clip(name, maxFieldName),
			Value:  clip(value, maxFieldValue),
			Inline: f.Inline,
		})
	}
	return out
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
