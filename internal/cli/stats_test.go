package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/qianyu-bot/qianyu/internal/store"
)

func TestPrintStats(t *testing.T) {
	now := time.Now()
	stats := []store.PlatformStats{
		{Platform: "bilibili", Sent: 47, Failed: 2, LastSent: now.Add(-time.Hour)},
		{Platform: "twitter", Sent: 3, Failed: 0, LastSent: now.AddDate(0, 0, -10)},
		{Platform: "rss-news", Sent: 1, Failed: 4, LastSent: now.Add(-2 * time.Hour)},
	}

	var buf bytes.Buffer
	printStats(&buf, stats, 30*24*time.Hour, now)
	output := buf.String()

	if !strings.Contains(output, "30 days, 51 sent, 6 failed across 3 platforms") {
		t.Errorf("header missing totals, got:\n%s", output)
	}
	if !strings.Contains(output, "bilibili") || !strings.Contains(output, "1 hour ago") {
		t.Errorf("missing bilibili row, got:\n%s", output)
	}
	if !strings.Contains(output, "stale: twitter") {
		t.Errorf("twitter should be stale, got:\n%s", output)
	}
	if strings.Contains(output, "stale: bilibili") {
		t.Error("bilibili should not be stale")
	}
	if !strings.Contains(output, "failing: rss-news") {
		t.Errorf("rss-news should be failing, got:\n%s", output)
	}
	if strings.Contains(output, "failing: bilibili") {
		t.Error("bilibili should not be failing")
	}
}

func TestPrintStats_Empty(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, nil, 24*time.Hour, time.Now())
	if !strings.Contains(buf.String(), "No deliveries journaled yet") {
		t.Errorf("expected empty message, got: %s", buf.String())
	}
}

func TestPrintStats_NeverSent(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, []store.PlatformStats{{Platform: "twitter", Failed: 3}}, 24*time.Hour, time.Now())
	output := buf.String()
	if !strings.Contains(output, "never") {
		t.Errorf("expected 'never' for last sent, got:\n%s", output)
	}
	if strings.Contains(output, "stale:") {
		t.Error("a platform that never sent is failing, not stale")
	}
	if !strings.Contains(output, "failing: twitter") {
		t.Errorf("expected failing twitter, got:\n%s", output)
	}
}

func TestPrintStatsJSON(t *testing.T) {
	last := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	stats := []store.PlatformStats{
		{Platform: "bilibili", Sent: 5, Failed: 1, LastSent: last},
		{Platform: "twitter", Failed: 2},
	}

	var buf bytes.Buffer
	if err := printStatsJSON(&buf, stats); err != nil {
		t.Fatalf("printStatsJSON: %v", err)
	}

	var result struct {
		Platforms []jsonPlatformStats `json:"platforms"`
	}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if len(result.Platforms) != 2 {
		t.Fatalf("platforms = %d, want 2", len(result.Platforms))
	}
	if result.Platforms[0].LastSent == nil || !result.Platforms[0].LastSent.Equal(last) {
		t.Errorf("last_sent = %v", result.Platforms[0].LastSent)
	}
	if result.Platforms[1].LastSent != nil {
		t.Error("expected last_sent omitted when never sent")
	}
	if strings.Contains(buf.String(), `"last_sent": null`) {
		t.Error("last_sent should be omitted, not null")
	}
}

func TestPrintStatsJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := printStatsJSON(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"platforms": []`) {
		t.Errorf("expected empty array, got: %s", buf.String())
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"48h", 48 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"0d", 0, true},
		{"d", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseDuration(%q) = %v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDuration(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatStatsDuration(t *testing.T) {
	if got := formatStatsDuration(7 * 24 * time.Hour); got != "7 days" {
		t.Errorf("got %q", got)
	}
	if got := formatStatsDuration(24 * time.Hour); got != "1 day" {
		t.Errorf("got %q", got)
	}
	if got := formatStatsDuration(36 * time.Hour); got != "36h" {
		t.Errorf("got %q", got)
	}
}

func TestPrintHistory(t *testing.T) {
	now := time.Now()
	deliveries := []store.Delivery{
		{Platform: "bilibili", PostID: "1050", Kind: "video", ChannelID: "111", Status: store.StatusSent, DeliveredAt: now.Add(-time.Minute)},
		{Platform: "twitter", PostID: "1960", Kind: "tweet", ChannelID: "222", Status: store.StatusFailed, Error: "missing access", DeliveredAt: now.Add(-2 * time.Minute)},
	}

	var buf bytes.Buffer
	printHistory(&buf, deliveries, 24*time.Hour)
	output := buf.String()

	if !strings.Contains(output, "2 deliveries in the last 1 day") {
		t.Errorf("header, got:\n%s", output)
	}
	if !strings.Contains(output, "1050") || !strings.Contains(output, "video") {
		t.Errorf("missing bilibili row, got:\n%s", output)
	}
	if !strings.Contains(output, "failed: missing access") {
		t.Errorf("missing failure reason, got:\n%s", output)
	}
}

func TestPrintHistory_Empty(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil, 48*time.Hour)
	if got := buf.String(); got != "No deliveries in the last 2 days.\n" {
		t.Errorf("got %q", got)
	}
}
