package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/qianyu-bot/qianyu/internal/config"
)

func TestExtractFeeds(t *testing.T) {
	outlines := []opmlOutline{
		{XMLURL: "https://endfield.gryphline.com/feed/", Text: "Endfield News"},
		{XMLURL: " https://blog.example.com/rss.xml ", Title: "Dev Blog"},
		{XMLURL: "", Text: "Empty"},
		{XMLURL: "ftp://invalid.com/feed", Text: "Invalid scheme"},
	}

	feeds := extractFeeds(outlines)
	if len(feeds) != 2 {
		t.Fatalf("expected 2 feeds, got %d: %v", len(feeds), feeds)
	}
	if feeds[0].URL != "https://endfield.gryphline.com/feed/" || feeds[0].Name != "Endfield News" {
		t.Errorf("feeds[0] = %+v", feeds[0])
	}
	if feeds[1].URL != "https://blog.example.com/rss.xml" || feeds[1].Name != "Dev Blog" {
		t.Errorf("feeds[1] = %+v, want title fallback and trimmed url", feeds[1])
	}
}

func TestExtractFeeds_Nested(t *testing.T) {
	outlines := []opmlOutline{
		{
			Text: "Games",
			Outlines: []opmlOutline{
				{XMLURL: "https://a.example.com/feed/"},
				{XMLURL: "https://b.example.com/feed/"},
			},
		},
		{
			Text: "Studios",
			Outlines: []opmlOutline{
				{XMLURL: "https://c.example.com/feed.xml"},
			},
		},
	}

	feeds := extractFeeds(outlines)
	if len(feeds) != 3 {
		t.Fatalf("expected 3 feeds from nested outlines, got %d: %v", len(feeds), feeds)
	}
}

func TestExtractFeeds_Empty(t *testing.T) {
	if feeds := extractFeeds(nil); len(feeds) != 0 {
		t.Errorf("expected 0 feeds, got %d", len(feeds))
	}
}

func TestFindRSSNode(t *testing.T) {
	yamlContent := `platforms:
  rss:
    - url: "https://example.com/feed"
      post_channels: ["1"]
`
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(yamlContent), &doc); err != nil {
		t.Fatal(err)
	}

	node := findRSSNode(&doc)
	if node == nil {
		t.Fatal("rss node not found")
	}
	if node.Kind != yaml.SequenceNode {
		t.Errorf("expected sequence node, got %d", node.Kind)
	}
	if len(node.Content) != 1 {
		t.Errorf("expected 1 feed, got %d", len(node.Content))
	}
}

func TestFindRSSNode_Creates(t *testing.T) {
	for _, content := range []string{
		"name: qianyu\n",
		"platforms:\n",
		"platforms:\n  bilibili:\n    uid: \"1\"\n",
		"platforms:\n  rss:\n",
	} {
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
			t.Fatal(err)
		}
		node := findRSSNode(&doc)
		if node == nil || node.Kind != yaml.SequenceNode {
			t.Errorf("%q: expected created sequence node, got %+v", content, node)
		}
	}
}

func TestFindRSSNode_WrongShape(t *testing.T) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte("platforms:\n  rss: nope\n"), &doc); err != nil {
		t.Fatal(err)
	}
	if node := findRSSNode(&doc); node != nil {
		t.Error("expected nil for scalar rss value")
	}
}

func TestMergeFeeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultConfigFile)
	initial := `name: qianyu
platforms:
  rss: []
`
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}

	feeds := []opmlFeed{
		{Name: "Endfield News", URL: "https://endfield.example.com/feed"},
		{URL: "https://nameless.example.com/rss"},
	}
	if err := mergeFeeds(path, feeds, []string{"111", "222"}, "999"); err != nil {
		t.Fatalf("merge: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("merged config does not parse: %v\n%s", err, data)
	}
	if cfg.Name != "qianyu" {
		t.Errorf("name = %q, want preserved", cfg.Name)
	}
	if len(cfg.Platforms.RSS) != 2 {
		t.Fatalf("rss entries = %d, want 2", len(cfg.Platforms.RSS))
	}
	first := cfg.Platforms.RSS[0]
	if first.Name != "Endfield News" || first.URL != "https://endfield.example.com/feed" {
		t.Errorf("first = %+v", first)
	}
	if strings.Join(first.PostChannels, ",") != "111,222" || first.DebugChannel != "999" {
		t.Errorf("channels = %v debug = %q", first.PostChannels, first.DebugChannel)
	}
	if cfg.Platforms.RSS[1].Name != "" {
		t.Errorf("second name = %q, want omitted", cfg.Platforms.RSS[1].Name)
	}

	existing, err := existingFeedURLs(path)
	if err != nil {
		t.Fatalf("existing: %v", err)
	}
	if !existing["https://nameless.example.com/rss"] || len(existing) != 2 {
		t.Errorf("existing = %v", existing)
	}
}
