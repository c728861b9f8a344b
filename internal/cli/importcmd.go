package cli

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/qianyu-bot/qianyu/internal/config"
)

var (
	importDryRun       bool
	importChannels     []string
	importDebugChannel string
)

var importCmd = &cobra.Command{
	Use:   "import <file.opml>",
	Short: "Add the feeds of an OPML file as RSS platforms",
	Args:  cobra.ExactArgs(1),
	RunE:  importAction,
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "show what would be added without modifying config")
	importCmd.Flags().StringSliceVar(&importChannels, "channel", nil, "post channel id for the imported feeds (repeatable)")
	importCmd.Flags().StringVar(&importDebugChannel, "debug-channel", "", "debug channel id for the imported feeds")
	rootCmd.AddCommand(importCmd)
}

type opml struct {
	Body opmlBody `xml:"body"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	XMLURL   string        `xml:"xmlUrl,attr"`
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	Outlines []opmlOutline `xml:"outline"`
}

// opmlFeed is one importable feed.
type opmlFeed struct {
	Name string
	URL  string
}

func importAction(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(importChannels) == 0 && !importDryRun {
		return errors.New("--channel is required")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read OPML: %w", err)
	}

	var doc opml
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse OPML: %w", err)
	}

	feeds := extractFeeds(doc.Body.Outlines)
	if len(feeds) == 0 {
		fmt.Fprintln(out, "No feed URLs found in OPML file.")
		return nil
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	existing, err := existingFeedURLs(configPath)
	if err != nil {
		return err
	}

	var newFeeds []opmlFeed
	skipped := 0
	for _, f := range feeds {
		if existing[f.URL] {
			skipped++
			continue
		}
		existing[f.URL] = true
		newFeeds = append(newFeeds, f)
	}

	if len(newFeeds) == 0 {
		fmt.Fprintf(out, "All %d feeds already present, nothing to add.\n", skipped)
		return nil
	}

	if importDryRun {
		fmt.Fprintf(out, "Would add %d feeds (skipping %d duplicates):\n", len(newFeeds), skipped)
		printFeeds(out, newFeeds)
		return nil
	}

	if err := mergeFeeds(configPath, newFeeds, importChannels, importDebugChannel); err != nil {
		return fmt.Errorf("merge feeds: %w", err)
	}

	fmt.Fprintf(out, "Added %d feeds, skipped %d duplicates.\n", len(newFeeds), skipped)
	return nil
}

func printFeeds(w io.Writer, feeds []opmlFeed) {
	for _, f := range feeds {
		fmt.Fprintf(w, "  + %s (%s)\n", f.URL, f.Name)
	}
}

func extractFeeds(outlines []opmlOutline) []opmlFeed {
	var feeds []opmlFeed
	for _, o := range outlines {
		u := strings.TrimSpace(o.XMLURL)
		if u != "" && (strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
			name := strings.TrimSpace(o.Text)
			if name == "" {
				name = strings.TrimSpace(o.Title)
			}
			feeds = append(feeds, opmlFeed{Name: name, URL: u})
		}
		// Recurse into nested outlines (folders)
		feeds = append(feeds, extractFeeds(o.Outlines)...)
	}
	return feeds
}

// existingFeedURLs reads the configured RSS urls without validating the
// rest of the file, so import works on a fresh config.
func existingFeedURLs(configPath string) (map[string]bool, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	existing := make(map[string]bool)
	for _, f := range cfg.Platforms.RSS {
		existing[strings.TrimSpace(f.URL)] = true
	}
	return existing, nil
}

// mergeFeeds reads config.yaml as a yaml.Node tree, finds platforms.rss,
// appends one entry per feed, and writes back preserving structure.
func mergeFeeds(configPath string, feeds []opmlFeed, channels []string, debugChannel string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}

	rssNode := findRSSNode(&doc)
	if rssNode == nil {
		return fmt.Errorf("could not find or create platforms.rss in config.yaml")
	}
	// Flow style ("rss: []") cannot hold block mappings nicely.
	rssNode.Style = 0

	for _, f := range feeds {
		entry := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		if f.Name != "" {
			entry.Content = append(entry.Content, scalar("name"), quoted(f.Name))
		}
		entry.Content = append(entry.Content, scalar("url"), quoted(f.URL))

		chans := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
		for _, ch := range channels {
			chans.Content = append(chans.Content, quoted(ch))
		}
		entry.Content = append(entry.Content, scalar("post_channels"), chans)
		if debugChannel != "" {
			entry.Content = append(entry.Content, scalar("debug_channel"), quoted(debugChannel))
		}
		rssNode.Content = append(rssNode.Content, entry)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(configPath, out, 0o644)
}

// findRSSNode walks the YAML tree to the sequence node at platforms.rss,
// creating missing keys along the way.
func findRSSNode(doc *yaml.Node) *yaml.Node {
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return findRSSNode(doc.Content[0])
	}

	if doc.Kind != yaml.MappingNode {
		return nil
	}

	platformsNode := findMapValue(doc, "platforms")
	if platformsNode == nil || (platformsNode.Kind == yaml.ScalarNode && platformsNode.Tag == "!!null") {
		if platformsNode == nil {
			platformsNode = &yaml.Node{}
			doc.Content = append(doc.Content, scalar("platforms"), platformsNode)
		}
		*platformsNode = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	if platformsNode.Kind != yaml.MappingNode {
		return nil
	}

	rssNode := findMapValue(platformsNode, "rss")
	if rssNode == nil {
		rssNode = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		platformsNode.Content = append(platformsNode.Content, scalar("rss"), rssNode)
	}
	if rssNode.Kind == yaml.ScalarNode && rssNode.Tag == "!!null" {
		*rssNode = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	}
	if rssNode.Kind != yaml.SequenceNode {
		return nil
	}
	return rssNode
}

func findMapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func quoted(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v, Style: yaml.DoubleQuotedStyle}
}
