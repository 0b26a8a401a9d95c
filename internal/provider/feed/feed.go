package feed

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/mmcdole/gofeed"

	"github.com/pders01/crossread/internal/config"
	"github.com/pders01/crossread/internal/debuglog"
	"github.com/pders01/crossread/internal/provider"
)

const accept = "application/rss+xml, application/atom+xml, application/xml, text/xml"

var (
	chapterLabel = regexp.MustCompile(`(?i)\b(?:ch(?:apter)?|ep(?:isode)?)\.?\s*(\d+(?:\.\d+)?)`)
	anyNumber    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	imgSrc       = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)
)

// Provider serves a source that only publishes RSS/Atom: the search feed's
// items are series and each series feed's items are chapters.
type Provider struct {
	name      string
	searchURL string
	seriesURL string
	client    *provider.Client
	parser    *gofeed.Parser
	log       *debuglog.FieldLogger

	mu    sync.Mutex
	cache map[string]*provider.Response
}

func New(cfg config.FeedConfig, client *provider.Client) *Provider {
	return &Provider{
		name:      cfg.Name,
		searchURL: cfg.SearchURL,
		seriesURL: cfg.SeriesURL,
		client:    client,
		parser:    gofeed.NewParser(),
		log:       debuglog.Component("feed").With("provider", cfg.Name),
		cache:     make(map[string]*provider.Response),
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Search(ctx context.Context, query string, page int) ([]provider.Entry, error) {
	if page < 1 {
		page = 1
	}
	target := strings.NewReplacer(
		"{query}", url.QueryEscape(query),
		"{page}", strconv.Itoa(page),
	).Replace(p.searchURL)

	feed, err := p.fetch(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", p.name, err)
	}

	entries := make([]provider.Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		id := item.Link
		if id == "" {
			id = item.GUID
		}
		if id == "" || strings.TrimSpace(item.Title) == "" {
			continue
		}
		entries = append(entries, provider.Entry{
			Provider: p.name,
			ID:       id,
			Title:    strings.TrimSpace(item.Title),
			Image:    itemImage(item),
			URL:      item.Link,
		})
	}
	return entries, nil
}

// Details accepts either a full feed URL or an id substituted into the
// series feed template.
func (p *Provider) Details(ctx context.Context, id string) (*provider.Entry, error) {
	target := id
	if !strings.Contains(id, "://") {
		if p.seriesURL == "" {
			return nil, fmt.Errorf("%s has no series feed configured for id %q", p.name, id)
		}
		target = strings.ReplaceAll(p.seriesURL, "{id}", url.PathEscape(id))
	}

	feed, err := p.fetch(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("fetching %s series: %w", p.name, err)
	}

	entry := &provider.Entry{
		Provider: p.name,
		ID:       id,
		Title:    strings.TrimSpace(feed.Title),
		URL:      feed.Link,
	}
	if feed.Image != nil {
		entry.Image = feed.Image.URL
	}

	for _, item := range feed.Items {
		ch := provider.Chapter{
			ID:     item.Link,
			Number: chapterNumber(item.Title),
			Title:  strings.TrimSpace(item.Title),
		}
		if ch.ID == "" {
			ch.ID = item.GUID
		}
		if item.PublishedParsed != nil {
			ch.Date = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			ch.Date = *item.UpdatedParsed
		}
		entry.Chapters = append(entry.Chapters, ch)
	}
	return entry, nil
}

// fetch sends conditional requests and reuses the previous body on 304.
func (p *Provider) fetch(ctx context.Context, target string) (*gofeed.Feed, error) {
	p.mu.Lock()
	prev := p.cache[target]
	p.mu.Unlock()

	headers := map[string]string{"Accept": accept}
	if prev != nil {
		headers["If-None-Match"] = prev.ETag
		headers["If-Modified-Since"] = prev.LastModified
	}

	resp, err := p.client.Fetch(ctx, target, headers)
	if err != nil {
		return nil, err
	}
	if resp.NotModified {
		if prev == nil {
			return nil, fmt.Errorf("unexpected 304 for %s", target)
		}
		p.log.Debugf("feed not modified: %s", target)
		resp = prev
	} else if resp.ETag != "" || resp.LastModified != "" {
		p.mu.Lock()
		p.cache[target] = resp
		p.mu.Unlock()
	}

	feed, err := p.parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	return feed, nil
}

// chapterNumber prefers an explicit "Chapter 12" label and falls back to the
// last number in the title.
func chapterNumber(title string) string {
	if m := chapterLabel.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	all := anyNumber.FindAllString(title, -1)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enclosure := range item.Enclosures {
		if enclosure.URL != "" && strings.HasPrefix(enclosure.Type, "image/") {
			return enclosure.URL
		}
	}
	if m := imgSrc.FindStringSubmatch(item.Content + " " + item.Description); m != nil {
		return m[1]
	}
	return ""
}
