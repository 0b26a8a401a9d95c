package site

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pders01/crossread/internal/config"
	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/validation"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"02/01/2006",
}

// Provider scrapes an HTML manga site described by CSS selectors. Its ids are
// canonical series URLs; bare slugs are accepted and expanded.
type Provider struct {
	cfg       config.SiteConfig
	client    *provider.Client
	validator *validation.SourceURLValidator
	base      *url.URL
}

func New(cfg config.SiteConfig, client *provider.Client, validator *validation.SourceURLValidator) (*Provider, error) {
	normalized, err := validator.ValidateAndNormalize(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", cfg.Name, err)
	}
	base, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", cfg.Name, err)
	}
	if cfg.SeriesPath == "" {
		cfg.SeriesPath = "manga"
	}
	if cfg.SearchPath == "" {
		cfg.SearchPath = "/?s={query}&page={page}"
	}
	return &Provider{cfg: cfg, client: client, validator: validator, base: base}, nil
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Priority() int { return 50 }

func (p *Provider) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Hostname(), p.base.Hostname())
}

// CanonicalID maps a slug or URL to the canonical series URL.
func (p *Provider) CanonicalID(raw string) (string, error) {
	return p.validator.CanonicalID(raw, p.base.String(), p.cfg.SeriesPath)
}

func (p *Provider) Search(ctx context.Context, query string, page int) ([]provider.Entry, error) {
	if page < 1 {
		page = 1
	}
	path := strings.NewReplacer(
		"{query}", url.QueryEscape(query),
		"{page}", strconv.Itoa(page),
	).Replace(p.cfg.SearchPath)

	target, err := p.base.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	doc, err := p.document(ctx, target.String())
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", p.cfg.Name, err)
	}

	sel := p.cfg.Selectors
	var entries []provider.Entry
	seen := make(map[string]bool)
	doc.Find(sel.Result).Each(func(_ int, s *goquery.Selection) {
		link := s.Find(sel.ResultTitle).First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || href == "" {
			return
		}
		id, err := p.CanonicalID(p.resolve(href))
		if err != nil || seen[id] {
			return
		}
		seen[id] = true

		entry := provider.Entry{
			Provider: p.cfg.Name,
			ID:       id,
			Title:    title,
			URL:      id,
		}
		if sel.ResultImage != "" {
			img := s.Find(sel.ResultImage).First()
			src := img.AttrOr("data-src", img.AttrOr("src", ""))
			if src != "" {
				entry.Image = p.resolve(src)
			}
		}
		entries = append(entries, entry)
	})
	return entries, nil
}

func (p *Provider) Details(ctx context.Context, id string) (*provider.Entry, error) {
	canonical, err := p.CanonicalID(id)
	if err != nil {
		return nil, err
	}

	doc, err := p.document(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("fetching %s series: %w", p.cfg.Name, err)
	}

	sel := p.cfg.Selectors
	entry := &provider.Entry{
		Provider: p.cfg.Name,
		ID:       canonical,
		URL:      canonical,
		Title:    strings.TrimSpace(doc.Find(orDefault(sel.DetailTitle, "h1")).First().Text()),
	}
	if sel.DetailStatus != "" {
		entry.Status = strings.ToLower(strings.TrimSpace(doc.Find(sel.DetailStatus).First().Text()))
	}
	if og, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		entry.Image = p.resolve(og)
	}

	doc.Find(sel.Chapter).Each(func(_ int, s *goquery.Selection) {
		link := s
		if sel.ChapterLink != "" {
			link = s.Find(sel.ChapterLink).First()
		}
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		text := strings.TrimSpace(link.Text())
		ch := provider.Chapter{
			ID:     p.resolve(href),
			Number: s.AttrOr("data-num", chapterNumberFromURL(href)),
			Title:  text,
		}
		if sel.ChapterDate != "" {
			ch.Date = parseDate(strings.TrimSpace(s.Find(sel.ChapterDate).First().Text()))
		}
		entry.Chapters = append(entry.Chapters, ch)
	})
	return entry, nil
}

func (p *Provider) document(ctx context.Context, target string) (*goquery.Document, error) {
	body, err := p.client.Get(ctx, target, "text/html")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return doc, nil
}

func (p *Provider) resolve(ref string) string {
	u, err := p.base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return u.String()
}

// chapterNumberFromURL reads "chapter-12-5" style slugs as "12.5".
func chapterNumberFromURL(href string) string {
	slug := strings.ToLower(validation.Slug(href))
	i := strings.LastIndex(slug, "chapter-")
	if i < 0 {
		return ""
	}
	parts := strings.Split(slug[i+len("chapter-"):], "-")
	var digits []string
	for _, part := range parts {
		if _, err := strconv.Atoi(part); err != nil {
			break
		}
		digits = append(digits, part)
		if len(digits) == 2 {
			break
		}
	}
	return strings.Join(digits, ".")
}

func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
