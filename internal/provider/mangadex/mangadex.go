package mangadex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pders01/crossread/internal/provider"
)

const (
	Name           = "mangadex"
	DefaultAPIURL  = "https://api.mangadex.org"
	DefaultSiteURL = "https://mangadex.org"
	coverBaseURL   = "https://uploads.mangadex.org/covers"
	pageSize       = 20
	feedLimit      = 500
)

// Provider talks to the MangaDex JSON API. Ids are manga UUIDs; title URLs
// (https://mangadex.org/title/<uuid>/<slug>) are accepted everywhere an id is.
type Provider struct {
	client   *provider.Client
	apiURL   string
	siteURL  string
	language string
}

func New(client *provider.Client, apiURL, language string) *Provider {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if language == "" {
		language = "en"
	}
	return &Provider{
		client:   client,
		apiURL:   strings.TrimRight(apiURL, "/"),
		siteURL:  DefaultSiteURL,
		language: language,
	}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Priority() int { return 80 }

func (p *Provider) CanHandle(rawURL string) bool {
	return strings.Contains(rawURL, "://mangadex.org/title/") ||
		strings.Contains(rawURL, "://www.mangadex.org/title/")
}

// CanonicalID extracts the manga UUID from a bare id or a title URL.
func CanonicalID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	candidate := raw
	if i := strings.Index(raw, "/title/"); i >= 0 {
		candidate = strings.SplitN(raw[i+len("/title/"):], "/", 2)[0]
	}
	id, err := uuid.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("invalid mangadex id %q: %w", raw, err)
	}
	return id.String(), nil
}

type mangaAttributes struct {
	Title     map[string]string   `json:"title"`
	AltTitles []map[string]string `json:"altTitles"`
	Status    string              `json:"status"`
}

type relationship struct {
	Type       string `json:"type"`
	Attributes *struct {
		FileName string `json:"fileName"`
	} `json:"attributes"`
}

type mangaData struct {
	ID            string          `json:"id"`
	Attributes    mangaAttributes `json:"attributes"`
	Relationships []relationship  `json:"relationships"`
}

type listResponse struct {
	Result string      `json:"result"`
	Data   []mangaData `json:"data"`
	Total  int         `json:"total"`
}

type entityResponse struct {
	Result string    `json:"result"`
	Data   mangaData `json:"data"`
}

type chapterData struct {
	ID         string `json:"id"`
	Attributes struct {
		Chapter   string `json:"chapter"`
		Title     string `json:"title"`
		PublishAt string `json:"publishAt"`
	} `json:"attributes"`
}

type feedResponse struct {
	Result string        `json:"result"`
	Data   []chapterData `json:"data"`
}

func (p *Provider) Search(ctx context.Context, query string, page int) ([]provider.Entry, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("title", query)
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("offset", strconv.Itoa((page-1)*pageSize))
	q.Add("includes[]", "cover_art")

	var resp listResponse
	if err := p.getJSON(ctx, p.apiURL+"/manga?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("searching mangadex: %w", err)
	}

	entries := make([]provider.Entry, 0, len(resp.Data))
	for _, m := range resp.Data {
		entries = append(entries, p.toEntry(m))
	}
	return entries, nil
}

func (p *Provider) Details(ctx context.Context, id string) (*provider.Entry, error) {
	canonical, err := CanonicalID(id)
	if err != nil {
		return nil, err
	}

	var resp entityResponse
	if err := p.getJSON(ctx, p.apiURL+"/manga/"+canonical+"?includes[]=cover_art", &resp); err != nil {
		return nil, fmt.Errorf("fetching mangadex manga: %w", err)
	}
	entry := p.toEntry(resp.Data)

	q := url.Values{}
	q.Add("translatedLanguage[]", p.language)
	q.Set("order[chapter]", "desc")
	q.Set("limit", strconv.Itoa(feedLimit))

	var feed feedResponse
	if err := p.getJSON(ctx, p.apiURL+"/manga/"+canonical+"/feed?"+q.Encode(), &feed); err != nil {
		return nil, fmt.Errorf("fetching mangadex chapters: %w", err)
	}

	seen := make(map[string]bool)
	for _, c := range feed.Data {
		// one upload per chapter number; scanlation groups often duplicate
		if c.Attributes.Chapter != "" && seen[c.Attributes.Chapter] {
			continue
		}
		seen[c.Attributes.Chapter] = true
		ch := provider.Chapter{
			ID:     c.ID,
			Number: c.Attributes.Chapter,
			Title:  c.Attributes.Title,
		}
		if t, err := time.Parse(time.RFC3339, c.Attributes.PublishAt); err == nil {
			ch.Date = t
		}
		entry.Chapters = append(entry.Chapters, ch)
	}
	return &entry, nil
}

func (p *Provider) getJSON(ctx context.Context, rawURL string, out any) error {
	body, err := p.client.Get(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (p *Provider) toEntry(m mangaData) provider.Entry {
	entry := provider.Entry{
		Provider: Name,
		ID:       m.ID,
		Title:    pickTitle(m.Attributes, p.language),
		Status:   m.Attributes.Status,
		URL:      p.siteURL + "/title/" + m.ID,
	}
	for _, rel := range m.Relationships {
		if rel.Type == "cover_art" && rel.Attributes != nil && rel.Attributes.FileName != "" {
			entry.Image = coverBaseURL + "/" + m.ID + "/" + rel.Attributes.FileName
		}
	}
	return entry
}

// pickTitle prefers the requested language, then english, then romanized
// japanese, then whatever comes first alphabetically by language code.
func pickTitle(attrs mangaAttributes, language string) string {
	for _, lang := range []string{language, "en", "ja-ro"} {
		if t := attrs.Title[lang]; t != "" {
			return t
		}
	}
	for _, alt := range attrs.AltTitles {
		if t := alt[language]; t != "" {
			return t
		}
	}
	langs := make([]string, 0, len(attrs.Title))
	for lang := range attrs.Title {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if t := attrs.Title[lang]; t != "" {
			return t
		}
	}
	return ""
}
