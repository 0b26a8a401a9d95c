package anilist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pders01/crossread/internal/catalog"
	"github.com/pders01/crossread/internal/debuglog"
)

const DefaultEndpoint = "https://graphql.anilist.co"

// ErrNoToken is returned by writes when no access token is configured.
var ErrNoToken = errors.New("anilist: no access token configured")

const mediaFields = `
	id
	title { romaji english native userPreferred }
	synonyms
	chapters
	coverImage { large }
	mediaListEntry { progress status }
`

const searchQuery = `
query ($search: String, $perPage: Int) {
  Page(page: 1, perPage: $perPage) {
    media(search: $search, type: MANGA, sort: SEARCH_MATCH) {` + mediaFields + `}
  }
}`

const mediaQuery = `
query ($id: Int) {
  Media(id: $id, type: MANGA) {` + mediaFields + `}
}`

const saveProgressMutation = `
mutation ($mediaId: Int, $progress: Int) {
  SaveMediaListEntry(mediaId: $mediaId, progress: $progress) { id progress status }
}`

const saveStatusMutation = `
mutation ($mediaId: Int, $status: MediaListStatus) {
  SaveMediaListEntry(mediaId: $mediaId, status: $status) { id progress status }
}`

// Client is a catalog.Source backed by the AniList GraphQL API.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	log      *debuglog.FieldLogger
}

func New(endpoint, token string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: timeout},
		log:      debuglog.Component("anilist"),
	}
}

type gqlReq struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type media struct {
	ID    int `json:"id"`
	Title struct {
		Romaji        string `json:"romaji"`
		English       string `json:"english"`
		Native        string `json:"native"`
		UserPreferred string `json:"userPreferred"`
	} `json:"title"`
	Synonyms   []string `json:"synonyms"`
	Chapters   *int     `json:"chapters"`
	CoverImage struct {
		Large string `json:"large"`
	} `json:"coverImage"`
	MediaListEntry *struct {
		Progress *int   `json:"progress"`
		Status   string `json:"status"`
	} `json:"mediaListEntry"`
}

func (c *Client) Search(ctx context.Context, query string) ([]catalog.Entry, error) {
	var data struct {
		Page struct {
			Media []media `json:"media"`
		} `json:"Page"`
	}
	if err := c.do(ctx, searchQuery, map[string]any{"search": query, "perPage": 20}, &data); err != nil {
		return nil, fmt.Errorf("searching catalog: %w", err)
	}

	entries := make([]catalog.Entry, 0, len(data.Page.Media))
	for _, m := range data.Page.Media {
		entries = append(entries, toEntry(m))
	}
	return entries, nil
}

func (c *Client) GetByID(ctx context.Context, id int) (*catalog.Entry, error) {
	var data struct {
		Media *media `json:"Media"`
	}
	if err := c.do(ctx, mediaQuery, map[string]any{"id": id}, &data); err != nil {
		return nil, fmt.Errorf("fetching catalog entry %d: %w", id, err)
	}
	if data.Media == nil {
		return nil, fmt.Errorf("%w: %d", catalog.ErrNotFound, id)
	}
	entry := toEntry(*data.Media)
	return &entry, nil
}

func (c *Client) UpdateProgress(ctx context.Context, id, progress int) error {
	if c.token == "" {
		return ErrNoToken
	}
	var out json.RawMessage
	if err := c.do(ctx, saveProgressMutation, map[string]any{"mediaId": id, "progress": progress}, &out); err != nil {
		return fmt.Errorf("updating progress for %d: %w", id, err)
	}
	c.log.Infof("progress for %d set to %d", id, progress)
	return nil
}

func (c *Client) UpdateStatus(ctx context.Context, id int, status catalog.ListStatus) error {
	if c.token == "" {
		return ErrNoToken
	}
	remote, ok := toRemoteStatus[status]
	if !ok {
		return fmt.Errorf("unsupported list status %q", status)
	}
	var out json.RawMessage
	if err := c.do(ctx, saveStatusMutation, map[string]any{"mediaId": id, "status": remote}, &out); err != nil {
		return fmt.Errorf("updating status for %d: %w", id, err)
	}
	c.log.Infof("status for %d set to %s", id, remote)
	return nil
}

func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	payload, err := json.Marshal(gqlReq{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	c.log.Debugf("graphql %d in %s", resp.StatusCode, time.Since(start))

	var parsed struct {
		Data   json.RawMessage `json:"data"`
		Errors []gqlError      `json:"errors"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode >= 300 {
			return fmt.Errorf("http status %s", resp.Status)
		}
		return fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			if e.Status == http.StatusNotFound {
				return catalog.ErrNotFound
			}
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http status %s", resp.Status)
	}
	if err := json.Unmarshal(parsed.Data, out); err != nil {
		return fmt.Errorf("decoding data: %w", err)
	}
	return nil
}

var fromRemoteStatus = map[string]catalog.ListStatus{
	"CURRENT":   catalog.StatusReading,
	"PLANNING":  catalog.StatusPlanning,
	"COMPLETED": catalog.StatusCompleted,
	"PAUSED":    catalog.StatusPaused,
	"DROPPED":   catalog.StatusDropped,
	"REPEATING": catalog.StatusRepeating,
}

var toRemoteStatus = map[catalog.ListStatus]string{
	catalog.StatusReading:   "CURRENT",
	catalog.StatusPlanning:  "PLANNING",
	catalog.StatusCompleted: "COMPLETED",
	catalog.StatusPaused:    "PAUSED",
	catalog.StatusDropped:   "DROPPED",
	catalog.StatusRepeating: "REPEATING",
}

func toEntry(m media) catalog.Entry {
	entry := catalog.Entry{
		ID:       m.ID,
		Title:    m.Title.UserPreferred,
		English:  m.Title.English,
		Romaji:   m.Title.Romaji,
		Native:   m.Title.Native,
		Synonyms: m.Synonyms,
		Image:    m.CoverImage.Large,
		Chapters: m.Chapters,
	}
	if m.MediaListEntry != nil {
		entry.Progress = m.MediaListEntry.Progress
		entry.Status = fromRemoteStatus[m.MediaListEntry.Status]
	}
	return entry
}
