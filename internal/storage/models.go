package storage

import (
	"time"
)

// Mapping links one catalog entry to one provider entry. Display fields are
// denormalized so a mapped entry can be shown without a provider round trip.
type Mapping struct {
	CatalogID          int       `json:"catalog_id"`
	Provider           string    `json:"provider"`
	ProviderID         string    `json:"provider_id"`
	ProviderInternalID *int64    `json:"provider_internal_id,omitempty"`
	Title              string    `json:"title"`
	Image              string    `json:"image,omitempty"`
	Status             string    `json:"status,omitempty"`
	Rating             float64   `json:"rating,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HistoryItem is the per-device reading record for one series. ReadChapters
// holds chapter ids and is kept sorted; Numbers remembers the free-text
// chapter number of read ids when it was known.
type HistoryItem struct {
	ID                string            `json:"id"`
	SeriesID          string            `json:"series_id,omitempty"`
	CatalogID         int               `json:"catalog_id,omitempty"`
	Provider          string            `json:"provider,omitempty"`
	ProviderSeriesID  string            `json:"provider_series_id,omitempty"`
	Title             string            `json:"title"`
	LastChapterID     string            `json:"last_chapter_id,omitempty"`
	LastChapterNumber string            `json:"last_chapter_number,omitempty"`
	LastChapterTitle  string            `json:"last_chapter_title,omitempty"`
	LastReadAt        time.Time         `json:"last_read_at,omitempty"`
	Source            string            `json:"source,omitempty"`
	ReadChapters      []string          `json:"read_chapters"`
	Numbers           map[string]string `json:"numbers,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}
