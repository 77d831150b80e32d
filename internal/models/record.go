package models

import (
	"time"
)

// ExtractedRecord is one unit of harvested data (for example a review).
// ExternalID is the sole deduplication key within a connection.
type ExtractedRecord struct {
	ID           string            `json:"id"`
	ConnectionID string            `json:"connection_id" badgerhold:"index"`
	TenantID     string            `json:"tenant_id"`
	Platform     Platform          `json:"platform"`
	ExternalID   string            `json:"external_id"`
	Author       string            `json:"author,omitempty"`
	Title        string            `json:"title,omitempty"`
	Body         string            `json:"body,omitempty"`
	Rating       float64           `json:"rating,omitempty"`
	PublishedAt  *time.Time        `json:"published_at,omitempty"`
	URL          string            `json:"url,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	ObservedAt   time.Time         `json:"observed_at"`
}

// RecordKey builds the storage key for a record: the conflict key (connection, externalId)
func RecordKey(connectionID, externalID string) string {
	return connectionID + ":" + externalID
}

// PageContent is the rendered state of a page after navigation
type PageContent struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	HTML  string `json:"-"`
}

// Extraction is the outcome of running ranked extraction strategies against a page
type Extraction struct {
	Strategy string             `json:"strategy"` // Name of the strategy that yielded data, empty if none did
	Records  []*ExtractedRecord `json:"records"`
}
