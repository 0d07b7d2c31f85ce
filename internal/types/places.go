package types

import (
	"encoding/json"
	"time"
)

// WorkFlags selects which enrichment kinds a task or chunk should fetch
type WorkFlags struct {
	Menus   bool `json:"menus"`
	Images  bool `json:"images"`
	Reviews bool `json:"reviews"`
}

// Any reports whether at least one enrichment kind is requested
func (f WorkFlags) Any() bool {
	return f.Menus || f.Images || f.Reviews
}

// Candidate is a raw place record returned by a search source
type Candidate struct {
	Source      string          `json:"source"`
	SourceID    string          `json:"sourceId"`
	Name        string          `json:"name"`
	Address     string          `json:"address,omitempty"`
	Region      string          `json:"region"`
	Category    string          `json:"category,omitempty"`
	Categories  []string        `json:"categories,omitempty"`
	Lat         float64         `json:"lat"`
	Lng         float64         `json:"lng"`
	Rating      *float64        `json:"rating,omitempty"`
	ReviewCount *int            `json:"reviewCount,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Website     string          `json:"website,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Place is the persisted, normalized form of a candidate.
// NaturalKey is unique; ID is the stable identity other records reference.
type Place struct {
	ID          string    `json:"id"`
	NaturalKey  string    `json:"naturalKey"`
	Source      string    `json:"source"`
	SourceID    string    `json:"sourceId"`
	Name        string    `json:"name"`
	Region      string    `json:"region"`
	Address     string    `json:"address,omitempty"`
	Category    string    `json:"category,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Rating      *float64  `json:"rating,omitempty"`
	ReviewCount *int      `json:"reviewCount,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Website     string    `json:"website,omitempty"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Enrichment holds the detail payloads fetched for a place. The payloads
// are stored as-is.
type Enrichment struct {
	TargetID  string          `json:"targetId"`
	Menus     json.RawMessage `json:"menus,omitempty"`
	Images    json.RawMessage `json:"images,omitempty"`
	Reviews   json.RawMessage `json:"reviews,omitempty"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Empty reports whether no payload was fetched
func (e Enrichment) Empty() bool {
	return len(e.Menus) == 0 && len(e.Images) == 0 && len(e.Reviews) == 0
}
