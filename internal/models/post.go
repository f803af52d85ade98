package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RawItem is a normalized feed entry before deduplication.
type RawItem struct {
	SourceLabel string
	Title       string
	PublishedAt time.Time
	HTMLLink    string // identity key
	FeedURL     string
	Summary     string
}

// ClassifiedItem is a RawItem enriched with topical categories and an optional event.
// Categories is never nil; an empty Event means no event was assigned.
type ClassifiedItem struct {
	RawItem
	Categories StringList
	Event      string
}

// Post represents a row in the 'news' table (or a document in the 'news' collection)
type Post struct {
	ID          string     `db:"id" json:"id"`
	SourceLabel string     `db:"source_label" json:"source_label"`
	Title       string     `db:"title" json:"title"`
	PublishedAt time.Time  `db:"published_at" json:"published_at"`
	HTMLLink    string     `db:"link_html" json:"link_html"`
	FeedURL     string     `db:"link_xml" json:"link_xml"`
	Summary     string     `db:"summary" json:"summary,omitempty"`
	Categories  StringList `db:"categories" json:"categories"`
	Event       string     `db:"event" json:"event,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
}

// NewPost builds an unsaved Post from a classified item.
func NewPost(item ClassifiedItem, now time.Time, retention time.Duration) Post {
	categories := item.Categories
	if categories == nil {
		categories = StringList{}
	}
	return Post{
		SourceLabel: item.SourceLabel,
		Title:       item.Title,
		PublishedAt: item.PublishedAt.UTC(),
		HTMLLink:    item.HTMLLink,
		FeedURL:     item.FeedURL,
		Summary:     item.Summary,
		Categories:  categories,
		Event:       item.Event,
		CreatedAt:   now.UTC(),
		ExpiresAt:   now.Add(retention).UTC(),
	}
}

// StringList is a list of strings persisted as a JSON array.
// It always marshals as an array, never as null.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}

	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("invalid string list %q: %w", raw, err)
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

// MarshalJSON keeps empty lists as [] in API responses.
func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}
