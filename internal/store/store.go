// Package store defines the persistence contract shared by the SQLite and MongoDB backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reddot-watch/newsfeed/internal/models"
)

// Reader serves stored posts to the API.
type Reader interface {
	Ping(ctx context.Context) error
	// AllPosts returns every complete post, most recent first.
	AllPosts(ctx context.Context) ([]models.Post, error)
	ListPosts(ctx context.Context, q PostQuery) ([]models.Post, error)
	Categories(ctx context.Context) ([]string, error)
	Events(ctx context.Context) ([]string, error)
}

// Writer is the ingestion side of the store.
type Writer interface {
	Ping(ctx context.Context) error
	// ExistingLinks reports which of the given links are already stored.
	ExistingLinks(ctx context.Context, links []string) (map[string]struct{}, error)
	// InsertPosts inserts each post independently. Posts whose link is already
	// stored are skipped and reported in InsertResult.Conflicts.
	InsertPosts(ctx context.Context, posts []models.Post) (InsertResult, error)
	Categories(ctx context.Context) ([]string, error)
	Events(ctx context.Context) ([]string, error)
	// PurgeExpired deletes posts whose expiry is before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Store is a full read-write backend.
type Store interface {
	Reader
	Writer
	Close() error
}

// PostQuery filters and pages ListPosts. Results are ordered by published
// time then id, both descending.
type PostQuery struct {
	Limit    int
	Category string
	Event    string
	After    *Cursor
}

// Cursor identifies the last post of the previous page.
type Cursor struct {
	PublishedAt time.Time
	ID          string
}

// InsertResult describes the outcome of InsertPosts.
type InsertResult struct {
	Inserted  []models.Post // with ID assigned
	Conflicts []string      // links that were already stored
}

// ConflictError returns a *WriteConflictError when some posts were skipped.
func (r InsertResult) ConflictError() error {
	if len(r.Conflicts) == 0 {
		return nil
	}
	return &WriteConflictError{Links: r.Conflicts}
}

// WriteConflictError reports posts skipped because their link was inserted
// concurrently by another writer. It is informational, not fatal.
type WriteConflictError struct {
	Links []string
}

func (e *WriteConflictError) Error() string {
	const shown = 3
	links := e.Links
	suffix := ""
	if len(links) > shown {
		suffix = fmt.Sprintf(" and %d more", len(links)-shown)
		links = links[:shown]
	}
	return fmt.Sprintf("duplicate link on insert: %s%s", strings.Join(links, ", "), suffix)
}

// StoreUnavailableError wraps a connection level failure. It aborts the run.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as a *StoreUnavailableError unless it already is one.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var sue *StoreUnavailableError
	if errors.As(err, &sue) {
		return err
	}
	return &StoreUnavailableError{Op: op, Err: err}
}

// IsUnavailable reports whether err is a store connection failure.
func IsUnavailable(err error) bool {
	var sue *StoreUnavailableError
	return errors.As(err, &sue)
}

// Complete reports whether a post carries every field the API relies on.
// Legacy documents written before categories existed are skipped by readers.
func Complete(p models.Post) bool {
	return p.Title != "" && p.HTMLLink != "" && p.SourceLabel != "" && p.Categories != nil
}
