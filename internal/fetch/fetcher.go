// Package fetch retrieves many feeds concurrently through a fixed-width
// worker pool and normalizes their entries into raw items.
package fetch

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsfeed/internal/models"
)

const (
	DefaultFeedTimeout = 2 * time.Minute
	maxSummaryLength   = 500
	maxTitleLength     = 300
)

// FeedFetchError is a failure to retrieve or parse one feed. The feed
// contributes no items; the run continues.
type FeedFetchError struct {
	SourceLabel string
	FeedURL     string
	Err         error
}

func (e *FeedFetchError) Error() string {
	return fmt.Sprintf("error fetching feed %s (%s): %v", e.SourceLabel, e.FeedURL, e.Err)
}

func (e *FeedFetchError) Unwrap() error { return e.Err }

// Result is the flattened output of one FetchAll call.
type Result struct {
	Items         []models.RawItem
	Failures      []*FeedFetchError
	FeedsOK       int
	DroppedNoLink int
}

type feedResult struct {
	feed    models.FeedDescriptor
	items   []models.RawItem
	dropped int
	err     error
}

// Fetcher fans feeds out to Workers goroutines.
type Fetcher struct {
	source      Source
	Workers     int
	FeedTimeout time.Duration
	now         func() time.Time
}

// NewFetcher creates a fetcher. workers <= 0 means one per CPU.
func NewFetcher(source Source, workers int, feedTimeout time.Duration) *Fetcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if feedTimeout <= 0 {
		feedTimeout = DefaultFeedTimeout
	}
	return &Fetcher{
		source:      source,
		Workers:     workers,
		FeedTimeout: feedTimeout,
		now:         time.Now,
	}
}

// FetchAll fetches every feed and returns the items of those that succeeded.
// Item order is not significant.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []models.FeedDescriptor) Result {
	var result Result
	if len(feeds) == 0 {
		return result
	}

	workers := min(f.Workers, len(feeds))
	feedQueue := make(chan models.FeedDescriptor, workers*2)
	results := make(chan feedResult, workers)

	var workerWg sync.WaitGroup
	for i := 0; i < workers; i++ {
		workerWg.Add(1)
		go f.feedWorker(ctx, feedQueue, results, &workerWg)
	}

	go func() {
		defer close(feedQueue)
		for _, feed := range feeds {
			select {
			case feedQueue <- feed:
			case <-ctx.Done():
				log.Info().Err(ctx.Err()).Msg("Context cancelled during feed queuing")
				return
			}
		}
	}()

	go func() {
		workerWg.Wait()
		close(results)
	}()

	for r := range results {
		result.DroppedNoLink += r.dropped
		if r.err != nil {
			fetchErr := &FeedFetchError{SourceLabel: r.feed.SourceLabel, FeedURL: r.feed.FeedURL, Err: r.err}
			log.Warn().Err(r.err).Str("source", r.feed.SourceLabel).Str("url", r.feed.FeedURL).Msg("Feed fetch failed")
			result.Failures = append(result.Failures, fetchErr)
			continue
		}
		result.FeedsOK++
		result.Items = append(result.Items, r.items...)
	}

	log.Info().
		Int("feeds", len(feeds)).
		Int("feeds_ok", result.FeedsOK).
		Int("feeds_failed", len(result.Failures)).
		Int("items", len(result.Items)).
		Msg("Finished fetching feeds")
	return result
}

func (f *Fetcher) feedWorker(ctx context.Context, feedQueue <-chan models.FeedDescriptor, results chan<- feedResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for feed := range feedQueue {
		r := f.fetchFeed(ctx, feed)
		// Results are always delivered; the collector drains until close.
		results <- r
	}
}

func (f *Fetcher) fetchFeed(ctx context.Context, feed models.FeedDescriptor) feedResult {
	feedCtx, cancel := context.WithTimeout(ctx, f.FeedTimeout)
	defer cancel()

	log.Debug().Str("source", feed.SourceLabel).Str("url", feed.FeedURL).Msg("Processing feed")

	entries, err := f.source.Fetch(feedCtx, feed.FeedURL)
	if err != nil {
		return feedResult{feed: feed, err: err}
	}

	fetchedAt := f.now().UTC()
	r := feedResult{feed: feed, items: make([]models.RawItem, 0, len(entries))}
	for _, entry := range entries {
		link := strings.TrimSpace(entry.Link)
		if link == "" {
			log.Debug().Str("url", feed.FeedURL).Str("title", entry.Title).Msg("Dropping item with empty link")
			r.dropped++
			continue
		}

		published := entry.PublishedAt
		if published.IsZero() {
			published = fetchedAt
		}

		r.items = append(r.items, models.RawItem{
			SourceLabel: feed.SourceLabel,
			Title:       truncate(strings.Join(strings.Fields(entry.Title), " "), maxTitleLength),
			PublishedAt: published.UTC(),
			HTMLLink:    link,
			FeedURL:     feed.FeedURL,
			Summary:     CleanSummary(entry.Summary, maxSummaryLength),
		})
	}

	if len(r.items) > 0 {
		log.Debug().Str("url", feed.FeedURL).Int("items", len(r.items)).Msg("Feed processed successfully")
	}
	return r
}
