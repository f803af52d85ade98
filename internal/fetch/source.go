package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/reddot-watch/feedfetcher"
)

const (
	ModeNormalized = "normalized"
	ModeRaw        = "raw"

	defaultUserAgent      = "newsfeed/1.0 (+https://github.com/reddot-watch)"
	defaultRequestTimeout = 15 * time.Second
)

// Entry is one feed item as returned by a Source, before normalization.
type Entry struct {
	Link        string
	Title       string
	Summary     string
	PublishedAt time.Time // zero when the feed did not provide one
}

// Source retrieves and parses a single feed.
type Source interface {
	Fetch(ctx context.Context, feedURL string) ([]Entry, error)
}

// SourceConfig tunes the HTTP side of both sources.
type SourceConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxItems       int
	MaxAge         time.Duration
}

func (c SourceConfig) withDefaults() SourceConfig {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxItems <= 0 {
		c.MaxItems = 100
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 48 * time.Hour
	}
	return c
}

// NewSource returns the Source for a fetch mode.
func NewSource(mode string, cfg SourceConfig) (Source, error) {
	switch mode {
	case ModeNormalized, "":
		return NewNormalizedSource(cfg), nil
	case ModeRaw:
		return NewRawSource(cfg, nil), nil
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", mode)
	}
}

// NormalizedSource uses feedfetcher, which filters stale and future dated
// items and trims headlines.
type NormalizedSource struct {
	fetcher *feedfetcher.FeedFetcher
}

func NewNormalizedSource(cfg SourceConfig) *NormalizedSource {
	cfg = cfg.withDefaults()
	return &NormalizedSource{
		fetcher: feedfetcher.NewFeedFetcher(feedfetcher.Config{
			UserAgent:            cfg.UserAgent,
			RequestTimeout:       cfg.RequestTimeout,
			MaxItems:             cfg.MaxItems,
			MaxHeadingLength:     200,
			MaxAge:               cfg.MaxAge,
			FutureDriftTolerance: 12 * time.Hour,
		}),
	}
}

func (s *NormalizedSource) Fetch(ctx context.Context, feedURL string) ([]Entry, error) {
	items, err := s.fetcher.FetchAndProcess(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{
			Link:        item.URL,
			Title:       item.Headline,
			Summary:     item.Content,
			PublishedAt: item.PublishedAt,
		})
	}
	return entries, nil
}

// RawSource parses feeds with gofeed and keeps every entry the feed lists.
type RawSource struct {
	parser   *gofeed.Parser
	maxItems int
}

// NewRawSource builds a RawSource. A nil client gets a pooled transport
// with the configured request timeout.
func NewRawSource(cfg SourceConfig, client *http.Client) *RawSource {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		}
	}

	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = cfg.UserAgent
	return &RawSource{parser: parser, maxItems: cfg.MaxItems}
}

func (s *RawSource) Fetch(ctx context.Context, feedURL string) ([]Entry, error) {
	feed, err := s.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if len(entries) == s.maxItems {
			break
		}
		entry := Entry{
			Link:    item.Link,
			Title:   item.Title,
			Summary: item.Description,
		}
		if entry.Summary == "" {
			entry.Summary = item.Content
		}
		switch {
		case item.PublishedParsed != nil:
			entry.PublishedAt = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			entry.PublishedAt = *item.UpdatedParsed
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
