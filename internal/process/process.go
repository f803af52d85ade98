package process

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsfeed/internal/classify"
	"reddot-watch/newsfeed/internal/fetch"
	"reddot-watch/newsfeed/internal/metrics"
	"reddot-watch/newsfeed/internal/models"
	"reddot-watch/newsfeed/internal/store"
)

// FeedLoader provides the subscription list for a run.
type FeedLoader interface {
	Load(ctx context.Context) ([]models.FeedDescriptor, error)
}

// Report describes one finished run.
type Report struct {
	RunID          string        `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration_ns"`
	Feeds          int           `json:"feeds"`
	FeedsFailed    int           `json:"feeds_failed"`
	ItemsFetched   int           `json:"items_fetched"`
	ItemsNew       int           `json:"items_new"`
	Inserted       int           `json:"inserted"`
	Conflicts      int           `json:"conflicts"`
	Classification string        `json:"classification"`
	Purged         int64         `json:"purged"`
}

// Pipeline runs registry, fetch, dedup, classify and write in sequence.
// Run is safe to call concurrently; the store's unique link index keeps
// overlapping runs from duplicating posts.
type Pipeline struct {
	store      store.Writer
	feeds      FeedLoader
	fetcher    *fetch.Fetcher
	classifier *classify.Adapter
	writer     *Writer
	metrics    *metrics.Metrics
	now        func() time.Time

	processed  atomic.Int64
	duplicates atomic.Int64
}

// Options holds the optional parts of a Pipeline.
type Options struct {
	Retention time.Duration
	Metrics   *metrics.Metrics
}

// NewPipeline wires the stages around a shared store handle.
func NewPipeline(s store.Writer, feeds FeedLoader, fetcher *fetch.Fetcher, classifier *classify.Adapter, opts Options) (*Pipeline, error) {
	if s == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if feeds == nil || fetcher == nil {
		return nil, fmt.Errorf("feed loader and fetcher are required")
	}
	if classifier == nil {
		classifier = classify.NewAdapter(nil, 0, 0)
	}
	if opts.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}

	return &Pipeline{
		store:      s,
		feeds:      feeds,
		fetcher:    fetcher,
		classifier: classifier,
		writer:     NewWriter(s, opts.Retention),
		metrics:    opts.Metrics,
		now:        time.Now,
	}, nil
}

// Run performs one ingestion. Registry and store failures abort the run and
// are returned; feed and classification failures are logged and absorbed.
func (p *Pipeline) Run(ctx context.Context) (report Report, err error) {
	report = Report{RunID: uuid.NewString(), StartedAt: p.now().UTC()}
	logger := log.With().Str("run_id", report.RunID).Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		report.Duration = time.Since(report.StartedAt)
		p.observe(report, err)
		if err != nil {
			logger.Error().Err(err).Dur("took", report.Duration).Msg("Ingestion run failed")
			return
		}
		logger.Info().
			Int("feeds", report.Feeds).
			Int("feeds_failed", report.FeedsFailed).
			Int("fetched", report.ItemsFetched).
			Int("new", report.ItemsNew).
			Int("inserted", report.Inserted).
			Int("conflicts", report.Conflicts).
			Str("classification", report.Classification).
			Dur("took", report.Duration).
			Msg("Ingestion run complete")
	}()

	logger.Info().Msg("Starting ingestion run")

	if err := p.store.Ping(ctx); err != nil {
		return report, err
	}

	feeds, err := p.feeds.Load(ctx)
	if err != nil {
		return report, err
	}
	report.Feeds = len(feeds)
	logger.Info().Int("loaded_feeds", len(feeds)).Msg("Loaded subscription list")

	fetched := p.fetcher.FetchAll(ctx, feeds)
	report.FeedsFailed = len(fetched.Failures)
	report.ItemsFetched = len(fetched.Items)

	deduped, err := Deduplicate(ctx, p.store, fetched.Items)
	if err != nil {
		return report, err
	}
	report.ItemsNew = len(deduped.Items)
	p.duplicates.Add(int64(deduped.InBatchDups + deduped.AlreadyStored))

	var classified []models.ClassifiedItem
	if len(deduped.Items) > 0 {
		categories, events := p.vocabulary(ctx, logger)
		var outcome classify.Outcome
		classified, outcome = p.classifier.Classify(ctx, deduped.Items, categories, events)
		report.Classification = outcome.Status
	} else {
		report.Classification = classify.StatusSkipped
	}

	written, err := p.writer.Write(ctx, classified)
	if err != nil {
		return report, err
	}
	report.Inserted = len(written.Inserted)
	report.Conflicts = len(written.Conflicts)
	p.processed.Add(int64(report.Inserted))
	p.duplicates.Add(int64(report.Conflicts))

	purged, purgeErr := p.store.PurgeExpired(ctx, p.now())
	if purgeErr != nil {
		logger.Warn().Err(purgeErr).Msg("Failed to purge expired posts")
	} else {
		report.Purged = purged
		if purged > 0 {
			logger.Info().Int64("rows_affected", purged).Msg("Purged expired posts")
		}
	}

	return report, nil
}

// vocabulary reads the categories and events already in use. A failed read
// degrades to an empty list.
func (p *Pipeline) vocabulary(ctx context.Context, logger zerolog.Logger) (categories, events []string) {
	categories, err := p.store.Categories(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read existing categories")
		categories = nil
	}
	events, err = p.store.Events(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read existing events")
		events = nil
	}
	return categories, events
}

func (p *Pipeline) observe(r Report, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	p.metrics.ObserveRun(metrics.RunSummary{
		Status:        status,
		Duration:      r.Duration,
		FeedsOK:       r.Feeds - r.FeedsFailed,
		FeedsFailed:   r.FeedsFailed,
		ItemsFetched:  r.ItemsFetched,
		ItemsNew:      r.ItemsNew,
		Inserted:      r.Inserted,
		Conflicts:     r.Conflicts,
		ClassifyState: r.Classification,
		Purged:        r.Purged,
	})
}

// Stats returns cumulative counts across runs: posts inserted, and items
// dropped as already stored or duplicated.
func (p *Pipeline) Stats() (processed, duplicates int64) {
	processed = p.processed.Load()
	duplicates = p.duplicates.Load()
	return
}
