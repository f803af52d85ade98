package process

import (
	"context"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsfeed/internal/models"
)

// LinkChecker reports which links are already stored.
type LinkChecker interface {
	ExistingLinks(ctx context.Context, links []string) (map[string]struct{}, error)
}

// DedupResult counts what the deduplicator removed.
type DedupResult struct {
	Items         []models.RawItem
	InBatchDups   int
	AlreadyStored int
}

// Deduplicate keeps the first item per link and drops links the store
// already has. The result is only new relative to the lookup; a concurrent
// run may still insert the same link first.
func Deduplicate(ctx context.Context, checker LinkChecker, items []models.RawItem) (DedupResult, error) {
	var result DedupResult

	seen := make(map[string]struct{}, len(items))
	unique := make([]models.RawItem, 0, len(items))
	for _, item := range items {
		if _, dup := seen[item.HTMLLink]; dup {
			result.InBatchDups++
			continue
		}
		seen[item.HTMLLink] = struct{}{}
		unique = append(unique, item)
	}

	if len(unique) == 0 {
		result.Items = unique
		return result, nil
	}

	links := make([]string, len(unique))
	for i, item := range unique {
		links[i] = item.HTMLLink
	}
	existing, err := checker.ExistingLinks(ctx, links)
	if err != nil {
		return DedupResult{}, err
	}

	result.Items = make([]models.RawItem, 0, len(unique))
	for _, item := range unique {
		if _, stored := existing[item.HTMLLink]; stored {
			result.AlreadyStored++
			continue
		}
		result.Items = append(result.Items, item)
	}

	log.Debug().
		Int("candidates", len(items)).
		Int("in_batch_duplicates", result.InBatchDups).
		Int("already_stored", result.AlreadyStored).
		Int("new", len(result.Items)).
		Msg("Deduplicated items")
	return result, nil
}
