package process

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsfeed/internal/models"
	"reddot-watch/newsfeed/internal/store"
)

// PostInserter is the write side the Writer needs.
type PostInserter interface {
	InsertPosts(ctx context.Context, posts []models.Post) (store.InsertResult, error)
}

// Writer stamps expiry on classified items and inserts them one by one,
// skipping links another writer stored first.
type Writer struct {
	store     PostInserter
	Retention time.Duration
	now       func() time.Time
}

func NewWriter(s PostInserter, retention time.Duration) *Writer {
	return &Writer{store: s, Retention: retention, now: time.Now}
}

// Write persists items. Empty input returns without touching the store.
// Conflicts are reported in the result; only store failures are errors.
func (w *Writer) Write(ctx context.Context, items []models.ClassifiedItem) (store.InsertResult, error) {
	if len(items) == 0 {
		return store.InsertResult{}, nil
	}

	now := w.now()
	posts := make([]models.Post, len(items))
	for i, item := range items {
		posts[i] = models.NewPost(item, now, w.Retention)
	}

	result, err := w.store.InsertPosts(ctx, posts)
	if err != nil {
		return store.InsertResult{}, err
	}

	if conflictErr := result.ConflictError(); conflictErr != nil {
		log.Warn().Err(conflictErr).Int("conflicts", len(result.Conflicts)).Msg("Skipped posts inserted by a concurrent run")
	}
	return result, nil
}
