// Package mongostore keeps posts in a MongoDB collection. Link uniqueness is
// a unique index and expiry is a TTL index, so the server owns both.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"reddot-watch/newsfeed/internal/models"
	"reddot-watch/newsfeed/internal/store"
)

const (
	DefaultCollection = "news"
	connectTimeout    = 10 * time.Second
	duplicateKeyCode  = 11000
)

var _ store.Store = (*Store)(nil)

// Config selects the deployment, database and collection.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// Store implements store.Store on a single collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type newsDocument struct {
	ID          primitive.ObjectID `bson:"_id"`
	SourceLabel string             `bson:"source_label"`
	Title       string             `bson:"title"`
	PublishedAt time.Time          `bson:"published_at"`
	HTMLLink    string             `bson:"link_html"`
	FeedURL     string             `bson:"link_xml"`
	Summary     string             `bson:"summary,omitempty"`
	Categories  []string           `bson:"categories"`
	Event       string             `bson:"event,omitempty"`
	CreatedAt   time.Time          `bson:"created_at"`
	ExpiresAt   time.Time          `bson:"expires_at"`
}

// New connects, pings and makes sure the link and expiry indexes exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, store.Unavailable("connect", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, store.Unavailable("connect", err)
	}

	s := &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	log.Info().Str("database", cfg.Database).Str("collection", cfg.Collection).Msg("MongoDB connection successful")
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "link_html", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("link_html_unique"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
		},
		{
			Keys: bson.D{{Key: "published_at", Value: -1}, {Key: "_id", Value: -1}},
		},
	})
	if err != nil {
		return store.Unavailable("create indexes", err)
	}
	return nil
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return store.Unavailable("ping", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ExistingLinks returns the subset of links already stored.
func (s *Store) ExistingLinks(ctx context.Context, links []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(links))
	if len(links) == 0 {
		return found, nil
	}

	values, err := s.coll.Distinct(ctx, "link_html", bson.D{{Key: "link_html", Value: bson.D{{Key: "$in", Value: links}}}})
	if err != nil {
		return nil, store.Unavailable("existing links", err)
	}
	for _, link := range stringValues(values) {
		found[link] = struct{}{}
	}
	return found, nil
}

// InsertPosts runs an unordered InsertMany. Duplicate key failures become
// conflicts; the other documents are still written.
func (s *Store) InsertPosts(ctx context.Context, posts []models.Post) (store.InsertResult, error) {
	if len(posts) == 0 {
		return store.InsertResult{}, nil
	}

	withIDs := make([]models.Post, len(posts))
	docs := make([]interface{}, len(posts))
	for i, p := range posts {
		doc := toDocument(p)
		p.ID = doc.ID.Hex()
		withIDs[i] = p
		docs[i] = doc
	}

	_, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return splitInsertResult(withIDs, err)
}

// splitInsertResult maps an InsertMany error back onto the submitted posts.
func splitInsertResult(posts []models.Post, err error) (store.InsertResult, error) {
	var result store.InsertResult
	failed := make(map[int]struct{})

	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) {
			return store.InsertResult{}, store.Unavailable("insert", err)
		}
		if bwe.WriteConcernError != nil {
			return store.InsertResult{}, fmt.Errorf("write concern failed: %w", err)
		}
		for _, we := range bwe.WriteErrors {
			if we.Code != duplicateKeyCode {
				return store.InsertResult{}, fmt.Errorf("failed to insert post at index %d: %w", we.Index, we)
			}
			failed[we.Index] = struct{}{}
		}
	}

	for i, p := range posts {
		if _, ok := failed[i]; ok {
			result.Conflicts = append(result.Conflicts, p.HTMLLink)
			continue
		}
		result.Inserted = append(result.Inserted, p)
	}
	return result, nil
}

// AllPosts returns every post with a title and link, most recent first.
func (s *Store) AllPosts(ctx context.Context) ([]models.Post, error) {
	return s.find(ctx, listFilter(store.PostQuery{}), options.Find().SetSort(listSort()))
}

// ListPosts returns one page of posts matching q.
func (s *Store) ListPosts(ctx context.Context, q store.PostQuery) ([]models.Post, error) {
	if q.After != nil {
		if _, err := primitive.ObjectIDFromHex(q.After.ID); err != nil {
			return nil, fmt.Errorf("invalid cursor id %q: %w", q.After.ID, err)
		}
	}
	opts := options.Find().SetSort(listSort())
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return s.find(ctx, listFilter(q), opts)
}

func (s *Store) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]models.Post, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, store.Unavailable("find posts", err)
	}

	var docs []newsDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, store.Unavailable("find posts", err)
	}

	posts := make([]models.Post, 0, len(docs))
	for _, d := range docs {
		posts = append(posts, fromDocument(d))
	}
	return posts, nil
}

// Categories returns the distinct categories used by stored posts.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	values, err := s.coll.Distinct(ctx, "categories", bson.D{})
	if err != nil {
		return nil, store.Unavailable("categories", err)
	}
	return stringValues(values), nil
}

// Events returns the distinct non-empty events used by stored posts.
func (s *Store) Events(ctx context.Context) ([]string, error) {
	values, err := s.coll.Distinct(ctx, "event", bson.D{{Key: "event", Value: bson.D{{Key: "$gt", Value: ""}}}})
	if err != nil {
		return nil, store.Unavailable("events", err)
	}
	return stringValues(values), nil
}

// PurgeExpired is a no-op: the TTL index removes expired documents.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func listSort() bson.D {
	return bson.D{{Key: "published_at", Value: -1}, {Key: "_id", Value: -1}}
}

// listFilter expects q.After.ID to be a valid ObjectID hex string.
func listFilter(q store.PostQuery) bson.D {
	filter := bson.D{
		{Key: "title", Value: bson.D{{Key: "$gt", Value: ""}}},
		{Key: "link_html", Value: bson.D{{Key: "$gt", Value: ""}}},
	}
	if q.Category != "" {
		filter = append(filter, bson.E{Key: "categories", Value: q.Category})
	}
	if q.Event != "" {
		filter = append(filter, bson.E{Key: "event", Value: q.Event})
	}
	if q.After != nil {
		id, _ := primitive.ObjectIDFromHex(q.After.ID)
		ts := q.After.PublishedAt.UTC()
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "published_at", Value: bson.D{{Key: "$lt", Value: ts}}}},
			bson.D{
				{Key: "published_at", Value: ts},
				{Key: "_id", Value: bson.D{{Key: "$lt", Value: id}}},
			},
		}})
	}
	return filter
}

func toDocument(p models.Post) newsDocument {
	categories := []string(p.Categories)
	if categories == nil {
		categories = []string{}
	}
	return newsDocument{
		ID:          primitive.NewObjectID(),
		SourceLabel: p.SourceLabel,
		Title:       p.Title,
		PublishedAt: p.PublishedAt.UTC(),
		HTMLLink:    p.HTMLLink,
		FeedURL:     p.FeedURL,
		Summary:     p.Summary,
		Categories:  categories,
		Event:       p.Event,
		CreatedAt:   p.CreatedAt.UTC(),
		ExpiresAt:   p.ExpiresAt.UTC(),
	}
}

func fromDocument(d newsDocument) models.Post {
	categories := models.StringList(d.Categories)
	if categories == nil {
		categories = models.StringList{}
	}
	return models.Post{
		ID:          d.ID.Hex(),
		SourceLabel: d.SourceLabel,
		Title:       d.Title,
		PublishedAt: d.PublishedAt.UTC(),
		HTMLLink:    d.HTMLLink,
		FeedURL:     d.FeedURL,
		Summary:     d.Summary,
		Categories:  categories,
		Event:       d.Event,
		CreatedAt:   d.CreatedAt.UTC(),
		ExpiresAt:   d.ExpiresAt.UTC(),
	}
}

// stringValues keeps the non-empty strings of a Distinct result, sorted.
func stringValues(values []interface{}) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
