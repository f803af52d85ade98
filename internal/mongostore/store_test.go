package mongostore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"reddot-watch/newsfeed/internal/models"
	"reddot-watch/newsfeed/internal/store"
)

func posts(links ...string) []models.Post {
	out := make([]models.Post, len(links))
	for i, link := range links {
		out[i] = models.Post{ID: primitive.NewObjectID().Hex(), Title: "t", HTMLLink: link, Categories: models.StringList{}}
	}
	return out
}

func TestSplitInsertResultNoError(t *testing.T) {
	result, err := splitInsertResult(posts("a", "b"), nil)

	require.NoError(t, err)
	assert.Len(t, result.Inserted, 2)
	assert.Empty(t, result.Conflicts)
}

func TestSplitInsertResultDuplicateKeys(t *testing.T) {
	err := mongo.BulkWriteException{
		WriteErrors: []mongo.BulkWriteError{
			{WriteError: mongo.WriteError{Index: 1, Code: duplicateKeyCode, Message: "E11000 duplicate key"}},
		},
	}

	result, splitErr := splitInsertResult(posts("a", "b", "c"), err)

	require.NoError(t, splitErr)
	require.Len(t, result.Inserted, 2)
	assert.Equal(t, "a", result.Inserted[0].HTMLLink)
	assert.Equal(t, "c", result.Inserted[1].HTMLLink)
	assert.Equal(t, []string{"b"}, result.Conflicts)
}

func TestSplitInsertResultOtherWriteError(t *testing.T) {
	err := mongo.BulkWriteException{
		WriteErrors: []mongo.BulkWriteError{
			{WriteError: mongo.WriteError{Index: 0, Code: duplicateKeyCode}},
			{WriteError: mongo.WriteError{Index: 1, Code: 121, Message: "document failed validation"}},
		},
	}

	_, splitErr := splitInsertResult(posts("a", "b"), err)

	require.Error(t, splitErr)
	assert.False(t, store.IsUnavailable(splitErr))
	assert.Contains(t, splitErr.Error(), "index 1")
}

func TestSplitInsertResultConnectionError(t *testing.T) {
	_, err := splitInsertResult(posts("a"), errors.New("server selection timeout"))

	assert.True(t, store.IsUnavailable(err))
}

func TestDocumentRoundTrip(t *testing.T) {
	published := time.Date(2026, 9, 30, 8, 0, 0, 0, time.UTC)
	post := models.Post{
		SourceLabel: "Example",
		Title:       "Title",
		PublishedAt: published,
		HTMLLink:    "https://example.com/a",
		FeedURL:     "https://example.com/rss",
		Event:       "Launch",
		CreatedAt:   published,
		ExpiresAt:   published.Add(7 * 24 * time.Hour),
	}

	doc := toDocument(post)
	assert.False(t, doc.ID.IsZero())
	assert.Equal(t, []string{}, doc.Categories)

	back := fromDocument(doc)
	assert.Equal(t, doc.ID.Hex(), back.ID)
	assert.Equal(t, models.StringList{}, back.Categories)
	assert.Equal(t, post.HTMLLink, back.HTMLLink)
	assert.Equal(t, post.Event, back.Event)
	assert.True(t, post.ExpiresAt.Equal(back.ExpiresAt))
}

func TestLegacyDocumentWithoutCategories(t *testing.T) {
	raw, err := bson.Marshal(bson.D{
		{Key: "_id", Value: primitive.NewObjectID()},
		{Key: "title", Value: "Legacy"},
		{Key: "link_html", Value: "https://example.com/legacy"},
	})
	require.NoError(t, err)

	var doc newsDocument
	require.NoError(t, bson.Unmarshal(raw, &doc))

	post := fromDocument(doc)
	assert.NotNil(t, post.Categories)
	assert.Empty(t, post.Categories)
}

func TestListFilter(t *testing.T) {
	id := primitive.NewObjectID()
	ts := time.Date(2026, 9, 30, 8, 0, 0, 0, time.UTC)

	filter := listFilter(store.PostQuery{
		Category: "tech",
		Event:    "Launch",
		After:    &store.Cursor{PublishedAt: ts, ID: id.Hex()},
	})

	m := filter.Map()
	assert.Equal(t, "tech", m["categories"])
	assert.Equal(t, "Launch", m["event"])
	require.Contains(t, m, "$or")

	or := m["$or"].(bson.A)
	require.Len(t, or, 2)
	tie := or[1].(bson.D).Map()
	assert.Equal(t, ts, tie["published_at"])
	assert.Equal(t, bson.D{{Key: "$lt", Value: id}}, tie["_id"])

	plain := listFilter(store.PostQuery{}).Map()
	assert.Len(t, plain, 2)
}

func TestStringValues(t *testing.T) {
	values := []interface{}{"tech", "", 42, "science", nil}

	assert.Equal(t, []string{"science", "tech"}, stringValues(values))
	assert.Empty(t, stringValues(nil))
}
