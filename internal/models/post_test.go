package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPost(t *testing.T) {
	now := time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC)
	item := ClassifiedItem{RawItem: RawItem{Title: "A", HTMLLink: "https://example.com/a"}}

	post := NewPost(item, now, 7*24*time.Hour)

	require.NotNil(t, post.Categories)
	assert.Empty(t, post.Categories)
	assert.Equal(t, now, post.CreatedAt)
	assert.Equal(t, now.AddDate(0, 0, 7), post.ExpiresAt)
}

func TestStringListRoundTripThroughDriver(t *testing.T) {
	v, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var l StringList
	require.NoError(t, l.Scan([]byte(`["tech","science"]`)))
	assert.Equal(t, StringList{"tech", "science"}, l)

	require.NoError(t, l.Scan(nil))
	assert.NotNil(t, l)
	assert.Empty(t, l)

	assert.Error(t, l.Scan(42))
	assert.Error(t, l.Scan("not json"))
}

func TestPostJSONNeverEmitsNullCategories(t *testing.T) {
	b, err := json.Marshal(Post{Title: "A"})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"categories":[]`)
	assert.NotContains(t, string(b), `"event"`)
}
