package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/newsfeed/internal/models"
)

type fakeCollaborator struct {
	answer []Classification
	err    error
	calls  int
	last   Request
	ctxErr error
}

func (f *fakeCollaborator) Classify(ctx context.Context, req Request) ([]Classification, error) {
	f.calls++
	f.last = req
	f.ctxErr = ctx.Err()
	return f.answer, f.err
}

func rawItems(titles ...string) []models.RawItem {
	items := make([]models.RawItem, len(titles))
	for i, title := range titles {
		items[i] = models.RawItem{Title: title, HTMLLink: "https://example.com/" + title}
	}
	return items
}

func TestClassifyMergesByTitle(t *testing.T) {
	collab := &fakeCollaborator{answer: []Classification{{Title: "B", Categories: []string{"tech"}}}}

	out, outcome := NewAdapter(collab, 100, time.Second).Classify(context.Background(), rawItems("A", "B"), nil, nil)

	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].Title)
	assert.Equal(t, models.StringList{}, out[0].Categories)
	assert.Equal(t, "B", out[1].Title)
	assert.Equal(t, models.StringList{"tech"}, out[1].Categories)
	assert.Equal(t, StatusClassified, outcome.Status)
	assert.Equal(t, 1, outcome.Matched)
	assert.Nil(t, outcome.Err)
}

func TestClassifyDuplicateTitlesShareAndFirstEntryWins(t *testing.T) {
	collab := &fakeCollaborator{answer: []Classification{
		{Title: "Storm hits coast", Event: " Hurricane Ada ", Categories: []string{"Weather", " ", "Weather"}},
		{Title: "Storm hits coast", Categories: []string{"Other"}},
	}}
	items := rawItems("Storm hits coast", "Storm hits coast")
	items[1].HTMLLink = "https://other.example.com/storm"

	out, outcome := NewAdapter(collab, 100, time.Second).Classify(context.Background(), items, nil, nil)

	for _, item := range out {
		assert.Equal(t, models.StringList{"Weather"}, item.Categories)
		assert.Equal(t, "Hurricane Ada", item.Event)
	}
	assert.Equal(t, 2, outcome.Matched)
}

func TestClassifyCeilingPassesTailThrough(t *testing.T) {
	titles := make([]string, 150)
	answer := make([]Classification, 0, 150)
	for i := range titles {
		titles[i] = fmt.Sprintf("title %d", i)
		answer = append(answer, Classification{Title: titles[i], Categories: []string{"news"}})
	}
	collab := &fakeCollaborator{answer: answer}

	out, outcome := NewAdapter(collab, 100, time.Second).Classify(context.Background(), rawItems(titles...), nil, nil)

	require.Len(t, out, 150)
	assert.Len(t, collab.last.Items, 100)
	assert.Equal(t, 100, outcome.Sent)
	for i, item := range out {
		assert.Equal(t, titles[i], item.Title)
		if i < 100 {
			assert.Equal(t, models.StringList{"news"}, item.Categories)
		} else {
			assert.NotNil(t, item.Categories)
			assert.Empty(t, item.Categories)
		}
	}
}

func TestClassifyFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		collab *fakeCollaborator
		kind   Kind
	}{
		{"unavailable", &fakeCollaborator{err: errors.New("connection refused")}, KindUnavailable},
		{"malformed", &fakeCollaborator{err: &ClassificationError{Kind: KindMalformed, Err: errors.New("bad json")}}, KindMalformed},
		{"empty", &fakeCollaborator{}, KindEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, outcome := NewAdapter(tt.collab, 100, time.Second).Classify(context.Background(), rawItems("A", "B"), nil, nil)

			require.Len(t, out, 2)
			for _, item := range out {
				assert.NotNil(t, item.Categories)
				assert.Empty(t, item.Categories)
				assert.Empty(t, item.Event)
			}
			assert.Equal(t, StatusFallback, outcome.Status)
			require.NotNil(t, outcome.Err)
			assert.Equal(t, tt.kind, outcome.Err.Kind)
		})
	}
}

func TestClassifyEmptyInputSkipsCollaborator(t *testing.T) {
	collab := &fakeCollaborator{}

	out, outcome := NewAdapter(collab, 100, time.Second).Classify(context.Background(), nil, nil, nil)

	assert.Empty(t, out)
	assert.Equal(t, StatusSkipped, outcome.Status)
	assert.Zero(t, collab.calls)
}

func TestClassifyDisabled(t *testing.T) {
	out, outcome := NewAdapter(nil, 100, time.Second).Classify(context.Background(), rawItems("A"), nil, nil)

	require.Len(t, out, 1)
	assert.Equal(t, models.StringList{}, out[0].Categories)
	assert.Equal(t, StatusDisabled, outcome.Status)
}

func TestClassifyIgnoresRunCancellation(t *testing.T) {
	collab := &fakeCollaborator{answer: []Classification{{Title: "A", Categories: []string{"x"}}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, outcome := NewAdapter(collab, 100, time.Second).Classify(ctx, rawItems("A"), []string{"x"}, []string{"e"})

	assert.NoError(t, collab.ctxErr)
	assert.Equal(t, []string{"x"}, collab.last.ExistingCategories)
	assert.Equal(t, []string{"e"}, collab.last.ExistingEvents)
	assert.Equal(t, models.StringList{"x"}, out[0].Categories)
	assert.Equal(t, StatusClassified, outcome.Status)
}

func TestLoadPrompt(t *testing.T) {
	p, err := LoadPrompt("")
	require.NoError(t, err)
	assert.Equal(t, "record_classifications", p.ToolName)
	assert.NotEmpty(t, p.System)
	assert.Positive(t, p.MaxTokens)

	path := t.TempDir() + "/prompt.yaml"
	require.NoError(t, writeFile(path, "model: custom-model\n"))
	p, err = LoadPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-model", p.Model)
	assert.Equal(t, "record_classifications", p.ToolName)

	require.NoError(t, writeFile(path, "system: ''\n"))
	_, err = LoadPrompt(path)
	assert.Error(t, err)

	_, err = LoadPrompt(t.TempDir() + "/missing.yaml")
	assert.Error(t, err)
}

func TestSystemText(t *testing.T) {
	p := Prompt{System: "Classify.\n"}

	assert.Equal(t, "Classify.\n\nExisting categories: none\nExisting events: none", p.SystemText(nil, nil))
	assert.Contains(t, p.SystemText([]string{"Tech", "Science"}, []string{"Launch"}),
		`Existing categories: "Tech", "Science"`+"\n"+`Existing events: "Launch"`)
}
