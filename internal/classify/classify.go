// Package classify assigns categories and an optional event to new items by
// asking an external collaborator, and degrades to empty categories when it
// cannot.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsfeed/internal/models"
)

const (
	DefaultCeiling = 100
	DefaultTimeout = 90 * time.Second
)

// Candidate is what the collaborator sees of an item. Title is the join key.
type Candidate struct {
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Request is one classification call.
type Request struct {
	Items              []Candidate
	ExistingCategories []string
	ExistingEvents     []string
}

// Classification is one entry of the collaborator's answer.
type Classification struct {
	Title      string   `json:"title"`
	Event      string   `json:"event,omitempty"`
	Categories []string `json:"categories"`
}

// Collaborator is the external classification service.
type Collaborator interface {
	Classify(ctx context.Context, req Request) ([]Classification, error)
}

// Kind tells why classification fell back.
type Kind string

const (
	KindUnavailable Kind = "unavailable"
	KindMalformed   Kind = "malformed"
	KindEmpty       Kind = "empty"
)

// ClassificationError is never fatal: every candidate gets empty categories.
type ClassificationError struct {
	Kind Kind
	Err  error
}

func (e *ClassificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("classification %s", e.Kind)
	}
	return fmt.Sprintf("classification %s: %v", e.Kind, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// Status values reported in Outcome.
const (
	StatusClassified = "classified"
	StatusFallback   = "fallback"
	StatusDisabled   = "disabled"
	StatusSkipped    = "skipped"
)

// Outcome summarizes one Classify call.
type Outcome struct {
	Status  string
	Sent    int // items sent to the collaborator
	Matched int // items that received a classification
	Err     *ClassificationError
}

// Adapter bounds what is sent to the collaborator and merges the answer back.
type Adapter struct {
	collaborator Collaborator
	Ceiling      int
	Timeout      time.Duration
}

// NewAdapter returns an adapter. A nil collaborator disables classification.
func NewAdapter(c Collaborator, ceiling int, timeout time.Duration) *Adapter {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{collaborator: c, Ceiling: ceiling, Timeout: timeout}
}

// Classify returns one ClassifiedItem per input item, in input order. Only
// the first Ceiling items are sent; the tail passes through with empty
// categories.
func (a *Adapter) Classify(ctx context.Context, items []models.RawItem, categories, events []string) ([]models.ClassifiedItem, Outcome) {
	out := make([]models.ClassifiedItem, len(items))
	for i, item := range items {
		out[i] = models.ClassifiedItem{RawItem: item, Categories: models.StringList{}}
	}

	if len(items) == 0 {
		return out, Outcome{Status: StatusSkipped}
	}
	if a.collaborator == nil {
		return out, Outcome{Status: StatusDisabled}
	}

	candidates := items[:min(len(items), a.Ceiling)]
	req := Request{
		Items:              make([]Candidate, len(candidates)),
		ExistingCategories: categories,
		ExistingEvents:     events,
	}
	for i, item := range candidates {
		req.Items[i] = Candidate{Title: item.Title, PublishedAt: item.PublishedAt}
	}
	outcome := Outcome{Status: StatusFallback, Sent: len(candidates)}

	// The call keeps its own deadline even if the run is cancelled.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Timeout)
	defer cancel()

	started := time.Now()
	answer, err := a.collaborator.Classify(callCtx, req)
	if err == nil && len(answer) == 0 {
		err = &ClassificationError{Kind: KindEmpty}
	}
	if err != nil {
		outcome.Err = asClassificationError(err)
		log.Warn().Err(outcome.Err).Int("items", len(candidates)).Msg("Classification failed, using empty categories")
		return out, outcome
	}

	byTitle := make(map[string]Classification, len(answer))
	for _, c := range answer {
		if _, seen := byTitle[c.Title]; !seen {
			byTitle[c.Title] = c
		}
	}

	for i := range candidates {
		c, ok := byTitle[out[i].Title]
		if !ok {
			continue
		}
		out[i].Categories = cleanCategories(c.Categories)
		out[i].Event = strings.TrimSpace(c.Event)
		outcome.Matched++
	}

	outcome.Status = StatusClassified
	log.Info().
		Int("sent", outcome.Sent).
		Int("matched", outcome.Matched).
		Int("passed_through", len(items)-len(candidates)).
		Dur("took", time.Since(started)).
		Msg("Classified items")
	return out, outcome
}

func asClassificationError(err error) *ClassificationError {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce
	}
	return &ClassificationError{Kind: KindUnavailable, Err: err}
}

func cleanCategories(in []string) models.StringList {
	out := make(models.StringList, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
