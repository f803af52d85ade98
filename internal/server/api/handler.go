package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/newsfeed/internal/models"
	"reddot-watch/newsfeed/internal/server/pagination"
	"reddot-watch/newsfeed/internal/store"
)

const defaultLimit = 100
const maxLimit = 1000

// UnavailableMessage is the only failure detail clients ever see.
const UnavailableMessage = "feed unavailable, check logs"

// Response structure for the posts endpoint
type Response struct {
	Items      []models.Post `json:"items"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

// PostsHandler serves stored posts and the vocabulary used to filter them.
type PostsHandler struct {
	reader store.Reader
}

// NewPostsHandler creates a new handler instance.
func NewPostsHandler(reader store.Reader) *PostsHandler {
	return &PostsHandler{
		reader: reader,
	}
}

// GetPosts returns one page of posts, most recent first.
func (h *PostsHandler) GetPosts(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing posts request")

	query := r.URL.Query()
	limitStr := query.Get("limit")
	cursorStr := query.Get("cursor")

	limit := defaultLimit
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsedLimit
	}

	q := store.PostQuery{
		Limit:    limit + 1, // Fetch one extra
		Category: query.Get("category"),
		Event:    query.Get("event"),
	}

	if cursorStr != "" {
		ts, id, err := pagination.DecodeCursor(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
			return
		}
		q.After = &store.Cursor{PublishedAt: ts, ID: id}
	}

	items, err := h.reader.ListPosts(r.Context(), q)
	if err != nil {
		log.Error().Err(err).Str("cursor", cursorStr).Msg("Error fetching posts from store")
		unavailable(w)
		return
	}

	var nextCursorStr *string
	if len(items) > limit {
		items = items[:limit]
		lastItem := items[len(items)-1]
		cursor := pagination.EncodeCursor(lastItem.PublishedAt, lastItem.ID)
		nextCursorStr = &cursor
	}

	writeJSON(w, log, Response{Items: items, NextCursor: nextCursorStr})
}

// GetAllPosts returns every complete post.
func (h *PostsHandler) GetAllPosts(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	posts, err := h.reader.AllPosts(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Error fetching all posts from store")
		unavailable(w)
		return
	}

	complete := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if store.Complete(p) {
			complete = append(complete, p)
		}
	}
	if skipped := len(posts) - len(complete); skipped > 0 {
		log.Debug().Int("skipped", skipped).Msg("Skipped incomplete posts")
	}

	writeJSON(w, log, complete)
}

// GetCategories returns the distinct categories in use.
func (h *PostsHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	categories, err := h.reader.Categories(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Error fetching categories from store")
		unavailable(w)
		return
	}
	writeJSON(w, log, nonNil(categories))
}

// GetEvents returns the distinct events in use.
func (h *PostsHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	events, err := h.reader.Events(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Error fetching events from store")
		unavailable(w)
		return
	}
	writeJSON(w, log, nonNil(events))
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func unavailable(w http.ResponseWriter) {
	http.Error(w, UnavailableMessage, http.StatusServiceUnavailable)
}

func writeJSON(w http.ResponseWriter, log *zerolog.Logger, v any) {
	writeJSONStatus(w, log, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, log *zerolog.Logger, status int, v any) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, writeErr := w.Write(jsonBytes); writeErr != nil {
		log.Error().Err(writeErr).Msg("Error writing JSON response body to client")
		return
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}
