package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsfeed/internal/models"
	"reddot-watch/newsfeed/internal/store"
)

const newsColumns = "id, source_label, title, published_at, link_html, link_xml, summary, categories, event, created_at, expires_at"

const insertNewsSQL = `INSERT INTO news
	(source_label, title, published_at, link_html, link_xml, summary, categories, event, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(link_html) DO NOTHING`

// ExistingLinks returns the subset of links already present in the news table.
func (db *DB) ExistingLinks(ctx context.Context, links []string) (map[string]struct{}, error) {
	found := make(map[string]struct{}, len(links))
	for start := 0; start < len(links); start += maxLinksPerQuery {
		end := min(start+maxLinksPerQuery, len(links))

		query, args, err := sq.Select("link_html").
			From("news").
			Where(sq.Eq{"link_html": links[start:end]}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("failed to build link lookup: %w", err)
		}

		var chunk []string
		if err := db.SelectContext(ctx, &chunk, query, args...); err != nil {
			return nil, store.Unavailable("existing links", err)
		}
		for _, link := range chunk {
			found[link] = struct{}{}
		}
	}
	return found, nil
}

// InsertPosts inserts posts inside one transaction. A post whose link is
// already stored is skipped and reported as a conflict; the rest are kept.
func (db *DB) InsertPosts(ctx context.Context, posts []models.Post) (store.InsertResult, error) {
	var result store.InsertResult
	if len(posts) == 0 {
		return result, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return result, store.Unavailable("begin insert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, insertNewsSQL)
	if err != nil {
		return result, store.Unavailable("prepare insert", err)
	}
	defer stmt.Close()

	for _, p := range posts {
		if p.Categories == nil {
			p.Categories = models.StringList{}
		}
		res, err := stmt.ExecContext(ctx,
			p.SourceLabel, p.Title, p.PublishedAt.UTC(), p.HTMLLink, p.FeedURL,
			p.Summary, p.Categories, p.Event, p.CreatedAt.UTC(), p.ExpiresAt.UTC())
		if err != nil {
			return store.InsertResult{}, store.Unavailable("insert", fmt.Errorf("link %s: %w", p.HTMLLink, err))
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return store.InsertResult{}, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			log.Debug().Str("link", p.HTMLLink).Msg("Skipping post already stored")
			result.Conflicts = append(result.Conflicts, p.HTMLLink)
			continue
		}

		id, err := res.LastInsertId()
		if err != nil {
			return store.InsertResult{}, fmt.Errorf("failed to read inserted id: %w", err)
		}
		p.ID = strconv.FormatInt(id, 10)
		result.Inserted = append(result.Inserted, p)
	}

	if err := tx.Commit(); err != nil {
		return store.InsertResult{}, store.Unavailable("commit insert", err)
	}
	return result, nil
}

// AllPosts returns every post with a title and link, most recent first.
func (db *DB) AllPosts(ctx context.Context) ([]models.Post, error) {
	query := `SELECT ` + newsColumns + ` FROM news
		WHERE title <> '' AND link_html <> ''
		ORDER BY published_at DESC, id DESC`

	posts := []models.Post{}
	if err := db.SelectContext(ctx, &posts, query); err != nil {
		return nil, store.Unavailable("all posts", err)
	}
	return posts, nil
}

// ListPosts returns one page of posts matching q.
func (db *DB) ListPosts(ctx context.Context, q store.PostQuery) ([]models.Post, error) {
	builder := sq.Select(newsColumns).
		From("news").
		Where("title <> '' AND link_html <> ''").
		OrderBy("published_at DESC", "id DESC")

	if q.Category != "" {
		builder = builder.Where(sq.Expr(
			"EXISTS (SELECT 1 FROM json_each(news.categories) WHERE json_each.value = ?)", q.Category))
	}
	if q.Event != "" {
		builder = builder.Where(sq.Eq{"event": q.Event})
	}
	if q.After != nil {
		id, err := strconv.ParseInt(q.After.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor id %q: %w", q.After.ID, err)
		}
		ts := q.After.PublishedAt.UTC()
		builder = builder.Where(sq.Or{
			sq.Lt{"published_at": ts},
			sq.And{sq.Eq{"published_at": ts}, sq.Lt{"id": id}},
		})
	}
	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build posts query: %w", err)
	}

	posts := []models.Post{}
	if err := db.SelectContext(ctx, &posts, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return posts, nil
		}
		return nil, store.Unavailable("list posts", err)
	}
	return posts, nil
}

// Categories returns the distinct categories used by stored posts.
func (db *DB) Categories(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT j.value FROM news, json_each(news.categories) AS j
		WHERE j.value <> '' ORDER BY j.value`

	categories := []string{}
	if err := db.SelectContext(ctx, &categories, query); err != nil {
		return nil, store.Unavailable("categories", err)
	}
	return categories, nil
}

// Events returns the distinct non-empty events used by stored posts.
func (db *DB) Events(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT event FROM news WHERE event <> '' ORDER BY event`

	events := []string{}
	if err := db.SelectContext(ctx, &events, query); err != nil {
		return nil, store.Unavailable("events", err)
	}
	return events, nil
}

// PurgeExpired deletes posts whose expiry has passed.
func (db *DB) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM news WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, store.Unavailable("purge", err)
	}
	return res.RowsAffected()
}
