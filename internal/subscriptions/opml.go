// Package subscriptions turns an OPML subscription list into feed descriptors.
package subscriptions

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"reddot-watch/newsfeed/internal/models"
)

// ParseError reports a subscription list that cannot be read as OPML.
// It is fatal for an ingestion run.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("parse subscription list: %v", e.Err)
	}
	return fmt.Sprintf("parse subscription list %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type opmlDocument struct {
	XMLName xml.Name  `xml:"opml"`
	Body    *opmlBody `xml:"body"`
}

type opmlBody struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Type     string    `xml:"type,attr"`
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr"`
	XMLURL   string    `xml:"xmlUrl,attr"`
	HTMLURL  string    `xml:"htmlUrl,attr"`
	Outlines []outline `xml:"outline"`
}

// Parse reads an OPML document and returns its RSS feeds in document order.
// Each top-level outline is a group; a top-level outline that is itself a feed
// counts as a group holding just that feed.
func Parse(r io.Reader) ([]models.FeedDescriptor, error) {
	var doc opmlDocument
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Err: err}
	}
	if doc.Body == nil {
		return nil, &ParseError{Err: errors.New("missing <body> element")}
	}

	var feeds []models.FeedDescriptor
	for _, group := range doc.Body.Outlines {
		for _, o := range groupChildren(group) {
			if !strings.EqualFold(strings.TrimSpace(o.Type), "rss") {
				continue
			}
			feedURL := strings.TrimSpace(o.XMLURL)
			if feedURL == "" {
				continue
			}
			feeds = append(feeds, models.FeedDescriptor{
				Group:       label(group),
				SourceLabel: label(o),
				FeedURL:     feedURL,
			})
		}
	}

	log.Debug().Int("feeds", len(feeds)).Int("groups", len(doc.Body.Outlines)).Msg("Parsed subscription list")
	return feeds, nil
}

// groupChildren normalizes a group into the list of outlines it holds.
func groupChildren(group outline) []outline {
	if len(group.Outlines) == 0 && group.XMLURL != "" {
		return []outline{group}
	}
	return group.Outlines
}

func label(o outline) string {
	if s := strings.TrimSpace(o.Text); s != "" {
		return s
	}
	if s := strings.TrimSpace(o.Title); s != "" {
		return s
	}
	if u, err := url.Parse(o.XMLURL); err == nil && u.Host != "" {
		return u.Host
	}
	return o.XMLURL
}

// charsetReader accepts the spellings of UTF-8 and ASCII that exporters put in the prolog.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return input, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", charset)
}
