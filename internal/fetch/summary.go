package fetch

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// CleanSummary reduces an HTML fragment to collapsed plain text of at most
// limit runes. Text that does not parse as HTML is used as is.
func CleanSummary(fragment string, limit int) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}

	text := fragment
	if strings.ContainsAny(fragment, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
		if err == nil {
			doc.Find("script, style, iframe, noscript").Remove()
			text = doc.Text()
		}
	}

	return truncate(strings.Join(strings.Fields(text), " "), limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
